package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"element-hunter/internal/config"
	"element-hunter/internal/detect"
	"element-hunter/internal/dom"
	"element-hunter/internal/entity"
	"element-hunter/internal/ports"
	"element-hunter/internal/quality"
	"element-hunter/pkg/apperr"
	"element-hunter/pkg/logg"
	"element-hunter/pkg/tracing"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	elementServiceName = "ElementService"
	elementTracer      = "usecase.elements"
)

// ElementService runs the detection pipeline against live pages. Every call
// opens its own page and closes it before returning.
type ElementService struct {
	config     *config.Config
	logger     *zap.Logger
	browser    ports.BrowserManager
	classifier *detect.Classifier
	enhancer   *detect.Enhancer
	assembler  *detect.Assembler
	scorer     *quality.Scorer
	validator  *quality.Validator
	tracer     trace.Tracer
}

type ElementServiceParams struct {
	fx.In

	Config     *config.Config
	Logger     *zap.Logger
	Browser    ports.BrowserManager
	Classifier *detect.Classifier
	Enhancer   *detect.Enhancer
	Assembler  *detect.Assembler
	Scorer     *quality.Scorer
	Validator  *quality.Validator
}

func NewElementService(params ElementServiceParams) *ElementService {
	return &ElementService{
		config:     params.Config,
		logger:     params.Logger.With(zap.String(logg.Layer, elementServiceName)),
		browser:    params.Browser,
		classifier: params.Classifier,
		enhancer:   params.Enhancer,
		assembler:  params.Assembler,
		scorer:     params.Scorer,
		validator:  params.Validator,
		tracer:     otel.Tracer(elementTracer),
	}
}

// AnalyzePage extracts the testable elements of one URL. Page-level failures
// are reported in the analysis; only bad input and an unready browser are
// returned as errors.
func (s *ElementService) AnalyzePage(ctx context.Context, rawURL string) (res *entity.PageAnalysis, err error) {
	const op = "AnalyzePage"
	logger := s.logger.With(zap.String(logg.Operation, op), zap.String(logg.URL, rawURL))

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op, attribute.String("url", rawURL))
	defer func() {
		step.End(err)
	}()

	if err := checkURL(op, rawURL); err != nil {
		return nil, err
	}

	if !s.browser.IsReady() {
		return nil, apperr.WrapErrorWithReason(op, apperr.CodeBrowserNotReady, "browser_not_ready")
	}

	analysis := newAnalysis(rawURL)
	logger = logger.With(zap.String(logg.RunID, analysis.ID.String()))

	defer func() {
		analysis.Duration = time.Since(analysis.StartedAt)
	}()

	page, err := s.browser.OpenPage(ctx)
	if err != nil {
		s.fail(logger, analysis, err)

		return analysis, nil
	}
	defer s.closePage(logger, page)

	step.AddEvent("navigating")

	if err := page.Navigate(ctx, rawURL); err != nil {
		s.fail(logger, analysis, err)

		return analysis, nil
	}

	step.AddEvent("extracting")

	if err := s.inspect(ctx, page, analysis, rawURL); err != nil {
		s.fail(logger, analysis, err)

		return analysis, nil
	}

	step.Count("elements", len(analysis.Elements))
	logger.Info("Page analysed", zap.Int(logg.Count, len(analysis.Elements)), zap.String("title", analysis.Title))

	return analysis, nil
}

// AnalyzePages runs AnalyzePage over urls in batches of
// BrowserConfig.Concurrency. The result is in input order.
func (s *ElementService) AnalyzePages(ctx context.Context, urls []string) (res []*entity.PageAnalysis, err error) {
	const op = "AnalyzePages"
	logger := s.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op, attribute.Int("urls", len(urls)))
	defer func() {
		step.End(err)
	}()

	if len(urls) == 0 {
		return nil, apperr.InvalidReqError(op, "urls", errors.New("at least one url is required"))
	}

	if !s.browser.IsReady() {
		return nil, apperr.WrapErrorWithReason(op, apperr.CodeBrowserNotReady, "browser_not_ready")
	}

	res = make([]*entity.PageAnalysis, len(urls))

	for n, batch := range lo.Chunk(lo.Range(len(urls)), max(s.config.BrowserConfig.Concurrency, 1)) {
		step.AddEvent("batch", attribute.Int("batch", n), attribute.Int("size", len(batch)))

		var g errgroup.Group

		for _, i := range batch {
			g.Go(func() error {
				a, err := s.AnalyzePage(ctx, urls[i])
				if err != nil {
					a = newAnalysis(urls[i])
					a.Fail(err)
				}

				res[i] = a

				return nil
			})
		}

		_ = g.Wait()
	}

	ok := lo.CountBy(res, func(a *entity.PageAnalysis) bool { return a.Success })
	logger.Info("Pages analysed", zap.Int("total", len(res)), zap.Int("succeeded", ok))

	return res, nil
}

// ValidateSelector counts and scores a selector on one page. A navigation
// failure is carried in the result.
func (s *ElementService) ValidateSelector(ctx context.Context, rawURL, sel string) (res *entity.SelectorValidationResult, err error) {
	const op = "ValidateSelector"
	logger := s.logger.With(zap.String(logg.Operation, op), zap.String(logg.URL, rawURL), zap.String(logg.Selector, sel))

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op,
		attribute.String("url", rawURL),
		attribute.String("selector", sel))
	defer func() {
		step.End(err)
	}()

	if err := checkURL(op, rawURL); err != nil {
		return nil, err
	}

	if sel == "" {
		return nil, apperr.InvalidReqError(op, "selector", errors.New("selector cannot be empty"))
	}

	if !s.browser.IsReady() {
		return nil, apperr.WrapErrorWithReason(op, apperr.CodeBrowserNotReady, "browser_not_ready")
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.BrowserConfig.NavigationTimeout()+s.config.BrowserConfig.StepDuration())
	defer cancel()

	page, err := s.browser.OpenPage(ctx)
	if err != nil {
		return unreachable(logger, rawURL, sel, err), nil
	}
	defer s.closePage(logger, page)

	if err := page.Navigate(ctx, rawURL); err != nil {
		return unreachable(logger, rawURL, sel, err), nil
	}

	return s.scorer.Evaluate(ctx, page, sel)
}

// ValidateSelectorAcrossPages scores sel on the first URL and attaches the
// consistency check over all of them. A selector that is not unique on every
// valid page has its uniqueness halved.
func (s *ElementService) ValidateSelectorAcrossPages(ctx context.Context, urls []string, sel string) (res *entity.SelectorValidationResult, err error) {
	const op = "ValidateSelectorAcrossPages"
	logger := s.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, sel))

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op,
		attribute.String("selector", sel),
		attribute.Int("urls", len(urls)))
	defer func() {
		step.End(err)
	}()

	if len(urls) == 0 {
		return nil, apperr.InvalidReqError(op, "urls", errors.New("at least one url is required"))
	}

	for _, u := range urls {
		if err := checkURL(op, u); err != nil {
			return nil, err
		}
	}

	res, err = s.ValidateSelector(ctx, urls[0], sel)
	if err != nil {
		return nil, err
	}

	step.AddEvent("cross-page")

	cross, err := s.validator.Validate(ctx, sel, urls)
	if err != nil {
		return nil, err
	}

	res.CrossPageValidation = cross

	if !cross.UniqueOnAllPages {
		res.QualityMetrics = s.scorer.PenalizeInconsistency(res.QualityMetrics)

		if len(cross.InconsistentPages) > 0 {
			res.Suggestions = append(res.Suggestions, fmt.Sprintf(
				"Selector is not unique on %d of %d pages; scope it under a container that exists on every page",
				len(cross.InconsistentPages), cross.ValidUrls))
		}
	}

	logger.Info("Selector validated across pages",
		zap.Bool("unique_on_all", cross.UniqueOnAllPages),
		zap.Float64("overall", res.QualityMetrics.Overall))

	return res, nil
}

// inspect runs the post-navigation checks and the extraction pipeline on the
// page's current state. requested is the URL the caller asked for last.
func (s *ElementService) inspect(ctx context.Context, page ports.Page, a *entity.PageAnalysis, requested string) error {
	const op = "inspect"

	a.FinalURL = page.URL()

	if apperr.LooksLikeLoginRedirect(requested, a.FinalURL) {
		return apperr.WithCategory(op, apperr.CategoryAuthentication,
			fmt.Errorf("redirected to %s", a.FinalURL), map[string]any{
				apperr.MetaReason: "login_redirect",
				apperr.MetaStage:  apperr.StageNavigation,
				apperr.MetaURL:    a.FinalURL,
			})
	}

	title, text, err := page.Overview(ctx)
	if err != nil {
		return err
	}

	a.Title = title

	if apperr.HasBotMarkers(title, text) {
		return apperr.WithCategory(op, apperr.CategoryBotDetection,
			errors.New("page served a bot challenge"), map[string]any{
				apperr.MetaReason: "bot_challenge",
				apperr.MetaStage:  apperr.StageNavigation,
				apperr.MetaURL:    a.FinalURL,
			})
	}

	col, err := page.Collect(ctx)
	if err != nil {
		return err
	}

	items := s.classifier.Classify(ctx, col)

	if s.config.DetectionConfig.UseAdvancedSelectors && len(items) > 0 {
		s.enhance(ctx, page, items)
	}

	a.Elements = s.assembler.Assemble(ctx, items)
	a.Success = true

	return nil
}

// enhance builds a snapshot of the serialized page, copies the collector's
// layout boxes into it and hands it to the enhancer. A page that cannot be
// serialized keeps its in-page selectors.
func (s *ElementService) enhance(ctx context.Context, page ports.Page, items []detect.Classified) {
	html, err := page.Content(ctx)
	if err != nil {
		s.logger.Debug("Page content unavailable, skipping enhancement", zap.Error(err))

		return
	}

	snap, err := dom.ParseHTML(html)
	if err != nil {
		s.logger.Debug("Snapshot parse failed, skipping enhancement", zap.Error(err))

		return
	}

	for _, item := range items {
		if el, ok := snap.Resolve(item.Raw.Path); ok {
			r := item.Raw.Rect
			snap.SetRect(el, dom.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height})
		}
	}

	s.enhancer.Enhance(ctx, snap, items)
}

func (s *ElementService) fail(logger *zap.Logger, a *entity.PageAnalysis, err error) {
	a.Fail(err)
	logger.Warn("Page analysis failed",
		zap.String(logg.Category, string(a.ErrorCategory)),
		zap.Error(err))
}

func (s *ElementService) closePage(logger *zap.Logger, page ports.Page) {
	if err := page.Close(); err != nil {
		logger.Debug("Failed to close page", zap.Error(err))
	}
}

func newAnalysis(rawURL string) *entity.PageAnalysis {
	return &entity.PageAnalysis{
		ID:        uuid.New(),
		URL:       rawURL,
		Elements:  []entity.DetectedElement{},
		StartedAt: time.Now(),
	}
}

func unreachable(logger *zap.Logger, rawURL, sel string, err error) *entity.SelectorValidationResult {
	f := apperr.Categorize(err, rawURL)
	logger.Warn("Page unreachable", zap.String(logg.Category, string(f.Category)), zap.Error(err))

	return &entity.SelectorValidationResult{
		Selector:    sel,
		URL:         rawURL,
		Suggestions: f.Suggestions,
		Error:       f.Message,
		Failure:     &f,
	}
}

func checkURL(op, raw string) error {
	if raw == "" {
		return apperr.InvalidReqError(op, "url", errors.New("url cannot be empty"))
	}

	u, err := url.Parse(raw)
	if err != nil {
		return apperr.InvalidReqError(op, "url", err)
	}

	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return apperr.InvalidReqError(op, "url", fmt.Errorf("url %q has no host", raw))
		}
	case "file", "about", "data":
	default:
		return apperr.InvalidReqError(op, "url", fmt.Errorf("unsupported url scheme %q", u.Scheme))
	}

	return nil
}

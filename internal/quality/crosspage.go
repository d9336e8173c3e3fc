package quality

import (
	"context"

	"element-hunter/internal/config"
	"element-hunter/internal/entity"
	"element-hunter/internal/ports"
	"element-hunter/pkg/apperr"
	"element-hunter/pkg/logg"
	"element-hunter/pkg/tracing"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	validatorName   = "CrossPageConsistencyValidator"
	validatorTracer = "quality.crosspage"
)

// Validator counts one selector on many URLs. URLs are checked in batches of
// BrowserConfig.Concurrency, each on its own page.
type Validator struct {
	browser ports.BrowserManager
	conf    *config.BrowserConfig
	logger  *zap.Logger
	tracer  trace.Tracer
}

type ValidatorParams struct {
	fx.In

	Browser ports.BrowserManager
	Config  *config.Config
	Logger  *zap.Logger
}

func NewValidator(params ValidatorParams) *Validator {
	return &Validator{
		browser: params.Browser,
		conf:    params.Config.BrowserConfig,
		logger:  params.Logger.With(zap.String(logg.Layer, validatorName)),
		tracer:  otel.Tracer(validatorTracer),
	}
}

// Validate counts sel on every URL. A URL that fails is recorded in the
// result and never aborts the others.
func (v *Validator) Validate(ctx context.Context, sel string, urls []string) (res *entity.CrossPageValidationResult, err error) {
	const op = "Validate"
	logger := v.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, sel))

	ctx, step := tracing.StartSpan(ctx, v.tracer, logger, op,
		attribute.String("selector", sel),
		attribute.Int("urls", len(urls)))
	defer func() {
		step.End(err)
	}()

	if sel == "" {
		return nil, apperr.WrapErrorWithReason(op, apperr.CodeInvalidArgument, "empty_selector")
	}

	if len(urls) == 0 {
		return nil, apperr.WrapErrorWithReason(op, apperr.CodeInvalidArgument, "no_urls")
	}

	if !v.browser.IsReady() {
		return nil, apperr.WrapErrorWithReason(op, apperr.CodeBrowserNotReady, "browser_not_ready")
	}

	checks := make([]entity.PageCheck, len(urls))
	indexes := lo.Range(len(urls))

	for n, batch := range lo.Chunk(indexes, max(v.conf.Concurrency, 1)) {
		step.AddEvent("batch", attribute.Int("batch", n), attribute.Int("size", len(batch)))

		var g errgroup.Group

		for _, i := range batch {
			g.Go(func() error {
				checks[i] = v.check(ctx, sel, urls[i])

				return nil
			})
		}

		_ = g.Wait()
	}

	agg := Aggregate(checks)

	step.Count("valid", agg.ValidUrls)
	logger.Info("Cross-page validation finished",
		zap.Int("total", agg.TotalUrls),
		zap.Int("valid", agg.ValidUrls),
		zap.Bool("unique_on_all", agg.UniqueOnAllPages),
	)

	return &agg, nil
}

// check owns its page for the whole check and closes it on every path.
func (v *Validator) check(ctx context.Context, sel, url string) entity.PageCheck {
	pc := entity.PageCheck{URL: url}
	logger := v.logger.With(zap.String(logg.URL, url))

	ctx, cancel := context.WithTimeout(ctx, v.conf.NavigationTimeout()+v.conf.StepDuration())
	defer cancel()

	fail := func(err error) entity.PageCheck {
		f := apperr.Categorize(err, url)
		logger.Warn("Page check failed", zap.String(logg.Category, string(f.Category)), zap.Error(err))
		pc.Error = string(f.Category) + ": " + f.Detail

		return pc
	}

	page, err := v.browser.OpenPage(ctx)
	if err != nil {
		return fail(err)
	}

	defer func() {
		if err := page.Close(); err != nil {
			logger.Debug("Failed to close page", zap.Error(err))
		}
	}()

	if err := page.Navigate(ctx, url); err != nil {
		return fail(err)
	}

	count, err := page.Count(ctx, sel)
	if err != nil {
		return fail(err)
	}

	pc.ElementCount = count
	pc.IsValid = count > 0
	pc.IsUnique = count == 1

	return pc
}

// Aggregate folds per-page checks. Only valid pages count towards uniqueness
// and the average; with no valid page nothing is unique.
func Aggregate(checks []entity.PageCheck) entity.CrossPageValidationResult {
	res := entity.CrossPageValidationResult{
		TotalUrls:         len(checks),
		InconsistentPages: []string{},
		ValidationErrors:  []string{},
		Pages:             checks,
	}

	total := 0
	unique := true

	for _, c := range checks {
		if c.Error != "" {
			res.ValidationErrors = append(res.ValidationErrors, c.URL+": "+c.Error)
		}

		if !c.IsValid {
			continue
		}

		res.ValidUrls++
		total += c.ElementCount

		if !c.IsUnique {
			unique = false
			res.InconsistentPages = append(res.InconsistentPages, c.URL)
		}
	}

	if res.ValidUrls > 0 {
		res.AverageMatchCount = float64(total) / float64(res.ValidUrls)
	}

	res.UniqueOnAllPages = unique && res.ValidUrls > 0

	return res
}

package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"element-hunter/internal/config"
	"element-hunter/internal/dom"
	"element-hunter/internal/entity"
	"element-hunter/internal/ports"
	"element-hunter/pkg/apperr"
	"element-hunter/pkg/logg"
	"element-hunter/pkg/tracing"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	rodTracer       = "browser.rod"
	snapshotPolling = 200 * time.Millisecond
)

var errNoMatch = errors.New("no element matches selector")

// RodManager is the CDP-direct driver. Rod has no engine for the :has-text,
// :text-is and ">>" selector extensions, so those are resolved against an
// HTML snapshot of the page and mapped back to a structural path.
type RodManager struct {
	config   *config.Config
	logger   *zap.Logger
	tracer   trace.Tracer
	launcher *launcher.Launcher
	browser  *rod.Browser
	ready    bool
}

func NewRodManager(params Params) *RodManager {
	return &RodManager{
		config: params.Config,
		logger: params.Logger.With(zap.String(logg.Layer, browserManagerName), zap.String(logg.Driver, config.DriverRod)),
		tracer: otel.Tracer(rodTracer),
	}
}

func (m *RodManager) Launch(ctx context.Context) (err error) {
	const op = "Launch"
	logger := m.logger.With(zap.String(logg.Operation, op))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op, attribute.Bool("headless", m.config.BrowserConfig.Headless))
	defer func() {
		step.End(err)
	}()

	if m.ready {
		return nil
	}

	logger.Info("Launching browser...")

	l := launcher.New().Headless(m.config.BrowserConfig.Headless)
	if path, ok := launcher.LookPath(); ok {
		l = l.Bin(path)
	}

	u, err := l.Launch()
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "browser_launch_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}
	m.launcher = l

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()

		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "browser_connect_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	if m.config.BrowserConfig.IgnoreHTTPS {
		if err := b.IgnoreCertErrors(true); err != nil {
			logger.Warn("Failed to ignore certificate errors", zap.Error(err))
		}
	}

	m.browser = b
	m.ready = true
	logger.Info("Browser launched successfully")

	return nil
}

func (m *RodManager) Close(ctx context.Context) (err error) {
	const op = "Close"
	logger := m.logger.With(zap.String(logg.Operation, op))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	m.ready = false

	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			logger.Warn("Failed to close browser", zap.Error(err))
		}
	}

	if m.launcher != nil {
		m.launcher.Kill()
	}

	logger.Info("Browser closed")

	return nil
}

func (m *RodManager) IsReady() bool {
	return m.ready
}

// OpenPage opens a tab in a fresh incognito context.
func (m *RodManager) OpenPage(ctx context.Context) (p ports.Page, err error) {
	const op = "OpenPage"
	logger := m.logger.With(zap.String(logg.Operation, op))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	if !m.ready {
		return nil, apperr.WrapErrorWithReason(op, apperr.CodeBrowserNotReady, "browser_not_ready")
	}

	incognito, err := m.browser.Incognito()
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "context_create_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = incognito.Close()

		return nil, apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "page_create_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	bc := m.config.BrowserConfig

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             bc.ViewportWidth,
		Height:            bc.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		logger.Warn("Failed to set viewport", zap.Error(err))
	}

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: bc.UserAgent}); err != nil {
		logger.Warn("Failed to set user agent", zap.Error(err))
	}

	return &RodPage{
		config:  m.config,
		logger:  m.logger,
		tracer:  m.tracer,
		browser: incognito,
		page:    page,
	}, nil
}

type RodPage struct {
	config  *config.Config
	logger  *zap.Logger
	tracer  trace.Tracer
	browser *rod.Browser
	page    *rod.Page
}

// bound attaches ctx to the page, adding the step timeout when ctx has no
// deadline of its own.
func (p *RodPage) bound(ctx context.Context, d time.Duration) (*rod.Page, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return p.page.Context(ctx), func() {}
	}

	ctx, cancel := context.WithTimeout(ctx, d)

	return p.page.Context(ctx), cancel
}

func (p *RodPage) Navigate(ctx context.Context, url string) (err error) {
	const op = "Navigate"
	logger := p.logger.With(zap.String(logg.Operation, op), zap.String(logg.URL, url))

	ctx, step := tracing.StartSpan(ctx, p.tracer, logger, op, attribute.String("url", url))
	defer func() {
		step.End(err)
	}()

	bc := p.config.BrowserConfig

	page, cancel := p.bound(ctx, bc.NavigationTimeout())
	defer cancel()

	wait := page.WaitNavigation(lifecycleEvent(bc.WaitUntil))

	if err := page.Navigate(url); err != nil {
		return apperr.Wrap(op, apperr.CodeNavigation, err, map[string]any{
			apperr.MetaReason: "goto_failed",
			apperr.MetaStage:  apperr.StageNavigation,
			apperr.MetaURL:    url,
		})
	}

	wait()

	if err := page.GetContext().Err(); err != nil {
		return apperr.Wrap(op, apperr.CodeTimeout, err, map[string]any{
			apperr.MetaReason: "navigation_timeout",
			apperr.MetaStage:  apperr.StageNavigation,
			apperr.MetaURL:    url,
		})
	}

	if err := sleep(ctx, bc.Settle()); err != nil {
		return apperr.Wrap(op, apperr.CodeTimeout, err, map[string]any{
			apperr.MetaReason: "settle_interrupted",
			apperr.MetaStage:  apperr.StageNavigation,
			apperr.MetaURL:    url,
		})
	}

	return nil
}

func (p *RodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}

	return info.URL
}

func (p *RodPage) eval(ctx context.Context, js string, args ...interface{}) (interface{}, error) {
	page, cancel := p.bound(ctx, p.config.BrowserConfig.StepDuration())
	defer cancel()

	res, err := page.Eval(js, args...)
	if err != nil {
		return nil, err
	}

	return res.Value.Val(), nil
}

func (p *RodPage) Overview(ctx context.Context) (string, string, error) {
	const op = "Overview"

	result, err := p.eval(ctx, overviewScript())
	if err != nil {
		return "", "", apperr.WithCategory(op, apperr.CategoryJavaScript, err, map[string]any{
			apperr.MetaReason: "overview_failed",
			apperr.MetaStage:  apperr.StageExtraction,
		})
	}

	m, ok := result.(map[string]interface{})
	if !ok {
		return "", "", apperr.WrapErrorWithReason(op, apperr.CodeScriptFailed, "unexpected_result_type")
	}

	return getString(m, "title"), getString(m, "text"), nil
}

func (p *RodPage) Collect(ctx context.Context) (col *entity.Collection, err error) {
	const op = "Collect"
	logger := p.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, p.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	result, err := p.eval(ctx, collectorScript(), collectorOptions(p.config.DetectionConfig))
	if err != nil {
		return nil, apperr.WithCategory(op, apperr.CategoryJavaScript, err, map[string]any{
			apperr.MetaReason: "collector_failed",
			apperr.MetaStage:  apperr.StageExtraction,
		})
	}

	col, err = decodeCollection(result)
	if err != nil {
		return nil, apperr.WithCategory(op, apperr.CategoryJavaScript, err, map[string]any{
			apperr.MetaReason: "collector_result_invalid",
			apperr.MetaStage:  apperr.StageExtraction,
		})
	}

	step.Count("collected", len(col.Elements))

	return col, nil
}

func (p *RodPage) Content(ctx context.Context) (string, error) {
	const op = "Content"

	page, cancel := p.bound(ctx, p.config.BrowserConfig.StepDuration())
	defer cancel()

	html, err := page.HTML()
	if err != nil {
		return "", apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "content_failed",
			apperr.MetaStage:  apperr.StageExtraction,
		})
	}

	return html, nil
}

// Document is a detached snapshot: rod handles are too chatty for the
// per-candidate uniqueness checks of the strategy engine.
func (p *RodPage) Document(ctx context.Context) (dom.Document, error) {
	return p.snapshot(ctx)
}

func (p *RodPage) snapshot(ctx context.Context) (*dom.Snapshot, error) {
	html, err := p.Content(ctx)
	if err != nil {
		return nil, err
	}

	return dom.ParseHTML(html)
}

func (p *RodPage) Count(ctx context.Context, selector string) (int, error) {
	const op = "Count"

	n, err := p.count(ctx, selector)
	if err != nil {
		return 0, apperr.Wrap(op, apperr.CodeInvalidArgument, err, map[string]any{
			apperr.MetaReason:   "selector_rejected",
			apperr.MetaStage:    apperr.StageValidation,
			apperr.MetaSelector: selector,
		})
	}

	return n, nil
}

func (p *RodPage) count(ctx context.Context, selector string) (int, error) {
	if dom.HasDriverExtensions(selector) {
		snap, err := p.snapshot(ctx)
		if err != nil {
			return 0, err
		}

		if !dom.ChecksVisibility(selector) {
			return snap.Count(selector)
		}

		matches, err := snap.QueryAll(selector)
		if err != nil {
			return 0, err
		}

		return p.countVisible(ctx, matches)
	}

	page, cancel := p.bound(ctx, p.config.BrowserConfig.StepDuration())
	defer cancel()

	var (
		els rod.Elements
		err error
	)

	if dom.IsXPath(selector) {
		els, err = page.ElementsX(strings.TrimPrefix(strings.TrimSpace(selector), "xpath="))
	} else {
		els, err = page.Elements(selector)
	}

	return len(els), err
}

// countVisible counts the snapshot matches the browser actually renders.
// Stylesheet rules are invisible to the snapshot, so each match is looked up
// by path and asked directly. A match gone from the live page is skipped.
func (p *RodPage) countVisible(ctx context.Context, matches []dom.Element) (int, error) {
	page, cancel := p.bound(ctx, p.config.BrowserConfig.StepDuration())
	defer cancel()

	n := 0

	for _, m := range matches {
		els, err := page.Elements(dom.PathSelector(dom.PathOf(m)))
		if err != nil {
			return 0, err
		}

		if len(els) == 0 {
			continue
		}

		visible, err := els.First().Visible()
		if err != nil {
			return 0, err
		}

		if visible {
			n++
		}
	}

	return n, nil
}

// element waits for the first match of selector within the step timeout.
func (p *RodPage) element(ctx context.Context, selector string) (*rod.Element, error) {
	page, cancel := p.bound(ctx, p.config.BrowserConfig.StepDuration())
	defer cancel()

	switch {
	case dom.HasDriverExtensions(selector):
		path, err := p.waitPath(page.GetContext(), selector)
		if err != nil {
			return nil, err
		}

		el, err := page.Element(dom.PathSelector(path))
		if err != nil {
			return nil, err
		}

		return el.Context(ctx), nil
	case dom.IsXPath(selector):
		el, err := page.ElementX(strings.TrimPrefix(strings.TrimSpace(selector), "xpath="))
		if err != nil {
			return nil, err
		}

		return el.Context(ctx), nil
	}

	el, err := page.Element(selector)
	if err != nil {
		return nil, err
	}

	return el.Context(ctx), nil
}

// waitPath polls page snapshots until selector has a match and returns the
// structural path of the first one.
func (p *RodPage) waitPath(ctx context.Context, selector string) ([]int, error) {
	for {
		snap, err := p.snapshot(ctx)
		if err != nil {
			return nil, err
		}

		el, err := snap.First(selector)
		if err != nil {
			return nil, err
		}

		if el != nil {
			return dom.PathOf(el), nil
		}

		if err := sleep(ctx, snapshotPolling); err != nil {
			return nil, fmt.Errorf("%w: %s", errNoMatch, selector)
		}
	}
}

func (p *RodPage) interaction(op, reason, selector string, err error) error {
	return apperr.Wrap(op, apperr.CodeActionFailed, err, map[string]any{
		apperr.MetaReason:   reason,
		apperr.MetaStage:    apperr.StageInteraction,
		apperr.MetaSelector: selector,
	})
}

func (p *RodPage) Click(ctx context.Context, selector string) (err error) {
	const op = "Click"
	logger := p.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, selector))

	ctx, step := tracing.StartSpan(ctx, p.tracer, logger, op, attribute.String("selector", selector))
	defer func() {
		step.End(err)
	}()

	el, err := p.element(ctx, selector)
	if err != nil {
		return p.interaction(op, "element_not_found", selector, err)
	}

	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		logger.Warn("Click failed, dispatching DOM click", zap.Error(err))

		if _, jsErr := el.Eval(`function() { this.click(); }`); jsErr != nil {
			return p.interaction(op, "click_failed_all_strategies", selector, errors.Join(err, jsErr))
		}
	}

	return nil
}

func (p *RodPage) Fill(ctx context.Context, selector, value string) error {
	const op = "Fill"

	el, err := p.element(ctx, selector)
	if err != nil {
		return p.interaction(op, "element_not_found", selector, err)
	}

	if err := el.SelectAllText(); err != nil {
		return p.interaction(op, "fill_failed", selector, err)
	}

	if err := el.Input(value); err != nil {
		return p.interaction(op, "fill_failed", selector, err)
	}

	return nil
}

var rodKeys = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Escape":     input.Escape,
	"Backspace":  input.Backspace,
	"Delete":     input.Delete,
	"Space":      input.Space,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"Home":       input.Home,
	"End":        input.End,
	"PageUp":     input.PageUp,
	"PageDown":   input.PageDown,
}

func rodKey(name string) (input.Key, bool) {
	if k, ok := rodKeys[name]; ok {
		return k, true
	}

	if utf8.RuneCountInString(name) == 1 {
		r, _ := utf8.DecodeRuneInString(name)

		return input.Key(r), true
	}

	return 0, false
}

func (p *RodPage) Press(ctx context.Context, selector, key string) error {
	const op = "Press"

	k, ok := rodKey(key)
	if !ok {
		return apperr.InvalidReqError(op, "key", fmt.Errorf("unsupported key %q", key))
	}

	if selector == "" {
		page, cancel := p.bound(ctx, p.config.BrowserConfig.StepDuration())
		defer cancel()

		if err := page.Keyboard.Type(k); err != nil {
			return p.interaction(op, "press_failed", selector, err)
		}

		return nil
	}

	el, err := p.element(ctx, selector)
	if err != nil {
		return p.interaction(op, "element_not_found", selector, err)
	}

	if err := el.Type(k); err != nil {
		return p.interaction(op, "press_failed", selector, err)
	}

	return nil
}

func (p *RodPage) Select(ctx context.Context, selector, value string) error {
	const op = "Select"

	el, err := p.element(ctx, selector)
	if err != nil {
		return p.interaction(op, "element_not_found", selector, err)
	}

	byValue := `option[value="` + strings.ReplaceAll(value, `"`, `\"`) + `"]`

	if err := el.Select([]string{byValue}, true, rod.SelectorTypeCSSSector); err != nil {
		if textErr := el.Select([]string{value}, true, rod.SelectorTypeText); textErr != nil {
			return p.interaction(op, "select_failed", selector, errors.Join(err, textErr))
		}
	}

	return nil
}

func (p *RodPage) Hover(ctx context.Context, selector string) error {
	const op = "Hover"

	el, err := p.element(ctx, selector)
	if err != nil {
		return p.interaction(op, "element_not_found", selector, err)
	}

	if err := el.Hover(); err != nil {
		return p.interaction(op, "hover_failed", selector, err)
	}

	return nil
}

func (p *RodPage) WaitFor(ctx context.Context, selector string) error {
	const op = "WaitFor"

	el, err := p.element(ctx, selector)
	if err == nil {
		err = el.WaitVisible()
	}

	if err != nil {
		return apperr.Wrap(op, apperr.CodeTimeout, err, map[string]any{
			apperr.MetaReason:   "wait_selector_timeout",
			apperr.MetaStage:    apperr.StageInteraction,
			apperr.MetaSelector: selector,
		})
	}

	return nil
}

func (p *RodPage) Scroll(ctx context.Context, amount int) error {
	const op = "Scroll"

	if _, err := p.eval(ctx, scrollScript(), amount); err != nil {
		return apperr.Wrap(op, apperr.CodeActionFailed, err, map[string]any{
			apperr.MetaReason: "scroll_failed",
			apperr.MetaStage:  apperr.StageInteraction,
		})
	}

	return sleep(ctx, p.config.BrowserConfig.Settle())
}

// Close closes the tab and disposes of its incognito context.
func (p *RodPage) Close() error {
	if err := p.page.Close(); err != nil {
		p.logger.Debug("Failed to close page", zap.Error(err))
	}

	return p.browser.Close()
}

func lifecycleEvent(waitUntil string) proto.PageLifecycleEventName {
	switch waitUntil {
	case "load":
		return proto.PageLifecycleEventNameLoad
	case "networkidle":
		return proto.PageLifecycleEventNameNetworkIdle
	}

	return proto.PageLifecycleEventNameDOMContentLoaded
}

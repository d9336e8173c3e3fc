package browser

import (
	"context"
	"fmt"
	"strings"

	"element-hunter/internal/config"
	"element-hunter/internal/dom"
	"element-hunter/internal/entity"
	"element-hunter/pkg/apperr"
	"element-hunter/pkg/logg"
	"element-hunter/pkg/tracing"

	"github.com/playwright-community/playwright-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Page is a playwright tab inside its own browser context.
type Page struct {
	config  *config.Config
	logger  *zap.Logger
	tracer  trace.Tracer
	context playwright.BrowserContext
	page    playwright.Page
}

func (p *Page) Navigate(ctx context.Context, url string) (err error) {
	const op = "Navigate"
	logger := p.logger.With(zap.String(logg.Operation, op), zap.String(logg.URL, url))

	ctx, step := tracing.StartSpan(ctx, p.tracer, logger, op, attribute.String("url", url))
	defer func() {
		step.End(err)
	}()

	bc := p.config.BrowserConfig

	step.AddEvent("navigating to URL")

	_, err = p.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(stepTimeout(ctx, bc.NavigationTimeout())),
		WaitUntil: waitUntil(bc.WaitUntil),
	})
	if err != nil {
		return apperr.Wrap(op, apperr.CodeNavigation, err, map[string]any{
			apperr.MetaReason: "goto_failed",
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

	step.AddEvent("navigation completed")

	return nil
}

func (p *Page) URL() string {
	return p.page.URL()
}

func (p *Page) Overview(ctx context.Context) (title string, text string, err error) {
	const op = "Overview"

	result, err := p.page.Evaluate(overviewScript())
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

func (p *Page) Collect(ctx context.Context) (col *entity.Collection, err error) {
	const op = "Collect"
	logger := p.logger.With(zap.String(logg.Operation, op), zap.String(logg.URL, p.page.URL()))

	_, step := tracing.StartSpan(ctx, p.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	result, err := p.page.Evaluate(collectorScript(), collectorOptions(p.config.DetectionConfig))
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

func (p *Page) Content(ctx context.Context) (string, error) {
	const op = "Content"

	html, err := p.page.Content()
	if err != nil {
		return "", apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "content_failed",
			apperr.MetaStage:  apperr.StageExtraction,
		})
	}

	return html, nil
}

func (p *Page) Document(ctx context.Context) (dom.Document, error) {
	return &liveDocument{page: p.page}, nil
}

func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	const op = "Count"

	n, err := p.page.Locator(driverSelector(selector)).Count()
	if err != nil {
		return 0, apperr.Wrap(op, apperr.CodeInvalidArgument, err, map[string]any{
			apperr.MetaReason:   "selector_rejected",
			apperr.MetaStage:    apperr.StageValidation,
			apperr.MetaSelector: selector,
		})
	}

	return n, nil
}

// Click tries progressively blunter strategies until one succeeds.
func (p *Page) Click(ctx context.Context, selector string) (err error) {
	const op = "Click"
	logger := p.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, selector))

	ctx, step := tracing.StartSpan(ctx, p.tracer, logger, op, attribute.String("selector", selector))
	defer func() {
		step.End(err)
	}()

	loc := p.page.Locator(driverSelector(selector)).First()
	timeout := stepTimeout(ctx, p.config.BrowserConfig.StepDuration())

	strategies := []struct {
		name string
		fn   func() error
	}{
		{
			name: "click",
			fn: func() error {
				return loc.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(timeout)})
			},
		},
		{
			name: "force_click",
			fn: func() error {
				return loc.Click(playwright.LocatorClickOptions{
					Timeout: playwright.Float(timeout),
					Force:   playwright.Bool(true),
				})
			},
		},
		{
			name: "dispatch_click",
			fn: func() error {
				return loc.DispatchEvent("click", nil, playwright.LocatorDispatchEventOptions{Timeout: playwright.Float(timeout)})
			},
		},
	}

	var lastErr error

	for _, strategy := range strategies {
		step.AddEvent(fmt.Sprintf("trying strategy: %s", strategy.name))

		if lastErr = strategy.fn(); lastErr == nil {
			return nil
		}

		logger.Warn("Strategy failed", zap.String("strategy", strategy.name), zap.Error(lastErr))

		if ctx.Err() != nil {
			break
		}
	}

	return apperr.Wrap(op, apperr.CodeActionFailed, lastErr, map[string]any{
		apperr.MetaReason:   "click_failed_all_strategies",
		apperr.MetaStage:    apperr.StageInteraction,
		apperr.MetaSelector: selector,
	})
}

func (p *Page) Fill(ctx context.Context, selector, value string) (err error) {
	const op = "Fill"
	logger := p.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, selector))

	ctx, step := tracing.StartSpan(ctx, p.tracer, logger, op, attribute.String("selector", selector))
	defer func() {
		step.End(err)
	}()

	loc := p.page.Locator(driverSelector(selector)).First()

	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			logger.Info("Retrying fill", zap.Int("attempt", attempt))

			if err := sleep(ctx, retryDelay); err != nil {
				break
			}
		}

		lastErr = loc.Fill(value, playwright.LocatorFillOptions{
			Timeout: playwright.Float(stepTimeout(ctx, p.config.BrowserConfig.StepDuration())),
			Force:   playwright.Bool(attempt > 0),
		})
		if lastErr == nil {
			step.AddEvent("fill completed")

			return nil
		}
	}

	return apperr.Wrap(op, apperr.CodeActionFailed, lastErr, map[string]any{
		apperr.MetaReason:   "fill_failed_after_retries",
		apperr.MetaStage:    apperr.StageInteraction,
		apperr.MetaSelector: selector,
	})
}

func (p *Page) Press(ctx context.Context, selector, key string) (err error) {
	const op = "Press"

	timeout := playwright.Float(stepTimeout(ctx, p.config.BrowserConfig.StepDuration()))

	if selector == "" {
		err = p.page.Keyboard().Press(key)
	} else {
		err = p.page.Locator(driverSelector(selector)).First().Press(key, playwright.LocatorPressOptions{Timeout: timeout})
	}

	if err != nil {
		return apperr.Wrap(op, apperr.CodeActionFailed, err, map[string]any{
			apperr.MetaReason:   "press_failed",
			apperr.MetaStage:    apperr.StageInteraction,
			apperr.MetaSelector: selector,
		})
	}

	return nil
}

func (p *Page) Select(ctx context.Context, selector, value string) error {
	const op = "Select"

	_, err := p.page.Locator(driverSelector(selector)).First().SelectOption(
		playwright.SelectOptionValues{Values: &[]string{value}},
		playwright.LocatorSelectOptionOptions{Timeout: playwright.Float(stepTimeout(ctx, p.config.BrowserConfig.StepDuration()))},
	)
	if err != nil {
		return apperr.Wrap(op, apperr.CodeActionFailed, err, map[string]any{
			apperr.MetaReason:   "select_failed",
			apperr.MetaStage:    apperr.StageInteraction,
			apperr.MetaSelector: selector,
		})
	}

	return nil
}

func (p *Page) Hover(ctx context.Context, selector string) error {
	const op = "Hover"

	err := p.page.Locator(driverSelector(selector)).First().Hover(playwright.LocatorHoverOptions{
		Timeout: playwright.Float(stepTimeout(ctx, p.config.BrowserConfig.StepDuration())),
	})
	if err != nil {
		return apperr.Wrap(op, apperr.CodeActionFailed, err, map[string]any{
			apperr.MetaReason:   "hover_failed",
			apperr.MetaStage:    apperr.StageInteraction,
			apperr.MetaSelector: selector,
		})
	}

	return nil
}

func (p *Page) WaitFor(ctx context.Context, selector string) error {
	const op = "WaitFor"

	err := p.page.Locator(driverSelector(selector)).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(stepTimeout(ctx, p.config.BrowserConfig.StepDuration())),
	})
	if err != nil {
		return apperr.Wrap(op, apperr.CodeTimeout, err, map[string]any{
			apperr.MetaReason:   "wait_selector_timeout",
			apperr.MetaStage:    apperr.StageInteraction,
			apperr.MetaSelector: selector,
		})
	}

	return nil
}

func (p *Page) Scroll(ctx context.Context, amount int) error {
	const op = "Scroll"

	if _, err := p.page.Evaluate(scrollScript(), amount); err != nil {
		return apperr.Wrap(op, apperr.CodeActionFailed, err, map[string]any{
			apperr.MetaReason: "scroll_failed",
			apperr.MetaStage:  apperr.StageInteraction,
		})
	}

	return sleep(ctx, p.config.BrowserConfig.Settle())
}

// Close releases the tab and its context. It is safe to call twice.
func (p *Page) Close() error {
	if err := p.page.Close(); err != nil {
		p.logger.Debug("Failed to close page", zap.Error(err))
	}

	return p.context.Close()
}

// driverSelector makes bare XPath explicit; playwright only sniffs "//".
func driverSelector(selector string) string {
	s := strings.TrimSpace(selector)
	if dom.IsXPath(s) && !strings.HasPrefix(s, "xpath=") {
		return "xpath=" + s
	}

	return s
}

func waitUntil(v string) *playwright.WaitUntilState {
	switch v {
	case "load":
		return playwright.WaitUntilStateLoad
	case "networkidle":
		return playwright.WaitUntilStateNetworkidle
	case "commit":
		return playwright.WaitUntilStateCommit
	}

	return playwright.WaitUntilStateDomcontentloaded
}

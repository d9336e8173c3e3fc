package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"element-hunter/internal/entity"
	"element-hunter/internal/ports"
	"element-hunter/pkg/apperr"
	"element-hunter/pkg/logg"
	"element-hunter/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// HuntElementsAfterSteps navigates to startURL, replays steps on the same
// page and extracts the elements of the state they leave behind. A failing
// step stops the replay; the partial result is returned together with an
// action_failed error naming the step.
func (s *ElementService) HuntElementsAfterSteps(ctx context.Context, startURL string, steps []entity.Step) (res *entity.HuntResult, err error) {
	const op = "HuntElementsAfterSteps"
	logger := s.logger.With(zap.String(logg.Operation, op), zap.String(logg.URL, startURL))

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op,
		attribute.String("url", startURL),
		attribute.Int("steps", len(steps)))
	defer func() {
		step.End(err)
	}()

	if err := checkURL(op, startURL); err != nil {
		return nil, err
	}

	for i := range steps {
		if err := checkStep(op, i, &steps[i]); err != nil {
			return nil, err
		}
	}

	if !s.browser.IsReady() {
		return nil, apperr.WrapErrorWithReason(op, apperr.CodeBrowserNotReady, "browser_not_ready")
	}

	analysis := newAnalysis(startURL)
	res = &entity.HuntResult{Analysis: analysis}
	logger = logger.With(zap.String(logg.RunID, analysis.ID.String()))

	defer func() {
		analysis.Duration = time.Since(analysis.StartedAt)
	}()

	page, err := s.browser.OpenPage(ctx)
	if err != nil {
		s.fail(logger, analysis, err)

		return res, nil
	}
	defer s.closePage(logger, page)

	if err := page.Navigate(ctx, startURL); err != nil {
		s.fail(logger, analysis, err)

		return res, nil
	}

	requested := startURL

	for i := range steps {
		st := &steps[i]
		step.AddEvent("step", attribute.Int("index", i), attribute.String("action", string(st.Action)))

		if err := s.executeStep(ctx, page, i, st); err != nil {
			s.fail(logger, analysis, err)

			return res, err
		}

		res.StepsExecuted++

		if st.Action == entity.ActionTypeNavigate {
			requested = st.URL
		}
	}

	if err := s.inspect(ctx, page, analysis, requested); err != nil {
		s.fail(logger, analysis, err)

		return res, nil
	}

	step.Count("elements", len(analysis.Elements))
	logger.Info("Elements hunted",
		zap.Int("steps", res.StepsExecuted),
		zap.Int(logg.Count, len(analysis.Elements)))

	return res, nil
}

// executeStep runs one step under its own timeout.
func (s *ElementService) executeStep(ctx context.Context, page ports.Page, index int, st *entity.Step) (err error) {
	const op = "executeStep"
	logger := s.logger.With(
		zap.String(logg.Operation, op),
		zap.Int(logg.Step, index),
		zap.String(logg.Action, string(st.Action)))

	ctx, span := tracing.StartSpan(ctx, s.tracer, logger, op,
		attribute.Int("index", index),
		attribute.String("action", string(st.Action)),
		attribute.String("selector", st.Selector))
	defer func() {
		span.End(err)
	}()

	ctx, cancel := context.WithTimeout(ctx, s.stepTimeout(st))
	defer cancel()

	switch st.Action {
	case entity.ActionTypeNavigate:
		err = page.Navigate(ctx, st.URL)
	case entity.ActionTypeClick:
		err = page.Click(ctx, st.Selector)
	case entity.ActionTypeFill:
		err = page.Fill(ctx, st.Selector, st.Value)
	case entity.ActionTypePress:
		err = page.Press(ctx, st.Selector, st.Value)
	case entity.ActionTypeSelect:
		err = page.Select(ctx, st.Selector, st.Value)
	case entity.ActionTypeHover:
		err = page.Hover(ctx, st.Selector)
	case entity.ActionTypeWait:
		err = pause(ctx, time.Duration(st.WaitMs)*time.Millisecond)
	case entity.ActionTypeWaitFor:
		err = page.WaitFor(ctx, st.Selector)
	case entity.ActionTypeScroll:
		err = page.Scroll(ctx, st.Amount)
	default:
		return apperr.WrapErrorWithReason(op, apperr.CodeInvalidArgument, "unknown_action_type")
	}

	if err != nil {
		stage := apperr.StageInteraction
		if st.Action == entity.ActionTypeNavigate {
			stage = apperr.StageNavigation
		}

		return apperr.Wrap(op, apperr.CodeActionFailed, fmt.Errorf("step %d (%s): %w", index, st.Action, err), map[string]any{
			apperr.MetaReason:   string(st.Action) + "_failed",
			apperr.MetaStage:    stage,
			apperr.MetaStep:     index,
			apperr.MetaSelector: st.Selector,
		})
	}

	return nil
}

// stepTimeout is the navigation timeout for navigate, the pause plus the step
// timeout for wait, and WaitMs or the step timeout for everything else.
func (s *ElementService) stepTimeout(st *entity.Step) time.Duration {
	conf := s.config.BrowserConfig

	switch st.Action {
	case entity.ActionTypeNavigate:
		return conf.NavigationTimeout()
	case entity.ActionTypeWait:
		return time.Duration(st.WaitMs)*time.Millisecond + conf.StepDuration()
	}

	if st.WaitMs > 0 {
		return time.Duration(st.WaitMs) * time.Millisecond
	}

	return conf.StepDuration()
}

func checkStep(op string, index int, st *entity.Step) error {
	field := fmt.Sprintf("steps[%d]", index)

	switch st.Action {
	case entity.ActionTypeNavigate:
		if err := checkURL(op, st.URL); err != nil {
			return apperr.InvalidReqError(op, field+".url", err)
		}
	case entity.ActionTypeClick, entity.ActionTypeHover, entity.ActionTypeWaitFor, entity.ActionTypeFill:
		if st.Selector == "" {
			return apperr.InvalidReqError(op, field+".selector", errors.New("selector cannot be empty"))
		}
	case entity.ActionTypeSelect:
		if st.Selector == "" || st.Value == "" {
			return apperr.InvalidReqError(op, field, errors.New("select needs a selector and a value"))
		}
	case entity.ActionTypePress:
		if st.Value == "" {
			return apperr.InvalidReqError(op, field+".value", errors.New("press needs a key"))
		}
	case entity.ActionTypeScroll:
		if st.WaitMs < 0 {
			return apperr.InvalidReqError(op, field+".waitMs", errors.New("waitMs cannot be negative"))
		}
	case entity.ActionTypeWait:
		if st.WaitMs < 0 {
			return apperr.InvalidReqError(op, field+".waitMs", errors.New("waitMs cannot be negative"))
		}
	default:
		return apperr.InvalidReqError(op, field+".action", fmt.Errorf("unknown action %q", st.Action))
	}

	return nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

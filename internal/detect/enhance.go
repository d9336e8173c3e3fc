package detect

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"element-hunter/internal/config"
	"element-hunter/internal/dom"
	"element-hunter/internal/entity"
	"element-hunter/internal/selector"
	"element-hunter/pkg/logg"
	"element-hunter/pkg/tracing"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	enhancerName   = "SelectorEnhancer"
	enhancerTracer = "detect.enhancer"
)

var bareTag = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// Resolver is a document whose elements can be found again by the
// element-child path the collector reported.
type Resolver interface {
	dom.Document
	Resolve(path []int) (dom.Element, bool)
}

// Enhancer attaches strategy-engine candidates to classified elements and
// replaces fragile in-page selectors with the best confirmed-unique one.
type Enhancer struct {
	engine *selector.Engine
	conf   *config.Config
	logger *zap.Logger
	tracer trace.Tracer
}

type EnhancerParams struct {
	fx.In

	Engine *selector.Engine
	Config *config.Config
	Logger *zap.Logger
}

func NewEnhancer(params EnhancerParams) *Enhancer {
	return &Enhancer{
		engine: params.Engine,
		conf:   params.Config,
		logger: params.Logger.With(zap.String(logg.Layer, enhancerName)),
		tracer: otel.Tracer(enhancerTracer),
	}
}

// Enhance mutates items in place. Elements that cannot be resolved in doc
// keep their in-page selector.
func (e *Enhancer) Enhance(ctx context.Context, doc Resolver, items []Classified) {
	const op = "Enhance"
	logger := e.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, e.tracer, logger, op)
	defer step.End(nil)

	opts := selector.Options{
		UseAdvanced:          e.conf.DetectionConfig.UseAdvancedSelectors,
		PrioritizeUniqueness: e.conf.SelectorConfig.PrioritizeUniqueness,
	}

	replaced, unresolved := 0, 0

	for i := range items {
		if ctx.Err() != nil {
			logger.Warn("Enhancement interrupted", zap.Error(ctx.Err()))

			break
		}

		ok, swapped, err := e.enhanceOne(ctx, doc, &items[i], opts)
		switch {
		case err != nil:
			logger.Debug("Element enhancement failed", zap.String(logg.Selector, items[i].Selector), zap.Error(err))
		case !ok:
			unresolved++
		case swapped:
			replaced++
		}
	}

	step.Count("replaced", replaced)
	logger.Debug("Enhancement finished", zap.Int("replaced", replaced), zap.Int("unresolved", unresolved))
}

func (e *Enhancer) enhanceOne(ctx context.Context, doc Resolver, item *Classified, opts selector.Options) (ok, swapped bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("enhance %s: %v", item.Selector, r)
		}
	}()

	el, found := doc.Resolve(item.Raw.Path)
	if !found || el.TagName() != item.Raw.Tag {
		return false, false, nil
	}

	cands := e.engine.Generate(ctx, doc, el, opts)
	if !TextAgrees(el.Text(), item.Raw) {
		cands = lo.Reject(cands, func(c entity.GeneratedSelectorCandidate, _ int) bool {
			return isTextual(c.Selector)
		})
	}

	if len(cands) == 0 {
		return true, false, nil
	}

	n := min(len(cands), e.conf.DetectionConfig.CandidatesPerElement)
	item.Candidates = cands[:n:n]

	if !IsFragile(item.Selector) || !cands[0].IsUnique {
		return true, false, nil
	}

	item.Selector = cands[0].Selector
	item.SelectorSource = SourceStrategy

	return true, true, nil
}

// TextAgrees reports whether the snapshot text of an element matches what
// the collector read on the live page. The collector truncates long text, so
// a prefix match is enough when raw.TextLength says it was cut.
func TextAgrees(snapshot string, raw *entity.RawElement) bool {
	snap := dom.NormalizeText(snapshot)
	live := dom.NormalizeText(raw.Text)

	if snap == live {
		return true
	}

	return live != "" && raw.TextLength > utf8.RuneCountInString(raw.Text) && strings.HasPrefix(snap, live)
}

func isTextual(sel string) bool {
	return strings.Contains(sel, ":has-text(") || strings.Contains(sel, ":text-is(")
}

// IsFragile reports whether a selector depends on document position or is
// only a tag name.
func IsFragile(sel string) bool {
	sel = strings.TrimSpace(sel)

	return sel == "" || bareTag.MatchString(sel) ||
		strings.Contains(sel, ":nth-child(") || strings.Contains(sel, ":nth-of-type(") ||
		strings.Contains(sel, ":first-child") || strings.Contains(sel, ":last-child") ||
		strings.Contains(sel, ":first-of-type") || strings.Contains(sel, ":last-of-type")
}

package detect

import (
	"context"
	"fmt"
	"strings"

	"element-hunter/internal/config"
	"element-hunter/internal/entity"
	"element-hunter/pkg/logg"
	"element-hunter/pkg/tracing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	classifierName   = "ElementClassifier"
	classifierTracer = "detect.classifier"

	SourceInPage        = "in-page"
	SourceStrategy      = "strategy-engine"
	SourceDisambiguated = "disambiguated"
)

// Classified is a collected element that survived filtering, with its type,
// base confidence and current best selector.
type Classified struct {
	Raw            *entity.RawElement
	Type           entity.ElementType
	Description    string
	Confidence     float64
	Selector       string
	SelectorSource string
	Candidates     []entity.GeneratedSelectorCandidate
}

type Classifier struct {
	conf   *config.DetectionConfig
	logger *zap.Logger
	tracer trace.Tracer
}

type ClassifierParams struct {
	fx.In

	Config *config.Config
	Logger *zap.Logger
}

func NewClassifier(params ClassifierParams) *Classifier {
	return &Classifier{
		conf:   params.Config.DetectionConfig,
		logger: params.Logger.With(zap.String(logg.Layer, classifierName)),
		tracer: otel.Tracer(classifierTracer),
	}
}

// pass is the state of one Classify call. Nothing in it outlives the call.
type pass struct {
	seenText map[string]bool
	dropped  map[string]int
}

type exitRule struct {
	name string
	drop func(raw *entity.RawElement) bool
}

// exits run cheapest first; the first one that drops an element ends its
// evaluation.
var exits = []exitRule{
	{"non-content", func(r *entity.RawElement) bool { return nonContentTags[r.Tag] || tableInternal[r.Tag] }},
	{"table-descendant", func(r *entity.RawElement) bool { return r.TableDescendant }},
	{"hidden", func(r *entity.RawElement) bool { return !quickVisible(r) }},
	{"no-signal", func(r *entity.RawElement) bool { return !primaryTags[r.Tag] && !quickSignal(r) }},
}

// Classify filters and types the elements of one collection, preserving
// document order.
func (c *Classifier) Classify(ctx context.Context, col *entity.Collection) (out []Classified) {
	const op = "Classify"
	logger := c.logger.With(zap.String(logg.Operation, op), zap.String(logg.URL, col.URL))

	_, step := tracing.StartSpan(ctx, c.tracer, logger, op, attribute.Int("collected", len(col.Elements)))
	defer func() {
		step.Count("classified", len(out))
		step.End(nil)
	}()

	p := &pass{
		seenText: make(map[string]bool),
		dropped:  make(map[string]int),
	}

	out = make([]Classified, 0, len(col.Elements))

	for i := range col.Elements {
		raw := &col.Elements[i]

		item, ok, err := c.classifyOne(p, raw)
		if err != nil {
			logger.Debug("Element classification failed", zap.Int("index", raw.Index), zap.Error(err))

			if raw.Selector == "" {
				continue
			}

			item = Classified{
				Raw:            raw,
				Type:           entity.ElementTypeElement,
				Description:    raw.Tag,
				Confidence:     c.conf.ConfidenceFloor,
				Selector:       raw.Selector,
				SelectorSource: SourceInPage,
			}
			ok = true
		}

		if ok {
			out = append(out, item)
		}
	}

	logger.Debug("Classification finished",
		zap.Int("collected", len(col.Elements)),
		zap.Int("kept", len(out)),
		zap.Any("dropped", p.dropped),
	)

	return out
}

func (c *Classifier) classifyOne(p *pass, raw *entity.RawElement) (item Classified, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classify %s#%d: %v", raw.Tag, raw.Index, r)
		}
	}()

	raw.Tag = strings.ToLower(raw.Tag)

	for _, e := range exits {
		if e.drop(raw) {
			p.dropped[e.name]++

			return item, false, nil
		}
	}

	if c.conf.UseEnhancedFiltering {
		if !include(raw) {
			p.dropped["not-testable"]++

			return item, false, nil
		}

		if !isInteractive(raw) && raw.Text != "" {
			key := textKey(raw.Text)
			if p.seenText[key] {
				p.dropped["duplicate-text"]++

				return item, false, nil
			}

			p.seenText[key] = true
		}
	}

	if raw.Selector == "" {
		p.dropped["no-selector"]++

		return item, false, nil
	}

	typ, desc := assignType(raw)

	return Classified{
		Raw:            raw,
		Type:           typ,
		Description:    desc,
		Confidence:     c.confidence(raw),
		Selector:       raw.Selector,
		SelectorSource: SourceInPage,
	}, true, nil
}

// confidence is the additive base score, floored and clamped to [0,1].
func (c *Classifier) confidence(raw *entity.RawElement) float64 {
	score := 0.0
	testAttr := hasTestAttr(raw)

	if testAttr {
		score += c.conf.TestAttrWeight
	}

	if primaryTags[raw.Tag] {
		score += c.conf.InteractiveWeight
	}

	if meaningfulText(raw) {
		score += c.conf.TextWeight
	}

	if raw.Attr("aria-label") != "" || raw.Attr("role") != "" {
		score += c.conf.AriaWeight
	}

	if raw.Attr("id") != "" || testAttr {
		score += c.conf.IdentityWeight
	}

	if raw.InForm {
		score += c.conf.FormWeight
	}

	score = max(score, c.conf.ConfidenceFloor)

	return min(max(score, 0), 1)
}

func quickVisible(r *entity.RawElement) bool {
	if r.Style.Display == "none" || r.Style.Visibility == "hidden" {
		return false
	}

	if (r.Rect.Width <= 0 || r.Rect.Height <= 0) && !formControls[r.Tag] {
		return false
	}

	return true
}

func quickSignal(r *entity.RawElement) bool {
	if hasTestAttr(r) || r.HasClickHandler || r.HasAttr("onclick") || role(r) != "" || pointerCursor(r) || clickableClass.MatchString(r.Attr("class")) {
		return true
	}

	if meaningfulText(r) && (r.HasAttr("tabindex") || r.Attr("aria-label") != "") {
		return true
	}

	if containerTags[r.Tag] {
		return r.Text != "" || r.HasInteractiveDescendant
	}

	return r.Text != "" || mediaTags[r.Tag] || r.Table != nil || r.Tag == "form" || r.Tag == "nav" || r.Tag == "dialog"
}

// include is the secondary inclusion test run after style resolution.
func include(r *entity.RawElement) bool {
	switch {
	case primaryTags[r.Tag], hasTestAttr(r), hasInteractiveSignal(r), pointerCursor(r):
		return true
	case r.Table != nil, r.Tag == "table", r.Tag == "form", r.Tag == "nav", isModal(r):
		return true
	case r.Tag == "video" || r.Tag == "audio" || r.Tag == "canvas" || r.Tag == "iframe":
		return true
	case r.Tag == "img":
		return strings.TrimSpace(r.Attr("alt")) != "" || r.Attr("title") != "" || r.Attr("aria-label") != ""
	case r.Tag == "svg":
		return r.Attr("aria-label") != "" || role(r) == "img" || r.Text != ""
	case importantText(r):
		return true
	}

	return false
}

func isInteractive(r *entity.RawElement) bool {
	return primaryTags[r.Tag] || hasTestAttr(r) || hasInteractiveSignal(r) || pointerCursor(r)
}

func textKey(s string) string {
	rs := []rune(s)
	if len(rs) > dedupeTextPrefix {
		rs = rs[:dedupeTextPrefix]
	}

	return string(rs)
}

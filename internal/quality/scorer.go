// Package quality rates selector strings against the page they run on and
// checks them for consistency across pages.
package quality

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"element-hunter/internal/config"
	"element-hunter/internal/dom"
	"element-hunter/internal/entity"
	"element-hunter/internal/ports"
	"element-hunter/internal/selector"
	"element-hunter/pkg/apperr"
	"element-hunter/pkg/logg"
	"element-hunter/pkg/tracing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	scorerName   = "SelectorQualityScorer"
	scorerTracer = "quality.scorer"
	weakScore    = 0.5
)

var (
	quotedPattern   = regexp.MustCompile(`"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'`)
	positionPattern = regexp.MustCompile(`:(nth-child|nth-of-type|nth-last-child|nth-last-of-type|first-child|last-child|first-of-type|last-of-type|nth-match)\b`)
	xpathIndex      = regexp.MustCompile(`\[\d+\]`)
	idToken         = regexp.MustCompile(`#(-?[_a-zA-Z][-\w]*)`)
	classToken      = regexp.MustCompile(`\.(-?[_a-zA-Z][-\w]*)`)
	attrToken       = regexp.MustCompile(`\[\s*@?([-\w:]+)`)
	attrValue       = regexp.MustCompile(`\[\s*@?([-\w:]+)\s*[~|^$*]?=\s*["']([^"']*)["']`)
	tagToken        = regexp.MustCompile(`(?:^|[\s>+~(,/])([a-zA-Z][a-zA-Z0-9]*)`)
	combinators     = regexp.MustCompile(`\s*>>\s*|\s*[>+~]\s*|\s+|/+`)
	textPseudo      = regexp.MustCompile(`:(has-text|text-is|text)\(|text\(\)`)

	semanticTags = map[string]bool{
		"button": true, "a": true, "input": true, "select": true, "textarea": true, "label": true,
		"nav": true, "form": true, "main": true, "header": true, "footer": true, "dialog": true,
		"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	}
)

// Scorer computes QualityMetrics for a selector from its text and the
// number of nodes it matched.
type Scorer struct {
	conf   *config.QualityConfig
	engine *selector.Engine
	logger *zap.Logger
	tracer trace.Tracer
}

type ScorerParams struct {
	fx.In

	Engine *selector.Engine
	Config *config.Config
	Logger *zap.Logger
}

func NewScorer(params ScorerParams) *Scorer {
	return &Scorer{
		conf:   params.Config.QualityConfig,
		engine: params.Engine,
		logger: params.Logger.With(zap.String(logg.Layer, scorerName)),
		tracer: otel.Tracer(scorerTracer),
	}
}

// Evaluate counts selector on the page's current document. Zero matches is a
// reported outcome, not an error; only a selector the driver rejects fails.
func (s *Scorer) Evaluate(ctx context.Context, page ports.Page, sel string) (res *entity.SelectorValidationResult, err error) {
	const op = "Evaluate"
	logger := s.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, sel))

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op, attribute.String("selector", sel))
	defer func() {
		step.End(err)
	}()

	count, err := page.Count(ctx, sel)
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeInvalidArgument, err, map[string]any{
			apperr.MetaReason:   "selector_rejected",
			apperr.MetaStage:    apperr.StageValidation,
			apperr.MetaSelector: sel,
		})
	}

	step.Count("matches", count)

	metrics := s.Score(sel, count)

	res = &entity.SelectorValidationResult{
		Selector:       sel,
		URL:            page.URL(),
		IsValid:        count > 0,
		IsUnique:       count == 1,
		ElementCount:   count,
		QualityMetrics: metrics,
		Suggestions:    s.Suggestions(sel, count, metrics),
	}

	if count != 1 {
		res.Alternatives = s.alternatives(ctx, page, sel)
	}

	return res, nil
}

// alternatives asks the strategy engine for candidates anchored on the first
// match. Nothing is proposed when the selector matched nothing.
func (s *Scorer) alternatives(ctx context.Context, page ports.Page, sel string) []entity.GeneratedSelectorCandidate {
	doc, err := page.Document(ctx)
	if err != nil {
		s.logger.Debug("Document unavailable for alternatives", zap.Error(err))

		return nil
	}

	matches, err := doc.QueryAll(sel)
	if err != nil || len(matches) == 0 {
		return nil
	}

	cands := s.engine.Generate(ctx, doc, matches[0], selector.Options{UseAdvanced: true, PrioritizeUniqueness: true})

	out := make([]entity.GeneratedSelectorCandidate, 0, s.conf.Alternatives)
	for _, c := range cands {
		if c.Selector == sel {
			continue
		}

		out = append(out, c)

		if len(out) == s.conf.Alternatives {
			break
		}
	}

	return out
}

// Score combines the four sub-scores with the configured weights.
func (s *Scorer) Score(sel string, count int) entity.QualityMetrics {
	m := entity.QualityMetrics{
		Uniqueness:    Uniqueness(count),
		Stability:     Stability(sel),
		Specificity:   Specificity(sel),
		Accessibility: Accessibility(sel),
	}
	m.Overall = s.overall(m)

	return m
}

// PenalizeInconsistency halves uniqueness for a selector that is not unique
// on every page and recomputes the overall score.
func (s *Scorer) PenalizeInconsistency(m entity.QualityMetrics) entity.QualityMetrics {
	m.Uniqueness = clamp(m.Uniqueness / 2)
	m.Overall = s.overall(m)

	return m
}

func (s *Scorer) overall(m entity.QualityMetrics) float64 {
	return clamp(m.Uniqueness*s.conf.UniquenessWeight +
		m.Stability*s.conf.StabilityWeight +
		m.Specificity*s.conf.SpecificityWeight +
		m.Accessibility*s.conf.AccessibilityWeight)
}

// Uniqueness maps a match count to a score: one match is ideal, a handful is
// poor, none is worthless.
func Uniqueness(count int) float64 {
	switch {
	case count == 1:
		return 1
	case count <= 0:
		return 0
	case count == 2:
		return 0.5
	case count <= 5:
		return 0.3
	}

	return 0.1
}

// Stability estimates how well the selector text survives markup churn.
func Stability(sel string) float64 {
	sel = strings.TrimSpace(sel)
	if sel == "" {
		return 0
	}

	score := 1.0
	bare := quotedPattern.ReplaceAllString(strings.TrimPrefix(sel, "xpath="), `""`)

	score -= 0.25 * float64(min(len(positionPattern.FindAllString(bare, -1)), 2))

	if dom.IsXPath(sel) {
		score -= 0.1 * float64(min(len(xpathIndex.FindAllString(bare, -1)), 4))

		if strings.HasPrefix(strings.TrimPrefix(sel, "xpath="), "/html") {
			score -= 0.3
		}
	}

	for _, m := range idToken.FindAllStringSubmatch(bare, -1) {
		if selector.IsGeneratedID(m[1]) {
			score -= 0.4
		}
	}

	for _, m := range attrValue.FindAllStringSubmatch(sel, -1) {
		if strings.EqualFold(m[1], "id") && selector.IsGeneratedID(m[2]) {
			score -= 0.4
		}
	}

	classes := classToken.FindAllStringSubmatch(bare, -1)
	for _, m := range classes {
		if selector.IsGeneratedClass(m[1]) {
			score -= 0.2
		}
	}

	if len(classes) > 2 {
		score -= 0.1
	}

	if depth := len(combinators.FindAllString(strings.TrimLeft(bare, "/"), -1)); depth > 3 {
		score -= 0.05 * float64(depth-3)
	}

	if textPseudo.MatchString(bare) {
		score -= 0.05
	}

	if hasTestAttribute(bare) {
		score += 0.1
	}

	return clamp(score)
}

// Specificity rewards selectors that pin down tag and attributes.
func Specificity(sel string) float64 {
	bare := quotedPattern.ReplaceAllString(strings.TrimPrefix(strings.TrimSpace(sel), "xpath="), `""`)
	if bare == "" || bare == "*" {
		return 0
	}

	score := 0.0

	if tagToken.MatchString(bare) {
		score += 0.2
	}

	if idToken.MatchString(bare) || hasTestAttribute(bare) {
		score += 0.3
	}

	score += min(0.15*float64(len(attrToken.FindAllString(bare, -1))), 0.45)
	score += min(0.1*float64(len(classToken.FindAllString(bare, -1))), 0.2)

	if textPseudo.MatchString(bare) {
		score += 0.15
	}

	return clamp(score)
}

// Accessibility rewards hooks that mirror what assistive tech and users see.
func Accessibility(sel string) float64 {
	bare := quotedPattern.ReplaceAllString(strings.TrimPrefix(strings.TrimSpace(sel), "xpath="), `""`)
	score := 0.0

	names := map[string]bool{}
	for _, m := range attrToken.FindAllStringSubmatch(bare, -1) {
		names[strings.ToLower(m[1])] = true
	}

	if names["aria-label"] || names["aria-labelledby"] {
		score += 0.4
	}

	if names["role"] || strings.Contains(bare, "role=") {
		score += 0.3
	}

	if textPseudo.MatchString(bare) {
		score += 0.2
	}

	if names["name"] || names["alt"] || names["title"] || names["placeholder"] || names["for"] {
		score += 0.2
	}

	for _, m := range tagToken.FindAllStringSubmatch(bare, -1) {
		if semanticTags[strings.ToLower(m[1])] {
			score += 0.2

			break
		}
	}

	return clamp(score)
}

// Suggestions leads with advice for the weakest sub-score and adds advice
// for every other sub-score below weakScore.
func (s *Scorer) Suggestions(sel string, count int, m entity.QualityMetrics) []string {
	if count == 0 {
		return []string{
			"Selector matches no elements; check for typos or content that renders later",
			"Wait for the element before validating, or validate after the steps that reveal it",
		}
	}

	type sub struct {
		score float64
		tip   string
	}

	subs := []sub{
		{m.Uniqueness, fmt.Sprintf("Selector matches %d elements; add a test attribute or scope it under a unique parent", count)},
		{m.Stability, "Avoid positional pseudo-classes and generated ids or classes; prefer data-testid or aria attributes"},
		{m.Specificity, "Selector is too generic; qualify it with a tag and a stable attribute"},
		{m.Accessibility, "Prefer role, aria-label or visible text, which track what users see"},
	}

	weakest := 0
	for i, x := range subs {
		if x.score < subs[weakest].score {
			weakest = i
		}
	}

	if count == 1 && m.Overall >= 0.8 {
		return []string{"Selector is unique and robust"}
	}

	out := []string{subs[weakest].tip}
	for i, x := range subs {
		if i != weakest && x.score < weakScore {
			out = append(out, x.tip)
		}
	}

	return out
}

func hasTestAttribute(bare string) bool {
	for _, m := range attrToken.FindAllStringSubmatch(bare, -1) {
		for _, a := range selector.TestAttributes {
			if strings.EqualFold(m[1], a) {
				return true
			}
		}
	}

	return false
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}

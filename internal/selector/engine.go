package selector

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"element-hunter/internal/config"
	"element-hunter/internal/dom"
	"element-hunter/internal/entity"
	"element-hunter/pkg/logg"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const engineName = "SelectorStrategyEngine"

// Options are per-call switches; zero value means plain CSS only, no
// uniqueness-first ordering.
type Options struct {
	UseAdvanced          bool
	PrioritizeUniqueness bool
}

type Engine struct {
	conf   *config.SelectorConfig
	logger *zap.Logger
}

type Params struct {
	fx.In

	Config *config.Config
	Logger *zap.Logger
}

func NewEngine(params Params) *Engine {
	return &Engine{
		conf:   params.Config.SelectorConfig,
		logger: params.Logger.With(zap.String(logg.Layer, engineName)),
	}
}

type strategy struct {
	name string
	run  func(g *generation)
}

// strategies run in this order; XPath goes last because it only fires when
// the others produced too little.
var strategies = []strategy{
	{"test-attribute", testAttributeStrategy},
	{"unique-id", uniqueIDStrategy},
	{"driver-optimized", driverOptimizedStrategy},
	{"semantic", semanticStrategy},
	{"stable-attribute", stableAttributeStrategy},
	{"relational", relationalStrategy},
	{"visibility", visibilityStrategy},
	{"state", stateStrategy},
	{"enhanced-text", enhancedTextStrategy},
	{"deep-combinator", deepCombinatorStrategy},
	{"comprehensive", comprehensiveStrategy},
	{"xpath", xpathStrategy},
}

// Generate runs every strategy for el against doc and returns the ranked
// candidates above the confidence floor. A strategy that panics on odd markup
// is skipped; the rest still run.
func (e *Engine) Generate(ctx context.Context, doc dom.Document, el dom.Element, opts Options) []entity.GeneratedSelectorCandidate {
	const op = "Generate"
	logger := e.logger.With(zap.String(logg.Operation, op))

	g := &generation{
		conf:  e.conf,
		opts:  opts,
		doc:   doc,
		el:    el,
		tag:   el.TagName(),
		text:  dom.NormalizeText(el.Text()),
		attrs: el.Attributes(),
		seen:  make(map[string]int),
	}

	for _, s := range strategies {
		if ctx.Err() != nil {
			break
		}

		g.strategy = s.name
		if err := safeRun(s, g); err != nil {
			logger.Debug("Strategy failed", zap.String("strategy", s.name), zap.Error(err))
		}
	}

	return rank(g.candidates, e.conf, opts)
}

func safeRun(s strategy, g *generation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s panicked: %v", s.name, r)
		}
	}()

	s.run(g)

	return nil
}

func rank(cands []entity.GeneratedSelectorCandidate, conf *config.SelectorConfig, opts Options) []entity.GeneratedSelectorCandidate {
	out := make([]entity.GeneratedSelectorCandidate, 0, len(cands))

	for _, c := range cands {
		if c.Confidence >= conf.ConfidenceFloor {
			out = append(out, c)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if opts.PrioritizeUniqueness && out[i].IsUnique != out[j].IsUnique {
			return out[i].IsUnique
		}

		return out[i].Confidence > out[j].Confidence
	})

	if conf.MaxCandidates > 0 && len(out) > conf.MaxCandidates {
		out = out[:conf.MaxCandidates]
	}

	return out
}

// generation is the per-element accumulator shared by the strategies.
type generation struct {
	conf     *config.SelectorConfig
	opts     Options
	doc      dom.Document
	el       dom.Element
	tag      string
	text     string
	attrs    map[string]string
	strategy string

	candidates []entity.GeneratedSelectorCandidate
	seen       map[string]int
}

func (g *generation) add(sel string, confidence float64, typ entity.SelectorType, desc string, driverOptimized bool) {
	if sel == "" || (driverOptimized && !g.opts.UseAdvanced) {
		return
	}

	confidence = clamp(confidence)

	if i, ok := g.seen[sel]; ok {
		if g.candidates[i].Confidence < confidence {
			g.candidates[i].Confidence = confidence
			g.candidates[i].Description = desc
			g.candidates[i].Strategy = g.strategy
		}

		return
	}

	g.seen[sel] = len(g.candidates)
	g.candidates = append(g.candidates, entity.GeneratedSelectorCandidate{
		Selector:          sel,
		Confidence:        confidence,
		Type:              typ,
		Description:       desc,
		IsUnique:          dom.IsUniqueMatch(g.doc, sel, g.el),
		IsDriverOptimized: driverOptimized,
		Strategy:          g.strategy,
	})
}

func (g *generation) attr(name string) string {
	return g.attrs[name]
}

// shortText is the element text when it is short enough to select on.
func (g *generation) shortText() (string, bool) {
	if g.text == "" || len(g.text) > g.conf.MaxTextLength {
		return "", false
	}

	return g.text, true
}

func (g *generation) stableID() (string, bool) {
	id := g.attr("id")
	if id == "" || IsGeneratedID(id) {
		return "", false
	}

	return id, true
}

type anchor struct {
	selector string
}

// anchors are the nearest ancestors usable as a scope: non-generated id
// first, then explicit role. Walks at most RelationalDepth levels.
func (g *generation) anchors() (idAnchor, roleAnchor *anchor) {
	for _, a := range dom.Ancestors(g.el, g.conf.RelationalDepth) {
		if idAnchor == nil {
			if id, ok := a.Attr("id"); ok && id != "" && !IsGeneratedID(id) {
				idAnchor = &anchor{selector: IDSelector(id)}
			}
		}

		if roleAnchor == nil {
			if role, ok := a.Attr("role"); ok && role != "" {
				roleAnchor = &anchor{selector: AttrSelector("", "role", role)}
			}
		}
	}

	return idAnchor, roleAnchor
}

func testAttributeStrategy(g *generation) {
	name, v, ok := TestAttribute(g.attrs)
	if !ok {
		return
	}

	g.add(AttrSelector("", name, v), 0.85, entity.SelectorTypeTestID, "Test attribute "+name, false)
}

func uniqueIDStrategy(g *generation) {
	id, ok := g.stableID()
	if !ok {
		return
	}

	sel := IDSelector(id)
	if !dom.IsUniqueMatch(g.doc, sel, g.el) {
		return
	}

	g.add(sel, 0.82, entity.SelectorTypeID, "Unique id", false)
}

func driverOptimizedStrategy(g *generation) {
	if text, ok := g.shortText(); ok {
		g.add(g.tag+":has-text("+dom.QuoteText(text)+")", 0.80, entity.SelectorTypePlaywright, "Text match", true)
	}

	role := g.attr("role")
	if role == "" {
		return
	}

	g.add(AttrSelector(g.tag, "role", role)+":visible", 0.75, entity.SelectorTypePlaywright, "Role match", true)

	if label := g.attr("aria-label"); label != "" {
		sel := AttrSelector("", "role", role) + AttrSelector("", "aria-label", label) + ":visible"
		g.add(sel, 0.95, entity.SelectorTypePlaywright, "Role with accessible name", true)
	}
}

func semanticStrategy(g *generation) {
	if label := g.attr("aria-label"); label != "" {
		g.add(AttrSelector("", "aria-label", label), 0.88, entity.SelectorTypeAria, "Accessible label", false)
	}

	if role := g.attr("role"); role != "" {
		g.add(AttrSelector(g.tag, "role", role), 0.85, entity.SelectorTypeAria, "Role", false)
	}

	switch g.tag {
	case "input", "select", "textarea", "button":
		if name := g.attr("name"); name != "" && IsStableValue(name) {
			g.add(AttrSelector(g.tag, "name", name), 0.86, entity.SelectorTypeCSS, "Form control name", false)
		}
	}
}

func stableAttributeStrategy(g *generation) {
	for _, name := range stableAttributes {
		v, ok := g.attrs[name]
		if !ok || !IsStableValue(v) {
			continue
		}

		if name == "href" && (v == "#" || strings.HasPrefix(strings.ToLower(v), "javascript:")) {
			continue
		}

		g.add(AttrSelector(g.tag, name, v), 0.85, entity.SelectorTypeCSS, "Stable attribute "+name, false)
	}
}

func relationalStrategy(g *generation) {
	idAnchor, roleAnchor := g.anchors()
	text, hasText := g.shortText()
	role := g.attr("role")

	if idAnchor != nil {
		base := idAnchor.selector + " " + g.tag
		g.add(base, 0.85, entity.SelectorTypeCSS, "Scoped to parent id", false)

		if hasText {
			g.add(base+":has-text("+dom.QuoteText(text)+")", 0.90, entity.SelectorTypePlaywright, "Scoped to parent id with text", true)
		}

		if role != "" {
			g.add(idAnchor.selector+" "+AttrSelector(g.tag, "role", role), 0.92, entity.SelectorTypeCSS, "Scoped to parent id with role", false)
		}
	}

	if roleAnchor != nil {
		base := roleAnchor.selector + " " + g.tag
		g.add(base, 0.78, entity.SelectorTypeCSS, "Scoped to parent role", false)

		if hasText {
			g.add(base+":has-text("+dom.QuoteText(text)+")", 0.82, entity.SelectorTypePlaywright, "Scoped to parent role with text", true)
		}
	}
}

func visibilityStrategy(g *generation) {
	if id, ok := g.stableID(); ok {
		g.add(IDSelector(id)+":visible", 0.84, entity.SelectorTypePlaywright, "Visible element by id", true)
	}

	if role := g.attr("role"); role != "" {
		g.add(AttrSelector("", "role", role)+":visible", 0.70, entity.SelectorTypePlaywright, "Visible element by role", true)
	}

	g.add(g.tag+":visible", 0.50, entity.SelectorTypePlaywright, "Visible element by tag", true)
}

func stateStrategy(g *generation) {
	role := g.attr("role")

	for _, name := range ariaStateAttributes {
		v, ok := g.attrs[name]
		if !ok {
			continue
		}

		g.add(AttrSelector(g.tag, name, v), 0.78, entity.SelectorTypeAria, "State "+name, false)

		if role != "" {
			g.add(AttrSelector(g.tag, "role", role)+AttrSelector("", name, v), 0.88, entity.SelectorTypeAria, "Role with state "+name, false)
		}
	}

	for _, name := range booleanStateAttributes {
		if _, ok := g.attrs[name]; ok {
			g.add(g.tag+"["+name+"]", 0.70, entity.SelectorTypeCSS, "State "+name, false)
		}
	}

	for _, name := range customStateAttributes {
		if v := g.attrs[name]; v != "" && IsStableValue(v) {
			g.add(AttrSelector(g.tag, name, v), 0.75, entity.SelectorTypeCSS, "Custom state "+name, false)
		}
	}
}

func enhancedTextStrategy(g *generation) {
	text, ok := g.shortText()
	if !ok {
		return
	}

	g.add(g.tag+":text-is("+dom.QuoteText(text)+")", 0.80, entity.SelectorTypeText, "Exact text", true)

	if words := strings.Fields(text); len(words) > 3 {
		partial := strings.Join(words[:3], " ")
		g.add(g.tag+":has-text("+dom.QuoteText(partial)+")", 0.75, entity.SelectorTypeText, "Partial text", true)
	}

	if lower := strings.ToLower(text); lower != text {
		g.add(g.tag+":has-text("+dom.QuoteText(lower)+")", 0.73, entity.SelectorTypeText, "Case-insensitive text", true)
	}

	if role := g.attr("role"); role != "" {
		g.add(AttrSelector("", "role", role)+":text-is("+dom.QuoteText(text)+")", 0.87, entity.SelectorTypeText, "Exact text with role", true)
	}
}

func deepCombinatorStrategy(g *generation) {
	idAnchor, roleAnchor := g.anchors()
	text, hasText := g.shortText()

	if idAnchor != nil {
		g.add(idAnchor.selector+" >> "+g.tag, 0.75, entity.SelectorTypePlaywright, "Deep scoped to parent id", true)

		if hasText {
			g.add(idAnchor.selector+" >> "+g.tag+":has-text("+dom.QuoteText(text)+")", 0.83, entity.SelectorTypePlaywright, "Deep scoped to parent id with text", true)
		}
	}

	if roleAnchor != nil {
		g.add(roleAnchor.selector+" >> "+g.tag, 0.68, entity.SelectorTypePlaywright, "Deep scoped to parent role", true)

		if hasText {
			g.add(roleAnchor.selector+" >> "+g.tag+":has-text("+dom.QuoteText(text)+")", 0.78, entity.SelectorTypePlaywright, "Deep scoped to parent role with text", true)
		}
	}
}

func comprehensiveStrategy(g *generation) {
	var b strings.Builder

	b.WriteString(g.tag)

	n := 0

	for _, name := range comprehensiveAttributes {
		v, ok := g.attrs[name]
		if !ok || !IsStableValue(v) {
			continue
		}

		b.WriteString(AttrSelector("", name, v))
		n++
	}

	if n < 3 {
		return
	}

	b.WriteString(":visible")

	confidence := 0.75 + 0.05*float64(n-3)

	if text, ok := g.shortText(); ok && len(text) <= 30 {
		b.WriteString(":has-text(" + dom.QuoteText(text) + ")")
		confidence += 0.05
	}

	g.add(b.String(), min(confidence, 0.95), entity.SelectorTypePlaywright, fmt.Sprintf("Combined %d attributes", n), true)
}

func xpathStrategy(g *generation) {
	if len(g.candidates) >= g.conf.MinCandidatesBeforeXPath {
		return
	}

	sel := XPathFor(g.el, g.conf.XPathMaxDepth)
	if sel == "" {
		return
	}

	g.add(sel, 0.75, entity.SelectorTypeXPath, "Positional XPath", false)
}

// XPathFor builds a positional XPath for el of at most depth steps. The walk
// stops early at an ancestor-or-self with a stable id.
func XPathFor(el dom.Element, depth int) string {
	var steps []string

	cur := el
	for i := 0; cur != nil && i < depth; i++ {
		if id, ok := cur.Attr("id"); ok && id != "" && !IsGeneratedID(id) && !strings.Contains(id, `"`) {
			steps = append([]string{fmt.Sprintf(`//*[@id="%s"]`, id)}, steps...)

			return strings.Join(steps, "/")
		}

		pos, _ := dom.SiblingsOfType(cur)
		steps = append([]string{fmt.Sprintf("%s[%d]", cur.TagName(), pos)}, steps...)

		cur = cur.Parent()
	}

	if len(steps) == 0 {
		return ""
	}

	prefix := "//"
	if cur == nil {
		prefix = "/"
	}

	return prefix + strings.Join(steps, "/")
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}

	return v
}

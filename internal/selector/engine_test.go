package selector_test

import (
	"context"
	"strings"
	"testing"

	"element-hunter/internal/config"
	"element-hunter/internal/dom"
	"element-hunter/internal/entity"
	"element-hunter/internal/selector"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newEngine(t *testing.T) *selector.Engine {
	t.Helper()

	return selector.NewEngine(selector.Params{
		Config: &config.Config{
			SelectorConfig: &config.SelectorConfig{
				ConfidenceFloor:          0.75,
				MaxCandidates:            10,
				XPathMaxDepth:            5,
				RelationalDepth:          3,
				PrioritizeUniqueness:     true,
				MinCandidatesBeforeXPath: 3,
				MaxTextLength:            50,
			},
		},
		Logger: zap.NewNop(),
	})
}

var advanced = selector.Options{UseAdvanced: true, PrioritizeUniqueness: true}

func parse(t *testing.T, html string) *dom.Snapshot {
	t.Helper()

	s, err := dom.ParseHTML(html)
	require.NoError(t, err)

	return s
}

func first(t *testing.T, s *dom.Snapshot, sel string) dom.Element {
	t.Helper()

	el, err := s.First(sel)
	require.NoError(t, err)
	require.NotNil(t, el, sel)

	return el
}

func TestGenerateTestAttributeWins(t *testing.T) {
	t.Parallel()

	html := `<html><body><div>` +
		`<button data-testid="submit-btn">Submit</button>` +
		strings.Repeat(`<button></button>`, 9) +
		`</div></body></html>`

	s := parse(t, html)
	el := first(t, s, "[data-testid]")

	cands := newEngine(t).Generate(context.Background(), s, el, advanced)
	require.NotEmpty(t, cands)

	top := cands[0]
	assert.Equal(t, `[data-testid="submit-btn"]`, top.Selector)
	assert.InDelta(t, 0.85, top.Confidence, 1e-9)
	assert.True(t, top.IsUnique)
	assert.Equal(t, entity.SelectorTypeTestID, top.Type)
	assert.False(t, top.IsDriverOptimized)
}

func TestGenerateInvariants(t *testing.T) {
	t.Parallel()

	html := `<html><body>
	<main id="content" role="main">
	  <form id="login" role="form">
	    <input type="email" name="email" placeholder="Email" aria-label="Email address" role="textbox">
	    <button type="submit" role="button" aria-expanded="false" disabled>Log in now please</button>
	    <button type="button">Cancel</button>
	  </form>
	  <div id="a1b2c3d4e5f6a7"><span>Unlabelled</span></div>
	</main>
	</body></html>`

	s := parse(t, html)
	eng := newEngine(t)

	for _, sel := range []string{`input[name="email"]`, `button[type="submit"]`, `button[type="button"]`, "span"} {
		el := first(t, s, sel)
		cands := eng.Generate(context.Background(), s, el, advanced)

		require.NotEmpty(t, cands, sel)
		assert.LessOrEqual(t, len(cands), 10)

		seen := map[string]bool{}

		for i, c := range cands {
			assert.GreaterOrEqual(t, c.Confidence, 0.75, c.Selector)
			assert.LessOrEqual(t, c.Confidence, 1.0, c.Selector)
			assert.False(t, seen[c.Selector], "duplicate %s", c.Selector)
			seen[c.Selector] = true

			if c.IsUnique {
				matches, err := s.QueryAll(c.Selector)
				require.NoError(t, err, c.Selector)
				require.Len(t, matches, 1, c.Selector)
				assert.True(t, matches[0].Same(el), c.Selector)
			}

			if i > 0 && cands[i-1].IsUnique == c.IsUnique {
				assert.GreaterOrEqual(t, cands[i-1].Confidence, c.Confidence)
			}

			if i > 0 {
				assert.False(t, c.IsUnique && !cands[i-1].IsUnique, "unique candidates must come first")
			}

			assert.NotContains(t, c.Selector, "nth-", "positional CSS is not a strategy")
		}
	}
}

func TestGenerateRoleAndLabelCombo(t *testing.T) {
	t.Parallel()

	s := parse(t, `<html><body><div role="dialog"><button role="button" aria-label="Close">x</button></div></body></html>`)
	el := first(t, s, "button")

	cands := newEngine(t).Generate(context.Background(), s, el, advanced)
	require.NotEmpty(t, cands)

	assert.Equal(t, `[role="button"][aria-label="Close"]:visible`, cands[0].Selector)
	assert.InDelta(t, 0.95, cands[0].Confidence, 1e-9)
	assert.True(t, cands[0].IsDriverOptimized)
}

func TestGeneratePlainCSSOnly(t *testing.T) {
	t.Parallel()

	s := parse(t, `<html><body><nav id="menu"><a href="/pricing">Pricing</a></nav></body></html>`)
	el := first(t, s, "a")

	cands := newEngine(t).Generate(context.Background(), s, el, selector.Options{})
	require.NotEmpty(t, cands)

	for _, c := range cands {
		assert.False(t, c.IsDriverOptimized, c.Selector)
		assert.False(t, dom.HasDriverExtensions(c.Selector) && c.Type != entity.SelectorTypeXPath, c.Selector)
	}
}

func TestGenerateXPathFallback(t *testing.T) {
	t.Parallel()

	s := parse(t, `<html><body><section id="results"><ul><li>a</li><li>b</li></ul></section></body></html>`)
	el := first(t, s, "li:nth-of-type(2)")

	cands := newEngine(t).Generate(context.Background(), s, el, selector.Options{PrioritizeUniqueness: true})

	var xpath *entity.GeneratedSelectorCandidate

	for i := range cands {
		if cands[i].Type == entity.SelectorTypeXPath {
			xpath = &cands[i]
		}
	}

	require.NotNil(t, xpath)
	assert.Equal(t, `//*[@id="results"]/ul[1]/li[2]`, xpath.Selector)
	assert.True(t, xpath.IsUnique)
}

func TestGenerateIsIdempotent(t *testing.T) {
	t.Parallel()

	html := `<html><body><header role="banner"><a href="/" title="Home">Home</a><a href="/about">About us</a></header></body></html>`
	eng := newEngine(t)

	run := func() string {
		s := parse(t, html)
		el := first(t, s, `a[href="/about"]`)
		cands := eng.Generate(context.Background(), s, el, advanced)
		require.NotEmpty(t, cands)

		return cands[0].Selector
	}

	assert.Equal(t, run(), run())
}

func TestXPathFor(t *testing.T) {
	t.Parallel()

	s := parse(t, `<html><body><div><p>one</p><p>two</p></div></body></html>`)
	el := first(t, s, "p:nth-of-type(2)")

	assert.Equal(t, "/html[1]/body[1]/div[1]/p[2]", selector.XPathFor(el, 5))
	assert.Equal(t, "//div[1]/p[2]", selector.XPathFor(el, 2))
}

func TestPatterns(t *testing.T) {
	t.Parallel()

	for _, id := range []string{"12345", "ember123", "react-select-3-input", ":r1:", "a3f9c2e1d4b5a6", "field_1234", "x12345"} {
		assert.True(t, selector.IsGeneratedID(id), id)
	}

	for _, id := range []string{"login-form", "main", "submit", "user_name"} {
		assert.False(t, selector.IsGeneratedID(id), id)
	}

	assert.True(t, selector.IsStableValue("/pricing"))
	assert.True(t, selector.IsStableValue("email"))
	assert.False(t, selector.IsStableValue("550e8400-e29b-41d4-a716-446655440000"))
	assert.False(t, selector.IsStableValue("1699999999"))
	assert.False(t, selector.IsStableValue("/cart?session=abc"))
	assert.False(t, selector.IsStableValue(strings.Repeat("a", 101)))

	assert.True(t, selector.IsGeneratedClass("css-1q2w3e"))
	assert.True(t, selector.IsGeneratedClass("Button_root__a8Xk2"))
	assert.False(t, selector.IsGeneratedClass("btn-primary"))

	assert.Equal(t, "#login-form", selector.IDSelector("login-form"))
	assert.Equal(t, `[id="1st"]`, selector.IDSelector("1st"))
	assert.Equal(t, `input[name="q\"x"]`, selector.AttrSelector("input", "name", `q"x`))
}

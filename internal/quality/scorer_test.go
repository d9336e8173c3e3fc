package quality_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"element-hunter/internal/config"
	"element-hunter/internal/ports/portstest"
	"element-hunter/internal/quality"
	"element-hunter/internal/selector"
	"element-hunter/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		AppConfig: &config.AppConfig{},
		BrowserConfig: &config.BrowserConfig{
			Driver:      config.DriverPlaywright,
			NavTimeout:  int((2 * time.Second).Milliseconds()),
			StepTimeout: int((time.Second).Milliseconds()),
			Concurrency: 3,
		},
		DetectionConfig: &config.DetectionConfig{},
		SelectorConfig: &config.SelectorConfig{
			ConfidenceFloor:          0.75,
			MaxCandidates:            10,
			XPathMaxDepth:            5,
			RelationalDepth:          3,
			PrioritizeUniqueness:     true,
			MinCandidatesBeforeXPath: 3,
			MaxTextLength:            50,
		},
		QualityConfig: &config.QualityConfig{
			UniquenessWeight:    0.4,
			StabilityWeight:     0.3,
			SpecificityWeight:   0.15,
			AccessibilityWeight: 0.15,
			Alternatives:        5,
		},
	}
}

func newScorer(conf *config.Config) *quality.Scorer {
	logger := zap.NewNop()

	return quality.NewScorer(quality.ScorerParams{
		Engine: selector.NewEngine(selector.Params{Config: conf, Logger: logger}),
		Config: conf,
		Logger: logger,
	})
}

func TestUniqueness(t *testing.T) {
	t.Parallel()

	cases := map[int]float64{0: 0, 1: 1, 2: 0.5, 3: 0.3, 5: 0.3, 6: 0.1, 40: 0.1, -1: 0}
	for count, want := range cases {
		assert.Equal(t, want, quality.Uniqueness(count), "count %d", count)
	}
}

func TestStability(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, quality.Stability(`[data-testid="submit-btn"]`))
	assert.Equal(t, 1.0, quality.Stability("#login"))
	assert.Equal(t, 0.0, quality.Stability(""))

	assert.Less(t, quality.Stability("#a1b2c3d4e5f6a7"), quality.Stability("#login"))
	assert.Less(t, quality.Stability(`[id="a1b2c3d4e5f6a7"]`), quality.Stability(`[id="login"]`))
	assert.Less(t, quality.Stability("div > span:nth-child(3)"), 0.8)
	assert.Less(t, quality.Stability("/html/body/div[2]/ul[1]/li[3]"), 0.5)
	assert.Less(t, quality.Stability(".css-1x2y3z4"), quality.Stability(".primary"))

	// A "#" or ":nth-child" inside a quoted value is not structure.
	assert.Equal(t, 1.0, quality.Stability(`a[href="#top:nth-child(2)"]`))
}

func TestSpecificity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, quality.Specificity("*"))
	assert.InDelta(t, 0.2, quality.Specificity("div"), 1e-9)
	assert.InDelta(t, 0.5, quality.Specificity(`button[type="submit"][name="go"]`), 1e-9)
	assert.Greater(t, quality.Specificity("button#go.primary"), quality.Specificity("button"))
	assert.LessOrEqual(t, quality.Specificity(`input#a.b.c.d[a][b][c][d][e]:has-text("x")`), 1.0)
}

func TestAccessibility(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.6, quality.Accessibility(`button[aria-label="Close"]`), 1e-9)
	assert.InDelta(t, 0.3, quality.Accessibility(`[role="dialog"]`), 1e-9)
	assert.Equal(t, 0.0, quality.Accessibility("div.x"))
	assert.Greater(t, quality.Accessibility(`button:has-text("Save")`), quality.Accessibility("div"))
}

func TestScoreWeightsAndPenalty(t *testing.T) {
	t.Parallel()

	s := newScorer(testConfig())

	for _, sel := range []string{`[data-testid="x"]`, "li.item", "/html/body/div[2]", "*"} {
		for _, n := range []int{0, 1, 4} {
			m := s.Score(sel, n)
			for _, v := range []float64{m.Uniqueness, m.Stability, m.Specificity, m.Accessibility, m.Overall} {
				assert.GreaterOrEqual(t, v, 0.0)
				assert.LessOrEqual(t, v, 1.0)
			}
		}
	}

	m := s.Score("li.item", 1)
	want := 0.4*m.Uniqueness + 0.3*m.Stability + 0.15*m.Specificity + 0.15*m.Accessibility
	assert.InDelta(t, want, m.Overall, 1e-9)

	p := s.PenalizeInconsistency(m)
	assert.InDelta(t, m.Uniqueness/2, p.Uniqueness, 1e-9)
	assert.Less(t, p.Overall, m.Overall)
	assert.Equal(t, m.Stability, p.Stability)
}

func TestSuggestions(t *testing.T) {
	t.Parallel()

	s := newScorer(testConfig())

	none := s.Suggestions("#missing", 0, s.Score("#missing", 0))
	require.NotEmpty(t, none)
	assert.Contains(t, none[0], "no elements")

	many := s.Suggestions("li.item", 4, s.Score("li.item", 4))
	assert.Contains(t, strings.Join(many, "\n"), "matches 4 elements")

	robust := s.Suggestions(`button[data-testid="save"][aria-label="Save"]`, 1, s.Score(`button[data-testid="save"][aria-label="Save"]`, 1))
	assert.Equal(t, []string{"Selector is unique and robust"}, robust)
}

const listPage = `<html><body>
<ul id="list">
  <li class="item"><button class="btn">Alpha</button></li>
  <li class="item"><button class="btn">Beta</button></li>
  <li class="item"><button class="btn">Gamma</button></li>
</ul>
</body></html>`

func navigated(t *testing.T, html string) *portstest.Page {
	t.Helper()

	p := portstest.SitePage(map[string]string{"https://shop.test/": html})
	require.NoError(t, p.Navigate(context.Background(), "https://shop.test/"))

	return p
}

func TestEvaluateNonUniqueProposesAlternatives(t *testing.T) {
	t.Parallel()

	res, err := newScorer(testConfig()).Evaluate(context.Background(), navigated(t, listPage), "button.btn")
	require.NoError(t, err)

	assert.Equal(t, "https://shop.test/", res.URL)
	assert.True(t, res.IsValid)
	assert.False(t, res.IsUnique)
	assert.Equal(t, 3, res.ElementCount)
	assert.InDelta(t, 0.3, res.QualityMetrics.Uniqueness, 1e-9)
	assert.NotEmpty(t, res.Suggestions)

	require.NotEmpty(t, res.Alternatives)
	assert.LessOrEqual(t, len(res.Alternatives), 5)

	for _, alt := range res.Alternatives {
		assert.NotEqual(t, "button.btn", alt.Selector)
	}

	assert.True(t, res.Alternatives[0].IsUnique)
}

func TestEvaluateUniqueSkipsAlternatives(t *testing.T) {
	t.Parallel()

	res, err := newScorer(testConfig()).Evaluate(context.Background(), navigated(t, listPage), "#list")
	require.NoError(t, err)

	assert.True(t, res.IsUnique)
	assert.Equal(t, 1.0, res.QualityMetrics.Uniqueness)
	assert.Empty(t, res.Alternatives)
}

func TestEvaluateZeroMatchesIsNotAnError(t *testing.T) {
	t.Parallel()

	res, err := newScorer(testConfig()).Evaluate(context.Background(), navigated(t, listPage), "#nope")
	require.NoError(t, err)

	assert.False(t, res.IsValid)
	assert.Equal(t, 0, res.ElementCount)
	assert.Equal(t, 0.0, res.QualityMetrics.Uniqueness)
	assert.Empty(t, res.Alternatives)
}

func TestEvaluateRejectsMalformedSelector(t *testing.T) {
	t.Parallel()

	_, err := newScorer(testConfig()).Evaluate(context.Background(), navigated(t, listPage), "button[")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
}

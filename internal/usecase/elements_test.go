package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"element-hunter/internal/config"
	"element-hunter/internal/detect"
	"element-hunter/internal/entity"
	"element-hunter/internal/ports"
	"element-hunter/internal/ports/portstest"
	"element-hunter/internal/quality"
	"element-hunter/internal/selector"
	"element-hunter/internal/usecase"
	"element-hunter/pkg/apperr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		AppConfig: &config.AppConfig{},
		BrowserConfig: &config.BrowserConfig{
			Driver:      config.DriverPlaywright,
			NavTimeout:  2000,
			StepTimeout: 1000,
			Concurrency: 2,
		},
		DetectionConfig: &config.DetectionConfig{
			UseAdvancedSelectors: true,
			UseEnhancedFiltering: true,
			MaxElements:          200,
			MaxScanned:           3000,
			MaxTableRows:         50,
			MaxOptions:           100,
			CandidatesPerElement: 3,
			TestAttrWeight:       0.3,
			InteractiveWeight:    0.25,
			TextWeight:           0.15,
			AriaWeight:           0.15,
			IdentityWeight:       0.1,
			FormWeight:           0.05,
			ConfidenceFloor:      0.1,
		},
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

func newService(conf *config.Config, b ports.BrowserManager) *usecase.ElementService {
	logger := zap.NewNop()
	engine := selector.NewEngine(selector.Params{Config: conf, Logger: logger})

	return usecase.NewElementService(usecase.ElementServiceParams{
		Config:     conf,
		Logger:     logger,
		Browser:    b,
		Classifier: detect.NewClassifier(detect.ClassifierParams{Config: conf, Logger: logger}),
		Enhancer:   detect.NewEnhancer(detect.EnhancerParams{Engine: engine, Config: conf, Logger: logger}),
		Assembler:  detect.NewAssembler(detect.AssemblerParams{Config: conf, Logger: logger}),
		Scorer:     quality.NewScorer(quality.ScorerParams{Engine: engine, Config: conf, Logger: logger}),
		Validator:  quality.NewValidator(quality.ValidatorParams{Browser: b, Config: conf, Logger: logger}),
	})
}

func rawButton(sel, text string, path []int, attrs ...string) entity.RawElement {
	a := map[string]string{}
	for i := 0; i+1 < len(attrs); i += 2 {
		a[attrs[i]] = attrs[i+1]
	}

	return entity.RawElement{
		Tag:        "button",
		Attributes: a,
		Text:       text,
		TextLength: len(text),
		Path:       path,
		NthOfType:  path[len(path)-1] + 1,
		Rect:       entity.BoundingBox{Width: 100, Height: 20},
		Style:      entity.StyleSummary{Display: "inline-block", Visibility: "visible"},
		Selector:   sel,
	}
}

const (
	shopURL  = "https://shop.test/"
	shopPage = `<html><body><div><button>Cancel</button><button data-testid="save">Save</button></div></body></html>`
)

// shopBrowser serves shopPage, with a collector that reports its two buttons
// under positional selectors. tweak adjusts each page before it is handed out.
func shopBrowser(tweak func(p *portstest.Page)) *portstest.Browser {
	b := &portstest.Browser{}
	b.OpenPageFn = func(ctx context.Context) (ports.Page, error) {
		p := portstest.SitePage(map[string]string{shopURL: shopPage})
		p.OverviewFn = func(ctx context.Context) (string, string, error) {
			return "Shop", "Cancel Save", nil
		}
		p.CollectFn = func(ctx context.Context) (*entity.Collection, error) {
			return &entity.Collection{
				URL: p.URL(),
				Elements: []entity.RawElement{
					rawButton("button:nth-of-type(1)", "Cancel", []int{1, 0, 0}),
					rawButton("button:nth-of-type(2)", "Save", []int{1, 0, 1}, "data-testid", "save"),
				},
			}, nil
		}

		if tweak != nil {
			tweak(p)
		}

		return p, nil
	}

	return b
}

func TestAnalyzePageExtractsElements(t *testing.T) {
	t.Parallel()

	b := shopBrowser(nil)

	a, err := newService(testConfig(), b).AnalyzePage(context.Background(), shopURL)
	require.NoError(t, err)

	assert.True(t, a.Success)
	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.Equal(t, shopURL, a.FinalURL)
	assert.Equal(t, "Shop", a.Title)
	assert.Empty(t, a.ErrorCategory)
	assert.Nil(t, a.Failure)

	require.Len(t, a.Elements, 2)

	sels := map[string]entity.DetectedElement{}
	for _, el := range a.Elements {
		sels[el.Selector] = el
		assert.Equal(t, entity.ElementTypeButton, el.ElementType)
	}

	save, ok := sels[`[data-testid="save"]`]
	require.True(t, ok, "fragile selector replaced by the test attribute")
	assert.Equal(t, detect.SourceStrategy, save.SelectorSource)
	assert.NotEmpty(t, save.Candidates)
	assert.Equal(t, `[data-testid="save"]`, a.Elements[0].Selector, "highest confidence first")

	assert.Equal(t, 1, b.Opened())
	assert.Zero(t, b.Leaked())
}

func TestAnalyzePageWithoutAdvancedSelectorsKeepsInPageSelectors(t *testing.T) {
	t.Parallel()

	conf := testConfig()
	conf.DetectionConfig.UseAdvancedSelectors = false

	a, err := newService(conf, shopBrowser(nil)).AnalyzePage(context.Background(), shopURL)
	require.NoError(t, err)

	require.True(t, a.Success)

	for _, el := range a.Elements {
		assert.Equal(t, detect.SourceInPage, el.SelectorSource)
		assert.Empty(t, el.Candidates)
	}
}

func TestAnalyzePageCategorizesFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		url   string
		tweak func(p *portstest.Page)
		want  apperr.Category
	}{
		{
			name: "network",
			url:  "https://down.test/",
			want: apperr.CategoryNetwork,
		},
		{
			name: "login redirect",
			url:  shopURL,
			tweak: func(p *portstest.Page) {
				p.NavigateFn = func(ctx context.Context, url string) error {
					p.CurrentURL = "https://shop.test/login?next=%2F"

					return nil
				}
			},
			want: apperr.CategoryAuthentication,
		},
		{
			name: "bot challenge",
			url:  shopURL,
			tweak: func(p *portstest.Page) {
				p.OverviewFn = func(ctx context.Context) (string, string, error) {
					return "Just a moment...", "Checking your browser before accessing shop.test", nil
				}
			},
			want: apperr.CategoryBotDetection,
		},
		{
			name: "script error",
			url:  shopURL,
			tweak: func(p *portstest.Page) {
				p.CollectFn = func(ctx context.Context) (*entity.Collection, error) {
					return nil, apperr.WithCategory("Collect", apperr.CategoryJavaScript,
						errors.New("TypeError: document.querySelectorAll is not a function"), nil)
				}
			},
			want: apperr.CategoryJavaScript,
		},
		{
			name: "slow site",
			url:  shopURL,
			tweak: func(p *portstest.Page) {
				p.NavigateFn = func(ctx context.Context, url string) error {
					return apperr.Wrap("Navigate", apperr.CodeNavigation, context.DeadlineExceeded, map[string]any{
						apperr.MetaStage: apperr.StageNavigation,
					})
				}
			},
			want: apperr.CategorySlowSiteTimeout,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			b := shopBrowser(tc.tweak)

			a, err := newService(testConfig(), b).AnalyzePage(context.Background(), tc.url)
			require.NoError(t, err, "page failures are carried in the analysis")

			assert.False(t, a.Success)
			assert.Equal(t, tc.want, a.ErrorCategory)
			require.NotNil(t, a.Failure)
			assert.NotEmpty(t, a.Failure.Suggestions)
			assert.NotNil(t, a.Elements)
			assert.Empty(t, a.Elements)
			assert.Zero(t, b.Leaked())
		})
	}
}

func TestAnalyzePageRejectsBadInput(t *testing.T) {
	t.Parallel()

	s := newService(testConfig(), shopBrowser(nil))

	for _, u := range []string{"", "ftp://shop.test/", "https://", "shop.test"} {
		_, err := s.AnalyzePage(context.Background(), u)
		assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err), u)
	}

	_, err := newService(testConfig(), &portstest.Browser{NotReady: true}).AnalyzePage(context.Background(), shopURL)
	assert.Equal(t, apperr.CodeBrowserNotReady, apperr.CodeOf(err))
}

func TestAnalyzePagesKeepsOrderAndIsolatesFailures(t *testing.T) {
	t.Parallel()

	b := shopBrowser(nil)
	urls := []string{shopURL, "https://down.test/", shopURL, "not a url"}

	res, err := newService(testConfig(), b).AnalyzePages(context.Background(), urls)
	require.NoError(t, err)
	require.Len(t, res, 4)

	assert.True(t, res[0].Success)
	assert.False(t, res[1].Success)
	assert.Equal(t, apperr.CategoryNetwork, res[1].ErrorCategory)
	assert.True(t, res[2].Success)
	assert.False(t, res[3].Success)
	assert.Equal(t, "not a url", res[3].URL)

	assert.Equal(t, 3, b.Opened())
	assert.Zero(t, b.Leaked())

	_, err = newService(testConfig(), b).AnalyzePages(context.Background(), nil)
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
}

const (
	manyItems = `<html><body><ul>` +
		`<li class="item">a</li><li class="item">b</li><li class="item">c</li><li class="item">d</li>` +
		`</ul></body></html>`
	oneItem = `<html><body><ul><li class="item">only</li></ul></body></html>`
)

func TestValidateSelector(t *testing.T) {
	t.Parallel()

	b := portstest.Site(map[string]string{"https://a.test/": manyItems})
	s := newService(testConfig(), b)

	res, err := s.ValidateSelector(context.Background(), "https://a.test/", "li.item")
	require.NoError(t, err)

	assert.True(t, res.IsValid)
	assert.False(t, res.IsUnique)
	assert.Equal(t, 4, res.ElementCount)
	assert.NotEmpty(t, res.Alternatives)
	assert.Nil(t, res.Failure)

	down, err := s.ValidateSelector(context.Background(), "https://down.test/", "li.item")
	require.NoError(t, err)
	require.NotNil(t, down.Failure)
	assert.Equal(t, apperr.CategoryNetwork, down.Failure.Category)
	assert.Equal(t, "down.test", down.Failure.Hostname)
	assert.NotEmpty(t, down.Error)
	assert.False(t, down.IsValid)

	_, err = s.ValidateSelector(context.Background(), "https://a.test/", "")
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	assert.Zero(t, b.Leaked())
}

func TestValidateAcrossPagesPenalizesInconsistency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	urls := []string{"https://a.test/", "https://b.test/"}

	mixed := newService(testConfig(), portstest.Site(map[string]string{
		"https://a.test/": manyItems,
		"https://b.test/": oneItem,
	}))

	res, err := mixed.ValidateSelectorAcrossPages(ctx, urls, "li.item")
	require.NoError(t, err)
	require.NotNil(t, res.CrossPageValidation)

	assert.Equal(t, "https://a.test/", res.URL)
	assert.False(t, res.CrossPageValidation.UniqueOnAllPages)
	assert.Equal(t, []string{"https://a.test/"}, res.CrossPageValidation.InconsistentPages)
	assert.InDelta(t, 0.15, res.QualityMetrics.Uniqueness, 1e-9)
	assert.Contains(t, res.Suggestions[len(res.Suggestions)-1], "not unique on 1 of 2 pages")

	unique := newService(testConfig(), portstest.Site(map[string]string{
		"https://a.test/": oneItem,
		"https://b.test/": oneItem,
	}))

	both, err := unique.ValidateSelectorAcrossPages(ctx, urls, "li.item")
	require.NoError(t, err)

	assert.True(t, both.CrossPageValidation.UniqueOnAllPages)
	assert.Equal(t, 1.0, both.QualityMetrics.Uniqueness)
	assert.Less(t, res.QualityMetrics.Overall, both.QualityMetrics.Overall)
}

func TestValidateAcrossPagesRejectsBadInput(t *testing.T) {
	t.Parallel()

	s := newService(testConfig(), portstest.Site(nil))

	_, err := s.ValidateSelectorAcrossPages(context.Background(), nil, "#x")
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	_, err = s.ValidateSelectorAcrossPages(context.Background(), []string{"https://a.test/", ""}, "#x")
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
}

func TestAnalyzePageHonorsCancellation(t *testing.T) {
	t.Parallel()

	b := shopBrowser(func(p *portstest.Page) {
		p.NavigateFn = func(ctx context.Context, url string) error {
			<-ctx.Done()

			return ctx.Err()
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	a, err := newService(testConfig(), b).AnalyzePage(ctx, shopURL)
	require.NoError(t, err)

	assert.False(t, a.Success)
	assert.Zero(t, b.Leaked())
}

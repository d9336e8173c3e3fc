package detect_test

import (
	"context"
	"fmt"
	"testing"

	"element-hunter/internal/config"
	"element-hunter/internal/detect"
	"element-hunter/internal/dom"
	"element-hunter/internal/entity"
	"element-hunter/internal/selector"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		AppConfig:     &config.AppConfig{},
		BrowserConfig: &config.BrowserConfig{Driver: config.DriverPlaywright, Concurrency: 3},
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
		QualityConfig: &config.QualityConfig{},
	}
}

type pipeline struct {
	classifier *detect.Classifier
	enhancer   *detect.Enhancer
	assembler  *detect.Assembler
}

func newPipeline(conf *config.Config) pipeline {
	logger := zap.NewNop()

	return pipeline{
		classifier: detect.NewClassifier(detect.ClassifierParams{Config: conf, Logger: logger}),
		enhancer: detect.NewEnhancer(detect.EnhancerParams{
			Engine: selector.NewEngine(selector.Params{Config: conf, Logger: logger}),
			Config: conf,
			Logger: logger,
		}),
		assembler: detect.NewAssembler(detect.AssemblerParams{Config: conf, Logger: logger}),
	}
}

func (p pipeline) run(col *entity.Collection) []entity.DetectedElement {
	ctx := context.Background()

	return p.assembler.Assemble(ctx, p.classifier.Classify(ctx, col))
}

func raw(tag, sel, text string, attrs ...string) entity.RawElement {
	a := map[string]string{}
	for i := 0; i+1 < len(attrs); i += 2 {
		a[attrs[i]] = attrs[i+1]
	}

	return entity.RawElement{
		Tag:        tag,
		Attributes: a,
		Text:       text,
		TextLength: len(text),
		Rect:       entity.BoundingBox{Width: 100, Height: 20},
		Style:      entity.StyleSummary{Display: "block", Visibility: "visible"},
		Selector:   sel,
		NthOfType:  1,
	}
}

func TestSubmitButtonScenario(t *testing.T) {
	t.Parallel()

	col := &entity.Collection{URL: "https://shop.example/"}
	col.Elements = append(col.Elements, raw("button", `[data-testid="submit-btn"]`, "Submit", "data-testid", "submit-btn"))

	for i := 2; i <= 10; i++ {
		col.Elements = append(col.Elements, raw("button", fmt.Sprintf("button:nth-of-type(%d)", i), ""))
	}

	got := newPipeline(testConfig()).run(col)
	require.Len(t, got, 10)

	top := got[0]
	assert.Equal(t, `[data-testid="submit-btn"]`, top.Selector)
	assert.Equal(t, entity.ElementTypeButton, top.ElementType)
	assert.GreaterOrEqual(t, top.Confidence, 0.55)
	assert.Equal(t, `Button "Submit"`, top.Description)
}

func TestTableScenario(t *testing.T) {
	t.Parallel()

	table := raw("table", "#users", "Name Email a a@x b b@x c c@x", "id", "users")
	table.Table = &entity.RawTable{
		Headers:     []string{"Name", "Email"},
		RowCount:    3,
		ColumnCount: 2,
		Rows: []entity.RawRow{
			{Section: "tbody:nth-of-type(1)", Position: 1, Cells: []string{"a", "a@x"}},
			{Section: "tbody:nth-of-type(1)", Position: 2, Cells: []string{"b", "b@x"}},
			{Section: "tbody:nth-of-type(1)", Position: 3, Cells: []string{"c", "c@x"}},
		},
	}

	col := &entity.Collection{Elements: []entity.RawElement{table}}

	for _, tag := range []string{"thead", "tr", "th", "th", "tbody", "tr", "td", "td"} {
		col.Elements = append(col.Elements, raw(tag, tag, "x", "onclick", "f()"))
	}

	link := raw("a", "#users a", "a@x", "href", "mailto:a@x")
	link.TableDescendant = true
	col.Elements = append(col.Elements, link)

	got := newPipeline(testConfig()).run(col)
	require.Len(t, got, 1)

	el := got[0]
	assert.Equal(t, entity.ElementTypeTable, el.ElementType)
	require.NotNil(t, el.Attributes.TableData)

	td := el.Attributes.TableData
	assert.Equal(t, []string{"Name", "Email"}, td.Headers)
	assert.Equal(t, 3, td.RowCount)
	assert.Equal(t, "#users", td.TableSelector)
	assert.Equal(t, []string{
		"#users > tbody:nth-of-type(1) > tr:nth-child(1)",
		"#users > tbody:nth-of-type(1) > tr:nth-child(2)",
		"#users > tbody:nth-of-type(1) > tr:nth-child(3)",
	}, td.RowSelectors)
	assert.Equal(t, []string{"#users tr > :nth-child(1)", "#users tr > :nth-child(2)"}, td.ColumnSelectors)
	assert.Equal(t, "#users > tbody:nth-of-type(1) > tr:nth-child(2) > :nth-child(2)", td.CellSelectors[1][1])
	assert.Equal(t, map[string]int{"Name": 0, "Email": 1}, td.ColumnIndex)
	assert.Equal(t, []string{"c", "c@x"}, td.Rows[2])
}

func TestTableSelectorsMatchSnapshot(t *testing.T) {
	t.Parallel()

	s, err := dom.ParseHTML(`<html><body><table id="users">
	<thead><tr><th>Name</th><th>Email</th></tr></thead>
	<tbody><tr><td>a</td><td>a@x</td></tr><tr><td>b</td><td>b@x</td></tr></tbody>
	</table></body></html>`)
	require.NoError(t, err)

	table := raw("table", "#users", "", "id", "users")
	table.Table = &entity.RawTable{
		Headers: []string{"Name", "Email"}, RowCount: 2, ColumnCount: 2,
		Rows: []entity.RawRow{
			{Section: "tbody:nth-of-type(1)", Position: 1, Cells: []string{"a", "a@x"}},
			{Section: "tbody:nth-of-type(1)", Position: 2, Cells: []string{"b", "b@x"}},
		},
	}

	got := newPipeline(testConfig()).run(&entity.Collection{Elements: []entity.RawElement{table}})
	require.Len(t, got, 1)

	td := got[0].Attributes.TableData

	cell, err := s.QueryAll(td.CellSelectors[1][1])
	require.NoError(t, err)
	require.Len(t, cell, 1)
	assert.Equal(t, "b@x", cell[0].Text())

	col, err := s.Count(td.ColumnSelectors[0])
	require.NoError(t, err)
	assert.Equal(t, 3, col)
}

func TestTypeChain(t *testing.T) {
	t.Parallel()

	listbox := raw("button", "#country", "Country", "id", "country", "aria-controls", "country-list")
	listbox.Controls = &entity.ControlTarget{ID: "country-list", Exists: true, Role: "listbox"}

	modalBtn := raw("button", "#open", "Open", "id", "open", "aria-controls", "dlg")
	modalBtn.Controls = &entity.ControlTarget{ID: "dlg", Exists: true, ClassName: "modal fade"}

	tests := []struct {
		name string
		el   entity.RawElement
		want entity.ElementType
	}{
		{"modal by role", raw("div", "#dlg", "Hello", "role", "dialog", "id", "dlg"), entity.ElementTypeElement},
		{"modal trigger by data-toggle", raw("button", "#t", "Open", "data-bs-toggle", "modal"), entity.ElementTypeModalTrigger},
		{"modal trigger by controls target", modalBtn, entity.ElementTypeModalTrigger},
		{"modal trigger by onclick", raw("a", "#o", "Open", "onclick", "openModal('x')"), entity.ElementTypeModalTrigger},
		{"native select", raw("select", "#s", "One", "name", "s"), entity.ElementTypeDropdown},
		{"combobox", raw("input", "#c", "", "role", "combobox"), entity.ElementTypeDropdown},
		{"button controlling listbox", listbox, entity.ElementTypeDropdown},
		{"dropdown option", raw("li", "#opt", "Option A", "role", "option"), entity.ElementTypeElement},
		{"tab", raw("a", "#tab", "Profile", "role", "tab", "href", "#profile"), entity.ElementTypeTab},
		{"accordion", raw("button", "#acc", "More", "data-bs-toggle", "collapse"), entity.ElementTypeAccordion},
		{"switch", raw("button", "#sw", "Dark", "role", "switch", "aria-checked", "true"), entity.ElementTypeToggle},
		{"button", raw("button", "#b", "Save"), entity.ElementTypeButton},
		{"submit input", raw("input", "#si", "", "type", "submit"), entity.ElementTypeButton},
		{"checkbox is input", raw("input", "#cb", "", "type", "checkbox"), entity.ElementTypeInput},
		{"link", raw("a", "#l", "Home", "href", "/"), entity.ElementTypeLink},
		{"form", raw("form", "#f", "", "id", "f"), entity.ElementTypeForm},
		{"nav", raw("nav", "#n", "Home About"), entity.ElementTypeNavigation},
		{"image", raw("img", "#i", "", "alt", "Logo"), entity.ElementTypeImage},
		{"heading", raw("h1", "#h", "Welcome"), entity.ElementTypeText},
		{"status", raw("div", "#err", "Wrong password", "class", "error-message"), entity.ElementTypeText},
		{"clickable div", raw("div", "#d", "Card", "data-testid", "card"), entity.ElementTypeElement},
	}

	p := newPipeline(testConfig())

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := p.run(&entity.Collection{Elements: []entity.RawElement{tc.el}})
			require.Len(t, got, 1)
			assert.Equal(t, tc.want, got[0].ElementType)

			a := got[0].Attributes
			assert.Equal(t, tc.want == entity.ElementTypeTable, a.TableData != nil)
			assert.Equal(t, tc.want == entity.ElementTypeDropdown, a.DropdownData != nil)
			assert.Equal(t, tc.want.HasToggleState(), a.ToggleState != nil)
		})
	}
}

func TestToggleState(t *testing.T) {
	t.Parallel()

	present := raw("button", "#menu-btn", "Menu", "aria-expanded", "true", "aria-controls", "menu")
	present.Controls = &entity.ControlTarget{ID: "menu", Exists: true}

	missing := raw("button", "#more", "More", "aria-expanded", "false", "aria-controls", "gone")
	missing.Controls = &entity.ControlTarget{ID: "gone", Exists: false}

	pressed := raw("button", "#bold", "B", "aria-pressed", "false")

	got := newPipeline(testConfig()).run(&entity.Collection{Elements: []entity.RawElement{present, missing, pressed}})
	require.Len(t, got, 3)

	bySel := map[string]*entity.ToggleState{}
	for _, el := range got {
		bySel[el.Selector] = el.Attributes.ToggleState
	}

	assert.Equal(t, &entity.ToggleState{State: entity.ToggleExpanded, Controls: "#menu"}, bySel["#menu-btn"])
	assert.Equal(t, &entity.ToggleState{State: entity.ToggleCollapsed}, bySel["#more"])
	assert.Equal(t, &entity.ToggleState{State: entity.ToggleOff}, bySel["#bold"])
}

func TestDropdownOptions(t *testing.T) {
	t.Parallel()

	sel := raw("select", "#country", "Spain", "id", "country", "name", "country")
	sel.Options = []entity.RawOption{
		{Value: "", Text: "Choose", Index: 0},
		{Value: "es", Text: "Spain", Selected: true, Index: 1},
		{Value: "pt", Text: "Portugal", Index: 2},
	}

	got := newPipeline(testConfig()).run(&entity.Collection{Elements: []entity.RawElement{sel}})
	require.Len(t, got, 1)

	dd := got[0].Attributes.DropdownData
	require.NotNil(t, dd)
	assert.True(t, dd.Native)
	require.Len(t, dd.Options, 3)
	assert.Equal(t, `#country option:text-is("Choose")`, dd.Options[0].Selector)
	assert.Equal(t, `#country option[value="es"]`, dd.Options[1].Selector)
	assert.True(t, dd.Options[1].Selected)

	s, err := dom.ParseHTML(`<html><body><select id="country"><option value="">Choose</option><option value="es">Spain</option><option value="pt">Portugal</option></select></body></html>`)
	require.NoError(t, err)

	for _, o := range dd.Options {
		n, err := s.Count(o.Selector)
		require.NoError(t, err)
		assert.Equal(t, 1, n, o.Selector)
	}
}

func TestNoDuplicateSelectors(t *testing.T) {
	t.Parallel()

	col := &entity.Collection{Elements: []entity.RawElement{
		raw("button", "button.btn", "One"),
		raw("button", "button.btn", "Two"),
		raw("button", "button.btn:nth-of-type(2)", "Three"),
		raw("a", `a:has-text("Go")`, "Go", "href", "/a"),
		raw("a", `a:has-text("Go")`, "Go", "href", "/b"),
	}}
	col.Elements[1].NthOfType = 2
	col.Elements[4].Path = []int{1, 3}

	got := newPipeline(testConfig()).run(col)
	require.Len(t, got, 5)

	seen := map[string]bool{}
	for _, el := range got {
		assert.False(t, seen[el.Selector], "duplicate selector %s", el.Selector)
		seen[el.Selector] = true
	}

	assert.True(t, seen["button.btn:nth-of-type(3)"])
	assert.True(t, seen["html > :nth-child(2) > :nth-child(4)"])
}

func TestConfidenceBounds(t *testing.T) {
	t.Parallel()

	conf := testConfig()
	conf.DetectionConfig.TestAttrWeight = 0.9
	conf.DetectionConfig.InteractiveWeight = 0.9

	col := &entity.Collection{Elements: []entity.RawElement{
		raw("button", "#a", "Buy now", "id", "a", "data-testid", "buy", "aria-label", "Buy"),
		raw("div", "#b", "", "id", "b", "onclick", "x()"),
	}}
	col.Elements[0].InForm = true

	got := newPipeline(conf).run(col)
	require.Len(t, got, 2)

	for _, el := range got {
		assert.GreaterOrEqual(t, el.Confidence, 0.0)
		assert.LessOrEqual(t, el.Confidence, 1.0)
	}

	assert.Equal(t, 1.0, got[0].Confidence)
}

func TestFilterCascade(t *testing.T) {
	t.Parallel()

	hidden := raw("button", "#hidden", "Hidden", "id", "hidden")
	hidden.Style.Display = "none"

	zero := raw("div", "#zero", "Zero", "data-testid", "zero")
	zero.Rect = entity.BoundingBox{}

	zeroInput := raw("input", "#q", "", "name", "q")
	zeroInput.Rect = entity.BoundingBox{}

	col := &entity.Collection{Elements: []entity.RawElement{
		raw("script", "script", "var a"),
		hidden,
		zero,
		zeroInput,
		raw("div", "div.plain", ""),
		raw("div", "div.wrapper", "Some text without signals"),
		raw("p", "#s1", "Saved", "role", "status"),
		raw("p", "#s2", "Saved", "role", "status"),
		raw("button", "#b1", "Delete"),
		raw("button", "#b2", "Delete"),
	}}

	got := newPipeline(testConfig()).run(col)

	var sels []string
	for _, el := range got {
		sels = append(sels, el.Selector)
	}

	assert.ElementsMatch(t, []string{"#q", "#s1", "#b1", "#b2"}, sels)
}

func TestEnhanceReplacesFragileSelector(t *testing.T) {
	t.Parallel()

	s, err := dom.ParseHTML(`<html><body><div><button>Cancel</button><button data-testid="save">Save</button></div></body></html>`)
	require.NoError(t, err)

	// html > body(1) > div(0) > button(1)
	save := raw("button", "button:nth-of-type(2)", "Save", "data-testid", "save")
	save.Path = []int{1, 0, 1}

	stray := raw("button", "#ghost", "Ghost", "id", "ghost")
	stray.Path = []int{1, 0, 0}

	conf := testConfig()
	p := newPipeline(conf)
	ctx := context.Background()

	items := p.classifier.Classify(ctx, &entity.Collection{Elements: []entity.RawElement{save, stray}})
	require.Len(t, items, 2)

	p.enhancer.Enhance(ctx, s, items)

	assert.Equal(t, `[data-testid="save"]`, items[0].Selector)
	assert.Equal(t, detect.SourceStrategy, items[0].SelectorSource)
	assert.NotEmpty(t, items[0].Candidates)
	assert.LessOrEqual(t, len(items[0].Candidates), conf.DetectionConfig.CandidatesPerElement)

	// Path resolves to a button, but the in-page selector is not fragile.
	assert.Equal(t, "#ghost", items[1].Selector)
	assert.Equal(t, detect.SourceInPage, items[1].SelectorSource)
}

func TestEnhanceInlineSplitTextMatchesLivePage(t *testing.T) {
	t.Parallel()

	s, err := dom.ParseHTML(`<html><body><div><button>Cancel</button><button>Sign in<span>→</span></button></div></body></html>`)
	require.NoError(t, err)

	signIn := raw("button", "div > button:nth-child(2)", "Sign in→")
	signIn.Path = []int{1, 0, 1}

	p := newPipeline(testConfig())
	ctx := context.Background()

	items := p.classifier.Classify(ctx, &entity.Collection{Elements: []entity.RawElement{signIn}})
	require.Len(t, items, 1)

	p.enhancer.Enhance(ctx, s, items)

	assert.NotContains(t, items[0].Selector, "Sign in →")

	n, err := s.Count(items[0].Selector)
	require.NoError(t, err)
	assert.Equal(t, 1, n, items[0].Selector)

	for _, c := range items[0].Candidates {
		assert.NotContains(t, c.Selector, "Sign in →")
	}
}

func TestEnhanceDropsTextCandidatesWhenTextDisagrees(t *testing.T) {
	t.Parallel()

	// innerText puts a line break between the blocks; textContent does not.
	s, err := dom.ParseHTML(`<html><body><div><button><div>Sign</div><div>up</div></button><button>Other</button></div></body></html>`)
	require.NoError(t, err)

	signUp := raw("button", "div > button:nth-child(1)", "Sign up")
	signUp.Path = []int{1, 0, 0}

	p := newPipeline(testConfig())
	ctx := context.Background()

	items := p.classifier.Classify(ctx, &entity.Collection{Elements: []entity.RawElement{signUp}})
	require.Len(t, items, 1)

	p.enhancer.Enhance(ctx, s, items)

	for _, sel := range append([]string{items[0].Selector}, lo.Map(items[0].Candidates,
		func(c entity.GeneratedSelectorCandidate, _ int) string { return c.Selector })...) {
		assert.NotContains(t, sel, ":has-text(")
		assert.NotContains(t, sel, ":text-is(")
	}
}

func TestTextAgrees(t *testing.T) {
	t.Parallel()

	full := raw("button", "button", "Submit")
	assert.True(t, detect.TextAgrees("  Submit ", &full))
	assert.False(t, detect.TextAgrees("Sub mit", &full))

	cut := raw("p", "p", "Lorem ipsum")
	cut.TextLength = 900
	assert.True(t, detect.TextAgrees("Lorem ipsum dolor sit amet", &cut))
	assert.False(t, detect.TextAgrees("Dolor ipsum", &cut))
}

func TestIsFragile(t *testing.T) {
	t.Parallel()

	assert.True(t, detect.IsFragile("div"))
	assert.True(t, detect.IsFragile("ul > li:nth-child(3)"))
	assert.True(t, detect.IsFragile(""))
	assert.False(t, detect.IsFragile("#login"))
	assert.False(t, detect.IsFragile(`[data-testid="x"]`))
}

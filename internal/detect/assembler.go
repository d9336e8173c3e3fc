package detect

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"element-hunter/internal/config"
	"element-hunter/internal/dom"
	"element-hunter/internal/entity"
	"element-hunter/internal/selector"
	"element-hunter/pkg/logg"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const assemblerName = "ResultAssembler"

var nthSuffix = regexp.MustCompile(`:nth-of-type\((\d+)\)$`)

type Assembler struct {
	conf   *config.DetectionConfig
	logger *zap.Logger
}

type AssemblerParams struct {
	fx.In

	Config *config.Config
	Logger *zap.Logger
}

func NewAssembler(params AssemblerParams) *Assembler {
	return &Assembler{
		conf:   params.Config.DetectionConfig,
		logger: params.Logger.With(zap.String(logg.Layer, assemblerName)),
	}
}

// Assemble produces the final element list of a page: selectors are made
// pairwise distinct, structured data is attached by type, and the result is
// sorted by confidence and capped.
func (a *Assembler) Assemble(ctx context.Context, items []Classified) []entity.DetectedElement {
	const op = "Assemble"
	logger := a.logger.With(zap.String(logg.Operation, op))

	used := make(map[string]bool, len(items))
	out := make([]entity.DetectedElement, 0, len(items))
	renamed := 0

	for i := range items {
		item := &items[i]

		sel, changed := disambiguate(item, used)
		if sel == "" {
			continue
		}

		used[sel] = true

		source := item.SelectorSource
		if changed {
			source = SourceDisambiguated
			renamed++
		}

		out = append(out, a.build(item, sel, source))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})

	if a.conf.MaxElements > 0 && len(out) > a.conf.MaxElements {
		out = out[:a.conf.MaxElements]
	}

	logger.Debug("Assembled elements", zap.Int(logg.Count, len(out)), zap.Int("disambiguated", renamed))

	return out
}

// disambiguate returns a selector not yet in used. Plain CSS gets an
// nth-of-type suffix appended or incremented; selectors with driver
// extensions fall back to the element's structural path.
func disambiguate(item *Classified, used map[string]bool) (string, bool) {
	sel := strings.TrimSpace(item.Selector)
	if sel == "" {
		sel = dom.PathSelector(item.Raw.Path)
	}

	if !used[sel] {
		return sel, false
	}

	if dom.HasDriverExtensions(sel) {
		if p := dom.PathSelector(item.Raw.Path); p != "" && !used[p] {
			return p, true
		}

		return "", false
	}

	base, n := sel, max(item.Raw.NthOfType, 1)

	if m := nthSuffix.FindStringSubmatchIndex(sel); m != nil {
		base = sel[:m[0]]
		k, _ := strconv.Atoi(sel[m[2]:m[3]])
		n = k + 1
	}

	for ; n < 10000; n++ {
		cand := base + ":nth-of-type(" + strconv.Itoa(n) + ")"
		if !used[cand] {
			return cand, true
		}
	}

	return "", false
}

func (a *Assembler) build(item *Classified, sel, source string) entity.DetectedElement {
	raw := item.Raw

	attrs := entity.ElementAttributes{
		DOM:         raw.Attributes,
		Tag:         raw.Tag,
		Text:        raw.Text,
		Style:       raw.Style,
		BoundingBox: raw.Rect,
	}

	if attrs.DOM == nil {
		attrs.DOM = map[string]string{}
	}

	switch {
	case item.Type == entity.ElementTypeTable:
		attrs.TableData = tableData(raw.Table, sel)
	case item.Type == entity.ElementTypeDropdown:
		attrs.DropdownData = dropdownData(raw, sel, a.conf.MaxOptions)
	case item.Type.HasToggleState():
		attrs.ToggleState = toggleState(raw)
	}

	return entity.DetectedElement{
		Selector:       sel,
		SelectorSource: source,
		ElementType:    item.Type,
		Description:    item.Description,
		Confidence:     min(max(item.Confidence, 0), 1),
		Attributes:     attrs,
		Candidates:     item.Candidates,
	}
}

// scoped appends rel to base as a child (or, for selectors with driver
// extensions, a chained) query.
func scoped(base, rel string, child bool) string {
	switch {
	case dom.HasDriverExtensions(base):
		return base + " >> " + rel
	case child:
		return base + " > " + rel
	}

	return base + " " + rel
}

func tableData(t *entity.RawTable, sel string) *entity.TableData {
	td := &entity.TableData{
		Headers:         []string{},
		Rows:            [][]string{},
		TableSelector:   sel,
		RowSelectors:    []string{},
		ColumnSelectors: []string{},
		CellSelectors:   [][]string{},
		ColumnIndex:     map[string]int{},
	}

	if t == nil {
		return td
	}

	td.Headers = append(td.Headers, t.Headers...)
	td.RowCount = t.RowCount

	cols := max(t.ColumnCount, len(t.Headers))

	for j := 0; j < cols; j++ {
		td.ColumnSelectors = append(td.ColumnSelectors, scoped(sel, "tr > :nth-child("+strconv.Itoa(j+1)+")", false))
	}

	for j, h := range t.Headers {
		if _, ok := td.ColumnIndex[h]; !ok && h != "" {
			td.ColumnIndex[h] = j
		}
	}

	for _, r := range t.Rows {
		rel := "tr:nth-child(" + strconv.Itoa(r.Position) + ")"
		if r.Section != "" {
			rel = r.Section + " > " + rel
		}

		rowSel := scoped(sel, rel, true)
		cells := make([]string, len(r.Cells))

		for j := range r.Cells {
			cells[j] = rowSel + " > :nth-child(" + strconv.Itoa(j+1) + ")"
		}

		td.Rows = append(td.Rows, append([]string(nil), r.Cells...))
		td.RowSelectors = append(td.RowSelectors, rowSel)
		td.CellSelectors = append(td.CellSelectors, cells)
	}

	return td
}

func dropdownData(raw *entity.RawElement, sel string, maxOptions int) *entity.DropdownData {
	dd := &entity.DropdownData{
		Native:  raw.Tag == "select",
		Options: []entity.DropdownOption{},
	}

	values := make(map[string]int, len(raw.Options))
	for _, o := range raw.Options {
		values[o.Value]++
	}

	// Custom widgets list options inside the controlled element when it exists.
	listSel := sel
	if !dd.Native && raw.Controls != nil && raw.Controls.Exists && raw.Controls.ID != "" {
		listSel = selector.IDSelector(raw.Controls.ID)
	}

	for _, o := range raw.Options {
		if maxOptions > 0 && len(dd.Options) >= maxOptions {
			break
		}

		dd.Options = append(dd.Options, entity.DropdownOption{
			Value:    o.Value,
			Text:     o.Text,
			Selected: o.Selected,
			Selector: optionSelector(dd.Native, listSel, o, values[o.Value] == 1),
			Index:    o.Index,
		})
	}

	return dd
}

func optionSelector(native bool, listSel string, o entity.RawOption, uniqueValue bool) string {
	switch {
	case o.ID != "" && !selector.IsGeneratedID(o.ID):
		return selector.IDSelector(o.ID)
	case native && o.Value != "" && uniqueValue:
		return scoped(listSel, selector.AttrSelector("option", "value", o.Value), false)
	case native:
		return scoped(listSel, "option:text-is("+dom.QuoteText(o.Text)+")", false)
	case o.Text != "":
		return scoped(listSel, `[role="option"]:text-is(`+dom.QuoteText(o.Text)+")", false)
	}

	return scoped(listSel, `[role="option"]:nth-of-type(`+strconv.Itoa(o.Index+1)+")", false)
}

func toggleState(raw *entity.RawElement) *entity.ToggleState {
	ts := &entity.ToggleState{State: toggleValue(raw)}

	if c := raw.Controls; c != nil && c.Exists && c.ID != "" {
		ts.Controls = selector.IDSelector(c.ID)
	}

	return ts
}

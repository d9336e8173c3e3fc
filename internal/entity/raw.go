package entity

// RawElement is what the in-page collector reports for one candidate node,
// before classification. Path is the chain of element-child indexes from
// <html> down to the node and lets the node be found again in a snapshot.
type RawElement struct {
	Index                    int               `json:"index"`
	Tag                      string            `json:"tag"`
	Attributes               map[string]string `json:"attributes"`
	Text                     string            `json:"text"`
	TextLength               int               `json:"textLength"`
	Path                     []int             `json:"path"`
	NthOfType                int               `json:"nthOfType"`
	Rect                     BoundingBox       `json:"rect"`
	Style                    StyleSummary      `json:"style"`
	HasClickHandler          bool              `json:"hasClickHandler"`
	InForm                   bool              `json:"inForm"`
	HasInteractiveDescendant bool              `json:"hasInteractiveDescendant"`
	TableDescendant          bool              `json:"tableDescendant"`
	Selector                 string            `json:"selector"`
	Table                    *RawTable         `json:"table,omitempty"`
	Options                  []RawOption       `json:"options,omitempty"`
	Controls                 *ControlTarget    `json:"controls,omitempty"`
}

// Attr returns an attribute value, "" when absent.
func (r *RawElement) Attr(name string) string {
	return r.Attributes[name]
}

// HasAttr reports attribute presence, including empty boolean attributes.
func (r *RawElement) HasAttr(name string) bool {
	_, ok := r.Attributes[name]

	return ok
}

type RawTable struct {
	Headers     []string `json:"headers"`
	RowCount    int      `json:"rowCount"`
	ColumnCount int      `json:"columnCount"`
	Rows        []RawRow `json:"rows"`
}

// RawRow is one sampled data row. Section is the row group selector relative
// to the table ("tbody:nth-of-type(1)", or "" for rows directly under <table>)
// and Position the row's 1-based nth-child index inside it.
type RawRow struct {
	Section  string   `json:"section"`
	Position int      `json:"position"`
	Cells    []string `json:"cells"`
}

type RawOption struct {
	Value    string `json:"value"`
	Text     string `json:"text"`
	Selected bool   `json:"selected"`
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
}

// ControlTarget describes the element referenced by aria-controls,
// data-target/data-bs-target or an in-page href.
type ControlTarget struct {
	ID        string `json:"id"`
	Exists    bool   `json:"exists"`
	Role      string `json:"role,omitempty"`
	ClassName string `json:"className,omitempty"`
	Tag       string `json:"tag,omitempty"`
}

// Collection is the whole result of one collector run.
type Collection struct {
	URL      string       `json:"url"`
	Title    string       `json:"title"`
	Elements []RawElement `json:"elements"`
	Scanned  int          `json:"scanned"`
	Skipped  int          `json:"skipped"`
	Failed   int          `json:"failed"`
}

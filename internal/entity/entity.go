package entity

import (
	"time"

	"element-hunter/pkg/apperr"

	"github.com/google/uuid"
)

type ElementType string

const (
	ElementTypeButton       ElementType = "button"
	ElementTypeInput        ElementType = "input"
	ElementTypeLink         ElementType = "link"
	ElementTypeForm         ElementType = "form"
	ElementTypeNavigation   ElementType = "navigation"
	ElementTypeText         ElementType = "text"
	ElementTypeImage        ElementType = "image"
	ElementTypeTable        ElementType = "table"
	ElementTypeDropdown     ElementType = "dropdown"
	ElementTypeModalTrigger ElementType = "modal-trigger"
	ElementTypeToggle       ElementType = "toggle"
	ElementTypeTab          ElementType = "tab"
	ElementTypeAccordion    ElementType = "accordion"
	ElementTypeElement      ElementType = "element"
)

// HasToggleState reports whether elements of this type carry a ToggleState.
func (t ElementType) HasToggleState() bool {
	return t == ElementTypeToggle || t == ElementTypeTab || t == ElementTypeAccordion
}

// DetectedElement is one testable unit discovered on a page.
type DetectedElement struct {
	Selector       string                       `json:"selector"`
	SelectorSource string                       `json:"selectorSource"`
	ElementType    ElementType                  `json:"elementType"`
	Description    string                       `json:"description"`
	Confidence     float64                      `json:"confidence"`
	Attributes     ElementAttributes            `json:"attributes"`
	Candidates     []GeneratedSelectorCandidate `json:"candidates,omitempty"`
}

// ElementAttributes is the attribute bag of a DetectedElement. The structured
// fields are set only for their corresponding element type.
type ElementAttributes struct {
	DOM          map[string]string `json:"dom"`
	Tag          string            `json:"tag"`
	Text         string            `json:"text,omitempty"`
	Style        StyleSummary      `json:"style"`
	BoundingBox  BoundingBox       `json:"boundingBox"`
	TableData    *TableData        `json:"tableData,omitempty"`
	DropdownData *DropdownData     `json:"dropdownData,omitempty"`
	ToggleState  *ToggleState      `json:"toggleState,omitempty"`
}

type StyleSummary struct {
	Display       string `json:"display,omitempty"`
	Visibility    string `json:"visibility,omitempty"`
	Opacity       string `json:"opacity,omitempty"`
	Cursor        string `json:"cursor,omitempty"`
	PointerEvents string `json:"pointerEvents,omitempty"`
}

type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type TableData struct {
	Headers         []string       `json:"headers"`
	RowCount        int            `json:"rowCount"`
	Rows            [][]string     `json:"rows"`
	TableSelector   string         `json:"tableSelector"`
	RowSelectors    []string       `json:"rowSelectors"`
	ColumnSelectors []string       `json:"columnSelectors"`
	CellSelectors   [][]string     `json:"cellSelectors"`
	ColumnIndex     map[string]int `json:"columnIndex"`
}

type DropdownData struct {
	Native  bool             `json:"native"`
	Options []DropdownOption `json:"options"`
}

type DropdownOption struct {
	Value    string `json:"value"`
	Text     string `json:"text"`
	Selected bool   `json:"selected"`
	Selector string `json:"selector"`
	Index    int    `json:"index"`
}

type ToggleStateValue string

const (
	ToggleExpanded  ToggleStateValue = "expanded"
	ToggleCollapsed ToggleStateValue = "collapsed"
	ToggleOn        ToggleStateValue = "on"
	ToggleOff       ToggleStateValue = "off"
	ToggleUnknown   ToggleStateValue = "unknown"
)

type ToggleState struct {
	State ToggleStateValue `json:"state"`
	// Controls is the selector of the element this one controls; empty unless
	// the target was found in the DOM.
	Controls string `json:"controls,omitempty"`
}

type SelectorType string

const (
	SelectorTypeID         SelectorType = "id"
	SelectorTypeTestID     SelectorType = "testid"
	SelectorTypeAria       SelectorType = "aria"
	SelectorTypeText       SelectorType = "text"
	SelectorTypeXPath      SelectorType = "xpath"
	SelectorTypeCSS        SelectorType = "css"
	SelectorTypePlaywright SelectorType = "playwright"
)

// GeneratedSelectorCandidate is one proposal of the strategy engine.
// IsUnique is only true when the selector was confirmed against the document.
type GeneratedSelectorCandidate struct {
	Selector          string       `json:"selector"`
	Confidence        float64      `json:"confidence"`
	Type              SelectorType `json:"type"`
	Description       string       `json:"description"`
	IsUnique          bool         `json:"isUnique"`
	IsDriverOptimized bool         `json:"isDriverOptimized"`
	Strategy          string       `json:"strategy"`
}

type QualityMetrics struct {
	Uniqueness    float64 `json:"uniqueness"`
	Stability     float64 `json:"stability"`
	Specificity   float64 `json:"specificity"`
	Accessibility float64 `json:"accessibility"`
	Overall       float64 `json:"overall"`
}

type CrossPageValidationResult struct {
	TotalUrls         int         `json:"totalUrls"`
	ValidUrls         int         `json:"validUrls"`
	UniqueOnAllPages  bool        `json:"uniqueOnAllPages"`
	AverageMatchCount float64     `json:"averageMatchCount"`
	InconsistentPages []string    `json:"inconsistentPages"`
	ValidationErrors  []string    `json:"validationErrors"`
	Pages             []PageCheck `json:"pages"`
}

// PageCheck is the outcome of probing one selector on one URL.
type PageCheck struct {
	URL          string `json:"url"`
	ElementCount int    `json:"elementCount"`
	IsValid      bool   `json:"isValid"`
	IsUnique     bool   `json:"isUnique"`
	Error        string `json:"error,omitempty"`
}

type SelectorValidationResult struct {
	Selector            string                       `json:"selector"`
	URL                 string                       `json:"url"`
	IsValid             bool                         `json:"isValid"`
	IsUnique            bool                         `json:"isUnique"`
	ElementCount        int                          `json:"elementCount"`
	QualityMetrics      QualityMetrics               `json:"qualityMetrics"`
	Suggestions         []string                     `json:"suggestions"`
	Alternatives        []GeneratedSelectorCandidate `json:"alternatives,omitempty"`
	CrossPageValidation *CrossPageValidationResult   `json:"crossPageValidation,omitempty"`
	Error               string                       `json:"error,omitempty"`
	Failure             *apperr.Failure              `json:"failure,omitempty"`
}

// PageAnalysis is the result of one extraction run over one URL.
type PageAnalysis struct {
	ID            uuid.UUID         `json:"id"`
	URL           string            `json:"url"`
	FinalURL      string            `json:"finalUrl,omitempty"`
	Title         string            `json:"title,omitempty"`
	Elements      []DetectedElement `json:"elements"`
	Success       bool              `json:"success"`
	ErrorCategory apperr.Category   `json:"errorCategory,omitempty"`
	Failure       *apperr.Failure   `json:"failure,omitempty"`
	StartedAt     time.Time         `json:"startedAt"`
	Duration      time.Duration     `json:"duration"`
}

// Fail records a categorized failure and clears any partial elements.
func (a *PageAnalysis) Fail(err error) {
	f := apperr.Categorize(err, a.URL)
	a.Success = false
	a.Elements = []DetectedElement{}
	a.ErrorCategory = f.Category
	a.Failure = &f
}

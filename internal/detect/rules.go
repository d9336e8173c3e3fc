package detect

import (
	"regexp"
	"strconv"
	"strings"

	"element-hunter/internal/entity"
	"element-hunter/internal/selector"
)

var (
	nonContentTags = tagSet("script", "style", "meta", "link", "head", "title", "noscript", "template", "base", "br", "wbr", "param", "source", "track")
	tableInternal  = tagSet("tr", "td", "th", "thead", "tbody", "tfoot", "caption", "colgroup", "col")
	primaryTags    = tagSet("a", "button", "input", "select", "textarea")
	formControls   = tagSet("input", "select", "textarea", "button")
	containerTags  = tagSet("div", "span", "section", "article", "aside", "li", "ul", "ol", "main", "header", "footer", "figure", "dl", "dt", "dd")
	mediaTags      = tagSet("img", "svg", "canvas", "video", "audio", "picture", "iframe")
	headingTags    = tagSet("h1", "h2", "h3", "h4", "h5", "h6")
	imageTags      = tagSet("img", "svg", "canvas", "picture")
	textTags       = tagSet("h1", "h2", "h3", "h4", "h5", "h6", "p", "label", "legend", "blockquote", "strong", "em", "small")

	interactiveRoles = tagSet(
		"button", "link", "tab", "checkbox", "radio", "switch", "menuitem", "menuitemcheckbox", "menuitemradio",
		"option", "combobox", "listbox", "textbox", "searchbox", "slider", "spinbutton", "dialog", "alertdialog",
		"menu", "menubar", "tablist", "navigation", "form", "search", "treeitem", "gridcell",
	)
	interactiveAttrs = []string{
		"onclick", "contenteditable", "aria-haspopup", "aria-expanded", "aria-controls", "aria-pressed",
		"data-toggle", "data-bs-toggle", "data-action",
	}

	clickableClass = regexp.MustCompile(`(?i)(^|[\s_-])(btn|button|clickable|link|nav-item|menu-item|dropdown-toggle|tab|toggle|card-link)($|[\s_-])`)
	statusClass    = regexp.MustCompile(`(?i)(error|alert|status|warning|success|message|toast|notification|invalid-feedback|help-block)`)
	accordionClass = regexp.MustCompile(`(?i)(accordion|collapsible|collapse-toggle|expander|disclosure)`)
	modalOpener    = regexp.MustCompile(`(?i)((open|show)[-_]?(modal|dialog|popup)|(modal|dialog)\.(show|open)|showmodal)`)
)

const (
	minMeaningfulText = 3
	maxMeaningfulText = 200
	maxImportantText  = 300
	dedupeTextPrefix  = 100
)

func tagSet(tags ...string) map[string]bool {
	out := make(map[string]bool, len(tags))
	for _, t := range tags {
		out[t] = true
	}

	return out
}

func classTokens(raw *entity.RawElement) []string {
	return strings.Fields(strings.ToLower(raw.Attr("class")))
}

func hasClassToken(raw *entity.RawElement, tokens ...string) bool {
	for _, c := range classTokens(raw) {
		for _, t := range tokens {
			if c == t {
				return true
			}
		}
	}

	return false
}

func hasTestAttr(raw *entity.RawElement) bool {
	_, _, ok := selector.TestAttribute(raw.Attributes)

	return ok
}

func role(raw *entity.RawElement) string {
	return strings.ToLower(strings.TrimSpace(raw.Attr("role")))
}

func toggleAttr(raw *entity.RawElement) string {
	if v := raw.Attr("data-bs-toggle"); v != "" {
		return strings.ToLower(v)
	}

	return strings.ToLower(raw.Attr("data-toggle"))
}

// textLen prefers the collector's full length; Text may be truncated.
func textLen(raw *entity.RawElement) int {
	if raw.TextLength > 0 {
		return raw.TextLength
	}

	return len([]rune(raw.Text))
}

func meaningfulText(raw *entity.RawElement) bool {
	n := textLen(raw)

	return n >= minMeaningfulText && n <= maxMeaningfulText
}

func hasInteractiveSignal(raw *entity.RawElement) bool {
	if raw.HasClickHandler || interactiveRoles[role(raw)] {
		return true
	}

	for _, a := range interactiveAttrs {
		if raw.HasAttr(a) {
			return true
		}
	}

	if ti, ok := raw.Attributes["tabindex"]; ok && !strings.HasPrefix(strings.TrimSpace(ti), "-") {
		return true
	}

	return false
}

func pointerCursor(raw *entity.RawElement) bool {
	return raw.Style.Cursor == "pointer"
}

func importantText(raw *entity.RawElement) bool {
	if raw.Text == "" || textLen(raw) > maxImportantText {
		return false
	}

	if headingTags[raw.Tag] || raw.Tag == "label" || raw.Tag == "legend" {
		return true
	}

	r := role(raw)

	return r == "alert" || r == "status" || r == "log" || statusClass.MatchString(raw.Attr("class"))
}

func isModal(raw *entity.RawElement) bool {
	r := role(raw)

	return r == "dialog" || r == "alertdialog" || raw.Tag == "dialog" ||
		hasClassToken(raw, "modal", "modal-dialog", "modal-content", "dialog")
}

func controlsModal(raw *entity.RawElement) bool {
	c := raw.Controls
	if c == nil || !c.Exists {
		return false
	}

	cls := strings.ToLower(c.ClassName)

	return c.Role == "dialog" || c.Role == "alertdialog" || c.Tag == "dialog" ||
		strings.Contains(cls, "modal") || strings.Contains(cls, "dialog")
}

func controlsList(raw *entity.RawElement) bool {
	c := raw.Controls
	if c == nil || !c.Exists {
		return false
	}

	return c.Role == "listbox" || c.Role == "menu"
}

func isButtonLike(raw *entity.RawElement) bool {
	if raw.Tag == "button" || role(raw) == "button" {
		return true
	}

	if raw.Tag == "input" {
		switch strings.ToLower(raw.Attr("type")) {
		case "submit", "button", "reset", "image":
			return true
		}
	}

	return false
}

// typeRule is one entry of the type chain: the first rule whose match
// returns true decides the element type.
type typeRule struct {
	name     string
	match    func(raw *entity.RawElement) bool
	resolve  func(raw *entity.RawElement) entity.ElementType
	describe func(raw *entity.RawElement) string
}

func fixed(t entity.ElementType) func(*entity.RawElement) entity.ElementType {
	return func(*entity.RawElement) entity.ElementType { return t }
}

var typeRules = []typeRule{
	{
		name:     "table",
		match:    func(r *entity.RawElement) bool { return r.Tag == "table" || r.Table != nil || role(r) == "table" || role(r) == "grid" },
		resolve:  fixed(entity.ElementTypeTable),
		describe: describeTable,
	},
	{
		name:     "modal",
		match:    isModal,
		resolve:  fixed(entity.ElementTypeElement),
		describe: func(r *entity.RawElement) string { return labelled("Dialog", r) },
	},
	{
		name: "modal-trigger",
		match: func(r *entity.RawElement) bool {
			return toggleAttr(r) == "modal" ||
				strings.EqualFold(r.Attr("aria-haspopup"), "dialog") ||
				controlsModal(r) ||
				modalOpener.MatchString(r.Attr("onclick"))
		},
		resolve:  fixed(entity.ElementTypeModalTrigger),
		describe: func(r *entity.RawElement) string { return labelled("Opens dialog", r) },
	},
	{
		name: "dropdown",
		match: func(r *entity.RawElement) bool {
			switch strings.ToLower(r.Attr("aria-haspopup")) {
			case "listbox", "menu", "true":
				return true
			}

			rr := role(r)

			return r.Tag == "select" || rr == "listbox" || rr == "combobox" || (isButtonLike(r) && controlsList(r))
		},
		resolve:  fixed(entity.ElementTypeDropdown),
		describe: func(r *entity.RawElement) string { return labelled("Dropdown", r) },
	},
	{
		name:     "dropdown-option",
		match:    func(r *entity.RawElement) bool { rr := role(r); return rr == "option" || rr == "menuitem" },
		resolve:  fixed(entity.ElementTypeElement),
		describe: func(r *entity.RawElement) string { return labelled("Dropdown option", r) },
	},
	{
		name: "toggle",
		match: func(r *entity.RawElement) bool {
			rr := role(r)
			switch toggleAttr(r) {
			case "collapse", "tab", "pill", "button":
				return true
			}

			return r.HasAttr("aria-expanded") || r.HasAttr("aria-pressed") || rr == "switch" || rr == "tab" ||
				accordionClass.MatchString(r.Attr("class"))
		},
		resolve:  toggleKind,
		describe: describeToggle,
	},
	{
		name:     "button",
		match:    isButtonLike,
		resolve:  fixed(entity.ElementTypeButton),
		describe: func(r *entity.RawElement) string { return labelled("Button", r) },
	},
	{
		name: "input",
		match: func(r *entity.RawElement) bool {
			switch role(r) {
			case "textbox", "searchbox", "checkbox", "radio", "slider", "spinbutton":
				return true
			}

			return r.Tag == "input" || r.Tag == "textarea" || strings.EqualFold(r.Attr("contenteditable"), "true")
		},
		resolve:  fixed(entity.ElementTypeInput),
		describe: describeInput,
	},
	{
		name:     "link",
		match:    func(r *entity.RawElement) bool { return (r.Tag == "a" && r.HasAttr("href")) || role(r) == "link" },
		resolve:  fixed(entity.ElementTypeLink),
		describe: func(r *entity.RawElement) string { return labelled("Link", r) },
	},
	{
		name:     "form",
		match:    func(r *entity.RawElement) bool { return r.Tag == "form" || role(r) == "form" || role(r) == "search" },
		resolve:  fixed(entity.ElementTypeForm),
		describe: func(r *entity.RawElement) string { return labelled("Form", r) },
	},
	{
		name: "navigation",
		match: func(r *entity.RawElement) bool {
			rr := role(r)

			return r.Tag == "nav" || rr == "navigation" || rr == "menubar"
		},
		resolve:  fixed(entity.ElementTypeNavigation),
		describe: func(r *entity.RawElement) string { return labelled("Navigation", r) },
	},
	{
		name:     "image",
		match:    func(r *entity.RawElement) bool { return imageTags[r.Tag] || role(r) == "img" },
		resolve:  fixed(entity.ElementTypeImage),
		describe: func(r *entity.RawElement) string { return labelled("Image", r) },
	},
	{
		name:     "text",
		match:    func(r *entity.RawElement) bool { return textTags[r.Tag] || importantText(r) },
		resolve:  fixed(entity.ElementTypeText),
		describe: describeText,
	},
	{
		name:     "element",
		match:    func(*entity.RawElement) bool { return true },
		resolve:  fixed(entity.ElementTypeElement),
		describe: func(r *entity.RawElement) string { return labelled(capitalize(r.Tag)+" element", r) },
	},
}

// assignType runs the type chain. The last rule always matches.
func assignType(raw *entity.RawElement) (entity.ElementType, string) {
	for _, rule := range typeRules {
		if rule.match(raw) {
			return rule.resolve(raw), rule.describe(raw)
		}
	}

	return entity.ElementTypeElement, raw.Tag
}

func toggleKind(r *entity.RawElement) entity.ElementType {
	t := toggleAttr(r)

	switch {
	case role(r) == "tab" || t == "tab" || t == "pill":
		return entity.ElementTypeTab
	case t == "collapse" || accordionClass.MatchString(r.Attr("class")):
		return entity.ElementTypeAccordion
	case r.HasAttr("aria-expanded") && r.Controls != nil && r.Controls.Exists &&
		accordionClass.MatchString(r.Controls.ClassName+" "+r.Controls.Role):
		return entity.ElementTypeAccordion
	}

	return entity.ElementTypeToggle
}

// toggleValue reads the current state from ARIA attributes.
func toggleValue(r *entity.RawElement) entity.ToggleStateValue {
	pick := func(name string, yes, no entity.ToggleStateValue) (entity.ToggleStateValue, bool) {
		v, ok := r.Attributes[name]
		if !ok {
			return "", false
		}

		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			return yes, true
		case "false":
			return no, true
		}

		return "", false
	}

	if v, ok := pick("aria-expanded", entity.ToggleExpanded, entity.ToggleCollapsed); ok {
		return v
	}

	for _, name := range []string{"aria-pressed", "aria-checked", "aria-selected"} {
		if v, ok := pick(name, entity.ToggleOn, entity.ToggleOff); ok {
			return v
		}
	}

	return entity.ToggleUnknown
}

func describeTable(r *entity.RawElement) string {
	if r.Table == nil {
		return labelled("Table", r)
	}

	return labelled("Table", r) + " with " + plural(r.Table.RowCount, "row") + " and " + plural(r.Table.ColumnCount, "column")
}

func describeToggle(r *entity.RawElement) string {
	switch toggleKind(r) {
	case entity.ElementTypeTab:
		return labelled("Tab", r)
	case entity.ElementTypeAccordion:
		return labelled("Accordion", r)
	}

	return labelled("Toggle", r)
}

func describeInput(r *entity.RawElement) string {
	kind := strings.ToLower(r.Attr("type"))

	switch {
	case r.Tag == "textarea":
		kind = "textarea"
	case kind == "":
		kind = "text"
	}

	return labelled("Input "+kind, r)
}

func describeText(r *entity.RawElement) string {
	switch {
	case headingTags[r.Tag]:
		return labelled("Heading", r)
	case r.Tag == "label":
		return labelled("Label", r)
	case statusClass.MatchString(r.Attr("class")) || role(r) == "alert" || role(r) == "status":
		return labelled("Status message", r)
	}

	return labelled("Text", r)
}

const maxLabelLength = 50

// labelled appends the most human-readable name found on r.
func labelled(prefix string, r *entity.RawElement) string {
	for _, v := range []string{
		r.Attr("aria-label"), r.Text, r.Attr("placeholder"), r.Attr("title"), r.Attr("alt"), r.Attr("name"), r.Attr("id"),
	} {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}

		if rs := []rune(v); len(rs) > maxLabelLength {
			v = string(rs[:maxLabelLength]) + "..."
		}

		return prefix + ` "` + v + `"`
	}

	if _, v, ok := selector.TestAttribute(r.Attributes); ok {
		return prefix + ` "` + v + `"`
	}

	return prefix
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}

	return strconv.Itoa(n) + " " + word + "s"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	return strings.ToUpper(s[:1]) + s[1:]
}

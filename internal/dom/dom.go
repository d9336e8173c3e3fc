// Package dom defines the minimal element/document capabilities the selector
// engine needs, so it can run against a live page or a detached snapshot.
// Implementations are read-only; parent links are non-owning and every walk
// over them is depth-bounded.
package dom

import (
	"strconv"
	"strings"
)

type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

type Element interface {
	// TagName is always lower case.
	TagName() string
	Attr(name string) (string, bool)
	Attributes() map[string]string
	// Text is the whitespace-collapsed text content.
	Text() string
	// Parent returns nil at the root element.
	Parent() Element
	Children() []Element
	BoundingBox() (Rect, bool)
	// Closest returns the nearest ancestor-or-self matching a plain CSS
	// selector, or nil.
	Closest(selector string) Element
	Visible() bool
	Same(other Element) bool
}

type Document interface {
	QueryAll(selector string) ([]Element, error)
	Count(selector string) (int, error)
}

// IsUniqueMatch reports whether selector matches exactly one node in doc and
// that node is el. Errors count as "not unique".
func IsUniqueMatch(doc Document, selector string, el Element) bool {
	matches, err := doc.QueryAll(selector)
	if err != nil || len(matches) != 1 {
		return false
	}

	return matches[0].Same(el)
}

// Ancestors returns up to depth ancestors of el, nearest first.
func Ancestors(el Element, depth int) []Element {
	out := make([]Element, 0, depth)

	for cur := el.Parent(); cur != nil && len(out) < depth; cur = cur.Parent() {
		out = append(out, cur)
	}

	return out
}

// SiblingsOfType returns the element children of el's parent sharing its tag,
// and el's 1-based position among them.
func SiblingsOfType(el Element) (int, int) {
	parent := el.Parent()
	if parent == nil {
		return 1, 1
	}

	tag := el.TagName()
	total, pos := 0, 0

	for _, c := range parent.Children() {
		if c.TagName() != tag {
			continue
		}

		total++

		if c.Same(el) {
			pos = total
		}
	}

	if pos == 0 {
		pos = 1
	}

	return pos, total
}

// NormalizeText collapses runs of whitespace and trims.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// IsXPath reports whether a selector is an XPath expression rather than CSS.
func IsXPath(selector string) bool {
	s := strings.TrimSpace(selector)

	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, "(/") || strings.HasPrefix(s, "xpath=")
}

// PathOf returns el's element-child indexes from the root element down, so
// that Resolve(PathOf(el)) on the same document yields el.
func PathOf(el Element) []int {
	var path []int

	for cur := el; cur != nil; {
		parent := cur.Parent()
		if parent == nil {
			break
		}

		idx := 0
		for i, c := range parent.Children() {
			if c.Same(cur) {
				idx = i

				break
			}
		}

		path = append(path, idx)
		cur = parent
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	return path
}

// PathSelector renders an element-child path as a child-combinator chain
// from <html>.
func PathSelector(path []int) string {
	if path == nil {
		return ""
	}

	var b strings.Builder

	b.WriteString("html")

	for _, idx := range path {
		b.WriteString(" > :nth-child(")
		b.WriteString(strconv.Itoa(idx + 1))
		b.WriteString(")")
	}

	return b.String()
}

package dom

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

var nonRenderedTags = map[string]bool{
	"head": true, "script": true, "style": true, "template": true, "noscript": true, "meta": true, "link": true, "title": true,
}

// Snapshot is a detached, read-only copy of a document. Bounding boxes are
// unknown unless attached with SetRect while the snapshot is being built.
type Snapshot struct {
	doc   *goquery.Document
	root  *html.Node
	order map[*html.Node]int
	rects map[*html.Node]Rect
}

func NewSnapshot(r io.Reader) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}

	return newSnapshot(doc), nil
}

func ParseHTML(s string) (*Snapshot, error) {
	return NewSnapshot(strings.NewReader(s))
}

func newSnapshot(doc *goquery.Document) *Snapshot {
	s := &Snapshot{
		doc:   doc,
		root:  doc.Get(0),
		order: make(map[*html.Node]int),
		rects: make(map[*html.Node]Rect),
	}

	i := 0

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			s.order[n] = i
			i++
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(s.root)

	return s
}

// Document exposes the goquery view for callers that want raw traversal.
func (s *Snapshot) Document() *goquery.Document {
	return s.doc
}

// SetRect attaches a known bounding box to an element of this snapshot.
func (s *Snapshot) SetRect(el Element, r Rect) {
	if n, ok := el.(*snapshotNode); ok && n.s == s {
		s.rects[n.n] = r
	}
}

// Resolve follows a chain of element-child indexes starting at <html>.
func (s *Snapshot) Resolve(path []int) (Element, bool) {
	cur := s.doc.Find("html").First()
	if cur.Length() == 0 {
		return nil, false
	}

	n := cur.Get(0)

	for _, idx := range path {
		n = elementChild(n, idx)
		if n == nil {
			return nil, false
		}
	}

	return s.wrap(n), true
}

func (s *Snapshot) QueryAll(selector string) ([]Element, error) {
	nodes, err := s.match(selector)
	if err != nil {
		return nil, err
	}

	out := make([]Element, len(nodes))
	for i, n := range nodes {
		out[i] = s.wrap(n)
	}

	return out, nil
}

func (s *Snapshot) Count(selector string) (int, error) {
	nodes, err := s.match(selector)
	if err != nil {
		return 0, err
	}

	return len(nodes), nil
}

// First returns the first match in document order, or nil.
func (s *Snapshot) First(selector string) (Element, error) {
	nodes, err := s.match(selector)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}

	return s.wrap(nodes[0]), nil
}

func (s *Snapshot) match(selector string) ([]*html.Node, error) {
	if IsXPath(selector) {
		expr := strings.TrimPrefix(strings.TrimSpace(selector), "xpath=")

		nodes, err := htmlquery.QueryAll(s.root, expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedSelector, err)
		}

		return s.elementsOnly(nodes), nil
	}

	parts, err := parseDriverSelector(selector)
	if err != nil {
		return nil, err
	}

	scope := []*html.Node{s.root}

	for _, p := range parts {
		m, err := cascadia.ParseGroup(p.css)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedSelector, err)
		}

		seen := make(map[*html.Node]bool)
		var next []*html.Node

		for _, sc := range scope {
			for _, n := range cascadia.QueryAll(sc, m) {
				if seen[n] || !s.passes(n, p.filters) {
					continue
				}

				seen[n] = true
				next = append(next, n)
			}
		}

		scope = next
	}

	sort.SliceStable(scope, func(i, j int) bool {
		return s.order[scope[i]] < s.order[scope[j]]
	})

	return scope, nil
}

func (s *Snapshot) elementsOnly(nodes []*html.Node) []*html.Node {
	out := nodes[:0]

	for _, n := range nodes {
		if n.Type == html.ElementNode {
			out = append(out, n)
		}
	}

	return out
}

func (s *Snapshot) passes(n *html.Node, filters []textFilter) bool {
	for _, f := range filters {
		switch f.kind {
		case filterHasText:
			if !strings.Contains(strings.ToLower(nodeText(n)), strings.ToLower(NormalizeText(f.arg))) {
				return false
			}
		case filterTextIs:
			if nodeText(n) != NormalizeText(f.arg) {
				return false
			}
		case filterVisible:
			if !s.visible(n) {
				return false
			}
		}
	}

	return true
}

// visible approximates rendering from markup alone: hidden attributes, inline
// styles, non-rendered tags and zero-size known boxes hide a node.
func (s *Snapshot) visible(n *html.Node) bool {
	if r, ok := s.rects[n]; ok && (r.Width <= 0 || r.Height <= 0) {
		return false
	}

	if n.Data == "input" && strings.EqualFold(attr(n, "type"), "hidden") {
		return false
	}

	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if nonRenderedTags[cur.Data] {
			return false
		}

		if _, ok := attrOK(cur, "hidden"); ok {
			return false
		}

		style := strings.ReplaceAll(strings.ToLower(attr(cur, "style")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}

	return true
}

func (s *Snapshot) wrap(n *html.Node) Element {
	return &snapshotNode{s: s, n: n}
}

type snapshotNode struct {
	s *Snapshot
	n *html.Node
}

func (e *snapshotNode) TagName() string {
	return strings.ToLower(e.n.Data)
}

func (e *snapshotNode) Attr(name string) (string, bool) {
	return attrOK(e.n, name)
}

func (e *snapshotNode) Attributes() map[string]string {
	out := make(map[string]string, len(e.n.Attr))
	for _, a := range e.n.Attr {
		out[a.Key] = a.Val
	}

	return out
}

func (e *snapshotNode) Text() string {
	return nodeText(e.n)
}

func (e *snapshotNode) Parent() Element {
	p := e.n.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil
	}

	return e.s.wrap(p)
}

func (e *snapshotNode) Children() []Element {
	var out []Element

	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, e.s.wrap(c))
		}
	}

	return out
}

func (e *snapshotNode) BoundingBox() (Rect, bool) {
	r, ok := e.s.rects[e.n]

	return r, ok
}

func (e *snapshotNode) Closest(selector string) Element {
	m, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil
	}

	for cur := e.n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if m.Match(cur) {
			return e.s.wrap(cur)
		}
	}

	return nil
}

func (e *snapshotNode) Visible() bool {
	return e.s.visible(e.n)
}

func (e *snapshotNode) Same(other Element) bool {
	o, ok := other.(*snapshotNode)

	return ok && o.n == e.n
}

func elementChild(n *html.Node, idx int) *html.Node {
	i := 0

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}

		if i == idx {
			return c
		}

		i++
	}

	return nil
}

func attr(n *html.Node, name string) string {
	v, _ := attrOK(n, name)

	return v
}

func attrOK(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}

	return "", false
}

// nodeText follows textContent: adjacent text nodes join without a
// separator, so "Sub<b>mit</b>" reads "Submit".
func nodeText(n *html.Node) string {
	var b strings.Builder

	var walk func(*html.Node)
	walk = func(c *html.Node) {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
		case html.ElementNode:
			if nonRenderedTags[c.Data] {
				return
			}
		}

		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)

	return NormalizeText(b.String())
}

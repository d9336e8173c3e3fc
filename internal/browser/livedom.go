package browser

import (
	"element-hunter/internal/dom"

	"github.com/playwright-community/playwright-go"
)

// liveDocument answers selector queries against the running page, so
// uniqueness is checked by the same engine that will later use the selector.
// Driver errors on element reads degrade to zero values.
type liveDocument struct {
	page playwright.Page
}

func (d *liveDocument) QueryAll(selector string) ([]dom.Element, error) {
	handles, err := d.page.QuerySelectorAll(driverSelector(selector))
	if err != nil {
		return nil, err
	}

	return wrapHandles(handles), nil
}

func (d *liveDocument) Count(selector string) (int, error) {
	return d.page.Locator(driverSelector(selector)).Count()
}

type liveElement struct {
	h playwright.ElementHandle
}

func wrapHandles(handles []playwright.ElementHandle) []dom.Element {
	out := make([]dom.Element, 0, len(handles))
	for _, h := range handles {
		out = append(out, &liveElement{h: h})
	}

	return out
}

func (e *liveElement) TagName() string {
	v, err := e.h.Evaluate(`el => el.tagName.toLowerCase()`)
	if err != nil {
		return ""
	}

	s, _ := v.(string)

	return s
}

func (e *liveElement) Attr(name string) (string, bool) {
	v, err := e.h.Evaluate(`(el, name) => el.hasAttribute(name) ? el.getAttribute(name) : null`, name)
	if err != nil || v == nil {
		return "", false
	}

	s, ok := v.(string)

	return s, ok
}

func (e *liveElement) Attributes() map[string]string {
	v, err := e.h.Evaluate(`el => Object.fromEntries(Array.from(el.attributes, a => [a.name, a.value]))`)
	if err != nil {
		return map[string]string{}
	}

	return getStringMap(map[string]interface{}{"a": v}, "a")
}

func (e *liveElement) Text() string {
	v, err := e.h.Evaluate(`el => el.textContent || ''`)
	if err != nil {
		return ""
	}

	s, _ := v.(string)

	return dom.NormalizeText(s)
}

func (e *liveElement) Parent() dom.Element {
	return e.related(`el => el.parentElement`)
}

func (e *liveElement) Children() []dom.Element {
	handles, err := e.h.QuerySelectorAll(":scope > *")
	if err != nil {
		return nil
	}

	return wrapHandles(handles)
}

func (e *liveElement) BoundingBox() (dom.Rect, bool) {
	r, err := e.h.BoundingBox()
	if err != nil || r == nil {
		return dom.Rect{}, false
	}

	return dom.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}, true
}

func (e *liveElement) Closest(selector string) dom.Element {
	jh, err := e.h.EvaluateHandle(`(el, sel) => { try { return el.closest(sel); } catch (e) { return null; } }`, selector)
	if err != nil {
		return nil
	}

	return handleElement(jh)
}

func (e *liveElement) Visible() bool {
	ok, err := e.h.IsVisible()

	return err == nil && ok
}

func (e *liveElement) Same(other dom.Element) bool {
	o, ok := other.(*liveElement)
	if !ok {
		return false
	}

	v, err := e.h.Evaluate(`(a, b) => a === b`, o.h)
	if err != nil {
		return false
	}

	same, _ := v.(bool)

	return same
}

func (e *liveElement) related(script string) dom.Element {
	jh, err := e.h.EvaluateHandle(script)
	if err != nil {
		return nil
	}

	return handleElement(jh)
}

func handleElement(jh playwright.JSHandle) dom.Element {
	if jh == nil {
		return nil
	}

	el := jh.AsElement()
	if el == nil {
		return nil
	}

	return &liveElement{h: el}
}

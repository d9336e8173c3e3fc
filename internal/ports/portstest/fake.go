// Package portstest provides in-memory fakes of the browser driver contract.
package portstest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"element-hunter/internal/dom"
	"element-hunter/internal/entity"
	"element-hunter/internal/ports"
)

var (
	_ ports.BrowserManager = (*Browser)(nil)
	_ ports.Page           = (*Page)(nil)
)

// Browser is a fake ports.BrowserManager. OpenPageFn defaults to a blank Page.
type Browser struct {
	NotReady   bool
	LaunchFn   func(ctx context.Context) error
	OpenPageFn func(ctx context.Context) (ports.Page, error)

	mu     sync.Mutex
	pages  []*Page
	opened atomic.Int32
}

func (b *Browser) Launch(ctx context.Context) error {
	if b.LaunchFn != nil {
		return b.LaunchFn(ctx)
	}

	return nil
}

func (b *Browser) Close(ctx context.Context) error {
	return nil
}

func (b *Browser) IsReady() bool {
	return !b.NotReady
}

func (b *Browser) OpenPage(ctx context.Context) (ports.Page, error) {
	b.opened.Add(1)

	if b.OpenPageFn != nil {
		p, err := b.OpenPageFn(ctx)
		if fp, ok := p.(*Page); ok {
			b.track(fp)
		}

		return p, err
	}

	p := &Page{}
	b.track(p)

	return p, nil
}

func (b *Browser) track(p *Page) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pages = append(b.pages, p)
}

// Opened is the number of OpenPage calls.
func (b *Browser) Opened() int {
	return int(b.opened.Load())
}

// Leaked returns the fake pages handed out and never closed.
func (b *Browser) Leaked() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, p := range b.pages {
		if !p.Closed() {
			n++
		}
	}

	return n
}

// Page is a fake ports.Page. Unset functions succeed with zero values. A
// NavigateFn owns CurrentURL; without one, Navigate sets it to the target.
type Page struct {
	CurrentURL string

	NavigateFn func(ctx context.Context, url string) error
	OverviewFn func(ctx context.Context) (string, string, error)
	CollectFn  func(ctx context.Context) (*entity.Collection, error)
	ContentFn  func(ctx context.Context) (string, error)
	DocumentFn func(ctx context.Context) (dom.Document, error)
	CountFn    func(ctx context.Context, selector string) (int, error)
	ClickFn    func(ctx context.Context, selector string) error
	FillFn     func(ctx context.Context, selector, value string) error
	PressFn    func(ctx context.Context, selector, key string) error
	SelectFn   func(ctx context.Context, selector, value string) error
	HoverFn    func(ctx context.Context, selector string) error
	WaitForFn  func(ctx context.Context, selector string) error
	ScrollFn   func(ctx context.Context, amount int) error

	mu      sync.Mutex
	actions []string
	closed  atomic.Bool
}

func (p *Page) record(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.actions = append(p.actions, fmt.Sprintf(format, args...))
}

// Actions lists the calls made on the page, e.g. "click #go".
func (p *Page) Actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.actions...)
}

func (p *Page) Closed() bool {
	return p.closed.Load()
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.record("navigate %s", url)

	if p.NavigateFn != nil {
		return p.NavigateFn(ctx, url)
	}

	p.mu.Lock()
	p.CurrentURL = url
	p.mu.Unlock()

	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.CurrentURL
}

func (p *Page) Overview(ctx context.Context) (string, string, error) {
	if p.OverviewFn != nil {
		return p.OverviewFn(ctx)
	}

	return "", "", nil
}

func (p *Page) Collect(ctx context.Context) (*entity.Collection, error) {
	if p.CollectFn != nil {
		return p.CollectFn(ctx)
	}

	return &entity.Collection{URL: p.URL()}, nil
}

func (p *Page) Content(ctx context.Context) (string, error) {
	if p.ContentFn != nil {
		return p.ContentFn(ctx)
	}

	return "<html><head></head><body></body></html>", nil
}

func (p *Page) Document(ctx context.Context) (dom.Document, error) {
	if p.DocumentFn != nil {
		return p.DocumentFn(ctx)
	}

	html, err := p.Content(ctx)
	if err != nil {
		return nil, err
	}

	return dom.ParseHTML(html)
}

func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	if p.CountFn != nil {
		return p.CountFn(ctx, selector)
	}

	doc, err := p.Document(ctx)
	if err != nil {
		return 0, err
	}

	return doc.Count(selector)
}

func (p *Page) Click(ctx context.Context, selector string) error {
	p.record("click %s", selector)

	if p.ClickFn != nil {
		return p.ClickFn(ctx, selector)
	}

	return nil
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	p.record("fill %s %s", selector, value)

	if p.FillFn != nil {
		return p.FillFn(ctx, selector, value)
	}

	return nil
}

func (p *Page) Press(ctx context.Context, selector, key string) error {
	p.record("press %s %s", selector, key)

	if p.PressFn != nil {
		return p.PressFn(ctx, selector, key)
	}

	return nil
}

func (p *Page) Select(ctx context.Context, selector, value string) error {
	p.record("select %s %s", selector, value)

	if p.SelectFn != nil {
		return p.SelectFn(ctx, selector, value)
	}

	return nil
}

func (p *Page) Hover(ctx context.Context, selector string) error {
	p.record("hover %s", selector)

	if p.HoverFn != nil {
		return p.HoverFn(ctx, selector)
	}

	return nil
}

func (p *Page) WaitFor(ctx context.Context, selector string) error {
	p.record("wait_for %s", selector)

	if p.WaitForFn != nil {
		return p.WaitForFn(ctx, selector)
	}

	return nil
}

func (p *Page) Scroll(ctx context.Context, amount int) error {
	p.record("scroll %d", amount)

	if p.ScrollFn != nil {
		return p.ScrollFn(ctx, amount)
	}

	return nil
}

func (p *Page) Close() error {
	p.closed.Store(true)

	return nil
}

// Site returns a Browser whose pages serve static HTML keyed by URL.
// Navigating to an unknown URL fails like a DNS error.
func Site(pages map[string]string) *Browser {
	b := &Browser{}
	b.OpenPageFn = func(ctx context.Context) (ports.Page, error) {
		return SitePage(pages), nil
	}

	return b
}

// SitePage is a single Page over the same URL→HTML map as Site.
func SitePage(pages map[string]string) *Page {
	p := &Page{}

	p.NavigateFn = func(ctx context.Context, url string) error {
		if _, ok := pages[url]; !ok {
			return fmt.Errorf("net::ERR_NAME_NOT_RESOLVED at %s", url)
		}

		p.mu.Lock()
		p.CurrentURL = url
		p.mu.Unlock()

		return nil
	}

	p.ContentFn = func(ctx context.Context) (string, error) {
		html, ok := pages[p.URL()]
		if !ok {
			return "", fmt.Errorf("no document loaded")
		}

		return html, nil
	}

	return p
}

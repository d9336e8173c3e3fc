package ports

import (
	"context"

	"element-hunter/internal/dom"
	"element-hunter/internal/entity"
)

// BrowserManager owns the driver process. Pages opened from it are isolated
// from each other and owned by the caller, who must Close them.
type BrowserManager interface {
	Launch(ctx context.Context) error
	Close(ctx context.Context) error
	IsReady() bool
	OpenPage(ctx context.Context) (Page, error)
}

// Page is one browser tab. Blocking calls honour the ctx deadline and fall
// back to the configured step timeout when ctx has none.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL() string
	// Overview returns the page title and the start of its visible text.
	Overview(ctx context.Context) (title string, text string, err error)
	// Collect runs the in-page collector and selector synthesizer.
	Collect(ctx context.Context) (*entity.Collection, error)
	// Content is the serialized DOM of the current document.
	Content(ctx context.Context) (string, error)
	// Document exposes the page through the capability interfaces the
	// selector engine runs on.
	Document(ctx context.Context) (dom.Document, error)
	Count(ctx context.Context, selector string) (int, error)

	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	// Press sends key to selector, or to the page when selector is empty.
	Press(ctx context.Context, selector, key string) error
	Select(ctx context.Context, selector, value string) error
	Hover(ctx context.Context, selector string) error
	WaitFor(ctx context.Context, selector string) error
	// Scroll scrolls by amount pixels; 0 scrolls to the bottom.
	Scroll(ctx context.Context, amount int) error

	Close() error
}

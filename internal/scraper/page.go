package scraper

import "context"

// Element is a handle to a matched element, valid until the next navigation
type Element struct {
	ID   string
	Text string
}

// Control is a visible interactive element, dumped when selectors drift
type Control struct {
	Tag   string `json:"tag"`
	Text  string `json:"text"`
	Label string `json:"label"`
	Class string `json:"class"`
	ID    string `json:"id"`
}

// Page is the browser surface the browser strategy drives
type Page interface {
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	// Find returns the first element matched by sel that meets req
	Find(ctx context.Context, sel Selector, req Require) (Element, bool, error)
	Type(ctx context.Context, el Element, text string) error
	Click(ctx context.Context, el Element) error
	// ClickScript clicks through the DOM, for elements that refuse pointer clicks
	ClickScript(ctx context.Context, el Element) error
	PressEnter(ctx context.Context, el Element) error
	Screenshot(ctx context.Context) ([]byte, error)
	Controls(ctx context.Context) ([]Control, error)
	// Downloads signals completed downloads; it may be nil
	Downloads() <-chan struct{}
	Close() error
}

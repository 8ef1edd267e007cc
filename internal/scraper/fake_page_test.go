package scraper

import (
	"context"
	"errors"
	"sync"
)

// fakePage matches selectors by label and records what the flow did with them
type fakePage struct {
	mu sync.Mutex

	// matches maps a selector label to the element it finds
	matches map[string]Element
	// broken selectors fail to evaluate
	broken map[string]bool
	// location is returned by Location
	location string
	// onClick runs when an element is clicked
	onClick map[string]func()
	// clickErr makes pointer clicks fail
	clickErr error

	finds      map[string]int
	findOrder  []string
	typed      map[string]string
	clicked    []string
	scripted   []string
	entered    []string
	navigated  []string
	shots      int
	closeCount int
	downloads  chan struct{}
}

func newFakePage() *fakePage {
	return &fakePage{
		matches:  map[string]Element{},
		broken:   map[string]bool{},
		onClick:  map[string]func(){},
		finds:    map[string]int{},
		typed:    map[string]string{},
		location: "https://portal.example/#/dashboard",
	}
}

func (p *fakePage) match(label string, id string) *fakePage {
	p.matches[label] = Element{ID: id, Text: id}
	return p
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	return nil
}

func (p *fakePage) Location(context.Context) (string, error) {
	return p.location, nil
}

func (p *fakePage) Find(_ context.Context, sel Selector, _ Require) (Element, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	label := sel.label()
	p.finds[label]++
	p.findOrder = append(p.findOrder, label)
	if p.broken[label] {
		return Element{}, false, errors.New("invalid selector")
	}
	el, ok := p.matches[label]
	return el, ok, nil
}

func (p *fakePage) Type(_ context.Context, el Element, text string) error {
	p.typed[el.ID] = text
	return nil
}

func (p *fakePage) Click(_ context.Context, el Element) error {
	if p.clickErr != nil {
		return p.clickErr
	}
	p.clicked = append(p.clicked, el.ID)
	if fn := p.onClick[el.ID]; fn != nil {
		fn()
	}
	return nil
}

func (p *fakePage) ClickScript(_ context.Context, el Element) error {
	p.scripted = append(p.scripted, el.ID)
	if fn := p.onClick[el.ID]; fn != nil {
		fn()
	}
	return nil
}

func (p *fakePage) PressEnter(_ context.Context, el Element) error {
	p.entered = append(p.entered, el.ID)
	return nil
}

func (p *fakePage) Screenshot(context.Context) ([]byte, error) {
	p.shots++
	return []byte("png"), nil
}

func (p *fakePage) Controls(context.Context) ([]Control, error) {
	return []Control{{Tag: "button", Text: "Drucken"}}, nil
}

func (p *fakePage) Downloads() <-chan struct{} {
	return p.downloads
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCount++
	return nil
}

// countingObserver records selector outcomes
type countingObserver struct {
	hits   map[string]int
	misses map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{hits: map[string]int{}, misses: map[string]int{}}
}

func (o *countingObserver) SelectorHit(list string, index int, _ string) { o.hits[list] = index }
func (o *countingObserver) SelectorMiss(list string)                     { o.misses[list]++ }

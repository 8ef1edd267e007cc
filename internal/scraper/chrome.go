package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/jgoulah/meterscraper/internal/log"
)

const (
	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

	// markAttr tags elements returned by Find so later actions can address them
	markAttr = "data-meterscraper"

	// clickTimeout bounds a pointer click, which otherwise waits for visibility forever
	clickTimeout = 5 * time.Second
)

// chromePage drives a Chrome instance through the DevTools protocol
type chromePage struct {
	ctx       context.Context
	cancel    context.CancelFunc
	downloads chan struct{}
	marks     atomic.Int64
	closeOnce sync.Once
}

// newChromePage launches Chrome with downloads going to opts.DownloadDir
func newChromePage(ctx context.Context, opts Options) (Page, error) {
	downloadDir, err := filepath.Abs(opts.DownloadDir)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving download dir: %w", ErrBrowserStart, err)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("no-sandbox", true),            // Required for running as root on Linux
		chromedp.Flag("disable-gpu", true),           // Recommended for headless Linux
		chromedp.Flag("disable-dev-shm-usage", true), // Avoid /dev/shm issues on Linux
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(userAgent),
	)

	// The browser outlives the call that starts it, so it hangs off a fresh
	// context and is torn down by Close.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		log.Ctx(ctx).Debug(fmt.Sprintf(format, args...), slog.String("component", "chromedp"))
	}))

	var sessionCancel context.CancelFunc = func() {}
	if opts.Timeouts.Browser > 0 {
		browserCtx, sessionCancel = context.WithTimeout(browserCtx, opts.Timeouts.Browser)
	}

	p := &chromePage{
		ctx: browserCtx,
		cancel: func() {
			sessionCancel()
			browserCancel()
			allocCancel()
		},
		downloads: make(chan struct{}, 1),
	}

	chromedp.ListenTarget(browserCtx, func(ev any) {
		switch ev := ev.(type) {
		case *browser.EventDownloadProgress:
			if ev.State == browser.DownloadProgressStateCompleted {
				select {
				case p.downloads <- struct{}{}:
				default:
				}
			}
		case *network.EventResponseReceived:
			if opts.OnRequest != nil && ev.Response != nil {
				opts.OnRequest(Request{
					URL:      ev.Response.URL,
					Type:     ev.Type.String(),
					MimeType: ev.Response.MimeType,
					Status:   ev.Response.Status,
				})
			}
		case *network.EventRequestWillBeSent:
			if opts.OnRequest != nil && ev.Request != nil && ev.Request.Method != "GET" {
				opts.OnRequest(Request{
					Method: ev.Request.Method,
					URL:    ev.Request.URL,
					Type:   ev.Type.String(),
				})
			}
		}
	})

	// The first Run starts the browser process
	if err := chromedp.Run(browserCtx,
		network.Enable(),
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(downloadDir).
			WithEventsEnabled(true),
	); err != nil {
		p.cancel()
		return nil, fmt.Errorf("%w: %w", ErrBrowserStart, err)
	}

	return p, nil
}

func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	// Cancelling ctx aborts the action without killing the browser
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) Location(ctx context.Context) (string, error) {
	var loc string
	err := p.run(ctx, chromedp.Location(&loc))
	return loc, err
}

// findScript evaluates a selector in the page, marks the first acceptable
// element and describes it
const findScript = `(function(kind, query, text, visible, enabled, hasText, mark) {
	const norm = s => (s || '').replace(/\s+/g, ' ').trim().toLowerCase();
	let nodes = [];
	if (kind === 'xpath') {
		const r = document.evaluate(query, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		for (let i = 0; i < r.snapshotLength; i++) nodes.push(r.snapshotItem(i));
	} else {
		nodes = Array.from(document.querySelectorAll(query));
	}
	for (const el of nodes) {
		if (!(el instanceof Element)) continue;
		const label = norm(el.innerText || el.textContent) || norm(el.getAttribute('aria-label')) || norm(el.getAttribute('title'));
		if (kind === 'text' && !label.includes(text)) continue;
		if (visible) {
			const rect = el.getBoundingClientRect();
			const style = window.getComputedStyle(el);
			if (rect.width === 0 || rect.height === 0 || style.visibility === 'hidden' || style.display === 'none') continue;
		}
		if (enabled && (el.disabled || el.getAttribute('aria-disabled') === 'true')) continue;
		if (hasText && !norm(el.innerText)) continue;
		el.setAttribute('` + markAttr + `', mark);
		const shown = (el.innerText || el.getAttribute('aria-label') || el.getAttribute('title') || '').trim();
		return {found: true, text: shown.slice(0, 80)};
	}
	return {found: false, text: ''};
})`

func (p *chromePage) Find(ctx context.Context, sel Selector, req Require) (Element, bool, error) {
	if err := sel.Validate(); err != nil {
		return Element{}, false, err
	}

	mark := "m" + strconv.FormatInt(p.marks.Add(1), 10)
	args, err := json.Marshal([]any{
		string(sel.Kind), sel.Query, normalizeText(sel.Text),
		req.Visible, req.Enabled, req.HasText, mark,
	})
	if err != nil {
		return Element{}, false, err
	}
	expr := findScript + "(..." + string(args) + ")"

	var res struct {
		Found bool   `json:"found"`
		Text  string `json:"text"`
	}
	if err := p.run(ctx, chromedp.Evaluate(expr, &res)); err != nil {
		return Element{}, false, err
	}
	if !res.Found {
		return Element{}, false, nil
	}
	return Element{ID: mark, Text: res.Text}, true, nil
}

func (p *chromePage) query(el Element) string {
	return fmt.Sprintf(`[%s=%q]`, markAttr, el.ID)
}

func (p *chromePage) Type(ctx context.Context, el Element, text string) error {
	sel := p.query(el)
	return p.run(ctx,
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, text, chromedp.ByQuery),
	)
}

func (p *chromePage) Click(ctx context.Context, el Element) error {
	ctx, cancel := context.WithTimeout(ctx, clickTimeout)
	defer cancel()
	sel := p.query(el)
	return p.run(ctx,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery),
	)
}

func (p *chromePage) ClickScript(ctx context.Context, el Element) error {
	var clicked bool
	expr := fmt.Sprintf(`(function() {
		const el = document.querySelector(%q);
		if (!el) return false;
		el.scrollIntoView(true);
		el.click();
		return true;
	})()`, p.query(el))
	if err := p.run(ctx, chromedp.Evaluate(expr, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return errors.New("element is gone")
	}
	return nil
}

func (p *chromePage) PressEnter(ctx context.Context, el Element) error {
	return p.run(ctx, chromedp.SendKeys(p.query(el), kb.Enter, chromedp.ByQuery))
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

const controlsScript = `(function() {
	const out = [];
	for (const el of document.querySelectorAll('button, a, input[type="submit"], input[type="button"], [role="button"], mat-icon')) {
		const rect = el.getBoundingClientRect();
		if (rect.width === 0 || rect.height === 0) continue;
		out.push({
			tag: el.tagName.toLowerCase(),
			text: (el.innerText || '').trim().slice(0, 50),
			label: el.getAttribute('aria-label') || el.getAttribute('title') || '',
			class: (typeof el.className === 'string' ? el.className : '').slice(0, 80),
			id: el.id || ''
		});
	}
	return out;
})()`

func (p *chromePage) Controls(ctx context.Context) ([]Control, error) {
	var controls []Control
	err := p.run(ctx, chromedp.Evaluate(controlsScript, &controls))
	return controls, err
}

func (p *chromePage) Downloads() <-chan struct{} {
	return p.downloads
}

func (p *chromePage) Close() error {
	var err error
	p.closeOnce.Do(func() {
		// Cancel closes the browser gracefully; the allocator cancel then
		// makes sure the process is gone
		err = chromedp.Cancel(p.ctx)
		p.cancel()
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

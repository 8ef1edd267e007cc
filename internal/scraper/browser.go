package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jgoulah/meterscraper/internal/log"
)

// State is a step of the browser flow
type State int

const (
	// StateIdle means no browser has been started yet
	StateIdle State = iota
	// StateBrowserStarted means Chrome is running and the entry page was opened
	StateBrowserStarted
	// StateAuthenticated means the login was accepted
	StateAuthenticated
	// StateExportTriggered means an export control was clicked
	StateExportTriggered
	// StateArtifactFound means the exported file was found in the download dir
	StateArtifactFound
	// StateFailed means a step failed and the browser was closed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBrowserStarted:
		return "browser_started"
	case StateAuthenticated:
		return "authenticated"
	case StateExportTriggered:
		return "export_triggered"
	case StateArtifactFound:
		return "artifact_found"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PageFactory starts the browser behind a Page
type PageFactory func(ctx context.Context, opts Options) (Page, error)

// BrowserScraper logs in and downloads the export by driving a real browser
type BrowserScraper struct {
	opts    Options
	newPage PageFactory
	diag    diagnostics

	page  Page
	state State

	closeOnce sync.Once
	closed    bool
	closeErr  error
}

// NewBrowserScraper creates a browser strategy backed by Chrome
func NewBrowserScraper(opts Options) *BrowserScraper {
	return NewBrowserScraperWithPage(opts, newChromePage)
}

// NewBrowserScraperWithPage creates a browser strategy on a custom page factory
func NewBrowserScraperWithPage(opts Options, factory PageFactory) *BrowserScraper {
	if opts.Selectors.empty() {
		opts.Selectors = DefaultSelectors()
	}
	return &BrowserScraper{
		opts:    opts,
		newPage: factory,
		diag:    diagnostics{dir: opts.DownloadDir, now: time.Now},
	}
}

func (s *BrowserScraper) Name() string {
	return "browser"
}

// State returns where the flow currently is
func (s *BrowserScraper) State() State {
	return s.state
}

func (s *BrowserScraper) setState(ctx context.Context, st State) {
	log.Ctx(ctx).DebugContext(ctx, "browser state", slog.String("from", s.state.String()), slog.String("to", st.String()))
	s.state = st
}

// fail moves to Failed and releases the browser
func (s *BrowserScraper) fail(ctx context.Context, err error) error {
	s.setState(ctx, StateFailed)
	if cerr := s.Close(); cerr != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to close browser", slog.Any("error", cerr))
	}
	return err
}

func (s *BrowserScraper) start(ctx context.Context) error {
	if s.page != nil {
		return nil
	}
	if s.closed || s.state == StateFailed {
		return fmt.Errorf("browser session already closed")
	}

	if err := os.MkdirAll(s.opts.DownloadDir, 0755); err != nil {
		return fmt.Errorf("%w: creating download dir: %w", ErrBrowserStart, err)
	}

	log.Ctx(ctx).InfoContext(ctx, "starting browser", slog.Bool("headless", s.opts.Headless))
	page, err := s.newPage(ctx, s.opts)
	if err != nil {
		s.setState(ctx, StateFailed)
		return err
	}
	s.page = page
	s.setState(ctx, StateBrowserStarted)
	return nil
}

// Login opens the portal and signs in with the configured credentials
func (s *BrowserScraper) Login(ctx context.Context) error {
	if err := s.start(ctx); err != nil {
		return err
	}

	ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("strategy", s.Name()), slog.String("stage", "login")))
	portal := s.opts.Portal
	sel := s.opts.Selectors
	obs := s.opts.observer()

	log.Ctx(ctx).InfoContext(ctx, "opening portal", slog.String("url", portal.EntryURL), slog.Any("credentials", s.opts.Credentials))
	if err := s.page.Navigate(ctx, portal.EntryURL); err != nil {
		return s.fail(ctx, fmt.Errorf("opening portal: %w", err))
	}
	if err := sleep(ctx, s.opts.Timeouts.PageLoad); err != nil {
		return s.fail(ctx, err)
	}

	username, err := locate(ctx, s.page, sel.Username, obs)
	if err != nil {
		return s.fail(ctx, err)
	}
	if username == nil {
		s.diag.screenshot(ctx, s.page, "login_page")
		return s.fail(ctx, fmt.Errorf("%w: username", ErrFieldNotFound))
	}

	password, err := locate(ctx, s.page, sel.Password, obs)
	if err != nil {
		return s.fail(ctx, err)
	}
	if password == nil {
		s.diag.screenshot(ctx, s.page, "login_page")
		return s.fail(ctx, fmt.Errorf("%w: password", ErrFieldNotFound))
	}

	if err := s.page.Type(ctx, username.Element, s.opts.Credentials.Username); err != nil {
		return s.fail(ctx, fmt.Errorf("entering username: %w", err))
	}
	if err := s.page.Type(ctx, password.Element, s.opts.Credentials.Password); err != nil {
		return s.fail(ctx, fmt.Errorf("entering password: %w", err))
	}

	submit, err := locate(ctx, s.page, sel.Submit, obs)
	if err != nil {
		return s.fail(ctx, err)
	}
	if submit == nil {
		log.Ctx(ctx).InfoContext(ctx, "no login button, pressing enter")
		if err := s.page.PressEnter(ctx, password.Element); err != nil {
			return s.fail(ctx, fmt.Errorf("submitting login form: %w", err))
		}
	} else if err := s.click(ctx, submit.Element); err != nil {
		return s.fail(ctx, fmt.Errorf("clicking login button: %w", err))
	}

	if err := sleep(ctx, s.opts.Timeouts.Settle); err != nil {
		return s.fail(ctx, err)
	}

	// An error message wins over every success signal
	rejected, err := locate(ctx, s.page, sel.LoginError, obs)
	if err != nil {
		return s.fail(ctx, err)
	}
	if rejected != nil {
		s.diag.screenshot(ctx, s.page, "login_error_message")
		return s.fail(ctx, fmt.Errorf("%w: %s", ErrAuthenticationRejected, rejected.Element.Text))
	}

	current, err := s.page.Location(ctx)
	if err != nil {
		return s.fail(ctx, fmt.Errorf("reading location: %w", err))
	}
	log.Ctx(ctx).InfoContext(ctx, "after login", slog.String("url", current))

	if portal.LoginMarker == "" || !strings.Contains(strings.ToLower(current), strings.ToLower(portal.LoginMarker)) {
		log.Ctx(ctx).InfoContext(ctx, "logged in, left the login page")
		s.setState(ctx, StateAuthenticated)
		return nil
	}

	loggedIn, err := locate(ctx, s.page, sel.LoggedIn, obs)
	if err != nil {
		return s.fail(ctx, err)
	}
	if loggedIn != nil {
		log.Ctx(ctx).InfoContext(ctx, "logged in, found dashboard element")
		s.setState(ctx, StateAuthenticated)
		return nil
	}

	s.diag.screenshot(ctx, s.page, "login_failed")
	return s.fail(ctx, ErrLoginFailed)
}

// Download opens the consumption chart, triggers the export and waits for the file.
// The portal exports whatever range the chart shows, so daysBack is only logged.
func (s *BrowserScraper) Download(ctx context.Context, daysBack int) (*Artifact, error) {
	if s.state != StateAuthenticated {
		return nil, ErrNotLoggedIn
	}

	ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("strategy", s.Name()), slog.String("stage", "export")))
	sel := s.opts.Selectors
	obs := s.opts.observer()

	if err := s.OpenChart(ctx); err != nil {
		return nil, s.fail(ctx, err)
	}
	log.Ctx(ctx).InfoContext(ctx, "chart loaded", slog.Int("daysBack", daysBack))
	s.diag.screenshot(ctx, s.page, "chart_page_loaded")

	watcher := NewArtifactWatcher(s.opts.DownloadDir, s.opts.Timeouts.Download, s.opts.Timeouts.Recency)
	if err := watcher.Snapshot(); err != nil {
		return nil, s.fail(ctx, err)
	}

	export, err := locate(ctx, s.page, sel.Export, obs)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	if export == nil {
		s.diag.screenshot(ctx, s.page, "no_download_button_found")
		s.diag.dumpControls(ctx, s.page)
		return nil, s.fail(ctx, ErrExportControlNotFound)
	}
	if err := s.click(ctx, export.Element); err != nil {
		return nil, s.fail(ctx, fmt.Errorf("clicking export control: %w", err))
	}
	s.setState(ctx, StateExportTriggered)

	if err := sleep(ctx, s.opts.Timeouts.AfterClick); err != nil {
		return nil, s.fail(ctx, err)
	}
	s.diag.screenshot(ctx, s.page, "after_export_click")

	// Some exports open a dialog that has to be confirmed
	save, err := locate(ctx, s.page, sel.Save, obs)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	if save != nil {
		if err := s.click(ctx, save.Element); err != nil {
			return nil, s.fail(ctx, fmt.Errorf("clicking save control: %w", err))
		}
		log.Ctx(ctx).InfoContext(ctx, "download started, waiting for file")
	} else {
		log.Ctx(ctx).WarnContext(ctx, "no save control found")
		s.diag.screenshot(ctx, s.page, "no_save_button_found")
	}

	artifact, err := watcher.Await(ctx, s.page.Downloads())
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	log.Ctx(ctx).InfoContext(ctx, "export downloaded", slog.String("path", artifact.Path), slog.Int64("size", artifact.Size))
	s.setState(ctx, StateArtifactFound)
	return artifact, nil
}

// OpenChart navigates to the consumption chart and waits for it to render
func (s *BrowserScraper) OpenChart(ctx context.Context) error {
	if s.page == nil {
		return ErrNotLoggedIn
	}
	log.Ctx(ctx).InfoContext(ctx, "opening consumption chart", slog.String("url", s.opts.Portal.ChartURL))
	if err := s.page.Navigate(ctx, s.opts.Portal.ChartURL); err != nil {
		return fmt.Errorf("opening chart: %w", err)
	}
	return sleep(ctx, s.opts.Timeouts.ChartLoad)
}

// Controls lists and logs the visible controls of the current page
func (s *BrowserScraper) Controls(ctx context.Context) ([]Control, error) {
	if s.page == nil {
		return nil, ErrNotLoggedIn
	}
	return s.diag.dumpControls(ctx, s.page), nil
}

// Screenshot saves a diagnostic screenshot of the current page
func (s *BrowserScraper) Screenshot(ctx context.Context, stage string) string {
	return s.diag.screenshot(ctx, s.page, stage)
}

// click tries a pointer click and falls back to a scripted one
func (s *BrowserScraper) click(ctx context.Context, el Element) error {
	err := s.page.Click(ctx, el)
	if err == nil {
		return nil
	}
	log.Ctx(ctx).DebugContext(ctx, "click failed, clicking via script", slog.Any("error", err))
	return s.page.ClickScript(ctx, el)
}

// Close terminates the browser. It is safe to call more than once.
func (s *BrowserScraper) Close() error {
	s.closeOnce.Do(func() {
		s.closed = true
		if s.page != nil {
			s.closeErr = s.page.Close()
		}
	})
	return s.closeErr
}

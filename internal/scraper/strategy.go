package scraper

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Strategy acquires a raw export from the portal. An instance owns exactly one
// session and must be closed once, whatever the outcome.
type Strategy interface {
	Name() string
	Login(ctx context.Context) error
	Download(ctx context.Context, daysBack int) (*Artifact, error)
	Close() error
}

// Credentials for the portal account
type Credentials struct {
	Username string
	Password string
}

// LogValue keeps the password out of log records
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.Bool("password_set", c.Password != ""),
	)
}

// Artifact is a file retrieved from the portal
type Artifact struct {
	Path    string
	Size    int64
	ModTime time.Time
	Source  string
}

// Portal holds the portal URLs
type Portal struct {
	BaseURL  string
	EntryURL string
	ChartURL string
	APIURL   string
	// LoginMarker is the URL substring that means the login page is still shown
	LoginMarker string
}

// DefaultPortal returns the Netz Burgenland enView portal
func DefaultPortal() Portal {
	return Portal{
		BaseURL:     "https://smartmeter.netzburgenland.at",
		EntryURL:    "https://smartmeter.netzburgenland.at/enview/enView.Portal/",
		ChartURL:    "https://smartmeter.netzburgenland.at/enview/enView.Portal/#/consumption/values/chart/month",
		APIURL:      "https://smartmeter.netzburgenland.at/enview/enView.Portal/api",
		LoginMarker: "login",
	}
}

// Timeouts are the fixed waits of the acquisition flows
type Timeouts struct {
	// PageLoad is waited after opening the login page
	PageLoad time.Duration
	// ChartLoad is waited after opening the consumption chart
	ChartLoad time.Duration
	// Settle is waited after submitting the login form
	Settle time.Duration
	// AfterClick is waited after clicking an export or save control
	AfterClick time.Duration
	// Download is how long each poll of the download directory lasts
	Download time.Duration
	// Recency is how old a pre-existing file may be to count as the download
	Recency time.Duration
	// Request bounds a single HTTP request
	Request time.Duration
	// Browser bounds the whole browser session
	Browser time.Duration
}

// DefaultTimeouts returns the waits the portal needs in practice
func DefaultTimeouts() Timeouts {
	return Timeouts{
		PageLoad:   3 * time.Second,
		ChartLoad:  5 * time.Second,
		Settle:     5 * time.Second,
		AfterClick: 3 * time.Second,
		Download:   10 * time.Second,
		Recency:    5 * time.Minute,
		Request:    30 * time.Second,
		Browser:    3 * time.Minute,
	}
}

// Request is a network event seen by the browser
type Request struct {
	Method   string
	URL      string
	Type     string
	MimeType string
	Status   int64
}

// Options configures a strategy
type Options struct {
	Credentials Credentials
	Headless    bool
	DownloadDir string
	Portal      Portal
	Timeouts    Timeouts
	Selectors   SelectorSet
	// DataType is the export resolution: 15min, hourly, daily or monthly
	DataType string
	Observer Observer
	// OnRequest, when set, receives every response the browser sees
	OnRequest func(Request)
	// HTTPClient overrides the client used by the HTTP strategy. Its jar is replaced.
	HTTPClient *http.Client
}

func (o Options) observer() Observer {
	if o.Observer == nil {
		return nopObserver{}
	}
	return o.Observer
}

func (o Options) dataType() string {
	if o.DataType == "" {
		return "15min"
	}
	return o.DataType
}

// Observer is told which selector of a list matched, for tracking portal drift
type Observer interface {
	SelectorHit(list string, index int, name string)
	SelectorMiss(list string)
}

type nopObserver struct{}

func (nopObserver) SelectorHit(string, int, string) {}
func (nopObserver) SelectorMiss(string)             {}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

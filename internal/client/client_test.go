package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/meterscraper/internal/config"
	"github.com/jgoulah/meterscraper/internal/metrics"
	"github.com/jgoulah/meterscraper/internal/parser"
	"github.com/jgoulah/meterscraper/internal/scraper"
)

const exportCSV = "Datum;Verbrauch (kWh)\n" +
	"01.06.2024 08:00;2,5\n" +
	"01.06.2024 20:00;1,5\n" +
	"02.06.2024 09:00;3,0\n"

var today = time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC)

type fakeStrategy struct {
	name        string
	dir         string
	content     string
	loginErr    error
	downloadErr error

	logins    int
	downloads int
	closes    int
	daysBack  int
}

func (s *fakeStrategy) Name() string { return s.name }

func (s *fakeStrategy) Login(ctx context.Context) error {
	s.logins++
	return s.loginErr
}

func (s *fakeStrategy) Download(ctx context.Context, daysBack int) (*scraper.Artifact, error) {
	s.downloads++
	s.daysBack = daysBack
	if s.downloadErr != nil {
		return nil, s.downloadErr
	}
	path := filepath.Join(s.dir, s.name+".csv")
	if err := os.WriteFile(path, []byte(s.content), 0644); err != nil {
		return nil, err
	}
	return &scraper.Artifact{Path: path, Source: s.name}, nil
}

func (s *fakeStrategy) Close() error {
	s.closes++
	return nil
}

// factory hands out configured fakes and remembers every strategy it created
type factory struct {
	mu      sync.Mutex
	t       *testing.T
	configs map[string]func() *fakeStrategy
	created []*fakeStrategy
	opts    []scraper.Options
}

func (f *factory) New(name string, opts scraper.Options) (scraper.Strategy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mk, ok := f.configs[name]
	if !ok {
		return nil, errors.New("no fake for " + name)
	}
	s := mk()
	s.name = name
	s.dir = f.t.TempDir()
	f.created = append(f.created, s)
	f.opts = append(f.opts, opts)
	return s, nil
}

func (f *factory) names() []string {
	var out []string
	for _, s := range f.created {
		out = append(out, s.name)
	}
	return out
}

func (f *factory) assertClosedOnce(t *testing.T) {
	t.Helper()
	for i, s := range f.created {
		assert.Equal(t, 1, s.closes, "strategy %d (%s) must be closed exactly once", i, s.name)
	}
}

func newTestClient(t *testing.T, cfg *config.Config, configs map[string]func() *fakeStrategy, extra ...Option) (*Client, *factory) {
	t.Helper()
	if cfg.Username == "" {
		cfg.Username = "user@example.com"
		cfg.Password = "secret"
	}
	f := &factory{t: t, configs: configs}
	opts := append([]Option{
		WithStrategyFactory(f.New),
		WithClock(func() time.Time { return today }),
		WithRetryDelay(0),
	}, extra...)
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	return c, f
}

func ok() *fakeStrategy { return &fakeStrategy{content: exportCSV} }

func TestNew(t *testing.T) {
	_, err := New(&config.Config{})
	assert.ErrorContains(t, err, "username and password")

	_, err = New(&config.Config{Username: "u", Password: "p", Strategy: "fax"})
	assert.ErrorContains(t, err, "unknown strategy")
}

func TestTestConnection(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		c, f := newTestClient(t, &config.Config{}, map[string]func() *fakeStrategy{"browser": ok})
		assert.True(t, c.TestConnection(ctx))
		require.Len(t, f.created, 1)
		assert.Equal(t, 1, f.created[0].logins)
		assert.Zero(t, f.created[0].downloads)
		f.assertClosedOnce(t)
	})

	t.Run("LoginFails", func(t *testing.T) {
		c, f := newTestClient(t, &config.Config{}, map[string]func() *fakeStrategy{
			"browser": func() *fakeStrategy { return &fakeStrategy{loginErr: scraper.ErrAuthenticationRejected} },
		})
		assert.False(t, c.TestConnection(ctx))
		f.assertClosedOnce(t)
	})

	t.Run("AutoFallsBack", func(t *testing.T) {
		c, f := newTestClient(t, &config.Config{Strategy: config.StrategyAuto}, map[string]func() *fakeStrategy{
			"http":    func() *fakeStrategy { return &fakeStrategy{loginErr: scraper.ErrLoginFailed} },
			"browser": ok,
		})
		assert.True(t, c.TestConnection(ctx))
		assert.Equal(t, []string{"http", "browser"}, f.names())
		f.assertClosedOnce(t)
	})
}

func TestFetchStatistics(t *testing.T) {
	ctx := context.Background()
	price := 0.2
	c, f := newTestClient(t, &config.Config{PricePerKWh: &price, DaysToFetch: 7, Timezone: "UTC"},
		map[string]func() *fakeStrategy{"browser": ok})

	snap, res, err := c.FetchStatistics(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3.0, snap.ConsumptionToday)
	assert.Equal(t, 4.0, snap.ConsumptionYesterday)
	assert.Equal(t, 0.6, snap.CostToday)
	assert.Equal(t, 0.8, snap.CostYesterday)
	assert.Equal(t, 0.2, snap.PricePerKWh)
	assert.Len(t, res.Readings, 3)

	require.Len(t, f.created, 1)
	assert.Equal(t, 7, f.created[0].daysBack)
	f.assertClosedOnce(t)
}

func TestFetchUsesConfiguredZone(t *testing.T) {
	// 00:30 in Vienna is still the previous day in UTC
	c, _ := newTestClient(t, &config.Config{Timezone: "Europe/Vienna"}, map[string]func() *fakeStrategy{
		"browser": func() *fakeStrategy {
			return &fakeStrategy{content: "Datum;Verbrauch (kWh)\n02.06.2024 00:30;3,0\n"}
		},
	})

	snap, _, err := c.FetchStatistics(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3.0, snap.ConsumptionToday)
	assert.Zero(t, snap.ConsumptionYesterday)
	require.NotNil(t, snap.LastReadingTime)
	assert.Equal(t, "Europe/Vienna", snap.LastReadingTime.Location().String())
}

func TestFetchFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("DownloadFailsClosesSession", func(t *testing.T) {
		c, f := newTestClient(t, &config.Config{}, map[string]func() *fakeStrategy{
			"browser": func() *fakeStrategy { return &fakeStrategy{downloadErr: scraper.ErrNoArtifactFound} },
		})
		_, _, err := c.FetchStatistics(ctx)
		require.ErrorIs(t, err, scraper.ErrNoArtifactFound)
		assert.False(t, scraper.IsAuthFailure(err))
		f.assertClosedOnce(t)
	})

	t.Run("RetriesEndToEnd", func(t *testing.T) {
		calls := 0
		c, f := newTestClient(t, &config.Config{Retries: 2}, map[string]func() *fakeStrategy{
			"browser": func() *fakeStrategy {
				calls++
				if calls < 3 {
					return &fakeStrategy{downloadErr: scraper.ErrExportControlNotFound}
				}
				return ok()
			},
		})
		_, _, err := c.FetchStatistics(ctx)
		require.NoError(t, err)
		assert.Len(t, f.created, 3)
		f.assertClosedOnce(t)
	})

	t.Run("RetriesExhausted", func(t *testing.T) {
		c, f := newTestClient(t, &config.Config{Retries: 1}, map[string]func() *fakeStrategy{
			"browser": func() *fakeStrategy { return &fakeStrategy{loginErr: scraper.ErrFieldNotFound} },
		})
		_, _, err := c.FetchStatistics(ctx)
		require.ErrorIs(t, err, scraper.ErrFieldNotFound)
		assert.Len(t, f.created, 2)
		f.assertClosedOnce(t)
	})

	t.Run("AuthFailureNotRetried", func(t *testing.T) {
		c, f := newTestClient(t, &config.Config{Retries: 3}, map[string]func() *fakeStrategy{
			"browser": func() *fakeStrategy { return &fakeStrategy{loginErr: scraper.ErrAuthenticationRejected} },
		})
		_, _, err := c.FetchStatistics(ctx)
		require.Error(t, err)
		assert.True(t, scraper.IsAuthFailure(err))
		assert.Len(t, f.created, 1)
		f.assertClosedOnce(t)
	})

	t.Run("HTTPAuthError", func(t *testing.T) {
		c, f := newTestClient(t, &config.Config{Strategy: config.StrategyHTTP, Retries: 1}, map[string]func() *fakeStrategy{
			"http": func() *fakeStrategy {
				return &fakeStrategy{downloadErr: &scraper.AuthError{StatusCode: 401, Message: "unauthorized"}}
			},
		})
		_, _, err := c.FetchStatistics(ctx)
		var authErr *scraper.AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, 401, authErr.StatusCode)
		assert.Len(t, f.created, 1)
		f.assertClosedOnce(t)
	})

	t.Run("MalformedExport", func(t *testing.T) {
		c, f := newTestClient(t, &config.Config{}, map[string]func() *fakeStrategy{
			"browser": func() *fakeStrategy { return &fakeStrategy{content: "only\n1\n2\n"} },
		})
		_, _, err := c.FetchStatistics(ctx)
		require.ErrorIs(t, err, parser.ErrSchema)
		var pe *parser.ParseError
		require.ErrorAs(t, err, &pe)
		f.assertClosedOnce(t)
	})

	t.Run("CancelledBeforeRetry", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctx)
		c, f := newTestClient(t, &config.Config{Retries: 5}, map[string]func() *fakeStrategy{
			"browser": func() *fakeStrategy {
				cancel()
				return &fakeStrategy{downloadErr: scraper.ErrNoArtifactFound}
			},
		})
		_, _, err := c.FetchStatistics(ctx)
		require.Error(t, err)
		assert.Len(t, f.created, 1)
		f.assertClosedOnce(t)
	})
}

func TestAutoStrategy(t *testing.T) {
	ctx := context.Background()

	t.Run("HTTPFirst", func(t *testing.T) {
		c, f := newTestClient(t, &config.Config{Strategy: config.StrategyAuto}, map[string]func() *fakeStrategy{
			"http":    ok,
			"browser": ok,
		})
		_, _, err := c.FetchStatistics(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"http"}, f.names())
		f.assertClosedOnce(t)
	})

	t.Run("FallsBackToBrowser", func(t *testing.T) {
		c, f := newTestClient(t, &config.Config{Strategy: config.StrategyAuto}, map[string]func() *fakeStrategy{
			"http": func() *fakeStrategy {
				return &fakeStrategy{downloadErr: &scraper.AuthError{StatusCode: 403}}
			},
			"browser": ok,
		})
		res, err := c.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, "browser", res.Strategy)
		assert.Equal(t, []string{"http", "browser"}, f.names())
		f.assertClosedOnce(t)
	})

	t.Run("OnlyLastErrorDecidesAuth", func(t *testing.T) {
		c, f := newTestClient(t, &config.Config{Strategy: config.StrategyAuto}, map[string]func() *fakeStrategy{
			"http": func() *fakeStrategy {
				return &fakeStrategy{downloadErr: &scraper.AuthError{StatusCode: 403}}
			},
			"browser": func() *fakeStrategy { return &fakeStrategy{downloadErr: scraper.ErrNoArtifactFound} },
		})
		_, _, err := c.FetchStatistics(ctx)
		require.ErrorIs(t, err, scraper.ErrNoArtifactFound)
		assert.False(t, scraper.IsAuthFailure(err))
		assert.Contains(t, err.Error(), "earlier: http")
		f.assertClosedOnce(t)
	})
}

func TestMetricsRecorded(t *testing.T) {
	m := metrics.New()
	c, _ := newTestClient(t, &config.Config{}, map[string]func() *fakeStrategy{"browser": ok}, WithMetrics(m))

	_, _, err := c.FetchStatistics(context.Background())
	require.NoError(t, err)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	found := map[string]bool{}
	for _, fam := range families {
		found[fam.GetName()] = true
	}
	assert.True(t, found["meterscraper_acquisition_outcomes_total"])
	assert.True(t, found["meterscraper_last_success_timestamp_seconds"])
	assert.True(t, found["meterscraper_parser_rows_total"])
}

func TestStrategyOptions(t *testing.T) {
	cfg := &config.Config{
		Username: "u",
		Password: "p",
		Portal:   config.PortalConfig{EntryURL: "https://portal.test/"},
		Timeouts: config.TimeoutConfig{Settle: 9 * time.Second},
		Selectors: map[string][]config.SelectorConfig{
			scraper.ListExport: {{Kind: "css", Query: "button.custom"}},
		},
	}

	opts, err := StrategyOptions(cfg)
	require.NoError(t, err)

	assert.True(t, opts.Headless)
	assert.Equal(t, "https://portal.test/", opts.Portal.EntryURL)
	assert.Equal(t, scraper.DefaultPortal().ChartURL, opts.Portal.ChartURL)
	assert.Equal(t, 9*time.Second, opts.Timeouts.Settle)
	assert.Equal(t, scraper.DefaultTimeouts().Download, opts.Timeouts.Download)

	export, ok := opts.Selectors.List(scraper.ListExport)
	require.True(t, ok)
	assert.Equal(t, "button.custom", export.Selectors[0].Query)

	t.Run("UnknownList", func(t *testing.T) {
		cfg.Selectors = map[string][]config.SelectorConfig{"nope": {{Kind: "css", Query: "x"}}}
		_, err := StrategyOptions(cfg)
		assert.ErrorContains(t, err, "unknown selector list")
	})
}

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jgoulah/meterscraper/internal/config"
	"github.com/jgoulah/meterscraper/internal/log"
	"github.com/jgoulah/meterscraper/internal/metrics"
	"github.com/jgoulah/meterscraper/internal/parser"
	"github.com/jgoulah/meterscraper/internal/scraper"
	"github.com/jgoulah/meterscraper/pkg/models"
)

const defaultRetryDelay = 30 * time.Second

// StrategyFactory creates a fresh acquisition strategy by name
type StrategyFactory func(name string, opts scraper.Options) (scraper.Strategy, error)

// Client runs the login, export and parse pipeline against the portal
type Client struct {
	cfg         *config.Config
	opts        scraper.Options
	parseOpts   parser.Options
	metrics     *metrics.Metrics
	newStrategy StrategyFactory
	now         func() time.Time
	retryDelay  time.Duration
}

// Option customizes a Client
type Option func(*Client)

// WithMetrics records attempts, outcomes and selector hits
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
		c.opts.Observer = m
	}
}

// WithStrategyFactory replaces how strategies are created
func WithStrategyFactory(f StrategyFactory) Option {
	return func(c *Client) { c.newStrategy = f }
}

// WithClock sets the time "today" is derived from
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithRetryDelay sets the pause between end-to-end attempts
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// Result is the outcome of one successful fetch
type Result struct {
	Strategy string
	Artifact *scraper.Artifact
	Parsed   *parser.Result
	Snapshot models.Snapshot
}

// New creates a client for the configured account
func New(cfg *config.Config, options ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if !cfg.HasCredentials() {
		return nil, errors.New("username and password are required")
	}

	opts, err := StrategyOptions(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:         cfg,
		opts:        opts,
		parseOpts:   ParserOptions(cfg),
		newStrategy: DefaultStrategyFactory,
		now:         time.Now,
		retryDelay:  defaultRetryDelay,
	}
	for _, o := range options {
		o(c)
	}
	return c, nil
}

// DefaultStrategyFactory builds the browser and HTTP strategies
func DefaultStrategyFactory(name string, opts scraper.Options) (scraper.Strategy, error) {
	switch name {
	case config.StrategyBrowser:
		return scraper.NewBrowserScraper(opts), nil
	case config.StrategyHTTP:
		s, err := scraper.NewHTTPScraper(opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// strategies returns the strategy names to try, in order
func (c *Client) strategies() []string {
	switch c.cfg.GetStrategy() {
	case config.StrategyAuto:
		return []string{config.StrategyHTTP, config.StrategyBrowser}
	default:
		return []string{c.cfg.GetStrategy()}
	}
}

// TestConnection logs in and out again. Every failure is logged and reported
// as false.
func (c *Client) TestConnection(ctx context.Context) bool {
	for _, name := range c.strategies() {
		err := c.withStrategy(ctx, name, func(ctx context.Context, s scraper.Strategy) error {
			return s.Login(ctx)
		})
		if err == nil {
			log.Ctx(ctx).InfoContext(ctx, "connection test succeeded", slog.String("strategy", name))
			return true
		}
		log.Ctx(ctx).WarnContext(
			ctx,
			"connection test failed",
			slog.String("strategy", name),
			slog.Bool("authFailure", scraper.IsAuthFailure(err)),
			slog.Any("error", err),
		)
		if scraper.IsAuthFailure(err) {
			return false
		}
	}
	return false
}

// FetchStatistics downloads a fresh export and computes its statistics.
// Use scraper.IsAuthFailure on the error to tell rejected credentials apart.
func (c *Client) FetchStatistics(ctx context.Context) (models.Snapshot, *parser.Result, error) {
	res, err := c.Fetch(ctx)
	if err != nil {
		return models.Snapshot{}, nil, err
	}
	return res.Snapshot, res.Parsed, nil
}

// Fetch runs the whole pipeline, retrying it as configured. Authentication
// failures are never retried.
func (c *Client) Fetch(ctx context.Context) (*Result, error) {
	attempts := 1 + c.cfg.Retries
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		ctx := log.With(ctx, log.Ctx(ctx).With(slog.Int("attempt", attempt)))

		var res *Result
		res, err = c.fetchOnce(ctx)
		if err == nil {
			return res, nil
		}
		if scraper.IsAuthFailure(err) || ctx.Err() != nil || attempt == attempts {
			break
		}

		log.Ctx(ctx).WarnContext(ctx, "fetch failed, retrying", slog.Any("error", err), slog.Duration("delay", c.retryDelay))
		if serr := sleep(ctx, c.retryDelay); serr != nil {
			return nil, errors.Join(err, serr)
		}
	}
	return nil, err
}

// fetchOnce tries each strategy in order. The returned error wraps the last
// strategy's error; earlier failures are only kept as text so they never
// decide whether the run counts as an authentication failure.
func (c *Client) fetchOnce(ctx context.Context) (*Result, error) {
	var earlier []string
	names := c.strategies()
	for i, name := range names {
		res, err := c.fetchWith(ctx, name)
		if err == nil {
			return res, nil
		}
		if i == len(names)-1 {
			if len(earlier) > 0 {
				return nil, fmt.Errorf("%s: %w (earlier: %s)", name, err, strings.Join(earlier, "; "))
			}
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		earlier = append(earlier, fmt.Sprintf("%s: %v", name, err))
		log.Ctx(ctx).WarnContext(ctx, "strategy failed, falling back", slog.String("strategy", name), slog.Any("error", err))
	}
	return nil, errors.New("no strategy configured")
}

func (c *Client) fetchWith(ctx context.Context, name string) (*Result, error) {
	started := c.now()
	if c.metrics != nil {
		c.metrics.Attempt(name)
	}

	res := &Result{Strategy: name}
	err := c.withStrategy(ctx, name, func(ctx context.Context, s scraper.Strategy) error {
		if err := s.Login(ctx); err != nil {
			return err
		}
		artifact, err := s.Download(ctx, c.cfg.GetDaysToFetch())
		if err != nil {
			return err
		}
		res.Artifact = artifact
		return nil
	})
	if err == nil {
		res.Snapshot, res.Parsed, err = parser.Analyze(ctx, res.Artifact.Path, c.today(), c.cfg.GetPricePerKWh(), c.parseOpts)
	}

	if c.metrics != nil {
		outcome := metrics.OutcomeSuccess
		switch {
		case scraper.IsAuthFailure(err):
			outcome = metrics.OutcomeAuthFailed
		case err != nil:
			outcome = metrics.OutcomeError
		}
		c.metrics.Outcome(name, outcome, c.now().Sub(started), c.now())
		if res.Parsed != nil {
			c.metrics.Parsed(len(res.Parsed.Readings), res.Parsed.Dropped)
		}
	}
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).InfoContext(
		ctx,
		"statistics computed",
		slog.String("strategy", name),
		slog.String("artifact", res.Artifact.Path),
		slog.Int("readings", len(res.Parsed.Readings)),
		slog.Int("dropped", res.Parsed.Dropped),
	)
	return res, nil
}

// today returns the current time in the zone readings are bucketed in
func (c *Client) today() time.Time {
	return c.now().In(c.parseOpts.Location)
}

// withStrategy creates a strategy, runs fn and closes the strategy exactly once
func (c *Client) withStrategy(ctx context.Context, name string, fn func(context.Context, scraper.Strategy) error) error {
	s, err := c.newStrategy(name, c.opts)
	if err != nil {
		return fmt.Errorf("creating %s strategy: %w", name, err)
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			log.Ctx(ctx).WarnContext(ctx, "closing session failed", slog.String("strategy", name), slog.Any("error", cerr))
		}
	}()

	ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("strategy", name)))
	log.Ctx(ctx).InfoContext(ctx, "starting session", slog.Any("credentials", c.opts.Credentials))
	return fn(ctx, s)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

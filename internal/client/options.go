package client

import (
	"fmt"

	"github.com/jgoulah/meterscraper/internal/config"
	"github.com/jgoulah/meterscraper/internal/parser"
	"github.com/jgoulah/meterscraper/internal/scraper"
)

// StrategyOptions turns the configuration into acquisition options. Configured
// selectors are tried before the built-in ones.
func StrategyOptions(cfg *config.Config) (scraper.Options, error) {
	opts := scraper.Options{
		Credentials: scraper.Credentials{Username: cfg.Username, Password: cfg.Password},
		Headless:    cfg.IsHeadless(),
		DownloadDir: cfg.GetDownloadDir(),
		Portal:      portal(cfg.Portal),
		Timeouts:    timeouts(cfg.Timeouts),
		DataType:    cfg.GetDataType(),
	}

	overrides := make(map[string][]scraper.Selector, len(cfg.Selectors))
	for list, selectors := range cfg.Selectors {
		for _, s := range selectors {
			overrides[list] = append(overrides[list], scraper.Selector{
				Name:  s.Name,
				Kind:  scraper.Kind(s.Kind),
				Query: s.Query,
				Text:  s.Text,
			})
		}
	}

	set, err := scraper.DefaultSelectors().WithOverrides(overrides)
	if err != nil {
		return scraper.Options{}, fmt.Errorf("applying selector overrides: %w", err)
	}
	opts.Selectors = set

	return opts, nil
}

// ParserOptions returns the parser settings for the configured time zone
func ParserOptions(cfg *config.Config) parser.Options {
	return parser.Options{Location: cfg.GetLocation()}
}

func portal(pc config.PortalConfig) scraper.Portal {
	p := scraper.DefaultPortal()
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&p.BaseURL, pc.BaseURL)
	set(&p.EntryURL, pc.EntryURL)
	set(&p.ChartURL, pc.ChartURL)
	set(&p.APIURL, pc.APIURL)
	set(&p.LoginMarker, pc.LoginMarker)
	return p
}

func timeouts(tc config.TimeoutConfig) scraper.Timeouts {
	t := scraper.DefaultTimeouts()
	if tc.PageLoad > 0 {
		t.PageLoad = tc.PageLoad
	}
	if tc.ChartLoad > 0 {
		t.ChartLoad = tc.ChartLoad
	}
	if tc.Settle > 0 {
		t.Settle = tc.Settle
	}
	if tc.AfterClick > 0 {
		t.AfterClick = tc.AfterClick
	}
	if tc.Download > 0 {
		t.Download = tc.Download
	}
	if tc.Request > 0 {
		t.Request = tc.Request
	}
	if tc.Browser > 0 {
		t.Browser = tc.Browser
	}
	return t
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Acquisition strategies
const (
	StrategyBrowser = "browser"
	StrategyHTTP    = "http"
	StrategyAuto    = "auto"
)

// Defaults
const (
	DefaultPricePerKWh = 0.15
	DefaultDaysToFetch = 30
	DefaultDownloadDir = "downloads"
	DefaultDataType    = "15min"
)

// DataTypes are the export resolutions the portal offers
var DataTypes = []string{"15min", "hourly", "daily", "monthly"}

// Config holds the application configuration
type Config struct {
	Username        string                      `yaml:"username"`
	Password        string                      `yaml:"password"`
	Headless        *bool                       `yaml:"headless,omitempty"`      // Default true
	PricePerKWh     *float64                    `yaml:"price_per_kwh,omitempty"` // EUR per kWh, default 0.15
	DaysToFetch     int                         `yaml:"days_to_fetch,omitempty"` // Default 30
	Strategy        string                      `yaml:"strategy,omitempty"`      // browser, http or auto
	Retries         int                         `yaml:"retries,omitempty"`       // Extra end-to-end attempts
	DataType        string                      `yaml:"data_type,omitempty"`     // 15min, hourly, daily, monthly
	DownloadDir     string                      `yaml:"download_dir,omitempty"`
	Timezone        string                      `yaml:"timezone,omitempty"` // e.g. "Europe/Vienna", default local
	Portal          PortalConfig                `yaml:"portal,omitempty"`
	Timeouts        TimeoutConfig               `yaml:"timeouts,omitempty"`
	Selectors       map[string][]SelectorConfig `yaml:"selectors,omitempty"` // Tried before the built-in lists
	MQTT            MQTTConfig                  `yaml:"mqtt,omitempty"`
	HomeAssistant   HAConfig                    `yaml:"home_assistant,omitempty"`
	MetricsTextfile string                      `yaml:"metrics_textfile,omitempty"` // node_exporter textfile path
}

// PortalConfig overrides the portal URLs
type PortalConfig struct {
	BaseURL     string `yaml:"base_url,omitempty"`
	EntryURL    string `yaml:"entry_url,omitempty"`
	ChartURL    string `yaml:"chart_url,omitempty"`
	APIURL      string `yaml:"api_url,omitempty"`
	LoginMarker string `yaml:"login_marker,omitempty"`
}

// TimeoutConfig overrides the fixed waits, e.g. "5s"
type TimeoutConfig struct {
	PageLoad   time.Duration `yaml:"page_load,omitempty"`
	ChartLoad  time.Duration `yaml:"chart_load,omitempty"`
	Settle     time.Duration `yaml:"settle,omitempty"`
	AfterClick time.Duration `yaml:"after_click,omitempty"`
	Download   time.Duration `yaml:"download,omitempty"`
	Request    time.Duration `yaml:"request,omitempty"`
	Browser    time.Duration `yaml:"browser,omitempty"`
}

// SelectorConfig is an extra way of locating an element
type SelectorConfig struct {
	Name  string `yaml:"name,omitempty"`
	Kind  string `yaml:"kind"` // css, xpath or text
	Query string `yaml:"query"`
	Text  string `yaml:"text,omitempty"`
}

// MQTTConfig holds MQTT broker configuration
type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Broker          string `yaml:"broker"` // host:port
	Username        string `yaml:"username,omitempty"`
	Password        string `yaml:"password,omitempty"`
	ClientID        string `yaml:"client_id,omitempty"`
	TopicPrefix     string `yaml:"topic_prefix,omitempty"`     // Default "smartmeter"
	DiscoveryPrefix string `yaml:"discovery_prefix,omitempty"` // Default "homeassistant"
}

// HAConfig holds Home Assistant HTTP API configuration
type HAConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`                     // e.g., "http://homeassistant.local:8123"
	Token        string `yaml:"token"`                   // Long-lived access token
	EntityPrefix string `yaml:"entity_prefix,omitempty"` // Default "smartmeter"
}

// Load reads the config file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty config if file doesn't exist
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &cfg, nil
}

// Save writes the config to file
func Save(configPath string, cfg *Config) error {
	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default config file path (local directory)
func DefaultConfigPath() string {
	return "config.yaml"
}

// Validate reports every problem with the configuration at once
func (c *Config) Validate() error {
	var errs []error

	if c.PricePerKWh != nil && *c.PricePerKWh < 0 {
		errs = append(errs, fmt.Errorf("price_per_kwh must not be negative, got %v", *c.PricePerKWh))
	}
	if c.DaysToFetch < 0 {
		errs = append(errs, fmt.Errorf("days_to_fetch must not be negative, got %d", c.DaysToFetch))
	}
	if c.Retries < 0 {
		errs = append(errs, fmt.Errorf("retries must not be negative, got %d", c.Retries))
	}

	switch c.GetStrategy() {
	case StrategyBrowser, StrategyHTTP, StrategyAuto:
	default:
		errs = append(errs, fmt.Errorf("unknown strategy %q (want browser, http or auto)", c.Strategy))
	}

	if !validDataType(c.GetDataType()) {
		errs = append(errs, fmt.Errorf("unknown data_type %q (want 15min, hourly, daily or monthly)", c.DataType))
	}

	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("timezone: %w", err))
		}
	}

	for name, raw := range map[string]string{
		"portal.base_url":    c.Portal.BaseURL,
		"portal.entry_url":   c.Portal.EntryURL,
		"portal.chart_url":   c.Portal.ChartURL,
		"portal.api_url":     c.Portal.APIURL,
		"home_assistant.url": c.HomeAssistant.URL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s is not an absolute URL: %q", name, raw))
		}
	}

	for list, selectors := range c.Selectors {
		for i, sel := range selectors {
			switch sel.Kind {
			case "css", "xpath", "text":
			default:
				errs = append(errs, fmt.Errorf("selectors.%s[%d]: unknown kind %q", list, i, sel.Kind))
			}
			if sel.Query == "" {
				errs = append(errs, fmt.Errorf("selectors.%s[%d]: query is required", list, i))
			}
		}
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	if c.HomeAssistant.Enabled {
		if c.HomeAssistant.URL == "" {
			errs = append(errs, errors.New("home_assistant.url is required when enabled"))
		}
		if c.HomeAssistant.Token == "" {
			errs = append(errs, errors.New("home_assistant.token is required when enabled"))
		}
	}

	return errors.Join(errs...)
}

func validDataType(dt string) bool {
	for _, t := range DataTypes {
		if t == dt {
			return true
		}
	}
	return false
}

// HasCredentials reports whether a username and password are configured
func (c *Config) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// IsHeadless returns whether the browser runs without a window, default true
func (c *Config) IsHeadless() bool {
	if c.Headless == nil {
		return true
	}
	return *c.Headless
}

// GetPricePerKWh returns the energy price with a default of 0.15
func (c *Config) GetPricePerKWh() float64 {
	if c.PricePerKWh == nil {
		return DefaultPricePerKWh
	}
	return *c.PricePerKWh
}

// GetDaysToFetch returns the number of days to fetch with a default of 30
func (c *Config) GetDaysToFetch() int {
	if c.DaysToFetch <= 0 {
		return DefaultDaysToFetch
	}
	return c.DaysToFetch
}

// GetStrategy returns the acquisition strategy, default browser
func (c *Config) GetStrategy() string {
	if c.Strategy == "" {
		return StrategyBrowser
	}
	return c.Strategy
}

// GetDataType returns the export resolution, default 15min
func (c *Config) GetDataType() string {
	if c.DataType == "" {
		return DefaultDataType
	}
	return c.DataType
}

// GetDownloadDir returns where exports and screenshots are written
func (c *Config) GetDownloadDir() string {
	if c.DownloadDir == "" {
		return DefaultDownloadDir
	}
	return c.DownloadDir
}

// GetLocation returns the time zone used for timestamps without an offset
func (c *Config) GetLocation() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jgoulah/meterscraper/internal/client"
	"github.com/jgoulah/meterscraper/internal/config"
	"github.com/jgoulah/meterscraper/internal/database"
	"github.com/jgoulah/meterscraper/internal/log"
	"github.com/jgoulah/meterscraper/internal/metrics"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	dbPath  string
	visible bool
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "meterscraper",
	Short: "Scrape smart meter consumption from the Netz Burgenland portal",
	Long: `meterscraper logs into the Netz Burgenland smart meter portal, downloads the
consumption export and turns it into usage and cost statistics. Readings and
statistics are stored in a local SQLite database and can be published to
Home Assistant over MQTT or its REST API.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug {
			log.SetDefaultLogLevel(slog.LevelDebug)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file (default is ./data.db)")
	rootCmd.PersistentFlags().BoolVar(&visible, "visible", false, "Show browser window (for debugging)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

// getConfigPath returns the config file path
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// getDBPath returns the database file path (local directory)
func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	return "data.db"
}

// loadConfig loads the configuration file and applies command line overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, err
	}
	if visible {
		headless := false
		cfg.Headless = &headless
	}
	return cfg, nil
}

// newClient builds the orchestrator for the configured account
func newClient(cfg *config.Config, m *metrics.Metrics) (*client.Client, error) {
	if !cfg.HasCredentials() {
		return nil, fmt.Errorf("no credentials configured. Add username/password to %s or run 'meterscraper init'", getConfigPath())
	}
	return client.New(cfg, client.WithMetrics(m))
}

// writeMetrics exports metrics when a textfile path is configured
func writeMetrics(cfg *config.Config, m *metrics.Metrics) {
	if cfg.MetricsTextfile == "" {
		return
	}
	if err := m.WriteTextfile(cfg.MetricsTextfile); err != nil {
		fmt.Printf("Warning: Could not write metrics: %v\n", err)
	}
}

// openDB opens the database connection
func openDB() (*database.DB, error) {
	path := getDBPath()

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	return database.New(path)
}

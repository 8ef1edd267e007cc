package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jgoulah/meterscraper/internal/client"
	"github.com/jgoulah/meterscraper/internal/scraper"
	"github.com/spf13/cobra"
)

var (
	debugWait  bool
	debugChart bool
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Log in with a visible browser and list the page controls",
	Long: `Opens a browser window, logs in, opens the consumption chart and prints the
visible buttons and links together with a screenshot. Use this when the portal
layout changed and the export button is no longer found.

Flags:
  --wait     Keep the browser open until Enter is pressed
  --chart    Open the consumption chart before listing controls (default true)`,
	RunE: runDebug,
}

func init() {
	debugCmd.Flags().BoolVar(&debugWait, "wait", true, "Keep the browser open until Enter is pressed")
	debugCmd.Flags().BoolVar(&debugChart, "chart", true, "Open the consumption chart before listing controls")
	rootCmd.AddCommand(debugCmd)
}

func runDebug(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.HasCredentials() {
		return fmt.Errorf("no credentials configured in %s", getConfigPath())
	}

	opts, err := client.StrategyOptions(cfg)
	if err != nil {
		return err
	}
	opts.Headless = false
	// Leave time for inspecting the page by hand
	opts.Timeouts.Browser = 10 * time.Minute

	ctx := context.Background()
	browser := scraper.NewBrowserScraper(opts)
	defer browser.Close()

	fmt.Printf("Logging in as %s...\n", cfg.Username)
	if err := browser.Login(ctx); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	fmt.Println("✓ Logged in")

	if debugChart {
		if err := browser.OpenChart(ctx); err != nil {
			return err
		}
	}

	controls, err := browser.Controls(ctx)
	if err != nil {
		return fmt.Errorf("listing controls: %w", err)
	}

	fmt.Printf("\n=== %d VISIBLE CONTROLS ===\n", len(controls))
	for i, c := range controls {
		fmt.Printf("%3d. <%s> text=%q label=%q class=%q id=%q\n", i+1, c.Tag, c.Text, c.Label, c.Class, c.ID)
	}
	fmt.Println("===========================")

	if path := browser.Screenshot(ctx, "debug"); path != "" {
		fmt.Printf("✓ Screenshot saved to %s\n", path)
	}

	if debugWait {
		fmt.Println("\nInspect the browser window, then press Enter to close it...")
		fmt.Scanln()
	}
	return nil
}

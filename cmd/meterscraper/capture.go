package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jgoulah/meterscraper/internal/client"
	"github.com/jgoulah/meterscraper/internal/scraper"
	"github.com/spf13/cobra"
)

var captureAll bool

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture network requests while you export by hand",
	Long: `Logs in with a visible browser, opens the consumption chart and prints every
response that looks like an API call or an export while you click through the
portal. Use it to find the export endpoint for the http strategy.`,
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().BoolVar(&captureAll, "all", false, "Print every response, not only API and export calls")
	rootCmd.AddCommand(captureCmd)
}

// interesting reports whether a response might be an export or API call
func interesting(r scraper.Request) bool {
	if captureAll {
		return true
	}
	u := strings.ToLower(r.URL)
	for _, s := range []string{"api", "export", "download", "csv", "xlsx", "consumption", "verbrauch"} {
		if strings.Contains(u, s) {
			return true
		}
	}
	return strings.Contains(r.MimeType, "csv") || strings.Contains(r.MimeType, "spreadsheet")
}

func runCapture(cmd *cobra.Command, args []string) error {
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

	var mu sync.Mutex
	var captured []scraper.Request
	opts.OnRequest = func(r scraper.Request) {
		if !interesting(r) {
			return
		}
		mu.Lock()
		captured = append(captured, r)
		mu.Unlock()
		fmt.Printf("🎯 %s %s -> %d (%s)\n", r.Method, r.URL, r.Status, r.MimeType)
	}

	ctx := context.Background()
	browser := scraper.NewBrowserScraper(opts)
	defer browser.Close()

	fmt.Println("Performing automatic login...")
	if err := browser.Login(ctx); err != nil {
		return fmt.Errorf("automatic login failed: %w", err)
	}
	if err := browser.OpenChart(ctx); err != nil {
		return err
	}

	fmt.Println("\n📋 Instructions:")
	fmt.Println("1. Pick the period and resolution in the chart")
	fmt.Println("2. Click the export button and confirm the download")
	fmt.Println("3. Press Enter here after the download completes")
	fmt.Println()

	fmt.Scanln()

	mu.Lock()
	defer mu.Unlock()

	fmt.Println("\n=== CAPTURED REQUESTS ===")
	if len(captured) == 0 {
		fmt.Println("No API or export requests captured.")
		fmt.Println("Make sure you clicked the export button!")
	}
	for i, r := range captured {
		fmt.Printf("\n--- Request #%d ---\n", i+1)
		data, _ := json.MarshalIndent(r, "", "  ")
		fmt.Println(string(data))
	}
	fmt.Println("=========================")
	return nil
}

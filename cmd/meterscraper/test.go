package main

import (
	"context"
	"fmt"

	"github.com/jgoulah/meterscraper/internal/metrics"
	"github.com/spf13/cobra"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Check that the portal login works",
	Long:  `Logs into the portal with the configured credentials and logs out again.`,
	RunE:  runTest,
}

func init() {
	rootCmd.AddCommand(testCmd)
}

func runTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	m := metrics.New()
	c, err := newClient(cfg, m)
	if err != nil {
		return err
	}

	fmt.Printf("Testing login as %s (strategy: %s)...\n", cfg.Username, cfg.GetStrategy())
	ok := c.TestConnection(context.Background())
	writeMetrics(cfg, m)
	if !ok {
		return fmt.Errorf("login failed (run with --debug --visible for details)")
	}

	fmt.Println("✓ Login successful")
	return nil
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jgoulah/meterscraper/internal/metrics"
	"github.com/jgoulah/meterscraper/internal/publisher"
	"github.com/jgoulah/meterscraper/pkg/models"
	"github.com/spf13/cobra"
)

var (
	fetchPublish bool
	fetchNoStore bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download a fresh export and compute statistics",
	Long: `Logs into the portal, downloads the consumption export, parses it and prints
the usage and cost statistics. Readings and the statistics snapshot are stored
in the local SQLite database.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchPublish, "publish", false, "Publish the snapshot right away")
	fetchCmd.Flags().BoolVar(&fetchNoStore, "no-store", false, "Do not write to the database")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Fetch started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	m := metrics.New()
	defer writeMetrics(cfg, m)

	c, err := newClient(cfg, m)
	if err != nil {
		return err
	}

	ctx := context.Background()
	fmt.Printf("Fetching last %d days (strategy: %s)...\n", cfg.GetDaysToFetch(), cfg.GetStrategy())
	res, err := c.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetching statistics: %w", err)
	}

	fmt.Printf("✓ Downloaded %s via %s (%s)\n", res.Artifact.Path, res.Strategy, humanize.Bytes(uint64(res.Artifact.Size)))
	fmt.Printf("✓ Parsed %d readings", len(res.Parsed.Readings))
	if res.Parsed.Dropped > 0 {
		fmt.Printf(" (⚠ %d rows dropped)", res.Parsed.Dropped)
	}
	fmt.Println()

	printSnapshot(res.Snapshot)

	if fetchNoStore {
		return nil
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	inserted, err := db.InsertReadings(ctx, res.Parsed.Readings)
	if err != nil {
		return fmt.Errorf("storing readings: %w", err)
	}
	id, err := db.InsertSnapshot(ctx, res.Strategy, res.Snapshot)
	if err != nil {
		return fmt.Errorf("storing snapshot: %w", err)
	}
	fmt.Printf("✓ Stored %d new readings (duplicates automatically skipped) and snapshot %s\n", inserted, id)

	if !fetchPublish {
		return nil
	}

	pub, err := publisher.New(cfg.MQTT, cfg.HomeAssistant)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	defer pub.Close()

	if err := pub.Publish(ctx, res.Snapshot); err != nil {
		return fmt.Errorf("publishing: %w", err)
	}
	if err := db.MarkPublished(ctx, id); err != nil {
		fmt.Printf("Warning: failed to mark snapshot as published: %v\n", err)
	}
	fmt.Println("✓ Snapshot published")
	return nil
}

// printSnapshot prints every statistic with its unit
func printSnapshot(snap models.Snapshot) {
	values := snap.Map()

	fmt.Println("----------------------------------------")
	for _, s := range models.Sensors {
		fmt.Printf("%-26s %10s %s\n", s.Name, humanize.FormatFloat("#.###,##", values[s.Key].(float64)), s.Unit)
	}
	if snap.LastReadingTime != nil {
		fmt.Printf("%-26s %s (%s)\n", "Letzte Messung", snap.LastReadingTime.Format("2006-01-02 15:04"), humanize.Time(*snap.LastReadingTime))
	}
	fmt.Printf("%-26s %10s %s\n", "Preis", humanize.FormatFloat("#.###,####", snap.PricePerKWh), models.Unit(models.KeyPricePerKWh))
	fmt.Println("----------------------------------------")
}

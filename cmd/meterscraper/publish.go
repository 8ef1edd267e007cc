package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jgoulah/meterscraper/internal/database"
	"github.com/jgoulah/meterscraper/internal/publisher"
	"github.com/spf13/cobra"
)

var publishLatest bool

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish stored snapshots to Home Assistant",
	Long: `Reads statistics snapshots that were not published yet and sends them to
Home Assistant over MQTT and/or its REST API. Snapshots are sent oldest first so
the newest one ends up as the current state.`,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().BoolVar(&publishLatest, "latest", false, "Republish only the latest snapshot, published or not")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Publish started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()

	var snaps []database.StoredSnapshot
	if publishLatest {
		latest, err := db.LatestSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("reading latest snapshot: %w", err)
		}
		if latest != nil {
			snaps = append(snaps, *latest)
		}
	} else {
		snaps, err = db.ListUnpublishedSnapshots(ctx)
		if err != nil {
			return fmt.Errorf("listing unpublished snapshots: %w", err)
		}
	}

	if len(snaps) == 0 {
		fmt.Println("No unpublished snapshots found")
		return nil
	}

	pub, err := publisher.New(cfg.MQTT, cfg.HomeAssistant)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	defer pub.Close()

	published := 0
	for i, s := range snaps {
		fmt.Printf("[%d/%d] Publishing snapshot from %s (%.2f kWh today)... ", i+1, len(snaps), s.TakenAt.Local().Format("2006-01-02 15:04"), s.Snapshot.ConsumptionToday)
		if err := pub.Publish(ctx, s.Snapshot); err != nil {
			fmt.Printf("FAILED: %v\n", err)
			continue
		}

		if err := db.MarkPublished(ctx, s.ID); err != nil {
			fmt.Printf("✓ (warning: failed to mark as published: %v)\n", err)
		} else {
			fmt.Printf("✓\n")
		}
		published++
	}

	fmt.Printf("\nTotal snapshots published: %d/%d\n", published, len(snaps))
	if published < len(snaps) {
		return fmt.Errorf("%d snapshots failed to publish", len(snaps)-published)
	}
	return nil
}

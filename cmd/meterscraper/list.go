package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	listDays      int
	listSnapshots bool
	listLimit     int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored readings or snapshots",
	Long:  `Displays stored consumption readings per day, or the stored statistics snapshots.`,
	RunE:  runList,
}

func init() {
	listCmd.Flags().IntVar(&listDays, "days", 30, "Show readings of the last N days")
	listCmd.Flags().BoolVar(&listSnapshots, "snapshots", false, "List statistics snapshots instead of readings")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum number of snapshots to show")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()

	if listSnapshots {
		snaps, err := db.ListSnapshots(ctx, listLimit)
		if err != nil {
			return fmt.Errorf("listing snapshots: %w", err)
		}
		if len(snaps) == 0 {
			fmt.Println("No snapshots found")
			return nil
		}

		fmt.Println("----------------------------------------------------------------------")
		fmt.Printf("%-36s  %-16s  %8s  %8s  %s\n", "ID", "Taken", "Today", "Month", "Published")
		fmt.Println("----------------------------------------------------------------------")
		for _, s := range snaps {
			published := ""
			if s.Published {
				published = "✓"
			}
			fmt.Printf("%-36s  %-16s  %8.2f  %8.2f  %s\n",
				s.ID, humanize.Time(s.TakenAt), s.Snapshot.ConsumptionToday, s.Snapshot.ConsumptionMonth, published)
		}
		return nil
	}

	since := time.Now().AddDate(0, 0, -listDays)
	readings, err := db.ListReadings(ctx, since)
	if err != nil {
		return fmt.Errorf("listing readings: %w", err)
	}
	if len(readings) == 0 {
		fmt.Println("No readings found")
		return nil
	}

	// Sum per local day
	type daySum struct {
		day   string
		kwh   float64
		count int
	}
	var days []daySum
	for _, r := range readings {
		key := r.Time.Local().Format("2006-01-02")
		if len(days) == 0 || days[len(days)-1].day != key {
			days = append(days, daySum{day: key})
		}
		days[len(days)-1].kwh += r.KWh
		days[len(days)-1].count++
	}

	fmt.Println("----------------------------------------")
	fmt.Printf("%-12s  %10s  %8s\n", "Date", "kWh", "Readings")
	fmt.Println("----------------------------------------")

	var total float64
	for _, d := range days {
		fmt.Printf("%-12s  %10.2f  %8d\n", d.day, d.kwh, d.count)
		total += d.kwh
	}

	fmt.Println("----------------------------------------")
	fmt.Printf("Total: %.2f kWh (%s readings)\n", total, humanize.Comma(int64(len(readings))))
	return nil
}

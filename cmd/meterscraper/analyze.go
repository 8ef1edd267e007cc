package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jgoulah/meterscraper/internal/client"
	"github.com/jgoulah/meterscraper/internal/parser"
	"github.com/jgoulah/meterscraper/pkg/models"
	"github.com/spf13/cobra"
)

var (
	analyzeJSON         bool
	analyzeOutput       string
	analyzeDecimalComma bool
	analyzeDecimalPoint bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file]",
	Short: "Parse a downloaded export and print its statistics",
	Long: `Parses a CSV or XLSX export that was downloaded earlier, without contacting
the portal, and prints the statistics relative to today together with a
summary of the whole file.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the analysis as JSON")
	analyzeCmd.Flags().StringVar(&analyzeOutput, "output", "", "Also write the JSON analysis to this file")
	analyzeCmd.Flags().BoolVar(&analyzeDecimalComma, "decimal-comma", false, "Force reading values like 1.234,5")
	analyzeCmd.Flags().BoolVar(&analyzeDecimalPoint, "decimal-point", false, "Force reading values like 1,234.5")
	analyzeCmd.MarkFlagsMutuallyExclusive("decimal-comma", "decimal-point")
	rootCmd.AddCommand(analyzeCmd)
}

// analysis is the JSON document written by analyze
type analysis struct {
	File        string          `json:"file"`
	AnalyzedAt  time.Time       `json:"analyzed_at"`
	Encoding    string          `json:"encoding"`
	Delimiter   string          `json:"delimiter"`
	DateColumn  string          `json:"date_column"`
	ValueColumn string          `json:"value_column"`
	Rows        int             `json:"rows"`
	Dropped     int             `json:"dropped"`
	Summary     parser.Summary  `json:"summary"`
	Snapshot    models.Snapshot `json:"statistics"`
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	path := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	opts := client.ParserOptions(cfg)
	switch {
	case analyzeDecimalComma:
		opts.Decimal = parser.DecimalComma
	case analyzeDecimalPoint:
		opts.Decimal = parser.DecimalPoint
	}

	now := time.Now().In(opts.Location)
	price := cfg.GetPricePerKWh()
	snap, res, err := parser.Analyze(context.Background(), path, now, price, opts)
	if err != nil {
		return err
	}

	a := analysis{
		File:        path,
		AnalyzedAt:  now,
		Encoding:    res.Encoding,
		Delimiter:   string(res.Delimiter),
		DateColumn:  res.DateColumn,
		ValueColumn: res.ValueColumn,
		Rows:        res.Rows,
		Dropped:     res.Dropped,
		Summary:     parser.Summarize(res.Readings, price),
		Snapshot:    snap,
	}

	if analyzeJSON || analyzeOutput != "" {
		data, err := json.MarshalIndent(a, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding analysis: %w", err)
		}
		if analyzeOutput != "" {
			if err := os.WriteFile(analyzeOutput, data, 0644); err != nil {
				return fmt.Errorf("writing analysis: %w", err)
			}
			fmt.Printf("✓ Analysis written to %s\n", analyzeOutput)
		}
		if analyzeJSON {
			fmt.Println(string(data))
			return nil
		}
	}

	fmt.Printf("File: %s (%s, delimiter %q)\n", path, a.Encoding, a.Delimiter)
	fmt.Printf("Columns: date=%q value=%q\n", a.DateColumn, a.ValueColumn)
	fmt.Printf("Rows: %d kept, %d dropped\n", len(res.Readings), a.Dropped)

	s := a.Summary
	if s.Count > 0 {
		fmt.Printf("Period: %s to %s (%s)\n", s.Start.Format("2006-01-02 15:04"), s.End.Format("2006-01-02 15:04"), humanize.RelTime(s.Start, s.End, "", ""))
		fmt.Printf("Total: %.2f kWh, average %.2f kWh, min %.2f, max %.2f, estimated cost %.2f EUR\n",
			s.Total, s.Average, s.Min, s.Max, s.EstimatedCost)
	}

	printSnapshot(snap)
	return nil
}

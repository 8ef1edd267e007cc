package parser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/jgoulah/meterscraper/internal/log"
	"github.com/jgoulah/meterscraper/pkg/models"
)

// DecimalMode selects how consumption values are read
type DecimalMode int

const (
	// DecimalAuto reads decimal commas unless the file is comma delimited
	DecimalAuto DecimalMode = iota
	// DecimalPoint always reads "1,234.5" style numbers
	DecimalPoint
	// DecimalComma always reads "1.234,5" style numbers
	DecimalComma
)

// Options controls parsing
type Options struct {
	// Location is used for timestamps without an offset. Defaults to time.Local.
	Location *time.Location
	Decimal  DecimalMode
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.Local
	}
	return o.Location
}

// Result is a cleaned, time-ordered set of readings
type Result struct {
	Readings    []models.Reading
	Encoding    string
	Delimiter   rune
	DateColumn  string
	ValueColumn string
	Rows        int
	Dropped     int
}

// ParseFile reads a portal export from disk
func ParseFile(ctx context.Context, path string, opts Options) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	res, err := Parse(ctx, data, opts)
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.Path = path
			return nil, pe
		}
		return nil, &ParseError{Path: path, Err: err}
	}
	return res, nil
}

// Parse turns raw export bytes into readings. Rows whose date or value cannot
// be read are dropped and counted, they never fail the whole file.
func Parse(ctx context.Context, data []byte, opts Options) (*Result, error) {
	t, err := readTable(data)
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	dateCol, valueCol, err := inferColumns(t.header)
	if err != nil {
		return nil, &ParseError{Err: fmt.Errorf("%w (header: %v)", err, t.header)}
	}

	decimalComma := false
	switch opts.Decimal {
	case DecimalComma:
		decimalComma = true
	case DecimalAuto:
		decimalComma = t.delimiter != ',' && t.delimiter != 0
	}

	res := &Result{
		Encoding:    t.encoding,
		Delimiter:   t.delimiter,
		DateColumn:  strings.TrimSpace(t.header[dateCol]),
		ValueColumn: strings.TrimSpace(t.header[valueCol]),
		Rows:        len(t.rows),
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"parsing export",
		slog.String("encoding", res.Encoding),
		slog.String("delimiter", string(res.Delimiter)),
		slog.String("dateColumn", res.DateColumn),
		slog.String("valueColumn", res.ValueColumn),
		slog.Bool("decimalComma", decimalComma),
	)

	loc := opts.location()
	readings := make([]models.Reading, 0, len(t.rows))
	for _, record := range t.rows {
		if len(record) <= dateCol || len(record) <= valueCol {
			res.Dropped++
			continue
		}

		ts, err := parseTimestamp(record[dateCol], loc)
		if err != nil {
			res.Dropped++
			continue
		}

		kwh, err := parseKWh(record[valueCol], decimalComma)
		if err != nil {
			res.Dropped++
			continue
		}

		readings = append(readings, models.Reading{Time: ts, KWh: kwh})
	}

	slices.SortStableFunc(readings, func(a, b models.Reading) int {
		return a.Time.Compare(b.Time)
	})
	res.Readings = readings

	if res.Dropped > 0 {
		log.Ctx(ctx).InfoContext(
			ctx,
			"dropped unreadable rows",
			slog.Int("dropped", res.Dropped),
			slog.Int("rows", res.Rows),
		)
	}

	return res, nil
}

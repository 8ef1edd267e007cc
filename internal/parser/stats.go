package parser

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jgoulah/meterscraper/pkg/models"
	"github.com/shopspring/decimal"
)

// AverageWindowDays is the trailing window, today included, for avg_daily.
// avg_daily is the mean of the daily sums of the days with data in it, not a
// mean over individual readings.
const AverageWindowDays = 30

// Round2 rounds half away from zero to two decimal places
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Compute derives the statistics snapshot relative to now's calendar day.
// Missing data yields zeros, never an error. price must not be negative.
func Compute(readings []models.Reading, now time.Time, price float64) models.Snapshot {
	loc := now.Location()
	today := day(now, loc)
	yesterday := today.AddDate(0, 0, -1)
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, loc)
	lastMonthStart := monthStart.AddDate(0, -1, 0)
	windowStart := today.AddDate(0, 0, -(AverageWindowDays - 1))

	sorted := slices.Clone(readings)
	slices.SortStableFunc(sorted, func(a, b models.Reading) int {
		return a.Time.Compare(b.Time)
	})

	var sumToday, sumYesterday, sumMonth, sumLastMonth float64
	daily := make(map[time.Time]float64)

	for _, r := range sorted {
		d := day(r.Time, loc)
		switch {
		case d.Equal(today):
			sumToday += r.KWh
		case d.Equal(yesterday):
			sumYesterday += r.KWh
		}

		switch {
		case !d.Before(monthStart) && d.Before(monthStart.AddDate(0, 1, 0)):
			sumMonth += r.KWh
		case !d.Before(lastMonthStart) && d.Before(monthStart):
			sumLastMonth += r.KWh
		}

		if !d.Before(windowStart) && !d.After(today) {
			daily[d] += r.KWh
		}
	}

	var avg float64
	if len(daily) > 0 {
		var total float64
		for _, v := range daily {
			total += v
		}
		avg = total / float64(len(daily))
	}

	snap := models.Snapshot{
		ConsumptionToday:     Round2(sumToday),
		ConsumptionYesterday: Round2(sumYesterday),
		ConsumptionMonth:     Round2(sumMonth),
		ConsumptionLastMonth: Round2(sumLastMonth),
		AvgDaily:             Round2(avg),
		PricePerKWh:          price,
	}
	snap.CostToday = Round2(snap.ConsumptionToday * price)
	snap.CostYesterday = Round2(snap.ConsumptionYesterday * price)
	snap.CostMonth = Round2(snap.ConsumptionMonth * price)
	snap.CostLastMonth = Round2(snap.ConsumptionLastMonth * price)

	if len(sorted) > 0 {
		last := sorted[len(sorted)-1]
		snap.LastReading = Round2(last.KWh)
		ts := last.Time
		snap.LastReadingTime = &ts
	}

	return snap
}

// Analyze parses an export and computes its snapshot
func Analyze(ctx context.Context, path string, now time.Time, price float64, opts Options) (models.Snapshot, *Result, error) {
	if price < 0 {
		return models.Snapshot{}, nil, fmt.Errorf("price per kWh must not be negative: %v", price)
	}

	res, err := ParseFile(ctx, path, opts)
	if err != nil {
		return models.Snapshot{}, nil, err
	}

	return Compute(res.Readings, now, price), res, nil
}

func day(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

package parser

import (
	"time"

	"github.com/jgoulah/meterscraper/pkg/models"
)

// Summary describes a whole export, independent of the current date
type Summary struct {
	Count         int       `json:"count"`
	Total         float64   `json:"total"`
	Average       float64   `json:"average"`
	Max           float64   `json:"max"`
	Min           float64   `json:"min"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	EstimatedCost float64   `json:"estimated_cost"`
}

// Summarize totals readings over the full period they cover
func Summarize(readings []models.Reading, price float64) Summary {
	var s Summary
	if len(readings) == 0 {
		return s
	}

	s.Count = len(readings)
	s.Min = readings[0].KWh
	s.Max = readings[0].KWh
	s.Start = readings[0].Time
	s.End = readings[0].Time
	for _, r := range readings {
		s.Total += r.KWh
		s.Min = min(s.Min, r.KWh)
		s.Max = max(s.Max, r.KWh)
		if r.Time.Before(s.Start) {
			s.Start = r.Time
		}
		if r.Time.After(s.End) {
			s.End = r.Time
		}
	}

	s.Average = Round2(s.Total / float64(s.Count))
	s.Total = Round2(s.Total)
	s.Min = Round2(s.Min)
	s.Max = Round2(s.Max)
	s.EstimatedCost = Round2(s.Total * price)
	return s
}

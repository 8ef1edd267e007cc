package models

import "time"

// Reading is a single consumption value taken from a portal export
type Reading struct {
	Time time.Time `json:"time"`
	KWh  float64   `json:"kwh"`
}

// Snapshot keys, in the order they are published
const (
	KeyConsumptionToday     = "consumption_today"
	KeyConsumptionYesterday = "consumption_yesterday"
	KeyConsumptionMonth     = "consumption_month"
	KeyConsumptionLastMonth = "consumption_last_month"
	KeyAvgDaily             = "avg_daily"
	KeyCostToday            = "cost_today"
	KeyCostYesterday        = "cost_yesterday"
	KeyCostMonth            = "cost_month"
	KeyCostLastMonth        = "cost_last_month"
	KeyLastReading          = "last_reading"
	KeyLastReadingTime      = "last_reading_time"
	KeyPricePerKWh          = "price_per_kwh"
)

// SnapshotKeys lists every key a Snapshot map carries
var SnapshotKeys = []string{
	KeyConsumptionToday,
	KeyConsumptionYesterday,
	KeyConsumptionMonth,
	KeyConsumptionLastMonth,
	KeyAvgDaily,
	KeyCostToday,
	KeyCostYesterday,
	KeyCostMonth,
	KeyCostLastMonth,
	KeyLastReading,
	KeyLastReadingTime,
	KeyPricePerKWh,
}

// Snapshot holds the usage and cost statistics derived from one export
type Snapshot struct {
	ConsumptionToday     float64    `json:"consumption_today"`
	ConsumptionYesterday float64    `json:"consumption_yesterday"`
	ConsumptionMonth     float64    `json:"consumption_month"`
	ConsumptionLastMonth float64    `json:"consumption_last_month"`
	AvgDaily             float64    `json:"avg_daily"`
	CostToday            float64    `json:"cost_today"`
	CostYesterday        float64    `json:"cost_yesterday"`
	CostMonth            float64    `json:"cost_month"`
	CostLastMonth        float64    `json:"cost_last_month"`
	LastReading          float64    `json:"last_reading"`
	LastReadingTime      *time.Time `json:"last_reading_time"`
	PricePerKWh          float64    `json:"price_per_kwh"`
}

// Map returns the snapshot as a flat key/value map. All keys are always
// present; last_reading_time is nil when there was no reading.
func (s Snapshot) Map() map[string]any {
	m := map[string]any{
		KeyConsumptionToday:     s.ConsumptionToday,
		KeyConsumptionYesterday: s.ConsumptionYesterday,
		KeyConsumptionMonth:     s.ConsumptionMonth,
		KeyConsumptionLastMonth: s.ConsumptionLastMonth,
		KeyAvgDaily:             s.AvgDaily,
		KeyCostToday:            s.CostToday,
		KeyCostYesterday:        s.CostYesterday,
		KeyCostMonth:            s.CostMonth,
		KeyCostLastMonth:        s.CostLastMonth,
		KeyLastReading:          s.LastReading,
		KeyLastReadingTime:      nil,
		KeyPricePerKWh:          s.PricePerKWh,
	}
	if s.LastReadingTime != nil {
		m[KeyLastReadingTime] = *s.LastReadingTime
	}
	return m
}

// Unit returns the display unit for a snapshot key
func Unit(key string) string {
	switch key {
	case KeyCostToday, KeyCostYesterday, KeyCostMonth, KeyCostLastMonth:
		return "EUR"
	case KeyPricePerKWh:
		return "EUR/kWh"
	case KeyLastReadingTime:
		return ""
	default:
		return "kWh"
	}
}

package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "meterscraper_"

// Outcomes recorded per acquisition run
const (
	OutcomeSuccess    = "success"
	OutcomeAuthFailed = "auth_failed"
	OutcomeError      = "error"
)

// Metrics bundles the scraper metrics on a private registry
type Metrics struct {
	registry *prometheus.Registry

	Attempts       *prometheus.CounterVec
	Outcomes       *prometheus.CounterVec
	SelectorHits   *prometheus.CounterVec
	SelectorMisses *prometheus.CounterVec
	DroppedRows    prometheus.Counter
	ParsedRows     prometheus.Counter
	LastSuccess    prometheus.Gauge
	FetchDuration  *prometheus.HistogramVec
}

// New constructs and registers metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "acquisition_attempts_total",
				Help: "Acquisition attempts by strategy",
			},
			[]string{"strategy"},
		),
		Outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "acquisition_outcomes_total",
				Help: "Acquisition results by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		SelectorHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "selector_hits_total",
				Help: "Matches per selector list and position in the list",
			},
			[]string{"list", "index"},
		),
		SelectorMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "selector_misses_total",
				Help: "Selector lists where nothing matched",
			},
			[]string{"list"},
		),
		DroppedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "parser_dropped_rows_total",
			Help: "Export rows dropped because date or value could not be read",
		}),
		ParsedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "parser_rows_total",
			Help: "Export rows kept after cleaning",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "last_success_timestamp_seconds",
			Help: "Unix time of the last successful fetch",
		}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricPrefix + "fetch_duration_seconds",
			Help:    "Duration of a full fetch by strategy",
			Buckets: []float64{5, 10, 20, 30, 45, 60, 90, 120, 180, 300},
		}, []string{"strategy"}),
	}
	m.registry.MustRegister(
		m.Attempts,
		m.Outcomes,
		m.SelectorHits,
		m.SelectorMisses,
		m.DroppedRows,
		m.ParsedRows,
		m.LastSuccess,
		m.FetchDuration,
	)
	return m
}

// Registry exposes the gatherer, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SelectorHit records which entry of a fallback list matched
func (m *Metrics) SelectorHit(list string, index int, name string) {
	m.SelectorHits.WithLabelValues(list, strconv.Itoa(index)).Inc()
}

// SelectorMiss records a list where nothing matched
func (m *Metrics) SelectorMiss(list string) {
	m.SelectorMisses.WithLabelValues(list).Inc()
}

// Attempt records the start of an acquisition run
func (m *Metrics) Attempt(strategy string) {
	m.Attempts.WithLabelValues(strategy).Inc()
}

// Outcome records how an acquisition run ended
func (m *Metrics) Outcome(strategy, outcome string, took time.Duration, at time.Time) {
	m.Outcomes.WithLabelValues(strategy, outcome).Inc()
	m.FetchDuration.WithLabelValues(strategy).Observe(took.Seconds())
	if outcome == OutcomeSuccess {
		m.LastSuccess.Set(float64(at.Unix()))
	}
}

// Parsed records the row counts of a parsed export
func (m *Metrics) Parsed(kept, dropped int) {
	m.ParsedRows.Add(float64(kept))
	m.DroppedRows.Add(float64(dropped))
}

// WriteTextfile writes the metrics for node_exporter's textfile collector
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

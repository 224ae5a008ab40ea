// Package metrics exposes Prometheus instrumentation for fleetwatch.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reading validator
	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_verdicts_total",
			Help: "Total number of odometer validation verdicts by outcome",
		},
		[]string{"outcome"}, // "consistent", "advisory", "invalid", "degraded"
	)

	ValidationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetwatch_validation_duration_seconds",
			Help:    "Duration of odometer validations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SupersededTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_validations_superseded_total",
			Help: "Interactive validations cancelled by a newer call for the same field",
		},
	)

	// Bulk sanitizer
	SanitizeFixedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_sanitize_fixed_total",
			Help: "Total number of derived distances corrected by the sanitizer",
		},
	)

	SanitizeWarningsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_sanitize_warnings_total",
			Help: "Total number of anomaly warnings raised by the sanitizer",
		},
	)

	SanitizeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetwatch_sanitize_duration_seconds",
			Help:    "Duration of sanitizer passes in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	// Database health
	HealthOverallScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetwatch_health_overall_score",
			Help: "Most recent overall database health score (0-100)",
		},
	)

	HealthTableScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetwatch_health_table_score",
			Help: "Most recent health score per table (0-100)",
		},
		[]string{"table"},
	)

	// Import flags
	ImportFlagsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_import_flags_total",
			Help: "Total number of import flags raised by rule",
		},
		[]string{"rule", "severity"},
	)

	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetwatch_api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Verdict outcomes.
const (
	OutcomeConsistent = "consistent"
	OutcomeAdvisory   = "advisory"
	OutcomeInvalid    = "invalid"
	OutcomeDegraded   = "degraded"
)

// RecordVerdict records one validation outcome.
func RecordVerdict(outcome string, duration time.Duration) {
	VerdictsTotal.WithLabelValues(outcome).Inc()
	ValidationDuration.Observe(duration.Seconds())
}

// RecordSanitize records a completed sanitizer pass.
func RecordSanitize(fixed, warnings int, duration time.Duration) {
	SanitizeFixedTotal.Add(float64(fixed))
	SanitizeWarningsTotal.Add(float64(warnings))
	SanitizeDuration.Observe(duration.Seconds())
}

// RecordHealthScore records per-table and overall health scores.
func RecordHealthScore(overall int, tables map[string]int) {
	HealthOverallScore.Set(float64(overall))
	for table, score := range tables {
		HealthTableScore.WithLabelValues(table).Set(float64(score))
	}
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

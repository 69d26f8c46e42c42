// Package metrics provides Prometheus metrics for the versioning service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	// HTTP request metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Versioning engine metrics
	VersionsCreatedTotal *prometheus.CounterVec
	NoopSavesTotal       prometheus.Counter
	VersionsPrunedTotal  prometheus.Counter
	RetentionSweepsTotal prometheus.Counter

	// Diff engine metrics
	DiffRequestsTotal  prometheus.Counter
	DiffFallbacksTotal prometheus.Counter
	DiffDuration       prometheus.Histogram
}

// New creates and registers all collectors on the default registry.
func New() *Metrics {
	m := &Metrics{}

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noteledger_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "noteledger_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.VersionsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noteledger_versions_created_total",
			Help: "Total number of note versions recorded",
		},
		[]string{"change_type"},
	)

	m.NoopSavesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "noteledger_noop_saves_total",
			Help: "Total number of saves skipped as insignificant",
		},
	)

	m.VersionsPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "noteledger_versions_pruned_total",
			Help: "Total number of versions deleted by retention sweeps",
		},
	)

	m.RetentionSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "noteledger_retention_sweeps_total",
			Help: "Total number of retention sweeps executed",
		},
	)

	m.DiffRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "noteledger_diff_requests_total",
			Help: "Total number of version comparisons computed",
		},
	)

	m.DiffFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "noteledger_diff_fallbacks_total",
			Help: "Total number of comparisons that hit the line-count guardrail",
		},
	)

	m.DiffDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "noteledger_diff_duration_seconds",
			Help:    "Duration of version comparisons in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	return m
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

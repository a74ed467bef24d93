// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	gatherer prometheus.Gatherer

	// Pipeline metrics
	StageDuration    *prometheus.HistogramVec
	StageErrors      *prometheus.CounterVec
	RowsProduced     *prometheus.CounterVec
	ReportsGenerated prometheus.Counter

	// Cache metrics
	CacheLookups *prometheus.CounterVec

	// Source metrics
	SourceRows prometheus.Gauge

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	WSClients    prometheus.Gauge

	// Health metrics
	LastSuccessfulRun prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered with reg.
// A nil reg uses a fresh private registry.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if namespace == "" {
		namespace = "cohortlab"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,

		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
		}, []string{"stage"}),
		StageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_errors_total",
			Help:      "Total number of failed pipeline stages",
		}, []string{"stage"}),
		RowsProduced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "rows_produced_total",
			Help:      "Total number of rows produced by table",
		}, []string{"table"}),
		ReportsGenerated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "reports_generated_total",
			Help:      "Total number of reports generated",
		}),

		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Long-form cache lookups by result",
		}, []string{"result"}),

		SourceRows: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "rows",
			Help:      "Rows in the wide fact table at the last load",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status",
		}, []string{"route", "method", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "websocket_clients",
			Help:      "Connected ranking websocket clients",
		}),

		LastSuccessfulRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of last successful report run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveStage records a stage duration and, on failure, an error.
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.StageErrors.WithLabelValues(stage).Inc()
	}
}

// AddRows counts rows produced for a table.
func (m *Metrics) AddRows(table string, n int) {
	if m == nil {
		return
	}
	m.RowsProduced.WithLabelValues(table).Add(float64(n))
}

// RecordCache records a cache lookup: hit, miss or error.
func (m *Metrics) RecordCache(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordSourceRows sets the wide table size.
func (m *Metrics) RecordSourceRows(n int) {
	if m == nil {
		return
	}
	m.SourceRows.Set(float64(n))
}

// RecordReport records a successful report run.
func (m *Metrics) RecordReport(at time.Time) {
	if m == nil {
		return
	}
	m.ReportsGenerated.Inc()
	m.LastSuccessfulRun.Set(float64(at.Unix()))
}

// RecordHTTP records one HTTP request.
func (m *Metrics) RecordHTTP(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Package metrics exposes FML engine Prometheus metrics on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/models"
)

const namespace = "fml_engine"

// EngineMetrics implements fml.Observer and records stream and HTTP activity
type EngineMetrics struct {
	registry *prometheus.Registry

	MarketsTotal      *prometheus.CounterVec
	MarketDuration    *prometheus.HistogramVec
	DevigFallbacks    *prometheus.CounterVec
	EdgesTotal        *prometheus.CounterVec
	EdgeSize          *prometheus.HistogramVec
	BatchesTotal      *prometheus.CounterVec
	BatchSize         prometheus.Histogram
	StreamErrors      *prometheus.CounterVec
	ConfigVersion     prometheus.Gauge
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	BookWeightRefresh *prometheus.CounterVec
}

// NewEngineMetrics creates and registers all collectors
func NewEngineMetrics() *EngineMetrics {
	registry := prometheus.NewRegistry()

	m := &EngineMetrics{
		registry: registry,

		MarketsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "markets_processed_total",
				Help:      "Markets processed by sport, market and status",
			},
			[]string{"sport", "market", "status"},
		),
		MarketDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "market_duration_seconds",
				Help:      "Time to price a single market",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
			[]string{"sport"},
		),
		DevigFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "devig_fallbacks_total",
				Help:      "Shin devigs that fell back to multiplicative, by book",
			},
			[]string{"book"},
		),
		EdgesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "edges_found_total",
				Help:      "Edges kept on processed markets",
			},
			[]string{"sport", "market", "side"},
		),
		EdgeSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "edge_size",
				Help:      "Absolute edge of kept edges",
				Buckets:   []float64{0.02, 0.03, 0.05, 0.075, 0.1, 0.15, 0.2, 0.3},
			},
			[]string{"sport"},
		),
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Batches processed by source",
			},
			[]string{"source"},
		),
		BatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_size",
				Help:      "Markets per processed batch",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 9),
			},
		),
		StreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_errors_total",
				Help:      "Stream read, parse, publish and ack errors",
			},
			[]string{"stage"},
		),
		ConfigVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_version",
				Help:      "Version of the active engine config snapshot",
			},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"method", "route", "code"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		BookWeightRefresh: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "book_weight_refreshes_total",
				Help:      "Book weight refresh attempts by status",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.MarketsTotal,
		m.MarketDuration,
		m.DevigFallbacks,
		m.EdgesTotal,
		m.EdgeSize,
		m.BatchesTotal,
		m.BatchSize,
		m.StreamErrors,
		m.ConfigVersion,
		m.HTTPRequests,
		m.HTTPDuration,
		m.BookWeightRefresh,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying registry
func (m *EngineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *EngineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MarketProcessed implements fml.Observer
func (m *EngineMetrics) MarketProcessed(sport, market string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.MarketsTotal.WithLabelValues(sport, market, status).Inc()
	m.MarketDuration.WithLabelValues(sport).Observe(duration.Seconds())
}

// DevigFallback implements fml.Observer
func (m *EngineMetrics) DevigFallback(book string) {
	m.DevigFallbacks.WithLabelValues(book).Inc()
}

// EdgesFound implements fml.Observer
func (m *EngineMetrics) EdgesFound(sport, market string, edges []models.EdgeCalculation) {
	for _, e := range edges {
		m.EdgesTotal.WithLabelValues(sport, market, string(e.Side)).Inc()
		edge := e.Edge
		if edge < 0 {
			edge = -edge
		}
		m.EdgeSize.WithLabelValues(sport).Observe(edge)
	}
}

// RecordBatch records a processed batch from source ("stream" or "http")
func (m *EngineMetrics) RecordBatch(source string, size int) {
	m.BatchesTotal.WithLabelValues(source).Inc()
	m.BatchSize.Observe(float64(size))
}

// RecordStreamError records a stream failure at stage (read, parse, publish, ack)
func (m *EngineMetrics) RecordStreamError(stage string) {
	m.StreamErrors.WithLabelValues(stage).Inc()
}

// SetConfigVersion records the active config snapshot version
func (m *EngineMetrics) SetConfigVersion(version int64) {
	m.ConfigVersion.Set(float64(version))
}

// RecordHTTPRequest records a served request
func (m *EngineMetrics) RecordHTTPRequest(method, route string, code int, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordBookWeightRefresh records a book weight refresh outcome
func (m *EngineMetrics) RecordBookWeightRefresh(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.BookWeightRefresh.WithLabelValues(status).Inc()
}

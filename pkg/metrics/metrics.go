// Package metrics exposes the server's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "battmon"

// Result labels.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Metrics holds the collectors on a private registry. All methods are safe
// on a nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ingestRecords    *prometheus.CounterVec
	ingestLatency    *prometheus.HistogramVec
	seriesBuilds     *prometheus.CounterVec
	seriesPoints     prometheus.Histogram
	deletions        *prometheus.CounterVec
	deletedRecords   *prometheus.CounterVec
	remoteLatency    *prometheus.HistogramVec
	retentionDeleted prometheus.Counter
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates and registers all collectors, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ingestRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_records_total",
				Help:      "Records received by source and storage status",
			},
			[]string{"source", "status"},
		),
		ingestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_latency_seconds",
				Help:      "Time to validate and store one record",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		seriesBuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "series_builds_total",
				Help:      "Dashboard series builds by result",
			},
			[]string{"result"},
		),
		seriesPoints: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "series_points",
				Help:      "Points per built series",
				Buckets:   prometheus.ExponentialBuckets(20, 4, 7),
			},
		),
		deletions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deletions_total",
				Help:      "Confirmed deletions by scope and result",
			},
			[]string{"scope", "result"},
		),
		deletedRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deleted_records_total",
				Help:      "Records removed by confirmed deletions",
			},
			[]string{"scope"},
		),
		remoteLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_request_seconds",
				Help:      "Latency of requests to the remote record API",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op", "result"},
		),
		retentionDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_deleted_records_total",
				Help:      "Records removed by the retention task",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by method and route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ingestRecords,
		m.ingestLatency,
		m.seriesBuilds,
		m.seriesPoints,
		m.deletions,
		m.deletedRecords,
		m.remoteLatency,
		m.retentionDeleted,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry returns the registry backing the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveIngest records one ingested record.
func (m *Metrics) ObserveIngest(source, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ingestRecords.WithLabelValues(source, status).Inc()
	m.ingestLatency.WithLabelValues(source).Observe(elapsed.Seconds())
}

// ObserveSeries records a series build. points is ignored on error.
func (m *Metrics) ObserveSeries(points int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.seriesBuilds.WithLabelValues(ResultError).Inc()
		return
	}
	m.seriesBuilds.WithLabelValues(ResultSuccess).Inc()
	m.seriesPoints.Observe(float64(points))
}

// ObserveDeletion records a confirmed deletion.
func (m *Metrics) ObserveDeletion(scope string, deleted int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.deletions.WithLabelValues(scope, ResultError).Inc()
		return
	}
	m.deletions.WithLabelValues(scope, ResultSuccess).Inc()
	m.deletedRecords.WithLabelValues(scope).Add(float64(deleted))
}

// ObserveRemote records one request to the remote record API.
func (m *Metrics) ObserveRemote(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	m.remoteLatency.WithLabelValues(op, result).Observe(elapsed.Seconds())
}

// AddRetentionDeleted counts records removed by retention.
func (m *Metrics) AddRetentionDeleted(n int) {
	if m == nil {
		return
	}
	m.retentionDeleted.Add(float64(n))
}

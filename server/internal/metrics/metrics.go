// Package metrics provides Prometheus metrics for syndicate-server.
//
// Each Metrics value owns its registry so tests can build isolated
// instances. All recording methods are safe on a nil *Metrics, which lets
// packages accept an optional Metrics without guarding every call.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "syndicate"

// Metrics holds every collector exported by the server.
type Metrics struct {
	registry *prometheus.Registry

	// RequestsTotal counts answered requests by method, resource and status code.
	RequestsTotal *prometheus.CounterVec

	// RequestDuration measures time from request parsed to response written.
	RequestDuration *prometheus.HistogramVec

	// Sources tracks the number of source records held in the store.
	Sources prometheus.Gauge

	// LamportClock tracks the server clock value.
	LamportClock prometheus.Gauge

	// MergeRecomputes counts rebuilds of the merged feed.
	MergeRecomputes prometheus.Counter

	// EvictionsTotal counts source records removed by the sweeper.
	EvictionsTotal prometheus.Counter

	// PersistErrorsTotal counts failed snapshot writes by store operation.
	PersistErrorsTotal *prometheus.CounterVec

	// SnapshotWriteDuration measures snapshot writes.
	SnapshotWriteDuration prometheus.Histogram

	// ConnectionTimeouts counts connections abandoned on read timeout.
	ConnectionTimeouts prometheus.Counter

	// ConnectionsRejected counts connections closed before dispatch, by reason.
	ConnectionsRejected *prometheus.CounterVec
}

// New creates a Metrics with a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of answered requests",
		}, []string{"method", "resource", "code"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of request handling in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		Sources: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sources",
			Help:      "Number of source records in the store",
		}),
		LamportClock: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lamport_clock",
			Help:      "Current Lamport clock value of the server",
		}),
		MergeRecomputes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_recomputes_total",
			Help:      "Total number of merged feed recomputations",
		}),
		EvictionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Total number of stale source records evicted",
		}),
		PersistErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Total number of failed snapshot writes",
		}, []string{"operation"}),
		SnapshotWriteDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_write_duration_seconds",
			Help:      "Duration of snapshot writes in seconds",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		ConnectionTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_timeouts_total",
			Help:      "Total number of connections abandoned on read timeout",
		}),
		ConnectionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Total number of connections closed before dispatch",
		}, []string{"reason"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry for tests and custom exporters.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// RecordRequest records one answered request.
func (m *Metrics) RecordRequest(method, resource string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, resource, strconv.Itoa(code)).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// SetStoreState updates the source count and clock gauges.
func (m *Metrics) SetStoreState(sources int, clock uint64) {
	if m == nil {
		return
	}
	m.Sources.Set(float64(sources))
	m.LamportClock.Set(float64(clock))
}

// RecordRecompute counts one merged feed rebuild.
func (m *Metrics) RecordRecompute() {
	if m == nil {
		return
	}
	m.MergeRecomputes.Inc()
}

// RecordEvictions counts n evicted records.
func (m *Metrics) RecordEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EvictionsTotal.Add(float64(n))
}

// RecordSnapshotWrite records a snapshot write and whether it failed.
func (m *Metrics) RecordSnapshotWrite(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.SnapshotWriteDuration.Observe(d.Seconds())
	if err != nil {
		m.PersistErrorsTotal.WithLabelValues(operation).Inc()
	}
}

// RecordTimeout counts one connection abandoned on read timeout.
func (m *Metrics) RecordTimeout() {
	if m == nil {
		return
	}
	m.ConnectionTimeouts.Inc()
}

// RecordRejected counts one connection closed before dispatch.
func (m *Metrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.ConnectionsRejected.WithLabelValues(reason).Inc()
}

// Package metrics exposes Prometheus collectors for the relay engine and the admin HTTP server.
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

const namespace = "tcprelay"

// Direction labels for transferred bytes
const (
	Upstream   = "upstream"
	Downstream = "downstream"
)

// Metrics holds the relay collectors on a private registry.
// A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	activePairs      prometheus.Gauge
	pendingConnects  prometheus.Gauge
	acceptedTotal    prometheus.Counter
	establishedTotal prometheus.Counter
	closedTotal      prometheus.Counter
	errorsTotal      *prometheus.CounterVec
	bytesTotal       *prometheus.CounterVec
	pairDuration     prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates a Metrics with its own registry, including Go runtime and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry:         reg,
		activePairs:      f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "pairs_active", Help: "Connection pairs currently relaying"}),
		pendingConnects:  f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "connects_pending", Help: "Outbound connects still in progress"}),
		acceptedTotal:    f.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "accepted_total", Help: "Client connections accepted"}),
		establishedTotal: f.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "pairs_established_total", Help: "Connection pairs established"}),
		closedTotal:      f.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "pairs_closed_total", Help: "Connection pairs torn down"}),
		errorsTotal:      f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "errors_total", Help: "Errors by type"}, []string{"type"}),
		bytesTotal:       f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "bytes_total", Help: "Bytes relayed by direction"}, []string{"direction"}),
		pairDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pair_duration_seconds",
			Help:      "Connection pair lifetime seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Admin HTTP requests"}, []string{"method", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Admin HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// Registry returns the registry the collectors are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Accepted records an accepted client connection
func (m *Metrics) Accepted() {
	if m == nil {
		return
	}
	m.acceptedTotal.Inc()
}

// DialStarted records an outbound connect left in progress
func (m *Metrics) DialStarted() {
	if m == nil {
		return
	}
	m.pendingConnects.Inc()
}

// DialFinished records the end of an in-progress connect, whatever the outcome
func (m *Metrics) DialFinished() {
	if m == nil {
		return
	}
	m.pendingConnects.Dec()
}

// PairOpened records an established pair
func (m *Metrics) PairOpened() {
	if m == nil {
		return
	}
	m.establishedTotal.Inc()
	m.activePairs.Inc()
}

// PairClosed records the teardown of a pair that lived for d
func (m *Metrics) PairClosed(d time.Duration) {
	if m == nil {
		return
	}
	m.closedTotal.Inc()
	m.activePairs.Dec()
	m.pairDuration.Observe(d.Seconds())
}

// Transferred adds n bytes written toward direction
func (m *Metrics) Transferred(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesTotal.WithLabelValues(direction).Add(float64(n))
}

// Error counts an error of the given type (accept, connect, io)
func (m *Metrics) Error(kind string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(kind).Inc()
}

// ObserveRequest records a served admin HTTP request
func (m *Metrics) ObserveRequest(method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}

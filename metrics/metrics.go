// Package metrics wraps the engine's Prometheus instrumentation (active
// connections, requests served, request duration) behind a small
// Collector so the rest of the module can call it unconditionally —
// a nil *Collector is safe to use and simply does nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns the engine's metric instruments. The zero value
// (&Collector{}) is invalid; use New or a nil *Collector for a no-op.
type Collector struct {
	registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
}

// New registers the engine's instruments on a fresh registry and
// returns a Collector that updates them.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_connections_active",
			Help: "Number of currently open connections.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_requests_total",
			Help: "Requests served, labeled by status class.",
		}, []string{"status_class"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engine_request_duration_seconds",
			Help:    "Request handling latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status_class"}),
	}
	reg.MustRegister(c.connectionsActive, c.requestsTotal, c.requestDuration)
	return c
}

// Registry exposes the underlying prometheus.Registry for mounting on
// an HTTP /metrics endpoint.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ConnectionOpened increments the active-connection gauge.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Inc()
}

// ConnectionClosed decrements the active-connection gauge.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Dec()
}

// RequestServed records one completed request's status and latency.
func (c *Collector) RequestServed(status int, d time.Duration) {
	if c == nil {
		return
	}
	class := statusClass(status)
	c.requestsTotal.WithLabelValues(class).Inc()
	c.requestDuration.WithLabelValues(class).Observe(d.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}

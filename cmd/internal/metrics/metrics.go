// Package metrics owns the Prometheus registry for HealthyDB.
//
// All recording methods are nil-safe so components can run without metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "healthydb"

// Metrics holds the collectors exported on /metrics.
type Metrics struct {
	reg *prometheus.Registry

	gateDecisions   *prometheus.CounterVec
	authOps         *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	liveConnections prometheus.Gauge
	liveFrames      *prometheus.CounterVec
}

// New builds a registry with process and Go runtime collectors plus HealthyDB collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		reg: reg,
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Route gate decisions by gate (edge, client) and action.",
		}, []string{"gate", "action"}),
		authOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_operations_total",
			Help:      "Auth form operations by operation and result.",
		}, []string{"op", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status class.",
		}, []string{"method", "class"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		liveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_connections",
			Help:      "Open live channel websocket connections.",
		}),
		liveFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_frames_total",
			Help:      "Live channel frames by direction and type.",
		}, []string{"direction", "type"}),
	}
	reg.MustRegister(m.gateDecisions, m.authOps, m.httpRequests, m.httpDuration, m.liveConnections, m.liveFrames)
	return m
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// GateDecision counts one gate outcome.
func (m *Metrics) GateDecision(gate, action string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(gate, action).Inc()
}

// AuthOp counts one auth operation outcome.
func (m *Metrics) AuthOp(op, result string) {
	if m == nil {
		return
	}
	m.authOps.WithLabelValues(op, result).Inc()
}

// HTTPRequest records one completed request.
func (m *Metrics) HTTPRequest(method, class string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, class).Inc()
	m.httpDuration.WithLabelValues(method).Observe(seconds)
}

// LiveConnected adjusts the open connection gauge by delta (+1 / -1).
func (m *Metrics) LiveConnected(delta float64) {
	if m == nil {
		return
	}
	m.liveConnections.Add(delta)
}

// LiveFrame counts one live channel frame.
func (m *Metrics) LiveFrame(direction, typ string) {
	if m == nil {
		return
	}
	m.liveFrames.WithLabelValues(direction, typ).Inc()
}

// GateDecisions exposes the counter vector for tests.
func (m *Metrics) GateDecisions() *prometheus.CounterVec { return m.gateDecisions }

// AuthOps exposes the counter vector for tests.
func (m *Metrics) AuthOps() *prometheus.CounterVec { return m.authOps }

// LiveConnections exposes the open connection gauge for tests.
func (m *Metrics) LiveConnections() prometheus.Gauge { return m.liveConnections }

// HTTPRequests exposes the request counter for tests.
func (m *Metrics) HTTPRequests() *prometheus.CounterVec { return m.httpRequests }

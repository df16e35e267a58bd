// Package metrics instruments the proxy core with Prometheus
// counters and histograms. Exporting them over a /metrics text
// endpoint, or any other collector wiring, is the out-of-scope
// "metrics collaborator" — this package only provides the
// instrumentation points the core calls on the request path
// ("ambient stack regardless of non-goals").
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	RequestsTotal       = "hermes_gateway_requests_total"
	UpstreamLatency     = "hermes_gateway_upstream_latency_seconds"
	CircuitBreakerTrips = "hermes_gateway_circuit_breaker_transitions_total"
)

// Metrics holds the gateway's request-path instrumentation.
type Metrics struct {
	RequestsTotalVec      *prometheus.CounterVec
	UpstreamLatencyVec    *prometheus.HistogramVec
	CircuitTransitionsVec *prometheus.CounterVec
}

// New creates and registers the gateway's metrics with registry. A
// nil registry is accepted so callers that don't want to wire a
// /metrics endpoint can still record values against the metrics
// without a collector ever reading them.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		RequestsTotalVec: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: RequestsTotal,
				Help: "Total number of requests proxied, by cluster, protocol, and upstream status class.",
			},
			[]string{"cluster", "protocol", "status_class"},
		),
		UpstreamLatencyVec: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    UpstreamLatency,
				Help:    "Upstream round-trip latency in seconds, by cluster.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"cluster"},
		),
		CircuitTransitionsVec: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: CircuitBreakerTrips,
				Help: "Total number of circuit breaker state transitions, by cluster and resulting state.",
			},
			[]string{"cluster", "state"},
		),
	}
	if registry != nil {
		registry.MustRegister(m.RequestsTotalVec, m.UpstreamLatencyVec, m.CircuitTransitionsVec)
	}
	return m
}

// RecordRequest increments the request counter for one completed
// proxy attempt.
func (m *Metrics) RecordRequest(cluster, protocol string, statusCode int) {
	m.RequestsTotalVec.WithLabelValues(cluster, protocol, statusClass(statusCode)).Inc()
}

// ObserveUpstreamLatency records the wall-clock time an upstream
// round trip took.
func (m *Metrics) ObserveUpstreamLatency(cluster string, d time.Duration) {
	m.UpstreamLatencyVec.WithLabelValues(cluster).Observe(d.Seconds())
}

// RecordCircuitTransition records that cluster's breaker moved to
// newState (see upstream.CircuitState.String()).
func (m *Metrics) RecordCircuitTransition(cluster, newState string) {
	m.CircuitTransitionsVec.WithLabelValues(cluster, newState).Inc()
}

func statusClass(code int) string {
	switch {
	case code == 0:
		return "error"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

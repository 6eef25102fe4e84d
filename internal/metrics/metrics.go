// Package metrics holds the Prometheus collectors for the chat pipeline and
// HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "eco_counselor"

type Metrics struct {
	registry *prometheus.Registry

	responses        *prometheus.CounterVec
	failures         *prometheus.CounterVec
	topDistance      prometheus.Histogram
	logFailures      prometheus.Counter
	requestDurations *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_responses_total",
			Help:      "Chat responses by outcome (emergency, fallback, answer).",
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_failures_total",
			Help:      "Chat requests that failed, by pipeline stage.",
		}, []string{"stage"}),
		topDistance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_top_distance",
			Help:      "Distance of the best match for each retrieved query.",
			Buckets:   []float64{0.25, 0.5, 0.75, 1, 1.25, 1.5, 1.7, 2, 2.5, 3, 4},
		}),
		logFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interaction_log_failures_total",
			Help:      "Interaction records that could not be written.",
		}),
		requestDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
	m.registry.MustRegister(
		m.responses,
		m.failures,
		m.topDistance,
		m.logFailures,
		m.requestDurations,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the collectors for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveOutcome(outcome string) {
	m.responses.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFailure(stage string) {
	m.failures.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveTopDistance(d float64) {
	m.topDistance.Observe(d)
}

func (m *Metrics) ObserveLogFailure() {
	m.logFailures.Inc()
}

func (m *Metrics) ObserveRequest(route, method, status string, seconds float64) {
	m.requestDurations.WithLabelValues(route, method, status).Observe(seconds)
}

// Package metrics exposes the Prometheus counters and histograms gravityproxy
// registers on /metrics: request volume, account rotation/retry counts, and
// stream duration, grounded on the same namespaced-registry, nil-receiver-safe
// pattern hector's observability package uses.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registry and instruments gravityproxy records against.
// A nil *Metrics is valid and every method on it is a no-op, so callers never
// need a feature flag to skip instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	requestDur   *prometheus.HistogramVec
	retries      *prometheus.CounterVec
	rotations    prometheus.Counter
	exhausted    prometheus.Counter
	cooldownHits prometheus.Counter
}

// New builds a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gravityproxy",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of proxied chat requests by dialect and outcome.",
	}, []string{"dialect", "outcome"})

	m.requestDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gravityproxy",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "End-to-end duration of a proxied chat request.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"dialect"})

	m.retries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gravityproxy",
		Subsystem: "orchestrator",
		Name:      "retries_total",
		Help:      "Total number of account-rotation retries by classified outcome.",
	}, []string{"outcome"})

	m.rotations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gravityproxy",
		Subsystem: "tokenpool",
		Name:      "rotations_total",
		Help:      "Total number of token-pool account selections.",
	})

	m.exhausted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gravityproxy",
		Subsystem: "orchestrator",
		Name:      "accounts_exhausted_total",
		Help:      "Total number of requests that exhausted every account in the pool.",
	})

	m.cooldownHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gravityproxy",
		Subsystem: "cooldown",
		Name:      "skips_total",
		Help:      "Total number of accounts skipped because they were cooling down.",
	})

	m.registry.MustRegister(m.requests, m.requestDur, m.retries, m.rotations, m.exhausted, m.cooldownHits)
	return m
}

// RecordRequest records one finished proxied request.
func (m *Metrics) RecordRequest(dialect, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(dialect, outcome).Inc()
	m.requestDur.WithLabelValues(dialect).Observe(duration.Seconds())
}

// RecordRetry records one account-rotation retry, labeled by the classify.Outcome
// string that triggered it.
func (m *Metrics) RecordRetry(outcome string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(outcome).Inc()
}

// RecordRotation records one token-pool Next()/NextFor() selection.
func (m *Metrics) RecordRotation() {
	if m == nil {
		return
	}
	m.rotations.Inc()
}

// RecordExhausted records a request that ran out of accounts to retry.
func (m *Metrics) RecordExhausted() {
	if m == nil {
		return
	}
	m.exhausted.Inc()
}

// RecordCooldownSkip records an account being skipped because it is cooling down.
func (m *Metrics) RecordCooldownSkip() {
	if m == nil {
		return
	}
	m.cooldownHits.Inc()
}

// Handler returns the HTTP handler to mount at /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

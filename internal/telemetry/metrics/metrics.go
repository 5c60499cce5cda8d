// Package metrics wires the gateway's Prometheus instrumentation.
// Grounded on the teacher's pkg/telemetry/metrics: one Collector
// holding pre-registered vectors against a private registry, methods
// recording a single named event each, and an http.Handler exposing
// the scrape endpoint. Trimmed to the gateway's own metric set
// (SPEC_FULL.md §11): queue depth and provider health gauges, dispatch
// and discussion-round latency histograms, request/error/discussion
// counters — the teacher's cost/cache/policy metric families have no
// counterpart component here (see DESIGN.md).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// requestDurationBuckets is tuned for AI-provider latencies
// (hundreds of ms to tens of seconds), same shape as the teacher's
// default.
var requestDurationBuckets = []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0}

// Collector owns every metric the gateway records and the private
// registry they're bound to.
type Collector struct {
	registry *prometheus.Registry

	queueDepth      *prometheus.GaugeVec
	providerHealth  *prometheus.GaugeVec
	dispatchLatency *prometheus.HistogramVec
	discussionRound *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	discussionRoundsTotal *prometheus.CounterVec
}

// New builds a Collector against a fresh private registry. Using a
// private registry rather than prometheus.DefaultRegisterer keeps
// repeated test construction (each test builds its own Collector)
// from panicking on duplicate registration.
func New() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,

		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "queue_depth",
			Help:      "Current number of queued requests, by provider.",
		}, []string{"provider"}),

		providerHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "provider_health",
			Help:      "Provider health status (1=healthy, 0=unhealthy/unknown).",
		}, []string{"provider"}),

		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "dispatch_latency_seconds",
			Help:      "Backend dispatch latency in seconds.",
			Buckets:   requestDurationBuckets,
		}, []string{"provider", "status"}),

		discussionRound: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "discussion_round_latency_seconds",
			Help:      "Discussion round fan-out/fan-in latency in seconds.",
			Buckets:   requestDurationBuckets,
		}, []string{"round"}),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "requests_total",
			Help:      "Total requests dispatched, by provider and terminal status.",
		}, []string{"provider", "status"}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "errors_total",
			Help:      "Total dispatch errors, by provider and error kind.",
		}, []string{"provider", "kind"}),

		discussionRoundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "discussion_rounds_total",
			Help:      "Total discussion rounds run, by round name and outcome.",
		}, []string{"round", "outcome"}),
	}

	registry.MustRegister(
		c.queueDepth,
		c.providerHealth,
		c.dispatchLatency,
		c.discussionRound,
		c.requestsTotal,
		c.errorsTotal,
		c.discussionRoundsTotal,
	)
	return c
}

// SetQueueDepth records the current queue depth for provider.
func (c *Collector) SetQueueDepth(provider string, depth int) {
	c.queueDepth.WithLabelValues(provider).Set(float64(depth))
}

// SetProviderHealth records a provider's current health as 1 (healthy) or 0.
func (c *Collector) SetProviderHealth(provider string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	c.providerHealth.WithLabelValues(provider).Set(v)
}

// ObserveDispatch records one backend dispatch's latency and terminal status.
func (c *Collector) ObserveDispatch(provider, status string, d time.Duration) {
	c.dispatchLatency.WithLabelValues(provider, status).Observe(d.Seconds())
	c.requestsTotal.WithLabelValues(provider, status).Inc()
}

// RecordError records one dispatch error of the given kind.
func (c *Collector) RecordError(provider, kind string) {
	c.errorsTotal.WithLabelValues(provider, kind).Inc()
}

// ObserveDiscussionRound records one discussion round's latency and outcome.
func (c *Collector) ObserveDiscussionRound(round, outcome string, d time.Duration) {
	c.discussionRound.WithLabelValues(round).Observe(d.Seconds())
	c.discussionRoundsTotal.WithLabelValues(round, outcome).Inc()
}

// Handler exposes the scrape endpoint for mounting at
// Config.Telemetry.Metrics.Path (default /metrics).
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests that
// want to assert on registered metric families directly.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

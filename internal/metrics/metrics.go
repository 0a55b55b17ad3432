// Package metrics exposes the Prometheus instruments for cache tiers,
// circuit breakers, and provider calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
)

// Registry holds every instrument the server exports.
type Registry struct {
	reg *prometheus.Registry

	CacheHits        *prometheus.CounterVec
	CacheMisses      prometheus.Counter
	SharedTierErrors prometheus.Counter

	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec

	ProviderCalls    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec

	ToolCalls    *prometheus.CounterVec
	ToolDuration *prometheus.HistogramVec
}

// NewRegistry builds and registers all instruments on a private
// Prometheus registry, so tests can create as many as they like.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdesk_cache_hits_total",
				Help: "Cache hits by tier (l1, shared)",
			},
			[]string{"tier"},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "marketdesk_cache_misses_total",
				Help: "Lookups that missed every cache tier",
			},
		),
		SharedTierErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "marketdesk_cache_shared_errors_total",
				Help: "Shared-tier failures absorbed by degraded mode",
			},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketdesk_breaker_state",
				Help: "Breaker state per endpoint (0=closed, 1=half-open, 2=open)",
			},
			[]string{"endpoint"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdesk_breaker_transitions_total",
				Help: "Breaker state transitions per endpoint",
			},
			[]string{"endpoint", "from", "to"},
		),

		ProviderCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdesk_provider_calls_total",
				Help: "Upstream provider calls by provider and outcome kind",
			},
			[]string{"provider", "outcome"},
		),
		ProviderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketdesk_provider_duration_seconds",
				Help:    "Upstream provider call latency",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider"},
		),

		ToolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdesk_tool_calls_total",
				Help: "Tool invocations by tool name and outcome",
			},
			[]string{"tool", "outcome"},
		),
		ToolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketdesk_tool_duration_seconds",
				Help:    "End-to-end tool latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
	}

	r.reg.MustRegister(
		r.CacheHits,
		r.CacheMisses,
		r.SharedTierErrors,
		r.BreakerState,
		r.BreakerTransitions,
		r.ProviderCalls,
		r.ProviderDuration,
		r.ToolCalls,
		r.ToolDuration,
	)
	return r
}

// CacheHit implements the cache recorder interface.
func (r *Registry) CacheHit(tier string) { r.CacheHits.WithLabelValues(tier).Inc() }

// CacheMiss implements the cache recorder interface.
func (r *Registry) CacheMiss() { r.CacheMisses.Inc() }

// SharedTierError implements the cache recorder interface.
func (r *Registry) SharedTierError() { r.SharedTierErrors.Inc() }

// BreakerListener adapts the registry to the breaker manager's
// transition callback.
func (r *Registry) BreakerListener() func(endpoint string, from, to gobreaker.State) {
	return func(endpoint string, from, to gobreaker.State) {
		r.BreakerTransitions.WithLabelValues(endpoint, from.String(), to.String()).Inc()
		r.BreakerState.WithLabelValues(endpoint).Set(stateValue(to))
	}
}

// ObserveProviderCall records one upstream call.
func (r *Registry) ObserveProviderCall(provider, outcome string, elapsed time.Duration) {
	r.ProviderCalls.WithLabelValues(provider, outcome).Inc()
	r.ProviderDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveToolCall records one tool invocation.
func (r *Registry) ObserveToolCall(tool, outcome string, elapsed time.Duration) {
	r.ToolCalls.WithLabelValues(tool, outcome).Inc()
	r.ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// Handler serves the /metrics endpoint for this registry only.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CacheRecorder(t *testing.T) {
	r := NewRegistry()
	r.CacheHit("l1")
	r.CacheHit("l1")
	r.CacheHit("shared")
	r.CacheMiss()
	r.SharedTierError()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.CacheHits.WithLabelValues("l1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CacheHits.WithLabelValues("shared")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CacheMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SharedTierErrors))
}

func TestRegistry_BreakerListener(t *testing.T) {
	r := NewRegistry()
	listen := r.BreakerListener()

	listen("fx-primary", gobreaker.StateClosed, gobreaker.StateOpen)
	listen("fx-primary", gobreaker.StateOpen, gobreaker.StateHalfOpen)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		r.BreakerTransitions.WithLabelValues("fx-primary", "closed", "open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.BreakerState.WithLabelValues("fx-primary")),
		"half-open should gauge to 1")
}

func TestRegistry_ProviderAndToolObservations(t *testing.T) {
	r := NewRegistry()
	r.ObserveProviderCall("tiingo", "ok", 120*time.Millisecond)
	r.ObserveProviderCall("tiingo", "transient", 80*time.Millisecond)
	r.ObserveToolCall("get_price_bars", "ok", 200*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.ProviderCalls.WithLabelValues("tiingo", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ProviderCalls.WithLabelValues("tiingo", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ToolCalls.WithLabelValues("get_price_bars", "ok")))
}

func TestRegistry_IndependentInstances(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()
	a.CacheMiss()

	families, err := b.Gatherer().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "marketdesk_cache_misses_total" {
			for _, m := range f.GetMetric() {
				assert.Equal(t, 0.0, m.GetCounter().GetValue())
			}
		}
	}
}

package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/marketdesk/marketdesk/internal/config"
	"github.com/marketdesk/marketdesk/internal/resilience"
)

func TestRetryOverridesMapsPolicy(t *testing.T) {
	p := &config.Policy{Providers: map[string]config.ProviderPolicy{
		"tiingo": {Enabled: true, Retry: config.RetryPolicy{MaxAttempts: 5, InitialMS: 100, MaxMS: 2000}},
		"exa":    {Enabled: true},
	}}

	out := retryOverrides(p)
	assert.Len(t, out, 1, "providers without a retry block keep the defaults")
	assert.Equal(t, resilience.RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}, out["tiingo"])
}

func TestBreakerOverridesMapsRateStrategy(t *testing.T) {
	p := &config.Policy{Providers: map[string]config.ProviderPolicy{
		"tavily": {Enabled: true, Circuit: config.CircuitPolicy{
			Strategy:     "rate",
			FailureRate:  0.5,
			WindowSecs:   60,
			RecoverySecs: 30,
		}},
		"exa": {Enabled: true},
	}}

	out := breakerOverrides(p)
	assert.Len(t, out, 1)
	cfg := out["tavily"]
	assert.Equal(t, resilience.DetectSlidingWindow, cfg.Strategy)
	assert.Equal(t, 0.5, cfg.FailureRate)
	assert.Equal(t, time.Minute, cfg.WindowInterval)
	assert.Equal(t, 30*time.Second, cfg.RecoveryTimeout)
}

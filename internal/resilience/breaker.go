// Package resilience wraps outbound calls in circuit breakers, retry
// policies, fallback chains and a single-flight gate. Breakers are keyed
// by endpoint identity, never derived from function identity.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/marketdesk/marketdesk/internal/errs"
)

// DetectionStrategy selects how a breaker decides to trip.
type DetectionStrategy string

const (
	// DetectConsecutive trips after N consecutive failures.
	DetectConsecutive DetectionStrategy = "consecutive-failures"
	// DetectSlidingWindow trips on a failure rate over a rolling window.
	DetectSlidingWindow DetectionStrategy = "sliding-window-rate"
)

// BreakerConfig is the per-endpoint breaker policy.
type BreakerConfig struct {
	FailureThreshold int               `yaml:"failure_threshold"` // default 5
	RecoveryTimeout  time.Duration     `yaml:"recovery_timeout"`  // default 60s
	HalfOpenMaxCalls int               `yaml:"half_open_max_calls"` // default 3
	Strategy         DetectionStrategy `yaml:"strategy"`
	// Sliding-window tuning; ignored for consecutive detection.
	WindowInterval  time.Duration `yaml:"window_interval"`   // default 60s
	FailureRate     float64       `yaml:"failure_rate"`      // default 0.5
	WindowMinCalls  int           `yaml:"window_min_calls"`  // default 10
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 3
	}
	if c.Strategy == "" {
		c.Strategy = DetectConsecutive
	}
	if c.WindowInterval <= 0 {
		c.WindowInterval = 60 * time.Second
	}
	if c.FailureRate <= 0 {
		c.FailureRate = 0.5
	}
	if c.WindowMinCalls <= 0 {
		c.WindowMinCalls = 10
	}
	return c
}

// StateListener observes breaker transitions, e.g. for metrics.
type StateListener func(endpoint string, from, to gobreaker.State)

// BreakerManager holds one circuit breaker per named endpoint.
type BreakerManager struct {
	mu        sync.RWMutex
	breakers  map[string]*gobreaker.CircuitBreaker
	defaults  BreakerConfig
	overrides map[string]BreakerConfig
	listener  StateListener
	log       zerolog.Logger
}

// NewBreakerManager creates a manager with a default policy and optional
// per-endpoint overrides.
func NewBreakerManager(defaults BreakerConfig, overrides map[string]BreakerConfig, listener StateListener, log zerolog.Logger) *BreakerManager {
	return &BreakerManager{
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		defaults:  defaults.withDefaults(),
		overrides: overrides,
		listener:  listener,
		log:       log,
	}
}

func (m *BreakerManager) configFor(endpoint string) BreakerConfig {
	if cfg, ok := m.overrides[endpoint]; ok {
		return cfg.withDefaults()
	}
	return m.defaults
}

func (m *BreakerManager) breaker(endpoint string) *gobreaker.CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[endpoint]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[endpoint]; ok {
		return cb
	}

	cfg := m.configFor(endpoint)
	settings := gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: uint32(cfg.HalfOpenMaxCalls),
		Timeout:     cfg.RecoveryTimeout,
		// NotFound, InvalidInput and other 4xx are genuine answers, not
		// provider faults; only transient-class outcomes count.
		IsSuccessful: func(err error) bool { return !errs.CountsForBreaker(err) },
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.log.Info().
				Str("endpoint", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker transition")
			if m.listener != nil {
				m.listener(name, from, to)
			}
		},
	}
	switch cfg.Strategy {
	case DetectSlidingWindow:
		settings.Interval = cfg.WindowInterval
		minCalls := uint32(cfg.WindowMinCalls)
		rate := cfg.FailureRate
		settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
			if counts.Requests < minCalls {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= rate
		}
	default:
		threshold := uint32(cfg.FailureThreshold)
		settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		}
	}

	cb = gobreaker.NewCircuitBreaker(settings)
	m.breakers[endpoint] = cb
	return cb
}

// Call runs fn behind the endpoint's breaker. While the breaker is open
// the call fails immediately with a CircuitOpen error. The error returned
// by fn passes through unchanged.
func (m *BreakerManager) Call(ctx context.Context, endpoint string, fn func(ctx context.Context) error) error {
	cb := m.breaker(endpoint)
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errs.FromProvider(errs.KindCircuitOpen, endpoint, "circuit breaker open", err)
	}
	return err
}

// State reports the breaker state for an endpoint. Endpoints that have
// never been called report closed.
func (m *BreakerManager) State(endpoint string) gobreaker.State {
	m.mu.RLock()
	cb, ok := m.breakers[endpoint]
	m.mu.RUnlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

// Snapshot returns the live state of every known breaker.
func (m *BreakerManager) Snapshot() map[string]gobreaker.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]gobreaker.State, len(m.breakers))
	for name, cb := range m.breakers {
		out[name] = cb.State()
	}
	return out
}

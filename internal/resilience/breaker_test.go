package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketdesk/marketdesk/internal/errs"
)

func failTransient(context.Context) error { return errs.New(errs.KindTransient, "upstream 500") }
func succeed(context.Context) error       { return nil }

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	m := NewBreakerManager(BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
		HalfOpenMaxCalls: 3,
	}, nil, nil, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := m.Call(ctx, "fx-primary", failTransient)
		require.Error(t, err)
		assert.True(t, errs.IsKind(err, errs.KindTransient))
	}
	assert.Equal(t, gobreaker.StateOpen, m.State("fx-primary"))

	// While open, calls fail fast with CircuitOpen.
	err := m.Call(ctx, "fx-primary", succeed)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindCircuitOpen))
}

func TestBreaker_RecoveryCycle(t *testing.T) {
	m := NewBreakerManager(BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  50 * time.Millisecond,
		HalfOpenMaxCalls: 3,
	}, nil, nil, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = m.Call(ctx, "ep", failTransient)
	}
	require.Equal(t, gobreaker.StateOpen, m.State("ep"))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, m.State("ep"))

	// HalfOpenMaxCalls consecutive successes close the breaker.
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Call(ctx, "ep", succeed))
	}
	assert.Equal(t, gobreaker.StateClosed, m.State("ep"))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	m := NewBreakerManager(BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  50 * time.Millisecond,
		HalfOpenMaxCalls: 3,
	}, nil, nil, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = m.Call(ctx, "ep", failTransient)
	}
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, gobreaker.StateHalfOpen, m.State("ep"))

	_ = m.Call(ctx, "ep", failTransient)
	assert.Equal(t, gobreaker.StateOpen, m.State("ep"))
}

func TestBreaker_NotFoundDoesNotCount(t *testing.T) {
	m := NewBreakerManager(BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
		HalfOpenMaxCalls: 3,
	}, nil, nil, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		err := m.Call(ctx, "ir-scrape", func(context.Context) error {
			return errs.New(errs.KindNotFound, "transcript not published")
		})
		require.Error(t, err)
		assert.True(t, errs.IsKind(err, errs.KindNotFound))
	}
	assert.Equal(t, gobreaker.StateClosed, m.State("ir-scrape"))
}

func TestBreaker_PermanentDoesNotCount(t *testing.T) {
	m := NewBreakerManager(BreakerConfig{FailureThreshold: 2}, nil, nil, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = m.Call(ctx, "ep", func(context.Context) error {
			return errs.New(errs.KindPermanent, "parse rejected")
		})
	}
	assert.Equal(t, gobreaker.StateClosed, m.State("ep"))
}

func TestBreaker_TransitionsObservable(t *testing.T) {
	var transitions []string
	listener := func(endpoint string, from, to gobreaker.State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}
	m := NewBreakerManager(BreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
	}, nil, listener, zerolog.Nop())
	ctx := context.Background()

	_ = m.Call(ctx, "ep", failTransient)
	_ = m.Call(ctx, "ep", failTransient)

	require.NotEmpty(t, transitions)
	assert.Equal(t, "closed->open", transitions[0])
}

func TestBreaker_PerEndpointOverride(t *testing.T) {
	m := NewBreakerManager(
		BreakerConfig{FailureThreshold: 10},
		map[string]BreakerConfig{"fragile": {FailureThreshold: 1}},
		nil, zerolog.Nop())
	ctx := context.Background()

	_ = m.Call(ctx, "fragile", failTransient)
	assert.Equal(t, gobreaker.StateOpen, m.State("fragile"))

	_ = m.Call(ctx, "sturdy", failTransient)
	assert.Equal(t, gobreaker.StateClosed, m.State("sturdy"))
}

package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketdesk/marketdesk/internal/errs"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return errs.New(errs.KindTransient, "503")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(3), func(context.Context) error {
		calls++
		return errs.New(errs.KindTransient, "503")
	})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindTransient))
	assert.Equal(t, 3, calls)
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(5), func(context.Context) error {
		calls++
		return errs.New(errs.KindPermanent, "403")
	})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindPermanent))
	assert.Equal(t, 1, calls)
}

func TestRetry_NotFoundStopsImmediately(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(5), func(context.Context) error {
		calls++
		return errs.New(errs.KindNotFound, "absent")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_QuotaHonoursRetryAfter(t *testing.T) {
	calls := 0
	start := time.Now()
	err := Retry(context.Background(), fastRetry(2), func(context.Context) error {
		calls++
		if calls == 1 {
			return &errs.Error{Kind: errs.KindQuotaExceeded, Message: "429", RetryAfter: 30 * time.Millisecond}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRetry_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Retry(ctx, RetryConfig{MaxAttempts: 100, InitialInterval: 20 * time.Millisecond}, func(context.Context) error {
		calls++
		return errs.New(errs.KindTransient, "503")
	})
	require.Error(t, err)
	assert.Less(t, calls, 100)
}

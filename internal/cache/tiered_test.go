package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisForTest(t *testing.T, now time.Time) (*Redis, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	r := NewRedis(client)
	r.clock = func() time.Time { return now }
	return r, mock
}

func envelopeBytes(t *testing.T, payload []byte, source string, insertedAt time.Time, ttl time.Duration) []byte {
	t.Helper()
	raw, err := json.Marshal(envelope{
		Payload:    payload,
		Source:     source,
		InsertedAt: insertedAt,
		TTLMillis:  ttl.Milliseconds(),
	})
	require.NoError(t, err)
	return raw
}

func TestTiered_WriteThrough(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	shared, mock := newRedisForTest(t, now)
	mem := NewMemory(64)
	tiered := NewTiered(mem, shared, zerolog.Nop(), nil)
	tiered.clock = func() time.Time { return now }
	ctx := context.Background()

	payload := []byte(`{"rate":83.2}`)
	expected := envelopeBytes(t, payload, "exchangerate-api", now, time.Hour)
	mock.ExpectSet("fx:rate:USD:INR:2025-06-02:v1", expected, time.Hour).SetVal("OK")

	require.NoError(t, tiered.Set(ctx, "fx:rate:USD:INR:2025-06-02:v1", payload, time.Hour, "exchangerate-api"))

	// L1 serves without touching Redis again.
	got, meta, ok, err := tiered.Get(ctx, "fx:rate:USD:INR:2025-06-02:v1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, got)
	assert.Equal(t, "exchangerate-api", meta.Source)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTiered_SharedHitWarmsL1(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	shared, mock := newRedisForTest(t, now)
	mem := NewMemory(64)
	mem.clock = func() time.Time { return now }
	tiered := NewTiered(mem, shared, zerolog.Nop(), nil)
	tiered.clock = func() time.Time { return now }
	ctx := context.Background()

	payload := []byte(`{"text":"transcript"}`)
	// Entry written 1h ago with a 3h TTL: 2h remaining.
	stored := envelopeBytes(t, payload, "IR_WEBSITE", now.Add(-time.Hour), 3*time.Hour)
	mock.ExpectGet("concall:transcript:RELIANCE.NS:Q1:2025:v1").SetVal(string(stored))

	got, meta, ok, err := tiered.Get(ctx, "concall:transcript:RELIANCE.NS:Q1:2025:v1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, got)
	assert.Equal(t, "IR_WEBSITE", meta.Source)

	// The warmed L1 entry carries at most the shared tier's remaining TTL.
	_, l1meta, ok, _ := mem.Get(ctx, "concall:transcript:RELIANCE.NS:Q1:2025:v1")
	require.True(t, ok)
	assert.LessOrEqual(t, l1meta.TTL, 2*time.Hour)
	assert.Greater(t, l1meta.TTL, time.Duration(0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTiered_DegradedWhenSharedDown(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	shared, mock := newRedisForTest(t, now)
	mem := NewMemory(64)
	tiered := NewTiered(mem, shared, zerolog.Nop(), nil)
	tiered.clock = func() time.Time { return now }
	ctx := context.Background()

	// Redis write fails; the Set must still succeed via L1.
	mock.ExpectSet("k", envelopeBytes(t, []byte("v"), "s", now, time.Minute), time.Minute).
		SetErr(errors.New("connection refused"))
	require.NoError(t, tiered.Set(ctx, "k", []byte("v"), time.Minute, "s"))

	payload, _, ok, err := tiered.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), payload)

	mock.ExpectPing().SetErr(errors.New("connection refused"))
	health := tiered.Health(ctx)
	assert.True(t, health.Degraded)
	assert.False(t, health.SharedOK)
	assert.True(t, health.MemoryOK)
}

func TestTiered_L1OnlyMode(t *testing.T) {
	mem := NewMemory(64)
	tiered := NewTiered(mem, nil, zerolog.Nop(), nil)
	ctx := context.Background()

	require.NoError(t, tiered.Set(ctx, "k", []byte("v"), time.Minute, "s"))
	_, _, ok, err := tiered.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	health := tiered.Health(ctx)
	assert.True(t, health.Degraded)
	assert.True(t, health.MemoryOK)
}

func TestTiered_ExpiredSharedEntryIsMiss(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	shared, mock := newRedisForTest(t, now)
	mem := NewMemory(64)
	tiered := NewTiered(mem, shared, zerolog.Nop(), nil)
	tiered.clock = func() time.Time { return now }

	stored := envelopeBytes(t, []byte("old"), "s", now.Add(-2*time.Hour), time.Hour)
	mock.ExpectGet("k").SetVal(string(stored))

	_, _, ok, err := tiered.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNegativeCache(t *testing.T) {
	mem := NewMemory(64)
	tiered := NewTiered(mem, nil, zerolog.Nop(), nil)
	ctx := context.Background()

	require.NoError(t, SetNegative(ctx, tiered, "concall:transcript:X.NS:Q4:2025:v1", 5*time.Minute))

	_, meta, ok, err := tiered.Get(ctx, "concall:transcript:X.NS:Q4:2025:v1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, IsNegative(meta))
	// TTL is clamped to the negative-cache ceiling.
	assert.LessOrEqual(t, meta.TTL, NegativeTTL)
}

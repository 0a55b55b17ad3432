package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// l1RefillFraction is how much of the shared tier's remaining TTL a
// warmed L1 entry receives.
const l1RefillFraction = 0.5

// Recorder receives cache events for metrics. Implementations must be
// cheap and non-blocking.
type Recorder interface {
	CacheHit(tier string)
	CacheMiss()
	SharedTierError()
}

type nopRecorder struct{}

func (nopRecorder) CacheHit(string)    {}
func (nopRecorder) CacheMiss()         {}
func (nopRecorder) SharedTierError()   {}

// HealthStatus summarizes tier availability.
type HealthStatus struct {
	MemoryOK bool   `json:"memory_ok"`
	SharedOK bool   `json:"shared_ok"`
	Degraded bool   `json:"degraded"`
	Detail   string `json:"detail,omitempty"`
}

// Tiered layers the in-process tier over the shared tier. Reads consult
// L1 first, then L1'; an L1' hit warms L1 with a fraction of the
// remaining TTL. Writes go through to both tiers. When the shared tier is
// unreachable the facade keeps serving from L1 and reports degraded
// health; shared-tier failures are logged and swallowed.
type Tiered struct {
	memory   *Memory
	shared   Store // nil when Redis is not configured
	log      zerolog.Logger
	recorder Recorder
	clock    func() time.Time
}

// The facade carries the Store write surface for the negative-cache
// helper; its Health is richer than Store's, so it is not a full Store.
var _ Setter = (*Tiered)(nil)

// NewTiered builds the cache facade. shared may be nil for L1-only mode.
func NewTiered(memory *Memory, shared Store, log zerolog.Logger, recorder Recorder) *Tiered {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Tiered{
		memory:   memory,
		shared:   shared,
		log:      log,
		recorder: recorder,
		clock:    time.Now,
	}
}

// Memory exposes the L1 tier for janitor jobs.
func (t *Tiered) Memory() *Memory { return t.memory }

// Get reads through the tiers.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, Meta, bool, error) {
	payload, meta, ok, _ := t.memory.Get(ctx, key)
	if ok {
		t.recorder.CacheHit("l1")
		return payload, meta, true, nil
	}

	if t.shared == nil {
		t.recorder.CacheMiss()
		return nil, Meta{}, false, nil
	}

	payload, meta, ok, err := t.shared.Get(ctx, key)
	if err != nil {
		t.recorder.SharedTierError()
		t.log.Warn().Err(err).Str("key", key).Msg("shared cache read failed, serving degraded")
		t.recorder.CacheMiss()
		return nil, Meta{}, false, nil
	}
	if !ok {
		t.recorder.CacheMiss()
		return nil, Meta{}, false, nil
	}

	t.recorder.CacheHit("l1p")
	t.warmL1(ctx, key, payload, meta)
	return payload, meta, true, nil
}

// warmL1 populates the in-process tier from a shared-tier hit. The L1 TTL
// is a fraction of the shared entry's remaining lifetime and never longer
// than it.
func (t *Tiered) warmL1(ctx context.Context, key string, payload []byte, meta Meta) {
	if len(payload) > MaxMemoryPayload {
		return
	}
	remaining := meta.Remaining(t.clock())
	if remaining <= 0 {
		return
	}
	ttl := time.Duration(float64(remaining) * l1RefillFraction)
	if ttl <= 0 || ttl > remaining {
		ttl = remaining
	}
	_ = t.memory.Set(ctx, key, payload, ttl, meta.Source)
}

// GetStale returns an L1 entry even past its TTL. Degraded-mode fallback
// only; the shared tier evicts server-side, so stale reads are L1-local.
func (t *Tiered) GetStale(ctx context.Context, key string) ([]byte, Meta, bool, error) {
	return t.memory.GetStale(ctx, key)
}

// Set writes through both tiers. A shared-tier failure does not fail the
// write; L1 continues to serve.
func (t *Tiered) Set(ctx context.Context, key string, payload []byte, ttl time.Duration, source string) error {
	if len(payload) <= MaxMemoryPayload {
		if err := t.memory.Set(ctx, key, payload, ttl, source); err != nil {
			return err
		}
	}
	if t.shared != nil {
		if err := t.shared.Set(ctx, key, payload, ttl, source); err != nil {
			t.recorder.SharedTierError()
			t.log.Warn().Err(err).Str("key", key).Msg("shared cache write failed, entry kept in L1 only")
		}
	}
	return nil
}

// Delete removes key from both tiers.
func (t *Tiered) Delete(ctx context.Context, key string) error {
	_ = t.memory.Delete(ctx, key)
	if t.shared != nil {
		if err := t.shared.Delete(ctx, key); err != nil {
			t.recorder.SharedTierError()
			t.log.Warn().Err(err).Str("key", key).Msg("shared cache delete failed")
		}
	}
	return nil
}

// Scan merges keys from both tiers, shared tier first.
func (t *Tiered) Scan(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string

	if t.shared != nil {
		keys, err := t.shared.Scan(ctx, prefix)
		if err != nil {
			t.recorder.SharedTierError()
			t.log.Warn().Err(err).Str("prefix", prefix).Msg("shared cache scan failed")
		} else {
			for _, k := range keys {
				seen[k] = struct{}{}
				out = append(out, k)
			}
		}
	}
	local, _ := t.memory.Scan(ctx, prefix)
	for _, k := range local {
		if _, dup := seen[k]; !dup {
			out = append(out, k)
		}
	}
	return out, nil
}

// Health reports per-tier availability.
func (t *Tiered) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{MemoryOK: true, SharedOK: t.shared != nil}
	if t.shared == nil {
		status.Degraded = true
		status.Detail = "shared tier not configured"
		return status
	}
	if err := t.shared.Health(ctx); err != nil {
		status.SharedOK = false
		status.Degraded = true
		status.Detail = err.Error()
	}
	return status
}

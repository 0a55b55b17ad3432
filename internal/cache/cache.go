// Package cache implements the L1 (process-local) and L1' (shared Redis)
// cache tiers behind one Store interface, plus the tiered facade that
// enforces the read/write-through policy between them.
package cache

import (
	"context"
	"time"
)

// Meta describes a cache entry alongside its payload.
type Meta struct {
	Source     string        `json:"source"`
	InsertedAt time.Time     `json:"inserted_at"`
	TTL        time.Duration `json:"ttl"`
}

// Remaining returns the entry's unexpired lifetime at the given instant.
func (m Meta) Remaining(now time.Time) time.Duration {
	if m.TTL <= 0 {
		return 0
	}
	rem := m.TTL - now.Sub(m.InsertedAt)
	if rem < 0 {
		return 0
	}
	return rem
}

// Store is the uniform cache interface across backends. Get returns
// ok=false on miss; expired entries read as misses. Values are JSON bytes
// and are replaced atomically per backend.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, Meta, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration, source string) error
	Delete(ctx context.Context, key string) error
	Scan(ctx context.Context, prefix string) ([]string, error)
	Health(ctx context.Context) error
}

// MaxMemoryPayload is the largest value the in-process tier accepts.
// Bigger payloads live only in the shared tier.
const MaxMemoryPayload = 1 << 20

// NegativeTTL caps how long a miss marker may be cached after all
// providers fail; the fact may appear upstream at any moment.
const NegativeTTL = 60 * time.Second

// negativeSource tags miss markers written by the resolver.
const negativeSource = "negative"

// NegativeMarker is the payload stored for a cached miss.
var NegativeMarker = []byte(`{"miss":true}`)

// IsNegative reports whether a cache hit is a stored miss marker.
func IsNegative(meta Meta) bool { return meta.Source == negativeSource }

// Setter is the write side of a cache. Both Store backends and the
// tiered facade satisfy it; the facade is not a full Store because its
// Health reports per-tier status instead of a single error.
type Setter interface {
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration, source string) error
}

// SetNegative stores a short-lived miss marker for key.
func SetNegative(ctx context.Context, s Setter, key string, ttl time.Duration) error {
	if ttl <= 0 || ttl > NegativeTTL {
		ttl = NegativeTTL
	}
	return s.Set(ctx, key, NegativeMarker, ttl, negativeSource)
}

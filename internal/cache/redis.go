package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis is the shared L1' cache tier.
type Redis struct {
	client redis.UniversalClient
	clock  func() time.Time
}

// envelope is the JSON value stored in Redis. The payload is kept
// alongside its metadata so the tiered facade can compute remaining TTL
// without a second round trip.
type envelope struct {
	Payload    []byte    `json:"payload"`
	Source     string    `json:"source"`
	InsertedAt time.Time `json:"inserted_at"`
	TTLMillis  int64     `json:"ttl_ms"`
}

// NewRedis wraps an existing client. Callers own the client lifecycle.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client, clock: time.Now}
}

// Dial connects to Redis and verifies the connection with a ping.
func Dial(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedis(client), nil
}

// DialURL connects using a redis:// URL, e.g. from a managed provider.
func DialURL(ctx context.Context, rawURL string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedis(client), nil
}

// Get retrieves and unwraps an envelope. A missing key or an entry whose
// envelope TTL elapsed reads as a miss.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, Meta, bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, Meta{}, false, nil
	}
	if err != nil {
		return nil, Meta{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Corrupt entry: drop it and report a miss.
		_ = r.client.Del(ctx, key).Err()
		return nil, Meta{}, false, nil
	}
	meta := Meta{
		Source:     env.Source,
		InsertedAt: env.InsertedAt,
		TTL:        time.Duration(env.TTLMillis) * time.Millisecond,
	}
	if meta.Remaining(r.clock()) <= 0 {
		return nil, Meta{}, false, nil
	}
	return env.Payload, meta, true, nil
}

// Set stores payload under key with the given TTL. Redis expiry mirrors
// the envelope TTL so stale entries also vanish server-side.
func (r *Redis) Set(ctx context.Context, key string, payload []byte, ttl time.Duration, source string) error {
	env := envelope{
		Payload:    payload,
		Source:     source,
		InsertedAt: r.clock(),
		TTLMillis:  ttl.Milliseconds(),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal cache envelope: %w", err)
	}
	if err := r.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// Scan returns keys matching prefix using cursor iteration.
func (r *Redis) Scan(ctx context.Context, prefix string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %s: %w", prefix, err)
		}
		out = append(out, keys...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// Health pings the server.
func (r *Redis) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	if c, ok := r.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

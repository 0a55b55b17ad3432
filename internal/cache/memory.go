package cache

import (
	"container/list"
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/marketdesk/marketdesk/internal/errs"
)

const memoryShards = 16

// DefaultMemoryCapacity bounds the L1 tier when no capacity is configured.
const DefaultMemoryCapacity = 4096

// Memory is the bounded in-process cache tier: sharded maps with LRU
// eviction and lazy TTL expiry.
type Memory struct {
	shards [memoryShards]*memoryShard
	clock  func() time.Time
}

type memoryShard struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
}

type memoryEntry struct {
	key     string
	payload []byte
	meta    Meta
}

// NewMemory creates an in-process cache holding at most capacity entries
// spread across shards.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	perShard := capacity / memoryShards
	if perShard < 1 {
		perShard = 1
	}
	m := &Memory{clock: time.Now}
	for i := range m.shards {
		m.shards[i] = &memoryShard{
			capacity: perShard,
			entries:  make(map[string]*list.Element),
			order:    list.New(),
		}
	}
	return m
}

func (m *Memory) shard(key string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%memoryShards]
}

// Get returns the payload for key, treating expired entries as misses.
// Expired entries stay resident for GetStale until Flush sweeps them.
func (m *Memory) Get(_ context.Context, key string) ([]byte, Meta, bool, error) {
	now := m.clock()
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return nil, Meta{}, false, nil
	}
	e := el.Value.(*memoryEntry)
	if e.meta.Remaining(now) <= 0 {
		return nil, Meta{}, false, nil
	}
	s.order.MoveToFront(el)
	return e.payload, e.meta, true, nil
}

// GetStale returns the payload even when the TTL has elapsed. Used by the
// explicit stale-read path; expired entries are not removed.
func (m *Memory) GetStale(_ context.Context, key string) ([]byte, Meta, bool, error) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return nil, Meta{}, false, nil
	}
	e := el.Value.(*memoryEntry)
	return e.payload, e.meta, true, nil
}

// Set stores payload under key, evicting the least recently used entry
// when the shard is full. Payloads over MaxMemoryPayload are refused.
func (m *Memory) Set(_ context.Context, key string, payload []byte, ttl time.Duration, source string) error {
	if len(payload) > MaxMemoryPayload {
		return errs.Newf(errs.KindInvalidInput, "payload of %d bytes exceeds in-process cache limit", len(payload))
	}
	now := m.clock()
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := Meta{Source: source, InsertedAt: now, TTL: ttl}
	if el, ok := s.entries[key]; ok {
		el.Value = &memoryEntry{key: key, payload: payload, meta: meta}
		s.order.MoveToFront(el)
		return nil
	}
	if s.order.Len() >= s.capacity {
		oldest := s.order.Back()
		if oldest != nil {
			s.order.Remove(oldest)
			delete(s.entries, oldest.Value.(*memoryEntry).key)
		}
	}
	s.entries[key] = s.order.PushFront(&memoryEntry{key: key, payload: payload, meta: meta})
	return nil
}

// Delete removes key if present.
func (m *Memory) Delete(_ context.Context, key string) error {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[key]; ok {
		s.order.Remove(el)
		delete(s.entries, key)
	}
	return nil
}

// Scan returns all unexpired keys with the given prefix.
func (m *Memory) Scan(_ context.Context, prefix string) ([]string, error) {
	now := m.clock()
	var out []string
	for _, s := range m.shards {
		s.mu.Lock()
		for key, el := range s.entries {
			if strings.HasPrefix(key, prefix) && el.Value.(*memoryEntry).meta.Remaining(now) > 0 {
				out = append(out, key)
			}
		}
		s.mu.Unlock()
	}
	return out, nil
}

// Health always succeeds for the in-process tier.
func (m *Memory) Health(context.Context) error { return nil }

// Flush removes all expired entries and returns how many were dropped.
func (m *Memory) Flush() int {
	now := m.clock()
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for key, el := range s.entries {
			if el.Value.(*memoryEntry).meta.Remaining(now) <= 0 {
				s.order.Remove(el)
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the live entry count across shards.
func (m *Memory) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += s.order.Len()
		s.mu.Unlock()
	}
	return n
}

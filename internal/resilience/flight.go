package resilience

import (
	"context"
	"sync"
)

// Flight coalesces concurrent fetches of the same cache key: at most one
// outbound fetch per key is in progress in this process. Waiters that
// arrive while a fetch is in flight park on its ticket and receive the
// same outcome. A waiter that cancels does not cancel the fetch unless it
// was the last one parked.
type Flight struct {
	mu    sync.Mutex
	calls map[string]*flightCall
}

type flightCall struct {
	waiters int
	done    chan struct{}
	cancel  context.CancelFunc
	val     interface{}
	err     error
}

// NewFlight creates an empty single-flight group.
func NewFlight() *Flight {
	return &Flight{calls: make(map[string]*flightCall)}
}

// Do returns the value produced by fn for key, coalescing concurrent
// calls. shared reports whether the result came from another caller's
// fetch. The fetch runs on a context detached from any single caller so
// one waiter's cancellation cannot abort work others depend on; when the
// last waiter cancels, the fetch context is cancelled too.
func (f *Flight) Do(ctx context.Context, key string, fn func(ctx context.Context) (interface{}, error)) (interface{}, bool, error) {
	f.mu.Lock()
	if c, ok := f.calls[key]; ok {
		c.waiters++
		f.mu.Unlock()
		return f.wait(ctx, key, c, true)
	}

	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &flightCall{
		waiters: 1,
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	f.calls[key] = c
	f.mu.Unlock()

	go func() {
		val, err := fn(fetchCtx)
		f.mu.Lock()
		c.val, c.err = val, err
		delete(f.calls, key)
		f.mu.Unlock()
		cancel()
		close(c.done)
	}()

	return f.wait(ctx, key, c, false)
}

// wait parks the caller on the ticket until the fetch resolves or the
// caller's own context is done.
func (f *Flight) wait(ctx context.Context, key string, c *flightCall, shared bool) (interface{}, bool, error) {
	select {
	case <-c.done:
		return c.val, shared, c.err
	case <-ctx.Done():
		f.mu.Lock()
		c.waiters--
		last := c.waiters == 0
		f.mu.Unlock()
		if last {
			c.cancel()
		}
		return nil, shared, ctx.Err()
	}
}

// InFlight reports whether a fetch for key is currently running.
func (f *Flight) InFlight(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.calls[key]
	return ok
}

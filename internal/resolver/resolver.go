// Package resolver orchestrates reads: cache tiers first, then the
// persistent store, then the provider cascade, with write-through on
// the way back. All upstream calls run through the resilience layer.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketdesk/marketdesk/internal/cache"
	"github.com/marketdesk/marketdesk/internal/config"
	"github.com/marketdesk/marketdesk/internal/errs"
	"github.com/marketdesk/marketdesk/internal/keys"
	"github.com/marketdesk/marketdesk/internal/providers"
	"github.com/marketdesk/marketdesk/internal/resilience"
	"github.com/marketdesk/marketdesk/internal/store"
)

// Observer receives per-call telemetry. Satisfied by the metrics
// registry; tests pass nil.
type Observer interface {
	ObserveProviderCall(provider, outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveProviderCall(string, string, time.Duration) {}

// Provenance describes where an answer came from.
type Provenance struct {
	Source    string    `json:"source"`     // provider name or source tag
	CacheTier string    `json:"cache_tier"` // "l1", "shared", "store", or "" for a live fetch
	FetchedAt time.Time `json:"fetched_at"`
	Partial   bool      `json:"partial,omitempty"`
	Note      string    `json:"note,omitempty"`
}

// Deps wires a Resolver.
type Deps struct {
	Markets  *keys.Registry
	Registry *providers.Registry
	Cache    *cache.Tiered
	Store    *store.Gateway
	Breakers *resilience.BreakerManager
	Retry    resilience.RetryConfig
	// RetryOverrides tunes retry per provider name; providers absent
	// from the map use Retry.
	RetryOverrides map[string]resilience.RetryConfig
	Flight         *resilience.Flight
	TTL            config.CachePolicy
	Observer       Observer
	Log            zerolog.Logger
	Clock          func() time.Time
}

// Resolver answers capability queries with cache tiering, store
// write-through, and provider fallback.
type Resolver struct {
	markets  *keys.Registry
	registry *providers.Registry
	cache    *cache.Tiered
	store    *store.Gateway
	breakers *resilience.BreakerManager
	retry    resilience.RetryConfig
	retryFor map[string]resilience.RetryConfig
	flight   *resilience.Flight
	ttl      config.CachePolicy
	observer Observer
	log      zerolog.Logger
	clock    func() time.Time
}

// New builds a Resolver. Nil optional deps get no-op substitutes.
func New(d Deps) *Resolver {
	if d.Observer == nil {
		d.Observer = nopObserver{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Flight == nil {
		d.Flight = resilience.NewFlight()
	}
	if d.Markets == nil {
		d.Markets = keys.NewRegistry()
	}
	return &Resolver{
		markets:  d.Markets,
		registry: d.Registry,
		cache:    d.Cache,
		store:    d.Store,
		breakers: d.Breakers,
		retry:    d.Retry,
		retryFor: d.RetryOverrides,
		flight:   d.Flight,
		ttl:      d.TTL,
		observer: d.Observer,
		log:      d.Log,
		clock:    d.Clock,
	}
}

// call runs one provider operation under its breaker with retry, and
// records the outcome.
func (r *Resolver) call(ctx context.Context, endpoint, provider string, fn func(context.Context) error) error {
	retry := r.retry
	if rc, ok := r.retryFor[provider]; ok {
		retry = rc
	}
	start := time.Now()
	err := r.breakers.Call(ctx, endpoint, func(ctx context.Context) error {
		return resilience.Retry(ctx, retry, fn)
	})
	outcome := "ok"
	if err != nil {
		outcome = errs.KindOf(err).String()
	}
	r.observer.ObserveProviderCall(provider, outcome, time.Since(start))
	return err
}

// attempt records one provider's failure during a cascade.
type attempt struct {
	name string
	err  error
}

// summarize folds a failed cascade into a single typed error. The
// distinction matters to callers: NotFound means every provider gave
// an authoritative "does not exist", while UpstreamUnavailable means
// at least one provider could not be asked properly.
func summarize(what string, attempts []attempt) error {
	if len(attempts) == 0 {
		return errs.Newf(errs.KindUpstreamUnavailable, "no providers registered for %s", what)
	}

	names := make([]string, 0, len(attempts))
	allNotFound, allInvalid := true, true
	for _, a := range attempts {
		names = append(names, a.name)
		if !errs.IsKind(a.err, errs.KindNotFound) {
			allNotFound = false
		}
		if !errs.IsKind(a.err, errs.KindInvalidInput) {
			allInvalid = false
		}
	}
	sort.Strings(names)
	tried := strings.Join(names, ", ")

	if allInvalid {
		// Every provider rejected the request itself; the caller's
		// arguments are the problem, not availability.
		return attempts[0].err
	}
	if allNotFound {
		return &errs.Error{
			Kind:    errs.KindNotFound,
			Message: fmt.Sprintf("%s not found (checked %s)", what, tried),
			Err:     attempts[0].err,
		}
	}
	e := &errs.Error{
		Kind:    errs.KindUpstreamUnavailable,
		Message: fmt.Sprintf("%s unavailable after trying %s", what, tried),
		Err:     attempts[len(attempts)-1].err,
	}
	// Surface the longest server-indicated wait so the caller can pass
	// it on.
	for _, a := range attempts {
		if d := errs.RetryAfterOf(a.err); d > e.RetryAfter {
			e.RetryAfter = d
		}
	}
	return e
}

// Symbol canonicalizes a raw ticker through the market registry.
func (r *Resolver) Symbol(raw string) (keys.CanonicalSymbol, error) {
	return r.markets.SymbolToMarket(raw)
}

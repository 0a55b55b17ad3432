package resolver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/marketdesk/marketdesk/internal/cache"
	"github.com/marketdesk/marketdesk/internal/errs"
	"github.com/marketdesk/marketdesk/internal/keys"
	"github.com/marketdesk/marketdesk/internal/providers"
	"github.com/marketdesk/marketdesk/internal/resilience"
	"github.com/marketdesk/marketdesk/internal/store"
)

// barsCoverageFraction is the share of weekdays in a range the store
// must hold before it can answer without going upstream. Holidays keep
// real coverage under 100%.
const barsCoverageFraction = 0.6

// barsResult is the cached/in-flight shape for a bars query.
type barsResult struct {
	Bars       []store.PriceBar `json:"bars"`
	Provenance Provenance       `json:"provenance"`
}

// Bars answers a daily-bars query for rawSymbol over [from, to].
func (r *Resolver) Bars(ctx context.Context, rawSymbol string, from, to time.Time, interval string) ([]store.PriceBar, Provenance, error) {
	sym, err := r.Symbol(rawSymbol)
	if err != nil {
		return nil, Provenance{}, err
	}
	if interval == "" {
		interval = "1d"
	}
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return nil, Provenance{}, errs.New(errs.KindInvalidInput, "bars range is empty or inverted")
	}

	key := keys.BarsKey(sym, from, to, interval)
	v, _, err := r.flight.Do(ctx, key, func(ctx context.Context) (interface{}, error) {
		return r.fetchBars(ctx, key, sym, from, to, interval)
	})
	if err != nil {
		return nil, Provenance{}, err
	}
	res := v.(*barsResult)
	return res.Bars, res.Provenance, nil
}

func (r *Resolver) fetchBars(ctx context.Context, key string, sym keys.CanonicalSymbol, from, to time.Time, interval string) (*barsResult, error) {
	if payload, meta, ok, _ := r.cache.Get(ctx, key); ok {
		if cache.IsNegative(meta) {
			return nil, errs.Newf(errs.KindNotFound, "no bars for %s in range (cached)", sym.Full())
		}
		var res barsResult
		if err := json.Unmarshal(payload, &res); err == nil {
			res.Provenance.CacheTier = "cache"
			return &res, nil
		}
		// Corrupt entry: drop it and fall through.
		_ = r.cache.Delete(ctx, key)
	}

	// The store can answer directly when it already covers the range.
	if rows, ok := r.barsFromStore(ctx, sym, from, to); ok {
		res := &barsResult{
			Bars: rows,
			Provenance: Provenance{
				Source:    "store",
				CacheTier: "store",
				FetchedAt: r.clock().UTC(),
			},
		}
		r.cacheBars(ctx, key, res)
		return res, nil
	}

	res, err := r.barsFromProviders(ctx, sym, from, to, interval)
	if err == nil {
		r.cacheBars(ctx, key, res)
		return res, nil
	}

	// Degraded answers: a stale cached entry first, then whatever the
	// store does have, both flagged partial. The chain refuses permanent
	// and genuine not-found errors itself.
	chain := resilience.NewFallbackChain(r.log,
		&staleBarsStrategy{r: r, key: key, symbol: sym.Full()},
		&storedBarsStrategy{r: r, sym: sym, from: from, to: to},
	)
	if v, ferr := chain.Execute(ctx, err); ferr == nil {
		return v.(*barsResult), nil
	}
	if errs.IsKind(err, errs.KindNotFound) {
		_ = cache.SetNegative(ctx, r.cache, key, cache.NegativeTTL)
	}
	return nil, err
}

// staleBarsStrategy re-serves the last cached answer past its TTL.
type staleBarsStrategy struct {
	r      *Resolver
	key    string
	symbol string
}

func (s *staleBarsStrategy) Name() string                    { return "stale-cache" }
func (s *staleBarsStrategy) CanExecute(context.Context) bool { return true }

func (s *staleBarsStrategy) Execute(ctx context.Context) (interface{}, error) {
	payload, meta, ok, _ := s.r.cache.GetStale(ctx, s.key)
	if !ok || cache.IsNegative(meta) {
		return nil, errs.Newf(errs.KindNotFound, "no stale cache entry for %s", s.symbol)
	}
	var res barsResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, err
	}
	res.Provenance.CacheTier = "cache"
	res.Provenance.Partial = true
	res.Provenance.Note = "providers unavailable; served last cached bars past their TTL"
	return &res, nil
}

// storedBarsStrategy answers from whatever rows the store holds.
type storedBarsStrategy struct {
	r        *Resolver
	sym      keys.CanonicalSymbol
	from, to time.Time
}

func (s *storedBarsStrategy) Name() string                    { return "stored-bars" }
func (s *storedBarsStrategy) CanExecute(context.Context) bool { return s.r.store != nil }

func (s *storedBarsStrategy) Execute(ctx context.Context) (interface{}, error) {
	rows, err := s.r.queryStoredBars(ctx, s.sym, s.from, s.to)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errs.Newf(errs.KindNotFound, "no stored bars for %s in range", s.sym.Full())
	}
	return &barsResult{
		Bars: rows,
		Provenance: Provenance{
			Source:    "store",
			CacheTier: "store",
			FetchedAt: s.r.clock().UTC(),
			Partial:   true,
			Note:      "providers unavailable; stored range may be incomplete",
		},
	}, nil
}

func (r *Resolver) barsFromProviders(ctx context.Context, sym keys.CanonicalSymbol, from, to time.Time, interval string) (*barsResult, error) {
	descs := r.registry.Descriptors(providers.CapBars)
	impls := r.registry.Bars()
	var attempts []attempt

	for i, p := range impls {
		var bars []providers.Bar
		endpoint := endpointFor(descs, i, p.Name())
		err := r.call(ctx, endpoint, p.Name(), func(ctx context.Context) error {
			var ferr error
			bars, ferr = p.GetBars(ctx, sym, providers.BarRange{From: from, To: to}, interval)
			return ferr
		})
		if err != nil {
			attempts = append(attempts, attempt{name: p.Name(), err: err})
			continue
		}

		rows := make([]store.PriceBar, 0, len(bars))
		for _, b := range bars {
			rows = append(rows, store.PriceBar{
				Symbol: sym.Full(),
				Date:   b.Date,
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: b.Volume,
			})
		}
		if r.store != nil {
			if err := r.store.Bars.BulkUpsert(ctx, rows); err != nil {
				r.log.Error().Err(err).Str("symbol", sym.Full()).Msg("bars write-through failed")
			}
		}
		return &barsResult{
			Bars: rows,
			Provenance: Provenance{
				Source:    p.Name(),
				FetchedAt: r.clock().UTC(),
			},
		}, nil
	}
	return nil, summarize("bars for "+sym.Full(), attempts)
}

// barsFromStore reports whether stored rows cover enough of the range
// to answer without an upstream call.
func (r *Resolver) barsFromStore(ctx context.Context, sym keys.CanonicalSymbol, from, to time.Time) ([]store.PriceBar, bool) {
	if r.store == nil {
		return nil, false
	}
	count, err := r.store.Bars.CoverageCount(ctx, sym.Full(), from, to)
	if err != nil || count == 0 {
		return nil, false
	}
	if float64(count) < float64(weekdaysIn(from, to))*barsCoverageFraction {
		return nil, false
	}
	rows, err := r.queryStoredBars(ctx, sym, from, to)
	if err != nil || len(rows) == 0 {
		return nil, false
	}
	return rows, true
}

func (r *Resolver) queryStoredBars(ctx context.Context, sym keys.CanonicalSymbol, from, to time.Time) ([]store.PriceBar, error) {
	// Providers return chronological rows; the store must match so the
	// answer (and anything cached from it) reads the same either way.
	return r.store.Bars.Query(ctx, store.BarQuery{
		Symbol:         sym.Full(),
		From:           from,
		To:             to,
		AscendingDates: true,
	})
}

func (r *Resolver) cacheBars(ctx context.Context, key string, res *barsResult) {
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, payload, r.ttl.Bars(), res.Provenance.Source); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("bars cache write failed")
	}
}

// weekdaysIn counts Mon-Fri days in [from, to].
func weekdaysIn(from, to time.Time) int {
	n := 0
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		switch d.Weekday() {
		case time.Saturday, time.Sunday:
		default:
			n++
		}
	}
	return n
}

// endpointFor picks the breaker identity for the i-th provider,
// falling back to the provider name when descriptors are out of step.
func endpointFor(descs []providers.Descriptor, i int, name string) string {
	if i < len(descs) && descs[i].Endpoint != "" {
		return descs[i].Endpoint
	}
	return name
}

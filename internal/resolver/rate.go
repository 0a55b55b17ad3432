package resolver

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/marketdesk/marketdesk/internal/cache"
	"github.com/marketdesk/marketdesk/internal/errs"
	"github.com/marketdesk/marketdesk/internal/keys"
	"github.com/marketdesk/marketdesk/internal/providers"
	"github.com/marketdesk/marketdesk/internal/store"
)

// RateAnswer is one resolved FX observation.
type RateAnswer struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	Date time.Time `json:"date"`
	Rate float64   `json:"rate"`
}

type rateResult struct {
	Answer     RateAnswer `json:"answer"`
	Provenance Provenance `json:"provenance"`
}

// Rate resolves the from/to exchange rate as of a date. Same-day
// requests must come from cache or a live provider; historical dates
// may be served from the store archive.
func (r *Resolver) Rate(ctx context.Context, from, to string, asOf time.Time) (RateAnswer, Provenance, error) {
	from, to = strings.ToUpper(strings.TrimSpace(from)), strings.ToUpper(strings.TrimSpace(to))
	if len(from) != 3 || len(to) != 3 {
		return RateAnswer{}, Provenance{}, errs.New(errs.KindInvalidInput, "currency codes must be 3 letters")
	}
	if asOf.IsZero() {
		asOf = r.clock().UTC()
	}
	if from == to {
		return RateAnswer{From: from, To: to, Date: asOf, Rate: 1},
			Provenance{Source: "identity", FetchedAt: r.clock().UTC()}, nil
	}

	key := keys.RateKey(from, to, asOf)
	v, _, err := r.flight.Do(ctx, key, func(ctx context.Context) (interface{}, error) {
		return r.fetchRate(ctx, key, from, to, asOf)
	})
	if err != nil {
		return RateAnswer{}, Provenance{}, err
	}
	res := v.(*rateResult)
	return res.Answer, res.Provenance, nil
}

func (r *Resolver) fetchRate(ctx context.Context, key, from, to string, asOf time.Time) (*rateResult, error) {
	if payload, meta, ok, _ := r.cache.Get(ctx, key); ok {
		if cache.IsNegative(meta) {
			return nil, errs.Newf(errs.KindNotFound, "no %s/%s rate for %s (cached)", from, to, asOf.Format("2006-01-02"))
		}
		var res rateResult
		if err := json.Unmarshal(payload, &res); err == nil {
			res.Provenance.CacheTier = "cache"
			return &res, nil
		}
		_ = r.cache.Delete(ctx, key)
	}

	// Historical dates are immutable facts; the archive answers them
	// without an upstream call. Today's rate must be fresh.
	sameDay := asOf.UTC().Truncate(24*time.Hour).Equal(r.clock().UTC().Truncate(24 * time.Hour))
	if !sameDay && r.store != nil {
		if row, err := r.store.Rates.Get(ctx, from, to, asOf); err == nil {
			res := &rateResult{
				Answer: RateAnswer{From: from, To: to, Date: row.RateDate, Rate: row.Rate},
				Provenance: Provenance{
					Source:    row.SourceTag,
					CacheTier: "store",
					FetchedAt: r.clock().UTC(),
				},
			}
			r.cacheRate(ctx, key, res)
			return res, nil
		}
	}

	res, err := r.rateFromProviders(ctx, from, to, asOf)
	if err == nil {
		if r.store != nil {
			if werr := r.store.Rates.Upsert(ctx, &store.ExchangeRate{
				FromCurrency: from,
				ToCurrency:   to,
				RateDate:     res.Answer.Date,
				Rate:         res.Answer.Rate,
				SourceTag:    res.Provenance.Source,
			}); werr != nil {
				r.log.Error().Err(werr).Msg("rate write-through failed")
			}
		}
		r.cacheRate(ctx, key, res)
		return res, nil
	}

	// Degraded same-day answer: yesterday's archived rate, flagged.
	if sameDay && errs.IsKind(err, errs.KindUpstreamUnavailable) && r.store != nil {
		if row, serr := r.store.Rates.Latest(ctx, from, to); serr == nil {
			r.log.Warn().Str("pair", from+"/"+to).Msg("serving stale rate from store, providers unavailable")
			return &rateResult{
				Answer: RateAnswer{From: from, To: to, Date: row.RateDate, Rate: row.Rate},
				Provenance: Provenance{
					Source:    row.SourceTag,
					CacheTier: "store",
					FetchedAt: r.clock().UTC(),
					Partial:   true,
					Note:      "providers unavailable; rate is from " + row.RateDate.Format("2006-01-02"),
				},
			}, nil
		}
	}
	if errs.IsKind(err, errs.KindNotFound) {
		_ = cache.SetNegative(ctx, r.cache, key, cache.NegativeTTL)
	}
	return nil, err
}

func (r *Resolver) rateFromProviders(ctx context.Context, from, to string, asOf time.Time) (*rateResult, error) {
	descs := r.registry.Descriptors(providers.CapRate)
	var attempts []attempt

	for i, p := range r.registry.Rates() {
		var rate float64
		var tag string
		endpoint := endpointFor(descs, i, p.Name())
		err := r.call(ctx, endpoint, p.Name(), func(ctx context.Context) error {
			var ferr error
			rate, tag, ferr = p.GetRate(ctx, from, to, asOf)
			return ferr
		})
		if err != nil {
			attempts = append(attempts, attempt{name: p.Name(), err: err})
			continue
		}
		return &rateResult{
			Answer: RateAnswer{From: from, To: to, Date: asOf.UTC().Truncate(24 * time.Hour), Rate: rate},
			Provenance: Provenance{
				Source:    tag,
				FetchedAt: r.clock().UTC(),
			},
		}, nil
	}
	return nil, summarize("rate "+from+"/"+to, attempts)
}

func (r *Resolver) cacheRate(ctx context.Context, key string, res *rateResult) {
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, payload, r.ttl.Rate(), res.Provenance.Source); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("rate cache write failed")
	}
}

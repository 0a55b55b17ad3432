package resolver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marketdesk/marketdesk/internal/cache"
	"github.com/marketdesk/marketdesk/internal/errs"
	"github.com/marketdesk/marketdesk/internal/keys"
	"github.com/marketdesk/marketdesk/internal/providers"
	"github.com/marketdesk/marketdesk/internal/store"
)

type transcriptResult struct {
	Transcript store.Transcript `json:"transcript"`
	Provenance Provenance       `json:"provenance"`
}

// Transcript resolves an earnings-call transcript. Stored transcripts
// are immutable: once the store has the row, it is the answer of
// record and providers are never re-queried unless RefreshTranscript
// forces it.
func (r *Resolver) Transcript(ctx context.Context, rawSymbol, rawQuarter string, fiscalYear int) (*store.Transcript, Provenance, error) {
	sym, quarter, err := r.transcriptArgs(rawSymbol, rawQuarter, fiscalYear)
	if err != nil {
		return nil, Provenance{}, err
	}

	key := keys.TranscriptKey(sym, quarter, fiscalYear)
	v, _, err := r.flight.Do(ctx, key, func(ctx context.Context) (interface{}, error) {
		return r.fetchTranscript(ctx, key, sym, quarter, fiscalYear)
	})
	if err != nil {
		return nil, Provenance{}, err
	}
	res := v.(*transcriptResult)
	return &res.Transcript, res.Provenance, nil
}

// RefreshTranscript re-fetches from providers and overwrites the
// stored row, dropping derived summaries and sentiment so they are
// rebuilt from the new text.
func (r *Resolver) RefreshTranscript(ctx context.Context, rawSymbol, rawQuarter string, fiscalYear int) (*store.Transcript, Provenance, error) {
	sym, quarter, err := r.transcriptArgs(rawSymbol, rawQuarter, fiscalYear)
	if err != nil {
		return nil, Provenance{}, err
	}

	res, ferr := r.transcriptFromProviders(ctx, sym, quarter, fiscalYear)
	if ferr != nil {
		return nil, Provenance{}, ferr
	}
	if r.store != nil {
		if err := r.store.Transcripts.Upsert(ctx, &res.Transcript, true); err != nil {
			return nil, Provenance{}, err
		}
		if res.Transcript.ID != 0 {
			if err := r.store.Transcripts.DeleteDerivatives(ctx, res.Transcript.ID); err != nil {
				r.log.Error().Err(err).Int64("transcript_id", res.Transcript.ID).
					Msg("dropping stale derivatives failed")
			}
		}
	}
	key := keys.TranscriptKey(sym, quarter, fiscalYear)
	_ = r.cache.Delete(ctx, key)
	r.cacheTranscript(ctx, key, res)
	return &res.Transcript, res.Provenance, nil
}

func (r *Resolver) transcriptArgs(rawSymbol, rawQuarter string, fiscalYear int) (keys.CanonicalSymbol, string, error) {
	sym, err := r.Symbol(rawSymbol)
	if err != nil {
		return keys.CanonicalSymbol{}, "", err
	}
	quarter, err := keys.NormalizeQuarter(rawQuarter)
	if err != nil {
		return keys.CanonicalSymbol{}, "", err
	}
	if err := keys.ValidateFiscalYear(fiscalYear, r.clock()); err != nil {
		return keys.CanonicalSymbol{}, "", err
	}
	return sym, quarter, nil
}

func (r *Resolver) fetchTranscript(ctx context.Context, key string, sym keys.CanonicalSymbol, quarter string, fiscalYear int) (*transcriptResult, error) {
	if payload, meta, ok, _ := r.cache.Get(ctx, key); ok {
		if cache.IsNegative(meta) {
			return nil, r.transcriptNotFound(sym, quarter, fiscalYear, nil)
		}
		var res transcriptResult
		if err := json.Unmarshal(payload, &res); err == nil {
			res.Provenance.CacheTier = "cache"
			return &res, nil
		}
		_ = r.cache.Delete(ctx, key)
	}

	if r.store != nil {
		if row, err := r.store.Transcripts.Get(ctx, sym.Full(), quarter, fiscalYear); err == nil {
			res := &transcriptResult{
				Transcript: *row,
				Provenance: Provenance{
					Source:    row.SourceTag,
					CacheTier: "store",
					FetchedAt: row.FetchedAt,
				},
			}
			r.cacheTranscript(ctx, key, res)
			return res, nil
		}
	}

	res, err := r.transcriptFromProviders(ctx, sym, quarter, fiscalYear)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			_ = cache.SetNegative(ctx, r.cache, key, cache.NegativeTTL)
		}
		return nil, err
	}

	if r.store != nil {
		if werr := r.store.Transcripts.Upsert(ctx, &res.Transcript, false); werr != nil {
			if errs.IsKind(werr, errs.KindInvalidInput) {
				// Raced with another writer between our store read and
				// now; the stored row is the contract of record.
				if row, gerr := r.store.Transcripts.Get(ctx, sym.Full(), quarter, fiscalYear); gerr == nil {
					res.Transcript = *row
					res.Provenance.Source = row.SourceTag
				}
			} else {
				r.log.Error().Err(werr).Str("symbol", sym.Full()).Msg("transcript write-through failed")
			}
		}
	}
	r.cacheTranscript(ctx, key, res)
	return res, nil
}

func (r *Resolver) transcriptFromProviders(ctx context.Context, sym keys.CanonicalSymbol, quarter string, fiscalYear int) (*transcriptResult, error) {
	descs := r.registry.Descriptors(providers.CapTranscript)
	var attempts []attempt

	for i, p := range r.registry.Transcripts() {
		var tr *providers.TranscriptResult
		endpoint := endpointFor(descs, i, p.Name())
		err := r.call(ctx, endpoint, p.Name(), func(ctx context.Context) error {
			var ferr error
			tr, ferr = p.GetTranscript(ctx, sym, quarter, fiscalYear)
			return ferr
		})
		if err != nil {
			attempts = append(attempts, attempt{name: p.Name(), err: err})
			continue
		}
		now := r.clock().UTC()
		return &transcriptResult{
			Transcript: store.Transcript{
				Ticker:     sym.Full(),
				Quarter:    quarter,
				FiscalYear: fiscalYear,
				Text:       tr.Text,
				SourceTag:  tr.SourceTag,
				SourceURL:  tr.SourceURL,
				WordCount:  tr.WordCount,
				FetchedAt:  now,
			},
			Provenance: Provenance{Source: tr.SourceTag, FetchedAt: now},
		}, nil
	}

	err := summarize(fmt.Sprintf("transcript %s %s FY%d", sym.Full(), quarter, fiscalYear), attempts)
	if errs.IsKind(err, errs.KindNotFound) {
		return nil, r.transcriptNotFound(sym, quarter, fiscalYear, err)
	}
	return nil, err
}

// transcriptNotFound attaches the likely-availability hint so callers
// can tell users when to ask again.
func (r *Resolver) transcriptNotFound(sym keys.CanonicalSymbol, quarter string, fiscalYear int, cause error) error {
	e := &errs.Error{
		Kind: errs.KindNotFound,
		Message: fmt.Sprintf("transcript %s %s FY%d not available from any source",
			sym.Full(), quarter, fiscalYear),
		Hint: "earnings-call transcripts are usually published two to six weeks after the quarter closes",
		Err:  cause,
	}
	return e
}

func (r *Resolver) cacheTranscript(ctx context.Context, key string, res *transcriptResult) {
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, payload, r.ttl.Transcript(), res.Provenance.Source); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("transcript cache write failed")
	}
}

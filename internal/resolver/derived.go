package resolver

import (
	"context"
	"encoding/json"

	"github.com/marketdesk/marketdesk/internal/cache"
	"github.com/marketdesk/marketdesk/internal/errs"
	"github.com/marketdesk/marketdesk/internal/keys"
	"github.com/marketdesk/marketdesk/internal/providers"
	"github.com/marketdesk/marketdesk/internal/store"
)

// Summary answers a transcript summary in the given mode. Derivatives
// are rebuildable, so the order is cache, stored derivative, then a
// model call over the resolved base transcript.
func (r *Resolver) Summary(ctx context.Context, rawSymbol, rawQuarter string, fiscalYear int, mode string) (*providers.Summary, Provenance, error) {
	switch mode {
	case "":
		mode = providers.SummaryModeBrief
	case providers.SummaryModeBrief, providers.SummaryModeDetailed, providers.SummaryModeInvestor:
	default:
		return nil, Provenance{}, errs.Newf(errs.KindInvalidInput, "unknown summary mode %q", mode)
	}

	sym, quarter, err := r.transcriptArgs(rawSymbol, rawQuarter, fiscalYear)
	if err != nil {
		return nil, Provenance{}, err
	}
	key := keys.SummaryKey(sym, quarter, fiscalYear, mode)

	v, _, err := r.flight.Do(ctx, key, func(ctx context.Context) (interface{}, error) {
		var out providers.Summary
		prov, derr := r.fetchDerived(ctx, derivedSpec{
			key:        key,
			kind:       store.DerivativeSummary,
			mode:       mode,
			sym:        sym,
			quarter:    quarter,
			fiscalYear: fiscalYear,
			compute: func(ctx context.Context, text string) (interface{}, string, error) {
				return r.summarizeText(ctx, text, mode)
			},
		}, &out)
		if derr != nil {
			return nil, derr
		}
		return &derivedAnswer[providers.Summary]{Value: out, Prov: prov}, nil
	})
	if err != nil {
		return nil, Provenance{}, err
	}
	ans := v.(*derivedAnswer[providers.Summary])
	return &ans.Value, ans.Prov, nil
}

// Sentiment answers the management-tone score for a transcript.
func (r *Resolver) Sentiment(ctx context.Context, rawSymbol, rawQuarter string, fiscalYear int) (*providers.Sentiment, Provenance, error) {
	sym, quarter, err := r.transcriptArgs(rawSymbol, rawQuarter, fiscalYear)
	if err != nil {
		return nil, Provenance{}, err
	}
	key := keys.SentimentKey(sym, quarter, fiscalYear)

	v, _, err := r.flight.Do(ctx, key, func(ctx context.Context) (interface{}, error) {
		var out providers.Sentiment
		prov, derr := r.fetchDerived(ctx, derivedSpec{
			key:        key,
			kind:       store.DerivativeSentiment,
			mode:       "",
			sym:        sym,
			quarter:    quarter,
			fiscalYear: fiscalYear,
			compute: func(ctx context.Context, text string) (interface{}, string, error) {
				return r.scoreSentiment(ctx, text)
			},
		}, &out)
		if derr != nil {
			return nil, derr
		}
		return &derivedAnswer[providers.Sentiment]{Value: out, Prov: prov}, nil
	})
	if err != nil {
		return nil, Provenance{}, err
	}
	ans := v.(*derivedAnswer[providers.Sentiment])
	return &ans.Value, ans.Prov, nil
}

type derivedAnswer[T any] struct {
	Value T
	Prov  Provenance
}

type derivedSpec struct {
	key        string
	kind       string
	mode       string
	sym        keys.CanonicalSymbol
	quarter    string
	fiscalYear int
	compute    func(ctx context.Context, transcriptText string) (value interface{}, modelTag string, err error)
}

type derivedEnvelope struct {
	Payload    json.RawMessage `json:"payload"`
	Provenance Provenance      `json:"provenance"`
}

// fetchDerived is the shared cache/store/compute path for summary and
// sentiment. out receives the decoded payload.
func (r *Resolver) fetchDerived(ctx context.Context, spec derivedSpec, out interface{}) (Provenance, error) {
	if payload, meta, ok, _ := r.cache.Get(ctx, spec.key); ok && !cache.IsNegative(meta) {
		var env derivedEnvelope
		if err := json.Unmarshal(payload, &env); err == nil {
			if err := json.Unmarshal(env.Payload, out); err == nil {
				env.Provenance.CacheTier = "cache"
				return env.Provenance, nil
			}
		}
		_ = r.cache.Delete(ctx, spec.key)
	}

	// The base transcript resolves through its own full cascade.
	transcript, _, err := r.Transcript(ctx, spec.sym.Full(), spec.quarter, spec.fiscalYear)
	if err != nil {
		return Provenance{}, err
	}

	if r.store != nil && transcript.ID != 0 {
		if d, derr := r.store.Transcripts.GetDerivative(ctx, transcript.ID, spec.kind, spec.mode); derr == nil {
			if err := json.Unmarshal(d.Payload, out); err == nil {
				prov := Provenance{Source: d.ModelTag, CacheTier: "store", FetchedAt: d.UpdatedAt}
				r.cacheDerived(ctx, spec.key, d.Payload, prov)
				return prov, nil
			}
		}
	}

	value, modelTag, err := spec.compute(ctx, transcript.Text)
	if err != nil {
		return Provenance{}, err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return Provenance{}, errs.Wrap(errs.KindUnknown, "encoding derived payload", err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return Provenance{}, errs.Wrap(errs.KindUnknown, "decoding derived payload", err)
	}

	prov := Provenance{Source: modelTag, FetchedAt: r.clock().UTC()}
	if r.store != nil && transcript.ID != 0 {
		if werr := r.store.Transcripts.UpsertDerivative(ctx, &store.TranscriptDerivative{
			TranscriptID: transcript.ID,
			Kind:         spec.kind,
			Mode:         spec.mode,
			Payload:      payload,
			ModelTag:     modelTag,
		}); werr != nil {
			r.log.Error().Err(werr).Str("kind", spec.kind).Msg("derivative write-through failed")
		}
	}
	r.cacheDerived(ctx, spec.key, payload, prov)
	return prov, nil
}

func (r *Resolver) cacheDerived(ctx context.Context, key string, payload json.RawMessage, prov Provenance) {
	env, err := json.Marshal(derivedEnvelope{Payload: payload, Provenance: prov})
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, env, r.ttl.Derived(), prov.Source); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("derived cache write failed")
	}
}

func (r *Resolver) summarizeText(ctx context.Context, text, mode string) (interface{}, string, error) {
	descs := r.registry.Descriptors(providers.CapSummary)
	var attempts []attempt
	for i, p := range r.registry.Summarizers() {
		var s *providers.Summary
		endpoint := endpointFor(descs, i, p.Name())
		err := r.call(ctx, endpoint, p.Name(), func(ctx context.Context) error {
			var ferr error
			s, ferr = p.Summarize(ctx, text, mode)
			return ferr
		})
		if err != nil {
			attempts = append(attempts, attempt{name: p.Name(), err: err})
			continue
		}
		return s, s.ModelTag, nil
	}
	return nil, "", summarize("summary", attempts)
}

func (r *Resolver) scoreSentiment(ctx context.Context, text string) (interface{}, string, error) {
	descs := r.registry.Descriptors(providers.CapSentiment)
	var attempts []attempt
	for i, p := range r.registry.SentimentScorers() {
		var s *providers.Sentiment
		endpoint := endpointFor(descs, i, p.Name())
		err := r.call(ctx, endpoint, p.Name(), func(ctx context.Context) error {
			var ferr error
			s, ferr = p.Score(ctx, text)
			return ferr
		})
		if err != nil {
			attempts = append(attempts, attempt{name: p.Name(), err: err})
			continue
		}
		return s, s.ModelTag, nil
	}
	return nil, "", summarize("sentiment", attempts)
}

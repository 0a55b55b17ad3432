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
)

type newsResult struct {
	Articles   []providers.Article `json:"articles"`
	Provenance Provenance          `json:"provenance"`
}

// News fetches recent articles for a query. News has no store tier:
// it is inherently ephemeral, so the cascade is cache then providers.
func (r *Resolver) News(ctx context.Context, query string, window time.Duration, limit int) ([]providers.Article, Provenance, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, Provenance{}, errs.New(errs.KindInvalidInput, "news query is empty")
	}
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	if limit <= 0 {
		limit = 10
	}

	key := keys.NewsKey(query, window, limit)
	v, _, err := r.flight.Do(ctx, key, func(ctx context.Context) (interface{}, error) {
		return r.fetchNews(ctx, key, query, window, limit)
	})
	if err != nil {
		return nil, Provenance{}, err
	}
	res := v.(*newsResult)
	return res.Articles, res.Provenance, nil
}

func (r *Resolver) fetchNews(ctx context.Context, key, query string, window time.Duration, limit int) (*newsResult, error) {
	if payload, meta, ok, _ := r.cache.Get(ctx, key); ok {
		if cache.IsNegative(meta) {
			return nil, errs.New(errs.KindNotFound, "no recent articles for query (cached)")
		}
		var res newsResult
		if err := json.Unmarshal(payload, &res); err == nil {
			res.Provenance.CacheTier = "cache"
			return &res, nil
		}
		_ = r.cache.Delete(ctx, key)
	}

	descs := r.registry.Descriptors(providers.CapNews)
	var attempts []attempt
	for i, p := range r.registry.News() {
		var articles []providers.Article
		endpoint := endpointFor(descs, i, p.Name())
		err := r.call(ctx, endpoint, p.Name(), func(ctx context.Context) error {
			var ferr error
			articles, ferr = p.GetArticles(ctx, query, window, limit)
			return ferr
		})
		if err != nil {
			attempts = append(attempts, attempt{name: p.Name(), err: err})
			continue
		}

		res := &newsResult{
			Articles:   dedupeArticles(articles, limit),
			Provenance: Provenance{Source: p.Name(), FetchedAt: r.clock().UTC()},
		}
		payload, merr := json.Marshal(res)
		if merr == nil {
			if cerr := r.cache.Set(ctx, key, payload, r.ttl.News(), p.Name()); cerr != nil {
				r.log.Warn().Err(cerr).Str("key", key).Msg("news cache write failed")
			}
		}
		return res, nil
	}

	err := summarize("news for "+query, attempts)
	if errs.IsKind(err, errs.KindNotFound) {
		_ = cache.SetNegative(ctx, r.cache, key, cache.NegativeTTL)
	}
	return nil, err
}

// dedupeArticles drops repeated URLs, keeping the first occurrence, and
// trims to limit. Providers sometimes return the same story under
// tracking-parameter variants, so only scheme-insensitive exact repeats
// are collapsed.
func dedupeArticles(in []providers.Article, limit int) []providers.Article {
	seen := make(map[string]struct{}, len(in))
	out := make([]providers.Article, 0, len(in))
	for _, a := range in {
		u := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(a.URL), "/"))
		u = strings.TrimPrefix(strings.TrimPrefix(u, "https://"), "http://")
		if u != "" {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
		}
		out = append(out, a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

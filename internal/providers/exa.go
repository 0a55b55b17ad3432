package providers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketdesk/marketdesk/internal/errs"
)

const exaBaseURL = "https://api.exa.ai"

// Exa is the secondary news source and the primary semantic searcher.
type Exa struct {
	http *httpClient
}

func NewExa(apiKey string, log zerolog.Logger) *Exa {
	return &Exa{
		http: newHTTPClient("exa", exaBaseURL, httpClientOpts{
			RPS:   2,
			Burst: 4,
			Headers: map[string]string{
				"x-api-key": apiKey,
			},
		}, log),
	}
}

func (e *Exa) Name() string { return "exa" }

func (e *Exa) SetRateLimit(rps float64, burst int) { e.http.SetRateLimit(rps, burst) }

type exaSearchReq struct {
	Query              string          `json:"query"`
	Type               string          `json:"type,omitempty"`
	Category           string          `json:"category,omitempty"`
	NumResults         int             `json:"numResults,omitempty"`
	StartPublishedDate string          `json:"startPublishedDate,omitempty"`
	Contents           exaContentsSpec `json:"contents"`
}

type exaContentsSpec struct {
	Text bool `json:"text"`
}

type exaSearchResp struct {
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Text          string  `json:"text"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"publishedDate"`
	} `json:"results"`
}

func (e *Exa) GetArticles(ctx context.Context, query string, window time.Duration, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = 10
	}
	req := exaSearchReq{
		Query:      query,
		Type:       "neural",
		Category:   "news",
		NumResults: limit,
		Contents:   exaContentsSpec{Text: true},
	}
	if window > 0 {
		req.StartPublishedDate = time.Now().UTC().Add(-window).Format(time.RFC3339)
	}

	var resp exaSearchResp
	if err := e.http.postJSON(ctx, "/search", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, errs.FromProvider(errs.KindNotFound, e.Name(), "no articles for query", nil)
	}

	out := make([]Article, 0, len(resp.Results))
	for _, r := range resp.Results {
		a := Article{
			Title:   r.Title,
			URL:     r.URL,
			Source:  "exa",
			Snippet: snippet(r.Text, 400),
		}
		if ts, err := time.Parse(time.RFC3339, r.PublishedDate); err == nil {
			a.PublishedAt = ts.UTC()
		}
		out = append(out, a)
	}
	return out, nil
}

func (e *Exa) TopK(ctx context.Context, query string, k int, corpusID string) ([]ScoredChunk, error) {
	if k <= 0 {
		k = 5
	}
	q := query
	if corpusID != "" {
		q = corpusID + " " + query
	}

	var resp exaSearchResp
	err := e.http.postJSON(ctx, "/search", exaSearchReq{
		Query:      q,
		Type:       "neural",
		NumResults: k,
		Contents:   exaContentsSpec{Text: true},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, errs.FromProvider(errs.KindNotFound, e.Name(), "no hits for query", nil)
	}

	out := make([]ScoredChunk, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, ScoredChunk{Text: snippet(r.Text, 1000), URL: r.URL, Score: r.Score})
	}
	return out, nil
}

func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

package providers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketdesk/marketdesk/internal/errs"
)

const tavilyBaseURL = "https://api.tavily.com"

// Tavily is the primary news source and the secondary semantic
// searcher for ad-hoc transcript questions.
type Tavily struct {
	http   *httpClient
	apiKey string
}

func NewTavily(apiKey string, log zerolog.Logger) *Tavily {
	return &Tavily{
		http: newHTTPClient("tavily", tavilyBaseURL, httpClientOpts{
			RPS:   2,
			Burst: 4,
		}, log),
		apiKey: apiKey,
	}
}

func (t *Tavily) Name() string { return "tavily" }

func (t *Tavily) SetRateLimit(rps float64, burst int) { t.http.SetRateLimit(rps, burst) }

type tavilySearchReq struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	Topic      string `json:"topic,omitempty"`
	Days       int    `json:"days,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

type tavilySearchResp struct {
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"published_date"`
	} `json:"results"`
}

func (t *Tavily) GetArticles(ctx context.Context, query string, window time.Duration, limit int) ([]Article, error) {
	days := int(window.Hours() / 24)
	if days < 1 {
		days = 1
	}
	if limit <= 0 {
		limit = 10
	}

	var resp tavilySearchResp
	err := t.http.postJSON(ctx, "/search", tavilySearchReq{
		APIKey:     t.apiKey,
		Query:      query,
		Topic:      "news",
		Days:       days,
		MaxResults: limit,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, errs.FromProvider(errs.KindNotFound, t.Name(),
			"no articles for query", nil)
	}

	out := make([]Article, 0, len(resp.Results))
	for _, r := range resp.Results {
		a := Article{
			Title:   r.Title,
			URL:     r.URL,
			Source:  "tavily",
			Snippet: r.Content,
		}
		if ts, err := time.Parse(time.RFC3339, r.PublishedDate); err == nil {
			a.PublishedAt = ts.UTC()
		}
		out = append(out, a)
	}
	return out, nil
}

// TopK runs a generic (non-news) search and returns scored snippets.
// corpusID narrows the query; Tavily has no corpus notion, so it is
// folded into the query text.
func (t *Tavily) TopK(ctx context.Context, query string, k int, corpusID string) ([]ScoredChunk, error) {
	if k <= 0 {
		k = 5
	}
	q := query
	if corpusID != "" {
		q = corpusID + " " + query
	}

	var resp tavilySearchResp
	err := t.http.postJSON(ctx, "/search", tavilySearchReq{
		APIKey:     t.apiKey,
		Query:      q,
		MaxResults: k,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, errs.FromProvider(errs.KindNotFound, t.Name(), "no hits for query", nil)
	}

	out := make([]ScoredChunk, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, ScoredChunk{Text: r.Content, URL: r.URL, Score: r.Score})
	}
	return out, nil
}

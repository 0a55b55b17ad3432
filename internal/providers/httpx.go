package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/marketdesk/marketdesk/internal/errs"
)

const defaultHTTPTimeout = 15 * time.Second

// maxErrorBody bounds how much of an upstream error response we read
// for diagnostics.
const maxErrorBody = 2048

// httpClient wraps net/http with a per-provider token bucket and the
// shared status-code taxonomy. All vendor adapters go through it so
// throttling and classification behave the same everywhere.
type httpClient struct {
	provider string
	base     string
	client   *http.Client
	limiter  *rate.Limiter
	log      zerolog.Logger
	headers  map[string]string
}

type httpClientOpts struct {
	Timeout time.Duration
	RPS     float64
	Burst   int
	Headers map[string]string
}

func newHTTPClient(provider, base string, opts httpClientOpts, log zerolog.Logger) *httpClient {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultHTTPTimeout
	}
	if opts.RPS <= 0 {
		opts.RPS = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = int(opts.RPS)
		if opts.Burst < 1 {
			opts.Burst = 1
		}
	}
	return &httpClient{
		provider: provider,
		base:     base,
		client:   &http.Client{Timeout: opts.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		log:      log.With().Str("provider", provider).Logger(),
		headers:  opts.Headers,
	}
}

// SetRateLimit retunes the token bucket, e.g. from the provider policy
// file. Zero or negative rps leaves the bucket unchanged.
func (c *httpClient) SetRateLimit(rps float64, burst int) {
	if rps <= 0 {
		return
	}
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	c.limiter.SetLimit(rate.Limit(rps))
	c.limiter.SetBurst(burst)
}

// getJSON issues GET base+path?query and decodes the body into out.
// The limiter wait counts toward the caller's deadline.
func (c *httpClient) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	body, err := c.get(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errs.FromProvider(errs.KindPermanent, c.provider,
			fmt.Sprintf("malformed response for %s", path), err)
	}
	return nil
}

// get returns the raw response body, classifying HTTP failures.
func (c *httpClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errs.FromProvider(errs.KindTransient, c.provider, "rate limiter wait aborted", err)
	}

	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errs.FromProvider(errs.KindInvalidInput, c.provider, "building request", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	return c.do(req)
}

// postJSON issues POST base+path with a JSON body and decodes into out.
func (c *httpClient) postJSON(ctx context.Context, path string, payload, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errs.FromProvider(errs.KindTransient, c.provider, "rate limiter wait aborted", err)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return errs.FromProvider(errs.KindInvalidInput, c.provider, "encoding request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(raw))
	if err != nil {
		return errs.FromProvider(errs.KindInvalidInput, c.provider, "building request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	body, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errs.FromProvider(errs.KindPermanent, c.provider,
			fmt.Sprintf("malformed response for %s", path), err)
	}
	return nil
}

func (c *httpClient) do(req *http.Request) ([]byte, error) {
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, errs.FromProvider(errs.KindTransient, c.provider, "request aborted", ctxErr)
		}
		return nil, errs.FromProvider(errs.KindTransient, c.provider, "network failure", err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("upstream call")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errs.FromProvider(errs.KindTransient, c.provider, "reading response", err)
		}
		return body, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	kind := errs.ClassifyHTTPStatus(resp.StatusCode)
	e := errs.FromProvider(kind, c.provider,
		fmt.Sprintf("%s returned %d", req.URL.Path, resp.StatusCode), nil)
	if len(snippet) > 0 {
		e.Hint = string(snippet)
	}
	if kind == errs.KindQuotaExceeded {
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return nil, e
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

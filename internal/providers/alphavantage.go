package providers

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketdesk/marketdesk/internal/errs"
	"github.com/marketdesk/marketdesk/internal/keys"
)

const alphaVantageBaseURL = "https://www.alphavantage.co"

// AlphaVantage is the secondary daily-bars source. The free tier is
// heavily throttled; the API reports quota exhaustion inside a 200
// response, so the adapter inspects the body as well as the status.
type AlphaVantage struct {
	http   *httpClient
	apiKey string
}

func NewAlphaVantage(apiKey string, log zerolog.Logger) *AlphaVantage {
	return &AlphaVantage{
		http: newHTTPClient("alphavantage", alphaVantageBaseURL, httpClientOpts{
			RPS:   0.2, // 5/min free tier
			Burst: 1,
		}, log),
		apiKey: apiKey,
	}
}

func (a *AlphaVantage) Name() string { return "alphavantage" }

func (a *AlphaVantage) SetRateLimit(rps float64, burst int) { a.http.SetRateLimit(rps, burst) }

type alphaVantageDaily struct {
	ErrorMessage string                       `json:"Error Message"`
	Note         string                       `json:"Note"`
	Information  string                       `json:"Information"`
	Series       map[string]map[string]string `json:"Time Series (Daily)"`
}

func (a *AlphaVantage) GetBars(ctx context.Context, sym keys.CanonicalSymbol, r BarRange, interval string) ([]Bar, error) {
	if interval != "" && interval != "1d" {
		return nil, errs.FromProvider(errs.KindInvalidInput, a.Name(),
			fmt.Sprintf("interval %q not supported, only 1d", interval), nil)
	}

	q := url.Values{}
	q.Set("function", "TIME_SERIES_DAILY")
	q.Set("symbol", sym.Full())
	q.Set("outputsize", "full")
	q.Set("apikey", a.apiKey)

	var resp alphaVantageDaily
	if err := a.http.getJSON(ctx, "/query", q, &resp); err != nil {
		return nil, err
	}
	switch {
	case resp.ErrorMessage != "":
		return nil, errs.FromProvider(errs.KindNotFound, a.Name(), resp.ErrorMessage, nil)
	case resp.Note != "" || strings.Contains(resp.Information, "rate limit"):
		msg := resp.Note
		if msg == "" {
			msg = resp.Information
		}
		return nil, &errs.Error{
			Kind:       errs.KindQuotaExceeded,
			Provider:   a.Name(),
			Message:    msg,
			RetryAfter: time.Minute,
		}
	case len(resp.Series) == 0:
		return nil, errs.FromProvider(errs.KindNotFound, a.Name(),
			"empty time series for "+sym.Full(), nil)
	}

	bars := make([]Bar, 0, len(resp.Series))
	for day, fields := range resp.Series {
		ts, err := time.Parse("2006-01-02", day)
		if err != nil {
			continue
		}
		if ts.Before(r.From) || ts.After(r.To) {
			continue
		}
		bar := Bar{Date: ts.UTC()}
		bar.Open, _ = strconv.ParseFloat(fields["1. open"], 64)
		bar.High, _ = strconv.ParseFloat(fields["2. high"], 64)
		bar.Low, _ = strconv.ParseFloat(fields["3. low"], 64)
		bar.Close, _ = strconv.ParseFloat(fields["4. close"], 64)
		bar.Volume, _ = strconv.ParseInt(fields["5. volume"], 10, 64)
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, errs.FromProvider(errs.KindNotFound, a.Name(),
			fmt.Sprintf("no bars for %s in range", sym.Full()), nil)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

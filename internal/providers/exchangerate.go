package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketdesk/marketdesk/internal/errs"
)

const exchangeRateAPIBaseURL = "https://v6.exchangerate-api.com"

// ExchangeRateAPI is the primary FX source. It only serves the latest
// snapshot, so historical asOf dates are declined and the resolver
// falls through to providers with history.
type ExchangeRateAPI struct {
	http   *httpClient
	apiKey string
	now    func() time.Time
}

func NewExchangeRateAPI(apiKey string, log zerolog.Logger) *ExchangeRateAPI {
	return &ExchangeRateAPI{
		http: newHTTPClient("exchangerate-api", exchangeRateAPIBaseURL, httpClientOpts{
			RPS:   2,
			Burst: 4,
		}, log),
		apiKey: apiKey,
		now:    time.Now,
	}
}

func (e *ExchangeRateAPI) Name() string { return "exchangerate-api" }

func (e *ExchangeRateAPI) SetRateLimit(rps float64, burst int) { e.http.SetRateLimit(rps, burst) }

type exchangeRateResp struct {
	Result          string  `json:"result"`
	ErrorType       string  `json:"error-type"`
	BaseCode        string  `json:"base_code"`
	TargetCode      string  `json:"target_code"`
	ConversionRate  float64 `json:"conversion_rate"`
	TimeLastUpdated int64   `json:"time_last_update_unix"`
}

func (e *ExchangeRateAPI) GetRate(ctx context.Context, from, to string, asOf time.Time) (float64, string, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	today := e.now().UTC().Truncate(24 * time.Hour)
	if asOf.UTC().Truncate(24 * time.Hour).Before(today) {
		return 0, "", errs.FromProvider(errs.KindNotFound, e.Name(),
			"historical rates not available on this plan", nil)
	}

	path := fmt.Sprintf("/v6/%s/pair/%s/%s", url.PathEscape(e.apiKey), url.PathEscape(from), url.PathEscape(to))
	var resp exchangeRateResp
	if err := e.http.getJSON(ctx, path, nil, &resp); err != nil {
		return 0, "", err
	}
	if resp.Result != "success" {
		kind := errs.KindPermanent
		switch resp.ErrorType {
		case "unsupported-code", "unknown-code":
			kind = errs.KindNotFound
		case "quota-reached":
			kind = errs.KindQuotaExceeded
		}
		return 0, "", errs.FromProvider(kind, e.Name(),
			fmt.Sprintf("%s/%s: %s", from, to, resp.ErrorType), nil)
	}
	if resp.ConversionRate <= 0 {
		return 0, "", errs.FromProvider(errs.KindPermanent, e.Name(),
			fmt.Sprintf("non-positive rate for %s/%s", from, to), nil)
	}
	return resp.ConversionRate, "exchangerate-api", nil
}

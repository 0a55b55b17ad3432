package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketdesk/marketdesk/internal/errs"
	"github.com/marketdesk/marketdesk/internal/keys"
)

const tiingoBaseURL = "https://api.tiingo.com"

// Tiingo serves daily OHLCV bars and is the secondary FX source.
type Tiingo struct {
	http *httpClient
}

// NewTiingo builds a client. The free tier allows ~50 req/hour so the
// bucket is deliberately small.
func NewTiingo(apiKey string, log zerolog.Logger) *Tiingo {
	return &Tiingo{
		http: newHTTPClient("tiingo", tiingoBaseURL, httpClientOpts{
			RPS:   1,
			Burst: 2,
			Headers: map[string]string{
				"Authorization": "Token " + apiKey,
			},
		}, log),
	}
}

func (t *Tiingo) Name() string { return "tiingo" }

func (t *Tiingo) SetRateLimit(rps float64, burst int) { t.http.SetRateLimit(rps, burst) }

type tiingoBar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// GetBars fetches daily bars. Tiingo has no intraday on the EOD
// endpoint, so any interval other than 1d is rejected up front.
func (t *Tiingo) GetBars(ctx context.Context, sym keys.CanonicalSymbol, r BarRange, interval string) ([]Bar, error) {
	if interval != "" && interval != "1d" {
		return nil, errs.FromProvider(errs.KindInvalidInput, t.Name(),
			fmt.Sprintf("interval %q not supported, only 1d", interval), nil)
	}

	q := url.Values{}
	q.Set("startDate", r.From.Format("2006-01-02"))
	q.Set("endDate", r.To.Format("2006-01-02"))

	var rows []tiingoBar
	path := "/tiingo/daily/" + url.PathEscape(strings.ToLower(sym.Symbol)) + "/prices"
	if err := t.http.getJSON(ctx, path, q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errs.FromProvider(errs.KindNotFound, t.Name(),
			fmt.Sprintf("no bars for %s in range", sym.Full()), nil)
	}

	bars := make([]Bar, 0, len(rows))
	for _, row := range rows {
		ts, err := time.Parse(time.RFC3339, row.Date)
		if err != nil {
			return nil, errs.FromProvider(errs.KindPermanent, t.Name(), "unparseable bar date "+row.Date, err)
		}
		bars = append(bars, Bar{
			Date:   ts.UTC().Truncate(24 * time.Hour),
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: row.Volume,
		})
	}
	return bars, nil
}

type tiingoFXRow struct {
	Date     string  `json:"date"`
	MidPrice float64 `json:"midPrice"`
}

// GetRate resolves from/to via the FX resample endpoint, taking the
// last mid price at or before asOf.
func (t *Tiingo) GetRate(ctx context.Context, from, to string, asOf time.Time) (float64, string, error) {
	pair := strings.ToLower(from + to)
	q := url.Values{}
	q.Set("startDate", asOf.AddDate(0, 0, -7).Format("2006-01-02"))
	q.Set("resampleFreq", "1day")

	var rows []tiingoFXRow
	if err := t.http.getJSON(ctx, "/tiingo/fx/"+url.PathEscape(pair)+"/prices", q, &rows); err != nil {
		return 0, "", err
	}

	var best float64
	var bestAt time.Time
	for _, row := range rows {
		ts, err := time.Parse(time.RFC3339, row.Date)
		if err != nil {
			continue
		}
		if ts.After(asOf) {
			continue
		}
		if bestAt.IsZero() || ts.After(bestAt) {
			best, bestAt = row.MidPrice, ts
		}
	}
	if bestAt.IsZero() || best <= 0 {
		return 0, "", errs.FromProvider(errs.KindNotFound, t.Name(),
			fmt.Sprintf("no %s/%s rate at or before %s", from, to, asOf.Format("2006-01-02")), nil)
	}
	return best, "tiingo-fx", nil
}

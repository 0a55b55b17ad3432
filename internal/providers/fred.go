package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketdesk/marketdesk/internal/errs"
)

const fredBaseURL = "https://api.stlouisfed.org"

// seriesByPair maps currency pairs to FRED daily exchange-rate series.
// FRED quotes some pairs inverted (units per USD), flagged here.
var seriesByPair = map[string]struct {
	ID       string
	Inverted bool
}{
	"USD/INR": {ID: "DEXINUS", Inverted: false},
	"USD/EUR": {ID: "DEXUSEU", Inverted: true},
	"USD/GBP": {ID: "DEXUSUK", Inverted: true},
	"USD/JPY": {ID: "DEXJPUS", Inverted: false},
	"USD/CAD": {ID: "DEXCAUS", Inverted: false},
}

// FRED is the tertiary FX source and the macro-series source for
// screening snapshots. Rates lag a business day but the archive is
// deep, which is what the fallback chain needs.
type FRED struct {
	http   *httpClient
	apiKey string
}

func NewFRED(apiKey string, log zerolog.Logger) *FRED {
	return &FRED{
		http: newHTTPClient("fred", fredBaseURL, httpClientOpts{
			RPS:   2,
			Burst: 4,
		}, log),
		apiKey: apiKey,
	}
}

func (f *FRED) Name() string { return "fred" }

func (f *FRED) SetRateLimit(rps float64, burst int) { f.http.SetRateLimit(rps, burst) }

type fredObservationsResp struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// SeriesObservation is one (date, value) point from a macro series.
type SeriesObservation struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Series fetches observations for an arbitrary FRED series id, most
// recent first. Missing values ("." in FRED's encoding) are skipped.
func (f *FRED) Series(ctx context.Context, seriesID string, from, to time.Time, limit int) ([]SeriesObservation, error) {
	q := url.Values{}
	q.Set("series_id", seriesID)
	q.Set("api_key", f.apiKey)
	q.Set("file_type", "json")
	q.Set("sort_order", "desc")
	q.Set("observation_start", from.Format("2006-01-02"))
	q.Set("observation_end", to.Format("2006-01-02"))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp fredObservationsResp
	if err := f.http.getJSON(ctx, "/fred/series/observations", q, &resp); err != nil {
		return nil, err
	}

	out := make([]SeriesObservation, 0, len(resp.Observations))
	for _, obs := range resp.Observations {
		if obs.Value == "." {
			continue
		}
		v, err := strconv.ParseFloat(obs.Value, 64)
		if err != nil {
			continue
		}
		ts, err := time.Parse("2006-01-02", obs.Date)
		if err != nil {
			continue
		}
		out = append(out, SeriesObservation{Date: ts.UTC(), Value: v})
	}
	if len(out) == 0 {
		return nil, errs.FromProvider(errs.KindNotFound, f.Name(),
			"no observations for series "+seriesID, nil)
	}
	return out, nil
}

// GetRate serves the currency pairs FRED carries, using the latest
// observation at or before asOf.
func (f *FRED) GetRate(ctx context.Context, from, to string, asOf time.Time) (float64, string, error) {
	pair := fmt.Sprintf("%s/%s", from, to)
	series, ok := seriesByPair[pair]
	if !ok {
		return 0, "", errs.FromProvider(errs.KindNotFound, f.Name(),
			"no series for pair "+pair, nil)
	}

	obs, err := f.Series(ctx, series.ID, asOf.AddDate(0, 0, -10), asOf, 10)
	if err != nil {
		return 0, "", err
	}
	for _, o := range obs {
		if o.Date.After(asOf) || o.Value <= 0 {
			continue
		}
		rate := o.Value
		if series.Inverted {
			rate = 1 / rate
		}
		return rate, "fred:" + series.ID, nil
	}
	return 0, "", errs.FromProvider(errs.KindNotFound, f.Name(),
		fmt.Sprintf("no %s observation at or before %s", pair, asOf.Format("2006-01-02")), nil)
}

package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketdesk/marketdesk/internal/errs"
	"github.com/marketdesk/marketdesk/internal/keys"
)

func TestRegistry_PriorityOrder(t *testing.T) {
	r := NewRegistry()
	log := zerolog.Nop()
	r.Register(Descriptor{Name: "fred", Capability: CapRate, Priority: 3, Endpoint: "fred"},
		NewFRED("k", log))
	r.Register(Descriptor{Name: "exchangerate-api", Capability: CapRate, Priority: 1, Endpoint: "fx-primary"},
		NewExchangeRateAPI("k", log))
	r.Register(Descriptor{Name: "tiingo", Capability: CapRate, Priority: 2, Endpoint: "tiingo"},
		NewTiingo("k", log))

	rates := r.Rates()
	require.Len(t, rates, 3)
	assert.Equal(t, "exchangerate-api", rates[0].Name())
	assert.Equal(t, "tiingo", rates[1].Name())
	assert.Equal(t, "fred", rates[2].Name())

	descs := r.Descriptors(CapRate)
	assert.Equal(t, "fx-primary", descs[0].Endpoint)
}

func TestPolicyTunableProvidersExposeRateLimit(t *testing.T) {
	log := zerolog.Nop()
	impls := []interface{}{
		NewTiingo("k", log),
		NewAlphaVantage("k", log),
		NewExchangeRateAPI("k", log),
		NewFRED("k", log),
		NewTavily("k", log),
		NewExa("k", log),
		NewIRSite(nil, log),
		NewExchangeFilings("https://example.com/filings?symbol=%s", log),
		NewAggregatorSite("https://example.com/t/%s/%s-fy%d", "", log),
	}
	for _, impl := range impls {
		_, ok := impl.(RateLimited)
		assert.True(t, ok, "%T must accept policy rate tuning", impl)
	}
}

func TestRegistry_EmptyCapability(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.Bars())
	assert.Empty(t, r.Descriptors(CapSummary))
}

func TestTiingo_GetBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tiingo/daily/aapl/prices", r.URL.Path)
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("startDate"))
		w.Write([]byte(`[
			{"date":"2024-01-02T00:00:00.000Z","open":187.15,"high":188.44,"low":183.89,"close":185.64,"volume":82488700},
			{"date":"2024-01-03T00:00:00.000Z","open":184.22,"high":185.88,"low":183.43,"close":184.25,"volume":58414500}
		]`))
	}))
	defer srv.Close()

	p := NewTiingo("key", zerolog.Nop())
	p.http.base = srv.URL

	sym, err := keys.NewRegistry().SymbolToMarket("AAPL")
	require.NoError(t, err)

	bars, err := p.GetBars(context.Background(), sym, BarRange{
		From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}, "1d")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 185.64, bars[0].Close)
	assert.Equal(t, int64(82488700), bars[0].Volume)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), bars[0].Date)
}

func TestTiingo_GetBars_EmptyIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	p := NewTiingo("key", zerolog.Nop())
	p.http.base = srv.URL

	sym, _ := keys.NewRegistry().SymbolToMarket("AAPL")
	_, err := p.GetBars(context.Background(), sym, BarRange{}, "1d")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestTiingo_RejectsIntraday(t *testing.T) {
	p := NewTiingo("key", zerolog.Nop())
	sym, _ := keys.NewRegistry().SymbolToMarket("AAPL")
	_, err := p.GetBars(context.Background(), sym, BarRange{}, "5m")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindInvalidInput))
}

func TestAlphaVantage_QuotaNoteMapsToQuota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Note":"Thank you for using Alpha Vantage! Our standard API rate limit is 25 requests per day."}`))
	}))
	defer srv.Close()

	p := NewAlphaVantage("key", zerolog.Nop())
	p.http.base = srv.URL
	p.http.limiter.SetLimit(1000)

	sym, _ := keys.NewRegistry().SymbolToMarket("AAPL")
	_, err := p.GetBars(context.Background(), sym, BarRange{
		From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}, "1d")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindQuotaExceeded))

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, time.Minute, e.RetryAfter)
}

func TestAlphaVantage_ParsesSeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TIME_SERIES_DAILY", r.URL.Query().Get("function"))
		w.Write([]byte(`{"Time Series (Daily)": {
			"2024-01-03": {"1. open":"184.22","2. high":"185.88","3. low":"183.43","4. close":"184.25","5. volume":"58414500"},
			"2024-01-02": {"1. open":"187.15","2. high":"188.44","3. low":"183.89","4. close":"185.64","5. volume":"82488700"}
		}}`))
	}))
	defer srv.Close()

	p := NewAlphaVantage("key", zerolog.Nop())
	p.http.base = srv.URL
	p.http.limiter.SetLimit(1000)

	sym, _ := keys.NewRegistry().SymbolToMarket("AAPL")
	bars, err := p.GetBars(context.Background(), sym, BarRange{
		From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}, "1d")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	// Ascending by date regardless of map iteration order.
	assert.True(t, bars[0].Date.Before(bars[1].Date))
	assert.Equal(t, 185.64, bars[0].Close)
}

func TestExchangeRateAPI_DeclinesHistorical(t *testing.T) {
	p := NewExchangeRateAPI("key", zerolog.Nop())
	p.now = func() time.Time { return time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC) }

	_, _, err := p.GetRate(context.Background(), "USD", "INR",
		time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestExchangeRateAPI_LatestRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v6/key/pair/USD/INR", r.URL.Path)
		w.Write([]byte(`{"result":"success","base_code":"USD","target_code":"INR","conversion_rate":83.42}`))
	}))
	defer srv.Close()

	p := NewExchangeRateAPI("key", zerolog.Nop())
	p.http.base = srv.URL
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	rate, tag, err := p.GetRate(context.Background(), "usd", "inr", now)
	require.NoError(t, err)
	assert.Equal(t, 83.42, rate)
	assert.Equal(t, "exchangerate-api", tag)
}

func TestFRED_RateUsesLatestObservation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DEXINUS", r.URL.Query().Get("series_id"))
		w.Write([]byte(`{"observations":[
			{"date":"2025-05-30","value":"83.50"},
			{"date":"2025-05-29","value":"."},
			{"date":"2025-05-28","value":"83.10"}
		]}`))
	}))
	defer srv.Close()

	p := NewFRED("key", zerolog.Nop())
	p.http.base = srv.URL

	rate, tag, err := p.GetRate(context.Background(), "USD", "INR",
		time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 83.50, rate)
	assert.Equal(t, "fred:DEXINUS", tag)
}

func TestFRED_UnknownPairIsNotFound(t *testing.T) {
	p := NewFRED("key", zerolog.Nop())
	_, _, err := p.GetRate(context.Background(), "AUD", "NZD", time.Now())
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

package resolver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketdesk/marketdesk/internal/cache"
	"github.com/marketdesk/marketdesk/internal/config"
	"github.com/marketdesk/marketdesk/internal/errs"
	"github.com/marketdesk/marketdesk/internal/keys"
	"github.com/marketdesk/marketdesk/internal/providers"
	"github.com/marketdesk/marketdesk/internal/resilience"
	"github.com/marketdesk/marketdesk/internal/store"
)

var testClock = func() time.Time {
	return time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
}

func newTestResolver(t *testing.T, reg *providers.Registry) *Resolver {
	t.Helper()
	log := zerolog.Nop()
	return New(Deps{
		Registry: reg,
		Cache:    cache.NewTiered(cache.NewMemory(0), nil, log, nil),
		Breakers: resilience.NewBreakerManager(resilience.BreakerConfig{FailureThreshold: 2}, nil, nil, log),
		Retry:    resilience.RetryConfig{MaxAttempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		TTL:      config.DefaultPolicy().Cache,
		Log:      log,
		Clock:    testClock,
	})
}

// --- fakes ---

type fakeBars struct {
	name  string
	calls int
	bars  []providers.Bar
	err   error
}

func (f *fakeBars) Name() string { return f.name }
func (f *fakeBars) GetBars(context.Context, keys.CanonicalSymbol, providers.BarRange, string) ([]providers.Bar, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.bars, nil
}

type fakeRate struct {
	name  string
	calls int
	rate  float64
	err   error
}

func (f *fakeRate) Name() string { return f.name }
func (f *fakeRate) GetRate(context.Context, string, string, time.Time) (float64, string, error) {
	f.calls++
	if f.err != nil {
		return 0, "", f.err
	}
	return f.rate, f.name, nil
}

type fakeTranscript struct {
	name    string
	calls   int
	text    string
	quarter string // last quarter seen
	err     error
}

func (f *fakeTranscript) Name() string { return f.name }
func (f *fakeTranscript) GetTranscript(_ context.Context, _ keys.CanonicalSymbol, quarter string, _ int) (*providers.TranscriptResult, error) {
	f.calls++
	f.quarter = quarter
	if f.err != nil {
		return nil, f.err
	}
	return &providers.TranscriptResult{
		Text:      f.text,
		SourceTag: f.name,
		SourceURL: "https://example.com/call",
		WordCount: len(strings.Fields(f.text)),
	}, nil
}

type fakeNews struct {
	name     string
	calls    int
	articles []providers.Article
	err      error
}

func (f *fakeNews) Name() string { return f.name }
func (f *fakeNews) GetArticles(context.Context, string, time.Duration, int) ([]providers.Article, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.articles, nil
}

type fakeSummarizer struct {
	name  string
	calls int
	err   error
}

func (f *fakeSummarizer) Name() string { return f.name }
func (f *fakeSummarizer) Summarize(_ context.Context, _, mode string) (*providers.Summary, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &providers.Summary{Mode: mode, Overview: "steady quarter", ModelTag: f.name}, nil
}

type fakeScorer struct {
	name  string
	calls int
	err   error
}

func (f *fakeScorer) Name() string { return f.name }
func (f *fakeScorer) Score(context.Context, string) (*providers.Sentiment, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &providers.Sentiment{Overall: 4, Tone: "positive", Confidence: 0.8, ModelTag: f.name}, nil
}

// fakeEmbedder scores a chunk 1.0 on its marker axis when the chunk
// mentions "margin", so ranking is deterministic.
type fakeEmbedder struct {
	name  string
	calls int
	err   error
}

func (f *fakeEmbedder) Name() string { return f.name }
func (f *fakeEmbedder) Embed(_ context.Context, chunks []string) ([][]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(chunks))
	for i, c := range chunks {
		if strings.Contains(strings.ToLower(c), "margin") {
			out[i] = []float64{1, 0}
		} else {
			out[i] = []float64{0, 1}
		}
	}
	return out, nil
}

type fakeSearcher struct {
	name  string
	calls int
	hits  []providers.ScoredChunk
	err   error
}

func (f *fakeSearcher) Name() string { return f.name }
func (f *fakeSearcher) TopK(context.Context, string, int, string) ([]providers.ScoredChunk, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

func register(reg *providers.Registry, cap providers.Capability, priority int, name string, impl interface{}) {
	reg.Register(providers.Descriptor{
		Name: name, Capability: cap, Priority: priority, Endpoint: name,
	}, impl)
}

// --- bars ---

func TestBarsSecondReadServedFromCache(t *testing.T) {
	p := &fakeBars{name: "tiingo", bars: []providers.Bar{
		{Date: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), Close: 101},
		{Date: time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), Close: 102},
	}}
	reg := providers.NewRegistry()
	register(reg, providers.CapBars, 1, "tiingo", p)
	r := newTestResolver(t, reg)

	from := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)

	bars, prov, err := r.Bars(context.Background(), "AAPL", from, to, "1d")
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.Equal(t, "tiingo", prov.Source)
	assert.Empty(t, prov.CacheTier)

	bars, prov, err = r.Bars(context.Background(), "AAPL", from, to, "1d")
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.Equal(t, "cache", prov.CacheTier)
	assert.Equal(t, 1, p.calls, "cache hit must not reach the provider")
}

func TestBarsFallsBackToSecondaryProvider(t *testing.T) {
	primary := &fakeBars{name: "tiingo", err: errs.New(errs.KindTransient, "upstream 503")}
	secondary := &fakeBars{name: "alphavantage", bars: []providers.Bar{
		{Date: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), Close: 99},
	}}
	reg := providers.NewRegistry()
	register(reg, providers.CapBars, 1, "tiingo", primary)
	register(reg, providers.CapBars, 2, "alphavantage", secondary)
	r := newTestResolver(t, reg)

	from := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	bars, prov, err := r.Bars(context.Background(), "AAPL", from, from, "1d")
	require.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.Equal(t, "alphavantage", prov.Source)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
}

func TestBarsAllNotFoundIsNegativeCached(t *testing.T) {
	a := &fakeBars{name: "tiingo", err: errs.New(errs.KindNotFound, "unknown symbol")}
	b := &fakeBars{name: "alphavantage", err: errs.New(errs.KindNotFound, "unknown symbol")}
	reg := providers.NewRegistry()
	register(reg, providers.CapBars, 1, "tiingo", a)
	register(reg, providers.CapBars, 2, "alphavantage", b)
	r := newTestResolver(t, reg)

	from := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	_, _, err := r.Bars(context.Background(), "NOSUCH", from, from, "1d")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
	assert.Contains(t, err.Error(), "alphavantage")
	assert.Contains(t, err.Error(), "tiingo")

	_, _, err = r.Bars(context.Background(), "NOSUCH", from, from, "1d")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
	assert.Equal(t, 1, a.calls, "negative cache must absorb the repeat miss")
	assert.Equal(t, 1, b.calls)
}

func TestBarsUnavailableCarriesLongestRetryAfter(t *testing.T) {
	quota := &fakeBars{name: "tiingo", err: &errs.Error{
		Kind: errs.KindQuotaExceeded, Message: "rate limited", RetryAfter: 25 * time.Millisecond,
	}}
	down := &fakeBars{name: "alphavantage", err: errs.New(errs.KindTransient, "connection reset")}
	reg := providers.NewRegistry()
	register(reg, providers.CapBars, 1, "tiingo", quota)
	register(reg, providers.CapBars, 2, "alphavantage", down)
	r := newTestResolver(t, reg)

	from := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	_, _, err := r.Bars(context.Background(), "AAPL", from, from, "1d")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindUpstreamUnavailable))
	assert.Equal(t, 25*time.Millisecond, errs.RetryAfterOf(err))
	assert.Contains(t, err.Error(), "tiingo")
}

func TestBarsInvalidRangeSkipsProviders(t *testing.T) {
	p := &fakeBars{name: "tiingo"}
	reg := providers.NewRegistry()
	register(reg, providers.CapBars, 1, "tiingo", p)
	r := newTestResolver(t, reg)

	to := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	from := to.AddDate(0, 0, 5)
	_, _, err := r.Bars(context.Background(), "AAPL", from, to, "1d")
	assert.True(t, errs.IsKind(err, errs.KindInvalidInput))
	assert.Zero(t, p.calls)
}

func TestBarsBreakerFailsFastAfterThreshold(t *testing.T) {
	p := &fakeBars{name: "tiingo", err: errs.New(errs.KindTransient, "upstream 503")}
	reg := providers.NewRegistry()
	register(reg, providers.CapBars, 1, "tiingo", p)
	r := newTestResolver(t, reg) // threshold 2

	from := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		day := from.AddDate(0, 0, i*7)
		_, _, err := r.Bars(context.Background(), "AAPL", day, day, "1d")
		require.Error(t, err)
	}
	require.Equal(t, 2, p.calls)

	// Breaker is open now; the provider must not be reached again.
	day := from.AddDate(0, 0, 21)
	_, _, err := r.Bars(context.Background(), "AAPL", day, day, "1d")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindUpstreamUnavailable))
	assert.Equal(t, 2, p.calls)
}

func TestBarsRetryOverridePerProvider(t *testing.T) {
	p := &fakeBars{name: "tiingo", err: errs.New(errs.KindTransient, "upstream 503")}
	reg := providers.NewRegistry()
	register(reg, providers.CapBars, 1, "tiingo", p)

	log := zerolog.Nop()
	r := New(Deps{
		Registry: reg,
		Cache:    cache.NewTiered(cache.NewMemory(0), nil, log, nil),
		Breakers: resilience.NewBreakerManager(resilience.BreakerConfig{FailureThreshold: 5}, nil, nil, log),
		Retry:    resilience.RetryConfig{MaxAttempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		RetryOverrides: map[string]resilience.RetryConfig{
			"tiingo": {MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		},
		TTL:   config.DefaultPolicy().Cache,
		Log:   log,
		Clock: testClock,
	})

	from := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	_, _, err := r.Bars(context.Background(), "AAPL", from, from, "1d")
	require.Error(t, err)
	assert.Equal(t, 2, p.calls, "override grants a second attempt where the default allows one")
}

// --- rates ---

func TestRateIdentityPairShortCircuits(t *testing.T) {
	p := &fakeRate{name: "exchangerate-api", rate: 83.2}
	reg := providers.NewRegistry()
	register(reg, providers.CapRate, 1, "exchangerate-api", p)
	r := newTestResolver(t, reg)

	ans, prov, err := r.Rate(context.Background(), "usd", "USD", testClock())
	require.NoError(t, err)
	assert.Equal(t, 1.0, ans.Rate)
	assert.Equal(t, "identity", prov.Source)
	assert.Zero(t, p.calls)
}

func TestRateRejectsMalformedCodes(t *testing.T) {
	r := newTestResolver(t, providers.NewRegistry())
	_, _, err := r.Rate(context.Background(), "US", "INR", testClock())
	assert.True(t, errs.IsKind(err, errs.KindInvalidInput))
}

func TestRateProviderCascade(t *testing.T) {
	primary := &fakeRate{name: "exchangerate-api", err: errs.New(errs.KindTransient, "timeout")}
	secondary := &fakeRate{name: "fred", rate: 83.5}
	reg := providers.NewRegistry()
	register(reg, providers.CapRate, 1, "exchangerate-api", primary)
	register(reg, providers.CapRate, 2, "fred", secondary)
	r := newTestResolver(t, reg)

	ans, prov, err := r.Rate(context.Background(), "USD", "INR", testClock())
	require.NoError(t, err)
	assert.Equal(t, 83.5, ans.Rate)
	assert.Equal(t, "fred", prov.Source)
}

// --- transcripts ---

func transcriptText(words int) string {
	var b strings.Builder
	b.WriteString("Operator: Welcome to the earnings call. ")
	b.WriteString("The Chief Executive Officer discussed margin expansion this quarter. ")
	for b.Len() < words*6 {
		b.WriteString("Revenue grew across segments and guidance was reaffirmed. ")
	}
	return b.String()
}

func TestTranscriptNormalizesQuarterBeforeFetch(t *testing.T) {
	p := &fakeTranscript{name: "ir-site", text: transcriptText(600)}
	reg := providers.NewRegistry()
	register(reg, providers.CapTranscript, 1, "ir-site", p)
	r := newTestResolver(t, reg)

	tr, prov, err := r.Transcript(context.Background(), "RELIANCE.NS", "quarter 2", 2025)
	require.NoError(t, err)
	assert.Equal(t, "Q2", p.quarter)
	assert.Equal(t, "Q2", tr.Quarter)
	assert.Equal(t, "RELIANCE.NS", tr.Ticker)
	assert.Equal(t, "ir-site", prov.Source)
}

func TestTranscriptNotFoundCarriesAvailabilityHint(t *testing.T) {
	p := &fakeTranscript{name: "ir-site", err: errs.New(errs.KindNotFound, "no concall page")}
	reg := providers.NewRegistry()
	register(reg, providers.CapTranscript, 1, "ir-site", p)
	r := newTestResolver(t, reg)

	_, _, err := r.Transcript(context.Background(), "RELIANCE.NS", "Q2", 2025)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
	var te *errs.Error
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Hint, "two to six weeks")
}

func TestTranscriptRejectsFiscalYearOutOfRange(t *testing.T) {
	p := &fakeTranscript{name: "ir-site"}
	reg := providers.NewRegistry()
	register(reg, providers.CapTranscript, 1, "ir-site", p)
	r := newTestResolver(t, reg)

	_, _, err := r.Transcript(context.Background(), "RELIANCE.NS", "Q2", 1997)
	assert.True(t, errs.IsKind(err, errs.KindInvalidInput))
	assert.Zero(t, p.calls)
}

func TestTranscriptSecondReadServedFromCache(t *testing.T) {
	p := &fakeTranscript{name: "ir-site", text: transcriptText(600)}
	reg := providers.NewRegistry()
	register(reg, providers.CapTranscript, 1, "ir-site", p)
	r := newTestResolver(t, reg)

	_, _, err := r.Transcript(context.Background(), "TCS.NS", "Q1", 2025)
	require.NoError(t, err)
	_, prov, err := r.Transcript(context.Background(), "TCS.NS", "Q1", 2025)
	require.NoError(t, err)
	assert.Equal(t, "cache", prov.CacheTier)
	assert.Equal(t, 1, p.calls)
}

func TestRefreshTranscriptBypassesCache(t *testing.T) {
	p := &fakeTranscript{name: "ir-site", text: transcriptText(600)}
	reg := providers.NewRegistry()
	register(reg, providers.CapTranscript, 1, "ir-site", p)
	r := newTestResolver(t, reg)

	_, _, err := r.Transcript(context.Background(), "TCS.NS", "Q1", 2025)
	require.NoError(t, err)
	_, prov, err := r.RefreshTranscript(context.Background(), "TCS.NS", "Q1", 2025)
	require.NoError(t, err)
	assert.Empty(t, prov.CacheTier)
	assert.Equal(t, 2, p.calls, "refresh must go back to the provider")
}

// --- news ---

func TestNewsCachesAndDefaults(t *testing.T) {
	p := &fakeNews{name: "tavily", articles: []providers.Article{{Title: "Results out", URL: "https://x"}}}
	reg := providers.NewRegistry()
	register(reg, providers.CapNews, 1, "tavily", p)
	r := newTestResolver(t, reg)

	articles, prov, err := r.News(context.Background(), "Reliance earnings", 0, 0)
	require.NoError(t, err)
	assert.Len(t, articles, 1)
	assert.Equal(t, "tavily", prov.Source)

	_, prov, err = r.News(context.Background(), "Reliance earnings", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "cache", prov.CacheTier)
	assert.Equal(t, 1, p.calls)
}

func TestNewsEmptyQueryRejected(t *testing.T) {
	r := newTestResolver(t, providers.NewRegistry())
	_, _, err := r.News(context.Background(), "   ", 0, 0)
	assert.True(t, errs.IsKind(err, errs.KindInvalidInput))
}

// --- derived ---

func newDerivedRegistry(tp *fakeTranscript, sum *fakeSummarizer, fallback *fakeSummarizer, sc *fakeScorer) *providers.Registry {
	reg := providers.NewRegistry()
	register(reg, providers.CapTranscript, 1, tp.name, tp)
	if sum != nil {
		register(reg, providers.CapSummary, 1, sum.name, sum)
	}
	if fallback != nil {
		register(reg, providers.CapSummary, 2, fallback.name, fallback)
	}
	if sc != nil {
		register(reg, providers.CapSentiment, 1, sc.name, sc)
	}
	return reg
}

func TestSummaryComputedThenCached(t *testing.T) {
	tp := &fakeTranscript{name: "ir-site", text: transcriptText(600)}
	sum := &fakeSummarizer{name: "openai"}
	r := newTestResolver(t, newDerivedRegistry(tp, sum, nil, nil))

	s, prov, err := r.Summary(context.Background(), "TCS.NS", "Q1", 2025, "")
	require.NoError(t, err)
	assert.Equal(t, providers.SummaryModeBrief, s.Mode)
	assert.Equal(t, "openai", prov.Source)

	_, prov, err = r.Summary(context.Background(), "TCS.NS", "Q1", 2025, "brief")
	require.NoError(t, err)
	assert.Equal(t, "cache", prov.CacheTier)
	assert.Equal(t, 1, sum.calls)
	assert.Equal(t, 1, tp.calls, "summary cache hit must not re-resolve the transcript")
}

func TestSummaryFallsBackToSecondModel(t *testing.T) {
	tp := &fakeTranscript{name: "ir-site", text: transcriptText(600)}
	primary := &fakeSummarizer{name: "openai", err: errs.New(errs.KindTransient, "model overloaded")}
	fallback := &fakeSummarizer{name: "anthropic"}
	r := newTestResolver(t, newDerivedRegistry(tp, primary, fallback, nil))

	s, prov, err := r.Summary(context.Background(), "TCS.NS", "Q1", 2025, "detailed")
	require.NoError(t, err)
	assert.Equal(t, "detailed", s.Mode)
	assert.Equal(t, "anthropic", prov.Source)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestSummaryRejectsUnknownMode(t *testing.T) {
	r := newTestResolver(t, providers.NewRegistry())
	_, _, err := r.Summary(context.Background(), "TCS.NS", "Q1", 2025, "haiku")
	assert.True(t, errs.IsKind(err, errs.KindInvalidInput))
}

func TestSentimentComputedOverTranscript(t *testing.T) {
	tp := &fakeTranscript{name: "ir-site", text: transcriptText(600)}
	sc := &fakeScorer{name: "openai"}
	r := newTestResolver(t, newDerivedRegistry(tp, nil, nil, sc))

	s, _, err := r.Sentiment(context.Background(), "TCS.NS", "Q1", 2025)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Overall)
	assert.Equal(t, 1, sc.calls)
}

// --- rag ---

func TestQueryTranscriptRanksByEmbedding(t *testing.T) {
	tp := &fakeTranscript{name: "ir-site", text: transcriptText(600)}
	emb := &fakeEmbedder{name: "openai"}
	reg := providers.NewRegistry()
	register(reg, providers.CapTranscript, 1, "ir-site", tp)
	register(reg, providers.CapEmbed, 1, "openai", emb)
	r := newTestResolver(t, reg)

	chunks, prov, err := r.QueryTranscript(context.Background(), "TCS.NS", "Q1", 2025, "what happened to margin", 1)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, strings.ToLower(chunks[0].Text), "margin")
	assert.False(t, prov.Partial)
	// One batch for the chunks, one for the question.
	assert.Equal(t, 2, emb.calls)
}

func TestQueryTranscriptFallsBackToHostedSearch(t *testing.T) {
	tp := &fakeTranscript{name: "ir-site", text: transcriptText(600)}
	search := &fakeSearcher{name: "exa", hits: []providers.ScoredChunk{{Text: "margin expanded 120bps", Score: 0.9}}}
	reg := providers.NewRegistry()
	register(reg, providers.CapTranscript, 1, "ir-site", tp)
	register(reg, providers.CapSearch, 1, "exa", search)
	r := newTestResolver(t, reg)

	chunks, prov, err := r.QueryTranscript(context.Background(), "TCS.NS", "Q1", 2025, "what happened to margin", 3)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.True(t, prov.Partial)
	assert.Equal(t, "exa", prov.Source)
	assert.Equal(t, 1, search.calls)
}

func TestQueryTranscriptEmptyQuestionRejected(t *testing.T) {
	r := newTestResolver(t, providers.NewRegistry())
	_, _, err := r.QueryTranscript(context.Background(), "TCS.NS", "Q1", 2025, "", 3)
	assert.True(t, errs.IsKind(err, errs.KindInvalidInput))
}

func TestChunkWordsOverlaps(t *testing.T) {
	words := make([]string, 450)
	for i := range words {
		words[i] = "w"
	}
	chunks := chunkWords(strings.Join(words, " "), 200, 40)
	require.Len(t, chunks, 3)
	assert.Len(t, strings.Fields(chunks[0]), 200)
	assert.Len(t, strings.Fields(chunks[1]), 200)
	// Tail chunk picks up the remainder after two 160-word steps.
	assert.Len(t, strings.Fields(chunks[2]), 130)
}

func TestCosineOrthogonalAndParallel(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Zero(t, cosine([]float64{0, 0}, []float64{1, 1}))
}

// --- summarize ---

func TestSummarizeDistinguishesAbsenceFromOutage(t *testing.T) {
	notFound := []attempt{
		{name: "a", err: errs.New(errs.KindNotFound, "missing")},
		{name: "b", err: errs.New(errs.KindNotFound, "missing")},
	}
	err := summarize("thing", notFound)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))

	mixed := []attempt{
		{name: "a", err: errs.New(errs.KindNotFound, "missing")},
		{name: "b", err: errs.New(errs.KindTransient, "down")},
	}
	err = summarize("thing", mixed)
	assert.True(t, errs.IsKind(err, errs.KindUpstreamUnavailable))

	invalid := []attempt{
		{name: "a", err: errs.New(errs.KindInvalidInput, "bad interval")},
	}
	err = summarize("thing", invalid)
	assert.True(t, errs.IsKind(err, errs.KindInvalidInput))

	err = summarize("thing", nil)
	assert.True(t, errs.IsKind(err, errs.KindUpstreamUnavailable))
}

// --- degraded fallback ---

func TestBarsServesStaleCacheWhenProvidersDown(t *testing.T) {
	log := zerolog.Nop()
	mem := cache.NewMemory(0)
	p := &fakeBars{name: "tiingo", err: errs.New(errs.KindTransient, "upstream 503")}
	reg := providers.NewRegistry()
	register(reg, providers.CapBars, 1, p.name, p)
	r := New(Deps{
		Registry: reg,
		Cache:    cache.NewTiered(mem, nil, log, nil),
		Breakers: resilience.NewBreakerManager(resilience.BreakerConfig{FailureThreshold: 5}, nil, nil, log),
		Retry:    resilience.RetryConfig{MaxAttempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		TTL:      config.DefaultPolicy().Cache,
		Log:      log,
		Clock:    testClock,
	})

	ctx := context.Background()
	sym, err := r.Symbol("AAPL")
	require.NoError(t, err)
	from := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)

	// Plant an already-expired cached answer under the real key.
	stale := barsResult{
		Bars:       []store.PriceBar{{Symbol: "AAPL", Date: from, Close: 99}},
		Provenance: Provenance{Source: "tiingo"},
	}
	payload, err := json.Marshal(&stale)
	require.NoError(t, err)
	require.NoError(t, mem.Set(ctx, keys.BarsKey(sym, from, to, "1d"), payload, time.Nanosecond, "tiingo"))
	time.Sleep(time.Millisecond)

	bars, prov, err := r.Bars(ctx, "AAPL", from, to, "1d")
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 99.0, bars[0].Close)
	assert.True(t, prov.Partial)
	assert.Equal(t, "cache", prov.CacheTier)
	assert.Equal(t, 1, p.calls)
}

func TestNewsDedupesRepeatedURLs(t *testing.T) {
	p := &fakeNews{name: "tavily", articles: []providers.Article{
		{Title: "Results", URL: "https://example.com/story/"},
		{Title: "Results (syndicated)", URL: "http://example.com/story"},
		{Title: "Other", URL: "https://example.com/other"},
	}}
	reg := providers.NewRegistry()
	register(reg, providers.CapNews, 1, p.name, p)
	r := newTestResolver(t, reg)

	articles, _, err := r.News(context.Background(), "example earnings", 0, 10)
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.Equal(t, "Results", articles[0].Title)
	assert.Equal(t, "Other", articles[1].Title)
}

// Package providers holds the thin adapters over upstream data sources.
// Every adapter implements one or more capability interfaces and reports
// failures through the shared error taxonomy so the resilience layer can
// classify them.
package providers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marketdesk/marketdesk/internal/keys"
)

// Capability names the behaviors providers can offer.
type Capability string

const (
	CapBars       Capability = "bars"
	CapRate       Capability = "rate"
	CapNews       Capability = "news"
	CapTranscript Capability = "transcript"
	CapSummary    Capability = "summary"
	CapSentiment  Capability = "sentiment"
	CapEmbed      Capability = "embed"
	CapSearch     Capability = "search"
)

// Bar is one OHLCV observation.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// BarRange bounds a bars request.
type BarRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Article is one news item.
type Article struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Snippet     string    `json:"snippet"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// Canonical transcript provenance tags, persisted on each stored row.
// Distinct from provider names: the name identifies the client and its
// breaker endpoint, the tag records what kind of source the text came
// from.
const (
	SourceIRWebsite      = "IR_WEBSITE"
	SourceExchangeFiling = "EXCHANGE_FILING"
	SourceAggregator     = "AGGREGATOR"
)

// TranscriptResult is the outcome of a transcript fetch.
type TranscriptResult struct {
	Text      string `json:"text"`
	SourceURL string `json:"source_url"`
	SourceTag string `json:"source_tag"`
	WordCount int    `json:"word_count"`
}

// Summary modes accepted by SummaryProvider implementations.
const (
	SummaryModeBrief    = "brief"
	SummaryModeDetailed = "detailed"
	SummaryModeInvestor = "investor"
)

// Summary is a structured transcript summary.
type Summary struct {
	Mode      string   `json:"mode"`
	Overview  string   `json:"overview"`
	KeyPoints []string `json:"key_points"`
	Outlook   string   `json:"outlook"`
	ModelTag  string   `json:"model_tag"`
}

// Sentiment is a structured management-tone score.
type Sentiment struct {
	Overall    int      `json:"overall"` // 1-5
	Tone       string   `json:"tone"`
	Outlook    string   `json:"outlook"`
	Risk       string   `json:"risk"`
	Confidence float64  `json:"confidence"` // 0-1
	Signals    []string `json:"signals"`
	ModelTag   string   `json:"model_tag"`
}

// ScoredChunk is one semantic-search hit.
type ScoredChunk struct {
	Text  string  `json:"text"`
	URL   string  `json:"url,omitempty"`
	Score float64 `json:"score"`
}

// Capability interfaces. Every method takes a deadline through ctx and
// returns typed errors from the errs taxonomy.

type BarsProvider interface {
	Name() string
	GetBars(ctx context.Context, sym keys.CanonicalSymbol, r BarRange, interval string) ([]Bar, error)
}

type RateProvider interface {
	Name() string
	GetRate(ctx context.Context, from, to string, asOf time.Time) (rate float64, sourceTag string, err error)
}

type NewsProvider interface {
	Name() string
	GetArticles(ctx context.Context, query string, window time.Duration, limit int) ([]Article, error)
}

type TranscriptProvider interface {
	Name() string
	GetTranscript(ctx context.Context, sym keys.CanonicalSymbol, quarter string, fiscalYear int) (*TranscriptResult, error)
}

type SummaryProvider interface {
	Name() string
	Summarize(ctx context.Context, text, mode string) (*Summary, error)
}

type SentimentProvider interface {
	Name() string
	Score(ctx context.Context, text string) (*Sentiment, error)
}

type Embedder interface {
	Name() string
	Embed(ctx context.Context, chunks []string) ([][]float64, error)
}

type SemanticSearcher interface {
	Name() string
	TopK(ctx context.Context, query string, k int, corpusID string) ([]ScoredChunk, error)
}

// RateLimited is implemented by providers whose client exposes its token
// bucket, so the policy file can retune rps and burst at registration.
// The SDK-backed model gateways throttle inside their SDKs and do not
// implement it.
type RateLimited interface {
	SetRateLimit(rps float64, burst int)
}

// Descriptor identifies a registered provider for one capability.
type Descriptor struct {
	Name       string     `json:"name"`
	Capability Capability `json:"capability"`
	Priority   int        `json:"priority"` // lower runs first
	Endpoint   string     `json:"endpoint"` // breaker endpoint identity
}

type registration struct {
	desc Descriptor
	impl interface{}
}

// Registry maps capabilities to provider implementations in priority
// order. Populated once at startup; reads are concurrent.
type Registry struct {
	mu      sync.RWMutex
	entries map[Capability][]registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Capability][]registration)}
}

// Register adds impl under desc, keeping priority order stable.
func (r *Registry) Register(desc Descriptor, impl interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := append(r.entries[desc.Capability], registration{desc: desc, impl: impl})
	sort.SliceStable(list, func(i, j int) bool { return list[i].desc.Priority < list[j].desc.Priority })
	r.entries[desc.Capability] = list
}

// Descriptors returns the ordered descriptors for a capability.
func (r *Registry) Descriptors(cap Capability) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.entries[cap]))
	for _, e := range r.entries[cap] {
		out = append(out, e.desc)
	}
	return out
}

// Bars returns the ordered bars providers.
func (r *Registry) Bars() []BarsProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []BarsProvider
	for _, e := range r.entries[CapBars] {
		if p, ok := e.impl.(BarsProvider); ok {
			out = append(out, p)
		}
	}
	return out
}

// Rates returns the ordered rate providers.
func (r *Registry) Rates() []RateProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []RateProvider
	for _, e := range r.entries[CapRate] {
		if p, ok := e.impl.(RateProvider); ok {
			out = append(out, p)
		}
	}
	return out
}

// News returns the ordered news providers.
func (r *Registry) News() []NewsProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []NewsProvider
	for _, e := range r.entries[CapNews] {
		if p, ok := e.impl.(NewsProvider); ok {
			out = append(out, p)
		}
	}
	return out
}

// Transcripts returns the ordered transcript providers.
func (r *Registry) Transcripts() []TranscriptProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []TranscriptProvider
	for _, e := range r.entries[CapTranscript] {
		if p, ok := e.impl.(TranscriptProvider); ok {
			out = append(out, p)
		}
	}
	return out
}

// Summarizers returns the ordered summary providers.
func (r *Registry) Summarizers() []SummaryProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []SummaryProvider
	for _, e := range r.entries[CapSummary] {
		if p, ok := e.impl.(SummaryProvider); ok {
			out = append(out, p)
		}
	}
	return out
}

// SentimentScorers returns the ordered sentiment providers.
func (r *Registry) SentimentScorers() []SentimentProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []SentimentProvider
	for _, e := range r.entries[CapSentiment] {
		if p, ok := e.impl.(SentimentProvider); ok {
			out = append(out, p)
		}
	}
	return out
}

// Embedders returns the ordered embedding providers.
func (r *Registry) Embedders() []Embedder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Embedder
	for _, e := range r.entries[CapEmbed] {
		if p, ok := e.impl.(Embedder); ok {
			out = append(out, p)
		}
	}
	return out
}

// Searchers returns the ordered semantic searchers.
func (r *Registry) Searchers() []SemanticSearcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []SemanticSearcher
	for _, e := range r.entries[CapSearch] {
		if p, ok := e.impl.(SemanticSearcher); ok {
			out = append(out, p)
		}
	}
	return out
}

// Package tools exposes the resolver over MCP stdio. Every tool is a
// thin shim: validate arguments, call the resolver, render the answer
// with its provenance. No tool talks to a provider or the store
// directly.
package tools

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/marketdesk/marketdesk/internal/keys"
	"github.com/marketdesk/marketdesk/internal/providers"
	"github.com/marketdesk/marketdesk/internal/resolver"
	"github.com/marketdesk/marketdesk/internal/store"
)

// DataResolver is the slice of the resolver the tools need.
type DataResolver interface {
	Bars(ctx context.Context, symbol string, from, to time.Time, interval string) ([]store.PriceBar, resolver.Provenance, error)
	Rate(ctx context.Context, from, to string, asOf time.Time) (resolver.RateAnswer, resolver.Provenance, error)
	Transcript(ctx context.Context, symbol, quarter string, fiscalYear int) (*store.Transcript, resolver.Provenance, error)
	RefreshTranscript(ctx context.Context, symbol, quarter string, fiscalYear int) (*store.Transcript, resolver.Provenance, error)
	Summary(ctx context.Context, symbol, quarter string, fiscalYear int, mode string) (*providers.Summary, resolver.Provenance, error)
	Sentiment(ctx context.Context, symbol, quarter string, fiscalYear int) (*providers.Sentiment, resolver.Provenance, error)
	QueryTranscript(ctx context.Context, symbol, quarter string, fiscalYear int, question string, topK int) ([]providers.ScoredChunk, resolver.Provenance, error)
	News(ctx context.Context, query string, window time.Duration, limit int) ([]providers.Article, resolver.Provenance, error)
}

// Observer receives per-tool telemetry. Satisfied by the metrics
// registry; tests pass nil.
type Observer interface {
	ObserveToolCall(tool, outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveToolCall(string, string, time.Duration) {}

// Deps wires a Server.
type Deps struct {
	Resolver DataResolver
	Markets  *keys.Registry
	Observer Observer
	Version  string
	Log      zerolog.Logger
}

// Server is the MCP tool surface.
type Server struct {
	mcp      *server.MCPServer
	resolver DataResolver
	markets  *keys.Registry
	observer Observer
	log      zerolog.Logger
}

// New builds the server and registers every tool.
func New(d Deps) *Server {
	if d.Observer == nil {
		d.Observer = nopObserver{}
	}
	if d.Markets == nil {
		d.Markets = keys.NewRegistry()
	}
	if d.Version == "" {
		d.Version = "dev"
	}
	s := &Server{
		mcp:      server.NewMCPServer("marketdesk", d.Version, server.WithToolCapabilities(true)),
		resolver: d.Resolver,
		markets:  d.Markets,
		observer: d.Observer,
		log:      d.Log,
	}
	s.registerTools()
	return s
}

// ServeStdio blocks serving MCP over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(priceBarsTool(), s.instrument("get_price_bars", s.handlePriceBars))
	s.mcp.AddTool(exchangeRateTool(), s.instrument("get_exchange_rate", s.handleExchangeRate))
	s.mcp.AddTool(transcriptTool(), s.instrument("get_earnings_transcript", s.handleTranscript))
	s.mcp.AddTool(summarizeTool(), s.instrument("summarize_transcript", s.handleSummarize))
	s.mcp.AddTool(sentimentTool(), s.instrument("transcript_sentiment", s.handleSentiment))
	s.mcp.AddTool(queryTranscriptsTool(), s.instrument("query_transcripts", s.handleQueryTranscripts))
	s.mcp.AddTool(newsTool(), s.instrument("get_news", s.handleNews))
	s.mcp.AddTool(listMarketsTool(), s.instrument("list_markets", s.handleListMarkets))
}

// instrument wraps a handler with outcome metrics and logging.
func (s *Server) instrument(name string, h server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		res, err := h(ctx, req)
		outcome := "ok"
		if err != nil || (res != nil && res.IsError) {
			outcome = "error"
		}
		s.observer.ObserveToolCall(name, outcome, time.Since(start))
		s.log.Debug().Str("tool", name).Str("outcome", outcome).
			Dur("elapsed", time.Since(start)).Msg("tool call")
		return res, err
	}
}

func priceBarsTool() mcp.Tool {
	return mcp.NewTool("get_price_bars",
		mcp.WithDescription("Fetch daily OHLCV price bars for a stock over a date range. US tickers are plain (AAPL); NSE tickers end .NS, BSE tickers end .BO."),
		mcp.WithString("symbol",
			mcp.Required(),
			mcp.Description("Ticker, e.g. AAPL, RELIANCE.NS, TCS.BO"),
		),
		mcp.WithString("from",
			mcp.Required(),
			mcp.Description("Range start, YYYY-MM-DD"),
		),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("Range end, YYYY-MM-DD"),
		),
		mcp.WithString("interval",
			mcp.Description("Bar interval; only 1d is supported (default: 1d)"),
		),
	)
}

func exchangeRateTool() mcp.Tool {
	return mcp.NewTool("get_exchange_rate",
		mcp.WithDescription("Get the exchange rate between two currencies, today's or as of a past date."),
		mcp.WithString("from",
			mcp.Required(),
			mcp.Description("Base currency, ISO 4217 (USD)"),
		),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("Quote currency, ISO 4217 (INR)"),
		),
		mcp.WithString("date",
			mcp.Description("As-of date YYYY-MM-DD (default: today)"),
		),
	)
}

func transcriptTool() mcp.Tool {
	return mcp.NewTool("get_earnings_transcript",
		mcp.WithDescription("Fetch the earnings-call transcript for a company quarter. Stored transcripts are served as-is unless refresh is set."),
		mcp.WithString("symbol",
			mcp.Required(),
			mcp.Description("Ticker, e.g. RELIANCE.NS"),
		),
		mcp.WithString("quarter",
			mcp.Required(),
			mcp.Description("Quarter: Q1-Q4 (also accepts 1-4)"),
		),
		mcp.WithNumber("fiscal_year",
			mcp.Required(),
			mcp.Description("Fiscal year, e.g. 2025"),
		),
		mcp.WithBoolean("refresh",
			mcp.Description("Force a re-fetch, replacing the stored transcript and dropping derived summaries"),
		),
	)
}

func summarizeTool() mcp.Tool {
	return mcp.NewTool("summarize_transcript",
		mcp.WithDescription("Summarize an earnings-call transcript with an LLM."),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("Ticker")),
		mcp.WithString("quarter", mcp.Required(), mcp.Description("Quarter: Q1-Q4")),
		mcp.WithNumber("fiscal_year", mcp.Required(), mcp.Description("Fiscal year")),
		mcp.WithString("mode",
			mcp.Description("Summary depth: brief, detailed, or investor (default: brief)"),
		),
	)
}

func sentimentTool() mcp.Tool {
	return mcp.NewTool("transcript_sentiment",
		mcp.WithDescription("Score management tone in an earnings-call transcript: overall 1-5 plus tone, outlook and risk commentary."),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("Ticker")),
		mcp.WithString("quarter", mcp.Required(), mcp.Description("Quarter: Q1-Q4")),
		mcp.WithNumber("fiscal_year", mcp.Required(), mcp.Description("Fiscal year")),
	)
}

func queryTranscriptsTool() mcp.Tool {
	return mcp.NewTool("query_transcripts",
		mcp.WithDescription("Ask a free-text question against one earnings-call transcript and get the most relevant passages."),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("Ticker")),
		mcp.WithString("quarter", mcp.Required(), mcp.Description("Quarter: Q1-Q4")),
		mcp.WithNumber("fiscal_year", mcp.Required(), mcp.Description("Fiscal year")),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question to answer from the transcript"),
		),
		mcp.WithNumber("top_k",
			mcp.Description("How many passages to return (default: 5, max: 20)"),
		),
	)
}

func newsTool() mcp.Tool {
	return mcp.NewTool("get_news",
		mcp.WithDescription("Fetch recent news articles for a company or topic."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query, e.g. 'Reliance Industries earnings'"),
		),
		mcp.WithNumber("days",
			mcp.Description("Lookback window in days (default: 7)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max articles (default: 10)"),
		),
	)
}

func listMarketsTool() mcp.Tool {
	return mcp.NewTool("list_markets",
		mcp.WithDescription("List the configured markets with currency, timezone, trading hours and symbol suffix."),
	)
}

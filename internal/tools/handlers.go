package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/marketdesk/marketdesk/internal/errs"
	"github.com/marketdesk/marketdesk/internal/resolver"
)

// jsonResult renders a payload plus its provenance as a JSON text block.
func jsonResult(payload interface{}, prov resolver.Provenance) (*mcp.CallToolResult, error) {
	body, err := json.MarshalIndent(struct {
		Result     interface{}         `json:"result"`
		Provenance resolver.Provenance `json:"provenance"`
	}{payload, prov}, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("internal: encoding result failed"), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}

// errResult maps a resolver error onto a stable, user-readable message.
// The text is the contract: clients match on its shape, so the phrasing
// per kind does not change between releases.
func errResult(err error) (*mcp.CallToolResult, error) {
	var te *errs.Error
	msg := err.Error()
	errors.As(err, &te)

	var b strings.Builder
	switch errs.KindOf(err) {
	case errs.KindInvalidInput:
		b.WriteString("Invalid request: ")
	case errs.KindNotFound:
		b.WriteString("Not available: ")
	case errs.KindQuotaExceeded:
		b.WriteString("Rate limited: ")
	case errs.KindUpstreamUnavailable, errs.KindCircuitOpen:
		b.WriteString("Temporarily unavailable: ")
	default:
		b.WriteString("Error: ")
	}
	b.WriteString(msg)

	if te != nil {
		if te.RetryAfter > 0 {
			fmt.Fprintf(&b, " Retry after %d seconds.", int(te.RetryAfter.Seconds()+0.5))
		}
		if te.Hint != "" {
			b.WriteString(" Note: " + te.Hint + ".")
		}
	}
	return mcp.NewToolResultError(b.String()), nil
}

func parseDate(raw string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, errs.Newf(errs.KindInvalidInput, "date %q is not YYYY-MM-DD", raw)
	}
	return t.UTC(), nil
}

func (s *Server) handlePriceBars(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	symbol, err := req.RequireString("symbol")
	if err != nil {
		return mcp.NewToolResultError("Invalid request: symbol is required"), nil
	}
	fromRaw, err := req.RequireString("from")
	if err != nil {
		return mcp.NewToolResultError("Invalid request: from is required"), nil
	}
	toRaw, err := req.RequireString("to")
	if err != nil {
		return mcp.NewToolResultError("Invalid request: to is required"), nil
	}
	from, perr := parseDate(fromRaw)
	if perr != nil {
		return errResult(perr)
	}
	to, perr := parseDate(toRaw)
	if perr != nil {
		return errResult(perr)
	}
	interval := req.GetString("interval", "1d")

	bars, prov, rerr := s.resolver.Bars(ctx, symbol, from, to, interval)
	if rerr != nil {
		return errResult(rerr)
	}
	return jsonResult(bars, prov)
}

func (s *Server) handleExchangeRate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, err := req.RequireString("from")
	if err != nil {
		return mcp.NewToolResultError("Invalid request: from currency is required"), nil
	}
	to, err := req.RequireString("to")
	if err != nil {
		return mcp.NewToolResultError("Invalid request: to currency is required"), nil
	}
	var asOf time.Time
	if raw := req.GetString("date", ""); raw != "" {
		var perr error
		asOf, perr = parseDate(raw)
		if perr != nil {
			return errResult(perr)
		}
	}

	ans, prov, rerr := s.resolver.Rate(ctx, from, to, asOf)
	if rerr != nil {
		return errResult(rerr)
	}
	return jsonResult(ans, prov)
}

// transcriptScope pulls the (symbol, quarter, fiscal_year) triple shared
// by the transcript-family tools.
func transcriptScope(req mcp.CallToolRequest) (symbol, quarter string, fiscalYear int, errRes *mcp.CallToolResult) {
	symbol, err := req.RequireString("symbol")
	if err != nil {
		return "", "", 0, mcp.NewToolResultError("Invalid request: symbol is required")
	}
	quarter, err = req.RequireString("quarter")
	if err != nil {
		return "", "", 0, mcp.NewToolResultError("Invalid request: quarter is required")
	}
	fiscalYear, err = req.RequireInt("fiscal_year")
	if err != nil {
		return "", "", 0, mcp.NewToolResultError("Invalid request: fiscal_year is required")
	}
	return symbol, quarter, fiscalYear, nil
}

func (s *Server) handleTranscript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	symbol, quarter, fiscalYear, bad := transcriptScope(req)
	if bad != nil {
		return bad, nil
	}

	fetch := s.resolver.Transcript
	if req.GetBool("refresh", false) {
		fetch = s.resolver.RefreshTranscript
	}
	tr, prov, rerr := fetch(ctx, symbol, quarter, fiscalYear)
	if rerr != nil {
		return errResult(rerr)
	}
	return jsonResult(struct {
		Ticker     string `json:"ticker"`
		Quarter    string `json:"quarter"`
		FiscalYear int    `json:"fiscal_year"`
		WordCount  int    `json:"word_count"`
		SourceURL  string `json:"source_url"`
		Text       string `json:"text"`
	}{tr.Ticker, tr.Quarter, tr.FiscalYear, tr.WordCount, tr.SourceURL, tr.Text}, prov)
}

func (s *Server) handleSummarize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	symbol, quarter, fiscalYear, bad := transcriptScope(req)
	if bad != nil {
		return bad, nil
	}
	mode := req.GetString("mode", "")

	sum, prov, rerr := s.resolver.Summary(ctx, symbol, quarter, fiscalYear, mode)
	if rerr != nil {
		return errResult(rerr)
	}
	return jsonResult(sum, prov)
}

func (s *Server) handleSentiment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	symbol, quarter, fiscalYear, bad := transcriptScope(req)
	if bad != nil {
		return bad, nil
	}

	sent, prov, rerr := s.resolver.Sentiment(ctx, symbol, quarter, fiscalYear)
	if rerr != nil {
		return errResult(rerr)
	}
	return jsonResult(sent, prov)
}

func (s *Server) handleQueryTranscripts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	symbol, quarter, fiscalYear, bad := transcriptScope(req)
	if bad != nil {
		return bad, nil
	}
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("Invalid request: question is required"), nil
	}
	topK := req.GetInt("top_k", 0)

	chunks, prov, rerr := s.resolver.QueryTranscript(ctx, symbol, quarter, fiscalYear, question, topK)
	if rerr != nil {
		return errResult(rerr)
	}
	return jsonResult(chunks, prov)
}

func (s *Server) handleNews(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("Invalid request: query is required"), nil
	}
	window := time.Duration(req.GetInt("days", 0)) * 24 * time.Hour
	limit := req.GetInt("limit", 0)

	articles, prov, rerr := s.resolver.News(ctx, query, window, limit)
	if rerr != nil {
		return errResult(rerr)
	}
	return jsonResult(articles, prov)
}

func (s *Server) handleListMarkets(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	markets := s.markets.Markets()
	sort.Slice(markets, func(i, j int) bool { return markets[i].ID < markets[j].ID })
	body, err := json.MarshalIndent(markets, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("internal: encoding markets failed"), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}

package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/marketdesk/marketdesk/internal/errs"
	"github.com/marketdesk/marketdesk/internal/keys"
)

// AggregatorSite scrapes a third-party transcript aggregator. Last in
// the transcript chain: broad coverage, but the text is republished
// rather than authoritative, which the source tag records.
type AggregatorSite struct {
	fetch *htmlFetcher
	// pageURL renders the transcript page for (ticker, quarter, fy),
	// e.g. "https://example.com/transcripts/%s/%s-fy%d".
	pageURL  string
	selector string
}

func NewAggregatorSite(pageURL, selector string, log zerolog.Logger) *AggregatorSite {
	if selector == "" {
		selector = "article"
	}
	return &AggregatorSite{
		fetch:    newHTMLFetcher("aggregator", 0.5, log),
		pageURL:  pageURL,
		selector: selector,
	}
}

func (p *AggregatorSite) Name() string { return "aggregator" }

func (p *AggregatorSite) SetRateLimit(rps float64, burst int) { p.fetch.SetRateLimit(rps, burst) }

func (p *AggregatorSite) GetTranscript(ctx context.Context, sym keys.CanonicalSymbol, quarter string, fiscalYear int) (*TranscriptResult, error) {
	pageURL := fmt.Sprintf(p.pageURL, strings.ToLower(sym.Symbol), strings.ToLower(quarter), fiscalYear)
	page, err := p.fetch.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	text, err := extractCSS(page, p.selector)
	if err != nil {
		return nil, errs.FromProvider(errs.KindPermanent, p.Name(), "extraction failed", err)
	}
	if err := acceptTranscript(p.Name(), text, sym.Symbol, sym.Symbol); err != nil {
		return nil, err
	}
	return &TranscriptResult{
		Text:      text,
		SourceURL: pageURL,
		SourceTag: SourceAggregator,
		WordCount: wordCount(text),
	}, nil
}

package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/marketdesk/marketdesk/internal/errs"
	"github.com/marketdesk/marketdesk/internal/keys"
	"github.com/marketdesk/marketdesk/internal/store"
)

// MappingLookup resolves the scraping recipe for a ticker. Returns
// (nil, nil) when no mapping exists.
type MappingLookup func(ctx context.Context, ticker string) (*store.IRMapping, error)

// IRSite scrapes transcripts straight from company investor-relations
// pages, driven entirely by mapping rows: URL template plus CSS and/or
// XPath selectors. It is the primary transcript source because IR
// pages carry the authoritative text.
type IRSite struct {
	fetch   *htmlFetcher
	mapping MappingLookup
	log     zerolog.Logger
}

func NewIRSite(mapping MappingLookup, log zerolog.Logger) *IRSite {
	return &IRSite{
		fetch:   newHTMLFetcher("ir-site", 0.5, log),
		mapping: mapping,
		log:     log.With().Str("provider", "ir-site").Logger(),
	}
}

func (p *IRSite) Name() string { return "ir-site" }

func (p *IRSite) SetRateLimit(rps float64, burst int) { p.fetch.SetRateLimit(rps, burst) }

func (p *IRSite) GetTranscript(ctx context.Context, sym keys.CanonicalSymbol, quarter string, fiscalYear int) (*TranscriptResult, error) {
	m, err := p.mapping(ctx, sym.Full())
	if err != nil {
		return nil, errs.FromProvider(errs.KindTransient, p.Name(), "mapping lookup failed", err)
	}
	if m == nil || !m.Active {
		return nil, errs.FromProvider(errs.KindNotFound, p.Name(),
			"no active IR mapping for "+sym.Full(), nil)
	}

	pageURL := expandURLTemplate(m.URLTemplate, sym.Symbol, quarter, fiscalYear)
	if !strings.HasPrefix(pageURL, "http") {
		pageURL = strings.TrimRight(m.BaseURL, "/") + "/" + strings.TrimLeft(pageURL, "/")
	}

	page, err := p.fetch.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	// CSS first, XPath as the alternate recipe for the same page.
	var text string
	if m.CSSSelector != "" {
		text, err = extractCSS(page, m.CSSSelector)
		if err != nil {
			return nil, errs.FromProvider(errs.KindPermanent, p.Name(), "css extraction failed", err)
		}
	}
	if wordCount(text) < minTranscriptWords && m.XPath != "" {
		alt, xerr := extractXPath(page, m.XPath)
		if xerr != nil {
			return nil, errs.FromProvider(errs.KindPermanent, p.Name(), "xpath extraction failed", xerr)
		}
		if wordCount(alt) > wordCount(text) {
			text = alt
		}
	}
	if text == "" {
		return nil, errs.FromProvider(errs.KindPermanent, p.Name(),
			fmt.Sprintf("selectors matched nothing on %s", pageURL), nil)
	}

	if err := acceptTranscript(p.Name(), text, sym.Symbol, m.CompanyName); err != nil {
		return nil, err
	}
	return &TranscriptResult{
		Text:      text,
		SourceURL: pageURL,
		SourceTag: SourceIRWebsite,
		WordCount: wordCount(text),
	}, nil
}

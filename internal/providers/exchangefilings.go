package providers

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/marketdesk/marketdesk/internal/errs"
	"github.com/marketdesk/marketdesk/internal/keys"
)

// ExchangeFilings finds transcripts attached to corporate
// announcements on the listing exchange. Secondary transcript source:
// slower to appear than IR pages but selector-stable, since exchange
// sites change markup far less often than company sites.
type ExchangeFilings struct {
	fetch *htmlFetcher
	// searchURL renders the announcements search page for a symbol,
	// e.g. "https://www.nseindia.com/companies-listing/corporate-filings-announcements?symbol=%s".
	searchURL string
}

func NewExchangeFilings(searchURL string, log zerolog.Logger) *ExchangeFilings {
	return &ExchangeFilings{
		fetch:     newHTMLFetcher("exchange-filings", 0.5, log),
		searchURL: searchURL,
	}
}

func (p *ExchangeFilings) Name() string { return "exchange-filings" }

func (p *ExchangeFilings) SetRateLimit(rps float64, burst int) { p.fetch.SetRateLimit(rps, burst) }

func (p *ExchangeFilings) GetTranscript(ctx context.Context, sym keys.CanonicalSymbol, quarter string, fiscalYear int) (*TranscriptResult, error) {
	if sym.Market.ID == keys.MarketUS {
		// US transcripts come from IR pages or aggregators, not
		// exchange announcement feeds.
		return nil, errs.FromProvider(errs.KindNotFound, p.Name(),
			"exchange filings cover NSE/BSE listings only", nil)
	}

	listing := fmt.Sprintf(p.searchURL, url.QueryEscape(sym.Symbol))
	page, err := p.fetch.fetch(ctx, listing)
	if err != nil {
		return nil, err
	}

	link, err := p.findTranscriptLink(page, quarter, fiscalYear)
	if err != nil {
		return nil, err
	}
	attachment, err := p.fetch.fetch(ctx, link)
	if err != nil {
		return nil, err
	}

	text, err := extractCSS(attachment, "body")
	if err != nil {
		return nil, errs.FromProvider(errs.KindPermanent, p.Name(), "attachment extraction failed", err)
	}
	if err := acceptTranscript(p.Name(), text, sym.Symbol, sym.Symbol); err != nil {
		return nil, err
	}
	return &TranscriptResult{
		Text:      text,
		SourceURL: link,
		SourceTag: SourceExchangeFiling,
		WordCount: wordCount(text),
	}, nil
}

// findTranscriptLink scans announcement anchors for one that mentions
// a transcript for the requested period.
func (p *ExchangeFilings) findTranscriptLink(page []byte, quarter string, fiscalYear int) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", errs.FromProvider(errs.KindPermanent, p.Name(), "listing parse failed", err)
	}

	qLower := strings.ToLower(quarter)
	fy := fmt.Sprintf("%d", fiscalYear)
	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		label := strings.ToLower(s.Text())
		if !strings.Contains(label, "transcript") {
			return true
		}
		if !strings.Contains(label, qLower) || !strings.Contains(label, fy) {
			return true
		}
		if href, ok := s.Attr("href"); ok {
			found = href
			return false
		}
		return true
	})
	if found == "" {
		return "", errs.FromProvider(errs.KindNotFound, p.Name(),
			fmt.Sprintf("no %s FY%d transcript announcement", quarter, fiscalYear), nil)
	}
	return found, nil
}

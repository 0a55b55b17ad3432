package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/marketdesk/marketdesk/internal/errs"
)

const scrapeUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// minTranscriptWords is the floor below which an extraction is treated
// as a selector miss rather than a real transcript.
const minTranscriptWords = 500

// roleTokens must appear somewhere in a genuine earnings-call text.
var roleTokens = []string{
	"chief executive", "ceo", "chief financial", "cfo",
	"managing director", "chairman", "president",
}

// htmlFetcher pulls arbitrary pages with a shared token bucket and the
// same status classification as the JSON clients. Scrapers hit
// template-expanded URLs across hosts, so unlike httpClient it has no
// fixed base.
type htmlFetcher struct {
	provider string
	client   *http.Client
	limiter  *rate.Limiter
	log      zerolog.Logger
}

func newHTMLFetcher(provider string, rps float64, log zerolog.Logger) *htmlFetcher {
	if rps <= 0 {
		rps = 1
	}
	return &htmlFetcher{
		provider: provider,
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		log:      log.With().Str("provider", provider).Logger(),
	}
}

// SetRateLimit retunes the token bucket from the provider policy file.
func (f *htmlFetcher) SetRateLimit(rps float64, burst int) {
	if rps <= 0 {
		return
	}
	if burst < 1 {
		burst = 1
	}
	f.limiter.SetLimit(rate.Limit(rps))
	f.limiter.SetBurst(burst)
}

func (f *htmlFetcher) fetch(ctx context.Context, pageURL string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, errs.FromProvider(errs.KindTransient, f.provider, "rate limiter wait aborted", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, errs.FromProvider(errs.KindInvalidInput, f.provider, "building request", err)
	}
	req.Header.Set("User-Agent", scrapeUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errs.FromProvider(errs.KindTransient, f.provider, "request aborted", ctxErr)
		}
		return nil, errs.FromProvider(errs.KindTransient, f.provider, "network failure", err)
	}
	defer resp.Body.Close()

	f.log.Debug().Str("url", pageURL).Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).Msg("page fetch")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := errs.ClassifyHTTPStatus(resp.StatusCode)
		e := errs.FromProvider(kind, f.provider,
			fmt.Sprintf("%s returned %d", pageURL, resp.StatusCode), nil)
		if kind == errs.KindQuotaExceeded {
			e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return nil, e
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.FromProvider(errs.KindTransient, f.provider, "reading page", err)
	}
	return body, nil
}

// extractCSS pulls the text under a CSS selector.
func extractCSS(page []byte, selector string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", err
	}
	sel := doc.Find(selector)
	if sel.Length() == 0 {
		return "", nil
	}
	var b strings.Builder
	sel.Each(func(_ int, s *goquery.Selection) {
		b.WriteString(s.Text())
		b.WriteByte('\n')
	})
	return normalizeText(b.String()), nil
}

// extractXPath pulls the text under an XPath expression.
func extractXPath(page []byte, expr string) (string, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return "", err
	}
	nodes, err := htmlquery.QueryAll(doc, expr)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, n := range nodes {
		b.WriteString(htmlquery.InnerText(n))
		b.WriteByte('\n')
	}
	return normalizeText(b.String()), nil
}

// normalizeText collapses runs of whitespace so word counts and token
// matching are stable across markup styles.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func wordCount(s string) int { return len(strings.Fields(s)) }

// acceptTranscript decides whether extracted text is a real transcript.
// Selector drift on an IR page yields boilerplate, not an error page,
// so the gate checks length, company identity, and speaker roles.
// Rejections are Permanent: retrying the same selectors cannot help.
func acceptTranscript(provider, text, symbol, company string) error {
	if n := wordCount(text); n < minTranscriptWords {
		return errs.FromProvider(errs.KindPermanent, provider,
			fmt.Sprintf("extracted only %d words, selector likely stale", n), nil)
	}
	lower := strings.ToLower(text)
	symToken := strings.ToLower(strings.SplitN(symbol, ".", 2)[0])
	if !strings.Contains(lower, symToken) && !containsCompanyToken(lower, company) {
		return errs.FromProvider(errs.KindPermanent, provider,
			"extracted text does not mention the company", nil)
	}
	for _, tok := range roleTokens {
		if strings.Contains(lower, tok) {
			return nil
		}
	}
	return errs.FromProvider(errs.KindPermanent, provider,
		"extracted text has no management speaker markers", nil)
}

// containsCompanyToken matches on the first meaningful word of the
// company name ("Reliance Industries Limited" -> "reliance").
func containsCompanyToken(lowerText, company string) bool {
	fields := strings.Fields(strings.ToLower(company))
	if len(fields) == 0 {
		return false
	}
	return strings.Contains(lowerText, fields[0])
}

// expandURLTemplate substitutes {ticker}, {quarter}, {fy}, and
// {fy_short} placeholders in a mapping's URL template.
func expandURLTemplate(tmpl, ticker, quarter string, fiscalYear int) string {
	r := strings.NewReplacer(
		"{ticker}", ticker,
		"{quarter}", quarter,
		"{quarter_lower}", strings.ToLower(quarter),
		"{fy}", fmt.Sprintf("%d", fiscalYear),
		"{fy_short}", fmt.Sprintf("%02d", fiscalYear%100),
	)
	return r.Replace(tmpl)
}

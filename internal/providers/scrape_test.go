package providers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketdesk/marketdesk/internal/errs"
)

// transcriptBody fabricates a plausible call transcript above the
// acceptance floor.
func transcriptBody(company string, words int) string {
	var b strings.Builder
	b.WriteString("Q1 FY2025 earnings conference call of " + company + ". ")
	b.WriteString("Our Chief Executive Officer will now take you through the quarter. ")
	filler := strings.Fields("revenue grew strongly this quarter driven by volume and better realizations across segments")
	for i := 0; i < words; i++ {
		b.WriteString(filler[i%len(filler)])
		b.WriteByte(' ')
	}
	return b.String()
}

func TestExtractCSS(t *testing.T) {
	page := []byte(`<html><body>
		<nav>ignore me</nav>
		<div class="transcript-body"><p>First  para.</p><p>Second para.</p></div>
	</body></html>`)

	text, err := extractCSS(page, "div.transcript-body")
	require.NoError(t, err)
	assert.Equal(t, "First para. Second para.", text)
}

func TestExtractCSS_NoMatch(t *testing.T) {
	text, err := extractCSS([]byte(`<html><body><p>hi</p></body></html>`), "div.missing")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestExtractXPath(t *testing.T) {
	page := []byte(`<html><body>
		<div id="concall"><span>Alpha</span> <span>beta</span></div>
	</body></html>`)

	text, err := extractXPath(page, `//div[@id="concall"]`)
	require.NoError(t, err)
	assert.Equal(t, "Alpha beta", text)
}

func TestAcceptTranscript_Passes(t *testing.T) {
	text := transcriptBody("Reliance Industries", 600)
	require.NoError(t, acceptTranscript("ir-site", text, "RELIANCE.NS", "Reliance Industries Limited"))
}

func TestAcceptTranscript_TooShort(t *testing.T) {
	err := acceptTranscript("ir-site", "CEO said revenue was fine.", "RELIANCE.NS", "Reliance Industries")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindPermanent))
}

func TestAcceptTranscript_WrongCompany(t *testing.T) {
	text := transcriptBody("Acme Widgets", 600)
	// Mentions a CEO and is long enough, but names neither the symbol
	// nor the company we asked for.
	err := acceptTranscript("ir-site", text, "TCS.NS", "Tata Consultancy Services")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindPermanent))
}

func TestAcceptTranscript_NoSpeakerMarkers(t *testing.T) {
	filler := strings.Repeat("reliance results commentary text without any officer titles here ", 100)
	err := acceptTranscript("ir-site", filler, "RELIANCE.NS", "Reliance Industries")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindPermanent))
}

func TestExpandURLTemplate(t *testing.T) {
	got := expandURLTemplate(
		"https://ir.example.com/{ticker}/concall-{quarter_lower}-fy{fy_short}.html",
		"RELIANCE", "Q1", 2025)
	assert.Equal(t, "https://ir.example.com/RELIANCE/concall-q1-fy25.html", got)

	got = expandURLTemplate("/calls/{fy}/{quarter}", "TCS", "Q3", 2024)
	assert.Equal(t, "/calls/2024/Q3", got)
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "a b c", normalizeText("  a\n\tb   c\n"))
	assert.Equal(t, 3, wordCount(" one two\nthree "))
}

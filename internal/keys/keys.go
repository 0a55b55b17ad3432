// Package keys owns logical identities: market detection, symbol and
// quarter normalization, and the versioned cache-key format. All cache
// keys in the system are built here; ad-hoc key strings elsewhere are a
// review error.
package keys

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marketdesk/marketdesk/internal/errs"
)

// Namespace groups cache keys by subsystem.
const (
	NamespaceConcall = "concall"
	NamespaceMarket  = "market"
	NamespaceFX      = "fx"
	NamespaceNews    = "news"
	NamespaceRAG     = "rag"
)

// Key kinds within a namespace.
const (
	KindTranscript = "transcript"
	KindSummary    = "summary"
	KindSentiment  = "sentiment"
	KindBars       = "bars"
	KindRate       = "rate"
	KindArticles   = "articles"
	KindAnswer     = "answer"
)

const keySep = ":"

// Key assembles a versioned cache key: namespace:kind:field1:...:vN.
// Identical inputs always produce identical keys; field order is fixed by
// the caller's builder. Fields must not contain the separator.
func Key(namespace, kind string, version int, fields ...string) string {
	parts := make([]string, 0, len(fields)+3)
	parts = append(parts, namespace, kind)
	parts = append(parts, fields...)
	parts = append(parts, "v"+strconv.Itoa(version))
	return strings.Join(parts, keySep)
}

// Components is a parsed cache key.
type Components struct {
	Namespace string
	Kind      string
	Fields    []string
	Version   int
}

// Parse splits a wire-format key back into components.
func Parse(key string) (Components, error) {
	parts := strings.Split(key, keySep)
	if len(parts) < 3 {
		return Components{}, errs.Newf(errs.KindInvalidInput, "cache key %q has too few segments", key)
	}
	last := parts[len(parts)-1]
	if !strings.HasPrefix(last, "v") {
		return Components{}, errs.Newf(errs.KindInvalidInput, "cache key %q missing version suffix", key)
	}
	version, err := strconv.Atoi(strings.TrimPrefix(last, "v"))
	if err != nil {
		return Components{}, errs.Newf(errs.KindInvalidInput, "cache key %q has malformed version %q", key, last)
	}
	return Components{
		Namespace: parts[0],
		Kind:      parts[1],
		Fields:    parts[2 : len(parts)-1],
		Version:   version,
	}, nil
}

// Current key-class versions. Bumping one invalidates the whole class.
const (
	TranscriptKeyVersion = 1
	BarsKeyVersion       = 1
	RateKeyVersion       = 1
	NewsKeyVersion       = 1
	DerivativeKeyVersion = 1
	RAGKeyVersion        = 1
)

// TranscriptKey builds the cache key for an earnings-call transcript.
func TranscriptKey(sym CanonicalSymbol, quarter string, fiscalYear int) string {
	return Key(NamespaceConcall, KindTranscript, TranscriptKeyVersion,
		sym.Full(), quarter, strconv.Itoa(fiscalYear))
}

// SummaryKey builds the cache key for a transcript summary in a given mode.
func SummaryKey(sym CanonicalSymbol, quarter string, fiscalYear int, mode string) string {
	return Key(NamespaceConcall, KindSummary, DerivativeKeyVersion,
		sym.Full(), quarter, strconv.Itoa(fiscalYear), mode)
}

// SentimentKey builds the cache key for a transcript sentiment score.
func SentimentKey(sym CanonicalSymbol, quarter string, fiscalYear int) string {
	return Key(NamespaceConcall, KindSentiment, DerivativeKeyVersion,
		sym.Full(), quarter, strconv.Itoa(fiscalYear))
}

// BarsKey builds the cache key for a price-bar range request.
func BarsKey(sym CanonicalSymbol, from, to time.Time, interval string) string {
	return Key(NamespaceMarket, KindBars, BarsKeyVersion,
		sym.Full(), from.Format("2006-01-02"), to.Format("2006-01-02"), interval)
}

// RateKey builds the cache key for an exchange-rate pair as of a date.
func RateKey(from, to string, asOf time.Time) string {
	return Key(NamespaceFX, KindRate, RateKeyVersion,
		strings.ToUpper(from), strings.ToUpper(to), asOf.Format("2006-01-02"))
}

// NewsKey builds the cache key for a news query window.
func NewsKey(query string, window time.Duration, limit int) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), "-")
	return Key(NamespaceNews, KindArticles, NewsKeyVersion,
		normalized, window.String(), strconv.Itoa(limit))
}

// RAGAnswerKey builds the per-question answer cache key.
func RAGAnswerKey(sym CanonicalSymbol, questionHash string) string {
	return Key(NamespaceRAG, KindAnswer, RAGKeyVersion, sym.Full(), questionHash)
}

// Quarter tokens accepted after normalization.
var canonicalQuarters = map[string]string{
	"Q1": "Q1", "Q2": "Q2", "Q3": "Q3", "Q4": "Q4",
	"1": "Q1", "2": "Q2", "3": "Q3", "4": "Q4",
	"QUARTER 1": "Q1", "QUARTER 2": "Q2", "QUARTER 3": "Q3", "QUARTER 4": "Q4",
}

// NormalizeQuarter maps user input ("q1", "1", "Quarter 1") onto the
// canonical tokens Q1..Q4.
func NormalizeQuarter(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if q, ok := canonicalQuarters[s]; ok {
		return q, nil
	}
	return "", errs.Newf(errs.KindInvalidInput, "invalid quarter %q: expected Q1-Q4", raw)
}

// ValidateFiscalYear bounds fiscal years to 2000..currentYear+1.
func ValidateFiscalYear(year int, now time.Time) error {
	max := now.Year() + 1
	if year < 2000 || year > max {
		return errs.Newf(errs.KindInvalidInput, "fiscal year %d out of range (2000-%d)", year, max)
	}
	return nil
}

// QuestionHash produces a short stable digest for RAG answer keys.
func QuestionHash(question string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(question)), " ")
	// FNV-1a, hex-encoded. Collisions only waste a cache slot.
	var h uint64 = 14695981039346656037
	for i := 0; i < len(normalized); i++ {
		h ^= uint64(normalized[i])
		h *= 1099511628211
	}
	return fmt.Sprintf("%016x", h)
}

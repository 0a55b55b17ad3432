package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stock is ticker metadata.
type Stock struct {
	ID        int64     `db:"id" json:"id"`
	Symbol    string    `db:"symbol" json:"symbol"` // canonical, suffix-stripped
	Market    string    `db:"market" json:"market"`
	Country   string    `db:"country" json:"country"`
	Currency  string    `db:"currency" json:"currency"`
	Sector    string    `db:"sector" json:"sector"`
	Active    bool      `db:"active" json:"active"`
	Indexes   string    `db:"indexes" json:"indexes"` // comma-separated memberships
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// PriceBar is one OHLCV row, unique on (symbol, date).
type PriceBar struct {
	ID        int64     `db:"id" json:"id"`
	Symbol    string    `db:"symbol" json:"symbol"`
	Date      time.Time `db:"bar_date" json:"date"`
	Open      float64   `db:"open" json:"open"`
	High      float64   `db:"high" json:"high"`
	Low       float64   `db:"low" json:"low"`
	Close     float64   `db:"close" json:"close"`
	Volume    int64     `db:"volume" json:"volume"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Transcript is an earnings-call transcript, unique on
// (ticker, quarter, fiscal_year). Rows are never auto-expired; once
// stored they are served from L2 until an explicit forced refresh.
type Transcript struct {
	ID         int64     `db:"id" json:"id"`
	Ticker     string    `db:"ticker" json:"ticker"` // full symbol incl. suffix
	Quarter    string    `db:"quarter" json:"quarter"`
	FiscalYear int       `db:"fiscal_year" json:"fiscal_year"`
	Text       string    `db:"transcript_text" json:"text"`
	SourceTag  string    `db:"source_tag" json:"source_tag"`
	SourceURL  string    `db:"source_url" json:"source_url"`
	WordCount  int       `db:"word_count" json:"word_count"`
	FetchedAt  time.Time `db:"fetched_at" json:"fetched_at"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Derivative kinds stored per transcript.
const (
	DerivativeSummary   = "summary"
	DerivativeSentiment = "sentiment"
	DerivativeRAGChunks = "rag-chunks"
)

// TranscriptDerivative is a value computed from a transcript (summary,
// sentiment, RAG chunks), keyed by transcript id and kind(+mode).
type TranscriptDerivative struct {
	ID           int64           `db:"id" json:"id"`
	TranscriptID int64           `db:"transcript_id" json:"transcript_id"`
	Kind         string          `db:"kind" json:"kind"`
	Mode         string          `db:"mode" json:"mode"` // summary mode; empty otherwise
	Payload      json.RawMessage `db:"payload" json:"payload"`
	ModelTag     string          `db:"model_tag" json:"model_tag"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// IRMapping tells the transcript scraper where a company publishes
// earnings-call material. Selector changes are config pushes, not code.
type IRMapping struct {
	ID          int64     `db:"id" json:"id"`
	Ticker      string    `db:"ticker" json:"ticker"`
	CompanyName string    `db:"company_name" json:"company_name"`
	BaseURL     string    `db:"ir_base_url" json:"ir_base_url"`
	URLTemplate string    `db:"url_template" json:"url_template"`
	CSSSelector string    `db:"css_selector" json:"css_selector"`
	XPath       string    `db:"xpath_selector" json:"xpath_selector"`
	Market      string    `db:"market" json:"market"`
	Country     string    `db:"country" json:"country"`
	Active      bool      `db:"active" json:"active"`
	Verified    bool      `db:"verified" json:"verified"`
	Notes       string    `db:"notes" json:"notes"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ExchangeRate is one FX observation, unique on (from, to, date).
type ExchangeRate struct {
	ID           int64     `db:"id" json:"id"`
	FromCurrency string    `db:"from_currency" json:"from"`
	ToCurrency   string    `db:"to_currency" json:"to"`
	RateDate     time.Time `db:"rate_date" json:"date"`
	Rate         float64   `db:"rate" json:"rate"`
	SourceTag    string    `db:"source_tag" json:"source_tag"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ScreeningRow is one ranked row of a screening snapshot.
type ScreeningRow struct {
	ID        int64           `db:"id" json:"id"`
	Strategy  string          `db:"strategy" json:"strategy"`
	AsOf      time.Time       `db:"as_of" json:"as_of"`
	Rank      int             `db:"rank" json:"rank"`
	Symbol    string          `db:"symbol" json:"symbol"`
	Score     float64         `db:"score" json:"score"`
	Details   json.RawMessage `db:"details" json:"details"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// BulkWriteError reports a rolled-back batch write.
type BulkWriteError struct {
	FirstFailing string
	Count        int
	Err          error
}

func (e *BulkWriteError) Error() string {
	return fmt.Sprintf("bulk write of %d rows rolled back, first failing %s: %v", e.Count, e.FirstFailing, e.Err)
}

func (e *BulkWriteError) Unwrap() error { return e.Err }

package keys

import (
	"strings"

	"github.com/marketdesk/marketdesk/internal/errs"
)

// MarketID identifies a configured market.
type MarketID string

const (
	MarketUS  MarketID = "US"
	MarketNSE MarketID = "NSE"
	MarketBSE MarketID = "BSE"
)

// Market holds the immutable attributes of a trading venue. The price-band
// percent is the exchange's daily movement limit, a plain data attribute
// unrelated to the outbound-call circuit breakers.
type Market struct {
	ID              MarketID `yaml:"id" json:"id"`
	Country         string   `yaml:"country" json:"country"` // ISO 3166-1 alpha-2
	Currency        string   `yaml:"currency" json:"currency"`
	Timezone        string   `yaml:"timezone" json:"timezone"`
	OpenTime        string   `yaml:"open_time" json:"open_time"`   // HH:MM local
	CloseTime       string   `yaml:"close_time" json:"close_time"` // HH:MM local
	PriceBandPct    float64  `yaml:"price_band_pct" json:"price_band_pct"`
	SettlementDays  int      `yaml:"settlement_days" json:"settlement_days"` // T+N
	SymbolSuffix    string   `yaml:"symbol_suffix" json:"symbol_suffix"`     // e.g. ".NS"
	CalendarName    string   `yaml:"calendar_name" json:"calendar_name"`
}

// defaultMarkets is the built-in market table. Additional markets may be
// layered on from configuration; suffixes must stay a proper set.
var defaultMarkets = []Market{
	{
		ID: MarketUS, Country: "US", Currency: "USD", Timezone: "America/New_York",
		OpenTime: "09:30", CloseTime: "16:00", PriceBandPct: 0,
		SettlementDays: 1, SymbolSuffix: "", CalendarName: "XNYS",
	},
	{
		ID: MarketNSE, Country: "IN", Currency: "INR", Timezone: "Asia/Kolkata",
		OpenTime: "09:15", CloseTime: "15:30", PriceBandPct: 10,
		SettlementDays: 1, SymbolSuffix: ".NS", CalendarName: "XNSE",
	},
	{
		ID: MarketBSE, Country: "IN", Currency: "INR", Timezone: "Asia/Kolkata",
		OpenTime: "09:15", CloseTime: "15:30", PriceBandPct: 10,
		SettlementDays: 1, SymbolSuffix: ".BO", CalendarName: "XBOM",
	},
}

// CanonicalSymbol is a normalized (market, raw symbol) pair. Symbol holds
// the upcased ticker without its market suffix.
type CanonicalSymbol struct {
	Market Market
	Symbol string
}

// Full returns the symbol with its market suffix reattached.
func (c CanonicalSymbol) Full() string {
	return c.Symbol + c.Market.SymbolSuffix
}

// Registry canonicalizes symbols and resolves markets by suffix.
type Registry struct {
	markets  map[MarketID]Market
	bySuffix map[string]Market
	def      Market
}

// NewRegistry builds a registry from the built-in market table plus any
// configured extras. Later entries override earlier ones by ID.
func NewRegistry(extra ...Market) *Registry {
	r := &Registry{
		markets:  make(map[MarketID]Market),
		bySuffix: make(map[string]Market),
	}
	for _, m := range append(append([]Market{}, defaultMarkets...), extra...) {
		r.markets[m.ID] = m
		if m.SymbolSuffix != "" {
			r.bySuffix[m.SymbolSuffix] = m
		}
		if m.ID == MarketUS {
			r.def = m
		}
	}
	return r
}

// Market looks up a market by ID.
func (r *Registry) Market(id MarketID) (Market, bool) {
	m, ok := r.markets[id]
	return m, ok
}

// Markets returns all configured markets.
func (r *Registry) Markets() []Market {
	out := make([]Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	return out
}

// SymbolToMarket canonicalizes a raw ticker. Detection is by suffix match;
// a symbol without a known suffix belongs to the US market.
func (r *Registry) SymbolToMarket(raw string) (CanonicalSymbol, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return CanonicalSymbol{}, errs.New(errs.KindInvalidInput, "symbol is empty")
	}
	for _, ch := range s {
		if !((ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '.' || ch == '-') {
			return CanonicalSymbol{}, errs.Newf(errs.KindInvalidInput,
				"symbol %q contains invalid character %q", raw, string(ch))
		}
	}
	for suffix, m := range r.bySuffix {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			return CanonicalSymbol{Market: m, Symbol: strings.TrimSuffix(s, suffix)}, nil
		}
	}
	return CanonicalSymbol{Market: r.def, Symbol: s}, nil
}

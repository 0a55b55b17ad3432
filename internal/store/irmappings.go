package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/marketdesk/marketdesk/internal/errs"
)

// IRMappingsRepo persists investor-relations scrape mappings.
type IRMappingsRepo struct {
	g *Gateway
}

// Get returns the mapping for a full ticker (suffix included).
func (r *IRMappingsRepo) Get(ctx context.Context, ticker string) (*IRMapping, error) {
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	var m IRMapping
	err := r.g.db.GetContext(ctx, &m, r.g.rebind(
		`SELECT * FROM mcp_ir_mappings WHERE ticker = ?`), strings.ToUpper(ticker))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Newf(errs.KindNotFound, "no IR mapping for %s", strings.ToUpper(ticker))
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Upsert stores a mapping, idempotent on ticker. Loading the mappings
// file twice leaves the table unchanged.
func (r *IRMappingsRepo) Upsert(ctx context.Context, m *IRMapping) error {
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	now := r.g.now()
	_, err := r.g.db.ExecContext(ctx, r.g.rebind(`
		INSERT INTO mcp_ir_mappings
			(ticker, company_name, ir_base_url, url_template, css_selector, xpath_selector,
			 market, country, active, verified, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ticker) DO UPDATE SET
			company_name = excluded.company_name,
			ir_base_url = excluded.ir_base_url,
			url_template = excluded.url_template,
			css_selector = excluded.css_selector,
			xpath_selector = excluded.xpath_selector,
			market = excluded.market,
			country = excluded.country,
			active = excluded.active,
			verified = excluded.verified,
			notes = excluded.notes,
			updated_at = excluded.updated_at`),
		strings.ToUpper(m.Ticker), m.CompanyName, m.BaseURL, m.URLTemplate, m.CSSSelector, m.XPath,
		m.Market, m.Country, m.Active, m.Verified, m.Notes, now, now)
	return err
}

// ListActive returns all active mappings ordered by ticker.
func (r *IRMappingsRepo) ListActive(ctx context.Context) ([]IRMapping, error) {
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	var out []IRMapping
	err := r.g.db.SelectContext(ctx, &out, r.g.rebind(
		`SELECT * FROM mcp_ir_mappings WHERE active = ? ORDER BY ticker ASC`), true)
	return out, err
}

package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/marketdesk/marketdesk/internal/errs"
)

// StocksRepo persists ticker metadata.
type StocksRepo struct {
	g *Gateway
}

// StockQuery is the narrow predicate for listing stocks.
type StockQuery struct {
	Market     string
	Sector     string
	ActiveOnly bool
	Limit      int
}

// GetBySymbol returns the stock for (symbol, market).
func (r *StocksRepo) GetBySymbol(ctx context.Context, symbol, market string) (*Stock, error) {
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	var s Stock
	err := r.g.db.GetContext(ctx, &s, r.g.rebind(
		`SELECT * FROM mcp_stocks WHERE symbol = ? AND market = ?`), symbol, market)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Newf(errs.KindNotFound, "stock %s (%s) not found", symbol, market)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Upsert inserts or updates a stock, idempotent on (symbol, market).
func (r *StocksRepo) Upsert(ctx context.Context, s *Stock) error {
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	now := r.g.now()
	_, err := r.g.db.ExecContext(ctx, r.g.rebind(`
		INSERT INTO mcp_stocks (symbol, market, country, currency, sector, active, indexes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, market) DO UPDATE SET
			country = excluded.country,
			currency = excluded.currency,
			sector = excluded.sector,
			active = excluded.active,
			indexes = excluded.indexes,
			updated_at = excluded.updated_at`),
		s.Symbol, s.Market, s.Country, s.Currency, s.Sector, s.Active, s.Indexes, now, now)
	return err
}

// Query lists stocks matching the predicate, symbol ascending.
func (r *StocksRepo) Query(ctx context.Context, q StockQuery) ([]Stock, error) {
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	query := `SELECT * FROM mcp_stocks WHERE 1=1`
	var args []interface{}
	if q.Market != "" {
		query += ` AND market = ?`
		args = append(args, q.Market)
	}
	if q.Sector != "" {
		query += ` AND sector = ?`
		args = append(args, q.Sector)
	}
	if q.ActiveOnly {
		query += ` AND active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY symbol ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	var out []Stock
	if err := r.g.db.SelectContext(ctx, &out, r.g.rebind(query), args...); err != nil {
		return nil, err
	}
	return out, nil
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// BarsRepo persists daily OHLCV rows.
type BarsRepo struct {
	g *Gateway
}

// BarQuery is the per-kind predicate for bar reads.
type BarQuery struct {
	Symbol string
	From   time.Time
	To     time.Time
	// AscendingDates flips the default (symbol ASC, date DESC) ordering.
	AscendingDates bool
	Limit          int
}

const barUpsert = `
	INSERT INTO mcp_price_cache (symbol, bar_date, open, high, low, close, volume, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (symbol, bar_date) DO UPDATE SET
		open = excluded.open,
		high = excluded.high,
		low = excluded.low,
		close = excluded.close,
		volume = excluded.volume,
		updated_at = excluded.updated_at`

// Upsert writes one bar, idempotent on (symbol, date).
func (r *BarsRepo) Upsert(ctx context.Context, bar *PriceBar) error {
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	now := r.g.now()
	_, err := r.g.db.ExecContext(ctx, r.g.rebind(barUpsert),
		bar.Symbol, bar.Date.UTC(), bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, now, now)
	return err
}

// BulkUpsert writes a batch in one transaction. Any failure rolls the
// whole batch back and reports the first failing row.
func (r *BarsRepo) BulkUpsert(ctx context.Context, bars []PriceBar) error {
	if len(bars) == 0 {
		return nil
	}
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	now := r.g.now()
	return r.g.inTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, r.g.rebind(barUpsert))
		if err != nil {
			return fmt.Errorf("prepare bar upsert: %w", err)
		}
		defer stmt.Close()

		for i := range bars {
			b := &bars[i]
			if _, err := stmt.ExecContext(ctx,
				b.Symbol, b.Date.UTC(), b.Open, b.High, b.Low, b.Close, b.Volume, now, now); err != nil {
				return &BulkWriteError{
					FirstFailing: fmt.Sprintf("%s@%s", b.Symbol, b.Date.Format("2006-01-02")),
					Count:        len(bars),
					Err:          err,
				}
			}
		}
		return nil
	})
}

// Query reads bars matching the predicate. Default order is
// (symbol ASC, date DESC) per the gateway contract.
func (r *BarsRepo) Query(ctx context.Context, q BarQuery) ([]PriceBar, error) {
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	query := `SELECT * FROM mcp_price_cache WHERE symbol = ?`
	args := []interface{}{q.Symbol}
	if !q.From.IsZero() {
		query += ` AND bar_date >= ?`
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		query += ` AND bar_date <= ?`
		args = append(args, q.To.UTC())
	}
	if q.AscendingDates {
		query += ` ORDER BY symbol ASC, bar_date ASC`
	} else {
		query += ` ORDER BY symbol ASC, bar_date DESC`
	}
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	var out []PriceBar
	if err := r.g.db.SelectContext(ctx, &out, r.g.rebind(query), args...); err != nil {
		return nil, err
	}
	return out, nil
}

// CoverageCount reports how many bars exist for symbol inside [from, to].
// The resolver uses it to decide whether L2 already covers a range.
func (r *BarsRepo) CoverageCount(ctx context.Context, symbol string, from, to time.Time) (int, error) {
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	var n int
	err := r.g.db.GetContext(ctx, &n, r.g.rebind(
		`SELECT COUNT(*) FROM mcp_price_cache WHERE symbol = ? AND bar_date >= ? AND bar_date <= ?`),
		symbol, from.UTC(), to.UTC())
	return n, err
}

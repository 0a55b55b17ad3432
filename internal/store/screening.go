package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ScreeningRepo persists ranked screening snapshots.
type ScreeningRepo struct {
	g *Gateway
}

// ScreenQuery is the predicate for snapshot reads.
type ScreenQuery struct {
	Strategy string
	AsOf     time.Time // zero means latest snapshot
	Limit    int
}

// ReplaceSnapshot atomically replaces the snapshot for (strategy, asOf):
// old rows are deleted and the new ranked list inserted in one
// transaction. Partial failure rolls the whole batch back.
func (r *ScreeningRepo) ReplaceSnapshot(ctx context.Context, strategy string, asOf time.Time, rows []ScreeningRow) error {
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	day := dateOnly(asOf)
	now := r.g.now()
	return r.g.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, r.g.rebind(
			`DELETE FROM mcp_maverick_screens WHERE strategy = ? AND as_of = ?`), strategy, day); err != nil {
			return fmt.Errorf("clear previous snapshot: %w", err)
		}
		stmt, err := tx.PreparexContext(ctx, r.g.rebind(`
			INSERT INTO mcp_maverick_screens (strategy, as_of, rank, symbol, score, details, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("prepare snapshot insert: %w", err)
		}
		defer stmt.Close()

		for i := range rows {
			row := &rows[i]
			details := string(row.Details)
			if details == "" {
				details = "{}"
			}
			if _, err := stmt.ExecContext(ctx,
				strategy, day, row.Rank, row.Symbol, row.Score, details, now, now); err != nil {
				return &BulkWriteError{
					FirstFailing: fmt.Sprintf("%s#%d", row.Symbol, row.Rank),
					Count:        len(rows),
					Err:          err,
				}
			}
		}
		return nil
	})
}

// Query reads snapshot rows ordered (symbol ASC, as_of DESC) per the
// gateway contract; pass a strategy and optionally an as-of date.
func (r *ScreeningRepo) Query(ctx context.Context, q ScreenQuery) ([]ScreeningRow, error) {
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	query := `SELECT * FROM mcp_maverick_screens WHERE strategy = ?`
	args := []interface{}{q.Strategy}
	if !q.AsOf.IsZero() {
		query += ` AND as_of = ?`
		args = append(args, dateOnly(q.AsOf))
	}
	query += ` ORDER BY symbol ASC, as_of DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	var out []ScreeningRow
	if err := r.g.db.SelectContext(ctx, &out, r.g.rebind(query), args...); err != nil {
		return nil, err
	}
	return out, nil
}

// Ranked returns a snapshot in rank order for presentation.
func (r *ScreeningRepo) Ranked(ctx context.Context, strategy string, asOf time.Time, limit int) ([]ScreeningRow, error) {
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	query := `SELECT * FROM mcp_maverick_screens WHERE strategy = ? AND as_of = ? ORDER BY rank ASC`
	args := []interface{}{strategy, dateOnly(asOf)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var out []ScreeningRow
	if err := r.g.db.SelectContext(ctx, &out, r.g.rebind(query), args...); err != nil {
		return nil, err
	}
	return out, nil
}

// LatestAsOf returns the newest snapshot date for a strategy.
func (r *ScreeningRepo) LatestAsOf(ctx context.Context, strategy string) (time.Time, error) {
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	var ts []time.Time
	err := r.g.db.SelectContext(ctx, &ts, r.g.rebind(
		`SELECT as_of FROM mcp_maverick_screens WHERE strategy = ? ORDER BY as_of DESC LIMIT 1`), strategy)
	if err != nil {
		return time.Time{}, err
	}
	if len(ts) == 0 {
		return time.Time{}, nil
	}
	return ts[0], nil
}

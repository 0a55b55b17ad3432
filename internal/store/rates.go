package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/marketdesk/marketdesk/internal/errs"
)

// RatesRepo persists exchange-rate observations.
type RatesRepo struct {
	g *Gateway
}

// dateOnly truncates to a UTC calendar date; (from, to, date) is unique
// at day granularity.
func dateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Get returns the stored rate for (from, to) on the given date.
func (r *RatesRepo) Get(ctx context.Context, from, to string, date time.Time) (*ExchangeRate, error) {
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	var rate ExchangeRate
	err := r.g.db.GetContext(ctx, &rate, r.g.rebind(
		`SELECT * FROM mcp_exchange_rates WHERE from_currency = ? AND to_currency = ? AND rate_date = ?`),
		strings.ToUpper(from), strings.ToUpper(to), dateOnly(date))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Newf(errs.KindNotFound, "rate %s/%s for %s not stored",
			strings.ToUpper(from), strings.ToUpper(to), date.Format("2006-01-02"))
	}
	if err != nil {
		return nil, err
	}
	return &rate, nil
}

// Upsert stores one observation, idempotent on (from, to, date).
func (r *RatesRepo) Upsert(ctx context.Context, rate *ExchangeRate) error {
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	now := r.g.now()
	_, err := r.g.db.ExecContext(ctx, r.g.rebind(`
		INSERT INTO mcp_exchange_rates (from_currency, to_currency, rate_date, rate, source_tag, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (from_currency, to_currency, rate_date) DO UPDATE SET
			rate = excluded.rate,
			source_tag = excluded.source_tag,
			updated_at = excluded.updated_at`),
		strings.ToUpper(rate.FromCurrency), strings.ToUpper(rate.ToCurrency),
		dateOnly(rate.RateDate), rate.Rate, rate.SourceTag, now, now)
	return err
}

// History returns observations for a pair inside [from, to], newest first.
func (r *RatesRepo) History(ctx context.Context, fromCur, toCur string, from, to time.Time) ([]ExchangeRate, error) {
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	var out []ExchangeRate
	err := r.g.db.SelectContext(ctx, &out, r.g.rebind(`
		SELECT * FROM mcp_exchange_rates
		WHERE from_currency = ? AND to_currency = ? AND rate_date >= ? AND rate_date <= ?
		ORDER BY rate_date DESC`),
		strings.ToUpper(fromCur), strings.ToUpper(toCur), dateOnly(from), dateOnly(to))
	return out, err
}

// Latest returns the most recent observation for a pair regardless of date.
func (r *RatesRepo) Latest(ctx context.Context, fromCur, toCur string) (*ExchangeRate, error) {
	ctx, cancel := r.g.withTimeout(ctx)
	defer cancel()

	var rate ExchangeRate
	err := r.g.db.GetContext(ctx, &rate, r.g.rebind(`
		SELECT * FROM mcp_exchange_rates
		WHERE from_currency = ? AND to_currency = ?
		ORDER BY rate_date DESC LIMIT 1`),
		strings.ToUpper(fromCur), strings.ToUpper(toCur))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Newf(errs.KindNotFound, "no stored rate for %s/%s",
			strings.ToUpper(fromCur), strings.ToUpper(toCur))
	}
	if err != nil {
		return nil, err
	}
	return &rate, nil
}

package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/marketdesk/marketdesk/internal/errs"
)

// migration is one forward-only schema step. Statements are written per
// dialect because the engines disagree on auto-increment keys.
type migration struct {
	Version  int
	Name     string
	Postgres []string
	SQLite   []string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "base schema",
		Postgres: []string{
			`CREATE TABLE IF NOT EXISTS mcp_stocks (
				id BIGSERIAL PRIMARY KEY,
				symbol TEXT NOT NULL,
				market TEXT NOT NULL,
				country TEXT NOT NULL DEFAULT '',
				currency TEXT NOT NULL DEFAULT '',
				sector TEXT NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT TRUE,
				indexes TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				UNIQUE (symbol, market)
			)`,
			`CREATE TABLE IF NOT EXISTS mcp_price_cache (
				id BIGSERIAL PRIMARY KEY,
				symbol TEXT NOT NULL,
				bar_date TIMESTAMPTZ NOT NULL,
				open DOUBLE PRECISION NOT NULL,
				high DOUBLE PRECISION NOT NULL,
				low DOUBLE PRECISION NOT NULL,
				close DOUBLE PRECISION NOT NULL,
				volume BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				UNIQUE (symbol, bar_date)
			)`,
			`CREATE TABLE IF NOT EXISTS mcp_transcripts (
				id BIGSERIAL PRIMARY KEY,
				ticker TEXT NOT NULL,
				quarter TEXT NOT NULL,
				fiscal_year INTEGER NOT NULL,
				transcript_text TEXT NOT NULL,
				source_tag TEXT NOT NULL DEFAULT '',
				source_url TEXT NOT NULL DEFAULT '',
				word_count INTEGER NOT NULL DEFAULT 0,
				fetched_at TIMESTAMPTZ NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				UNIQUE (ticker, quarter, fiscal_year)
			)`,
			`CREATE TABLE IF NOT EXISTS mcp_transcript_derivatives (
				id BIGSERIAL PRIMARY KEY,
				transcript_id BIGINT NOT NULL,
				kind TEXT NOT NULL,
				mode TEXT NOT NULL DEFAULT '',
				payload TEXT NOT NULL,
				model_tag TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				UNIQUE (transcript_id, kind, mode)
			)`,
			`CREATE TABLE IF NOT EXISTS mcp_ir_mappings (
				id BIGSERIAL PRIMARY KEY,
				ticker TEXT NOT NULL UNIQUE,
				company_name TEXT NOT NULL DEFAULT '',
				ir_base_url TEXT NOT NULL DEFAULT '',
				url_template TEXT NOT NULL DEFAULT '',
				css_selector TEXT NOT NULL DEFAULT '',
				xpath_selector TEXT NOT NULL DEFAULT '',
				market TEXT NOT NULL DEFAULT '',
				country TEXT NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT TRUE,
				verified BOOLEAN NOT NULL DEFAULT FALSE,
				notes TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS mcp_exchange_rates (
				id BIGSERIAL PRIMARY KEY,
				from_currency TEXT NOT NULL,
				to_currency TEXT NOT NULL,
				rate_date TIMESTAMPTZ NOT NULL,
				rate DOUBLE PRECISION NOT NULL,
				source_tag TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				UNIQUE (from_currency, to_currency, rate_date)
			)`,
			`CREATE TABLE IF NOT EXISTS mcp_maverick_screens (
				id BIGSERIAL PRIMARY KEY,
				strategy TEXT NOT NULL,
				as_of TIMESTAMPTZ NOT NULL,
				rank INTEGER NOT NULL,
				symbol TEXT NOT NULL,
				score DOUBLE PRECISION NOT NULL DEFAULT 0,
				details TEXT NOT NULL DEFAULT '{}',
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				UNIQUE (strategy, as_of, symbol)
			)`,
		},
		SQLite: []string{
			`CREATE TABLE IF NOT EXISTS mcp_stocks (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				symbol TEXT NOT NULL,
				market TEXT NOT NULL,
				country TEXT NOT NULL DEFAULT '',
				currency TEXT NOT NULL DEFAULT '',
				sector TEXT NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT 1,
				indexes TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				UNIQUE (symbol, market)
			)`,
			`CREATE TABLE IF NOT EXISTS mcp_price_cache (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				symbol TEXT NOT NULL,
				bar_date TIMESTAMP NOT NULL,
				open REAL NOT NULL,
				high REAL NOT NULL,
				low REAL NOT NULL,
				close REAL NOT NULL,
				volume INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				UNIQUE (symbol, bar_date)
			)`,
			`CREATE TABLE IF NOT EXISTS mcp_transcripts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				ticker TEXT NOT NULL,
				quarter TEXT NOT NULL,
				fiscal_year INTEGER NOT NULL,
				transcript_text TEXT NOT NULL,
				source_tag TEXT NOT NULL DEFAULT '',
				source_url TEXT NOT NULL DEFAULT '',
				word_count INTEGER NOT NULL DEFAULT 0,
				fetched_at TIMESTAMP NOT NULL,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				UNIQUE (ticker, quarter, fiscal_year)
			)`,
			`CREATE TABLE IF NOT EXISTS mcp_transcript_derivatives (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				transcript_id INTEGER NOT NULL,
				kind TEXT NOT NULL,
				mode TEXT NOT NULL DEFAULT '',
				payload TEXT NOT NULL,
				model_tag TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				UNIQUE (transcript_id, kind, mode)
			)`,
			`CREATE TABLE IF NOT EXISTS mcp_ir_mappings (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				ticker TEXT NOT NULL UNIQUE,
				company_name TEXT NOT NULL DEFAULT '',
				ir_base_url TEXT NOT NULL DEFAULT '',
				url_template TEXT NOT NULL DEFAULT '',
				css_selector TEXT NOT NULL DEFAULT '',
				xpath_selector TEXT NOT NULL DEFAULT '',
				market TEXT NOT NULL DEFAULT '',
				country TEXT NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT 1,
				verified BOOLEAN NOT NULL DEFAULT 0,
				notes TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS mcp_exchange_rates (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				from_currency TEXT NOT NULL,
				to_currency TEXT NOT NULL,
				rate_date TIMESTAMP NOT NULL,
				rate REAL NOT NULL,
				source_tag TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				UNIQUE (from_currency, to_currency, rate_date)
			)`,
			`CREATE TABLE IF NOT EXISTS mcp_maverick_screens (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				strategy TEXT NOT NULL,
				as_of TIMESTAMP NOT NULL,
				rank INTEGER NOT NULL,
				symbol TEXT NOT NULL,
				score REAL NOT NULL DEFAULT 0,
				details TEXT NOT NULL DEFAULT '{}',
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				UNIQUE (strategy, as_of, symbol)
			)`,
		},
	},
	{
		Version: 2,
		Name:    "query indexes",
		Postgres: []string{
			`CREATE INDEX IF NOT EXISTS idx_price_cache_symbol_date ON mcp_price_cache (symbol ASC, bar_date DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_screens_strategy_asof ON mcp_maverick_screens (strategy, as_of DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_transcripts_ticker ON mcp_transcripts (ticker)`,
		},
		SQLite: []string{
			`CREATE INDEX IF NOT EXISTS idx_price_cache_symbol_date ON mcp_price_cache (symbol ASC, bar_date DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_screens_strategy_asof ON mcp_maverick_screens (strategy, as_of DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_transcripts_ticker ON mcp_transcripts (ticker)`,
		},
	},
}

// Migrate applies pending migrations in order. Forward-only: a ledger row
// with a version this binary does not know is fatal, since it means the
// database belongs to a newer deployment.
func (g *Gateway) Migrate(ctx context.Context) error {
	ledger := `CREATE TABLE IF NOT EXISTS mcp_schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL
	)`
	if _, err := g.db.ExecContext(ctx, ledger); err != nil {
		return errs.Wrap(errs.KindFatal, "create migration ledger", err)
	}

	var maxApplied int
	if err := g.db.GetContext(ctx, &maxApplied,
		`SELECT COALESCE(MAX(version), 0) FROM mcp_schema_migrations`); err != nil {
		return errs.Wrap(errs.KindFatal, "read migration ledger", err)
	}

	latestKnown := migrations[len(migrations)-1].Version
	if maxApplied > latestKnown {
		return errs.Newf(errs.KindFatal,
			"database schema version %d is newer than this binary supports (%d)", maxApplied, latestKnown)
	}

	for _, m := range migrations {
		if m.Version <= maxApplied {
			continue
		}
		stmts := m.Postgres
		if g.driver == "sqlite" {
			stmts = m.SQLite
		}
		err := g.inTx(ctx, func(tx *sqlx.Tx) error {
			for _, stmt := range stmts {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
				}
			}
			_, err := tx.ExecContext(ctx, g.rebind(
				`INSERT INTO mcp_schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`),
				m.Version, m.Name, g.now())
			return err
		})
		if err != nil {
			return errs.Wrap(errs.KindFatal, "apply migration", err)
		}
		g.log.Info().Int("version", m.Version).Str("name", m.Name).Msg("migration applied")
	}
	return nil
}

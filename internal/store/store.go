// Package store is the L2 gateway: typed repositories over a relational
// store. Postgres (lib/pq) when DATABASE_URL is set, an embedded SQLite
// file otherwise. No SQL leaves this package.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

func init() {
	// modernc registers driver name "sqlite", unknown to sqlx's bind table.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Config controls the connection pool.
type Config struct {
	DatabaseURL     string        // postgres DSN; empty selects the embedded store
	SQLitePath      string        // file path for the embedded store
	MaxOpenConns    int           // default 20
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 3600s
	QueryTimeout    time.Duration // default 10s
}

func (c *Config) setDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 20
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 10
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 10 * time.Second
	}
	if c.SQLitePath == "" {
		c.SQLitePath = "marketdesk.db"
	}
}

// Gateway owns the database handle and hands out repositories. The
// connection pool never leaves this package.
type Gateway struct {
	db      *sqlx.DB
	driver  string
	timeout time.Duration
	log     zerolog.Logger
	clock   func() time.Time

	Stocks      *StocksRepo
	Bars        *BarsRepo
	Transcripts *TranscriptsRepo
	Rates       *RatesRepo
	IRMappings  *IRMappingsRepo
	Screening   *ScreeningRepo
}

// Open connects, configures the pool, and wires the repositories.
// Migrations are a separate explicit step.
func Open(cfg Config, log zerolog.Logger) (*Gateway, error) {
	cfg.setDefaults()

	driver, dsn := "postgres", cfg.DatabaseURL
	if dsn == "" {
		driver, dsn = "sqlite", cfg.SQLitePath
		log.Info().Str("path", cfg.SQLitePath).Msg("DATABASE_URL not set, using embedded store")
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s store: %w", driver, err)
	}

	return newGateway(db, driver, cfg.QueryTimeout, log), nil
}

func newGateway(db *sqlx.DB, driver string, timeout time.Duration, log zerolog.Logger) *Gateway {
	g := &Gateway{
		db:      db,
		driver:  driver,
		timeout: timeout,
		log:     log,
		clock:   func() time.Time { return time.Now().UTC() },
	}
	g.Stocks = &StocksRepo{g: g}
	g.Bars = &BarsRepo{g: g}
	g.Transcripts = &TranscriptsRepo{g: g}
	g.Rates = &RatesRepo{g: g}
	g.IRMappings = &IRMappingsRepo{g: g}
	g.Screening = &ScreeningRepo{g: g}
	return g
}

// Close drains the pool.
func (g *Gateway) Close() error { return g.db.Close() }

// Driver reports which engine backs the gateway.
func (g *Gateway) Driver() string { return g.driver }

// Health verifies the connection.
func (g *Gateway) Health(ctx context.Context) error { return g.db.PingContext(ctx) }

// rebind converts ?-style placeholders to the driver's dialect.
func (g *Gateway) rebind(query string) string { return g.db.Rebind(query) }

// withTimeout scopes a query context to the configured ceiling.
func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.timeout)
}

// now returns the gateway clock in UTC; row timestamps are set here, not
// by the database, so both engines behave identically.
func (g *Gateway) now() time.Time { return g.clock() }

// inTx runs fn inside a transaction with rollback on every error path.
func (g *Gateway) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// isUniqueViolation detects duplicate-key errors on both engines.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || // postgres 23505
		strings.Contains(msg, "UNIQUE constraint failed") // sqlite
}

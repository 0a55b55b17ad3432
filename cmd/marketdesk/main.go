package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/marketdesk/marketdesk/internal/app"
	"github.com/marketdesk/marketdesk/internal/config"
	"github.com/marketdesk/marketdesk/internal/store"
)

const appName = "marketdesk"

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Financial data MCP server: prices, FX, transcripts, news",
		Version: app.Version,
		Long: `MarketDesk serves financial market data over MCP stdio: daily price
bars, exchange rates, earnings-call transcripts with LLM summaries and
sentiment, transcript Q&A, and news. Answers come from a tiered cache
and a persistent store before any provider is called.`,
		RunE: runServe,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server (default)",
		RunE:  runServe,
	}
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE:  runMigrate,
	}
	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Run the scheduled refresh jobs once and exit",
		RunE:  runRefresh,
	}
	rootCmd.AddCommand(serveCmd, migrateCmd, refreshCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger writes to stderr: stdout is the MCP transport and must stay
// clean.
func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.Environment == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("app", appName).Logger()
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run() }()

	select {
	case <-ctx.Done():
		log.Info().Msg("signal received, shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	gw, err := store.Open(store.Config{
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
	}, log)
	if err != nil {
		return err
	}
	defer gw.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := gw.Migrate(ctx); err != nil {
		return err
	}
	log.Info().Str("driver", gw.Driver()).Msg("migrations applied")
	return nil
}

func runRefresh(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Jobs.RunOnce(ctx); err != nil {
		return err
	}
	log.Info().Msg("refresh complete")
	return nil
}

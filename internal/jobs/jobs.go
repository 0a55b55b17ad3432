// Package jobs runs the scheduled refresh work: the daily FX snapshot,
// the screening snapshot rebuild, and the hourly cache janitor. The same
// job set backs both the in-process scheduler and the one-shot refresh
// command.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/marketdesk/marketdesk/internal/cache"
	"github.com/marketdesk/marketdesk/internal/providers"
	"github.com/marketdesk/marketdesk/internal/resolver"
	"github.com/marketdesk/marketdesk/internal/store"
)

// Schedules, standard five-field cron in server-local time. FX runs
// after midnight UTC so the previous trading day has settled.
const (
	scheduleRates     = "30 0 * * *"
	scheduleScreening = "0 2 * * *"
	scheduleJanitor   = "0 * * * *"
)

const (
	screeningStrategy = "momentum"
	screeningLookback = 35 // calendar days of bars behind the momentum rank
	screeningUniverse = 50
	macroYieldSeries  = "DGS10"
)

// DefaultPairs is the FX snapshot universe.
var DefaultPairs = [][2]string{
	{"USD", "INR"},
	{"USD", "EUR"},
	{"USD", "GBP"},
	{"USD", "JPY"},
	{"EUR", "INR"},
}

// RateResolver is the slice of the resolver the FX job needs.
type RateResolver interface {
	Rate(ctx context.Context, from, to string, asOf time.Time) (resolver.RateAnswer, resolver.Provenance, error)
}

// BarsResolver is the slice of the resolver the screening job needs.
type BarsResolver interface {
	Bars(ctx context.Context, symbol string, from, to time.Time, interval string) ([]store.PriceBar, resolver.Provenance, error)
}

// StockLister enumerates the screening universe.
type StockLister interface {
	Query(ctx context.Context, q store.StockQuery) ([]store.Stock, error)
}

// SnapshotWriter persists a ranked screening snapshot.
type SnapshotWriter interface {
	ReplaceSnapshot(ctx context.Context, strategy string, asOf time.Time, rows []store.ScreeningRow) error
}

// MacroSource supplies macro series context for screening details.
// Satisfied by the FRED provider; nil skips the macro annotation.
type MacroSource interface {
	Series(ctx context.Context, seriesID string, from, to time.Time, limit int) ([]providers.SeriesObservation, error)
}

// Deps wires a Scheduler.
type Deps struct {
	Rates   RateResolver
	Bars    BarsResolver
	Stocks  StockLister
	Screens SnapshotWriter
	Memory  *cache.Memory
	Macro   MacroSource
	Pairs   [][2]string
	Log     zerolog.Logger
	Clock   func() time.Time
}

// Scheduler owns the cron runner and the job implementations.
type Scheduler struct {
	cron  *cron.Cron
	deps  Deps
	log   zerolog.Logger
	clock func() time.Time
}

// New builds a Scheduler; Start registers the entries.
func New(d Deps) *Scheduler {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if len(d.Pairs) == 0 {
		d.Pairs = DefaultPairs
	}
	return &Scheduler{
		cron:  cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		deps:  d,
		log:   d.Log,
		clock: d.Clock,
	}
}

// Start registers the schedules and launches the runner.
func (s *Scheduler) Start() error {
	entries := []struct {
		spec string
		name string
		run  func(context.Context) error
	}{
		{scheduleRates, "fx-snapshot", s.RefreshRates},
		{scheduleScreening, "screening-snapshot", s.RefreshScreening},
		{scheduleJanitor, "cache-janitor", s.JanitorCache},
	}
	for _, e := range entries {
		e := e
		if _, err := s.cron.AddFunc(e.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			runID := uuid.NewString()
			started := s.clock()
			if err := e.run(ctx); err != nil {
				s.log.Error().Err(err).Str("job", e.name).Str("run_id", runID).
					Dur("elapsed", s.clock().Sub(started)).Msg("scheduled job failed")
				return
			}
			s.log.Info().Str("job", e.name).Str("run_id", runID).
				Dur("elapsed", s.clock().Sub(started)).Msg("scheduled job finished")
		}); err != nil {
			return fmt.Errorf("register job %s: %w", e.name, err)
		}
	}
	s.cron.Start()
	s.log.Info().Msg("job scheduler started")
	return nil
}

// Stop halts the runner and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce executes every job immediately. Jobs run in order; failures
// are joined so a broken FX snapshot does not block the janitor.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errsAll []error
	for _, run := range []func(context.Context) error{
		s.RefreshRates, s.RefreshScreening, s.JanitorCache,
	} {
		if err := run(ctx); err != nil {
			errsAll = append(errsAll, err)
		}
	}
	return errors.Join(errsAll...)
}

// RefreshRates snapshots today's rate for each configured pair. The
// resolver's write-through persists the observation, so a call that
// succeeds is archived.
func (s *Scheduler) RefreshRates(ctx context.Context) error {
	if s.deps.Rates == nil {
		return nil
	}
	now := s.clock().UTC()
	failed := 0
	for _, pair := range s.deps.Pairs {
		ans, _, err := s.deps.Rates.Rate(ctx, pair[0], pair[1], now)
		if err != nil {
			failed++
			s.log.Warn().Err(err).Str("pair", pair[0]+"/"+pair[1]).Msg("fx snapshot pair failed")
			continue
		}
		s.log.Debug().Str("pair", pair[0]+"/"+pair[1]).Float64("rate", ans.Rate).Msg("fx snapshot stored")
	}
	if failed == len(s.deps.Pairs) {
		return fmt.Errorf("fx snapshot: all %d pairs failed", failed)
	}
	return nil
}

type screeningDetails struct {
	Momentum   float64 `json:"momentum"`
	FirstClose float64 `json:"first_close"`
	LastClose  float64 `json:"last_close"`
	BarCount   int     `json:"bar_count"`
	TenYearPct float64 `json:"ten_year_yield_pct,omitempty"`
}

// RefreshScreening rebuilds the momentum snapshot: rank active stocks by
// trailing price momentum, annotated with the latest ten-year yield.
func (s *Scheduler) RefreshScreening(ctx context.Context) error {
	if s.deps.Stocks == nil || s.deps.Screens == nil || s.deps.Bars == nil {
		return nil
	}
	now := s.clock().UTC()
	stocks, err := s.deps.Stocks.Query(ctx, store.StockQuery{ActiveOnly: true, Limit: screeningUniverse})
	if err != nil {
		return fmt.Errorf("screening universe: %w", err)
	}
	if len(stocks) == 0 {
		s.log.Info().Msg("screening universe empty, snapshot skipped")
		return nil
	}

	tenYear := s.latestTenYear(ctx, now)

	type ranked struct {
		symbol  string
		score   float64
		details screeningDetails
	}
	var scored []ranked
	from := now.AddDate(0, 0, -screeningLookback)
	for _, st := range stocks {
		bars, _, err := s.deps.Bars.Bars(ctx, st.Symbol, from, now, "1d")
		if err != nil || len(bars) < 2 {
			if err != nil {
				s.log.Warn().Err(err).Str("symbol", st.Symbol).Msg("screening bars unavailable, symbol skipped")
			}
			continue
		}
		// Row order depends on which tier answered; momentum needs
		// chronological bars.
		sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
		first, last := bars[0].Close, bars[len(bars)-1].Close
		if first <= 0 {
			continue
		}
		momentum := last/first - 1
		scored = append(scored, ranked{
			symbol: st.Symbol,
			score:  momentum,
			details: screeningDetails{
				Momentum:   momentum,
				FirstClose: first,
				LastClose:  last,
				BarCount:   len(bars),
				TenYearPct: tenYear,
			},
		})
	}
	if len(scored) == 0 {
		return fmt.Errorf("screening: no symbol had usable bars")
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	rows := make([]store.ScreeningRow, len(scored))
	for i, r := range scored {
		details, _ := json.Marshal(r.details)
		rows[i] = store.ScreeningRow{
			Strategy: screeningStrategy,
			AsOf:     now,
			Rank:     i + 1,
			Symbol:   r.symbol,
			Score:    r.score,
			Details:  details,
		}
	}
	if err := s.deps.Screens.ReplaceSnapshot(ctx, screeningStrategy, now, rows); err != nil {
		return fmt.Errorf("screening snapshot write: %w", err)
	}
	s.log.Info().Int("rows", len(rows)).Msg("screening snapshot replaced")
	return nil
}

// latestTenYear fetches the newest 10-year treasury yield; zero when the
// macro source is absent or down. Screening survives without it.
func (s *Scheduler) latestTenYear(ctx context.Context, now time.Time) float64 {
	if s.deps.Macro == nil {
		return 0
	}
	obs, err := s.deps.Macro.Series(ctx, macroYieldSeries, now.AddDate(0, 0, -10), now, 1)
	if err != nil || len(obs) == 0 {
		if err != nil {
			s.log.Warn().Err(err).Msg("macro yield unavailable")
		}
		return 0
	}
	return obs[0].Value
}

// JanitorCache sweeps expired entries out of the in-process tier.
// Expiry is otherwise lazy, so long-idle keys would pin memory.
func (s *Scheduler) JanitorCache(context.Context) error {
	if s.deps.Memory == nil {
		return nil
	}
	removed := s.deps.Memory.Flush()
	s.log.Debug().Int("removed", removed).Int("live", s.deps.Memory.Len()).Msg("cache janitor swept")
	return nil
}

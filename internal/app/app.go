// Package app wires the process: config, storage, cache tiers,
// resilience, providers, resolver, jobs and the MCP tool surface. All
// construction is explicit here so a reviewer can see the whole object
// graph in one place.
package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/marketdesk/marketdesk/internal/cache"
	"github.com/marketdesk/marketdesk/internal/config"
	"github.com/marketdesk/marketdesk/internal/jobs"
	"github.com/marketdesk/marketdesk/internal/keys"
	"github.com/marketdesk/marketdesk/internal/metrics"
	"github.com/marketdesk/marketdesk/internal/providers"
	"github.com/marketdesk/marketdesk/internal/resilience"
	"github.com/marketdesk/marketdesk/internal/resolver"
	"github.com/marketdesk/marketdesk/internal/store"
	"github.com/marketdesk/marketdesk/internal/tools"
)

// Version is stamped by the build; "dev" otherwise.
var Version = "dev"

// App is the assembled process.
type App struct {
	Config   *config.Config
	Policy   *config.Policy
	Log      zerolog.Logger
	Store    *store.Gateway
	Cache    *cache.Tiered
	Memory   *cache.Memory
	Metrics  *metrics.Registry
	Breakers *resilience.BreakerManager
	Markets  *keys.Registry
	Registry *providers.Registry
	Resolver *resolver.Resolver
	Jobs     *jobs.Scheduler
	Tools    *tools.Server

	redis *cache.Redis
	http  *http.Server
}

// New builds the full object graph. Failures here are fatal: a process
// that cannot reach its store or parse its policy should not start.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	// CACHE_TTL_SECONDS only overrides policy defaults when the operator
	// actually set it; the env default would otherwise flatten per-kind
	// TTLs like the week-long transcript one.
	var blanketTTL time.Duration
	if cfg.CacheTTLExplicit {
		blanketTTL = cfg.DefaultCacheTTL()
	}
	policy, err := config.LoadPolicy(cfg.PolicyPath, blanketTTL)
	if err != nil {
		return nil, err
	}

	gw, err := store.Open(store.Config{
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
	}, log)
	if err != nil {
		return nil, err
	}
	if err := gw.Migrate(ctx); err != nil {
		_ = gw.Close()
		return nil, err
	}
	if err := config.SyncMappings(ctx, cfg.MappingsPath, gw.IRMappings, log); err != nil {
		// Stale mappings degrade one transcript source, not the process.
		log.Error().Err(err).Msg("IR mappings sync failed, continuing with stored rows")
	}

	mem := cache.NewMemory(0)
	reg := metrics.NewRegistry()

	var redisTier *cache.Redis
	if cfg.CacheEnabled {
		if cfg.RedisURL != "" {
			redisTier, err = cache.DialURL(ctx, cfg.RedisURL)
		} else {
			redisTier, err = cache.Dial(ctx, cfg.RedisAddr(), "", 0)
		}
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr()).
				Msg("shared cache unreachable, running on the in-process tier only")
			redisTier = nil
		}
	}
	var sharedTier cache.Store
	if redisTier != nil {
		sharedTier = redisTier
	}
	tiered := cache.NewTiered(mem, sharedTier, log, reg)

	breakers := resilience.NewBreakerManager(
		resilience.BreakerConfig{},
		breakerOverrides(policy),
		reg.BreakerListener(),
		log,
	)

	markets := keys.NewRegistry()
	provReg := providers.NewRegistry()
	registerProviders(provReg, cfg, policy, gw, log)

	res := resolver.New(resolver.Deps{
		Markets:  markets,
		Registry: provReg,
		Cache:    tiered,
		Store:    gw,
		Breakers:       breakers,
		Retry:          resilience.RetryConfig{},
		RetryOverrides: retryOverrides(policy),
		Flight:         resilience.NewFlight(),
		TTL:      policy.Cache,
		Observer: reg,
		Log:      log,
	})

	var macro jobs.MacroSource
	if cfg.FREDAPIKey != "" {
		macro = providers.NewFRED(cfg.FREDAPIKey, log)
	}
	sched := jobs.New(jobs.Deps{
		Rates:   res,
		Bars:    res,
		Stocks:  gw.Stocks,
		Screens: gw.Screening,
		Memory:  mem,
		Macro:   macro,
		Log:     log,
	})

	toolSrv := tools.New(tools.Deps{
		Resolver: res,
		Markets:  markets,
		Observer: reg,
		Version:  Version,
		Log:      log,
	})

	a := &App{
		Config:   cfg,
		Policy:   policy,
		Log:      log,
		Store:    gw,
		Cache:    tiered,
		Memory:   mem,
		Metrics:  reg,
		Breakers: breakers,
		Markets:  markets,
		Registry: provReg,
		Resolver: res,
		Jobs:     sched,
		Tools:    toolSrv,
		redis:    redisTier,
	}
	a.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a, nil
}

// Run starts the scheduler and the health/metrics HTTP listener, then
// blocks serving MCP over stdio until the client disconnects.
func (a *App) Run() error {
	if err := a.Jobs.Start(); err != nil {
		return err
	}
	go func() {
		a.Log.Info().Str("addr", a.http.Addr).Msg("health and metrics listener started")
		if err := a.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Log.Error().Err(err).Msg("http listener failed")
		}
	}()
	return a.Tools.ServeStdio()
}

// Close tears down in reverse dependency order.
func (a *App) Close() {
	a.Jobs.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.http.Shutdown(ctx)

	if a.redis != nil {
		_ = a.redis.Close()
	}
	if err := a.Store.Close(); err != nil {
		a.Log.Error().Err(err).Msg("store close failed")
	}
	a.Log.Info().Msg("shutdown complete")
}

func (a *App) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", a.Metrics.Handler()).Methods(http.MethodGet)
	return r
}

func (a *App) handleHealth(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 3*time.Second)
	defer cancel()

	storeErr := a.Store.Health(ctx)
	cacheStatus := a.Cache.Health(ctx)

	status := struct {
		Status   string             `json:"status"`
		Store    string             `json:"store"`
		Cache    cache.HealthStatus `json:"cache"`
		Breakers map[string]string  `json:"breakers,omitempty"`
	}{
		Status: "ok",
		Store:  "ok",
		Cache:  cacheStatus,
	}
	if storeErr != nil {
		status.Status = "degraded"
		status.Store = storeErr.Error()
	} else if cacheStatus.Degraded {
		status.Status = "degraded"
	}
	for endpoint, state := range a.Breakers.Snapshot() {
		if status.Breakers == nil {
			status.Breakers = make(map[string]string)
		}
		status.Breakers[endpoint] = state.String()
	}

	code := http.StatusOK
	if storeErr != nil {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

// breakerOverrides converts policy circuit tuning into per-endpoint
// breaker configs. Endpoint identity equals the provider name.
func breakerOverrides(p *config.Policy) map[string]resilience.BreakerConfig {
	out := make(map[string]resilience.BreakerConfig, len(p.Providers))
	for name, pp := range p.Providers {
		c := pp.Circuit
		if c == (config.CircuitPolicy{}) {
			continue
		}
		cfg := resilience.BreakerConfig{
			FailureThreshold: c.FailureThreshold,
			RecoveryTimeout:  time.Duration(c.RecoverySecs) * time.Second,
			HalfOpenMaxCalls: c.HalfOpenMaxCalls,
			WindowInterval:   time.Duration(c.WindowSecs) * time.Second,
			FailureRate:      c.FailureRate,
		}
		if c.Strategy == "rate" {
			cfg.Strategy = resilience.DetectSlidingWindow
		}
		out[name] = cfg
	}
	return out
}

// retryOverrides converts policy retry tuning into per-provider retry
// configs for the resolver. Providers without a retry block keep the
// resolver's defaults.
func retryOverrides(p *config.Policy) map[string]resilience.RetryConfig {
	out := make(map[string]resilience.RetryConfig, len(p.Providers))
	for name, pp := range p.Providers {
		r := pp.Retry
		if r == (config.RetryPolicy{}) {
			continue
		}
		out[name] = resilience.RetryConfig{
			MaxAttempts:     r.MaxAttempts,
			InitialInterval: time.Duration(r.InitialMS) * time.Millisecond,
			MaxInterval:     time.Duration(r.MaxMS) * time.Millisecond,
		}
	}
	return out
}

// Default provider priorities per capability; lower runs first. Policy
// entries override individual priorities and can disable a provider.
const (
	prioPrimary   = 1
	prioSecondary = 2
	prioTertiary  = 3
)

func registerProviders(reg *providers.Registry, cfg *config.Config, policy *config.Policy, gw *store.Gateway, log zerolog.Logger) {
	add := func(cap providers.Capability, name string, prio int, impl interface{}) {
		if pp, ok := policy.Providers[name]; ok {
			if !pp.Enabled {
				log.Info().Str("provider", name).Str("capability", string(cap)).
					Msg("provider disabled by policy")
				return
			}
			if pp.Priority > 0 {
				prio = pp.Priority
			}
			if pp.RPS > 0 {
				// SDK-backed gateways throttle internally and skip this.
				if rl, ok := impl.(providers.RateLimited); ok {
					rl.SetRateLimit(pp.RPS, pp.Burst)
				}
			}
		}
		reg.Register(providers.Descriptor{
			Name: name, Capability: cap, Priority: prio, Endpoint: name,
		}, impl)
	}

	if cfg.TiingoAPIKey != "" {
		tiingo := providers.NewTiingo(cfg.TiingoAPIKey, log)
		add(providers.CapBars, tiingo.Name(), prioPrimary, tiingo)
		add(providers.CapRate, tiingo.Name(), prioSecondary, tiingo)
	}
	if cfg.AlphaVantageAPIKey != "" {
		av := providers.NewAlphaVantage(cfg.AlphaVantageAPIKey, log)
		add(providers.CapBars, av.Name(), prioSecondary, av)
	}
	if cfg.ExchangeRateAPIKey != "" {
		era := providers.NewExchangeRateAPI(cfg.ExchangeRateAPIKey, log)
		add(providers.CapRate, era.Name(), prioPrimary, era)
	}
	if cfg.FREDAPIKey != "" {
		fred := providers.NewFRED(cfg.FREDAPIKey, log)
		add(providers.CapRate, fred.Name(), prioTertiary, fred)
	}

	// Transcript chain: IR pages first, exchange filings second, the
	// aggregator (when configured) last.
	irSite := providers.NewIRSite(func(ctx context.Context, ticker string) (*store.IRMapping, error) {
		return gw.IRMappings.Get(ctx, ticker)
	}, log)
	add(providers.CapTranscript, irSite.Name(), prioPrimary, irSite)
	filings := providers.NewExchangeFilings(cfg.ExchangeFilingsURL, log)
	add(providers.CapTranscript, filings.Name(), prioSecondary, filings)
	if cfg.AggregatorURL != "" {
		agg := providers.NewAggregatorSite(cfg.AggregatorURL, cfg.AggregatorSelector, log)
		add(providers.CapTranscript, agg.Name(), prioTertiary, agg)
	}

	// Model gateways: OpenAI-compatible first (direct or OpenRouter),
	// Anthropic as the fallback.
	if key, baseURL := cfg.ModelGatewayKey(); key != "" {
		oai := providers.NewOpenAIGateway(providers.OpenAIGatewayConfig{
			APIKey:  key,
			BaseURL: baseURL,
		}, log)
		add(providers.CapSummary, oai.Name(), prioPrimary, oai)
		add(providers.CapSentiment, oai.Name(), prioPrimary, oai)
		add(providers.CapEmbed, oai.Name(), prioPrimary, oai)
	}
	if cfg.AnthropicAPIKey != "" {
		anthropic := providers.NewAnthropicGateway(cfg.AnthropicAPIKey, "", 0, log)
		add(providers.CapSummary, anthropic.Name(), prioSecondary, anthropic)
		add(providers.CapSentiment, anthropic.Name(), prioSecondary, anthropic)
	}

	if cfg.TavilyAPIKey != "" {
		tavily := providers.NewTavily(cfg.TavilyAPIKey, log)
		add(providers.CapNews, tavily.Name(), prioPrimary, tavily)
		add(providers.CapSearch, tavily.Name(), prioSecondary, tavily)
	}
	if cfg.ExaAPIKey != "" {
		exa := providers.NewExa(cfg.ExaAPIKey, log)
		add(providers.CapNews, exa.Name(), prioSecondary, exa)
		add(providers.CapSearch, exa.Name(), prioPrimary, exa)
	}
}

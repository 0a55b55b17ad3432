// Package config loads runtime settings: environment variables for
// secrets and connections, a YAML policy file for provider tuning, and
// a JSON mapping file for transcript scraping recipes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything read from the environment at startup.
type Config struct {
	Environment string
	LogLevel    string

	// Storage.
	DatabaseURL string
	SQLitePath  string

	// Cache. CacheTTLExplicit records whether CACHE_TTL_SECONDS was set
	// in the environment; only then does it override the per-kind policy
	// defaults.
	RedisURL         string
	RedisHost        string
	RedisPort        int
	CacheEnabled     bool
	CacheTTLSeconds  int
	CacheTTLExplicit bool

	// Provider credentials. Empty means the provider stays
	// unregistered and the chain skips it.
	TiingoAPIKey       string
	AlphaVantageAPIKey string
	ExchangeRateAPIKey string
	FREDAPIKey         string
	OpenRouterAPIKey   string
	OpenAIAPIKey       string
	AnthropicAPIKey    string
	TavilyAPIKey       string
	ExaAPIKey          string

	// Scrape endpoints for the transcript chain. The aggregator is
	// opt-in: an empty page URL leaves it unregistered.
	ExchangeFilingsURL string
	AggregatorURL      string
	AggregatorSelector string

	// Optional file paths.
	PolicyPath   string
	MappingsPath string

	// HTTP surface for health and metrics.
	ListenAddr string
}

// Load reads .env if present, then the environment. Missing optional
// values get defaults; nothing here is fatal because providers without
// keys are simply skipped.
func Load() (*Config, error) {
	// .env is a local-development convenience; absence is normal.
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getEnv("SQLITE_PATH", "marketdesk.db"),

		RedisURL:        os.Getenv("REDIS_URL"),
		RedisHost:       getEnv("REDIS_HOST", "localhost"),
		RedisPort:       getEnvInt("REDIS_PORT", 6379),
		CacheEnabled:    getEnvBool("CACHE_ENABLED", true),
		CacheTTLSeconds: getEnvInt("CACHE_TTL_SECONDS", 3600),

		TiingoAPIKey:       os.Getenv("TIINGO_API_KEY"),
		AlphaVantageAPIKey: os.Getenv("ALPHA_VANTAGE_API_KEY"),
		ExchangeRateAPIKey: os.Getenv("EXCHANGE_RATE_API_KEY"),
		FREDAPIKey:         os.Getenv("FRED_API_KEY"),
		OpenRouterAPIKey:   os.Getenv("OPENROUTER_API_KEY"),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		TavilyAPIKey:       os.Getenv("TAVILY_API_KEY"),
		ExaAPIKey:          os.Getenv("EXA_API_KEY"),

		ExchangeFilingsURL: getEnv("EXCHANGE_FILINGS_SEARCH_URL",
			"https://www.nseindia.com/companies-listing/corporate-filings-announcements?symbol=%s"),
		AggregatorURL:      os.Getenv("AGGREGATOR_PAGE_URL"),
		AggregatorSelector: getEnv("AGGREGATOR_SELECTOR", "article"),

		PolicyPath:   getEnv("PROVIDERS_POLICY_PATH", ""),
		MappingsPath: getEnv("IR_MAPPINGS_PATH", ""),

		ListenAddr: getEnv("LISTEN_ADDR", ":8090"),
	}
	cfg.CacheTTLExplicit = os.Getenv("CACHE_TTL_SECONDS") != ""

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown LOG_LEVEL %q", c.LogLevel)
	}
	if c.CacheTTLSeconds <= 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must be positive, got %d", c.CacheTTLSeconds)
	}
	if c.RedisPort <= 0 || c.RedisPort > 65535 {
		return fmt.Errorf("REDIS_PORT out of range: %d", c.RedisPort)
	}
	return nil
}

// RedisAddr returns the host:port form unless a full URL was given.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// DefaultCacheTTL returns the configured shared-tier TTL.
func (c *Config) DefaultCacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// ModelGatewayKey prefers OpenRouter, falling back to a direct OpenAI
// key.
func (c *Config) ModelGatewayKey() (key, baseURL string) {
	if c.OpenRouterAPIKey != "" {
		return c.OpenRouterAPIKey, "https://openrouter.ai/api/v1"
	}
	return c.OpenAIAPIKey, ""
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy is the optional YAML tuning file. It overrides the built-in
// per-provider defaults for rate limits, retry, and breaker behavior
// without a redeploy.
type Policy struct {
	Providers map[string]ProviderPolicy `yaml:"providers"`
	Cache     CachePolicy               `yaml:"cache"`
}

// ProviderPolicy tunes one upstream endpoint.
type ProviderPolicy struct {
	Enabled  bool          `yaml:"enabled"`
	Priority int           `yaml:"priority"`
	RPS      float64       `yaml:"rps"`
	Burst    int           `yaml:"burst"`
	Retry    RetryPolicy   `yaml:"retry"`
	Circuit  CircuitPolicy `yaml:"circuit"`
}

// RetryPolicy mirrors the resilience layer's retry knobs.
type RetryPolicy struct {
	MaxAttempts int `yaml:"max_attempts"`
	InitialMS   int `yaml:"initial_ms"`
	MaxMS       int `yaml:"max_ms"`
}

// CircuitPolicy mirrors the breaker knobs. Strategy is either
// "consecutive" or "rate".
type CircuitPolicy struct {
	Strategy         string  `yaml:"strategy"`
	FailureThreshold int     `yaml:"failure_threshold"`
	FailureRate      float64 `yaml:"failure_rate"`
	WindowSecs       int     `yaml:"window_secs"`
	RecoverySecs     int     `yaml:"recovery_secs"`
	HalfOpenMaxCalls int     `yaml:"half_open_max_calls"`
}

// CachePolicy tunes per-namespace TTLs, in seconds.
type CachePolicy struct {
	BarsTTL       int `yaml:"bars_ttl"`
	RateTTL       int `yaml:"rate_ttl"`
	NewsTTL       int `yaml:"news_ttl"`
	TranscriptTTL int `yaml:"transcript_ttl"`
	DerivedTTL    int `yaml:"derived_ttl"`
}

// DefaultPolicy returns the built-in tuning used when no policy file
// is configured.
func DefaultPolicy() *Policy {
	return &Policy{
		Providers: map[string]ProviderPolicy{},
		Cache: CachePolicy{
			BarsTTL:       6 * 3600,
			RateTTL:       24 * 3600,
			NewsTTL:       1800,
			TranscriptTTL: 7 * 24 * 3600,
			DerivedTTL:    24 * 3600,
		},
	}
}

// LoadPolicy reads and validates a YAML policy file. An empty path
// yields the defaults. blanketTTL, when positive, stands in for the
// built-in default on every cache kind the file leaves unset; zero
// keeps the per-kind defaults.
func LoadPolicy(path string, blanketTTL time.Duration) (*Policy, error) {
	p := &Policy{Providers: map[string]ProviderPolicy{}}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading policy file: %w", err)
		}
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("parsing policy file: %w", err)
		}
	}
	p.Cache = p.Cache.fillUnset(blanketTTL)
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

// fillUnset completes zero TTLs, preferring the blanket override over
// the built-in per-kind defaults. Explicit file values always win.
func (c CachePolicy) fillUnset(blanket time.Duration) CachePolicy {
	def := DefaultPolicy().Cache
	if secs := int(blanket / time.Second); secs > 0 {
		def = CachePolicy{
			BarsTTL:       secs,
			RateTTL:       secs,
			NewsTTL:       secs,
			TranscriptTTL: secs,
			DerivedTTL:    secs,
		}
	}
	if c.BarsTTL <= 0 {
		c.BarsTTL = def.BarsTTL
	}
	if c.RateTTL <= 0 {
		c.RateTTL = def.RateTTL
	}
	if c.NewsTTL <= 0 {
		c.NewsTTL = def.NewsTTL
	}
	if c.TranscriptTTL <= 0 {
		c.TranscriptTTL = def.TranscriptTTL
	}
	if c.DerivedTTL <= 0 {
		c.DerivedTTL = def.DerivedTTL
	}
	return c
}

// Validate checks the tunables that can silently break behavior.
func (p *Policy) Validate() error {
	for name, pp := range p.Providers {
		if pp.RPS < 0 {
			return fmt.Errorf("provider %s: rps cannot be negative", name)
		}
		if pp.Retry.MaxAttempts < 0 {
			return fmt.Errorf("provider %s: retry max_attempts cannot be negative", name)
		}
		switch pp.Circuit.Strategy {
		case "", "consecutive", "rate":
		default:
			return fmt.Errorf("provider %s: unknown circuit strategy %q", name, pp.Circuit.Strategy)
		}
		if pp.Circuit.FailureRate < 0 || pp.Circuit.FailureRate > 1 {
			return fmt.Errorf("provider %s: failure_rate must be within [0,1]", name)
		}
	}
	c := p.Cache
	for _, ttl := range []int{c.BarsTTL, c.RateTTL, c.NewsTTL, c.TranscriptTTL, c.DerivedTTL} {
		if ttl <= 0 {
			return fmt.Errorf("cache TTLs must be positive")
		}
	}
	return nil
}

// TTL helpers.

func (c CachePolicy) Bars() time.Duration       { return time.Duration(c.BarsTTL) * time.Second }
func (c CachePolicy) Rate() time.Duration       { return time.Duration(c.RateTTL) * time.Second }
func (c CachePolicy) News() time.Duration       { return time.Duration(c.NewsTTL) * time.Second }
func (c CachePolicy) Transcript() time.Duration { return time.Duration(c.TranscriptTTL) * time.Second }
func (c CachePolicy) Derived() time.Duration    { return time.Duration(c.DerivedTTL) * time.Second }

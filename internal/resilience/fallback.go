package resilience

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/marketdesk/marketdesk/internal/errs"
)

// FallbackStrategy is one alternative way to produce a value after the
// primary attempt fails. Strategies must not mutate the chain.
type FallbackStrategy interface {
	Name() string
	CanExecute(ctx context.Context) bool
	Execute(ctx context.Context) (interface{}, error)
}

// FallbackChain tries strategies in declaration order. It is consulted
// only for retryable or open-circuit failures; permanent errors and
// genuine NotFound answers pass straight through.
type FallbackChain struct {
	strategies []FallbackStrategy
	log        zerolog.Logger
}

// NewFallbackChain builds an immutable chain.
func NewFallbackChain(log zerolog.Logger, strategies ...FallbackStrategy) *FallbackChain {
	return &FallbackChain{strategies: strategies, log: log}
}

// Eligible reports whether the chain should run for the given primary
// failure.
func (c *FallbackChain) Eligible(primaryErr error) bool {
	if primaryErr == nil {
		return false
	}
	return errs.Retryable(primaryErr) ||
		errs.IsKind(primaryErr, errs.KindCircuitOpen) ||
		errs.IsKind(primaryErr, errs.KindUpstreamUnavailable)
}

// Execute runs the first strategy whose CanExecute returns true; later
// strategies run only if the chosen one itself fails. When every strategy
// fails the primary error is returned.
func (c *FallbackChain) Execute(ctx context.Context, primaryErr error) (interface{}, error) {
	if !c.Eligible(primaryErr) {
		return nil, primaryErr
	}
	for _, s := range c.strategies {
		if !s.CanExecute(ctx) {
			continue
		}
		val, err := s.Execute(ctx)
		if err == nil {
			c.log.Debug().Str("strategy", s.Name()).Msg("fallback strategy served request")
			return val, nil
		}
		c.log.Warn().Err(err).Str("strategy", s.Name()).Msg("fallback strategy failed, trying next")
	}
	return nil, primaryErr
}

package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketdesk/marketdesk/internal/errs"
)

type fakeStrategy struct {
	name    string
	able    bool
	val     interface{}
	err     error
	invoked *[]string
}

func (s *fakeStrategy) Name() string                     { return s.name }
func (s *fakeStrategy) CanExecute(context.Context) bool  { return s.able }
func (s *fakeStrategy) Execute(context.Context) (interface{}, error) {
	*s.invoked = append(*s.invoked, s.name)
	return s.val, s.err
}

func TestFallbackChain_FirstEligibleWins(t *testing.T) {
	var invoked []string
	chain := NewFallbackChain(zerolog.Nop(),
		&fakeStrategy{name: "stale-cache", able: false, invoked: &invoked},
		&fakeStrategy{name: "secondary-api", able: true, val: 83.2, invoked: &invoked},
		&fakeStrategy{name: "approx-table", able: true, val: 80.0, invoked: &invoked},
	)

	val, err := chain.Execute(context.Background(), errs.New(errs.KindTransient, "primary 503"))
	require.NoError(t, err)
	assert.Equal(t, 83.2, val)
	assert.Equal(t, []string{"secondary-api"}, invoked)
}

func TestFallbackChain_AdvancesWhenStrategyFails(t *testing.T) {
	var invoked []string
	chain := NewFallbackChain(zerolog.Nop(),
		&fakeStrategy{name: "secondary-api", able: true, err: errors.New("also down"), invoked: &invoked},
		&fakeStrategy{name: "approx-table", able: true, val: 80.0, invoked: &invoked},
	)

	val, err := chain.Execute(context.Background(), errs.New(errs.KindCircuitOpen, "primary open"))
	require.NoError(t, err)
	assert.Equal(t, 80.0, val)
	assert.Equal(t, []string{"secondary-api", "approx-table"}, invoked)
}

func TestFallbackChain_NotEligibleForPermanent(t *testing.T) {
	var invoked []string
	chain := NewFallbackChain(zerolog.Nop(),
		&fakeStrategy{name: "approx-table", able: true, val: 80.0, invoked: &invoked},
	)

	primary := errs.New(errs.KindNotFound, "pair unknown")
	_, err := chain.Execute(context.Background(), primary)
	require.Error(t, err)
	assert.Equal(t, primary, err)
	assert.Empty(t, invoked)
}

func TestFallbackChain_AllFailReturnsPrimaryError(t *testing.T) {
	var invoked []string
	chain := NewFallbackChain(zerolog.Nop(),
		&fakeStrategy{name: "a", able: true, err: errors.New("nope"), invoked: &invoked},
		&fakeStrategy{name: "b", able: true, err: errors.New("nope"), invoked: &invoked},
	)

	primary := errs.New(errs.KindTransient, "primary 503")
	_, err := chain.Execute(context.Background(), primary)
	require.Error(t, err)
	assert.Equal(t, primary, err)
	assert.Equal(t, []string{"a", "b"}, invoked)
}

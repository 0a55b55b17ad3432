// Package errs defines the error taxonomy shared by the cache, store,
// resilience and resolver layers. Every error that crosses a package
// boundary carries a Kind so callers can dispatch on category instead
// of string matching.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for retry, breaker and fallback decisions.
type Kind int

const (
	// KindUnknown is the zero value; treated as Transient by the breaker.
	KindUnknown Kind = iota
	// KindInvalidInput is a caller error. Never retried, never counted.
	KindInvalidInput
	// KindNotFound means the fact genuinely does not exist upstream.
	KindNotFound
	// KindTransient is retryable and counts as a breaker failure.
	KindTransient
	// KindPermanent is not retryable; the caller moves to the next provider.
	KindPermanent
	// KindQuotaExceeded is a rate/quota signal; retried after the indicated
	// delay and counted as a breaker failure, but logged distinctly.
	KindQuotaExceeded
	// KindCircuitOpen is a fail-fast from the breaker, not a provider fault.
	KindCircuitOpen
	// KindUpstreamUnavailable means every provider for a capability failed.
	KindUpstreamUnavailable
	// KindPartial marks a response that includes a successful portion plus
	// a description of what is missing.
	KindPartial
	// KindFatal is a configuration or schema error that aborts startup.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindCircuitOpen:
		return "circuit_open"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindPartial:
		return "partial"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is the typed error value used across the data core.
type Error struct {
	Kind       Kind
	Provider   string        // originating provider or endpoint, if any
	Message    string        // stable, human-readable
	RetryAfter time.Duration // populated for quota errors when the server says
	Hint       string        // user-facing hint, e.g. likely availability window
	Err        error         // wrapped cause
}

func (e *Error) Error() string {
	switch {
	case e.Provider != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	case e.Provider != "":
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a typed error with a stable message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Newf creates a typed error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// FromProvider tags an error with its originating provider.
func FromProvider(kind Kind, provider, message string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message, Err: err}
}

// KindOf extracts the Kind from err, unwrapping as needed.
// Plain errors report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether err should be retried by the resilience layer.
// Unknown errors are treated as transient so transport-level failures from
// third-party SDKs are not silently dropped.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindQuotaExceeded, KindUnknown:
		return err != nil
	default:
		return false
	}
}

// CountsForBreaker reports whether err should increment breaker failure
// counters. NotFound is a genuine answer, InvalidInput a caller bug, and
// CircuitOpen a breaker artifact; none of them indicts the provider.
func CountsForBreaker(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindQuotaExceeded, KindUnknown:
		return err != nil
	default:
		return false
	}
}

// RetryAfterOf returns the server-indicated retry delay, if any.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// ClassifyHTTPStatus maps an upstream HTTP status to an error kind
// following the breaker accounting rules: 5xx, 408 and 429 are provider
// faults; 404 is an absent fact; other 4xx are permanent.
func ClassifyHTTPStatus(status int) Kind {
	switch {
	case status == 404:
		return KindNotFound
	case status == 408:
		return KindTransient
	case status == 429:
		return KindQuotaExceeded
	case status >= 500:
		return KindTransient
	case status >= 400:
		return KindPermanent
	default:
		return KindUnknown
	}
}

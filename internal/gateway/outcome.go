package gateway

import (
	"context"
	"time"
)

// Kind classifies the result of a single provider invocation.
type Kind int

const (
	// KindSuccess means the provider returned a usable result.
	KindSuccess Kind = iota
	// KindRateLimited means the provider rejected the call for exceeding its quota (HTTP 429).
	KindRateLimited
	// KindTransient means the call failed for a reason expected to clear on its own
	// (timeouts, connection resets, 5xx).
	KindTransient
	// KindNonRetryable means the call can never succeed as submitted (auth, validation).
	KindNonRetryable
)

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	case KindNonRetryable:
		return "non_retryable"
	default:
		return "unknown"
	}
}

// Retryable reports whether the dispatch loop backs off and tries again.
func (k Kind) Retryable() bool {
	return k == KindRateLimited || k == KindTransient
}

// Outcome is the classified result of one provider invocation.
type Outcome[R any] struct {
	Kind  Kind
	Value R
	Err   error

	// RetryAfter is an optional provider hint (e.g. a Retry-After header).
	// The dispatch loop waits at least this long, still bounded by MaxBackoff.
	RetryAfter time.Duration
}

// Success wraps a successful provider result.
func Success[R any](value R) Outcome[R] {
	return Outcome[R]{Kind: KindSuccess, Value: value}
}

// RateLimited reports a quota rejection from the provider.
func RateLimited[R any](err error, retryAfter time.Duration) Outcome[R] {
	return Outcome[R]{Kind: KindRateLimited, Err: err, RetryAfter: retryAfter}
}

// Transient reports a failure worth retrying.
func Transient[R any](err error) Outcome[R] {
	return Outcome[R]{Kind: KindTransient, Err: err}
}

// NonRetryable reports a failure that is surfaced to the caller immediately.
func NonRetryable[R any](err error) Outcome[R] {
	return Outcome[R]{Kind: KindNonRetryable, Err: err}
}

// Provider performs the outbound call. The gateway never inspects the payload
// and relies on the provider to classify every result.
type Provider[P, R any] interface {
	Invoke(ctx context.Context, payload P) Outcome[R]
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc[P, R any] func(ctx context.Context, payload P) Outcome[R]

// Invoke calls f(ctx, payload).
func (f ProviderFunc[P, R]) Invoke(ctx context.Context, payload P) Outcome[R] {
	return f(ctx, payload)
}

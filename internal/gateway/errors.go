package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrExhaustedRetries matches any *ExhaustedRetriesError via errors.Is.
	ErrExhaustedRetries = errors.New("gateway: retries exhausted")

	// ErrQueueFull is returned by Submit when a bounded queue is at capacity.
	ErrQueueFull = errors.New("gateway: queue full")

	// ErrGatewayClosed is returned by Submit after Shutdown, and resolves requests
	// still pending when a shutdown deadline expires.
	ErrGatewayClosed = errors.New("gateway: closed")

	// ErrProviderPanic wraps a panic raised by the provider during an invocation.
	ErrProviderPanic = errors.New("gateway: provider panicked")

	// ErrDispatchFailed wraps a panic raised by the dispatch loop itself
	// (hooks, logging, sleeping) while an envelope was being processed.
	ErrDispatchFailed = errors.New("gateway: dispatch failed")
)

// ExhaustedRetriesError is returned once a request has failed with a retryable
// classification more than MaxAttempts times. Attempts counts every provider
// invocation; LastKind and LastErr describe the final one.
type ExhaustedRetriesError struct {
	Attempts int
	LastKind Kind
	LastErr  error
}

func (e *ExhaustedRetriesError) Error() string {
	if e == nil {
		return ErrExhaustedRetries.Error()
	}
	if e.LastErr != nil {
		return fmt.Sprintf("%s after %d attempts (last: %s): %v", ErrExhaustedRetries, e.Attempts, e.LastKind, e.LastErr)
	}
	return fmt.Sprintf("%s after %d attempts (last: %s)", ErrExhaustedRetries, e.Attempts, e.LastKind)
}

// Is lets errors.Is(err, ErrExhaustedRetries) match.
func (e *ExhaustedRetriesError) Is(target error) bool {
	return target == ErrExhaustedRetries
}

func (e *ExhaustedRetriesError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.LastErr
}

// ProviderFailure carries a non-retryable provider error back to the caller.
type ProviderFailure struct {
	Kind Kind
	Err  error
}

func (e *ProviderFailure) Error() string {
	if e == nil || e.Err == nil {
		return "gateway: provider failure"
	}
	return fmt.Sprintf("gateway: provider failure (%s): %v", e.Kind, e.Err)
}

func (e *ProviderFailure) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

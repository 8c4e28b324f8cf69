package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// completion is written exactly once and then published by closing done.
// settle runs before done closes, so waiters observe its effects.
type completion[R any] struct {
	once  sync.Once
	done  chan struct{}
	value R
	err   error
}

func newCompletion[R any]() *completion[R] {
	return &completion[R]{done: make(chan struct{})}
}

func (c *completion[R]) resolve(value R, err error, settle func()) bool {
	resolved := false
	c.once.Do(func() {
		c.value = value
		c.err = err
		if settle != nil {
			settle()
		}
		close(c.done)
		resolved = true
	})
	return resolved
}

// envelope is owned by the queue until dequeued, then by the dispatch loop
// until resolved. Retries reuse the same envelope.
type envelope[P, R any] struct {
	id         string
	payload    P
	attempt    int
	enqueuedAt time.Time
	dequeuedAt time.Time
	result     *completion[R]
}

func newEnvelope[P, R any](payload P, now time.Time) *envelope[P, R] {
	return &envelope[P, R]{
		id:         uuid.NewString(),
		payload:    payload,
		enqueuedAt: now,
		result:     newCompletion[R](),
	}
}

func (e *envelope[P, R]) resolve(value R, err error, settle func()) bool {
	return e.result.resolve(value, err, settle)
}

func (e *envelope[P, R]) handle() *Handle[R] {
	return &Handle[R]{id: e.id, enqueuedAt: e.enqueuedAt, result: e.result}
}

// Handle is the caller's view of a submitted request.
type Handle[R any] struct {
	id         string
	enqueuedAt time.Time
	result     *completion[R]
}

// ID returns the request id used in gateway logs.
func (h *Handle[R]) ID() string {
	return h.id
}

// EnqueuedAt returns the time the request was accepted.
func (h *Handle[R]) EnqueuedAt() time.Time {
	return h.enqueuedAt
}

// Done is closed once the request has been resolved.
func (h *Handle[R]) Done() <-chan struct{} {
	return h.result.done
}

// Wait blocks until the request resolves or ctx ends. Giving up through ctx
// does not remove the request from the gateway; it is still dispatched.
func (h *Handle[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-h.result.done:
		return h.result.value, h.result.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

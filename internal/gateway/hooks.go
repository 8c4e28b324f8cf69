package gateway

import "time"

// SubmitEvent is emitted after a request is accepted into the queue.
type SubmitEvent struct {
	ID         string
	QueueDepth int
}

// AttemptEvent is emitted after every provider invocation.
type AttemptEvent struct {
	ID       string
	Attempt  int
	Kind     Kind
	Err      error
	Started  time.Time
	Duration time.Duration
}

// BackoffEvent is emitted before the loop sleeps ahead of a retry.
type BackoffEvent struct {
	ID      string
	Attempt int
	Kind    Kind
	Delay   time.Duration
}

// ResolveEvent is emitted once per request when its handle is resolved.
type ResolveEvent struct {
	ID        string
	Attempts  int
	Err       error
	QueueWait time.Duration
	Total     time.Duration
}

// Hooks observe the gateway and must not block. OnSubmit runs on the submitting
// goroutine after the request is queued; a panic there is logged and the
// submission stands. The rest run on the dispatch loop, where a panicking hook
// fails the current request but not the loop.
type Hooks struct {
	OnSubmit  func(SubmitEvent)
	OnAttempt func(AttemptEvent)
	OnBackoff func(BackoffEvent)
	OnResolve func(ResolveEvent)
}

type hookSet []Hooks

func (hs hookSet) submit(ev SubmitEvent) {
	for _, h := range hs {
		if h.OnSubmit != nil {
			h.OnSubmit(ev)
		}
	}
}

func (hs hookSet) attempt(ev AttemptEvent) {
	for _, h := range hs {
		if h.OnAttempt != nil {
			h.OnAttempt(ev)
		}
	}
}

func (hs hookSet) backoff(ev BackoffEvent) {
	for _, h := range hs {
		if h.OnBackoff != nil {
			h.OnBackoff(ev)
		}
	}
}

func (hs hookSet) resolve(ev ResolveEvent) {
	for _, h := range hs {
		if h.OnResolve != nil {
			h.OnResolve(ev)
		}
	}
}

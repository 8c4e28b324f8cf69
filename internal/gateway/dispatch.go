package gateway

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// run is the dispatch loop. At most one instance exists; it exits when the
// queue is empty and Submit starts a new one.
func (g *Gateway[P, R]) run(idle chan struct{}) {
	defer close(idle)

	for {
		env, ok := g.dequeue()
		if !ok {
			return
		}
		g.process(env)
		g.lastCompleted = g.clock.Now()
	}
}

func (g *Gateway[P, R]) dequeue() (*envelope[P, R], bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	env, ok := g.queue.pop()
	if !ok {
		g.running = false
		return nil, false
	}
	env.dequeuedAt = g.clock.Now()
	return env, true
}

// process drives one envelope to resolution. Nothing raised here escapes the loop.
func (g *Gateway[P, R]) process(env *envelope[P, R]) {
	defer func() {
		if r := recover(); r != nil {
			g.logError("Dispatch loop recovered from panic", zap.String("id", env.id), zap.Any("panic", r))
			var zero R
			g.resolve(env, zero, fmt.Errorf("%w: %v", ErrDispatchFailed, r))
		}
	}()

	if err := g.pace(); err != nil {
		var zero R
		g.resolve(env, zero, ErrGatewayClosed)
		return
	}

	for {
		if g.ctx.Err() != nil {
			var zero R
			g.resolve(env, zero, ErrGatewayClosed)
			return
		}

		started := g.clock.Now()
		outcome := g.invoke(env)
		took := g.clock.Now().Sub(started)

		g.mu.Lock()
		g.stats.Invocations++
		g.mu.Unlock()

		g.hooks.attempt(AttemptEvent{
			ID:       env.id,
			Attempt:  env.attempt,
			Kind:     outcome.Kind,
			Err:      outcome.Err,
			Started:  started,
			Duration: took,
		})

		switch outcome.Kind {
		case KindSuccess:
			g.debug("Provider call succeeded",
				zap.String("id", env.id),
				zap.Int("attempt", env.attempt),
				zap.Duration("duration", took),
			)
			g.resolve(env, outcome.Value, nil)
			return

		case KindRateLimited, KindTransient:
			env.attempt++
			if env.attempt > g.cfg.MaxAttempts {
				g.warn("Provider retries exhausted",
					zap.String("id", env.id),
					zap.Int("attempts", env.attempt),
					zap.String("last_outcome", outcome.Kind.String()),
					zap.Error(outcome.Err),
				)
				var zero R
				g.resolve(env, zero, &ExhaustedRetriesError{
					Attempts: env.attempt,
					LastKind: outcome.Kind,
					LastErr:  outcome.Err,
				})
				return
			}

			delay := g.retryDelay(env.attempt-1, outcome.RetryAfter)
			g.warn("Provider call failed; backing off",
				zap.String("id", env.id),
				zap.Int("attempt", env.attempt),
				zap.String("outcome", outcome.Kind.String()),
				zap.Duration("delay", delay),
				zap.Error(outcome.Err),
			)
			g.mu.Lock()
			g.stats.Retries++
			g.mu.Unlock()
			g.hooks.backoff(BackoffEvent{ID: env.id, Attempt: env.attempt, Kind: outcome.Kind, Delay: delay})

			if err := g.clock.Sleep(g.ctx, delay); err != nil {
				var zero R
				g.resolve(env, zero, ErrGatewayClosed)
				return
			}

		default:
			g.debug("Provider call failed; not retrying",
				zap.String("id", env.id),
				zap.String("outcome", outcome.Kind.String()),
				zap.Error(outcome.Err),
			)
			var zero R
			g.resolve(env, zero, &ProviderFailure{Kind: KindNonRetryable, Err: outcome.Err})
			return
		}
	}
}

// pace holds the loop until MinInterRequestDelay has passed since the previous
// request completed.
func (g *Gateway[P, R]) pace() error {
	if g.cfg.MinInterRequestDelay <= 0 || g.lastCompleted.IsZero() {
		return g.ctx.Err()
	}
	wait := g.lastCompleted.Add(g.cfg.MinInterRequestDelay).Sub(g.clock.Now())
	if wait <= 0 {
		return g.ctx.Err()
	}
	return g.clock.Sleep(g.ctx, wait)
}

// retryDelay applies the backoff policy, stretched to a provider hint when the
// hint is longer. MaxBackoff still bounds the result.
func (g *Gateway[P, R]) retryDelay(attempt int, hint time.Duration) time.Duration {
	delay := g.backoff.Delay(attempt)
	if hint > delay {
		delay = hint
		if g.cfg.MaxBackoff > 0 && delay > g.cfg.MaxBackoff {
			delay = g.cfg.MaxBackoff
		}
	}
	return delay
}

func (g *Gateway[P, R]) invoke(env *envelope[P, R]) (out Outcome[R]) {
	defer func() {
		if r := recover(); r != nil {
			g.logError("Provider panicked", zap.String("id", env.id), zap.Any("panic", r))
			out = NonRetryable[R](fmt.Errorf("%w: %v", ErrProviderPanic, r))
		}
	}()
	return g.provider.Invoke(g.ctx, env.payload)
}

func (g *Gateway[P, R]) resolve(env *envelope[P, R], value R, err error) {
	var exhausted *ExhaustedRetriesError
	errors.As(err, &exhausted)

	// Counters move before the handle is released so Stats after Wait is current.
	settled := env.resolve(value, err, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		switch {
		case err == nil:
			g.stats.Succeeded++
		case exhausted != nil:
			g.stats.Exhausted++
		default:
			g.stats.Failed++
		}
	})
	if !settled {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			g.logError("Resolve hook panicked", zap.String("id", env.id), zap.Any("panic", r))
		}
	}()

	attempts := env.attempt + 1
	if exhausted != nil {
		attempts = exhausted.Attempts
	}

	now := g.clock.Now()
	g.hooks.resolve(ResolveEvent{
		ID:        env.id,
		Attempts:  attempts,
		Err:       err,
		QueueWait: env.dequeuedAt.Sub(env.enqueuedAt),
		Total:     now.Sub(env.enqueuedAt),
	})
}

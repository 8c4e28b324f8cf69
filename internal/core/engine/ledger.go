package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/vibecoder/aigateway/internal/ailink"
	"github.com/vibecoder/aigateway/internal/core"
	"github.com/vibecoder/aigateway/internal/gateway"
)

// Ledger records per-provider usage: invocations per window, 429s and the
// backoff the provider asked for. It observes the gateway and never delays
// dispatch; the gateway's own backoff policy decides when to retry.
type Ledger struct {
	Store  RateLimitStore
	Window time.Duration

	// Quota is the provider's documented requests per Window, used to report
	// remaining budget. Zero means unknown.
	Quota int

	Clock  func() time.Time
	Logger *logging.Logger

	mu sync.Mutex

	// Hook events are written by a single recorder goroutine so store latency
	// never lands on the dispatch loop.
	sendMu    sync.RWMutex
	events    chan attemptRecord
	recorded  chan struct{}
	startOnce sync.Once
	closed    bool
}

type attemptRecord struct {
	provider string
	event    gateway.AttemptEvent
}

// eventBuffer bounds queued ledger writes; attempts beyond it are dropped.
const eventBuffer = 256

// RateLimitStore stores rate limit state.
type RateLimitStore interface {
	GetRateLimit(ctx context.Context, provider string) (*core.RateLimitState, error)
	UpdateRateLimit(ctx context.Context, provider string, state *core.RateLimitState) error
}

// Usage is a point-in-time view of a provider's ledger entry.
type Usage struct {
	Provider     string        `json:"provider"`
	Requests     int           `json:"requests"`
	RateLimited  int           `json:"rate_limited"`
	WindowStart  time.Time     `json:"window_start"`
	Window       time.Duration `json:"window"`
	Remaining    int           `json:"remaining"`
	BackoffUntil *time.Time    `json:"backoff_until,omitempty"`
	Last429At    *time.Time    `json:"last_429_at,omitempty"`
}

// InBackoff reports whether the provider's last Retry-After has not elapsed.
func (u Usage) InBackoff(now time.Time) bool {
	return u.BackoffUntil != nil && now.Before(*u.BackoffUntil)
}

const storeTimeout = 2 * time.Second

// RecordDispatch counts one provider invocation.
func (l *Ledger) RecordDispatch(ctx context.Context, provider string) error {
	return l.update(ctx, provider, func(state *core.RateLimitState, _ time.Time) {
		state.RequestCount++
	})
}

// RecordRateLimit counts a 429 and applies the provider's Retry-After, if any.
func (l *Ledger) RecordRateLimit(ctx context.Context, provider string, retryAfter time.Duration) error {
	return l.update(ctx, provider, func(state *core.RateLimitState, now time.Time) {
		state.RateLimitCount++
		state.Last429At = &now
		if retryAfter > 0 {
			until := now.Add(retryAfter)
			state.BackoffUntil = &until
		}
	})
}

// Usage reports the current window for provider.
func (l *Ledger) Usage(ctx context.Context, provider string) (Usage, error) {
	provider = normalizeProvider(provider)
	usage := Usage{Provider: provider, Window: l.window(), Remaining: -1}
	if l == nil || l.Store == nil {
		return usage, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	state, err := l.Store.GetRateLimit(ctx, provider)
	if err != nil {
		return usage, err
	}
	now := l.now()
	state = l.rollWindow(state, now)

	usage.Requests = state.RequestCount
	usage.RateLimited = state.RateLimitCount
	usage.WindowStart = state.WindowStart
	usage.BackoffUntil = state.BackoffUntil
	usage.Last429At = state.Last429At
	if l.Quota > 0 {
		usage.Remaining = max(l.Quota-state.RequestCount, 0)
	}
	return usage, nil
}

// Hooks returns gateway hooks that feed the ledger for provider. The hook only
// queues the attempt; a background recorder writes it. Store failures are
// logged and otherwise ignored, and attempts are dropped when the buffer is full.
func (l *Ledger) Hooks(provider string) gateway.Hooks {
	provider = normalizeProvider(provider)
	l.startRecorder()
	return gateway.Hooks{
		OnAttempt: func(ev gateway.AttemptEvent) {
			l.sendMu.RLock()
			defer l.sendMu.RUnlock()
			if l.closed {
				return
			}
			select {
			case l.events <- attemptRecord{provider: provider, event: ev}:
			default:
				l.warn("Usage ledger buffer full; attempt not recorded",
					zap.String("provider", provider), zap.String("id", ev.ID))
			}
		},
	}
}

// Close stops the recorder once queued attempts are written, or when ctx ends.
func (l *Ledger) Close(ctx context.Context) error {
	if l == nil {
		return nil
	}
	l.sendMu.Lock()
	if l.closed || l.events == nil {
		l.closed = true
		l.sendMu.Unlock()
		return nil
	}
	l.closed = true
	close(l.events)
	l.sendMu.Unlock()

	select {
	case <-l.recorded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Ledger) startRecorder() {
	l.startOnce.Do(func() {
		l.events = make(chan attemptRecord, eventBuffer)
		l.recorded = make(chan struct{})
		go l.record()
	})
}

func (l *Ledger) record() {
	defer close(l.recorded)
	for rec := range l.events {
		l.recordAttempt(rec.provider, rec.event)
	}
}

func (l *Ledger) recordAttempt(provider string, ev gateway.AttemptEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := l.RecordDispatch(ctx, provider); err != nil {
		l.warn("Failed to record provider dispatch", zap.String("provider", provider), zap.Error(err))
	}
	if ev.Kind != gateway.KindRateLimited {
		return
	}
	retryAfter := ailink.RetryAfter(ev.Err)
	if err := l.RecordRateLimit(ctx, provider, retryAfter); err != nil {
		l.warn("Failed to record provider rate limit", zap.String("provider", provider), zap.Error(err))
		return
	}
	l.debug("Provider rate limited",
		zap.String("provider", provider),
		zap.String("id", ev.ID),
		zap.Int("attempt", ev.Attempt),
		zap.Duration("retry_after", retryAfter))
}

func (l *Ledger) update(ctx context.Context, provider string, mutate func(*core.RateLimitState, time.Time)) error {
	if l == nil || l.Store == nil {
		return nil
	}
	provider = normalizeProvider(provider)

	l.mu.Lock()
	defer l.mu.Unlock()

	state, err := l.Store.GetRateLimit(ctx, provider)
	if err != nil {
		return err
	}
	now := l.now()
	state = l.rollWindow(state, now)
	mutate(state, now)

	return l.Store.UpdateRateLimit(ctx, provider, state)
}

// rollWindow starts a fresh window once the current one has elapsed. Backoff
// timestamps survive the roll.
func (l *Ledger) rollWindow(state *core.RateLimitState, now time.Time) *core.RateLimitState {
	if state == nil {
		return &core.RateLimitState{WindowStart: now}
	}
	if state.WindowStart.IsZero() || !now.Before(state.WindowStart.Add(l.window())) {
		state.RequestCount = 0
		state.RateLimitCount = 0
		state.WindowStart = now
	}
	return state
}

func (l *Ledger) window() time.Duration {
	if l == nil || l.Window <= 0 {
		return time.Minute
	}
	return l.Window
}

func (l *Ledger) now() time.Time {
	if l != nil && l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}

func (l *Ledger) debug(msg string, fields ...zap.Field) {
	if l != nil && l.Logger != nil {
		l.Logger.Debug(msg, fields...)
	}
}

func (l *Ledger) warn(msg string, fields ...zap.Field) {
	if l != nil && l.Logger != nil {
		l.Logger.Warn(msg, fields...)
	}
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

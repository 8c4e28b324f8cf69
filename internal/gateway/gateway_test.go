package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errQuota = errors.New("429 too many requests")

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type call struct {
	payload string
	at      time.Time
}

// scriptedProvider replays outcomes per payload and succeeds once a script runs out.
type scriptedProvider struct {
	clock *fakeClock
	hold  time.Duration

	mu      sync.Mutex
	scripts map[string][]Outcome[string]
	calls   []call

	inFlight    int32
	maxInFlight int32
}

func newScriptedProvider(clock *fakeClock) *scriptedProvider {
	return &scriptedProvider{clock: clock, scripts: map[string][]Outcome[string]{}}
}

func (p *scriptedProvider) script(payload string, outcomes ...Outcome[string]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[payload] = outcomes
}

func (p *scriptedProvider) Invoke(ctx context.Context, payload string) Outcome[string] {
	n := atomic.AddInt32(&p.inFlight, 1)
	defer atomic.AddInt32(&p.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&p.maxInFlight)
		if n <= peak || atomic.CompareAndSwapInt32(&p.maxInFlight, peak, n) {
			break
		}
	}
	if p.hold > 0 {
		time.Sleep(p.hold)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call{payload: payload, at: p.clock.Now()})
	if script := p.scripts[payload]; len(script) > 0 {
		p.scripts[payload] = script[1:]
		return script[0]
	}
	return Success("ok:" + payload)
}

func (p *scriptedProvider) Calls() []call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]call(nil), p.calls...)
}

func (p *scriptedProvider) Payloads() []string {
	var out []string
	for _, c := range p.Calls() {
		out = append(out, c.payload)
	}
	return out
}

func testConfig() Config {
	return Config{
		MinInterRequestDelay: 2 * time.Second,
		BaseBackoff:          time.Second,
		MaxBackoff:           30 * time.Second,
		MaxAttempts:          3,
		JitterRatio:          0.2,
		JitterSeed:           7,
	}
}

func newTestGateway(t *testing.T, provider Provider[string, string], cfg Config, clock Clock, opts ...Option) *Gateway[string, string] {
	t.Helper()
	opts = append([]Option{WithClock(clock), WithName("test")}, opts...)
	gw, err := New[string, string](provider, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})
	return gw
}

func waitAll(t *testing.T, handles ...*Handle[string]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			t.Fatalf("request %s did not resolve", h.ID())
		}
	}
}

func TestNewValidatesConfig(t *testing.T) {
	provider := newScriptedProvider(newFakeClock())

	_, err := New[string, string](nil, testConfig())
	require.Error(t, err)

	cfg := testConfig()
	cfg.MaxBackoff = 500 * time.Millisecond
	_, err = New[string, string](provider, cfg)
	require.ErrorContains(t, err, "max_backoff")

	cfg = testConfig()
	cfg.MaxAttempts = -1
	_, err = New[string, string](provider, cfg)
	require.Error(t, err)

	cfg = testConfig()
	cfg.MaxQueueDepth = -1
	_, err = New[string, string](provider, cfg)
	require.Error(t, err)

	require.NoError(t, DefaultConfig().Validate())
}

func TestGatewayRetriesRateLimitThenSucceeds(t *testing.T) {
	clock := newFakeClock()
	provider := newScriptedProvider(clock)
	provider.script("x",
		RateLimited[string](errQuota, 0),
		RateLimited[string](errQuota, 0),
		RateLimited[string](errQuota, 0),
		Success("done"),
	)
	gw := newTestGateway(t, provider, testConfig(), clock)

	value, err := gw.Do(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, "done", value)

	require.Len(t, provider.Calls(), 4)
	sleeps := clock.Sleeps()
	require.Len(t, sleeps, 3)
	for i, d := range sleeps {
		lower := time.Second << i
		require.GreaterOrEqual(t, d, lower)
		require.LessOrEqual(t, d, lower+lower/5)
		if i > 0 {
			require.Greater(t, d, sleeps[i-1])
		}
	}
}

func TestGatewayExhaustsAfterMaxAttempts(t *testing.T) {
	clock := newFakeClock()
	provider := newScriptedProvider(clock)
	provider.script("x",
		RateLimited[string](errQuota, 0),
		Transient[string](errors.New("reset")),
		RateLimited[string](errQuota, 0),
		RateLimited[string](errQuota, 0),
		Success("never"),
	)
	gw := newTestGateway(t, provider, testConfig(), clock)

	_, err := gw.Do(context.Background(), "x")
	require.ErrorIs(t, err, ErrExhaustedRetries)
	require.ErrorIs(t, err, errQuota)

	var exhausted *ExhaustedRetriesError
	require.True(t, errors.As(err, &exhausted))
	require.Equal(t, 4, exhausted.Attempts)
	require.Equal(t, KindRateLimited, exhausted.LastKind)

	require.Len(t, provider.Calls(), 4)
	// No sleep follows the final failure.
	require.Len(t, clock.Sleeps(), 3)
}

func TestGatewayZeroMaxAttemptsInvokesOnce(t *testing.T) {
	clock := newFakeClock()
	provider := newScriptedProvider(clock)
	provider.script("x", Transient[string](errors.New("timeout")))
	cfg := testConfig()
	cfg.MaxAttempts = 0
	gw := newTestGateway(t, provider, cfg, clock)

	_, err := gw.Do(context.Background(), "x")
	var exhausted *ExhaustedRetriesError
	require.True(t, errors.As(err, &exhausted))
	require.Equal(t, 1, exhausted.Attempts)
	require.Len(t, provider.Calls(), 1)
	require.Empty(t, clock.Sleeps())
}

func TestGatewayNonRetryableFailsFast(t *testing.T) {
	clock := newFakeClock()
	provider := newScriptedProvider(clock)
	authErr := errors.New("401 unauthorized")
	provider.script("x", NonRetryable[string](authErr))
	gw := newTestGateway(t, provider, testConfig(), clock)

	_, err := gw.Do(context.Background(), "x")
	require.ErrorIs(t, err, authErr)
	require.NotErrorIs(t, err, ErrExhaustedRetries)

	var failure *ProviderFailure
	require.True(t, errors.As(err, &failure))
	require.Equal(t, KindNonRetryable, failure.Kind)

	require.Len(t, provider.Calls(), 1)
	require.Empty(t, clock.Sleeps())
}

func TestGatewayUnknownKindIsNotRetried(t *testing.T) {
	clock := newFakeClock()
	provider := newScriptedProvider(clock)
	provider.script("x", Outcome[string]{Kind: Kind(42), Err: errors.New("strange")})
	gw := newTestGateway(t, provider, testConfig(), clock)

	_, err := gw.Do(context.Background(), "x")
	var failure *ProviderFailure
	require.True(t, errors.As(err, &failure))
	require.Len(t, provider.Calls(), 1)
}

func TestGatewayHonoursRetryAfter(t *testing.T) {
	clock := newFakeClock()
	provider := newScriptedProvider(clock)
	provider.script("x",
		RateLimited[string](errQuota, 5*time.Second),
		RateLimited[string](errQuota, 10*time.Minute),
		RateLimited[string](errQuota, 10*time.Millisecond),
	)
	cfg := testConfig()
	cfg.JitterRatio = 0
	gw := newTestGateway(t, provider, cfg, clock)

	_, err := gw.Do(context.Background(), "x")
	require.NoError(t, err)
	// Hint wins when longer, MaxBackoff caps it, policy wins when the hint is shorter.
	require.Equal(t, []time.Duration{5 * time.Second, 30 * time.Second, 4 * time.Second}, clock.Sleeps())
}

func TestGatewayDispatchesInSubmissionOrderWithSpacing(t *testing.T) {
	clock := newFakeClock()
	provider := newScriptedProvider(clock)
	cfg := testConfig()
	gw := newTestGateway(t, provider, cfg, clock)

	var handles []*Handle[string]
	for _, p := range []string{"A", "B", "C"} {
		h, err := gw.Submit(p)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	waitAll(t, handles...)

	for i, h := range handles {
		value, err := h.Wait(context.Background())
		require.NoError(t, err)
		require.Equal(t, "ok:"+string(rune('A'+i)), value)
	}

	calls := provider.Calls()
	require.Equal(t, []string{"A", "B", "C"}, provider.Payloads())
	for i := 1; i < len(calls); i++ {
		require.GreaterOrEqual(t, calls[i].at.Sub(calls[i-1].at), cfg.MinInterRequestDelay)
	}
}

func TestGatewaySerializesConcurrentSubmitters(t *testing.T) {
	clock := newFakeClock()
	provider := newScriptedProvider(clock)
	provider.hold = time.Millisecond
	gw := newTestGateway(t, provider, testConfig(), clock)

	const submitters = 20
	results := make([]string, submitters)
	errs := make([]error, submitters)

	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = gw.Do(context.Background(), fmt.Sprintf("req-%d", i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < submitters; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, fmt.Sprintf("ok:req-%d", i), results[i])
	}
	require.Len(t, provider.Calls(), submitters)
	require.Equal(t, int32(1), atomic.LoadInt32(&provider.maxInFlight))

	calls := provider.Calls()
	for i := 1; i < len(calls); i++ {
		require.GreaterOrEqual(t, calls[i].at.Sub(calls[i-1].at), 2*time.Second)
	}
}

func TestGatewayBackoffBlocksLaterRequests(t *testing.T) {
	clock := newFakeClock()
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	var mu sync.Mutex
	var order []string
	firstA := true
	provider := ProviderFunc[string, string](func(ctx context.Context, payload string) Outcome[string] {
		mu.Lock()
		order = append(order, payload)
		gate := payload == "A" && firstA
		firstA = firstA && payload != "A"
		mu.Unlock()

		if gate {
			started <- struct{}{}
			<-release
			return RateLimited[string](errQuota, 0)
		}
		return Success(payload)
	})
	gw := newTestGateway(t, provider, testConfig(), clock)

	a, err := gw.Submit("A")
	require.NoError(t, err)
	<-started

	b, err := gw.Submit("B")
	require.NoError(t, err)
	close(release)

	waitAll(t, a, b)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"A", "A", "B"}, order)
}

func TestGatewayRestartsLoopAndKeepsSpacing(t *testing.T) {
	clock := newFakeClock()
	provider := newScriptedProvider(clock)
	gw := newTestGateway(t, provider, testConfig(), clock)

	_, err := gw.Do(context.Background(), "first")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !gw.Stats().Running }, time.Second, time.Millisecond)

	_, err = gw.Do(context.Background(), "second")
	require.NoError(t, err)

	calls := provider.Calls()
	require.Len(t, calls, 2)
	require.GreaterOrEqual(t, calls[1].at.Sub(calls[0].at), 2*time.Second)
}

func TestGatewayRecoversProviderPanic(t *testing.T) {
	clock := newFakeClock()
	provider := ProviderFunc[string, string](func(ctx context.Context, payload string) Outcome[string] {
		if payload == "boom" {
			panic("provider exploded")
		}
		return Success(payload)
	})
	gw := newTestGateway(t, provider, testConfig(), clock)

	boom, err := gw.Submit("boom")
	require.NoError(t, err)
	fine, err := gw.Submit("fine")
	require.NoError(t, err)
	waitAll(t, boom, fine)

	_, err = boom.Wait(context.Background())
	require.ErrorIs(t, err, ErrProviderPanic)
	require.ErrorContains(t, err, "provider exploded")

	value, err := fine.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "fine", value)
}

func TestGatewayRecoversHookPanic(t *testing.T) {
	clock := newFakeClock()
	provider := newScriptedProvider(clock)
	var panicked atomic.Bool
	hooks := Hooks{OnAttempt: func(AttemptEvent) {
		if panicked.CompareAndSwap(false, true) {
			panic("hook exploded")
		}
	}}
	gw := newTestGateway(t, provider, testConfig(), clock, WithHooks(hooks))

	_, err := gw.Do(context.Background(), "first")
	require.ErrorIs(t, err, ErrDispatchFailed)

	value, err := gw.Do(context.Background(), "second")
	require.NoError(t, err)
	require.Equal(t, "ok:second", value)
}

func TestGatewaySubmitHookPanicKeepsLoopAlive(t *testing.T) {
	clock := newFakeClock()
	provider := newScriptedProvider(clock)
	var panicked atomic.Bool
	hooks := Hooks{OnSubmit: func(SubmitEvent) {
		if panicked.CompareAndSwap(false, true) {
			panic("submit hook exploded")
		}
	}}
	gw := newTestGateway(t, provider, testConfig(), clock, WithHooks(hooks))

	first, err := gw.Submit("a")
	require.NoError(t, err)
	second, err := gw.Submit("b")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	value, err := first.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok:a", value)

	value, err = second.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok:b", value)
	require.True(t, panicked.Load())
}

func TestStatsCurrentWhenWaitReturns(t *testing.T) {
	clock := newFakeClock()
	provider := newScriptedProvider(clock)
	provider.script("bad", NonRetryable[string](errors.New("400 bad request")))
	gw := newTestGateway(t, provider, testConfig(), clock)

	for i := 0; i < 50; i++ {
		_, err := gw.Do(context.Background(), fmt.Sprintf("ok-%d", i))
		require.NoError(t, err)
		require.EqualValues(t, i+1, gw.Stats().Succeeded)
	}

	_, err := gw.Do(context.Background(), "bad")
	require.Error(t, err)
	stats := gw.Stats()
	require.EqualValues(t, 1, stats.Failed)
	require.Zero(t, stats.Exhausted)
}

func TestGatewayBoundedQueue(t *testing.T) {
	clock := newFakeClock()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	provider := ProviderFunc[string, string](func(ctx context.Context, payload string) Outcome[string] {
		if payload == "first" {
			started <- struct{}{}
			<-release
		}
		return Success(payload)
	})
	cfg := testConfig()
	cfg.MaxQueueDepth = 1
	gw := newTestGateway(t, provider, cfg, clock)

	first, err := gw.Submit("first")
	require.NoError(t, err)
	<-started

	second, err := gw.Submit("second")
	require.NoError(t, err)

	_, err = gw.Submit("third")
	require.ErrorIs(t, err, ErrQueueFull)

	close(release)
	waitAll(t, first, second)

	value, err := second.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "second", value)
}

func TestHandleWaitDoesNotCancelRequest(t *testing.T) {
	clock := newFakeClock()
	release := make(chan struct{})
	provider := ProviderFunc[string, string](func(ctx context.Context, payload string) Outcome[string] {
		<-release
		return Success(payload)
	})
	gw := newTestGateway(t, provider, testConfig(), clock)

	h, err := gw.Submit("slow")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = h.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	value, err := h.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "slow", value)

	// A resolved handle can be read again.
	value, err = h.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "slow", value)
}

func TestShutdownDrainsQueue(t *testing.T) {
	clock := newFakeClock()
	provider := newScriptedProvider(clock)
	gw, err := New[string, string](provider, testConfig(), WithClock(clock))
	require.NoError(t, err)

	a, err := gw.Submit("a")
	require.NoError(t, err)
	b, err := gw.Submit("b")
	require.NoError(t, err)

	require.NoError(t, gw.Shutdown(context.Background()))
	waitAll(t, a, b)

	_, err = b.Wait(context.Background())
	require.NoError(t, err)

	_, err = gw.Submit("late")
	require.ErrorIs(t, err, ErrGatewayClosed)
	require.True(t, gw.Stats().Closed)
}

func TestShutdownDeadlineResolvesPending(t *testing.T) {
	clock := newFakeClock()
	started := make(chan struct{}, 1)
	provider := ProviderFunc[string, string](func(ctx context.Context, payload string) Outcome[string] {
		if payload == "stuck" {
			started <- struct{}{}
			<-ctx.Done()
			return NonRetryable[string](ctx.Err())
		}
		return Success(payload)
	})
	gw, err := New[string, string](provider, testConfig(), WithClock(clock))
	require.NoError(t, err)

	stuck, err := gw.Submit("stuck")
	require.NoError(t, err)
	<-started
	pending, err := gw.Submit("pending")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, gw.Shutdown(ctx), context.DeadlineExceeded)

	waitAll(t, stuck, pending)

	_, err = stuck.Wait(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	_, err = pending.Wait(context.Background())
	require.ErrorIs(t, err, ErrGatewayClosed)
}

func TestStatsAndHooks(t *testing.T) {
	clock := newFakeClock()
	provider := newScriptedProvider(clock)
	provider.script("retry", RateLimited[string](errQuota, 0))
	provider.script("bad", NonRetryable[string](errors.New("400")))

	var mu sync.Mutex
	var submits, attempts, backoffs int
	var resolved []ResolveEvent
	hooks := Hooks{
		OnSubmit:  func(SubmitEvent) { mu.Lock(); submits++; mu.Unlock() },
		OnAttempt: func(AttemptEvent) { mu.Lock(); attempts++; mu.Unlock() },
		OnBackoff: func(BackoffEvent) { mu.Lock(); backoffs++; mu.Unlock() },
		OnResolve: func(ev ResolveEvent) { mu.Lock(); resolved = append(resolved, ev); mu.Unlock() },
	}
	gw := newTestGateway(t, provider, testConfig(), clock, WithHooks(hooks))

	_, err := gw.Do(context.Background(), "retry")
	require.NoError(t, err)
	_, err = gw.Do(context.Background(), "bad")
	require.Error(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(resolved) == 2
	}, time.Second, time.Millisecond)

	stats := gw.Stats()
	assert.Equal(t, "test", stats.Name)
	assert.Equal(t, uint64(2), stats.Submitted)
	assert.Equal(t, uint64(3), stats.Invocations)
	assert.Equal(t, uint64(1), stats.Retries)
	assert.Equal(t, uint64(1), stats.Succeeded)
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Zero(t, stats.Exhausted)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, submits)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 1, backoffs)
	assert.Equal(t, 2, resolved[0].Attempts)
	assert.Equal(t, 1, resolved[1].Attempts)
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
)

// Config holds the dispatch policy. It is read once at construction.
type Config struct {
	MinInterRequestDelay time.Duration `mapstructure:"min_inter_request_delay"`
	BaseBackoff          time.Duration `mapstructure:"base_backoff"`
	MaxBackoff           time.Duration `mapstructure:"max_backoff"`
	MaxAttempts          int           `mapstructure:"max_attempts"`
	JitterRatio          float64       `mapstructure:"jitter_ratio"`
	JitterSeed           int64         `mapstructure:"jitter_seed"`

	// MaxQueueDepth bounds the number of waiting requests. Zero means unbounded.
	MaxQueueDepth int `mapstructure:"max_queue_depth"`
}

// DefaultConfig returns the production policy: two seconds between dispatches,
// retries after ~4s, ~8s and ~16s.
func DefaultConfig() Config {
	return Config{
		MinInterRequestDelay: 2 * time.Second,
		BaseBackoff:          4 * time.Second,
		MaxBackoff:           60 * time.Second,
		MaxAttempts:          3,
		JitterRatio:          0.2,
	}
}

// Validate reports configuration values the gateway cannot run with.
func (c Config) Validate() error {
	switch {
	case c.MinInterRequestDelay < 0:
		return fmt.Errorf("min_inter_request_delay must not be negative")
	case c.BaseBackoff < 0:
		return fmt.Errorf("base_backoff must not be negative")
	case c.MaxBackoff < 0:
		return fmt.Errorf("max_backoff must not be negative")
	case c.MaxBackoff > 0 && c.MaxBackoff < c.BaseBackoff:
		return fmt.Errorf("max_backoff (%s) must be >= base_backoff (%s)", c.MaxBackoff, c.BaseBackoff)
	case c.MaxAttempts < 0:
		return fmt.Errorf("max_attempts must not be negative")
	case c.JitterRatio < 0:
		return fmt.Errorf("jitter_ratio must not be negative")
	case c.MaxQueueDepth < 0:
		return fmt.Errorf("max_queue_depth must not be negative")
	}
	return nil
}

// Option customizes a Gateway.
type Option func(*options)

type options struct {
	name    string
	clock   Clock
	logger  *logging.Logger
	hooks   hookSet
	backoff *Backoff
}

// WithName labels the gateway in logs (typically the provider id).
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger enables gateway logging.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHooks registers observers. It may be given more than once.
func WithHooks(h Hooks) Option {
	return func(o *options) { o.hooks = append(o.hooks, h) }
}

// WithBackoff overrides the policy derived from Config.
func WithBackoff(b *Backoff) Option {
	return func(o *options) { o.backoff = b }
}

// Stats is a point-in-time snapshot of gateway activity.
type Stats struct {
	Name        string `json:"name"`
	QueueDepth  int    `json:"queue_depth"`
	Running     bool   `json:"running"`
	Closed      bool   `json:"closed"`
	Submitted   uint64 `json:"submitted"`
	Invocations uint64 `json:"invocations"`
	Retries     uint64 `json:"retries"`
	Succeeded   uint64 `json:"succeeded"`
	Failed      uint64 `json:"failed"`
	Exhausted   uint64 `json:"exhausted"`
}

// Gateway serializes every call to a provider through one dispatch loop.
// Submissions are processed strictly in arrival order and a request's retries
// complete before the next request is dispatched.
type Gateway[P, R any] struct {
	name     string
	provider Provider[P, R]
	cfg      Config
	backoff  *Backoff
	clock    Clock
	logger   *logging.Logger
	hooks    hookSet

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	queue   queue[*envelope[P, R]]
	running bool
	closed  bool
	idle    chan struct{}
	stats   Stats

	// lastCompleted is touched only by the loop goroutine; the mutex handoff in
	// dequeue/Submit orders it across loop restarts.
	lastCompleted time.Time
}

// New builds a gateway around provider. The dispatch loop starts lazily on the
// first Submit.
func New[P, R any](provider Provider[P, R], cfg Config, opts ...Option) (*Gateway[P, R], error) {
	if provider == nil {
		return nil, errors.New("gateway: provider is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}

	o := options{clock: realClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = realClock{}
	}
	if o.backoff == nil {
		o.backoff = NewBackoff(cfg.BaseBackoff, cfg.MaxBackoff, cfg.JitterRatio, cfg.JitterSeed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway[P, R]{
		name:     o.name,
		provider: provider,
		cfg:      cfg,
		backoff:  o.backoff,
		clock:    o.clock,
		logger:   o.logger,
		hooks:    o.hooks,
		ctx:      ctx,
		cancel:   cancel,
	}
	g.stats.Name = o.name
	return g, nil
}

// Config returns the policy the gateway was built with.
func (g *Gateway[P, R]) Config() Config {
	return g.cfg
}

// Submit enqueues payload and returns a handle that resolves exactly once.
// It fails only with ErrQueueFull or ErrGatewayClosed; provider failures are
// reported through the handle.
func (g *Gateway[P, R]) Submit(payload P) (*Handle[R], error) {
	env := newEnvelope[P, R](payload, g.clock.Now())

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrGatewayClosed
	}
	if g.cfg.MaxQueueDepth > 0 && g.queue.len() >= g.cfg.MaxQueueDepth {
		g.mu.Unlock()
		return nil, ErrQueueFull
	}
	g.queue.push(env)
	depth := g.queue.len()
	g.stats.Submitted++

	start := !g.running
	if start {
		g.running = true
		g.idle = make(chan struct{})
	}
	idle := g.idle
	g.mu.Unlock()

	if start {
		go g.run(idle)
	}

	g.debug("Request queued", zap.String("id", env.id), zap.Int("queue_depth", depth))
	g.submitted(SubmitEvent{ID: env.id, QueueDepth: depth})
	return env.handle(), nil
}

// submitted runs OnSubmit hooks. The request is already queued, so a panicking
// hook is logged and the submission still succeeds.
func (g *Gateway[P, R]) submitted(ev SubmitEvent) {
	defer func() {
		if r := recover(); r != nil {
			g.logError("Submit hook panicked", zap.String("id", ev.ID), zap.Any("panic", r))
		}
	}()
	g.hooks.submit(ev)
}

// Do submits payload and waits for its result.
func (g *Gateway[P, R]) Do(ctx context.Context, payload P) (R, error) {
	h, err := g.Submit(payload)
	if err != nil {
		var zero R
		return zero, err
	}
	return h.Wait(ctx)
}

// Stats returns a snapshot of the gateway counters.
func (g *Gateway[P, R]) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.stats
	s.QueueDepth = g.queue.len()
	s.Running = g.running
	s.Closed = g.closed
	return s
}

// Shutdown stops accepting submissions and waits for the queue to drain. If ctx
// ends first, the in-flight call's context is cancelled and every request still
// pending resolves with ErrGatewayClosed.
func (g *Gateway[P, R]) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	running := g.running
	idle := g.idle
	pending := g.queue.len()
	g.mu.Unlock()

	if !running {
		g.cancel()
		return nil
	}

	g.info("Draining gateway queue", zap.Int("pending", pending))

	select {
	case <-idle:
		g.cancel()
		return nil
	case <-ctx.Done():
		g.cancel()
		g.warn("Gateway shutdown deadline reached; abandoning pending requests", zap.Int("pending", g.Stats().QueueDepth))
		return ctx.Err()
	}
}

func (g *Gateway[P, R]) fields(extra []zap.Field) []zap.Field {
	if g.name == "" {
		return extra
	}
	return append([]zap.Field{zap.String("gateway", g.name)}, extra...)
}

func (g *Gateway[P, R]) debug(msg string, fields ...zap.Field) {
	if g.logger != nil {
		g.logger.Debug(msg, g.fields(fields)...)
	}
}

func (g *Gateway[P, R]) info(msg string, fields ...zap.Field) {
	if g.logger != nil {
		g.logger.Info(msg, g.fields(fields)...)
	}
}

func (g *Gateway[P, R]) warn(msg string, fields ...zap.Field) {
	if g.logger != nil {
		g.logger.Warn(msg, g.fields(fields)...)
	}
}

func (g *Gateway[P, R]) logError(msg string, fields ...zap.Field) {
	if g.logger != nil {
		g.logger.Error(msg, g.fields(fields)...)
	}
}

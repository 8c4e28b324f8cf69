package gateway

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff computes retry delays:
//
//	delay(attempt) = min(max, base*2^attempt + jitter)
//
// where jitter is drawn from [0, ratio*base*2^attempt). Delays never exceed max.
type Backoff struct {
	base  time.Duration
	max   time.Duration
	ratio float64

	mu         sync.Mutex
	rng        *rand.Rand
	jitterFunc func() float64
}

// BackoffOption configures a Backoff.
type BackoffOption func(*Backoff)

// WithJitterFunc replaces the random source with f, which must return values in [0, 1).
func WithJitterFunc(f func() float64) BackoffOption {
	return func(b *Backoff) {
		b.jitterFunc = f
	}
}

// NewBackoff returns a policy seeded with seed. A zero seed uses the current time.
func NewBackoff(base, max time.Duration, ratio float64, seed int64, opts ...BackoffOption) *Backoff {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if ratio < 0 {
		ratio = 0
	}

	b := &Backoff{
		base:  base,
		max:   max,
		ratio: ratio,
		// #nosec G404 -- jitter does not need a cryptographic source
		rng: rand.New(rand.NewSource(seed)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Delay returns the wait before retry number attempt+1. Attempt 0 is the delay
// after the first failed invocation.
func (b *Backoff) Delay(attempt int) time.Duration {
	if b == nil {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}

	delay := b.exponential(attempt)
	if b.ratio > 0 && delay > 0 {
		jitter := float64(delay) * b.ratio * b.random()
		if jitter > float64(math.MaxInt64-delay) {
			delay = math.MaxInt64
		} else {
			delay += time.Duration(jitter)
		}
	}

	if b.max > 0 && delay > b.max {
		delay = b.max
	}
	return delay
}

// Base returns the configured base delay.
func (b *Backoff) Base() time.Duration {
	return b.base
}

// Max returns the configured ceiling.
func (b *Backoff) Max() time.Duration {
	return b.max
}

func (b *Backoff) exponential(attempt int) time.Duration {
	if b.base <= 0 {
		return 0
	}

	delay := b.base
	for i := 0; i < attempt; i++ {
		if b.max > 0 && delay >= b.max {
			return b.max
		}
		if delay > math.MaxInt64/2 {
			return math.MaxInt64
		}
		delay *= 2
	}
	return delay
}

func (b *Backoff) random() float64 {
	if b.jitterFunc != nil {
		return b.jitterFunc()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rng.Float64()
}

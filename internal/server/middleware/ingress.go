package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"golang.org/x/time/rate"

	"github.com/vibecoder/aigateway/internal/metrics"
)

// IngressLimiter applies a token bucket per client so one caller cannot fill
// the gateway queue. Buckets idle for longer than IdleTTL are dropped.
type IngressLimiter struct {
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	clients   map[string]*ingressClient
	lastSweep time.Time
}

type ingressClient struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewIngressLimiter builds a limiter allowing rps sustained requests per client
// with the given burst. burst below 1 is raised to 1.
func NewIngressLimiter(rps float64, burst int, idleTTL time.Duration) *IngressLimiter {
	if burst < 1 {
		burst = 1
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &IngressLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		now:     time.Now,
		clients: make(map[string]*ingressClient),
	}
}

// Allow reports whether key may proceed, and if not how long it should wait.
func (l *IngressLimiter) Allow(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	c, ok := l.clients[key]
	if !ok {
		c = &ingressClient{lim: rate.NewLimiter(l.rps, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now

	res := c.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Clients returns how many client buckets are tracked.
func (l *IngressLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *IngressLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now
	cutoff := now.Add(-l.idleTTL)
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

// Middleware rejects over-limit clients with 429 before the handler runs.
func (l *IngressLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := l.Allow(ClientKey(r))
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		metrics.RecordIngressRejected(r.URL.Path)

		envelope := errors.NewErrorEnvelope("RATE_LIMITED", "too many requests from this client").
			WithCorrelationID(GetRequestID(r.Context()))
		envelope, _ = envelope.WithContext(map[string]interface{}{
			"retry_after_ms": wait.Milliseconds(),
		})

		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		writeErrorResponse(w, envelope, http.StatusTooManyRequests)
	})
}

// ClientKey identifies the caller by remote IP. chi's RealIP middleware has
// already rewritten RemoteAddr from X-Forwarded-For when present.
func ClientKey(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if addr != "" {
		return addr
	}
	return "unknown"
}

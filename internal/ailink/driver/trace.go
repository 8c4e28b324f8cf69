package driver

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// TraceEntry is one provider exchange, written as a single NDJSON line.
type TraceEntry struct {
	Timestamp    time.Time       `json:"timestamp"`
	Provider     string          `json:"provider"`
	Endpoint     string          `json:"endpoint"`
	Model        string          `json:"model,omitempty"`
	RequestBody  json.RawMessage `json:"request_body,omitempty"`
	StatusCode   int             `json:"status_code,omitempty"`
	Response     json.RawMessage `json:"response,omitempty"`
	RetryAfterMs int64           `json:"retry_after_ms,omitempty"`
	Error        string          `json:"error,omitempty"`
	DurationMs   int64           `json:"duration_ms"`
}

// Tracer serializes trace entries to a writer.
type Tracer struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// NewTracer writes entries to w.
func NewTracer(w io.Writer) *Tracer {
	t := &Tracer{w: w}
	if c, ok := w.(io.Closer); ok {
		t.c = c
	}
	return t
}

var active atomic.Pointer[Tracer]

// EnableTracing appends traces to path until the returned cleanup runs.
func EnableTracing(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	SetTracer(NewTracer(f))
	return func() { SetTracer(nil) }, nil
}

// SetTracer replaces the active tracer, closing the previous one.
func SetTracer(t *Tracer) {
	if prev := active.Swap(t); prev != nil && prev != t {
		_ = prev.Close()
	}
}

// IsTracingEnabled reports whether a tracer is active.
func IsTracingEnabled() bool {
	return active.Load() != nil
}

// Trace records entry on the active tracer, if any.
func Trace(entry TraceEntry) {
	if t := active.Load(); t != nil {
		t.Write(entry)
	}
}

// Write records a trace entry.
func (t *Tracer) Write(entry TraceEntry) {
	if t == nil || t.w == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = t.w.Write(append(data, '\n'))
}

// Close releases the underlying writer when it is closable.
func (t *Tracer) Close() error {
	if t == nil || t.c == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c.Close()
}

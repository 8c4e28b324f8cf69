package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vibecoder/aigateway/internal/ailink"
	"github.com/vibecoder/aigateway/internal/config"
	"github.com/vibecoder/aigateway/internal/gateway"
	"github.com/vibecoder/aigateway/internal/metrics"
	"github.com/vibecoder/aigateway/internal/observability"
	"github.com/vibecoder/aigateway/internal/server"
)

// cleanupMetrics tears down global telemetry state so each test starts clean.
// This matters in sandboxes where lingering exporters can block future binds.
func cleanupMetrics(t *testing.T) {
	t.Helper()
	t.Cleanup(func() { _ = observability.StopMetrics() })
}

// isPermissionError normalizes OS-specific permission errors (macOS/Linux/BSD)
// so we can gracefully skip when loopback sockets are blocked.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"permission denied", "operation not permitted", "not permitted"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}

	return false
}

// initMetricsOrSkip attempts to start the metrics exporter; if the environment
// forbids network binds we skip instead of failing the entire suite.
func initMetricsOrSkip(t *testing.T) {
	t.Helper()

	if err := observability.InitMetrics("test", 0); err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping metrics tests due to sandbox permissions: %v", err)
		}
		require.NoError(t, err)
	}

	cleanupMetrics(t)
}

// listenLoopback binds IPv4 loopback explicitly and skips when the sandbox
// refuses to open sockets.
func listenLoopback(t *testing.T) net.Listener {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping server setup: %v", err)
		}
		require.NoError(t, err)
	}
	return listener
}

func startServer(t *testing.T, handler http.Handler) (*httptest.Server, *http.Client) {
	t.Helper()
	ts := &httptest.Server{
		Listener: listenLoopback(t),
		Config:   &http.Server{Handler: handler},
	}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts, ts.Client()
}

// fakeProvider is an OpenAI-compatible upstream that records concurrency and
// fails the first rateLimited calls with 429.
type fakeProvider struct {
	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	rateLimited int32
	delay       time.Duration
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := p.calls.Add(1)
	current := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		seen := p.maxInFlight.Load()
		if current <= seen || p.maxInFlight.CompareAndSwap(seen, current) {
			break
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	if n <= p.rateLimited {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
		return
	}

	var body struct {
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	reply := ""
	if len(body.Messages) > 0 {
		reply = "echo: " + body.Messages[len(body.Messages)-1].Content
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"model":   "test-model",
		"choices": []any{map[string]any{"message": map[string]any{"content": reply}, "finish_reason": "stop"}},
		"usage":   map[string]any{"prompt_tokens": 2, "completion_tokens": 3, "total_tokens": 5},
	})
}

// newGatewayStack wires a fake upstream, the gateway, the ailink client and the
// HTTP server the same way serve does.
func newGatewayStack(t *testing.T, upstream *fakeProvider) (*httptest.Server, *http.Client, *ailink.Client) {
	t.Helper()

	up, _ := startServer(t, upstream)

	resolved, err := ailink.NewRegistry(ailink.Config{
		Provider: "openai",
		Providers: map[string]ailink.ProviderInstanceConfig{
			"openai": {Enabled: true, BaseURL: up.URL, Models: map[string]string{"default": "test-model"}},
		},
		APIKeys: map[string]string{"openai": "test-key"},
	}).Resolve("")
	require.NoError(t, err)

	var gw *ailink.Gateway
	gw, err = ailink.NewGateway(resolved, gateway.Config{
		MinInterRequestDelay: 5 * time.Millisecond,
		BaseBackoff:          time.Millisecond,
		MaxBackoff:           10 * time.Millisecond,
		MaxAttempts:          3,
		JitterRatio:          0.2,
		JitterSeed:           7,
	}, gateway.WithName("integration"), gateway.WithHooks(metrics.GatewayHooks(resolved.ProviderID, func() int {
		return gw.Stats().QueueDepth
	})))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})

	client := ailink.NewClient(gw, resolved)
	srv := server.New(config.ServerConfig{Host: "127.0.0.1"}, server.Deps{
		Completer: client,
		Stats:     gw,
		Provider:  resolved.ProviderID,
	})

	ts, httpClient := startServer(t, srv.Handler())
	return ts, httpClient, client
}

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry/exporters"

	"github.com/vibecoder/aigateway/internal/observability"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func withExporter(t *testing.T, transport roundTripFunc) {
	t.Helper()
	originalClient := metricsProxyClient
	metricsProxyClient = &http.Client{Transport: transport}
	observability.PrometheusExporter = exporters.NewPrometheusExporter("test", ":9090")
	t.Cleanup(func() {
		metricsProxyClient = originalClient
		observability.PrometheusExporter = nil
	})
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp.Error.Code
}

func TestMetricsHandlerProxiesPrometheusOutput(t *testing.T) {
	var gotAccept, gotURL string
	withExporter(t, func(req *http.Request) (*http.Response, error) {
		gotAccept = req.Header.Get("Accept")
		gotURL = req.URL.String()
		body := "# HELP gateway_attempts_total Provider invocations\ngateway_attempts_total{provider=\"perplexity\"} 3\n"
		resp := &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     make(http.Header),
		}
		resp.Header.Set("Connection", "close")
		return resp, nil
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "text/plain")
	rec := httptest.NewRecorder()
	MetricsHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if gotAccept != "text/plain" {
		t.Fatalf("expected Accept to be forwarded, got %q", gotAccept)
	}
	if !strings.HasPrefix(gotURL, "http://127.0.0.1:") || !strings.HasSuffix(gotURL, "/metrics") {
		t.Fatalf("unexpected exporter url %s", gotURL)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Fatalf("expected text/plain content type, got %s", ct)
	}
	if rec.Header().Get("Connection") != "" {
		t.Fatal("hop-by-hop header was copied")
	}
	if !strings.Contains(rec.Body.String(), "gateway_attempts_total") {
		t.Fatalf("expected proxied metrics, got: %s", rec.Body.String())
	}
}

func TestMetricsHandlerExporterDown(t *testing.T) {
	withExporter(t, func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	rec := httptest.NewRecorder()
	MetricsHandler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "EXTERNAL_SERVICE_ERROR" {
		t.Fatalf("expected EXTERNAL_SERVICE_ERROR, got %s", code)
	}
}

func TestMetricsHandlerReturnsServiceUnavailableWithoutExporter(t *testing.T) {
	observability.PrometheusExporter = nil

	rec := httptest.NewRecorder()
	MetricsHandler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "SERVICE_UNAVAILABLE" {
		t.Fatalf("expected SERVICE_UNAVAILABLE, got %s", code)
	}
}

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vibecoder/aigateway/internal/observability"
)

// fallbackRoutes labels requests that never reached a chi route. Anything else
// collapses to "/unknown" so labels stay bounded.
var fallbackRoutes = map[string]string{
	"/":                 "/",
	"/health":           "/health/*",
	"/health/live":      "/health/*",
	"/health/ready":     "/health/*",
	"/health/startup":   "/health/*",
	"/metrics":          "/metrics",
	"/version":          "/version",
	"/v1/completions":   "/v1/completions",
	"/v1/gateway/stats": "/v1/gateway/stats",
}

// statusRecorder captures the status and body size written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.written += int64(n)
	return n, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func getEndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if route, ok := fallbackRoutes[r.URL.Path]; ok {
		return route
	}
	return "/unknown"
}

func errorClass(status int) string {
	if status >= 500 {
		return "server_error"
	}
	return "client_error"
}

// RequestMetrics emits per-request counters, latency and sizes labelled by
// route pattern. It is a no-op while telemetry is disabled.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tel := observability.TelemetrySystem
		if tel == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		var requestSize int64
		if r.ContentLength > 0 {
			requestSize = r.ContentLength
		}
		endpoint := getEndpointPattern(r)
		status := strconv.Itoa(rec.status)

		labels := map[string]string{"method": r.Method, "endpoint": endpoint, "status": status}
		_ = tel.Counter("http_requests_total", 1, labels)
		_ = tel.Histogram("http_request_duration_ms", elapsed, labels)

		sizeLabels := map[string]string{"method": r.Method, "endpoint": endpoint}
		_ = tel.Gauge("http_request_size_bytes", float64(requestSize), sizeLabels)
		_ = tel.Gauge("http_response_size_bytes", float64(rec.written), sizeLabels)

		if rec.status >= 400 {
			_ = tel.Counter("http_errors_total", 1, map[string]string{
				"method":     r.Method,
				"endpoint":   endpoint,
				"status":     status,
				"error_type": errorClass(rec.status),
			})
		}

		if logger := observability.ServerLogger; logger != nil {
			logger.Debug("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", endpoint),
				zap.Int("status", rec.status),
				zap.Duration("duration", elapsed),
				zap.Int64("request_size", requestSize),
				zap.Int64("response_size", rec.written),
				zap.String("requestID", GetRequestID(r.Context())))
		}
	})
}

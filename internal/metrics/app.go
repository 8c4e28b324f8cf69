package metrics

import (
	"time"

	"github.com/vibecoder/aigateway/internal/observability"
)

// Application-level metrics following Prometheus conventions
var (
	// Completion endpoint and CLI metrics
	CompletionsTotal   = "app_completions_total"
	CompletionDuration = "app_completion_duration_ms"

	// Ingress limiter rejections, before a request reaches the gateway
	IngressRejectedTotal = "app_ingress_rejected_total"

	// Health check metrics
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	// Server lifecycle metrics
	ServerStartTime = "app_server_start_time_seconds"
	ServerUptime    = "app_server_uptime_seconds"
)

// RecordCompletion records one completion served to source ("http", "cli",
// "batch") with its outcome.
func RecordCompletion(source string, err error, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}

	tags := map[string]string{
		"source": source,
		"status": ResultStatus(err),
	}
	_ = observability.TelemetrySystem.Counter(CompletionsTotal, 1, tags)
	_ = observability.TelemetrySystem.Histogram(CompletionDuration, duration, map[string]string{"source": source})
}

// RecordIngressRejected records a request turned away by the per-client limiter.
func RecordIngressRejected(route string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			IngressRejectedTotal,
			1,
			map[string]string{"route": route},
		)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}

// SetServerUptime records the server uptime in seconds
func SetServerUptime(seconds int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerUptime,
			float64(seconds),
			nil,
		)
	}
}

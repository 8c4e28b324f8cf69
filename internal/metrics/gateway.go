package metrics

import (
	"errors"

	"github.com/vibecoder/aigateway/internal/gateway"
	"github.com/vibecoder/aigateway/internal/observability"
)

// Gateway metric names
const (
	GatewaySubmissionsTotal = "gateway_submissions_total"
	GatewayAttemptsTotal    = "gateway_attempts_total"
	GatewayAttemptDuration  = "gateway_attempt_duration_ms"
	GatewayBackoff          = "gateway_backoff_ms"
	GatewayQueueDepth       = "gateway_queue_depth"
	GatewayResultsTotal     = "gateway_results_total"
	GatewayQueueWait        = "gateway_queue_wait_ms"
	GatewayRequestDuration  = "gateway_request_duration_ms"
)

// GatewayHooks emits gateway metrics labelled with provider. depth, when set,
// is sampled after each resolution so the queue gauge falls as well as rises.
func GatewayHooks(provider string, depth func() int) gateway.Hooks {
	return gateway.Hooks{
		OnSubmit: func(ev gateway.SubmitEvent) {
			counter(GatewaySubmissionsTotal, map[string]string{"provider": provider})
			gauge(GatewayQueueDepth, float64(ev.QueueDepth), map[string]string{"provider": provider})
		},
		OnAttempt: func(ev gateway.AttemptEvent) {
			if observability.TelemetrySystem == nil {
				return
			}
			tags := map[string]string{"provider": provider, "outcome": ev.Kind.String()}
			_ = observability.TelemetrySystem.Counter(GatewayAttemptsTotal, 1, tags)
			_ = observability.TelemetrySystem.Histogram(GatewayAttemptDuration, ev.Duration, map[string]string{"provider": provider})
		},
		OnBackoff: func(ev gateway.BackoffEvent) {
			if observability.TelemetrySystem == nil {
				return
			}
			_ = observability.TelemetrySystem.Histogram(GatewayBackoff, ev.Delay,
				map[string]string{"provider": provider, "reason": ev.Kind.String()})
		},
		OnResolve: func(ev gateway.ResolveEvent) {
			counter(GatewayResultsTotal, map[string]string{"provider": provider, "status": ResultStatus(ev.Err)})
			if observability.TelemetrySystem != nil {
				_ = observability.TelemetrySystem.Histogram(GatewayQueueWait, ev.QueueWait, map[string]string{"provider": provider})
				_ = observability.TelemetrySystem.Histogram(GatewayRequestDuration, ev.Total, map[string]string{"provider": provider})
			}
			if depth != nil {
				gauge(GatewayQueueDepth, float64(depth()), map[string]string{"provider": provider})
			}
		},
	}
}

// ResultStatus buckets a resolved request's error into a metric label.
func ResultStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, gateway.ErrExhaustedRetries):
		return "exhausted"
	case errors.Is(err, gateway.ErrGatewayClosed):
		return "closed"
	default:
		return "failed"
	}
}

func counter(name string, tags map[string]string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(name, 1, tags)
	}
}

func gauge(name string, value float64, tags map[string]string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(name, value, tags)
	}
}

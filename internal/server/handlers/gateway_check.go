package handlers

import (
	"context"
	"fmt"

	"github.com/vibecoder/aigateway/internal/gateway"
)

// GatewayChecker reports the gateway unhealthy once it stops accepting work and
// degraded while more than DegradedDepth requests are waiting.
type GatewayChecker struct {
	Stats         StatsSource
	DegradedDepth int
}

func (c GatewayChecker) CheckHealth(ctx context.Context) error {
	if c.Stats == nil {
		return fmt.Errorf("gateway not configured")
	}
	stats := c.Stats.Stats()
	if stats.Closed {
		return gateway.ErrGatewayClosed
	}
	if c.DegradedDepth > 0 && stats.QueueDepth > c.DegradedDepth {
		return fmt.Errorf("%w: %d requests queued", ErrDegraded, stats.QueueDepth)
	}
	return nil
}

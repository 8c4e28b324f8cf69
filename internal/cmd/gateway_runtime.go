package cmd

import (
	"context"
	"fmt"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/vibecoder/aigateway/internal/ailink"
	"github.com/vibecoder/aigateway/internal/config"
	"github.com/vibecoder/aigateway/internal/core/engine"
	"github.com/vibecoder/aigateway/internal/core/store"
	"github.com/vibecoder/aigateway/internal/gateway"
	"github.com/vibecoder/aigateway/internal/metrics"
	"github.com/vibecoder/aigateway/internal/server/handlers"
)

// gatewayRuntime is the process-wide completion path: one gateway in front of
// the configured provider, plus the optional usage ledger.
type gatewayRuntime struct {
	client *ailink.Client
	ledger *engine.Ledger
	store  *store.Store
	logger *logging.Logger
}

// buildGatewayRuntime resolves the provider and starts its gateway. A ledger
// store that fails to open is logged and skipped; completions still work.
func buildGatewayRuntime(ctx context.Context, cfg *config.Config, logger *logging.Logger, modelOverride string) (*gatewayRuntime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	resolved, err := ailink.NewRegistry(cfg.AILink).Resolve(modelOverride)
	if err != nil {
		return nil, err
	}
	if resolved.FellBack() && logger != nil {
		logger.Warn("Unknown AI provider, using default",
			zap.String("requested", resolved.Requested),
			zap.String("provider", resolved.ProviderID))
	}

	rt := &gatewayRuntime{logger: logger}

	var gw *ailink.Gateway
	depth := func() int {
		if gw == nil {
			return 0
		}
		return gw.Stats().QueueDepth
	}

	opts := []gateway.Option{
		gateway.WithHooks(metrics.GatewayHooks(resolved.ProviderID, depth)),
	}
	if logger != nil {
		opts = append(opts, gateway.WithLogger(logger))
	}

	if cfg.Ledger.Enabled {
		db, err := openStore(ctx, cfg)
		if err != nil {
			if logger != nil {
				logger.Warn("Usage ledger disabled: store unavailable", zap.Error(err))
			}
		} else {
			rt.store = db
			rt.ledger = &engine.Ledger{
				Store:  db,
				Window: cfg.Ledger.Window,
				Quota:  cfg.Ledger.RequestsPerWindow,
				Logger: logger,
			}
			opts = append(opts, gateway.WithHooks(rt.ledger.Hooks(resolved.ProviderID)))
		}
	}

	gw, err = ailink.NewGateway(resolved, cfg.Gateway, opts...)
	if err != nil {
		rt.closeStore()
		return nil, err
	}
	rt.client = ailink.NewClient(gw, resolved)

	if logger != nil {
		logger.Debug("Gateway ready",
			zap.String("provider", resolved.ProviderID),
			zap.String("model", resolved.Model),
			zap.String("credential", resolved.Credential.Label),
			zap.Bool("ledger", rt.ledger != nil))
	}
	return rt, nil
}

// usageSource returns a nil interface, not a typed nil, when there is no ledger.
func (rt *gatewayRuntime) usageSource() handlers.UsageSource {
	if rt == nil || rt.ledger == nil {
		return nil
	}
	return rt.ledger
}

// shutdown drains the gateway, flushes the ledger, then closes its store.
func (rt *gatewayRuntime) shutdown(ctx context.Context) error {
	if rt == nil {
		return nil
	}
	var err error
	if rt.client != nil {
		err = rt.client.Gateway().Shutdown(ctx)
	}
	if rt.ledger != nil {
		if ferr := rt.ledger.Close(ctx); ferr != nil && rt.logger != nil {
			rt.logger.Warn("Usage ledger not fully flushed", zap.Error(ferr))
		}
	}
	rt.closeStore()
	return err
}

func (rt *gatewayRuntime) closeStore() {
	if rt.store == nil {
		return
	}
	if err := rt.store.Close(); err != nil && rt.logger != nil {
		rt.logger.Warn("Failed to close store", zap.Error(err))
	}
	rt.store = nil
}

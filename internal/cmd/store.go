package cmd

import (
	"context"
	"fmt"

	"github.com/vibecoder/aigateway/internal/config"
	"github.com/vibecoder/aigateway/internal/core/store"
)

// openStore opens the ledger named by the loaded config.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	db, err := store.OpenLedger(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open usage ledger: %w", err)
	}
	return db, nil
}

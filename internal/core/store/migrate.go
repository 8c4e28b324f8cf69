package store

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS rate_limits (
		provider TEXT PRIMARY KEY,
		request_count INTEGER NOT NULL DEFAULT 0,
		rate_limit_count INTEGER NOT NULL DEFAULT 0,
		window_start INTEGER NOT NULL,
		backoff_until INTEGER,
		last_429_at INTEGER
	);`,
	`CREATE INDEX IF NOT EXISTS idx_rate_limits_backoff ON rate_limits(backoff_until);`,
}

// Migrate creates the ledger tables if they are missing. It is safe to run on
// every start.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, err := s.conn(ctx)
	if err != nil {
		return err
	}
	for i, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ledger migration step %d: %w", i+1, err)
		}
	}
	return nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vibecoder/aigateway/internal/core"
)

// RateLimitEntry is one provider's ledger row.
type RateLimitEntry struct {
	Provider string              `json:"provider"`
	State    core.RateLimitState `json:"state"`
}

// RateLimitQuery selects ledger rows for the admin commands. Provider wins
// over Prefix; All ignores both.
type RateLimitQuery struct {
	All      bool
	Provider string
	Prefix   string
}

var errEmptyQuery = errors.New("must specify --all, --provider, or --prefix")

func (q RateLimitQuery) Validate() error {
	if q.All || strings.TrimSpace(q.Provider) != "" || strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errEmptyQuery
}

// whereClause matches provider ids case-insensitively; ids are stored lowercased.
func (q RateLimitQuery) whereClause() (string, []any, error) {
	switch {
	case q.Validate() != nil:
		return "", nil, errEmptyQuery
	case q.All:
		return "", nil, nil
	case strings.TrimSpace(q.Provider) != "":
		return "WHERE provider = ?", []any{normalizeProvider(q.Provider)}, nil
	default:
		return "WHERE provider LIKE ?", []any{normalizeProvider(q.Prefix) + "%"}, nil
	}
}

// ListRateLimits returns matching rows ordered by provider id.
func (s *Store) ListRateLimits(ctx context.Context, q RateLimitQuery) ([]RateLimitEntry, error) {
	ctx, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM rate_limits %s ORDER BY provider", rateLimitColumns, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []RateLimitEntry{}
	for rows.Next() {
		entry, err := scanRateLimit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	return entries, nil
}

func (s *Store) CountRateLimits(ctx context.Context, q RateLimitQuery) (int, error) {
	ctx, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM rate_limits "+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count ledger: %w", err)
	}
	return count, nil
}

// ResetRateLimits deletes matching rows and returns how many went.
func (s *Store) ResetRateLimits(ctx context.Context, q RateLimitQuery) (int64, error) {
	ctx, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, "DELETE FROM rate_limits "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("reset ledger: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset ledger: %w", err)
	}
	return affected, nil
}

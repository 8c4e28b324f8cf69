package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vibecoder/aigateway/internal/core"
)

const rateLimitColumns = `provider, request_count, rate_limit_count, window_start, backoff_until, last_429_at`

var errNoProvider = errors.New("provider is required")

// normalizeProvider is the ledger key form of a provider id.
func normalizeProvider(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// conn guards every query against a nil store and a nil context.
func (s *Store) conn(ctx context.Context) (context.Context, error) {
	if s == nil || s.DB == nil {
		return nil, errNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx, nil
}

// GetRateLimit returns the stored ledger entry for a provider, or nil.
func (s *Store) GetRateLimit(ctx context.Context, provider string) (*core.RateLimitState, error) {
	ctx, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	provider = normalizeProvider(provider)
	if provider == "" {
		return nil, errNoProvider
	}

	row := s.DB.QueryRowContext(ctx, "SELECT "+rateLimitColumns+" FROM rate_limits WHERE provider = ?", provider)
	entry, err := scanRateLimit(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("read ledger for %s: %w", provider, err)
	}
	return &entry.State, nil
}

// UpdateRateLimit upserts the ledger entry for a provider.
func (s *Store) UpdateRateLimit(ctx context.Context, provider string, state *core.RateLimitState) error {
	ctx, err := s.conn(ctx)
	if err != nil {
		return err
	}
	provider = normalizeProvider(provider)
	if provider == "" {
		return errNoProvider
	}
	if state == nil {
		return errors.New("ledger state is required")
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO rate_limits (`+rateLimitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			request_count = excluded.request_count,
			rate_limit_count = excluded.rate_limit_count,
			window_start = excluded.window_start,
			backoff_until = excluded.backoff_until,
			last_429_at = excluded.last_429_at
	`, provider, state.RequestCount, state.RateLimitCount, state.WindowStart.UTC().Unix(),
		nullUnix(state.BackoffUntil), nullUnix(state.Last429At))
	if err != nil {
		return fmt.Errorf("write ledger for %s: %w", provider, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRateLimit(row rowScanner) (RateLimitEntry, error) {
	var (
		entry        RateLimitEntry
		windowStart  int64
		backoffUntil sql.NullInt64
		last429At    sql.NullInt64
	)
	if err := row.Scan(&entry.Provider, &entry.State.RequestCount, &entry.State.RateLimitCount,
		&windowStart, &backoffUntil, &last429At); err != nil {
		return RateLimitEntry{}, err
	}

	entry.State.WindowStart = time.Unix(windowStart, 0).UTC()
	entry.State.BackoffUntil = timeFromNull(backoffUntil)
	entry.State.Last429At = timeFromNull(last429At)
	return entry, nil
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().Unix(), Valid: true}
}

func timeFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	value := time.Unix(v.Int64, 0).UTC()
	return &value
}

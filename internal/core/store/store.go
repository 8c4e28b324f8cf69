package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/vibecoder/aigateway/internal/config"
)

const driverLibsql = "libsql"

// localPragmas are applied to file-backed ledgers. The CLI and a running
// server may write the same file.
var localPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
}

var errNotInitialized = errors.New("store is not initialized")

// Store wraps the database connection holding the provider usage ledger.
type Store struct {
	DB     *sql.DB
	driver string
	local  bool
}

// ledgerTarget is a resolved libsql connection string.
type ledgerTarget struct {
	dsn   string
	local bool
}

// Open connects to the ledger described by cfg without touching the schema.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	driver := strings.TrimSpace(cfg.Driver)
	if driver == "" {
		driver = driverLibsql
	}
	if driver != driverLibsql {
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}

	target, err := resolveTarget(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverLibsql, target.dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	s := &Store{DB: db, driver: driver, local: target.local}
	if err := s.prepare(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenLedger opens the ledger and brings its schema up to date.
func OpenLedger(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	s, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) prepare(ctx context.Context) error {
	if err := s.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping ledger: %w", err)
	}
	if !s.local {
		return nil
	}

	s.DB.SetMaxOpenConns(1)
	for _, pragma := range localPragmas {
		// Both pragmas return a row; Exec would leave it unread.
		var ignored any
		if err := s.DB.QueryRowContext(ctx, pragma).Scan(&ignored); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Driver returns the configured store driver.
func (s *Store) Driver() string {
	if s == nil {
		return ""
	}
	return s.driver
}

// Local reports whether the ledger lives in a file on this host.
func (s *Store) Local() bool {
	return s != nil && s.local
}

// Ping backs the store health check.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errNotInitialized
	}
	return s.DB.PingContext(ctx)
}

// resolveTarget prefers a remote URL over a local path. Bare paths become
// file: DSNs and their parent directory is created.
func resolveTarget(cfg config.StoreConfig) (ledgerTarget, error) {
	if remote := strings.TrimSpace(cfg.URL); remote != "" {
		dsn, err := withAuthToken(remote, cfg.AuthToken)
		return ledgerTarget{dsn: dsn}, err
	}

	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "":
		return ledgerTarget{}, errors.New("store path or url is required")
	case path == ":memory:", strings.HasPrefix(path, "libsql:"):
		return ledgerTarget{dsn: path}, nil
	case strings.HasPrefix(path, "file:"):
		local, err := filePathOf(path)
		if err != nil {
			return ledgerTarget{}, err
		}
		return ledgerTarget{dsn: path, local: true}, makeParentDir(local)
	default:
		return ledgerTarget{dsn: "file:" + filepath.Clean(path), local: true}, makeParentDir(path)
	}
}

// withAuthToken adds authToken to a remote DSN unless the DSN already has one.
func withAuthToken(dsn, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}

	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}
	q := u.Query()
	if q.Get("authToken") != "" {
		return dsn, nil
	}
	q.Set("authToken", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func filePathOf(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store path: %w", err)
	}
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	return strings.TrimPrefix(p, "//"), nil
}

func makeParentDir(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	// #nosec G301 -- ledger directory is shared by CLI and server
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}

package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Options configures how the local store file is opened.
type Options struct {
	Path         string
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// Store owns the single process-wide handle to the local SQLite file.
// Components receive the *sql.DB through injection and never open their own.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates the data directory on demand and opens the store in WAL mode.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("platform/db: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("platform/db: create data dir: %w", err)
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 30 * time.Second
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 4
	}

	sqlDB, err := sql.Open("sqlite", dsn(opts.Path, opts.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("platform/db: open: %w", err)
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("platform/db: ping: %w", err)
	}

	var mode string
	if err := sqlDB.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("platform/db: read journal mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("platform/db: journal mode %q, want wal", mode)
	}

	return &Store{db: sqlDB, path: opts.Path}, nil
}

// DB exposes the shared handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close releases the handle. It is safe to call on a nil store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func dsn(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(ON)")
	q.Set("_txlock", "immediate")
	return "file:" + filepath.ToSlash(path) + "?" + q.Encode()
}

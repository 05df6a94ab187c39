// Package dbtest opens migrated throwaway stores for package tests.
package dbtest

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
)

// Logger discards output so tests stay quiet.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Open creates a store in t.TempDir and applies every migration.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	store := OpenRaw(t)
	_, err := db.NewMigrator(store.DB(), Logger(), db.MigratorOptions{}).Apply(context.Background())
	require.NoError(t, err)
	return store.DB()
}

// OpenRaw creates an empty store without running migrations.
func OpenRaw(t testing.TB) *db.Store {
	t.Helper()
	store, err := db.Open(context.Background(), db.Options{
		Path:        filepath.Join(t.TempDir(), "data", "pos.db"),
		BusyTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

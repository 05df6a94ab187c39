package masterdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
)

const fetchedMarkerPrefix = "fetched_at:"

// Repository caches reference datasets.
type Repository interface {
	Replace(ctx context.Context, ds Dataset, items []Item) error
	SaveSingleton(ctx context.Context, ds Dataset, value []byte) error
	Items(ctx context.Context, ds Dataset) ([]Item, error)
	Singleton(ctx context.Context, ds Dataset) ([]byte, bool, error)
	FetchedAt(ctx context.Context, ds Dataset) (*time.Time, error)
	SeedDefaults(ctx context.Context, ds Dataset) (int, error)
}

type repository struct {
	db *sql.DB
}

// NewRepository constructs the SQLite-backed cache.
func NewRepository(sqlDB *sql.DB) Repository {
	return &repository{db: sqlDB}
}

// Replace swaps the whole table for items in one transaction, so a failed
// batch leaves the previous dataset intact.
func (r *repository) Replace(ctx context.Context, ds Dataset, items []Item) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+ds.Table); err != nil {
			return fmt.Errorf("clear %s: %w", ds.Table, err)
		}
		if err := insertItems(ctx, tx, ds, items, false); err != nil {
			return err
		}
		return markFetched(ctx, tx, ds, len(items))
	})
}

func (r *repository) SaveSingleton(ctx context.Context, ds Dataset, value []byte) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := upsertSetting(ctx, tx, ds.SettingKey, string(value)); err != nil {
			return err
		}
		return markFetched(ctx, tx, ds, 1)
	})
}

func (r *repository) Items(ctx context.Context, ds Dataset) ([]Item, error) {
	cols := columnNames(ds)
	rows, err := r.db.QueryContext(ctx, `SELECT id, `+coalesced(cols)+`, COALESCE(raw_response, '') FROM `+ds.Table+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var (
			id   string
			raw  string
			vals = make([]string, len(cols))
			dest = make([]any, 0, len(cols)+2)
		)
		dest = append(dest, &id)
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		dest = append(dest, &raw)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		item := Item{ID: id, Fields: make(map[string]string, len(cols))}
		for i, c := range cols {
			item.Fields[c] = vals[i]
		}
		if raw != "" {
			item.Raw = []byte(raw)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *repository) Singleton(ctx context.Context, ds Dataset) ([]byte, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, ds.SettingKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(value), true, nil
}

func (r *repository) FetchedAt(ctx context.Context, ds Dataset) (*time.Time, error) {
	var updated int64
	err := r.db.QueryRowContext(ctx, `SELECT updated_at FROM settings WHERE key = ?`, fetchedMarkerPrefix+ds.Name).Scan(&updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := db.FromMillis(updated)
	return &t, nil
}

// SeedDefaults inserts the dataset's default rows while its table is empty.
func (r *repository) SeedDefaults(ctx context.Context, ds Dataset) (int, error) {
	if ds.Singleton() || len(ds.Defaults) == 0 {
		return 0, nil
	}
	seeded := 0
	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+ds.Table).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		seeded = len(ds.Defaults)
		return insertItems(ctx, tx, ds, ds.Defaults, true)
	})
	return seeded, err
}

func insertItems(ctx context.Context, tx *sql.Tx, ds Dataset, items []Item, ignoreExisting bool) error {
	cols := columnNames(ds)
	verb := "INSERT OR REPLACE"
	if ignoreExisting {
		verb = "INSERT OR IGNORE"
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)+2), ", ")
	stmt, err := tx.PrepareContext(ctx, verb+` INTO `+ds.Table+` (id, `+strings.Join(cols, ", ")+`, raw_response) VALUES (`+placeholders+`)`)
	if err != nil {
		return fmt.Errorf("prepare %s: %w", ds.Table, err)
	}
	defer stmt.Close()

	for _, item := range items {
		args := make([]any, 0, len(cols)+2)
		args = append(args, item.ID)
		for _, c := range cols {
			args = append(args, columnValue(c, item.Fields[c]))
		}
		args = append(args, db.NullString(string(item.Raw)))
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert %s %s: %w", ds.Table, item.ID, err)
		}
	}
	return nil
}

func markFetched(ctx context.Context, q db.Queryer, ds Dataset, n int) error {
	return upsertSetting(ctx, q, fetchedMarkerPrefix+ds.Name, strconv.Itoa(n))
}

func upsertSetting(ctx context.Context, q db.Queryer, key, value string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, db.Millis(time.Now()))
	return err
}

func columnNames(ds Dataset) []string {
	out := make([]string, 0, len(ds.Columns))
	for _, c := range ds.Columns {
		out = append(out, c.Name)
	}
	return out
}

func coalesced(cols []string) string {
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		parts = append(parts, "COALESCE("+c+", '')")
	}
	return strings.Join(parts, ", ")
}

// name is NOT NULL in every reference table.
func columnValue(col, v string) any {
	if col == "name" {
		return v
	}
	return db.NullString(v)
}

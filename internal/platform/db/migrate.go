package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const ledgerTable = "schema_migrations"

// Migration is one named, ordered schema step. Up must be safe to run again
// against a schema that already contains its changes.
type Migration struct {
	Name string
	// BestEffort migrations log and continue on failure instead of aborting startup.
	BestEffort bool
	Up         func(ctx context.Context, tx *sql.Tx) error
}

// MigratorOptions overrides the built-in migration set, mainly for tests.
type MigratorOptions struct {
	Migrations     []Migration
	CriticalTables []string
}

// Migrator applies migrations exactly once, tracked in the ledger table.
type Migrator struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations []Migration
	critical   []string
}

// NewMigrator constructs a migrator over the shared handle.
func NewMigrator(sqlDB *sql.DB, logger *slog.Logger, opts MigratorOptions) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	migrations := opts.Migrations
	if migrations == nil {
		migrations = Migrations()
	}
	critical := opts.CriticalTables
	if critical == nil {
		critical = CriticalTables
	}
	return &Migrator{
		db:         sqlDB,
		logger:     logger.With(slog.String("component", "migrator")),
		migrations: migrations,
		critical:   critical,
	}
}

// Apply runs every pending migration and returns the names it applied.
// Calling it on every process start is safe.
func (m *Migrator) Apply(ctx context.Context) ([]string, error) {
	if err := validateOrder(m.migrations); err != nil {
		return nil, err
	}
	if _, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+ledgerTable+` (
		name TEXT PRIMARY KEY,
		executed_at INTEGER NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("platform/db: create ledger: %w", err)
	}

	missing, err := m.missingCriticalTables(ctx)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		res, err := m.db.ExecContext(ctx, `DELETE FROM `+ledgerTable)
		if err != nil {
			return nil, fmt.Errorf("platform/db: reset ledger: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			m.logger.Warn("critical tables missing, ledger reset",
				slog.Any("tables", missing), slog.Int64("cleared", n))
		}
	}

	done, err := m.recorded(ctx)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, mig := range m.migrations {
		if done[mig.Name] {
			continue
		}
		err := WithTx(ctx, m.db, func(tx *sql.Tx) error {
			if err := mig.Up(ctx, tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO `+ledgerTable+` (name, executed_at) VALUES (?, ?)`,
				mig.Name, Millis(time.Now()))
			return err
		})
		if err != nil {
			if mig.BestEffort {
				m.logger.Warn("best-effort migration failed", slog.String("migration", mig.Name), slog.Any("error", err))
				continue
			}
			return applied, fmt.Errorf("platform/db: migration %s: %w", mig.Name, err)
		}
		m.logger.Info("migration applied", slog.String("migration", mig.Name))
		applied = append(applied, mig.Name)
	}
	return applied, nil
}

// Applied lists ledger entries in application order.
func (m *Migrator) Applied(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT name FROM `+ledgerTable+` ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (m *Migrator) recorded(ctx context.Context) (map[string]bool, error) {
	names, err := m.Applied(ctx)
	if err != nil {
		return nil, fmt.Errorf("platform/db: read ledger: %w", err)
	}
	done := make(map[string]bool, len(names))
	for _, n := range names {
		done[n] = true
	}
	return done, nil
}

func (m *Migrator) missingCriticalTables(ctx context.Context) ([]string, error) {
	var missing []string
	for _, table := range m.critical {
		ok, err := TableExists(ctx, m.db, table)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, table)
		}
	}
	return missing, nil
}

// validateOrder enforces the NNN_description naming and strictly ascending numbers.
func validateOrder(migrations []Migration) error {
	prev := 0
	for _, mig := range migrations {
		prefix, _, ok := strings.Cut(mig.Name, "_")
		if !ok || len(prefix) != 3 {
			return fmt.Errorf("platform/db: migration %q does not follow NNN_description", mig.Name)
		}
		n, err := strconv.Atoi(prefix)
		if err != nil {
			return fmt.Errorf("platform/db: migration %q: %w", mig.Name, err)
		}
		if n <= prev {
			return fmt.Errorf("platform/db: migration %q out of order", mig.Name)
		}
		if mig.Up == nil {
			return fmt.Errorf("platform/db: migration %q has no Up", mig.Name)
		}
		prev = n
	}
	return nil
}

// TableExists reports whether the named table is present.
func TableExists(ctx context.Context, q Queryer, table string) (bool, error) {
	var name string
	err := q.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("platform/db: lookup table %s: %w", table, err)
	}
	return true, nil
}

// ColumnExists introspects the table with PRAGMA table_info.
func ColumnExists(ctx context.Context, q Queryer, table, column string) (bool, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("platform/db: table info %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid       int
			name      string
			declType  string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &declType, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}

// AddColumnIfMissing keeps column-add migrations idempotent across upgrade paths.
func AddColumnIfMissing(ctx context.Context, tx *sql.Tx, table, column, decl string) error {
	ok, err := ColumnExists(ctx, tx, table, column)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	return err
}

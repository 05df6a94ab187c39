package db

import (
	"context"
	"database/sql"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// CriticalTables must exist for the ledger to be trusted. If any is missing
// the ledger is cleared and every migration runs again.
var CriticalTables = []string{"users", "products", "product_sync_progress", "sales", "settings"}

// Migrations returns the ordered schema history of the local store.
func Migrations() []Migration {
	return []Migration{
		{Name: "001_create_users", Up: execAll(
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				username TEXT,
				email TEXT,
				name TEXT,
				token TEXT,
				password_salt TEXT,
				password_hash TEXT,
				raw_response TEXT,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
		)},
		{Name: "002_create_products", Up: execAll(
			`CREATE TABLE IF NOT EXISTS products (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				price REAL NOT NULL DEFAULT 0,
				category TEXT,
				code TEXT,
				raw_response TEXT,
				updated_at INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_products_category ON products(category)`,
			`CREATE INDEX IF NOT EXISTS idx_products_name ON products(name)`,
		)},
		{Name: "003_create_product_sync_progress", Up: execAll(
			`CREATE TABLE IF NOT EXISTS product_sync_progress (
				id TEXT PRIMARY KEY,
				current_page INTEGER NOT NULL DEFAULT 1,
				last_page INTEGER NOT NULL DEFAULT 1,
				is_completed INTEGER NOT NULL DEFAULT 0,
				last_sync_at INTEGER,
				total_products INTEGER NOT NULL DEFAULT 0
			)`,
		)},
		{Name: "004_create_sales", Up: execAll(
			`CREATE TABLE IF NOT EXISTS sales (
				id TEXT PRIMARY KEY,
				invoice_number TEXT NOT NULL,
				customer_name TEXT,
				customer_phone TEXT,
				subtotal REAL NOT NULL DEFAULT 0,
				tax_amount REAL NOT NULL DEFAULT 0,
				total_amount REAL NOT NULL DEFAULT 0,
				payment_method TEXT NOT NULL DEFAULT 'cash',
				payment_status TEXT NOT NULL DEFAULT 'paid',
				items TEXT NOT NULL DEFAULT '[]',
				created_at INTEGER NOT NULL,
				synced_at INTEGER,
				sync_status TEXT NOT NULL DEFAULT 'pending'
					CHECK (sync_status IN ('pending', 'syncing', 'synced', 'failed')),
				sync_attempts INTEGER NOT NULL DEFAULT 0,
				last_sync_error TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sales_status ON sales(sync_status, created_at)`,
		)},
		{Name: "005_create_reference_tables", Up: execAll(
			`CREATE TABLE IF NOT EXISTS settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS countries (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				short_code TEXT,
				raw_response TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS warehouses (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				phone TEXT,
				country TEXT,
				city TEXT,
				email TEXT,
				zip_code TEXT,
				raw_response TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS product_categories (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				image TEXT,
				raw_response TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS payment_methods (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				raw_response TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS units (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				short_name TEXT,
				base_unit TEXT,
				raw_response TEXT
			)`,
		)},
		{Name: "006_create_holds", Up: execAll(
			`CREATE TABLE IF NOT EXISTS holds (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				items TEXT NOT NULL DEFAULT '[]',
				total_amount REAL NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
		)},
		{Name: "007_add_sales_remote_columns", Up: addColumns("sales", [][2]string{
			{"date", "TEXT"},
			{"customer_id", "TEXT"},
			{"warehouse_id", "TEXT"},
			{"sale_items", "TEXT NOT NULL DEFAULT '[]'"},
			{"grand_total", "REAL NOT NULL DEFAULT 0"},
			{"discount", "REAL NOT NULL DEFAULT 0"},
			{"shipping", "REAL NOT NULL DEFAULT 0"},
			{"tax_rate", "REAL NOT NULL DEFAULT 0"},
			{"note", "TEXT"},
			{"status", "TEXT NOT NULL DEFAULT 'completed'"},
			{"hold_ref_no", "TEXT"},
		})},
		{Name: "008_add_sales_user_id", Up: func(ctx context.Context, tx *sql.Tx) error {
			if err := AddColumnIfMissing(ctx, tx, "sales", "user_id", "TEXT NOT NULL DEFAULT ''"); err != nil {
				return err
			}
			return execAll(
				`CREATE INDEX IF NOT EXISTS idx_sales_user_status ON sales(user_id, sync_status, created_at)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_sales_user_invoice ON sales(user_id, invoice_number)`,
			)(ctx, tx)
		}},
		{Name: "009_create_idempotency_keys", Up: execAll(
			`CREATE TABLE IF NOT EXISTS idempotency_keys (
				key TEXT NOT NULL,
				module TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				PRIMARY KEY (key, module)
			)`,
		)},
		{Name: "010_add_products_search_key", Up: func(ctx context.Context, tx *sql.Tx) error {
			if err := AddColumnIfMissing(ctx, tx, "products", "search_key", "TEXT NOT NULL DEFAULT ''"); err != nil {
				return err
			}
			return backfillSearchKeys(ctx, tx)
		}},
		{Name: "011_normalize_empty_strings", BestEffort: true, Up: execAll(
			`UPDATE products SET code = NULL WHERE code = ''`,
			`UPDATE products SET category = NULL WHERE category = ''`,
			`UPDATE sales SET last_sync_error = NULL WHERE last_sync_error = ''`,
			`UPDATE sales SET customer_id = NULL WHERE customer_id = ''`,
			`UPDATE users SET token = NULL WHERE token = ''`,
		)},
	}
}

func execAll(stmts ...string) func(context.Context, *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

func addColumns(table string, cols [][2]string) func(context.Context, *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		for _, c := range cols {
			if err := AddColumnIfMissing(ctx, tx, table, c[0], c[1]); err != nil {
				return err
			}
		}
		return nil
	}
}

func backfillSearchKeys(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, name, COALESCE(code, '') FROM products WHERE search_key = ''`)
	if err != nil {
		return err
	}
	type pending struct{ id, key string }
	var updates []pending
	for rows.Next() {
		var id, name, code string
		if err := rows.Scan(&id, &name, &code); err != nil {
			rows.Close()
			return err
		}
		updates = append(updates, pending{id: id, key: shared.SearchKey(name, code)})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}
	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, `UPDATE products SET search_key = ? WHERE id = ?`, u.key, u.id); err != nil {
			return err
		}
	}
	return nil
}

package sales

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Repository persists sales and holds. Every sale query is scoped to userID.
type Repository interface {
	Insert(ctx context.Context, sale Sale) error
	Get(ctx context.Context, userID, id string) (Sale, error)
	ListUnsynced(ctx context.Context, userID string) ([]Sale, error)
	CountUnsynced(ctx context.Context, userID string) (int, error)
	ListByDateRange(ctx context.Context, userID string, from, to time.Time) ([]Sale, error)
	Transition(ctx context.Context, userID, id string, next SyncStatus, errMsg string, at time.Time) error
	RecoverStale(ctx context.Context, userID, reason string) (int, error)
	PurgeSynced(ctx context.Context, userID, id string) (bool, error)

	InsertHold(ctx context.Context, hold Hold) error
	ListHolds(ctx context.Context) ([]Hold, error)
	TakeHold(ctx context.Context, id string) (Hold, error)
	DeleteHold(ctx context.Context, id string) error
}

type repository struct {
	db *sql.DB
}

// NewRepository constructs the SQLite-backed repository.
func NewRepository(sqlDB *sql.DB) Repository {
	return &repository{db: sqlDB}
}

// ============================================================================
// SALES
// ============================================================================

const saleColumns = `id, user_id, invoice_number, COALESCE(date, ''), COALESCE(customer_id, ''),
	COALESCE(customer_name, ''), COALESCE(customer_phone, ''), COALESCE(warehouse_id, ''),
	items, sale_items, subtotal, discount, shipping, tax_rate, tax_amount, total_amount, grand_total,
	payment_method, payment_status, status, COALESCE(note, ''), COALESCE(hold_ref_no, ''),
	created_at, synced_at, sync_status, sync_attempts, COALESCE(last_sync_error, '')`

func (r *repository) Insert(ctx context.Context, s Sale) error {
	items, err := json.Marshal(s.Items)
	if err != nil {
		return err
	}
	saleItems := string(s.SaleItems)
	if saleItems == "" {
		saleItems = "[]"
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sales (id, user_id, invoice_number, date, customer_id, customer_name, customer_phone, warehouse_id,
			items, sale_items, subtotal, discount, shipping, tax_rate, tax_amount, total_amount, grand_total,
			payment_method, payment_status, status, note, hold_ref_no, created_at, sync_status, sync_attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		s.ID, s.UserID, s.InvoiceNumber, s.Date, db.NullString(s.CustomerID), db.NullString(s.CustomerName),
		db.NullString(s.CustomerPhone), db.NullString(s.WarehouseID), string(items), saleItems,
		s.Subtotal, s.Discount, s.Shipping, s.TaxRate, s.TaxAmount, s.TotalAmount, s.GrandTotal,
		s.PaymentMethod, s.PaymentStatus, s.Status, db.NullString(s.Note), db.NullString(s.HoldRefNo),
		db.Millis(s.CreatedAt), string(StatusPending))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: invoice %s", ErrAlreadyExists, s.InvoiceNumber)
	}
	return err
}

func (r *repository) Get(ctx context.Context, userID, id string) (Sale, error) {
	rows, err := r.query(ctx, `WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return Sale{}, err
	}
	if len(rows) == 0 {
		return Sale{}, shared.ErrNotFound
	}
	return rows[0], nil
}

// ListUnsynced returns every sale not yet confirmed by the server, oldest first.
func (r *repository) ListUnsynced(ctx context.Context, userID string) ([]Sale, error) {
	return r.query(ctx, `WHERE user_id = ? AND sync_status != 'synced' ORDER BY created_at, rowid`, userID)
}

func (r *repository) CountUnsynced(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales WHERE user_id = ? AND sync_status != 'synced'`, userID).Scan(&n)
	return n, err
}

// ListByDateRange returns sales created in [from, to), newest first.
func (r *repository) ListByDateRange(ctx context.Context, userID string, from, to time.Time) ([]Sale, error) {
	return r.query(ctx, `WHERE user_id = ? AND created_at >= ? AND created_at < ? ORDER BY created_at DESC, rowid DESC`,
		userID, db.Millis(from), db.Millis(to))
}

// Transition moves a sale to next only from a state allowed to reach it.
func (r *repository) Transition(ctx context.Context, userID, id string, next SyncStatus, errMsg string, at time.Time) error {
	from := sourcesOf(next)
	if len(from) == 0 {
		return fmt.Errorf("%w: nothing moves to %s", ErrInvalidStatus, next)
	}
	set := `sync_status = ?`
	args := []any{string(next)}
	switch next {
	case StatusSynced:
		set += `, synced_at = ?, last_sync_error = NULL`
		args = append(args, db.Millis(at))
	case StatusFailed:
		set += `, sync_attempts = sync_attempts + 1, last_sync_error = ?`
		args = append(args, errMsg)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args = append(args, id, userID)
	for _, f := range from {
		args = append(args, string(f))
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE sales SET `+set+` WHERE id = ? AND user_id = ? AND sync_status IN (`+placeholders+`)`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		current, gerr := r.Get(ctx, userID, id)
		if gerr != nil {
			return gerr
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, current.SyncStatus, next)
	}
	return nil
}

// RecoverStale fails sales left in syncing by an interrupted run.
func (r *repository) RecoverStale(ctx context.Context, userID, reason string) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE sales SET sync_status = 'failed', sync_attempts = sync_attempts + 1, last_sync_error = ?
		WHERE user_id = ? AND sync_status = 'syncing'`, reason, userID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// PurgeSynced deletes a sale only once it is confirmed synced.
func (r *repository) PurgeSynced(ctx context.Context, userID, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sales WHERE id = ? AND sync_status = 'synced' AND user_id = ?`, id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *repository) query(ctx context.Context, where string, args ...any) ([]Sale, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+saleColumns+` FROM sales `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := []Sale{}
	for rows.Next() {
		var (
			s                Sale
			items, saleItems string
			status           string
			created          int64
			synced           sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.UserID, &s.InvoiceNumber, &s.Date, &s.CustomerID,
			&s.CustomerName, &s.CustomerPhone, &s.WarehouseID,
			&items, &saleItems, &s.Subtotal, &s.Discount, &s.Shipping, &s.TaxRate, &s.TaxAmount, &s.TotalAmount, &s.GrandTotal,
			&s.PaymentMethod, &s.PaymentStatus, &s.Status, &s.Note, &s.HoldRefNo,
			&created, &synced, &status, &s.SyncAttempts, &s.LastSyncError); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(items), &s.Items); err != nil {
			return nil, fmt.Errorf("sale %s items: %w", s.ID, err)
		}
		s.SaleItems = json.RawMessage(saleItems)
		s.SyncStatus = SyncStatus(status)
		s.CreatedAt = db.FromMillis(created)
		s.SyncedAt = db.TimePtr(synced)
		sales = append(sales, s)
	}
	return sales, rows.Err()
}

// ============================================================================
// HOLDS
// ============================================================================

func (r *repository) InsertHold(ctx context.Context, h Hold) error {
	items, err := json.Marshal(h.Items)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO holds (id, name, items, total_amount, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		h.ID, h.Name, string(items), h.TotalAmount, db.Millis(h.CreatedAt), db.Millis(h.UpdatedAt))
	return err
}

func (r *repository) ListHolds(ctx context.Context) ([]Hold, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, items, total_amount, created_at, updated_at FROM holds ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	holds := []Hold{}
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

// TakeHold returns the hold and deletes it in one transaction.
func (r *repository) TakeHold(ctx context.Context, id string) (Hold, error) {
	var hold Hold
	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		h, err := scanHold(tx.QueryRowContext(ctx, `SELECT id, name, items, total_amount, created_at, updated_at FROM holds WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return shared.ErrNotFound
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM holds WHERE id = ?`, id); err != nil {
			return err
		}
		hold = h
		return nil
	})
	return hold, err
}

func (r *repository) DeleteHold(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM holds WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHold(row rowScanner) (Hold, error) {
	var (
		h                Hold
		items            string
		created, updated int64
	)
	if err := row.Scan(&h.ID, &h.Name, &items, &h.TotalAmount, &created, &updated); err != nil {
		return Hold{}, err
	}
	if err := json.Unmarshal([]byte(items), &h.Items); err != nil {
		return Hold{}, fmt.Errorf("hold %s items: %w", h.ID, err)
	}
	h.CreatedAt = db.FromMillis(created)
	h.UpdatedAt = db.FromMillis(updated)
	return h, nil
}

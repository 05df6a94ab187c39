package shared

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// IdempotencyStore persists processed keys.
type IdempotencyStore struct {
	db *sql.DB
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(db *sql.DB) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// CheckAndInsert ensures key uniqueness per module.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if err := validateKey(key, module); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (key, module, created_at) VALUES (?, ?, ?) ON CONFLICT (key, module) DO NOTHING`,
		key, module, time.Now().UTC().UnixMilli())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

// Seen reports whether the key was already recorded for module.
func (s *IdempotencyStore) Seen(ctx context.Context, key, module string) (bool, error) {
	if s == nil {
		return false, nil
	}
	if err := validateKey(key, module); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM idempotency_keys WHERE key = ? AND module = ?`, key, module).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil {
		return nil
	}
	cutoff := time.Now().Add(-olderThan).UTC().UnixMilli()
	_, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at < ?`, cutoff)
	return err
}

func validateKey(key, module string) error {
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	return nil
}

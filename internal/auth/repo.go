package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindActive(ctx context.Context) (*User, error)
	SaveLogin(ctx context.Context, user User) error
	SetToken(ctx context.Context, userID, token string) error
	ClearToken(ctx context.Context, userID string) error
}

// SQLiteRepository implements Repository on the local store.
type SQLiteRepository struct {
	db *sql.DB
}

// NewRepository constructs a SQLite repository.
func NewRepository(sqlDB *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: sqlDB}
}

const userColumns = `id, COALESCE(username, ''), COALESCE(email, ''), COALESCE(name, ''), COALESCE(token, ''),
	COALESCE(password_salt, ''), COALESCE(password_hash, ''), COALESCE(raw_response, ''), created_at, updated_at`

// FindByEmail fetches a user by email.
func (r *SQLiteRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ? COLLATE NOCASE ORDER BY updated_at DESC LIMIT 1`, email)
	return scanUser(row)
}

// FindActive returns the most recently updated token-bearing user.
func (r *SQLiteRepository) FindActive(ctx context.Context) (*User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE token IS NOT NULL AND token != '' ORDER BY updated_at DESC LIMIT 1`)
	return scanUser(row)
}

// SaveLogin upserts the user and makes it the only token holder.
func (r *SQLiteRepository) SaveLogin(ctx context.Context, user User) error {
	now := time.Now()
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET token = NULL, updated_at = ? WHERE id != ? AND token IS NOT NULL`, db.Millis(now), user.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, username, email, name, token, password_salt, password_hash, raw_response, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				username = excluded.username,
				email = excluded.email,
				name = excluded.name,
				token = excluded.token,
				password_salt = COALESCE(excluded.password_salt, users.password_salt),
				password_hash = COALESCE(excluded.password_hash, users.password_hash),
				raw_response = COALESCE(excluded.raw_response, users.raw_response),
				updated_at = excluded.updated_at`,
			user.ID, db.NullString(user.Username), db.NullString(user.Email), db.NullString(user.Name), db.NullString(user.Token),
			db.NullString(user.PasswordSalt), db.NullString(user.PasswordHash), db.NullString(user.RawResponse),
			db.Millis(now), db.Millis(now))
		return err
	})
}

// SetToken activates the user with the given token, clearing every other session.
func (r *SQLiteRepository) SetToken(ctx context.Context, userID, token string) error {
	now := db.Millis(time.Now())
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET token = NULL WHERE id != ? AND token IS NOT NULL`, userID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE users SET token = ?, updated_at = ? WHERE id = ?`, token, now, userID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

// ClearToken ends the user's session.
func (r *SQLiteRepository) ClearToken(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET token = NULL, updated_at = ? WHERE id = ?`, db.Millis(time.Now()), userID)
	return err
}

func scanUser(row *sql.Row) (*User, error) {
	var (
		u                    User
		createdAt, updatedAt int64
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Name, &u.Token, &u.PasswordSalt, &u.PasswordHash, &u.RawResponse, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = db.FromMillis(createdAt)
	u.UpdatedAt = db.FromMillis(updatedAt)
	return &u, nil
}

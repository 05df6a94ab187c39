package catalog

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Repository persists products and import progress.
type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Product, int, error)
	Get(ctx context.Context, id string) (Product, error)
	Count(ctx context.Context) (int, error)
	GetProgress(ctx context.Context) (Progress, bool, error)
	SaveProgress(ctx context.Context, p Progress) error
	ResetProgress(ctx context.Context) error
	CommitPage(ctx context.Context, products []Product, p Progress) error
}

type repository struct {
	db *sql.DB
}

// NewRepository constructs the SQLite-backed repository.
func NewRepository(sqlDB *sql.DB) Repository {
	return &repository{db: sqlDB}
}

const productColumns = `id, name, price, COALESCE(category, ''), COALESCE(code, ''), COALESCE(raw_response, ''), updated_at`

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	where := []string{"1=1"}
	args := []any{}

	if filters.Category != "" {
		where = append(where, `(category = ? COLLATE NOCASE
			OR category IN (SELECT name FROM product_categories WHERE id = ?)
			OR category IN (SELECT id FROM product_categories WHERE name = ? COLLATE NOCASE))`)
		args = append(args, filters.Category, filters.Category, filters.Category)
	}
	if key := shared.SearchKey(filters.Search); key != "" {
		where = append(where, `search_key LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(key)+"%")
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + productColumns + ` FROM products WHERE ` + clause + ` ORDER BY ` + sortOrder(filters.SortBy, filters.SortDir)
	if filters.Limit > 0 {
		page := shared.NewPagination(filters.Page, filters.Limit, total)
		query += ` LIMIT ? OFFSET ?`
		args = append(args, page.PerPage, page.Offset())
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, shared.ErrNotFound
	}
	return p, err
}

func (r *repository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n)
	return n, err
}

func (r *repository) GetProgress(ctx context.Context) (Progress, bool, error) {
	var (
		p         Progress
		completed int
		lastSync  sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, current_page, last_page, is_completed, last_sync_at, total_products
		FROM product_sync_progress WHERE id = ?`, ProgressID).
		Scan(&p.ID, &p.CurrentPage, &p.LastPage, &completed, &lastSync, &p.TotalProducts)
	if errors.Is(err, sql.ErrNoRows) {
		return Progress{}, false, nil
	}
	if err != nil {
		return Progress{}, false, err
	}
	p.IsCompleted = completed == 1
	p.LastSyncAt = db.TimePtr(lastSync)
	return p, true, nil
}

func (r *repository) SaveProgress(ctx context.Context, p Progress) error {
	return saveProgress(ctx, r.db, p)
}

func (r *repository) ResetProgress(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM product_sync_progress WHERE id = ?`, ProgressID)
	return err
}

// CommitPage upserts one page of products and the advanced progress atomically.
func (r *repository) CommitPage(ctx context.Context, products []Product, p Progress) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO products (id, name, price, category, code, raw_response, search_key, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				price = excluded.price,
				category = excluded.category,
				code = excluded.code,
				raw_response = excluded.raw_response,
				search_key = excluded.search_key,
				updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := db.Millis(time.Now())
		for _, prod := range products {
			if _, err := stmt.ExecContext(ctx,
				prod.ID, prod.Name, prod.Price, db.NullString(prod.Category), db.NullString(prod.Code),
				db.NullString(string(prod.RawResponse)), shared.SearchKey(prod.Name, prod.Code), now,
			); err != nil {
				return err
			}
		}
		return saveProgress(ctx, tx, p)
	})
}

func saveProgress(ctx context.Context, q db.Queryer, p Progress) error {
	completed := 0
	if p.IsCompleted {
		completed = 1
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO product_sync_progress (id, current_page, last_page, is_completed, last_sync_at, total_products)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			current_page = excluded.current_page,
			last_page = excluded.last_page,
			is_completed = excluded.is_completed,
			last_sync_at = excluded.last_sync_at,
			total_products = excluded.total_products`,
		p.ID, p.CurrentPage, p.LastPage, completed, db.NullMillis(p.LastSyncAt), p.TotalProducts)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (Product, error) {
	var (
		p       Product
		raw     string
		updated int64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Category, &p.Code, &raw, &updated); err != nil {
		return Product{}, err
	}
	if raw != "" {
		p.RawResponse = []byte(raw)
	}
	p.UpdatedAt = db.FromMillis(updated)
	return p, nil
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == "desc" {
		dir = "DESC"
	}
	switch sortBy {
	case "code":
		return "code " + dir + ", id"
	case "price":
		return "price " + dir + ", id"
	default:
		return "name COLLATE NOCASE " + dir + ", id"
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

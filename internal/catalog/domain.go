package catalog

import (
	"encoding/json"
	"errors"
	"time"
)

// ProgressID identifies the full-catalog import row in product_sync_progress.
const ProgressID = "products"

var (
	// ErrMalformedPage is returned when a catalog page carries no product array.
	ErrMalformedPage = errors.New("catalog page has no product data")
	// ErrSyncInProgress rejects operations that must not overlap a running import.
	ErrSyncInProgress = errors.New("catalog sync in progress")
)

// Product is a catalog entry mirrored from the remote API.
type Product struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Category string  `json:"category,omitempty"`
	Code     string  `json:"code,omitempty"`
	// RawResponse is the verbatim remote record.
	RawResponse json.RawMessage `json:"raw_response,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Progress is the persisted state of a paginated import. CurrentPage is the
// next page to fetch.
type Progress struct {
	ID            string     `json:"id"`
	CurrentPage   int        `json:"current_page"`
	LastPage      int        `json:"last_page"`
	IsCompleted   bool       `json:"is_completed"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty"`
	TotalProducts int        `json:"total_products"`
}

// Advance returns the progress after page was committed.
func (p Progress) Advance(page, lastPage, total int, at time.Time) Progress {
	next := Progress{
		ID:            p.ID,
		CurrentPage:   page + 1,
		LastPage:      lastPage,
		TotalProducts: total,
		LastSyncAt:    &at,
	}
	next.IsCompleted = next.CurrentPage > next.LastPage
	return next
}

// Percent estimates completion from pages.
func (p Progress) Percent() float64 {
	if p.IsCompleted {
		return 100
	}
	if p.LastPage <= 0 || p.CurrentPage <= 1 {
		return 0
	}
	return float64(p.CurrentPage-1) / float64(p.LastPage) * 100
}

// Status is the read model behind get-catalog-sync-progress.
type Status struct {
	Progress
	Started       bool    `json:"started"`
	Running       bool    `json:"running"`
	Percent       float64 `json:"percent"`
	LocalProducts int     `json:"local_products"`
}

// SyncResult summarises one Run.
type SyncResult struct {
	Skipped         bool     `json:"skipped"`
	AlreadyComplete bool     `json:"already_complete"`
	PagesFetched    int      `json:"pages_fetched"`
	ProductsSaved   int      `json:"products_saved"`
	RecordsSkipped  int      `json:"records_skipped"`
	Progress        Progress `json:"progress"`
}

// ListFilters narrows product listings.
type ListFilters struct {
	Page     int
	Limit    int
	Search   string
	Category string
	SortBy   string
	SortDir  string
}

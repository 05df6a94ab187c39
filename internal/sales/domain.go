// Package sales is the local outbox of point-of-sale transactions. Sales
// are written locally first and uploaded to the commerce API later.
package sales

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrInvalidStatus rejects a sync status change the state machine forbids.
	ErrInvalidStatus = errors.New("invalid status transition")
	// ErrAlreadyExists is returned for a duplicate invoice number.
	ErrAlreadyExists = errors.New("record already exists")
)

// ============================================================================
// SYNC STATE MACHINE
// ============================================================================

// SyncStatus is the upload state of a sale.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSyncing SyncStatus = "syncing"
	StatusSynced  SyncStatus = "synced"
	StatusFailed  SyncStatus = "failed"
)

var transitions = map[SyncStatus][]SyncStatus{
	StatusPending: {StatusSyncing},
	StatusSyncing: {StatusSynced, StatusFailed},
	StatusFailed:  {StatusSyncing},
}

// CanTransition reports whether s may move to next. Synced is terminal.
func (s SyncStatus) CanTransition(next SyncStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// sourcesOf lists the states that may move to next.
func sourcesOf(next SyncStatus) []SyncStatus {
	var out []SyncStatus
	for _, from := range []SyncStatus{StatusPending, StatusSyncing, StatusSynced, StatusFailed} {
		if from.CanTransition(next) {
			out = append(out, from)
		}
	}
	return out
}

// ============================================================================
// SALE
// ============================================================================

// LineItem is one cart line as captured at checkout.
type LineItem struct {
	ProductID  string  `json:"product_id" validate:"required"`
	Name       string  `json:"name,omitempty" validate:"max=255"`
	Code       string  `json:"code,omitempty"`
	Unit       string  `json:"unit,omitempty"`
	Quantity   float64 `json:"quantity" validate:"gt=0"`
	UnitPrice  float64 `json:"unit_price" validate:"gte=0"`
	Discount   float64 `json:"discount" validate:"gte=0"`
	TaxPercent float64 `json:"tax_percent" validate:"gte=0,lte=100"`
}

// Sale is a locally recorded transaction and its upload state.
type Sale struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	InvoiceNumber string          `json:"invoice_number"`
	Date          string          `json:"date"`
	CustomerID    string          `json:"customer_id,omitempty"`
	CustomerName  string          `json:"customer_name,omitempty"`
	CustomerPhone string          `json:"customer_phone,omitempty"`
	WarehouseID   string          `json:"warehouse_id,omitempty"`
	Items         []LineItem      `json:"items"`
	SaleItems     json.RawMessage `json:"sale_items"`
	Subtotal      float64         `json:"subtotal"`
	Discount      float64         `json:"discount"`
	Shipping      float64         `json:"shipping"`
	TaxRate       float64         `json:"tax_rate"`
	TaxAmount     float64         `json:"tax_amount"`
	TotalAmount   float64         `json:"total_amount"`
	GrandTotal    float64         `json:"grand_total"`
	PaymentMethod string          `json:"payment_method"`
	PaymentStatus string          `json:"payment_status"`
	Status        string          `json:"status"`
	Note          string          `json:"note,omitempty"`
	HoldRefNo     string          `json:"hold_ref_no,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	SyncedAt      *time.Time      `json:"synced_at,omitempty"`
	SyncStatus    SyncStatus      `json:"sync_status"`
	SyncAttempts  int             `json:"sync_attempts"`
	LastSyncError string          `json:"last_sync_error,omitempty"`
}

// CreateSaleRequest is the checkout input.
type CreateSaleRequest struct {
	InvoiceNumber string     `json:"invoice_number" validate:"omitempty,max=64"`
	Date          string     `json:"date" validate:"omitempty,datetime=2006-01-02"`
	CustomerID    string     `json:"customer_id"`
	CustomerName  string     `json:"customer_name" validate:"max=255"`
	CustomerPhone string     `json:"customer_phone" validate:"max=50"`
	WarehouseID   string     `json:"warehouse_id"`
	Items         []LineItem `json:"items" validate:"required,min=1,dive"`
	Discount      float64    `json:"discount" validate:"gte=0"`
	Shipping      float64    `json:"shipping" validate:"gte=0"`
	TaxRate       float64    `json:"tax_rate" validate:"gte=0,lte=100"`
	PaymentMethod string     `json:"payment_method" validate:"omitempty,oneof=cash cheque bank_transfer other"`
	PaymentStatus string     `json:"payment_status" validate:"omitempty,oneof=paid unpaid partial"`
	Status        string     `json:"status" validate:"omitempty,oneof=completed pending ordered"`
	Note          string     `json:"note" validate:"max=1000"`
	HoldRefNo     string     `json:"hold_ref_no" validate:"max=64"`
}

// SyncResult summarises one upload pass.
type SyncResult struct {
	Skipped   bool `json:"skipped"`
	Recovered int  `json:"recovered"`
	Attempted int  `json:"attempted"`
	Synced    int  `json:"synced"`
	// AlreadyAccepted counts sales the server had accepted in an earlier
	// pass whose local status update was lost.
	AlreadyAccepted int  `json:"already_accepted"`
	Failed          int  `json:"failed"`
	Remaining       int  `json:"remaining"`
	Aborted         bool `json:"aborted"`
}

// ============================================================================
// HOLD
// ============================================================================

// Hold is a parked cart.
type Hold struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Items       []LineItem `json:"items"`
	TotalAmount float64    `json:"total_amount"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// CreateHoldRequest parks a cart under a name.
type CreateHoldRequest struct {
	Name  string     `json:"name" validate:"required,max=120"`
	Items []LineItem `json:"items" validate:"required,min=1,dive"`
}

package sales

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Remote enum codes. The commerce API expects numbers where the local
// schema keeps readable strings.
var (
	DefaultPaymentTypes    = map[string]int{"cash": 1, "cheque": 2, "bank_transfer": 3, "other": 4}
	DefaultPaymentStatuses = map[string]int{"paid": 1, "unpaid": 2, "partial": 3}
	DefaultStatuses        = map[string]int{"completed": 1, "pending": 2, "ordered": 3}
)

const (
	taxTypeExclusive  = 1
	discountTypeFixed = 2
)

// PayloadConfig maps local enum strings to remote codes.
type PayloadConfig struct {
	PaymentTypes    map[string]int
	PaymentStatuses map[string]int
	Statuses        map[string]int
}

func (c PayloadConfig) withDefaults() PayloadConfig {
	if c.PaymentTypes == nil {
		c.PaymentTypes = DefaultPaymentTypes
	}
	if c.PaymentStatuses == nil {
		c.PaymentStatuses = DefaultPaymentStatuses
	}
	if c.Statuses == nil {
		c.Statuses = DefaultStatuses
	}
	return c
}

// RemoteLine is a sale line in the shape POST /sales expects. Cost and the
// unit code are placeholders the server recomputes.
type RemoteLine struct {
	ProductID      string  `json:"product_id"`
	ProductCost    float64 `json:"product_cost"`
	ProductPrice   float64 `json:"product_price"`
	NetUnitPrice   float64 `json:"net_unit_price"`
	TaxType        int     `json:"tax_type"`
	TaxValue       float64 `json:"tax_value"`
	TaxAmount      float64 `json:"tax_amount"`
	DiscountType   int     `json:"discount_type"`
	DiscountValue  float64 `json:"discount_value"`
	DiscountAmount float64 `json:"discount_amount"`
	SaleUnit       string  `json:"sale_unit"`
	Quantity       float64 `json:"quantity"`
	SubTotal       float64 `json:"sub_total"`
}

// RemoteSale is the body of POST /sales. Ref carries the invoice number so
// the server can reject a sale it has already recorded.
type RemoteSale struct {
	Ref           string          `json:"ref"`
	Date          string          `json:"date"`
	CustomerID    string          `json:"customer_id,omitempty"`
	WarehouseID   string          `json:"warehouse_id,omitempty"`
	SaleItems     json.RawMessage `json:"sale_items"`
	TaxRate       float64         `json:"tax_rate"`
	TaxAmount     float64         `json:"tax_amount"`
	Discount      float64         `json:"discount"`
	Shipping      float64         `json:"shipping"`
	GrandTotal    float64         `json:"grand_total"`
	ReceivedAmt   float64         `json:"received_amount"`
	PaidAmount    float64         `json:"paid_amount"`
	PaymentType   int             `json:"payment_type"`
	PaymentStatus int             `json:"payment_status"`
	Status        int             `json:"status"`
	Note          string          `json:"note,omitempty"`
	HoldRefNo     string          `json:"hold_ref_no,omitempty"`
}

// BuildRemoteLines converts cart lines to the API line shape.
func BuildRemoteLines(items []LineItem) []RemoteLine {
	lines := make([]RemoteLine, 0, len(items))
	for _, item := range items {
		net, tax, total := LineTotals(item)
		qty := decimal.NewFromFloat(item.Quantity)
		netUnit := decimal.Zero
		if qty.IsPositive() {
			netUnit = net.Div(qty)
		}
		unit := item.Unit
		if unit == "" {
			unit = "1"
		}
		lines = append(lines, RemoteLine{
			ProductID:      item.ProductID,
			ProductPrice:   money(decimal.NewFromFloat(item.UnitPrice)),
			NetUnitPrice:   money(netUnit),
			TaxType:        taxTypeExclusive,
			TaxValue:       item.TaxPercent,
			TaxAmount:      money(tax),
			DiscountType:   discountTypeFixed,
			DiscountValue:  item.Discount,
			DiscountAmount: money(decimal.NewFromFloat(item.Discount)),
			SaleUnit:       unit,
			Quantity:       item.Quantity,
			SubTotal:       money(total),
		})
	}
	return lines
}

// BuildPayload maps a stored sale to the remote shape.
func BuildPayload(sale Sale, cfg PayloadConfig) (RemoteSale, error) {
	cfg = cfg.withDefaults()
	paymentType, ok := cfg.PaymentTypes[sale.PaymentMethod]
	if !ok {
		return RemoteSale{}, fmt.Errorf("sales: unmapped payment method %q", sale.PaymentMethod)
	}
	items := sale.SaleItems
	if len(items) == 0 || string(items) == "[]" {
		raw, err := json.Marshal(BuildRemoteLines(sale.Items))
		if err != nil {
			return RemoteSale{}, err
		}
		items = raw
	}
	paid := 0.0
	if sale.PaymentStatus == "paid" {
		paid = sale.GrandTotal
	}
	return RemoteSale{
		Ref:           sale.InvoiceNumber,
		Date:          sale.Date,
		CustomerID:    sale.CustomerID,
		WarehouseID:   sale.WarehouseID,
		SaleItems:     items,
		TaxRate:       sale.TaxRate,
		TaxAmount:     sale.TaxAmount,
		Discount:      sale.Discount,
		Shipping:      sale.Shipping,
		GrandTotal:    sale.GrandTotal,
		ReceivedAmt:   paid,
		PaidAmount:    paid,
		PaymentType:   paymentType,
		PaymentStatus: lookup(cfg.PaymentStatuses, sale.PaymentStatus, 1),
		Status:        lookup(cfg.Statuses, sale.Status, 1),
		Note:          sale.Note,
		HoldRefNo:     sale.HoldRefNo,
	}, nil
}

func lookup(m map[string]int, key string, def int) int {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

package catalog

import (
	"encoding/json"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/envelope"
)

// MapProduct converts one remote record. Records without an id are rejected.
func MapProduct(item any) (Product, bool) {
	rec, ok := item.(map[string]any)
	if !ok {
		return Product{}, false
	}
	id := envelope.ID(rec)
	if id == "" {
		return Product{}, false
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return Product{}, false
	}
	return Product{
		ID:          id,
		Name:        envelope.String(rec, "", "name"),
		Price:       envelope.Float(rec, "product_price", "price"),
		Category:    envelope.String(rec, "", "product_category_id", "category_id", "category"),
		Code:        envelope.String(rec, "", "code", "product_code"),
		RawResponse: raw,
	}, true
}

package sales

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Totals are the rounded money figures of a sale.
type Totals struct {
	Subtotal  decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
	Grand     decimal.Decimal
}

// LineTotals computes a line's net amount (after the fixed discount), its
// tax and its total.
func LineTotals(item LineItem) (net, tax, total decimal.Decimal) {
	gross := decimal.NewFromFloat(item.Quantity).Mul(decimal.NewFromFloat(item.UnitPrice))
	net = gross.Sub(decimal.NewFromFloat(item.Discount))
	if net.IsNegative() {
		net = decimal.Zero
	}
	tax = net.Mul(decimal.NewFromFloat(item.TaxPercent)).Div(hundred)
	return net.Round(2), tax.Round(2), net.Add(tax).Round(2)
}

// CalculateTotals sums the lines, then applies the order discount, order
// tax rate and shipping.
func CalculateTotals(items []LineItem, discount, shipping, taxRate float64) Totals {
	subtotal, lineTax := decimal.Zero, decimal.Zero
	for _, item := range items {
		net, tax, _ := LineTotals(item)
		subtotal = subtotal.Add(net)
		lineTax = lineTax.Add(tax)
	}
	taxable := subtotal.Sub(decimal.NewFromFloat(discount))
	if taxable.IsNegative() {
		taxable = decimal.Zero
	}
	orderTax := taxable.Mul(decimal.NewFromFloat(taxRate)).Div(hundred)
	taxAmount := lineTax.Add(orderTax).Round(2)
	total := taxable.Add(taxAmount)
	return Totals{
		Subtotal:  subtotal.Round(2),
		TaxAmount: taxAmount,
		Total:     total.Round(2),
		Grand:     total.Add(decimal.NewFromFloat(shipping)).Round(2),
	}
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// internal/lifecycle/money.go
package lifecycle

import (
	"fmt"

	"partner-portal-engine/internal/models"
)

// Totals is the derived monetary summary of a quote response. All values are
// integers in minor currency units.
type Totals struct {
	Subtotal       int64 `json:"subtotal"`
	DiscountAmount int64 `json:"discountAmount"`
	TaxAmount      int64 `json:"taxAmount"`
	TotalAmount    int64 `json:"totalAmount"`
}

// ValidateItems rejects item lists that cannot price: empty lists,
// non-positive quantities, negative unit prices.
func ValidateItems(items []models.QuoteItem) error {
	if len(items) == 0 {
		return fmt.Errorf("quote must contain at least one item")
	}
	for i, item := range items {
		if item.Quantity <= 0 {
			return fmt.Errorf("item %d: quantity must be positive, got %d", i, item.Quantity)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("item %d: unit price must be non-negative, got %d", i, item.UnitPrice)
		}
	}
	return nil
}

// FillLineTotals returns a copy of items with lineTotal = quantity * unitPrice
// recomputed on every line.
func FillLineTotals(items []models.QuoteItem) []models.QuoteItem {
	out := make([]models.QuoteItem, len(items))
	for i, item := range items {
		item.LineTotal = item.Quantity * item.UnitPrice
		out[i] = item
	}
	return out
}

// ComputeTotals derives subtotal, tax and total from an item list. Tax applies
// to the discounted base with round-half-up on the tax step only; every other
// step is exact integer arithmetic. A discount larger than the subtotal is
// rejected so every stored amount stays non-negative.
func ComputeTotals(items []models.QuoteItem, discountAmount, taxRateBasisPoints int64) (Totals, error) {
	if err := ValidateItems(items); err != nil {
		return Totals{}, err
	}
	if discountAmount < 0 {
		return Totals{}, fmt.Errorf("discount amount must be non-negative, got %d", discountAmount)
	}
	if taxRateBasisPoints < 0 {
		return Totals{}, fmt.Errorf("tax rate must be non-negative, got %d", taxRateBasisPoints)
	}

	var subtotal int64
	for _, item := range items {
		subtotal += item.Quantity * item.UnitPrice
	}
	if discountAmount > subtotal {
		return Totals{}, fmt.Errorf("discount amount %d exceeds subtotal %d", discountAmount, subtotal)
	}

	taxAmount := roundHalfUp((subtotal-discountAmount)*taxRateBasisPoints, 10000)

	return Totals{
		Subtotal:       subtotal,
		DiscountAmount: discountAmount,
		TaxAmount:      taxAmount,
		TotalAmount:    subtotal - discountAmount + taxAmount,
	}, nil
}

// DiscountFromPercent converts a whole-percent discount into a minor-unit
// amount against the subtotal. When both a percent and an explicit amount are
// present on a quote, the amount wins.
func DiscountFromPercent(subtotal, percent int64) int64 {
	if percent <= 0 || subtotal <= 0 {
		return 0
	}
	return roundHalfUp(subtotal*percent, 100)
}

// roundHalfUp divides n by d rounding .5 away from zero; n must be >= 0.
func roundHalfUp(n, d int64) int64 {
	return (n + d/2) / d
}

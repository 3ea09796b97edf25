// Package cart describes the shopping cart as seen by checkout.
package cart

import (
	"context"

	"github.com/shopspring/decimal"
)

// Line is a cart item joined with the live catalog data of its product.
// Price and Stock are read at fetch time, not at cart-insertion time.
type Line struct {
	CartID    string
	ItemID    string
	ProductID string
	Quantity  int
	Price     decimal.Decimal
	Stock     int
}

// Reader returns the active cart lines of a user. A missing, soft-deleted
// or empty cart yields an empty slice and no error.
type Reader interface {
	Lines(ctx context.Context, userID string) ([]Line, error)
}

// ID returns the cart the lines belong to, or an empty string for no lines.
func ID(lines []Line) string {
	if len(lines) == 0 {
		return ""
	}
	return lines[0].CartID
}

package order

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/cart"
)

// totalPlaces is the number of decimal places order totals are rounded to.
const totalPlaces = 2

// ValidateStock checks the lines in order and fails on the first one whose
// quantity is not positive or exceeds the product stock.
func ValidateStock(lines []cart.Line) error {
	for _, l := range lines {
		if l.Quantity <= 0 {
			return &InvalidQuantityError{ProductID: l.ProductID}
		}
		if l.Quantity > l.Stock {
			return &InsufficientStockError{
				ProductID: l.ProductID,
				Requested: l.Quantity,
				Available: l.Stock,
			}
		}
	}
	return nil
}

// CalculateTotal returns the sum of price*quantity over all lines, rounded
// to 2 decimal places with ties rounded away from zero (25.005 -> 25.01).
func CalculateTotal(lines []cart.Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total.Round(totalPlaces)
}

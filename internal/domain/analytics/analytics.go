// Package analytics defines the read-only order aggregates.
package analytics

import (
	"context"

	"github.com/shopspring/decimal"
)

// MonthlySales is the number of orders placed in one calendar month.
type MonthlySales struct {
	Month  int `json:"month"`
	Orders int `json:"total"`
}

// Repository provides aggregate queries over all orders.
type Repository interface {
	TotalOrders(ctx context.Context) (int, error)
	// TotalRevenue sums the totals of completed orders.
	TotalRevenue(ctx context.Context) (decimal.Decimal, error)
	// MonthlySales returns order counts per month of year, ascending.
	// Months without orders are omitted.
	MonthlySales(ctx context.Context, year int) ([]MonthlySales, error)
}

package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalog entry. Price is the current unit price and Stock the
// units still available for checkout.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Stock    int
	Category string
}

// Repository maintains the product catalog that checkout reads from.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	// Upsert inserts the product or overwrites name, price, stock and
	// category of an existing one.
	Upsert(ctx context.Context, p Product) error
}

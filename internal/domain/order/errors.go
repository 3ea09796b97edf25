package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for order operations.
var (
	ErrEmptyCart         = errors.New("cart is empty or not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be greater than 0")
	ErrNotFound          = errors.New("order not found")
	// ErrStorage is the only detail callers get about persistence failures;
	// the underlying cause goes to the log.
	ErrStorage       = errors.New("order storage failure")
	ErrInvalidStatus = errors.New("invalid order status")
	ErrCacheMiss     = errors.New("cache miss")
	ErrCacheStale    = errors.New("cache entry invalidated during load")
)

// InsufficientStockError names the product whose requested quantity exceeds
// the available stock.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Is reports ErrInsufficientStock as a match.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// InvalidQuantityError indicates a cart line has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// Is reports ErrInvalidQuantity as a match.
func (e *InvalidQuantityError) Is(target error) bool {
	return target == ErrInvalidQuantity
}

// InvalidTransitionError is returned by the strict status policy when an
// order cannot move from one status to another.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot change order status from %q to %q", e.From, e.To)
}

// Is reports ErrInvalidStatus as a match.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidStatus
}

// isBusinessError reports whether err is a user-correctable outcome that is
// returned to callers unchanged.
func isBusinessError(err error) bool {
	return errors.Is(err, ErrEmptyCart) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidStatus)
}

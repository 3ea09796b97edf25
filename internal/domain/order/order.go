package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/cart"
)

// Order is a persisted checkout result. Total always equals the sum of
// Items price*quantity rounded to 2 decimal places at creation time.
type Order struct {
	ID        string
	UserID    string
	Total     decimal.Decimal
	Status    Status
	Address   string
	Items     []Item
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is an immutable order line. Price is the unit price snapshot taken
// at checkout and never follows later catalog changes.
type Item struct {
	ID        string
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

// ItemView is an order line enriched with the product name.
type ItemView struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// Summary is one entry of a user's order history.
type Summary struct {
	ID        string          `json:"id"`
	Total     decimal.Decimal `json:"total"`
	Status    Status          `json:"status"`
	Address   string          `json:"customer_address"`
	CreatedAt time.Time       `json:"created_at"`
	Items     []ItemView      `json:"items"`
	// ItemCount is the sum of item quantities, not the number of item rows.
	ItemCount int `json:"item_count"`
}

// HistoryRow is one row of the orders LEFT JOIN order_items LEFT JOIN
// products projection. ItemID is empty when the order has no items.
type HistoryRow struct {
	OrderID     string
	Total       decimal.Decimal
	Status      Status
	Address     string
	CreatedAt   time.Time
	ItemID      string
	ProductID   string
	ProductName string
	Quantity    int
	Price       decimal.Decimal
}

// Event is an outbox record written in the same transaction as the change
// it describes.
type Event struct {
	ID          string
	AggregateID string
	Type        string
	Payload     []byte
	CreatedAt   time.Time
}

// Tx is the storage surface available inside one atomic checkout or status
// update scope. All calls share the same underlying transaction.
type Tx interface {
	// LockCartLines reads the user's cart like cart.Reader and locks the
	// product rows it joins until the transaction ends.
	LockCartLines(ctx context.Context, userID string) ([]cart.Line, error)
	// ReserveStock decrements product stock by qty if at least qty is
	// available. It reports false when the stock is insufficient.
	ReserveStock(ctx context.Context, productID string, qty int) (bool, error)
	CreateOrder(ctx context.Context, o *Order) error
	ClearCart(ctx context.Context, cartID string) error
	// LockStatus returns the owner and current status of an order, locking
	// its row. Returns ErrNotFound for unknown orders.
	LockStatus(ctx context.Context, orderID string) (userID string, status Status, err error)
	SetStatus(ctx context.Context, orderID string, status Status, at time.Time) error
	AppendEvent(ctx context.Context, e Event) error
}

// TxManager runs fn inside a single transaction, committing when fn returns
// nil and rolling back otherwise.
type TxManager interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Repository defines the read paths for orders.
type Repository interface {
	// GetByID returns the order header owned by userID, or ErrNotFound.
	GetByID(ctx context.Context, userID, orderID string) (*Order, error)
	HistoryRows(ctx context.Context, userID string) ([]HistoryRow, error)
	Items(ctx context.Context, orderID string) ([]ItemView, error)
}

// HistoryCache stores aggregated order histories per user. Get returns
// ErrCacheMiss when nothing is cached.
//
// Every Delete bumps a per-user generation. Readers take the generation with
// Version before loading the history and pass it to Set, which stores nothing
// and returns ErrCacheStale once the generation has moved on.
type HistoryCache interface {
	Get(ctx context.Context, userID string) ([]Summary, error)
	Version(ctx context.Context, userID string) (int64, error)
	Set(ctx context.Context, userID string, version int64, history []Summary) error
	Delete(ctx context.Context, userID string) error
}

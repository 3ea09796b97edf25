package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (id, user_id, total, status, customer_address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	createOrderItemSQL = `INSERT INTO order_items (id, order_id, line_no, product_id, quantity, price)
		VALUES ($1, $2, $3, $4, $5, $6)`

	getOrderSQL = `SELECT id, user_id, total, status, customer_address, created_at, updated_at
		FROM orders WHERE id = $1 AND user_id = $2`

	lockOrderStatusSQL = `SELECT user_id, status FROM orders WHERE id = $1 FOR UPDATE`

	setOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`

	historySQL = `SELECT o.id, o.total, o.status, o.customer_address, o.created_at,
			oi.id, oi.product_id, COALESCE(p.name, ''), COALESCE(oi.quantity, 0), COALESCE(oi.price, 0)
		FROM orders o
		LEFT JOIN order_items oi ON oi.order_id = o.id
		LEFT JOIN products p ON p.id = oi.product_id
		WHERE o.user_id = $1
		ORDER BY o.created_at DESC, o.id, oi.line_no`

	orderItemsSQL = `SELECT oi.id, oi.product_id, p.name, oi.quantity, oi.price
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1
		ORDER BY oi.line_no`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// GetByID returns the order header if it is owned by userID.
func (r *OrderRepository) GetByID(ctx context.Context, userID, orderID string) (*order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := r.pool.QueryRow(ctx, getOrderSQL, orderID, userID).Scan(
		&o.ID, &o.UserID, &o.Total, &status, &o.Address, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", orderID, err)
	}
	o.Status = order.Status(status)
	return &o, nil
}

// HistoryRows returns the flattened orders/items/products projection of a
// user's orders, newest order first, items in line order.
func (r *OrderRepository) HistoryRows(ctx context.Context, userID string) ([]order.HistoryRow, error) {
	rows, err := r.pool.Query(ctx, historySQL, userID)
	if err != nil {
		return nil, fmt.Errorf("querying history of user %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanHistoryRow)
}

// Items returns the lines of an order with product names.
func (r *OrderRepository) Items(ctx context.Context, orderID string) ([]order.ItemView, error) {
	rows, err := r.pool.Query(ctx, orderItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("querying items of order %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.ItemView, error) {
		var it order.ItemView
		err := row.Scan(&it.ID, &it.ProductID, &it.Name, &it.Quantity, &it.Price)
		return it, err
	})
}

func insertOrder(ctx context.Context, q querier, o *order.Order) error {
	_, err := q.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, o.Total, string(o.Status), o.Address, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	batch := &pgx.Batch{}
	for i, it := range o.Items {
		batch.Queue(createOrderItemSQL, it.ID, o.ID, i+1, it.ProductID, it.Quantity, it.Price)
	}
	if err := q.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("creating items of order %q: %w", o.ID, err)
	}
	return nil
}

func scanHistoryRow(row pgx.CollectableRow) (order.HistoryRow, error) {
	var (
		h                 order.HistoryRow
		status            string
		itemID, productID *string
		price             decimal.Decimal
	)
	err := row.Scan(
		&h.OrderID, &h.Total, &status, &h.Address, &h.CreatedAt,
		&itemID, &productID, &h.ProductName, &h.Quantity, &price,
	)
	if err != nil {
		return h, err
	}
	h.Status = order.Status(status)
	if itemID != nil {
		h.ItemID = *itemID
		h.Price = price
	}
	if productID != nil {
		h.ProductID = *productID
	}
	return h, nil
}

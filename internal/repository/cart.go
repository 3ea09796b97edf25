package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-orders/internal/domain/cart"
)

// activeCartCTE selects the newest cart of user $1 that is not soft-deleted.
const activeCartCTE = `WITH active AS (
		SELECT id FROM carts
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	)`

const (
	cartLinesSQL = activeCartCTE + `
	SELECT ci.cart_id, ci.id, ci.product_id, ci.quantity, p.price, p.stock, ci.created_at
	FROM cart_items ci
	JOIN active a ON a.id = ci.cart_id
	JOIN products p ON p.id = ci.product_id
	ORDER BY ci.created_at, ci.id`

	// Locks are acquired in product id order so that concurrent checkouts of
	// overlapping carts cannot deadlock. Rows are resorted into cart order
	// after the scan.
	lockCartLinesSQL = activeCartCTE + `
	SELECT ci.cart_id, ci.id, ci.product_id, ci.quantity, p.price, p.stock, ci.created_at
	FROM cart_items ci
	JOIN active a ON a.id = ci.cart_id
	JOIN products p ON p.id = ci.product_id
	ORDER BY p.id, ci.id
	FOR UPDATE OF ci, p`

	reserveStockSQL = `UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`

	clearCartSQL = `DELETE FROM cart_items WHERE cart_id = $1`

	createCartSQL = `INSERT INTO carts (id, user_id) VALUES ($1, $2)`

	addCartItemSQL = `INSERT INTO cart_items (id, cart_id, product_id, quantity, created_at)
		VALUES ($1, $2, $3, $4, $5)`
)

var _ cart.Reader = (*CartRepository)(nil)

// CartRepository implements cart.Reader backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Lines returns the active cart of userID joined with live product price and
// stock, in insertion order.
func (r *CartRepository) Lines(ctx context.Context, userID string) ([]cart.Line, error) {
	lines, err := queryCartLines(ctx, r.pool, cartLinesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("reading cart of user %q: %w", userID, err)
	}
	return lines, nil
}

// Create inserts an empty cart for userID.
func (r *CartRepository) Create(ctx context.Context, cartID, userID string) error {
	if _, err := r.pool.Exec(ctx, createCartSQL, cartID, userID); err != nil {
		return fmt.Errorf("creating cart %q: %w", cartID, err)
	}
	return nil
}

// AddItem appends a product line to a cart.
func (r *CartRepository) AddItem(ctx context.Context, cartID, itemID, productID string, qty int) error {
	_, err := r.pool.Exec(ctx, addCartItemSQL, itemID, cartID, productID, qty, time.Now())
	if err != nil {
		return fmt.Errorf("adding product %q to cart %q: %w", productID, cartID, err)
	}
	return nil
}

type cartRow struct {
	line    cart.Line
	addedAt time.Time
}

func queryCartLines(ctx context.Context, q querier, sql, userID string) ([]cart.Line, error) {
	rows, err := q.Query(ctx, sql, userID)
	if err != nil {
		return nil, err
	}
	scanned, err := pgx.CollectRows(rows, scanCartRow)
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(scanned, func(a, b cartRow) int {
		if c := a.addedAt.Compare(b.addedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.line.ItemID, b.line.ItemID)
	})

	lines := make([]cart.Line, len(scanned))
	for i, r := range scanned {
		lines[i] = r.line
	}
	return lines, nil
}

func scanCartRow(row pgx.CollectableRow) (cartRow, error) {
	var r cartRow
	err := row.Scan(
		&r.line.CartID, &r.line.ItemID, &r.line.ProductID, &r.line.Quantity,
		&r.line.Price, &r.line.Stock, &r.addedAt,
	)
	return r, err
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/order"
)

var (
	_ order.TxManager = (*Store)(nil)
	_ order.Tx        = (*pgTx)(nil)
)

// Store implements order.TxManager on top of a pgx pool. Each scope is a
// READ COMMITTED transaction; isolation between concurrent checkouts comes
// from the row locks taken inside it.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store that uses the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InTx runs fn in a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise. fn's error is returned unwrapped so
// callers can match business errors.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockCartLines(ctx context.Context, userID string) ([]cart.Line, error) {
	lines, err := queryCartLines(ctx, t.tx, lockCartLinesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("locking cart of user %q: %w", userID, err)
	}
	return lines, nil
}

func (t *pgTx) ReserveStock(ctx context.Context, productID string, qty int) (bool, error) {
	tag, err := t.tx.Exec(ctx, reserveStockSQL, productID, qty)
	if err != nil {
		return false, fmt.Errorf("reserving %d of product %q: %w", qty, productID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) CreateOrder(ctx context.Context, o *order.Order) error {
	return insertOrder(ctx, t.tx, o)
}

func (t *pgTx) ClearCart(ctx context.Context, cartID string) error {
	if _, err := t.tx.Exec(ctx, clearCartSQL, cartID); err != nil {
		return fmt.Errorf("clearing cart %q: %w", cartID, err)
	}
	return nil
}

func (t *pgTx) LockStatus(ctx context.Context, orderID string) (string, order.Status, error) {
	var userID, status string
	err := t.tx.QueryRow(ctx, lockOrderStatusSQL, orderID).Scan(&userID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", order.ErrNotFound
		}
		return "", "", fmt.Errorf("locking order %q: %w", orderID, err)
	}
	return userID, order.Status(status), nil
}

func (t *pgTx) SetStatus(ctx context.Context, orderID string, status order.Status, at time.Time) error {
	tag, err := t.tx.Exec(ctx, setOrderStatusSQL, orderID, string(status), at)
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (t *pgTx) AppendEvent(ctx context.Context, e order.Event) error {
	return appendEvent(ctx, t.tx, e)
}

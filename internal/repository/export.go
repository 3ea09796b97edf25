package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/export"
)

const exportMonthSQL = `SELECT o.id, o.user_id, o.total, o.status, o.customer_address, o.created_at,
		oi.id, oi.product_id, COALESCE(p.name, ''), COALESCE(oi.quantity, 0), COALESCE(oi.price, 0)
	FROM orders o
	LEFT JOIN order_items oi ON oi.order_id = o.id
	LEFT JOIN products p ON p.id = oi.product_id
	WHERE o.created_at >= $1 AND o.created_at < $2
	ORDER BY o.created_at, o.id, oi.line_no`

var _ export.Source = (*ExportRepository)(nil)

// ExportRepository streams order rows for offline export.
type ExportRepository struct {
	pool *pgxpool.Pool
}

// NewExportRepository returns an ExportRepository that uses the given pool.
func NewExportRepository(pool *pgxpool.Pool) *ExportRepository {
	return &ExportRepository{pool: pool}
}

// StreamMonth calls fn for every order/item row created in the given UTC
// month, oldest order first. Orders without items yield one row with empty
// item fields. Rows are not buffered.
func (r *ExportRepository) StreamMonth(ctx context.Context, year, month int, fn func(export.Row) error) error {
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	rows, err := r.pool.Query(ctx, exportMonthSQL, from, to)
	if err != nil {
		return fmt.Errorf("querying orders of %04d-%02d: %w", year, month, err)
	}

	var (
		row               export.Row
		status            string
		itemID, productID *string
		price             decimal.Decimal
	)
	_, err = pgx.ForEachRow(rows, []any{
		&row.OrderID, &row.UserID, &row.Total, &status, &row.Address, &row.CreatedAt,
		&itemID, &productID, &row.ProductName, &row.Quantity, &price,
	}, func() error {
		out := row
		out.Status = order.Status(status)
		if itemID != nil {
			out.ItemID = *itemID
			out.Price = price
		}
		if productID != nil {
			out.ProductID = *productID
		}
		return fn(out)
	})
	if err != nil {
		return fmt.Errorf("streaming orders of %04d-%02d: %w", year, month, err)
	}
	return nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/analytics"
)

const (
	totalOrdersSQL = `SELECT count(*) FROM orders`

	totalRevenueSQL = `SELECT COALESCE(sum(total), 0) FROM orders WHERE status = 'completed'`

	// Months are UTC calendar months regardless of the session time zone,
	// matching the bounds used by the order export.
	monthlySalesSQL = `SELECT EXTRACT(MONTH FROM created_at AT TIME ZONE 'UTC')::int AS month, count(*)::int
		FROM orders
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY month
		ORDER BY month`
)

var _ analytics.Repository = (*AnalyticsRepository)(nil)

// AnalyticsRepository implements analytics.Repository backed by PostgreSQL.
type AnalyticsRepository struct {
	pool *pgxpool.Pool
}

// NewAnalyticsRepository returns an AnalyticsRepository that uses the given pool.
func NewAnalyticsRepository(pool *pgxpool.Pool) *AnalyticsRepository {
	return &AnalyticsRepository{pool: pool}
}

func (r *AnalyticsRepository) TotalOrders(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, totalOrdersSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting orders: %w", err)
	}
	return n, nil
}

func (r *AnalyticsRepository) TotalRevenue(ctx context.Context) (decimal.Decimal, error) {
	var sum decimal.Decimal
	if err := r.pool.QueryRow(ctx, totalRevenueSQL).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("summing revenue: %w", err)
	}
	return sum, nil
}

func (r *AnalyticsRepository) MonthlySales(ctx context.Context, year int) ([]analytics.MonthlySales, error) {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	rows, err := r.pool.Query(ctx, monthlySalesSQL, from, from.AddDate(1, 0, 0))
	if err != nil {
		return nil, fmt.Errorf("querying monthly sales for %d: %w", year, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (analytics.MonthlySales, error) {
		var m analytics.MonthlySales
		err := row.Scan(&m.Month, &m.Orders)
		return m, err
	})
}

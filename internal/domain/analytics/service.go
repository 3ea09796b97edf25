package analytics

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrStorage is returned when the underlying queries fail. Details are
// logged, not returned.
var ErrStorage = errors.New("analytics storage failure")

// Summary holds the dashboard totals.
type Summary struct {
	TotalOrders int             `json:"total_orders"`
	Revenue     decimal.Decimal `json:"total_revenue"`
}

// Service exposes order analytics.
type Service struct {
	repo Repository
}

// NewService creates an analytics Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Summary returns the number of orders of any status and the revenue of
// completed orders.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	total, err := s.repo.TotalOrders(ctx)
	if err != nil {
		zctx.From(ctx).Error("Count orders failed", zap.Error(err))
		return Summary{}, ErrStorage
	}
	revenue, err := s.repo.TotalRevenue(ctx)
	if err != nil {
		zctx.From(ctx).Error("Sum revenue failed", zap.Error(err))
		return Summary{}, ErrStorage
	}
	return Summary{TotalOrders: total, Revenue: revenue.Round(2)}, nil
}

// Monthly returns the order count per month of year. Months without orders
// are omitted.
func (s *Service) Monthly(ctx context.Context, year int) ([]MonthlySales, error) {
	sales, err := s.repo.MonthlySales(ctx, year)
	if err != nil {
		zctx.From(ctx).Error("Monthly sales failed", zap.Int("year", year), zap.Error(err))
		return nil, ErrStorage
	}
	if sales == nil {
		sales = []MonthlySales{}
	}
	return sales, nil
}

package analytics

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockRepo struct {
	total    int
	revenue  decimal.Decimal
	monthly  map[int][]MonthlySales
	totalErr error
	revErr   error
	monthErr error
}

func (m *mockRepo) TotalOrders(context.Context) (int, error) { return m.total, m.totalErr }

func (m *mockRepo) TotalRevenue(context.Context) (decimal.Decimal, error) {
	return m.revenue, m.revErr
}

func (m *mockRepo) MonthlySales(_ context.Context, year int) ([]MonthlySales, error) {
	return m.monthly[year], m.monthErr
}

// --- Tests ---

func TestService_Summary(t *testing.T) {
	repo := &mockRepo{total: 3, revenue: decimal.RequireFromString("40.50")}
	s := NewService(repo)

	got, err := s.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalOrders)
	assert.Equal(t, "40.5", got.Revenue.String())
}

func TestService_Summary_Empty(t *testing.T) {
	s := NewService(&mockRepo{revenue: decimal.Zero})

	got, err := s.Summary(context.Background())
	require.NoError(t, err)
	assert.Zero(t, got.TotalOrders)
	assert.True(t, got.Revenue.IsZero())
}

func TestService_Summary_StorageFailure(t *testing.T) {
	tests := []struct {
		name string
		repo *mockRepo
	}{
		{name: "count", repo: &mockRepo{totalErr: errors.New("conn reset")}},
		{name: "revenue", repo: &mockRepo{revErr: errors.New("conn reset")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService(tt.repo).Summary(context.Background())
			require.ErrorIs(t, err, ErrStorage)
			assert.NotContains(t, err.Error(), "conn reset")
		})
	}
}

func TestService_Monthly(t *testing.T) {
	repo := &mockRepo{monthly: map[int][]MonthlySales{
		2024: {{Month: 1, Orders: 2}, {Month: 3, Orders: 1}},
	}}
	s := NewService(repo)

	got, err := s.Monthly(context.Background(), 2024)
	require.NoError(t, err)
	assert.Equal(t, []MonthlySales{{Month: 1, Orders: 2}, {Month: 3, Orders: 1}}, got)

	got, err = s.Monthly(context.Background(), 2023)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestService_Monthly_StorageFailure(t *testing.T) {
	s := NewService(&mockRepo{monthErr: errors.New("timeout")})

	_, err := s.Monthly(context.Background(), 2024)
	require.ErrorIs(t, err, ErrStorage)
}

package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, store *fakeStore, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{
		WithIDGenerator(sequentialIDs()),
		WithClock(steppingClock(testStart)),
	}, opts...)
	svc, err := NewService(store, store, opts...)
	require.NoError(t, err)
	return svc
}

func TestCreateFromCart_Success(t *testing.T) {
	store := newFakeStore()
	store.addProduct("p1", "Widget", "10.00", 10)
	store.addProduct("p2", "Gadget", "5.005", 3)
	store.addCartItem("u1", "p1", 2)
	store.addCartItem("u1", "p2", 1)
	svc := newTestService(t, store)

	o, err := svc.CreateFromCart(context.Background(), CreateRequest{UserID: "u1", Address: "1 Main St"})
	require.NoError(t, err)

	assert.Equal(t, "u1", o.UserID)
	assert.Equal(t, "1 Main St", o.Address)
	assert.Equal(t, StatusPending, o.Status)
	assert.True(t, decimal.RequireFromString("25.01").Equal(o.Total), "total %s", o.Total)

	require.Len(t, o.Items, 2)
	assert.Equal(t, "p1", o.Items[0].ProductID)
	assert.Equal(t, 2, o.Items[0].Quantity)
	assert.True(t, decimal.RequireFromString("10.00").Equal(o.Items[0].Price))
	assert.Equal(t, "p2", o.Items[1].ProductID)
	assert.True(t, decimal.RequireFromString("5.005").Equal(o.Items[1].Price))

	ids := map[string]bool{o.ID: true}
	for _, it := range o.Items {
		assert.False(t, ids[it.ID], "item id %s reused", it.ID)
		ids[it.ID] = true
	}

	assert.Equal(t, 0, store.cartSize("u1"), "cart must be cleared")
	assert.Equal(t, 8, store.stock("p1"))
	assert.Equal(t, 2, store.stock("p2"))
	assert.Equal(t, 1, store.orderCount())

	require.Len(t, store.state.events, 1)
	assert.Equal(t, EventCreated, store.state.events[0].Type)
	assert.Equal(t, o.ID, store.state.events[0].AggregateID)
	assert.Contains(t, string(store.state.events[0].Payload), `"total":"25.01"`)
}

func TestCreateFromCart_EmptyCart(t *testing.T) {
	tests := []struct {
		name  string
		setup func(s *fakeStore)
	}{
		{
			name:  "no cart",
			setup: func(*fakeStore) {},
		},
		{
			name: "cart without items",
			setup: func(s *fakeStore) {
				s.state.carts["u1"] = fakeCart{id: "cart-u1"}
			},
		},
		{
			name: "soft-deleted cart",
			setup: func(s *fakeStore) {
				s.addProduct("p1", "Widget", "1.00", 5)
				s.addCartItem("u1", "p1", 1)
				c := s.state.carts["u1"]
				c.deleted = true
				s.state.carts["u1"] = c
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			tt.setup(store)
			svc := newTestService(t, store)

			o, err := svc.CreateFromCart(context.Background(), CreateRequest{UserID: "u1"})
			require.ErrorIs(t, err, ErrEmptyCart)
			assert.Nil(t, o)
			assert.Equal(t, 0, store.orderCount())
			assert.Empty(t, store.state.events)
		})
	}
}

func TestCreateFromCart_InsufficientStock(t *testing.T) {
	store := newFakeStore()
	store.addProduct("p1", "Widget", "10.00", 10)
	store.addProduct("p2", "Gadget", "4.00", 1)
	store.addCartItem("u1", "p1", 2)
	store.addCartItem("u1", "p2", 3)
	svc := newTestService(t, store)

	_, err := svc.CreateFromCart(context.Background(), CreateRequest{UserID: "u1"})

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, "p2", stockErr.ProductID)
	assert.Equal(t, 3, stockErr.Requested)
	assert.Equal(t, 1, stockErr.Available)

	assert.Equal(t, 0, store.orderCount())
	assert.Equal(t, 2, store.cartSize("u1"), "cart must be untouched")
	assert.Equal(t, 10, store.stock("p1"))
	assert.Equal(t, 1, store.stock("p2"))
}

func TestCreateFromCart_DuplicateLinesExceedStock(t *testing.T) {
	store := newFakeStore()
	store.addProduct("p1", "Widget", "3.00", 3)
	store.addCartItem("u1", "p1", 2)
	store.addCartItem("u1", "p1", 2)
	svc := newTestService(t, store)

	_, err := svc.CreateFromCart(context.Background(), CreateRequest{UserID: "u1"})

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "p1", stockErr.ProductID)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, 3, store.stock("p1"), "partial reservation must be rolled back")
	assert.Equal(t, 0, store.orderCount())
}

func TestCreateFromCart_InvalidQuantity(t *testing.T) {
	store := newFakeStore()
	store.addProduct("p1", "Widget", "3.00", 3)
	store.addCartItem("u1", "p1", 0)
	svc := newTestService(t, store)

	_, err := svc.CreateFromCart(context.Background(), CreateRequest{UserID: "u1"})

	var qtyErr *InvalidQuantityError
	require.ErrorAs(t, err, &qtyErr)
	assert.Equal(t, "p1", qtyErr.ProductID)
}

func TestCreateFromCart_StorageFailureRollsBack(t *testing.T) {
	for _, op := range []string{"LockCartLines", "ReserveStock", "CreateOrder", "ClearCart", "AppendEvent"} {
		t.Run(op, func(t *testing.T) {
			store := newFakeStore()
			store.addProduct("p1", "Widget", "10.00", 5)
			store.addCartItem("u1", "p1", 2)
			store.failOn[op] = errors.New("pq: connection reset by peer")
			svc := newTestService(t, store)

			o, err := svc.CreateFromCart(context.Background(), CreateRequest{UserID: "u1"})
			require.ErrorIs(t, err, ErrStorage)
			assert.Nil(t, o)
			assert.NotContains(t, err.Error(), "connection reset")

			assert.Equal(t, 0, store.orderCount())
			assert.Equal(t, 1, store.cartSize("u1"))
			assert.Equal(t, 5, store.stock("p1"))
			assert.Empty(t, store.state.events)
		})
	}
}

func TestCreateFromCart_DuplicateOrderID(t *testing.T) {
	store := newFakeStore()
	store.addProduct("p1", "Widget", "1.00", 5)
	store.addCartItem("u1", "p1", 1)
	store.addCartItem("u2", "p1", 1)
	svc := newTestService(t, store, WithIDGenerator(func() string { return "same" }))

	_, err := svc.CreateFromCart(context.Background(), CreateRequest{UserID: "u1"})
	require.NoError(t, err)

	_, err = svc.CreateFromCart(context.Background(), CreateRequest{UserID: "u2"})
	require.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, 1, store.cartSize("u2"))
	assert.Equal(t, 4, store.stock("p1"))
}

func TestCreateFromCart_ConcurrentLastUnit(t *testing.T) {
	store := newFakeStore()
	store.addProduct("p1", "Widget", "9.99", 1)
	store.addCartItem("u1", "p1", 1)
	store.addCartItem("u2", "p1", 1)
	svc := newTestService(t, store)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, user := range []string{"u1", "u2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.CreateFromCart(context.Background(), CreateRequest{UserID: user})
		}()
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrInsufficientStock)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, store.stock("p1"))
	assert.Equal(t, 1, store.orderCount())
}

func TestCreateFromCart_SameCartTwice(t *testing.T) {
	store := newFakeStore()
	store.addProduct("p1", "Widget", "9.99", 1)
	store.addCartItem("u1", "p1", 1)
	svc := newTestService(t, store)

	_, err := svc.CreateFromCart(context.Background(), CreateRequest{UserID: "u1"})
	require.NoError(t, err)

	_, err = svc.CreateFromCart(context.Background(), CreateRequest{UserID: "u1"})
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, 1, store.orderCount())
}

func TestCreateFromCart_InvalidatesHistoryCache(t *testing.T) {
	store := newFakeStore()
	store.addProduct("p1", "Widget", "2.00", 5)
	store.addCartItem("u1", "p1", 1)
	cache := newMockCache()
	cache.entries["u1"] = []Summary{}
	svc := newTestService(t, store, WithHistoryCache(cache))

	_, err := svc.CreateFromCart(context.Background(), CreateRequest{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, cache.deleted)

	history, err := svc.History(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestUpdateStatus_AnyStatus(t *testing.T) {
	store := newFakeStore()
	store.addProduct("p1", "Widget", "2.00", 5)
	store.addCartItem("u1", "p1", 1)
	svc := newTestService(t, store)

	o, err := svc.CreateFromCart(context.Background(), CreateRequest{UserID: "u1"})
	require.NoError(t, err)

	require.NoError(t, svc.UpdateStatus(context.Background(), o.ID, StatusCompleted))
	require.NoError(t, svc.UpdateStatus(context.Background(), o.ID, "returned"))

	stored := store.state.orders[o.ID]
	assert.Equal(t, Status("returned"), stored.Status)
	assert.True(t, stored.UpdatedAt.After(o.UpdatedAt))

	require.Len(t, store.state.events, 3)
	assert.Equal(t, EventStatusChanged, store.state.events[2].Type)
	assert.Contains(t, string(store.state.events[2].Payload), `"from":"completed"`)
}

func TestUpdateStatus_Strict(t *testing.T) {
	store := newFakeStore()
	store.addProduct("p1", "Widget", "2.00", 5)
	store.addCartItem("u1", "p1", 1)
	svc := newTestService(t, store, WithStatusPolicy(StrictTransitions{}))

	o, err := svc.CreateFromCart(context.Background(), CreateRequest{UserID: "u1"})
	require.NoError(t, err)

	err = svc.UpdateStatus(context.Background(), o.ID, "returned")
	require.ErrorIs(t, err, ErrInvalidStatus)

	require.NoError(t, svc.UpdateStatus(context.Background(), o.ID, StatusCancelled))

	err = svc.UpdateStatus(context.Background(), o.ID, StatusPending)
	var trErr *InvalidTransitionError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, StatusCancelled, trErr.From)
	assert.Equal(t, StatusPending, trErr.To)
	assert.Equal(t, StatusCancelled, store.state.orders[o.ID].Status)
}

func TestUpdateStatus_NotFound(t *testing.T) {
	svc := newTestService(t, newFakeStore())

	err := svc.UpdateStatus(context.Background(), "missing", StatusCompleted)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatus_BlankStatus(t *testing.T) {
	store := newFakeStore()
	store.addProduct("p1", "Widget", "2.00", 5)
	store.addCartItem("u1", "p1", 1)
	svc := newTestService(t, store)

	o, err := svc.CreateFromCart(context.Background(), CreateRequest{UserID: "u1"})
	require.NoError(t, err)

	for _, s := range []Status{"", "   "} {
		err := svc.UpdateStatus(context.Background(), o.ID, s)
		require.ErrorIs(t, err, ErrInvalidStatus)
	}
	assert.Equal(t, StatusPending, store.state.orders[o.ID].Status)
}

func TestUpdateStatus_StorageFailure(t *testing.T) {
	store := newFakeStore()
	store.addProduct("p1", "Widget", "2.00", 5)
	store.addCartItem("u1", "p1", 1)
	svc := newTestService(t, store)

	o, err := svc.CreateFromCart(context.Background(), CreateRequest{UserID: "u1"})
	require.NoError(t, err)

	store.failOn["AppendEvent"] = errors.New("deadlock detected")
	err = svc.UpdateStatus(context.Background(), o.ID, StatusCompleted)
	require.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, StatusPending, store.state.orders[o.ID].Status)
}

func TestGetByID_OwnershipScoped(t *testing.T) {
	store := newFakeStore()
	store.addProduct("p1", "Widget", "2.00", 5)
	store.addCartItem("u1", "p1", 1)
	svc := newTestService(t, store)

	o, err := svc.CreateFromCart(context.Background(), CreateRequest{UserID: "u1", Address: "addr"})
	require.NoError(t, err)

	got, err := svc.GetByID(context.Background(), "u1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, "addr", got.Address)

	_, err = svc.GetByID(context.Background(), "u2", o.ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.GetByID(context.Background(), "u1", "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetByID_StorageFailure(t *testing.T) {
	store := newFakeStore()
	store.failOn["GetByID"] = errors.New("connection refused")
	svc := newTestService(t, store)

	_, err := svc.GetByID(context.Background(), "u1", "o1")
	require.ErrorIs(t, err, ErrStorage)
}

func TestHistory(t *testing.T) {
	store := newFakeStore()
	store.addProduct("p1", "Widget", "2.00", 50)
	store.addProduct("p2", "Gadget", "3.50", 50)
	svc := newTestService(t, store)

	store.addCartItem("u1", "p1", 2)
	store.addCartItem("u1", "p2", 3)
	first, err := svc.CreateFromCart(context.Background(), CreateRequest{UserID: "u1"})
	require.NoError(t, err)

	store.addCartItem("u1", "p1", 1)
	second, err := svc.CreateFromCart(context.Background(), CreateRequest{UserID: "u1"})
	require.NoError(t, err)

	// An order header without any items.
	store.state.orders["bare"] = Order{
		ID:        "bare",
		UserID:    "u1",
		Total:     decimal.Zero,
		Status:    StatusCancelled,
		CreatedAt: testStart.Add(time.Hour),
	}

	// Another user's order must not leak into the history.
	store.addCartItem("u2", "p1", 1)
	_, err = svc.CreateFromCart(context.Background(), CreateRequest{UserID: "u2"})
	require.NoError(t, err)

	history, err := svc.History(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, history, 3)

	assert.Equal(t, "bare", history[0].ID)
	assert.Empty(t, history[0].Items)
	assert.NotNil(t, history[0].Items)
	assert.Equal(t, 0, history[0].ItemCount)

	assert.Equal(t, second.ID, history[1].ID)
	assert.Equal(t, 1, history[1].ItemCount)

	assert.Equal(t, first.ID, history[2].ID)
	assert.Equal(t, 5, history[2].ItemCount)
	require.Len(t, history[2].Items, 2)
	assert.Equal(t, "Widget", history[2].Items[0].Name)
	assert.True(t, decimal.RequireFromString("14.50").Equal(history[2].Total))
}

func TestHistory_SnapshotPrice(t *testing.T) {
	store := newFakeStore()
	store.addProduct("p1", "Widget", "2.00", 5)
	store.addCartItem("u1", "p1", 1)
	svc := newTestService(t, store)

	_, err := svc.CreateFromCart(context.Background(), CreateRequest{UserID: "u1"})
	require.NoError(t, err)

	p := store.state.products["p1"]
	p.price = decimal.RequireFromString("99.00")
	store.state.products["p1"] = p

	history, err := svc.History(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, decimal.RequireFromString("2.00").Equal(history[0].Items[0].Price))
}

func TestHistory_Empty(t *testing.T) {
	svc := newTestService(t, newFakeStore())

	history, err := svc.History(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}

func TestHistory_Cache(t *testing.T) {
	store := newFakeStore()
	cache := newMockCache()
	cached := []Summary{{ID: "cached", Items: []ItemView{}}}
	cache.entries["u1"] = cached
	svc := newTestService(t, store, WithHistoryCache(cache))

	history, err := svc.History(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, cached, history)

	// Miss populates the cache.
	history, err = svc.History(context.Background(), "u2")
	require.NoError(t, err)
	assert.Empty(t, history)
	_, ok := cache.entries["u2"]
	assert.True(t, ok)
}

func TestHistory_CheckoutDuringLoadIsNotCached(t *testing.T) {
	store := newFakeStore()
	store.addProduct("p1", "Widget", "2.00", 5)
	store.addCartItem("u1", "p1", 1)
	cache := newMockCache()
	repo := &interleavedRepository{Repository: store}
	svc, err := NewService(store, repo,
		WithIDGenerator(sequentialIDs()),
		WithClock(steppingClock(testStart)),
		WithHistoryCache(cache),
	)
	require.NoError(t, err)

	ctx := context.Background()
	repo.afterHistory = func() {
		_, err := svc.CreateFromCart(ctx, CreateRequest{UserID: "u1"})
		require.NoError(t, err)
	}

	// The first read loads rows from before the checkout committed.
	history, err := svc.History(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, history)
	_, cached := cache.entries["u1"]
	assert.False(t, cached, "history loaded before the checkout must not be cached")

	history, err = svc.History(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestHistory_CacheErrorFallsBackToStorage(t *testing.T) {
	store := newFakeStore()
	cache := newMockCache()
	cache.getErr = errors.New("redis: connection pool timeout")
	svc := newTestService(t, store, WithHistoryCache(cache))

	history, err := svc.History(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHistory_StorageFailure(t *testing.T) {
	store := newFakeStore()
	store.failOn["HistoryRows"] = errors.New("connection refused")
	svc := newTestService(t, store)

	_, err := svc.History(context.Background(), "u1")
	require.ErrorIs(t, err, ErrStorage)
}

func TestItems(t *testing.T) {
	store := newFakeStore()
	store.addProduct("p1", "Widget", "2.00", 5)
	store.addProduct("p2", "Gadget", "1.25", 5)
	store.addCartItem("u1", "p1", 1)
	store.addCartItem("u1", "p2", 4)
	svc := newTestService(t, store)

	o, err := svc.CreateFromCart(context.Background(), CreateRequest{UserID: "u1"})
	require.NoError(t, err)

	items, err := svc.Items(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Gadget", items[1].Name)
	assert.Equal(t, 4, items[1].Quantity)

	items, err = svc.Items(context.Background(), "missing")
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestPreviewCart(t *testing.T) {
	store := newFakeStore()
	store.addProduct("p1", "Widget", "10.00", 10)
	store.addProduct("p2", "Gadget", "5.005", 3)
	store.addCartItem("u1", "p1", 2)
	store.addCartItem("u1", "p2", 1)
	svc := newTestService(t, store, WithCartReader(store))

	q, err := svc.PreviewCart(context.Background(), "u1")
	require.NoError(t, err)
	require.NoError(t, q.Problem)
	require.Len(t, q.Lines, 2)
	assert.Equal(t, "p1", q.Lines[0].ProductID)
	assert.Equal(t, "25.01", q.Total.StringFixed(2))

	// Nothing is reserved or cleared.
	assert.Equal(t, 10, store.stock("p1"))
	assert.Equal(t, 2, store.cartSize("u1"))
	assert.Zero(t, store.orderCount())
}

func TestPreviewCart_Problems(t *testing.T) {
	store := newFakeStore()
	store.addProduct("p1", "Widget", "1.00", 1)
	store.addCartItem("u1", "p1", 3)
	svc := newTestService(t, store, WithCartReader(store))

	q, err := svc.PreviewCart(context.Background(), "u1")
	require.NoError(t, err)
	var stockErr *InsufficientStockError
	require.ErrorAs(t, q.Problem, &stockErr)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, "3.00", q.Total.StringFixed(2))

	q, err = svc.PreviewCart(context.Background(), "nobody")
	require.NoError(t, err)
	require.ErrorIs(t, q.Problem, ErrEmptyCart)
	assert.NotNil(t, q.Lines)
	assert.True(t, q.Total.IsZero())
}

func TestPreviewCart_StorageFailure(t *testing.T) {
	store := newFakeStore()
	store.failOn["Lines"] = errors.New("connection refused")

	_, err := newTestService(t, store, WithCartReader(store)).PreviewCart(context.Background(), "u1")
	require.ErrorIs(t, err, ErrStorage)

	_, err = newTestService(t, store).PreviewCart(context.Background(), "u1")
	require.ErrorIs(t, err, ErrStorage)
}

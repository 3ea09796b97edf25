package order

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/cart"
)

// --- In-memory store ---

type fakeProduct struct {
	name  string
	price decimal.Decimal
	stock int
}

type fakeCart struct {
	id      string
	deleted bool
	items   []fakeCartItem
}

type fakeCartItem struct {
	id        string
	productID string
	quantity  int
}

type fakeState struct {
	products map[string]fakeProduct
	carts    map[string]fakeCart // by user id
	orders   map[string]Order
	events   []Event
}

func (s fakeState) clone() fakeState {
	c := fakeState{
		products: maps.Clone(s.products),
		carts:    make(map[string]fakeCart, len(s.carts)),
		orders:   make(map[string]Order, len(s.orders)),
		events:   slices.Clone(s.events),
	}
	for k, v := range s.carts {
		v.items = slices.Clone(v.items)
		c.carts[k] = v
	}
	for k, v := range s.orders {
		v.Items = slices.Clone(v.Items)
		c.orders[k] = v
	}
	return c
}

// fakeStore implements TxManager, Repository and cart.Reader. Transactions are
// serialized, which mirrors the row locks taken by the real repository.
type fakeStore struct {
	mu     sync.Mutex
	state  fakeState
	failOn map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		state: fakeState{
			products: make(map[string]fakeProduct),
			carts:    make(map[string]fakeCart),
			orders:   make(map[string]Order),
		},
		failOn: make(map[string]error),
	}
}

func (s *fakeStore) addProduct(id, name, price string, stock int) {
	s.state.products[id] = fakeProduct{name: name, price: decimal.RequireFromString(price), stock: stock}
}

func (s *fakeStore) addCartItem(userID, productID string, qty int) {
	c, ok := s.state.carts[userID]
	if !ok {
		c = fakeCart{id: "cart-" + userID}
	}
	c.items = append(c.items, fakeCartItem{
		id:        fmt.Sprintf("ci-%s-%d", userID, len(c.items)+1),
		productID: productID,
		quantity:  qty,
	})
	s.state.carts[userID] = c
}

func (s *fakeStore) stock(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.products[productID].stock
}

func (s *fakeStore) cartSize(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.carts[userID].items)
}

func (s *fakeStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.orders)
}

func (s *fakeStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(ctx, &fakeTx{s: s}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, userID, orderID string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failOn["GetByID"]; err != nil {
		return nil, err
	}
	o, ok := s.state.orders[orderID]
	if !ok || o.UserID != userID {
		return nil, ErrNotFound
	}
	o.Items = nil
	return &o, nil
}

func (s *fakeStore) HistoryRows(_ context.Context, userID string) ([]HistoryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failOn["HistoryRows"]; err != nil {
		return nil, err
	}

	var orders []Order
	for _, o := range s.state.orders {
		if o.UserID == userID {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })

	var rows []HistoryRow
	for _, o := range orders {
		base := HistoryRow{
			OrderID:   o.ID,
			Total:     o.Total,
			Status:    o.Status,
			Address:   o.Address,
			CreatedAt: o.CreatedAt,
		}
		if len(o.Items) == 0 {
			rows = append(rows, base)
			continue
		}
		for _, it := range o.Items {
			row := base
			row.ItemID = it.ID
			row.ProductID = it.ProductID
			row.ProductName = s.state.products[it.ProductID].name
			row.Quantity = it.Quantity
			row.Price = it.Price
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (s *fakeStore) Items(_ context.Context, orderID string) ([]ItemView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.state.orders[orderID]
	if !ok {
		return nil, nil
	}
	items := make([]ItemView, len(o.Items))
	for i, it := range o.Items {
		items[i] = ItemView{
			ID:        it.ID,
			ProductID: it.ProductID,
			Name:      s.state.products[it.ProductID].name,
			Quantity:  it.Quantity,
			Price:     it.Price,
		}
	}
	return items, nil
}

// Lines implements cart.Reader outside any transaction.
func (s *fakeStore) Lines(ctx context.Context, userID string) ([]cart.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn["Lines"]; err != nil {
		return nil, err
	}
	return (&fakeTx{s: s}).LockCartLines(ctx, userID)
}

type fakeTx struct {
	s *fakeStore
}

func (t *fakeTx) fail(op string) error {
	return t.s.failOn[op]
}

func (t *fakeTx) LockCartLines(_ context.Context, userID string) ([]cart.Line, error) {
	if err := t.fail("LockCartLines"); err != nil {
		return nil, err
	}
	c, ok := t.s.state.carts[userID]
	if !ok || c.deleted {
		return nil, nil
	}
	lines := make([]cart.Line, 0, len(c.items))
	for _, it := range c.items {
		p := t.s.state.products[it.productID]
		lines = append(lines, cart.Line{
			CartID:    c.id,
			ItemID:    it.id,
			ProductID: it.productID,
			Quantity:  it.quantity,
			Price:     p.price,
			Stock:     p.stock,
		})
	}
	return lines, nil
}

func (t *fakeTx) ReserveStock(_ context.Context, productID string, qty int) (bool, error) {
	if err := t.fail("ReserveStock"); err != nil {
		return false, err
	}
	p := t.s.state.products[productID]
	if p.stock < qty {
		return false, nil
	}
	p.stock -= qty
	t.s.state.products[productID] = p
	return true, nil
}

func (t *fakeTx) CreateOrder(_ context.Context, o *Order) error {
	if err := t.fail("CreateOrder"); err != nil {
		return err
	}
	if _, ok := t.s.state.orders[o.ID]; ok {
		return fmt.Errorf("duplicate key value violates unique constraint \"orders_pkey\"")
	}
	stored := *o
	stored.Items = slices.Clone(o.Items)
	t.s.state.orders[o.ID] = stored
	return nil
}

func (t *fakeTx) ClearCart(_ context.Context, cartID string) error {
	if err := t.fail("ClearCart"); err != nil {
		return err
	}
	for user, c := range t.s.state.carts {
		if c.id == cartID {
			c.items = nil
			t.s.state.carts[user] = c
		}
	}
	return nil
}

func (t *fakeTx) LockStatus(_ context.Context, orderID string) (string, Status, error) {
	o, ok := t.s.state.orders[orderID]
	if !ok {
		return "", "", ErrNotFound
	}
	return o.UserID, o.Status, nil
}

func (t *fakeTx) SetStatus(_ context.Context, orderID string, status Status, at time.Time) error {
	if err := t.fail("SetStatus"); err != nil {
		return err
	}
	o := t.s.state.orders[orderID]
	o.Status = status
	o.UpdatedAt = at
	t.s.state.orders[orderID] = o
	return nil
}

func (t *fakeTx) AppendEvent(_ context.Context, e Event) error {
	if err := t.fail("AppendEvent"); err != nil {
		return err
	}
	t.s.state.events = append(t.s.state.events, e)
	return nil
}

// --- Helpers ---

func sequentialIDs() func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

// steppingClock returns a clock that advances one minute per call.
func steppingClock(start time.Time) func() time.Time {
	var (
		mu  sync.Mutex
		cur = start
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Minute)
		return cur
	}
}

type mockCache struct {
	mu       sync.Mutex
	entries  map[string][]Summary
	versions map[string]int64
	getErr   error
	deleted  []string
}

func newMockCache() *mockCache {
	return &mockCache{
		entries:  make(map[string][]Summary),
		versions: make(map[string]int64),
	}
}

func (m *mockCache) Get(_ context.Context, userID string) ([]Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	h, ok := m.entries[userID]
	if !ok {
		return nil, ErrCacheMiss
	}
	return h, nil
}

func (m *mockCache) Version(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.versions[userID], nil
}

func (m *mockCache) Set(_ context.Context, userID string, version int64, history []Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.versions[userID] != version {
		return ErrCacheStale
	}
	m.entries[userID] = history
	return nil
}

func (m *mockCache) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, userID)
	m.versions[userID]++
	m.deleted = append(m.deleted, userID)
	return nil
}

// interleavedRepository runs afterHistory once, right after HistoryRows has
// read its rows and before the caller sees them.
type interleavedRepository struct {
	Repository
	afterHistory func()
}

func (r *interleavedRepository) HistoryRows(ctx context.Context, userID string) ([]HistoryRow, error) {
	rows, err := r.Repository.HistoryRows(ctx, userID)
	if hook := r.afterHistory; hook != nil {
		r.afterHistory = nil
		hook()
	}
	return rows, err
}

package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/cart"
)

const instrumentationName = "github.com/xenking/kart-orders/internal/domain/order"

// CreateRequest holds the input for converting a cart into an order.
type CreateRequest struct {
	UserID  string
	Address string
}

// Option configures a Service.
type Option func(*Service)

// WithIDGenerator replaces the uuid v4 generator used for order, item and
// event identifiers.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithStatusPolicy sets the status transition policy. Defaults to AnyStatus.
func WithStatusPolicy(p StatusPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithCartReader enables PreviewCart.
func WithCartReader(r cart.Reader) Option {
	return func(s *Service) { s.carts = r }
}

// WithHistoryCache enables caching of aggregated order histories.
func WithHistoryCache(c HistoryCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithTracerProvider sets the tracer provider for service spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider sets the meter provider for checkout metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter(instrumentationName) }
}

// Service implements the order workflow: checkout, status updates and the
// order read paths.
type Service struct {
	tx     TxManager
	orders Repository
	carts  cart.Reader
	cache  HistoryCache
	policy StatusPolicy
	newID  func() string
	now    func() time.Time
	tracer trace.Tracer
	meter  metric.Meter

	checkouts     metric.Int64Counter
	statusUpdates metric.Int64Counter
}

// NewService creates an order Service backed by the given transaction
// manager and read repository.
func NewService(tx TxManager, orders Repository, opts ...Option) (*Service, error) {
	s := &Service{
		tx:     tx,
		orders: orders,
		cache:  nopCache{},
		policy: AnyStatus{},
		newID:  func() string { return uuid.New().String() },
		now:    time.Now,
		tracer: tracenoop.NewTracerProvider().Tracer(instrumentationName),
		meter:  metricnoop.NewMeterProvider().Meter(instrumentationName),
	}
	for _, o := range opts {
		o(s)
	}

	var err error
	s.checkouts, err = s.meter.Int64Counter("kart.orders.checkouts",
		metric.WithDescription("Checkout attempts by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create checkouts counter")
	}
	s.statusUpdates, err = s.meter.Int64Counter("kart.orders.status_updates",
		metric.WithDescription("Order status updates by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create status updates counter")
	}

	return s, nil
}

// CreateFromCart converts the user's cart into a pending order. Reading the
// cart, stock validation, stock reservation, order and item inserts, cart
// clearing and the outbox event all happen in one transaction.
//
// Business failures are returned unchanged (ErrEmptyCart,
// *InsufficientStockError, *InvalidQuantityError). Any other failure rolls
// everything back, is logged and surfaces as ErrStorage. The operation is
// not idempotent and is never retried here.
//
// Checkout owns the stock decrement: products.stock is reduced in the same
// transaction, so a separate inventory service must not decrement again for
// the order.created event.
func (s *Service) CreateFromCart(ctx context.Context, req CreateRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateFromCart",
		trace.WithAttributes(attribute.String("user.id", req.UserID)),
	)
	defer span.End()

	lg := zctx.From(ctx).With(zap.String("user_id", req.UserID))

	var created *Order
	err := s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		lines, err := tx.LockCartLines(ctx, req.UserID)
		if err != nil {
			return errors.Wrap(err, "read cart")
		}
		if len(lines) == 0 {
			return ErrEmptyCart
		}
		if err := ValidateStock(lines); err != nil {
			return err
		}
		if err := s.reserve(ctx, tx, lines); err != nil {
			return err
		}

		o := s.buildOrder(req, lines)
		if err := tx.CreateOrder(ctx, o); err != nil {
			return errors.Wrap(err, "insert order")
		}
		if err := tx.ClearCart(ctx, cart.ID(lines)); err != nil {
			return errors.Wrap(err, "clear cart")
		}
		if err := tx.AppendEvent(ctx, createdEvent(s.newID(), o)); err != nil {
			return errors.Wrap(err, "append order event")
		}

		created = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkout failed")
		s.checkouts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome(err))))

		if isBusinessError(err) {
			lg.Info("Checkout rejected", zap.Error(err))
			return nil, err
		}
		lg.Error("Checkout failed", zap.Error(err))
		return nil, ErrStorage
	}

	s.checkouts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "success")))
	span.SetAttributes(attribute.String("order.id", created.ID))
	s.invalidate(ctx, req.UserID)

	lg.Info("Order created",
		zap.String("order_id", created.ID),
		zap.String("total", created.Total.StringFixed(totalPlaces)),
		zap.Int("items", len(created.Items)),
	)
	return created, nil
}

// reserve decrements stock for every line. The conditional update catches
// stock consumed since the lines were read and duplicate product lines whose
// combined quantity exceeds the stock.
func (s *Service) reserve(ctx context.Context, tx Tx, lines []cart.Line) error {
	reserved := make(map[string]int, len(lines))
	for _, l := range lines {
		ok, err := tx.ReserveStock(ctx, l.ProductID, l.Quantity)
		if err != nil {
			return errors.Wrapf(err, "reserve stock for product %s", l.ProductID)
		}
		if !ok {
			return &InsufficientStockError{
				ProductID: l.ProductID,
				Requested: l.Quantity,
				Available: max(l.Stock-reserved[l.ProductID], 0),
			}
		}
		reserved[l.ProductID] += l.Quantity
	}
	return nil
}

func (s *Service) buildOrder(req CreateRequest, lines []cart.Line) *Order {
	now := s.now()
	o := &Order{
		ID:        s.newID(),
		UserID:    req.UserID,
		Total:     CalculateTotal(lines),
		Status:    StatusPending,
		Address:   req.Address,
		Items:     make([]Item, len(lines)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, l := range lines {
		o.Items[i] = Item{
			ID:        s.newID(),
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			Price:     l.Price,
		}
	}
	return o
}

// UpdateStatus changes the status of an order and bumps its update time.
// A blank status is always rejected with ErrInvalidStatus; beyond that the
// configured StatusPolicy decides which changes are allowed.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status Status) error {
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus",
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.String("order.status", string(status)),
		),
	)
	defer span.End()

	lg := zctx.From(ctx).With(zap.String("order_id", orderID), zap.String("status", string(status)))

	if strings.TrimSpace(string(status)) == "" {
		s.statusUpdates.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "invalid_status")))
		return ErrInvalidStatus
	}

	var owner string
	err := s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		userID, current, err := tx.LockStatus(ctx, orderID)
		if err != nil {
			return err
		}
		if err := s.policy.Allow(current, status); err != nil {
			return err
		}

		now := s.now()
		if err := tx.SetStatus(ctx, orderID, status, now); err != nil {
			return errors.Wrap(err, "set status")
		}
		if err := tx.AppendEvent(ctx, statusChangedEvent(s.newID(), orderID, userID, current, status, now)); err != nil {
			return errors.Wrap(err, "append status event")
		}

		owner = userID
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status update failed")
		s.statusUpdates.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome(err))))

		if isBusinessError(err) {
			lg.Info("Status update rejected", zap.Error(err))
			return err
		}
		lg.Error("Status update failed", zap.Error(err))
		return ErrStorage
	}

	s.statusUpdates.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "success")))
	s.invalidate(ctx, owner)
	return nil
}

// Quote previews a checkout of the current cart without locking or changing
// anything. Problem holds the error checkout would fail with right now, nil
// if it would succeed. Stock may change before the actual checkout.
type Quote struct {
	Lines   []cart.Line
	Total   decimal.Decimal
	Problem error
}

// PreviewCart reads the user's cart through the non-locking cart reader and
// prices it the way CreateFromCart would.
func (s *Service) PreviewCart(ctx context.Context, userID string) (*Quote, error) {
	ctx, span := s.tracer.Start(ctx, "order.PreviewCart")
	defer span.End()

	lg := zctx.From(ctx).With(zap.String("user_id", userID))
	if s.carts == nil {
		lg.Error("Cart preview requested without a cart reader")
		return nil, ErrStorage
	}

	lines, err := s.carts.Lines(ctx, userID)
	if err != nil {
		span.RecordError(err)
		lg.Error("Read cart failed", zap.Error(err))
		return nil, ErrStorage
	}

	q := &Quote{Lines: lines, Total: CalculateTotal(lines)}
	if len(lines) == 0 {
		q.Lines = []cart.Line{}
		q.Problem = ErrEmptyCart
	} else {
		q.Problem = ValidateStock(lines)
	}
	return q, nil
}

// GetByID returns the order header if it belongs to userID. Orders of other
// users are reported as ErrNotFound.
func (s *Service) GetByID(ctx context.Context, userID, orderID string) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.GetByID")
	defer span.End()

	o, err := s.orders.GetByID(ctx, userID, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		zctx.From(ctx).Error("Get order failed",
			zap.String("user_id", userID),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return nil, ErrStorage
	}
	return o, nil
}

// History returns all orders of a user, newest first, with their items.
func (s *Service) History(ctx context.Context, userID string) ([]Summary, error) {
	ctx, span := s.tracer.Start(ctx, "order.History")
	defer span.End()

	lg := zctx.From(ctx).With(zap.String("user_id", userID))

	cached, err := s.cache.Get(ctx, userID)
	switch {
	case err == nil:
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached, nil
	case !errors.Is(err, ErrCacheMiss):
		lg.Warn("History cache read failed", zap.Error(err))
	}

	// The generation must be read before the rows: an invalidation landing
	// after this point makes the fill below a no-op.
	version, verErr := s.cache.Version(ctx, userID)
	if verErr != nil {
		lg.Warn("History cache version read failed", zap.Error(verErr))
	}

	rows, err := s.orders.HistoryRows(ctx, userID)
	if err != nil {
		span.RecordError(err)
		lg.Error("Get order history failed", zap.Error(err))
		return nil, ErrStorage
	}

	history := AggregateHistory(rows)
	if verErr != nil {
		return history, nil
	}
	switch err := s.cache.Set(ctx, userID, version, history); {
	case err == nil:
	case errors.Is(err, ErrCacheStale):
		lg.Debug("History changed while loading, cache fill skipped")
	default:
		lg.Warn("History cache write failed", zap.Error(err))
	}
	return history, nil
}

// Items returns the lines of an order with product names. An unknown order
// yields an empty slice.
func (s *Service) Items(ctx context.Context, orderID string) ([]ItemView, error) {
	ctx, span := s.tracer.Start(ctx, "order.Items")
	defer span.End()

	items, err := s.orders.Items(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		zctx.From(ctx).Error("Get order items failed", zap.String("order_id", orderID), zap.Error(err))
		return nil, ErrStorage
	}
	if items == nil {
		items = []ItemView{}
	}
	return items, nil
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	if err := s.cache.Delete(ctx, userID); err != nil {
		zctx.From(ctx).Warn("History cache invalidation failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidStatus):
		return "invalid_status"
	default:
		return "storage_failure"
	}
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) ([]Summary, error) { return nil, ErrCacheMiss }

func (nopCache) Version(context.Context, string) (int64, error) { return 0, nil }

func (nopCache) Set(context.Context, string, int64, []Summary) error { return nil }

func (nopCache) Delete(context.Context, string) error { return nil }

// Package api exposes the order workflow as a JSON HTTP API.
package api

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/kart-orders/internal/domain/analytics"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/pkg/httpmiddleware"
)

// OrderService is the order workflow used by the handlers.
type OrderService interface {
	CreateFromCart(ctx context.Context, req order.CreateRequest) (*order.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status order.Status) error
	GetByID(ctx context.Context, userID, orderID string) (*order.Order, error)
	History(ctx context.Context, userID string) ([]order.Summary, error)
	Items(ctx context.Context, orderID string) ([]order.ItemView, error)
	PreviewCart(ctx context.Context, userID string) (*order.Quote, error)
}

// AnalyticsService provides the dashboard aggregates.
type AnalyticsService interface {
	Summary(ctx context.Context) (analytics.Summary, error)
	Monthly(ctx context.Context, year int) ([]analytics.MonthlySales, error)
}

var (
	_ OrderService     = (*order.Service)(nil)
	_ AnalyticsService = (*analytics.Service)(nil)
)

// Option configures a Handler.
type Option func(*Handler)

// WithClock replaces time.Now, used for the default analytics year.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// Handler serves the /api routes.
type Handler struct {
	orders    OrderService
	analytics AnalyticsService
	now       func() time.Time
}

// NewHandler returns a Handler serving orders and stats.
func NewHandler(orders OrderService, stats AnalyticsService, opts ...Option) *Handler {
	h := &Handler{orders: orders, analytics: stats, now: time.Now}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	routes := []struct {
		pattern string
		handler http.HandlerFunc
		auth    bool
	}{
		{"GET /api/cart", h.previewCart, true},
		{"POST /api/orders", h.createOrder, true},
		{"GET /api/orders", h.listOrders, true},
		{"GET /api/orders/{id}", h.getOrder, true},
		{"GET /api/orders/{id}/items", h.getOrderItems, true},
		{"PATCH /api/orders/{id}/status", h.updateStatus, false},
		{"GET /api/analytics/summary", h.analyticsSummary, false},
		{"GET /api/analytics/monthly", h.analyticsMonthly, false},
	}
	for _, rt := range routes {
		next := rt.handler
		if rt.auth {
			next = requireUser(next)
		}
		mux.Handle(rt.pattern, named(rt.pattern, next))
	}
}

// named renames the otelhttp server span after the matched route.
func named(pattern string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		trace.SpanFromContext(r.Context()).SetName(pattern)
		next(w, r)
	})
}

type userIDKey struct{}

// requireUser rejects requests without the caller identity header. The
// gateway in front of the service authenticates the user and sets it.
func requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(httpmiddleware.UserIDHeader)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+httpmiddleware.UserIDHeader+" header")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey{}, userID)))
	}
}

func userFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

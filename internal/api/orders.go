package api

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-orders/internal/domain/order"
)

const maxBodyBytes = 64 << 10

// previewCart handles GET /api/cart: the caller's cart priced as checkout
// would price it, and whether checkout would currently succeed.
func (h *Handler) previewCart(w http.ResponseWriter, r *http.Request) {
	q, err := h.orders.PreviewCart(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeQuote(e, q) })
}

// createOrder handles POST /api/orders with an optional {"address": "..."}
// body and converts the caller's cart into an order.
func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req order.CreateRequest
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "address" {
			return d.Skip()
		}
		v, err := d.Str()
		req.Address = v
		return err
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.UserID = userFrom(r.Context())

	o, err := h.orders.CreateFromCart(r.Context(), req)
	if err != nil {
		writeOrderError(w, err)
		return
	}
	w.Header().Set("Location", "/api/orders/"+o.ID)
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// listOrders handles GET /api/orders: the caller's history, newest first.
func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	history, err := h.orders.History(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeHistory(e, history) })
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetByID(r.Context(), userFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// getOrderItems handles GET /api/orders/{id}/items. Ownership is checked
// first so one user cannot list another user's items.
func (h *Handler) getOrderItems(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	if _, err := h.orders.GetByID(r.Context(), userFrom(r.Context()), orderID); err != nil {
		writeOrderError(w, err)
		return
	}
	items, err := h.orders.Items(r.Context(), orderID)
	if err != nil {
		writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeItemViews(e, items) })
}

// updateStatus handles PATCH /api/orders/{id}/status with {"status": "..."}.
func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var (
		status  string
		present bool
	)
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		present = true
		v, err := d.Str()
		status = v
		return err
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !present {
		writeError(w, http.StatusUnprocessableEntity, "status is required")
		return
	}

	if err := h.orders.UpdateStatus(r.Context(), r.PathValue("id"), order.Status(status)); err != nil {
		writeOrderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody reads a JSON object body, calling field for every key. An
// empty body is treated as {}.
func decodeBody(w http.ResponseWriter, r *http.Request, field func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if len(data) == 0 {
		return nil
	}
	return jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		return field(d, string(key))
	})
}

// writeOrderError maps order errors to HTTP statuses. Storage failures carry
// no detail.
func writeOrderError(w http.ResponseWriter, err error) {
	var (
		stockErr *order.InsufficientStockError
		qtyErr   *order.InvalidQuantityError
	)
	switch {
	case errors.As(err, &stockErr):
		writeError(w, http.StatusConflict, stockErr.Error(), func(e *jx.Encoder) {
			e.Field("product_id", func(e *jx.Encoder) { e.Str(stockErr.ProductID) })
			e.Field("requested", func(e *jx.Encoder) { e.Int(stockErr.Requested) })
			e.Field("available", func(e *jx.Encoder) { e.Int(stockErr.Available) })
		})
	case errors.Is(err, order.ErrEmptyCart):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &qtyErr):
		writeError(w, http.StatusUnprocessableEntity, qtyErr.Error(), func(e *jx.Encoder) {
			e.Field("product_id", func(e *jx.Encoder) { e.Str(qtyErr.ProductID) })
		})
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, order.ErrInvalidStatus):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

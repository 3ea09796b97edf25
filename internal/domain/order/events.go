package order

import (
	"time"

	"github.com/go-faster/jx"
)

// Outbox event types.
const (
	EventCreated       = "order.created"
	EventStatusChanged = "order.status_changed"
)

func createdEvent(id string, o *Order) Event {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("order_id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("user_id", func(e *jx.Encoder) { e.Str(o.UserID) })
		e.Field("total", func(e *jx.Encoder) { e.Str(o.Total.StringFixed(totalPlaces)) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("price", func(e *jx.Encoder) { e.Str(it.Price.String()) })
					})
				}
			})
		})
		e.Field("created_at", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano)) })
	})
	return Event{
		ID:          id,
		AggregateID: o.ID,
		Type:        EventCreated,
		Payload:     e.Bytes(),
		CreatedAt:   o.CreatedAt,
	}
}

func statusChangedEvent(id, orderID, userID string, from, to Status, at time.Time) Event {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("order_id", func(e *jx.Encoder) { e.Str(orderID) })
		e.Field("user_id", func(e *jx.Encoder) { e.Str(userID) })
		e.Field("from", func(e *jx.Encoder) { e.Str(string(from)) })
		e.Field("to", func(e *jx.Encoder) { e.Str(string(to)) })
		e.Field("changed_at", func(e *jx.Encoder) { e.Str(at.UTC().Format(time.RFC3339Nano)) })
	})
	return Event{
		ID:          id,
		AggregateID: orderID,
		Type:        EventStatusChanged,
		Payload:     e.Bytes(),
		CreatedAt:   at,
	}
}

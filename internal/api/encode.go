package api

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/analytics"
	"github.com/xenking/kart-orders/internal/domain/order"
)

// Money totals are rendered as JSON numbers with two decimals, unit prices
// with the precision they are stored with.
func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func encodePrice(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.String()))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("user_id", func(e *jx.Encoder) { e.Str(o.UserID) })
		e.Field("total", func(e *jx.Encoder) { encodeMoney(e, o.Total) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("customer_address", func(e *jx.Encoder) { e.Str(o.Address) })
		e.Field("created_at", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
		e.Field("updated_at", func(e *jx.Encoder) { encodeTime(e, o.UpdatedAt) })
		if o.Items == nil {
			return
		}
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Str(it.ID) })
						e.Field("product_id", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("price", func(e *jx.Encoder) { encodePrice(e, it.Price) })
					})
				}
			})
		})
	})
}

func encodeQuote(e *jx.Encoder, q *order.Quote) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range q.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Str(l.ItemID) })
						e.Field("product_id", func(e *jx.Encoder) { e.Str(l.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("price", func(e *jx.Encoder) { encodePrice(e, l.Price) })
						e.Field("stock", func(e *jx.Encoder) { e.Int(l.Stock) })
					})
				}
			})
		})
		e.Field("total", func(e *jx.Encoder) { encodeMoney(e, q.Total) })
		e.Field("ready", func(e *jx.Encoder) { e.Bool(q.Problem == nil) })
		if q.Problem != nil {
			e.Field("problem", func(e *jx.Encoder) { e.Str(q.Problem.Error()) })
		}
	})
}

func encodeItemViews(e *jx.Encoder, items []order.ItemView) {
	e.Arr(func(e *jx.Encoder) {
		for _, it := range items {
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Str(it.ID) })
				e.Field("product_id", func(e *jx.Encoder) { e.Str(it.ProductID) })
				e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
				e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
				e.Field("price", func(e *jx.Encoder) { encodePrice(e, it.Price) })
			})
		}
	})
}

func encodeHistory(e *jx.Encoder, history []order.Summary) {
	e.Arr(func(e *jx.Encoder) {
		for _, s := range history {
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Str(s.ID) })
				e.Field("total", func(e *jx.Encoder) { encodeMoney(e, s.Total) })
				e.Field("status", func(e *jx.Encoder) { e.Str(string(s.Status)) })
				e.Field("customer_address", func(e *jx.Encoder) { e.Str(s.Address) })
				e.Field("created_at", func(e *jx.Encoder) { encodeTime(e, s.CreatedAt) })
				e.Field("item_count", func(e *jx.Encoder) { e.Int(s.ItemCount) })
				e.Field("items", func(e *jx.Encoder) { encodeItemViews(e, s.Items) })
			})
		}
	})
}

func encodeSummary(e *jx.Encoder, s analytics.Summary) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("total_orders", func(e *jx.Encoder) { e.Int(s.TotalOrders) })
		e.Field("total_revenue", func(e *jx.Encoder) { encodeMoney(e, s.Revenue) })
	})
}

func encodeMonthly(e *jx.Encoder, year int, sales []analytics.MonthlySales) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("year", func(e *jx.Encoder) { e.Int(year) })
		e.Field("months", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, m := range sales {
					e.Obj(func(e *jx.Encoder) {
						e.Field("month", func(e *jx.Encoder) { e.Int(m.Month) })
						e.Field("total", func(e *jx.Encoder) { e.Int(m.Orders) })
					})
				}
			})
		})
	})
}

func writeJSON(w http.ResponseWriter, code int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

// writeError writes {"code":<code>,"message":<msg>} plus any extra fields.
func writeError(w http.ResponseWriter, code int, msg string, extra ...func(e *jx.Encoder)) {
	writeJSON(w, code, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(code) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
			for _, fn := range extra {
				fn(e)
			}
		})
	})
}

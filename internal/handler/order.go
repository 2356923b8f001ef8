package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/order"
)

const maxOrdersPage = 200

// ListOrders serves GET /orders?limit=N, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxOrdersPage {
			h.writeError(w, r, apperr.Invalid("limit", "must be an integer between 1 and 200"))
			return
		}
		limit = n
	}

	orders, err := h.Orders.ListByOwner(r.Context(), userID, limit)
	if err != nil {
		h.writeError(w, r, apperr.Transient("list orders", err))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range orders {
			encodeOrder(e, &orders[i])
		}
		e.ArrEnd()
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
	e.FieldStart("products")
	e.ArrStart()
	for _, l := range o.Items {
		e.ObjStart()
		e.Field("productId", func(e *jx.Encoder) { e.Str(l.ProductID) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
		e.Field("price", func(e *jx.Encoder) { encodeDecimal(e, l.Price.Decimal()) })
		e.ObjEnd()
	}
	e.ArrEnd()
	e.Field("totalAmount", func(e *jx.Encoder) { encodeDecimal(e, o.Total.Decimal()) })
	if o.CouponCode != "" {
		e.Field("couponCode", func(e *jx.Encoder) { e.Str(o.CouponCode) })
	}
	e.Field("paymentMethod", func(e *jx.Encoder) { e.Str(string(o.PaymentMethod)) })
	e.Field("paymentReference", func(e *jx.Encoder) { e.Str(o.ProviderReference) })
	e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
	e.ObjEnd()
}

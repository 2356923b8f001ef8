package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/auth"
)

// GetCoupon serves GET /coupons: the caller's redeemable coupon, or null.
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserFrom(r.Context())
	c, err := h.Coupons.Current(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, apperr.Transient("current coupon", err))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		if c == nil {
			e.Null()
			return
		}
		e.ObjStart()
		e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
		e.Field("discountPercentage", func(e *jx.Encoder) { e.Num(jx.Num(c.DiscountPercentage.String())) })
		e.Field("expirationDate", func(e *jx.Encoder) { e.Str(c.ExpiresAt.UTC().Format(time.RFC3339)) })
		e.Field("isActive", func(e *jx.Encoder) { e.Bool(c.Active) })
		e.ObjEnd()
	})
}

package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
)

// checkoutRequest is the union of the four checkout bodies. Each endpoint
// reads the fields it needs.
type checkoutRequest struct {
	Items            []cart.Item
	CouponCode       string
	PhoneNumber      string
	SessionID        string
	PaymentReference string
	TotalAmount      decimal.Decimal
}

func decodeCheckout(w http.ResponseWriter, r *http.Request) (*checkoutRequest, error) {
	body, err := readBody(w, r)
	if err != nil {
		return nil, err
	}
	var req checkoutRequest
	err = decodeObject(body, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items", "products":
			req.Items, err = decodeItems(d)
		case "couponCode":
			req.CouponCode, err = optString(d, key)
		case "phoneNumber":
			req.PhoneNumber, err = optString(d, key)
		case "sessionId":
			req.SessionID, err = optString(d, key)
		case "paymentReference":
			req.PaymentReference, err = optString(d, key)
		case "totalAmount":
			req.TotalAmount, err = decimalValue(d, key)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// CreateCardSession serves POST /checkout/card/session.
func (h *Handler) CreateCardSession(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCheckout(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Items == nil {
		h.writeError(w, r, apperr.Invalid("items", "at least one item is required"))
		return
	}
	userID, _ := auth.UserFrom(r.Context())

	start, err := h.Initiator.StartCard(r.Context(), userID, req.Items, req.CouponCode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("id", func(e *jx.Encoder) { e.Str(start.SessionID) })
		e.Field("sessionId", func(e *jx.Encoder) { e.Str(start.SessionID) })
		if start.URL != "" {
			e.Field("url", func(e *jx.Encoder) { e.Str(start.URL) })
		}
		e.Field("totalAmount", func(e *jx.Encoder) { encodeDecimal(e, start.Total.Decimal()) })
		e.ObjEnd()
	})
}

// ConfirmCard serves POST /checkout/card/confirm.
func (h *Handler) ConfirmCard(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCheckout(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.SessionID == "" {
		h.writeError(w, r, apperr.Invalid("sessionId", "session id is required"))
		return
	}
	userID, _ := auth.UserFrom(r.Context())

	res, err := h.Reconciler.ConfirmCard(r.Context(), userID, req.SessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, res)
}

// InitiateMobile serves POST /checkout/mobile/initiate.
func (h *Handler) InitiateMobile(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCheckout(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Items == nil {
		h.writeError(w, r, apperr.Invalid("items", "at least one item is required"))
		return
	}
	userID, _ := auth.UserFrom(r.Context())

	start, err := h.Initiator.StartMobile(r.Context(), userID, req.Items, req.CouponCode, req.PhoneNumber)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("paymentReference", func(e *jx.Encoder) { e.Str(start.Reference) })
		e.Field("totalAmount", func(e *jx.Encoder) { encodeDecimal(e, start.Total.Decimal()) })
		e.Field("phoneNumber", func(e *jx.Encoder) { e.Str(start.Phone) })
		e.Field("message", func(e *jx.Encoder) { e.Str("Proceed with the mobile-money payment using the reference number") })
		e.Field("instructions", func(e *jx.Encoder) { e.Str(start.Instructions) })
		e.ObjEnd()
	})
}

// ConfirmMobile serves POST /checkout/mobile/confirm.
func (h *Handler) ConfirmMobile(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCheckout(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	userID, _ := auth.UserFrom(r.Context())

	res, err := h.Reconciler.ConfirmMobile(r.Context(), userID, checkout.Confirmation{
		PaymentReference: req.PaymentReference,
		Items:            req.Items,
		Total:            req.TotalAmount,
		CouponCode:       req.CouponCode,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, res)
}

func writeResult(w http.ResponseWriter, res *checkout.Result) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("success", func(e *jx.Encoder) { e.Bool(true) })
		e.Field("orderId", func(e *jx.Encoder) { e.Str(res.OrderID) })
		e.Field("message", func(e *jx.Encoder) { e.Str(res.Message()) })
		e.Field("state", func(e *jx.Encoder) { e.Str(string(res.State)) })
		if res.Reward != nil {
			e.Field("rewardCoupon", func(e *jx.Encoder) { e.Str(res.Reward.Code) })
		}
		e.ObjEnd()
	})
}

// logResult records a webhook-driven reconciliation.
func logResult(r *http.Request, res *checkout.Result) {
	zctx.From(r.Context()).Info("Webhook reconciled",
		zap.String("order_id", res.OrderID),
		zap.String("state", string(res.State)),
	)
}

package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/provider/stripe"
)

func writeReceived(w http.ResponseWriter, status int, res *checkout.Result) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("received", func(e *jx.Encoder) { e.Bool(true) })
		if res != nil {
			e.Field("orderId", func(e *jx.Encoder) { e.Str(res.OrderID) })
			e.Field("state", func(e *jx.Encoder) { e.Str(string(res.State)) })
		}
		e.ObjEnd()
	})
}

// reconciled acknowledges a provider notification. Unpaid payments are
// acknowledged with 202 so the provider does not retry them; the client
// confirmation or a later event settles them.
func (h *Handler) reconciled(w http.ResponseWriter, r *http.Request, res *checkout.Result, err error) {
	switch {
	case errors.Is(err, apperr.ErrPaymentIncomplete):
		zctx.From(r.Context()).Info("Webhook for unpaid payment", zap.Error(err))
		writeReceived(w, http.StatusAccepted, nil)
	case err != nil:
		h.writeError(w, r, err)
	default:
		logResult(r, res)
		writeReceived(w, http.StatusOK, res)
	}
}

// CardWebhookEvent serves POST /webhooks/card. The Stripe-Signature header
// authenticates the payload.
func (h *Handler) CardWebhookEvent(w http.ResponseWriter, r *http.Request) {
	if h.CardWebhook == nil {
		writeMessage(w, http.StatusNotFound, "not found")
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	sessionID, err := h.CardWebhook.ParseWebhook(body, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, stripe.ErrIgnoredEvent):
		writeReceived(w, http.StatusOK, nil)
		return
	case err != nil:
		h.writeError(w, r, err)
		return
	}

	ctx := zctx.With(r.Context(), zap.String("rail", "card"), zap.String("reference", sessionID))
	r = r.WithContext(ctx)
	res, err := h.Reconciler.ReconcileCardSession(ctx, sessionID)
	h.reconciled(w, r, res, err)
}

// MobileWebhookEvent serves POST /webhooks/mobile, a provider notification
// that a payment reference changed state. The payload only names the
// reference; the status is always re-read from the provider.
func (h *Handler) MobileWebhookEvent(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var reference string
	if err := decodeObject(body, func(d *jx.Decoder, key string) error {
		switch key {
		case "paymentReference", "reference":
			var err error
			reference, err = optString(d, key)
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx := zctx.With(r.Context(), zap.String("rail", "mobile-money"), zap.String("reference", reference))
	r = r.WithContext(ctx)
	res, err := h.Reconciler.ReconcileMobileReference(ctx, reference)
	h.reconciled(w, r, res, err)
}

// SettleMobile serves POST /dev/mobile/settle, which drives the simulated
// mobile-money provider. It is only routed in simulate mode.
func (h *Handler) SettleMobile(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var (
		reference, payer string
		status           = "paid"
		amount           decimal.Decimal
		hasAmount        bool
	)
	if err := decodeObject(body, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "paymentReference":
			reference, err = optString(d, key)
		case "payerPhone":
			payer, err = optString(d, key)
		case "status":
			status, err = optString(d, key)
		case "amount":
			amount, err = decimalValue(d, key)
			hasAmount = true
		default:
			return d.Skip()
		}
		return err
	}); err != nil {
		h.writeError(w, r, err)
		return
	}

	switch {
	case reference == "":
		h.writeError(w, r, apperr.Invalid("paymentReference", "payment reference is required"))
		return
	case status == "failed":
		h.Settler.Fail(reference)
	case status != "paid":
		h.writeError(w, r, apperr.Invalid("status", `must be "paid" or "failed"`))
		return
	case !hasAmount || !amount.IsPositive():
		h.writeError(w, r, apperr.Invalid("amount", "must be greater than zero"))
		return
	default:
		h.Settler.Settle(reference, pricing.FromDecimal(amount), payer)
	}
	zctx.From(r.Context()).Info("Simulated mobile payment",
		zap.String("reference", reference),
		zap.String("status", status),
	)
	w.WriteHeader(http.StatusNoContent)
}

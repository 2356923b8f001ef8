package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/product"
)

// writeJSON encodes the body built by fn with the given status.
func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		e.ObjEnd()
	})
}

// statusOf maps the checkout failure taxonomy onto HTTP. The message is safe
// to show to clients.
func statusOf(err error) (int, string) {
	var v *apperr.ValidationError
	switch {
	case errors.As(err, &v):
		return http.StatusBadRequest, v.Error()
	case errors.Is(err, apperr.ErrUnauthenticated):
		return http.StatusUnauthorized, "user not authenticated"
	case errors.Is(err, apperr.ErrPaymentIncomplete):
		return http.StatusBadRequest, "payment not completed"
	case errors.Is(err, apperr.ErrProviderRejected):
		return http.StatusBadRequest, "payment provider rejected the request"
	case errors.Is(err, apperr.ErrProviderRateLimited):
		return http.StatusTooManyRequests, "too many requests, retry later"
	case errors.Is(err, apperr.ErrProviderFault):
		return http.StatusBadGateway, "payment provider unavailable, retry later"
	case errors.Is(err, apperr.ErrTransient):
		return http.StatusServiceUnavailable, "temporary failure, retry later"
	case errors.Is(err, product.ErrNotFound):
		return http.StatusNotFound, "product not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError logs err and writes its client-facing form. Internal details are
// only included in debug mode.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusOf(err)

	lg := zctx.From(r.Context())
	switch {
	case status >= http.StatusInternalServerError:
		lg.Error("Request failed", zap.Int("status", status), zap.Error(err))
	case status == http.StatusTooManyRequests:
		lg.Warn("Request throttled", zap.Error(err))
	default:
		lg.Info("Request rejected", zap.Int("status", status), zap.Error(err))
	}

	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		if h.cfg.Debug {
			e.Field("error", func(e *jx.Encoder) { e.Str(err.Error()) })
		}
		e.ObjEnd()
	})
}

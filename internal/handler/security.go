package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/auth"
)

// Authenticate requires a valid bearer token and stores its subject as the
// current user. The request logger is tagged with the user id.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || h.Tokens == nil {
			h.writeError(w, r, apperr.ErrUnauthenticated)
			return
		}
		userID, err := h.Tokens.Verify(strings.TrimSpace(raw))
		if err != nil {
			h.writeError(w, r, errors.Wrap(apperr.ErrUnauthenticated, err.Error()))
			return
		}

		ctx := auth.WithUser(r.Context(), userID)
		ctx = zctx.With(ctx, zap.String("user_id", userID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAPIKey authenticates machine callers by the api_key header. The key
// is hashed with the configured pepper, looked up, compared in constant time
// and checked for scope.
func (h *Handler) RequireAPIKey(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("api_key")
			if key == "" {
				key = r.Header.Get("X-API-Key")
			}
			if key == "" {
				writeMessage(w, http.StatusUnauthorized, "api key required")
				return
			}

			hash := auth.HashKey(h.cfg.APIKeyPepper, key)
			info, err := h.APIKeys.FindByHash(r.Context(), hash)
			switch {
			case errors.Is(err, auth.ErrKeyNotFound):
				writeMessage(w, http.StatusUnauthorized, "invalid api key")
				return
			case err != nil:
				h.writeError(w, r, apperr.Transient("find api key", err))
				return
			}
			if subtle.ConstantTimeCompare([]byte(hash), []byte(info.KeyHash)) != 1 {
				writeMessage(w, http.StatusUnauthorized, "invalid api key")
				return
			}
			if !info.HasScope(scope) {
				writeMessage(w, http.StatusForbidden, "api key lacks scope "+scope)
				return
			}

			ctx := zctx.With(r.Context(), zap.String("api_key_id", info.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

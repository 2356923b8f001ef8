// Package handler exposes the storefront over HTTP: catalog, cart, coupons,
// orders, the two checkout rails and the payment provider webhooks.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
)

// CardWebhook verifies a card provider event and returns the completed
// checkout session id.
type CardWebhook interface {
	ParseWebhook(payload []byte, signature string) (string, error)
}

// MobileSettler marks simulated mobile-money payments as paid or failed.
type MobileSettler interface {
	Settle(reference string, amount pricing.Amount, payer string)
	Fail(reference string)
}

// Initiator starts payments on either rail.
type Initiator interface {
	StartCard(ctx context.Context, owner string, items []cart.Item, couponCode string) (*checkout.CardStart, error)
	StartMobile(ctx context.Context, owner string, items []cart.Item, couponCode, phone string) (*checkout.MobileStart, error)
}

// Reconciler turns confirmed payments into orders.
type Reconciler interface {
	ConfirmCard(ctx context.Context, owner, sessionID string) (*checkout.Result, error)
	ConfirmMobile(ctx context.Context, owner string, c checkout.Confirmation) (*checkout.Result, error)
	ReconcileCardSession(ctx context.Context, sessionID string) (*checkout.Result, error)
	ReconcileMobileReference(ctx context.Context, reference string) (*checkout.Result, error)
}

// Config holds non-dependency settings.
type Config struct {
	// ImageBaseURL is prepended to relative product image paths.
	ImageBaseURL string
	// APIKeyPepper is the HMAC key API keys are hashed with.
	APIKeyPepper []byte
	// Debug exposes internal error details in responses.
	Debug bool
}

// Deps are the collaborators the handlers delegate to. Settler is optional
// and enables POST /dev/mobile/settle.
type Deps struct {
	Products    product.Repository
	Carts       cart.Store
	Coupons     *coupon.Ledger
	Orders      order.Repository
	Initiator   Initiator
	Reconciler  Reconciler
	CardWebhook CardWebhook
	APIKeys     auth.Repository
	Tokens      *auth.Tokens
	Settler     MobileSettler
}

// Handler implements every storefront HTTP endpoint.
type Handler struct {
	Deps
	cfg Config
}

func NewHandler(cfg Config, deps Deps) *Handler {
	return &Handler{Deps: deps, cfg: cfg}
}

// Router builds the chi router. Middlewares in inner run after routing, so
// they can see the matched route pattern.
func (h *Handler) Router(inner ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(inner...)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/products", h.ListProducts)
	r.Get("/products/{id}", h.GetProduct)

	r.Group(func(r chi.Router) {
		r.Use(h.Authenticate)

		r.Get("/cart", h.GetCart)
		r.Put("/cart", h.PutCart)
		r.Get("/coupons", h.GetCoupon)
		r.Get("/orders", h.ListOrders)

		r.Post("/checkout/card/session", h.CreateCardSession)
		r.Post("/checkout/card/confirm", h.ConfirmCard)
		r.Post("/checkout/mobile/initiate", h.InitiateMobile)
		r.Post("/checkout/mobile/confirm", h.ConfirmMobile)
	})

	r.Post("/webhooks/card", h.CardWebhookEvent)
	r.With(h.RequireAPIKey(auth.ScopeMobileWebhook)).Post("/webhooks/mobile", h.MobileWebhookEvent)

	if h.Settler != nil {
		r.With(h.RequireAPIKey(auth.ScopeMobileSimulate)).Post("/dev/mobile/settle", h.SettleMobile)
	}
	return r
}

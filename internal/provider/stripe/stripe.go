// Package stripe adapts the Stripe API to the card payment rail.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	goerrors "github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/pricing"
)

// ErrIgnoredEvent is returned by ParseWebhook for event types other than a
// completed checkout session.
var ErrIgnoredEvent = goerrors.New("ignored webhook event")

// Provider implements checkout.CardProvider over an injected Stripe client.
type Provider struct {
	api     *client.API
	breaker *gobreaker.CircuitBreaker[any]
	secret  string
}

var _ checkout.CardProvider = (*Provider)(nil)

// New wraps api. webhookSecret verifies incoming event signatures.
func New(api *client.API, webhookSecret string) *Provider {
	return &Provider{
		api:     api,
		breaker: newBreaker("stripe"),
		secret:  webhookSecret,
	}
}

// NewClient creates a Stripe API client for key. A non-empty baseURL points
// the API backend elsewhere (a mock server in development).
func NewClient(key, baseURL string, httpClient *http.Client) *client.API {
	cfg := &stripego.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripego.Int64(0),
		LeveledLogger:     &stripego.LeveledLogger{Level: stripego.LevelError},
	}
	if baseURL != "" {
		cfg.URL = stripego.String(baseURL)
	}
	backend := stripego.GetBackendWithConfig(stripego.APIBackend, cfg)

	api := &client.API{}
	api.Init(key, &stripego.Backends{API: backend, Connect: backend, Uploads: backend})
	return api
}

func newBreaker(name string) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		// Caller mistakes must not open the circuit.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, apperr.ErrProviderRejected)
		},
	})
}

// CreateDiscount creates a single-use percentage coupon.
func (p *Provider) CreateDiscount(ctx context.Context, percentage decimal.Decimal) (string, error) {
	params := &stripego.CouponParams{
		PercentOff: stripego.Float64(percentage.InexactFloat64()),
		Duration:   stripego.String(string(stripego.CouponDurationOnce)),
	}
	params.Context = ctx

	c, err := execute(p.breaker, func() (*stripego.Coupon, error) {
		return p.api.Coupons.New(params)
	})
	if err != nil {
		return "", goerrors.Wrap(err, "create coupon")
	}
	return c.ID, nil
}

// CreateSession creates a hosted payment-mode checkout session.
func (p *Provider) CreateSession(ctx context.Context, req checkout.CardSessionRequest) (*checkout.CardSession, error) {
	params := &stripego.CheckoutSessionParams{
		Mode:               stripego.String(string(stripego.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripego.StringSlice([]string{"card"}),
		SuccessURL:         stripego.String(req.SuccessURL),
		CancelURL:          stripego.String(req.CancelURL),
		Metadata:           req.Metadata,
	}
	for _, l := range req.Lines {
		product := &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripego.String(l.Name),
		}
		if l.ImageRef != "" {
			product.Images = stripego.StringSlice([]string{l.ImageRef})
		}
		params.LineItems = append(params.LineItems, &stripego.CheckoutSessionLineItemParams{
			PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripego.String(req.Currency),
				ProductData: product,
				UnitAmount:  stripego.Int64(int64(l.UnitAmount)),
			},
			Quantity: stripego.Int64(int64(l.Quantity)),
		})
	}
	if req.DiscountID != "" {
		params.Discounts = []*stripego.CheckoutSessionDiscountParams{
			{Coupon: stripego.String(req.DiscountID)},
		}
	}
	params.Context = ctx

	s, err := execute(p.breaker, func() (*stripego.CheckoutSession, error) {
		return p.api.CheckoutSessions.New(params)
	})
	if err != nil {
		return nil, goerrors.Wrap(err, "create checkout session")
	}
	return toSession(s), nil
}

// RetrieveSession fetches a checkout session by id.
func (p *Provider) RetrieveSession(ctx context.Context, id string) (*checkout.CardSession, error) {
	params := &stripego.CheckoutSessionParams{}
	params.Context = ctx

	s, err := execute(p.breaker, func() (*stripego.CheckoutSession, error) {
		return p.api.CheckoutSessions.Get(id, params)
	})
	if err != nil {
		return nil, goerrors.Wrapf(err, "retrieve checkout session %s", id)
	}
	return toSession(s), nil
}

// ParseWebhook verifies the Stripe-Signature header and returns the id of the
// completed checkout session. Other event types yield ErrIgnoredEvent.
func (p *Provider) ParseWebhook(payload []byte, signature string) (string, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return "", apperr.Invalid("signature", "invalid webhook signature")
	}
	if ev.Type != stripego.EventTypeCheckoutSessionCompleted {
		return "", ErrIgnoredEvent
	}

	var s stripego.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
		return "", apperr.Invalid("data", "malformed checkout session")
	}
	if s.ID == "" {
		return "", apperr.Invalid("data", "checkout session id missing")
	}
	return s.ID, nil
}

func toSession(s *stripego.CheckoutSession) *checkout.CardSession {
	return &checkout.CardSession{
		ID:          s.ID,
		URL:         s.URL,
		Paid:        s.PaymentStatus == stripego.CheckoutSessionPaymentStatusPaid,
		AmountTotal: pricing.Amount(s.AmountTotal),
		Metadata:    s.Metadata,
	}
}

func execute[T any](cb *gobreaker.CircuitBreaker[any], fn func() (T, error)) (T, error) {
	v, err := cb.Execute(func() (any, error) {
		v, err := fn()
		if err != nil {
			return nil, classify(err)
		}
		return v, nil
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, goerrors.Wrap(apperr.ErrProviderFault, err.Error())
		}
		return zero, err
	}
	return v.(T), nil
}

// classify maps Stripe failures onto the checkout error taxonomy.
func classify(err error) error {
	var se *stripego.Error
	if !errors.As(err, &se) {
		// Transport failure: DNS, connection reset, context deadline.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		return goerrors.Wrap(apperr.ErrProviderFault, err.Error())
	}

	switch {
	case se.HTTPStatusCode == http.StatusTooManyRequests || se.Code == stripego.ErrorCodeRateLimit:
		return goerrors.Wrap(apperr.ErrProviderRateLimited, se.Msg)
	case se.Type == stripego.ErrorTypeCard || se.Type == stripego.ErrorTypeInvalidRequest:
		return goerrors.Wrap(apperr.ErrProviderRejected, se.Msg)
	default:
		return goerrors.Wrap(apperr.ErrProviderFault, se.Msg)
	}
}

// Package checkout turns a cart into a priced payment request on one of two
// rails (card or mobile money) and reconciles completed payments into exactly
// one order per provider reference.
//
// The Initiator owns the first half of the flow: validation, catalog
// re-pricing, coupon application and provider session or reference creation.
// The Reconciler owns the second half and is the only component that creates
// orders. Every reconciliation is safe to retry: the order store rejects a
// second order with the same provider reference and the Reconciler reports
// that as "already processed".
package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/events"
)

// CardLine is a provider-native price/quantity tuple.
type CardLine struct {
	Name       string
	UnitAmount pricing.Amount
	Quantity   int
	ImageRef   string
}

// CardSessionRequest describes a hosted card checkout session.
type CardSessionRequest struct {
	Lines      []CardLine
	Currency   string
	DiscountID string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// CardSession is the provider's view of a checkout session.
type CardSession struct {
	ID          string
	URL         string
	Paid        bool
	AmountTotal pricing.Amount
	Metadata    map[string]string
}

// CardProvider is the card payment processor.
type CardProvider interface {
	// CreateDiscount creates a one-time percentage discount and returns its id.
	CreateDiscount(ctx context.Context, percentage decimal.Decimal) (string, error)
	CreateSession(ctx context.Context, req CardSessionRequest) (*CardSession, error)
	RetrieveSession(ctx context.Context, id string) (*CardSession, error)
}

// MobileStatus is the settlement state of a mobile-money payment.
type MobileStatus string

const (
	MobilePaid    MobileStatus = "paid"
	MobilePending MobileStatus = "pending"
	MobileFailed  MobileStatus = "failed"
)

// MobileVerification is the provider's answer for a payment reference.
type MobileVerification struct {
	Status     MobileStatus
	Amount     pricing.Amount
	PayerPhone string
}

// MobileMoneyProvider verifies mobile-money payments by reference.
type MobileMoneyProvider interface {
	Verify(ctx context.Context, reference string) (*MobileVerification, error)
}

var (
	// ErrPendingNotFound is returned by a PendingStore for unknown references.
	ErrPendingNotFound = errors.New("pending payment not found")
	// ErrPendingExists is returned by a PendingStore when the reference is taken.
	ErrPendingExists = errors.New("pending payment already exists")
)

// PendingPayment is the server-held record of an initiated mobile-money
// payment. It is the only data a mobile reconciliation trusts.
type PendingPayment struct {
	Reference   string
	OwnerUserID string
	Total       pricing.Amount
	Lines       []order.Line
	CouponCode  string
	Phone       string
	CreatedAt   time.Time
}

// PendingStore persists pending mobile-money payments.
type PendingStore interface {
	Create(ctx context.Context, p *PendingPayment) error
	Get(ctx context.Context, reference string) (*PendingPayment, error)
	Delete(ctx context.Context, reference string) error
}

// Config holds the checkout policy knobs.
type Config struct {
	// Currency is the ISO code sent to the card provider.
	Currency string
	// ClientOrigin is the storefront origin used for card callback URLs.
	ClientOrigin string
	// MerchantPhone is shown in mobile-money dial instructions.
	MerchantPhone string
	// RewardThreshold is the order total at or above which a reward coupon
	// is issued. Zero disables rewards.
	RewardThreshold pricing.Amount
	// ProviderTimeout bounds every payment provider call.
	ProviderTimeout time.Duration
	// StoreTimeout bounds every storage call.
	StoreTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Currency == "" {
		c.Currency = "usd"
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 10 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 3 * time.Second
	}
	return c
}

// Deps are the collaborators shared by the Initiator and the Reconciler.
type Deps struct {
	Products   product.Repository
	Coupons    *coupon.Ledger
	Orders     order.Repository
	Pending    PendingStore
	Carts      cart.Store
	Card       CardProvider
	Mobile     MobileMoneyProvider
	Events     events.Publisher
	Signer     *Signer
	References *ReferenceGenerator

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

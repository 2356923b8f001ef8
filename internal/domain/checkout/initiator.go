package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
)

const (
	phoneDigits        = 10
	pendingCreateTries = 3
)

// CardStart is returned to the client after a card session is created.
type CardStart struct {
	SessionID string
	URL       string
	Total     pricing.Amount
}

// MobileStart is returned to the client after a mobile payment is initiated.
type MobileStart struct {
	Reference    string
	Total        pricing.Amount
	Phone        string
	Instructions string
}

// Initiator creates provider-side payment requests from a client cart.
type Initiator struct {
	products product.Repository
	coupons  *coupon.Ledger
	card     CardProvider
	pending  PendingStore
	refs     *ReferenceGenerator
	signer   *Signer
	cfg      Config
	now      func() time.Time
	tel      *telemetry
}

// NewInitiator creates an Initiator.
func NewInitiator(d Deps, cfg Config) (*Initiator, error) {
	tel, err := newTelemetry(d.TracerProvider, d.MeterProvider)
	if err != nil {
		return nil, errors.Wrap(err, "init telemetry")
	}
	refs := d.References
	if refs == nil {
		refs = NewReferenceGenerator("TEL", 0)
	}
	return &Initiator{
		products: d.Products,
		coupons:  d.Coupons,
		card:     d.Card,
		pending:  d.Pending,
		refs:     refs,
		signer:   d.Signer,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		tel:      tel,
	}, nil
}

// priced is a validated cart re-priced against the catalog.
type priced struct {
	lines  []pricing.LineItem
	quote  pricing.Quote
	coupon *coupon.Coupon
}

func (p *priced) couponCode() string {
	if p.coupon == nil {
		return ""
	}
	return p.coupon.Code
}

func (p *priced) orderLines() []order.Line {
	out := make([]order.Line, len(p.lines))
	for i, l := range p.lines {
		out[i] = order.Line{ProductID: l.ProductID, Quantity: l.Quantity, Price: l.UnitPrice}
	}
	return out
}

// StartCard creates a hosted card checkout session for the owner's cart.
func (i *Initiator) StartCard(ctx context.Context, owner string, items []cart.Item, couponCode string) (_ *CardStart, rerr error) {
	ctx, span := i.tel.tracer.Start(ctx, "checkout.StartCard",
		trace.WithAttributes(attribute.String("user.id", owner)))
	defer func() {
		i.tel.initiated(ctx, string(order.PaymentCard), rerr)
		endSpan(span, rerr)
	}()

	if owner == "" {
		return nil, apperr.ErrUnauthenticated
	}
	p, err := i.price(ctx, owner, items, couponCode)
	if err != nil {
		return nil, err
	}

	origin := strings.TrimRight(i.cfg.ClientOrigin, "/")
	req := CardSessionRequest{
		Currency:   i.cfg.Currency,
		SuccessURL: origin + "/purchase-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  origin + "/purchase-cancel",
		Lines:      make([]CardLine, len(p.lines)),
	}
	for idx, l := range p.lines {
		req.Lines[idx] = CardLine{
			Name:       l.Name,
			UnitAmount: l.UnitPrice,
			Quantity:   l.Quantity,
			ImageRef:   l.ImageRef,
		}
	}

	meta, err := i.signer.Seal(Snapshot{
		OwnerUserID: owner,
		CouponCode:  p.couponCode(),
		Total:       p.quote.Total,
		Lines:       p.orderLines(),
	})
	if err != nil {
		return nil, apperr.Invalid("items", "cart is too large for card checkout")
	}
	req.Metadata = meta

	if p.coupon != nil {
		id, err := bounded(ctx, i.cfg.ProviderTimeout, "create discount", func(ctx context.Context) (string, error) {
			return i.card.CreateDiscount(ctx, p.quote.Percentage)
		})
		if err != nil {
			return nil, err
		}
		req.DiscountID = id
	}

	s, err := bounded(ctx, i.cfg.ProviderTimeout, "create card session", func(ctx context.Context) (*CardSession, error) {
		return i.card.CreateSession(ctx, req)
	})
	if err != nil {
		zctx.From(ctx).Error("Card session creation failed",
			zap.String("user_id", owner),
			zap.String("rail", string(order.PaymentCard)),
			zap.Error(err),
		)
		return nil, err
	}

	span.SetAttributes(attribute.String("checkout.reference", s.ID))
	span.AddEvent(string(StateInitiated))
	return &CardStart{SessionID: s.ID, URL: s.URL, Total: p.quote.Total}, nil
}

// StartMobile prices the cart, allocates a payment reference and records the
// pending payment the Reconciler will later trust.
func (i *Initiator) StartMobile(ctx context.Context, owner string, items []cart.Item, couponCode, phone string) (_ *MobileStart, rerr error) {
	ctx, span := i.tel.tracer.Start(ctx, "checkout.StartMobile",
		trace.WithAttributes(attribute.String("user.id", owner)))
	defer func() {
		i.tel.initiated(ctx, string(order.PaymentMobileMoney), rerr)
		endSpan(span, rerr)
	}()

	if owner == "" {
		return nil, apperr.ErrUnauthenticated
	}
	phone = strings.TrimSpace(phone)
	if !validPhone(phone) {
		return nil, apperr.Invalid("phoneNumber", fmt.Sprintf("must be exactly %d digits", phoneDigits))
	}
	p, err := i.price(ctx, owner, items, couponCode)
	if err != nil {
		return nil, err
	}

	pending := &PendingPayment{
		OwnerUserID: owner,
		Total:       p.quote.Total,
		Lines:       p.orderLines(),
		CouponCode:  p.couponCode(),
		Phone:       phone,
		CreatedAt:   i.now().UTC(),
	}
	for attempt := 1; ; attempt++ {
		ref, err := i.refs.Next()
		if err != nil {
			return nil, err
		}
		pending.Reference = ref

		err = boundedErr(ctx, i.cfg.StoreTimeout, "store pending payment", func(ctx context.Context) error {
			return i.pending.Create(ctx, pending)
		})
		if err == nil {
			break
		}
		if errors.Is(err, ErrPendingExists) && attempt < pendingCreateTries {
			continue
		}
		zctx.From(ctx).Error("Pending payment not stored",
			zap.String("user_id", owner),
			zap.String("rail", string(order.PaymentMobileMoney)),
			zap.String("reference", ref),
			zap.Error(err),
		)
		return nil, err
	}

	span.SetAttributes(attribute.String("checkout.reference", pending.Reference))
	span.AddEvent(string(StateInitiated))
	return &MobileStart{
		Reference: pending.Reference,
		Total:     p.quote.Total,
		Phone:     phone,
		Instructions: fmt.Sprintf(
			"Dial *847# on your phone, select Send Money, enter the phone number %s, amount %s, and reference %s",
			i.cfg.MerchantPhone, p.quote.Total, pending.Reference,
		),
	}, nil
}

// price validates the client cart, replaces client prices with catalog
// prices and applies the owner's coupon when it is redeemable.
func (i *Initiator) price(ctx context.Context, owner string, items []cart.Item, couponCode string) (*priced, error) {
	if err := validateItems(items); err != nil {
		return nil, err
	}

	ids := make([]string, len(items))
	for idx, it := range items {
		ids[idx] = it.ProductID
	}
	found, err := bounded(ctx, i.cfg.StoreTimeout, "load products", func(ctx context.Context) ([]product.Product, error) {
		return i.products.GetByIDs(ctx, ids)
	})
	if err != nil {
		return nil, err
	}
	catalog := product.Index(found)

	lines := make([]pricing.LineItem, len(items))
	for idx, it := range items {
		p, ok := catalog[it.ProductID]
		if !ok {
			return nil, apperr.InvalidItem(idx, it.ProductID, "product not found")
		}
		image := it.ImageRef
		if image == "" {
			image = p.ImageRef
		}
		lines[idx] = pricing.LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: pricing.FromDecimal(p.Price),
			Quantity:  it.Quantity,
			ImageRef:  image,
		}
	}

	var c *coupon.Coupon
	if code := strings.TrimSpace(couponCode); code != "" {
		c, err = bounded(ctx, i.cfg.StoreTimeout, "find coupon", func(ctx context.Context) (*coupon.Coupon, error) {
			return i.coupons.FindActive(ctx, code, owner)
		})
		if err != nil {
			return nil, err
		}
	}

	quote, err := pricing.ComputeTotal(lines, c, i.now())
	if err != nil {
		return nil, err
	}
	if quote.Percentage.IsZero() {
		// Nothing was discounted, so there is nothing to redeem.
		c = nil
	}
	return &priced{lines: lines, quote: quote, coupon: c}, nil
}

// validateItems reports the first malformed line in client order.
func validateItems(items []cart.Item) error {
	if len(items) == 0 {
		return apperr.Invalid("items", "at least one item is required")
	}
	if len(items) > pricing.MaxLines {
		return apperr.Invalid("items", fmt.Sprintf("at most %d lines are allowed", pricing.MaxLines))
	}
	for idx, it := range items {
		switch {
		case strings.TrimSpace(it.ProductID) == "":
			return apperr.InvalidItem(idx, "", "product id is required")
		case strings.TrimSpace(it.Name) == "":
			return apperr.InvalidItem(idx, it.ProductID, "name is required")
		case it.Price.IsNegative():
			return apperr.InvalidItem(idx, it.ProductID, "price must not be negative")
		case it.Quantity < 1:
			return apperr.InvalidItem(idx, it.ProductID, "quantity must be a positive integer")
		case it.Quantity > pricing.MaxQuantity:
			return apperr.InvalidItem(idx, it.ProductID, fmt.Sprintf("quantity must not exceed %d", pricing.MaxQuantity))
		}
	}
	return nil
}

func validPhone(s string) bool {
	if len(s) != phoneDigits {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

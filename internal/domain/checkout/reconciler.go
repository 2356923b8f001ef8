package checkout

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/events"
)

// State is the lifecycle of a single payment attempt.
type State string

const (
	StateInitiated           State = "initiated"
	StateConfirmed           State = "confirmed"
	StateMaterialized        State = "materialized"
	StateAlreadyMaterialized State = "already_materialized"
	StateFailed              State = "failed"
)

// cardAmountTolerance absorbs provider-side rounding of percentage discounts.
const cardAmountTolerance pricing.Amount = 1

// Confirmation is a client request to reconcile a payment. Exactly one of
// SessionID and PaymentReference must be set. Items, Total and CouponCode are
// the mobile-money resubmission and are only compared against the pending
// record, never trusted.
type Confirmation struct {
	SessionID        string
	PaymentReference string
	Items            []cart.Item
	Total            decimal.Decimal
	CouponCode       string
}

// Result is the terminal outcome of a successful reconciliation.
type Result struct {
	OrderID string
	State   State
	// CartCleared is false when the order was recorded but the cart could
	// not be emptied.
	CartCleared bool
	// Reward is the coupon issued for this order, if any.
	Reward *coupon.Coupon
}

// Message is a short client-facing summary of the result.
func (r *Result) Message() string {
	switch {
	case r.State == StateAlreadyMaterialized:
		return "Order already processed"
	case !r.CartCleared:
		return "Order created, but your cart could not be cleared"
	default:
		return "Order created successfully"
	}
}

// Reconciler is the only component that creates orders.
type Reconciler struct {
	coupons *coupon.Ledger
	orders  order.Repository
	pending PendingStore
	carts   cart.Store
	card    CardProvider
	mobile  MobileMoneyProvider
	events  events.Publisher
	signer  *Signer
	cfg     Config
	now     func() time.Time
	tel     *telemetry
}

// NewReconciler creates a Reconciler.
func NewReconciler(d Deps, cfg Config) (*Reconciler, error) {
	tel, err := newTelemetry(d.TracerProvider, d.MeterProvider)
	if err != nil {
		return nil, errors.Wrap(err, "init telemetry")
	}
	pub := d.Events
	if pub == nil {
		pub = events.Nop{}
	}
	return &Reconciler{
		coupons: d.Coupons,
		orders:  d.Orders,
		pending: d.Pending,
		carts:   d.Carts,
		card:    d.Card,
		mobile:  d.Mobile,
		events:  pub,
		signer:  d.Signer,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		tel:     tel,
	}, nil
}

// Reconcile confirms a payment on behalf of owner and materializes its order.
func (r *Reconciler) Reconcile(ctx context.Context, owner string, c Confirmation) (*Result, error) {
	sessionID := strings.TrimSpace(c.SessionID)
	reference := strings.TrimSpace(c.PaymentReference)
	if (sessionID == "") == (reference == "") {
		return nil, apperr.Invalid("confirmation", "exactly one of sessionId or paymentReference is required")
	}
	if owner == "" {
		return nil, apperr.ErrUnauthenticated
	}
	if sessionID != "" {
		return r.observe(ctx, order.PaymentCard, sessionID, owner, func(ctx context.Context) (*Result, error) {
			return r.confirmCard(ctx, owner, sessionID)
		})
	}
	return r.observe(ctx, order.PaymentMobileMoney, reference, owner, func(ctx context.Context) (*Result, error) {
		return r.confirmMobile(ctx, owner, reference, &c)
	})
}

// ConfirmCard reconciles a card checkout session for owner.
func (r *Reconciler) ConfirmCard(ctx context.Context, owner, sessionID string) (*Result, error) {
	return r.Reconcile(ctx, owner, Confirmation{SessionID: sessionID})
}

// ConfirmMobile reconciles a mobile-money payment for owner, checking the
// client resubmission against the pending record.
func (r *Reconciler) ConfirmMobile(ctx context.Context, owner string, c Confirmation) (*Result, error) {
	c.SessionID = ""
	if strings.TrimSpace(c.PaymentReference) == "" {
		return nil, apperr.Invalid("paymentReference", "payment reference is required")
	}
	return r.Reconcile(ctx, owner, c)
}

// ReconcileCardSession reconciles a card session reported by the provider.
// The owner is taken from the sealed session snapshot.
func (r *Reconciler) ReconcileCardSession(ctx context.Context, sessionID string) (*Result, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, apperr.Invalid("sessionId", "session id is required")
	}
	return r.observe(ctx, order.PaymentCard, sessionID, "", func(ctx context.Context) (*Result, error) {
		return r.confirmCard(ctx, "", sessionID)
	})
}

// ReconcileMobileReference reconciles a mobile-money payment reported by the
// provider. The owner and line items come from the pending record.
func (r *Reconciler) ReconcileMobileReference(ctx context.Context, reference string) (*Result, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, apperr.Invalid("paymentReference", "payment reference is required")
	}
	return r.observe(ctx, order.PaymentMobileMoney, reference, "", func(ctx context.Context) (*Result, error) {
		return r.confirmMobile(ctx, "", reference, nil)
	})
}

func (r *Reconciler) observe(
	ctx context.Context,
	rail order.PaymentMethod,
	reference, owner string,
	fn func(ctx context.Context) (*Result, error),
) (res *Result, err error) {
	ctx, span := r.tel.tracer.Start(ctx, "checkout.Reconcile", trace.WithAttributes(
		attribute.String("checkout.rail", string(rail)),
		attribute.String("checkout.reference", reference),
	))
	defer func() {
		state := StateFailed
		if err == nil {
			state = res.State
			span.SetAttributes(attribute.String("order.id", res.OrderID))
		}
		span.SetAttributes(attribute.String("checkout.state", string(state)))
		r.tel.reconciled(ctx, string(rail), state)
		endSpan(span, err)
	}()

	res, err = fn(ctx)
	if err != nil {
		lg := zctx.From(ctx).With(
			zap.String("user_id", owner),
			zap.String("rail", string(rail)),
			zap.String("reference", reference),
			zap.Error(err),
		)
		if apperr.Retryable(err) {
			lg.Error("Reconciliation failed")
		} else {
			lg.Info("Reconciliation rejected")
		}
		return nil, err
	}
	return res, nil
}

// confirmCard trusts only the provider's session: its payment status, its
// charged amount and the sealed snapshot in its metadata. An empty owner
// means the caller is the provider itself.
func (r *Reconciler) confirmCard(ctx context.Context, owner, sessionID string) (*Result, error) {
	s, err := bounded(ctx, r.cfg.ProviderTimeout, "retrieve card session", func(ctx context.Context) (*CardSession, error) {
		return r.card.RetrieveSession(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	if !s.Paid {
		return nil, errors.Wrap(apperr.ErrPaymentIncomplete, "card session")
	}
	trace.SpanFromContext(ctx).AddEvent(string(StateConfirmed))

	snap, err := r.signer.Open(s.Metadata)
	if err != nil {
		return nil, apperr.Invalid("sessionId", "session metadata failed verification")
	}
	if owner != "" && snap.OwnerUserID != owner {
		return nil, apperr.Invalid("sessionId", "session belongs to another user")
	}

	total := snap.Total
	if s.AmountTotal > 0 {
		if diff := s.AmountTotal - snap.Total; diff > cardAmountTolerance || diff < -cardAmountTolerance {
			return nil, apperr.Invalid("sessionId", "charged amount does not match checkout total")
		}
		total = s.AmountTotal
	}

	return r.materialize(ctx, draft{
		owner:      snap.OwnerUserID,
		method:     order.PaymentCard,
		reference:  s.ID,
		lines:      snap.Lines,
		total:      total,
		couponCode: snap.CouponCode,
	})
}

// confirmMobile trusts only the pending record and the provider's
// verification. resubmission is nil for provider-initiated reconciliation.
func (r *Reconciler) confirmMobile(ctx context.Context, owner, reference string, resubmission *Confirmation) (*Result, error) {
	p, err := bounded(ctx, r.cfg.StoreTimeout, "load pending payment", func(ctx context.Context) (*PendingPayment, error) {
		return r.pending.Get(ctx, reference)
	})
	if errors.Is(err, ErrPendingNotFound) {
		// Materialized payments no longer have a pending record.
		existing, err := r.existing(ctx, reference)
		if err != nil {
			return nil, err
		}
		if existing == nil || (owner != "" && existing.OwnerUserID != owner) {
			return nil, apperr.Invalid("paymentReference", "unknown payment reference")
		}
		return alreadyMaterialized(existing), nil
	}
	if err != nil {
		return nil, err
	}
	if owner != "" && p.OwnerUserID != owner {
		return nil, apperr.Invalid("paymentReference", "unknown payment reference")
	}
	if resubmission != nil {
		if err := matchPending(p, resubmission); err != nil {
			return nil, err
		}
	}

	v, err := bounded(ctx, r.cfg.ProviderTimeout, "verify mobile payment", func(ctx context.Context) (*MobileVerification, error) {
		return r.mobile.Verify(ctx, reference)
	})
	if err != nil {
		return nil, err
	}
	switch v.Status {
	case MobilePaid:
	case MobileFailed:
		return nil, errors.Wrap(apperr.ErrPaymentIncomplete, "mobile payment failed")
	default:
		return nil, errors.Wrap(apperr.ErrPaymentIncomplete, "mobile payment pending")
	}
	if v.Amount != p.Total {
		return nil, apperr.Invalid("paymentReference", "amount paid does not match order total")
	}
	trace.SpanFromContext(ctx).AddEvent(string(StateConfirmed))

	return r.materialize(ctx, draft{
		owner:      p.OwnerUserID,
		method:     order.PaymentMobileMoney,
		reference:  p.Reference,
		lines:      p.Lines,
		total:      p.Total,
		couponCode: p.CouponCode,
	})
}

// matchPending rejects a client resubmission that differs from what was
// initiated.
func matchPending(p *PendingPayment, c *Confirmation) error {
	if pricing.FromDecimal(c.Total) != p.Total {
		return apperr.Invalid("totalAmount", "does not match the initiated payment")
	}
	if p.CouponCode != "" && strings.TrimSpace(c.CouponCode) != p.CouponCode {
		return apperr.Invalid("couponCode", "does not match the initiated payment")
	}

	want := make(map[string]int, len(p.Lines))
	for _, l := range p.Lines {
		want[l.ProductID] += l.Quantity
	}
	got := make(map[string]int, len(c.Items))
	for _, it := range c.Items {
		got[it.ProductID] += it.Quantity
	}
	if len(got) != len(want) {
		return apperr.Invalid("items", "do not match the initiated payment")
	}
	for id, q := range want {
		if got[id] != q {
			return apperr.Invalid("items", "do not match the initiated payment")
		}
	}
	return nil
}

type draft struct {
	owner      string
	method     order.PaymentMethod
	reference  string
	lines      []order.Line
	total      pricing.Amount
	couponCode string
}

// materialize records the sale exactly once. Secondary effects (coupon
// retirement, cart clearing, reward issuance, events) never fail a recorded
// sale.
func (r *Reconciler) materialize(ctx context.Context, d draft) (*Result, error) {
	lg := zctx.From(ctx).With(
		zap.String("user_id", d.owner),
		zap.String("rail", string(d.method)),
		zap.String("reference", d.reference),
	)

	existing, err := r.existing(ctx, d.reference)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return alreadyMaterialized(existing), nil
	}

	if d.couponCode != "" {
		if err := boundedErr(ctx, r.cfg.StoreTimeout, "deactivate coupon", func(ctx context.Context) error {
			return r.coupons.Deactivate(ctx, d.couponCode, d.owner)
		}); err != nil {
			lg.Error("Coupon deactivation failed", zap.String("coupon", d.couponCode), zap.Error(err))
		}
	}

	o := &order.Order{
		ID:                uuid.NewString(),
		OwnerUserID:       d.owner,
		Items:             d.lines,
		Total:             d.total,
		CouponCode:        d.couponCode,
		PaymentMethod:     d.method,
		ProviderReference: d.reference,
		CreatedAt:         r.now().UTC(),
	}
	err = boundedErr(ctx, r.cfg.StoreTimeout, "create order", func(ctx context.Context) error {
		return r.orders.Create(ctx, o)
	})
	if errors.Is(err, order.ErrDuplicateReference) {
		// Lost the race to a concurrent reconciliation of the same payment.
		existing, err := r.existing(ctx, d.reference)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, apperr.Transient("create order", errors.New("duplicate reference without order"))
		}
		lg.Info("Concurrent reconciliation already recorded order", zap.String("order_id", existing.ID))
		return alreadyMaterialized(existing), nil
	}
	if err != nil {
		return nil, err
	}
	lg = lg.With(zap.String("order_id", o.ID))
	lg.Info("Order materialized", zap.Stringer("total", o.Total))

	res := &Result{OrderID: o.ID, State: StateMaterialized, CartCleared: true}

	if err := boundedErr(ctx, r.cfg.StoreTimeout, "clear cart", func(ctx context.Context) error {
		return r.carts.Clear(ctx, d.owner)
	}); err != nil {
		lg.Warn("Cart not cleared", zap.Error(err))
		res.CartCleared = false
	}

	if r.cfg.RewardThreshold > 0 && o.Total >= r.cfg.RewardThreshold {
		reward, err := bounded(ctx, r.cfg.StoreTimeout, "issue reward", func(ctx context.Context) (*coupon.Coupon, error) {
			return r.coupons.IssueReward(ctx, d.owner)
		})
		if err != nil {
			lg.Error("Reward coupon not issued", zap.Error(err))
		} else {
			res.Reward = reward
		}
	}

	if d.method == order.PaymentMobileMoney {
		if err := boundedErr(ctx, r.cfg.StoreTimeout, "delete pending payment", func(ctx context.Context) error {
			return r.pending.Delete(ctx, d.reference)
		}); err != nil {
			lg.Warn("Pending payment not deleted", zap.Error(err))
		}
	}

	evs := []events.Event{events.OrderMaterialized(o)}
	if res.Reward != nil {
		evs = append(evs, events.CouponRewarded(res.Reward, o.CreatedAt))
	}
	if err := boundedErr(ctx, r.cfg.StoreTimeout, "publish events", func(ctx context.Context) error {
		return r.events.Publish(ctx, evs...)
	}); err != nil {
		lg.Warn("Order events not published", zap.Error(err))
	}

	return res, nil
}

func (r *Reconciler) existing(ctx context.Context, reference string) (*order.Order, error) {
	o, err := bounded(ctx, r.cfg.StoreTimeout, "find order", func(ctx context.Context) (*order.Order, error) {
		return r.orders.GetByProviderReference(ctx, reference)
	})
	if errors.Is(err, order.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func alreadyMaterialized(o *order.Order) *Result {
	return &Result{OrderID: o.ID, State: StateAlreadyMaterialized, CartCleared: true}
}

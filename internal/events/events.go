// Package events publishes domain events about completed checkouts.
package events

import (
	"context"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
)

// Event types.
const (
	TypeOrderMaterialized = "order.materialized"
	TypeCouponRewarded    = "coupon.rewarded"
)

// Event is a keyed, JSON-encoded domain event. Events with the same Key are
// delivered in order.
type Event struct {
	Type    string
	Key     string
	Payload []byte
	Time    time.Time
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }

// OrderMaterialized describes a newly created order.
func OrderMaterialized(o *order.Order) Event {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("orderId", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("userId", func(e *jx.Encoder) { e.Str(o.OwnerUserID) })
		e.Field("paymentMethod", func(e *jx.Encoder) { e.Str(string(o.PaymentMethod)) })
		e.Field("providerReference", func(e *jx.Encoder) { e.Str(o.ProviderReference) })
		e.Field("totalAmount", func(e *jx.Encoder) { e.Str(o.Total.String()) })
		if o.CouponCode != "" {
			e.Field("couponCode", func(e *jx.Encoder) { e.Str(o.CouponCode) })
		}
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Str(l.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("price", func(e *jx.Encoder) { e.Str(l.Price.String()) })
					})
				}
			})
		})
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano)) })
	})
	return Event{
		Type:    TypeOrderMaterialized,
		Key:     o.OwnerUserID,
		Payload: e.Bytes(),
		Time:    o.CreatedAt,
	}
}

// CouponRewarded describes a reward coupon granted to a user.
func CouponRewarded(c *coupon.Coupon, at time.Time) Event {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("userId", func(e *jx.Encoder) { e.Str(c.OwnerUserID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
		e.Field("discountPercentage", func(e *jx.Encoder) { e.Str(c.DiscountPercentage.String()) })
		e.Field("expiresAt", func(e *jx.Encoder) { e.Str(c.ExpiresAt.UTC().Format(time.RFC3339)) })
	})
	return Event{
		Type:    TypeCouponRewarded,
		Key:     c.OwnerUserID,
		Payload: e.Bytes(),
		Time:    at,
	}
}

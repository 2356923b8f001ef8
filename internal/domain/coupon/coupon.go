// Package coupon implements the per-user discount coupon ledger: lookup of
// redeemable coupons, idempotent retirement, and reward issuance.
package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by repositories when no coupon matches the
// (code, owner) pair.
var ErrNotFound = errors.New("coupon not found")

// Coupon is a percentage discount owned by exactly one user. Codes are only
// unique per owner, so every lookup is scoped by OwnerUserID.
type Coupon struct {
	Code               string
	OwnerUserID        string
	DiscountPercentage decimal.Decimal
	ExpiresAt          time.Time
	Active             bool
}

// ValidAt reports whether the coupon can be redeemed at the given instant.
// A nil coupon is never valid.
func (c *Coupon) ValidAt(now time.Time) bool {
	return c != nil && c.Active && c.ExpiresAt.After(now)
}

// Repository provides durable storage of coupons.
type Repository interface {
	// FindByCode returns the coupon with the given code owned by owner, in
	// any state. Returns ErrNotFound when absent.
	FindByCode(ctx context.Context, code, owner string) (*Coupon, error)
	// Deactivate marks the coupon inactive. Missing or already inactive
	// coupons are not an error.
	Deactivate(ctx context.Context, code, owner string) error
	// ReplaceForOwner atomically deletes every coupon owned by c.OwnerUserID
	// and stores c.
	ReplaceForOwner(ctx context.Context, c *Coupon) error
	// GetByOwner returns the user's current coupon. Returns ErrNotFound when
	// the user holds none.
	GetByOwner(ctx context.Context, owner string) (*Coupon, error)
}

// Package order defines the durable record of a completed sale.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/pricing"
)

var (
	// ErrNotFound is returned when no order matches the lookup.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateReference is returned by Create when an order with the same
	// provider reference already exists.
	ErrDuplicateReference = errors.New("order already exists for provider reference")
)

// PaymentMethod identifies the payment rail an order was settled on.
type PaymentMethod string

const (
	PaymentCard        PaymentMethod = "card"
	PaymentMobileMoney PaymentMethod = "mobile-money"
)

// Line is an immutable snapshot of a purchased product at checkout time.
type Line struct {
	ProductID string         `json:"productId"`
	Quantity  int            `json:"quantity"`
	Price     pricing.Amount `json:"price"`
}

// Order is created exactly once per ProviderReference and never mutated.
type Order struct {
	ID                string
	OwnerUserID       string
	Items             []Line
	Total             pricing.Amount
	CouponCode        string
	PaymentMethod     PaymentMethod
	ProviderReference string
	CreatedAt         time.Time
}

// Repository persists orders. Implementations must enforce uniqueness of
// ProviderReference and report violations as ErrDuplicateReference.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByProviderReference(ctx context.Context, ref string) (*Order, error)
	GetByID(ctx context.Context, id string) (*Order, error)
	ListByOwner(ctx context.Context, owner string, limit int) ([]Order, error)
}

// Package pricing computes order totals in integer minor currency units.
package pricing

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/coupon"
)

var hundred = decimal.NewFromInt(100)

// Order size limits. Larger carts are rejected before any arithmetic.
const (
	MaxLines    = 100
	MaxQuantity = 1000
)

// Amount is a monetary value in minor currency units (cents).
type Amount int64

// FromDecimal converts a major-unit decimal to minor units, rounding half
// away from zero at the cent.
func FromDecimal(d decimal.Decimal) Amount {
	return Amount(d.Shift(2).Round(0).IntPart())
}

// Decimal returns the amount in major units with two decimal places.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

// LineItem is a priced cart line.
type LineItem struct {
	ProductID string
	Name      string
	UnitPrice Amount
	Quantity  int
	ImageRef  string
}

// Quote is the result of pricing a set of line items.
type Quote struct {
	Subtotal Amount
	Discount Amount
	Total    Amount
	// Percentage is the discount that was applied, zero when none.
	Percentage decimal.Decimal
}

// Validate checks every line and reports the first offending item.
func Validate(items []LineItem) error {
	if len(items) == 0 {
		return apperr.Invalid("items", "at least one item is required")
	}
	if len(items) > MaxLines {
		return apperr.Invalid("items", fmt.Sprintf("at most %d lines are allowed", MaxLines))
	}
	for i, it := range items {
		if strings.TrimSpace(it.ProductID) == "" {
			return apperr.InvalidItem(i, "", "product id is required")
		}
		if it.Quantity < 1 {
			return apperr.InvalidItem(i, it.ProductID, "quantity must be a positive integer")
		}
		if it.Quantity > MaxQuantity {
			return apperr.InvalidItem(i, it.ProductID, fmt.Sprintf("quantity must not exceed %d", MaxQuantity))
		}
		if it.UnitPrice < 0 {
			return apperr.InvalidItem(i, it.ProductID, "price must not be negative")
		}
	}
	return nil
}

// ComputeTotal sums unitPrice*quantity over items and subtracts the coupon
// discount when the coupon is valid at now. An invalid or nil coupon prices
// identically to no coupon. Totals that are not strictly positive are
// rejected.
func ComputeTotal(items []LineItem, c *coupon.Coupon, now time.Time) (Quote, error) {
	if err := Validate(items); err != nil {
		return Quote{}, err
	}

	var q Quote
	for i, it := range items {
		line, ok := mulAmount(it.UnitPrice, it.Quantity)
		if !ok {
			return Quote{}, apperr.InvalidItem(i, it.ProductID, "line total is too large")
		}
		if q.Subtotal > math.MaxInt64-line {
			return Quote{}, apperr.Invalid("total", "order total is too large")
		}
		q.Subtotal += line
	}

	if c.ValidAt(now) && c.DiscountPercentage.IsPositive() {
		pct := decimal.Min(c.DiscountPercentage, hundred)
		q.Discount = Amount(decimal.NewFromInt(int64(q.Subtotal)).
			Mul(pct).
			Div(hundred).
			Round(0).
			IntPart())
		q.Percentage = pct
	}

	q.Total = q.Subtotal - q.Discount
	if q.Total <= 0 {
		return Quote{}, apperr.Invalid("total", "order total must be greater than zero")
	}
	return q, nil
}

// mulAmount returns price*qty for non-negative operands, reporting false on
// int64 overflow.
func mulAmount(price Amount, qty int) (Amount, bool) {
	if price == 0 || qty == 0 {
		return 0, true
	}
	if int64(qty) > math.MaxInt64/int64(price) {
		return 0, false
	}
	return price * Amount(qty), true
}

// Package cart holds a user's pending, not yet purchased items.
package cart

import (
	"context"

	"github.com/shopspring/decimal"
)

// Item is a single cart line as the client sees it.
type Item struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	ImageRef  string          `json:"image,omitempty"`
}

// Store keeps one cart per user. Get on a user without a cart returns an
// empty slice and no error.
type Store interface {
	Get(ctx context.Context, userID string) ([]Item, error)
	Save(ctx context.Context, userID string, items []Item) error
	Clear(ctx context.Context, userID string) error
}

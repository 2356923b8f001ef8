// Package redis keeps shopping carts in Redis, one JSON document per user.
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/storefront/internal/domain/cart"
)

const defaultTTL = 7 * 24 * time.Hour

var _ cart.Store = (*CartStore)(nil)

// CartStore implements cart.Store. Every Save refreshes the TTL so abandoned
// carts eventually expire.
type CartStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewCartStore(client redis.UniversalClient, ttl time.Duration) *CartStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &CartStore{client: client, ttl: ttl}
}

func (s *CartStore) Get(ctx context.Context, userID string) ([]cart.Item, error) {
	data, err := s.client.Get(ctx, cartKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []cart.Item{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}

	var items []cart.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, errors.Wrap(err, "decode cart")
	}
	if items == nil {
		items = []cart.Item{}
	}
	return items, nil
}

// Save replaces the whole cart. An empty cart deletes the key.
func (s *CartStore) Save(ctx context.Context, userID string, items []cart.Item) error {
	if len(items) == 0 {
		return s.Clear(ctx, userID)
	}
	data, err := json.Marshal(items)
	if err != nil {
		return errors.Wrap(err, "encode cart")
	}
	if err := s.client.Set(ctx, cartKey(userID), data, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "save cart")
	}
	return nil
}

func (s *CartStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, cartKey(userID)).Err(); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (s *CartStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func cartKey(userID string) string {
	return "cart:" + userID
}

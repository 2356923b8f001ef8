// Package auth resolves who is calling: end users through signed bearer
// tokens, and machine callers (provider webhooks) through peppered API keys.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// ErrKeyNotFound is returned when no active API key matches a hash.
var ErrKeyNotFound = errors.New("api key not found")

// ScopeMobileWebhook allows a caller to push mobile-money payment
// notifications.
const ScopeMobileWebhook = "webhooks:mobile"

// ScopeMobileSimulate allows a caller to settle payments on the development
// mobile-money simulator.
const ScopeMobileSimulate = "dev:mobile-settle"

// APIKeyInfo holds the identity and permissions of a stored API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key was granted scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	return k != nil && slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashKey returns the hex HMAC-SHA256 of key under pepper. Only hashes are
// ever stored.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

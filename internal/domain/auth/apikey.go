// Package auth holds the API key identity attached to authenticated requests.
package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrKeyNotFound indicates no active key matches the presented hash.
var ErrKeyNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID        string
	KeyHash   string
	Name      string
	BranchRef string
	Scopes    []string
}

// Allows reports whether the key carries the given scope. A key with no
// scopes is unrestricted.
func (k *APIKeyInfo) Allows(scope string) bool {
	if len(k.Scopes) == 0 {
		return true
	}
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	// FindByHash returns ErrKeyNotFound when no active key matches.
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

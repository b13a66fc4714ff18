package auth

import (
	"errors"
	"time"
)

// Account is a product user as this service sees them. Profile data lives
// elsewhere; only what credit accounting and billing resolution need is
// kept here.
type Account struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Admin     bool      `json:"admin"`
	CreatedAt time.Time `json:"created_at"`
}

// APIToken is the stored record of an issued token. The plaintext is
// never persisted.
type APIToken struct {
	ID         string     `json:"id"`
	AccountID  string     `json:"account_id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Expired reports whether the token is past its expiry.
func (t *APIToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// ErrInvalidToken covers every authentication failure a caller sees. The
// reason (unknown, expired, revoked) is logged server-side but never
// distinguished in the response.
var ErrInvalidToken = errors.New("invalid or expired token")

// ErrAccountNotFound is returned by account lookups.
var ErrAccountNotFound = errors.New("account not found")

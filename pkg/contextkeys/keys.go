// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//   import "github.com/careerforge/creditd/pkg/contextkeys"
//   ctx = context.WithValue(ctx, contextkeys.AccountKey, acct)
//   acct := ctx.Value(contextkeys.AccountKey).(*auth.Account)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AccountKey contains *auth.Account for the authenticated caller
	// Set by: auth.Middleware (pkg/auth/middleware.go)
	// Required by: the request gate and all account-scoped endpoints
	AccountKey Key = "account"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, usage event metadata, tracing
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: Observability middleware
	// Used by: Handlers that need structured logging with request context
	LoggerKey Key = "logger"
)

// WithValue is a typed wrapper over context.WithValue using a Key
func WithValue(ctx context.Context, key Key, value any) context.Context {
	return context.WithValue(ctx, key, value)
}

// Value retrieves a value stored under a Key
func Value(ctx context.Context, key Key) any {
	return ctx.Value(key)
}

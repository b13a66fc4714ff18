package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/careerforge/creditd/pkg/contextkeys"
	"github.com/careerforge/creditd/pkg/httputil"
)

// Authenticator is the token check the middleware depends on. Store
// implements it; tests substitute a fake.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Account, error)
}

// Middleware authenticates Bearer tokens and stores the account in the
// request context.
func Middleware(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				httputil.WriteUnauthorized(w, "missing bearer token")
				return
			}
			account, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				httputil.WriteUnauthorized(w, "invalid or expired token")
				return
			}
			ctx := contextkeys.WithValue(r.Context(), contextkeys.AccountKey, account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminOnly gates operator endpoints behind the admin flag. It must run
// after Middleware.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := AccountFromContext(r.Context())
		if account == nil {
			httputil.WriteUnauthorized(w, "missing bearer token")
			return
		}
		if !account.Admin {
			httputil.WriteForbidden(w, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AccountFromContext returns the authenticated account, or nil.
func AccountFromContext(ctx context.Context) *Account {
	account, _ := contextkeys.Value(ctx, contextkeys.AccountKey).(*Account)
	return account
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

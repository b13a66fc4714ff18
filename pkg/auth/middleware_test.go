package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/careerforge/creditd/pkg/contextkeys"
)

type fakeAuthenticator struct {
	accounts map[string]*Account
}

func (f *fakeAuthenticator) Authenticate(ctx context.Context, token string) (*Account, error) {
	if account, ok := f.accounts[token]; ok {
		return account, nil
	}
	return nil, ErrInvalidToken
}

func withAccount(ctx context.Context, account *Account) context.Context {
	return contextkeys.WithValue(ctx, contextkeys.AccountKey, account)
}

func TestMiddlewareValidToken(t *testing.T) {
	authn := &fakeAuthenticator{accounts: map[string]*Account{
		"crd_valid": {ID: "acct-1", Email: "jo@example.com"},
	}}

	var seen *Account
	handler := Middleware(authn)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = AccountFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/accounts/acct-1/balance", nil)
	req.Header.Set("Authorization", "Bearer crd_valid")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, seen)
	assert.Equal(t, "acct-1", seen.ID)
}

func TestMiddlewareMissingHeader(t *testing.T) {
	handler := Middleware(&fakeAuthenticator{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareBadToken(t *testing.T) {
	handler := Middleware(&fakeAuthenticator{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer crd_wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsNonBearer(t *testing.T) {
	handler := Middleware(&fakeAuthenticator{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminOnly(t *testing.T) {
	handler := AdminOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// No account in context.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/accounts/x/sync", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Regular account.
	req := httptest.NewRequest(http.MethodPost, "/v1/accounts/x/sync", nil)
	req = req.WithContext(withAccount(req.Context(), &Account{ID: "acct-1"}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Admin account.
	req = httptest.NewRequest(http.MethodPost, "/v1/accounts/x/sync", nil)
	req = req.WithContext(withAccount(req.Context(), &Account{ID: "acct-admin", Admin: true}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

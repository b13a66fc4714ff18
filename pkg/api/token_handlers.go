package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/careerforge/creditd/pkg/auth"
	"github.com/careerforge/creditd/pkg/httputil"
	"github.com/careerforge/creditd/pkg/ledger"
)

// TokenHandlers provides account provisioning and API token endpoints
type TokenHandlers struct {
	store   *auth.Store
	credits ledger.Service
}

// NewTokenHandlers creates a new token handlers instance
func NewTokenHandlers(store *auth.Store, credits ledger.Service) *TokenHandlers {
	return &TokenHandlers{
		store:   store,
		credits: credits,
	}
}

// RegisterRoutes registers the account and token API routes
func (h *TokenHandlers) RegisterRoutes(r *mux.Router) {
	r.Handle("/admin/accounts", auth.AdminOnly(http.HandlerFunc(h.createAccount))).Methods("POST")
	r.HandleFunc("/tokens", h.createToken).Methods("POST")
	r.HandleFunc("/tokens/{id}", h.revokeToken).Methods("DELETE")
}

// createAccountRequest is the POST /v1/admin/accounts payload
type createAccountRequest struct {
	Email string `json:"email"`
	Admin bool   `json:"admin"`
}

// createAccount handles POST /v1/admin/accounts
// New accounts are provisioned with a free-tier subscription immediately so
// the first spend never races lazy provisioning.
func (h *TokenHandlers) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") {
		return
	}

	account, err := h.store.CreateAccount(r.Context(), req.Email, req.Admin)
	if err != nil {
		httputil.WriteConflict(w, err.Error())
		return
	}

	if h.credits != nil {
		if _, err := h.credits.EnsureSubscription(r.Context(), account.ID); err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
	}

	httputil.WriteCreated(w, account)
}

// createTokenRequest is the POST /v1/tokens payload
type createTokenRequest struct {
	Name      string `json:"name"`
	ExpiresIn string `json:"expires_in,omitempty"` // Go duration, e.g. "720h"
}

// createTokenResponse carries the plaintext token, returned exactly once
type createTokenResponse struct {
	Token     *auth.APIToken `json:"token"`
	Plaintext string         `json:"plaintext"`
}

// createToken handles POST /v1/tokens
func (h *TokenHandlers) createToken(w http.ResponseWriter, r *http.Request) {
	account := auth.AccountFromContext(r.Context())
	if account == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req createTokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	var expiresAt *time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			httputil.WriteBadRequest(w, "expires_in must be a positive duration")
			return
		}
		t := time.Now().Add(d)
		expiresAt = &t
	}

	token, plaintext, err := h.store.CreateToken(r.Context(), account.ID, req.Name, expiresAt)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreated(w, createTokenResponse{
		Token:     token,
		Plaintext: plaintext,
	})
}

// revokeToken handles DELETE /v1/tokens/{id}
func (h *TokenHandlers) revokeToken(w http.ResponseWriter, r *http.Request) {
	account := auth.AccountFromContext(r.Context())
	if account == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.RevokeToken(r.Context(), account.ID, id); err != nil {
		httputil.WriteNotFoundError(w, "token not found")
		return
	}

	httputil.WriteNoContent(w)
}

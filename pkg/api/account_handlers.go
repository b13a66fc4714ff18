package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/careerforge/creditd/pkg/analytics"
	"github.com/careerforge/creditd/pkg/auth"
	"github.com/careerforge/creditd/pkg/httputil"
	"github.com/careerforge/creditd/pkg/ledger"
	"github.com/careerforge/creditd/pkg/observability"
	"github.com/careerforge/creditd/pkg/plans"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// AccountHandlers provides the credit accounting API endpoints
type AccountHandlers struct {
	credits   ledger.Service
	analytics *analytics.Service
	logger    *observability.Logger
}

// NewAccountHandlers creates a new account handlers instance
func NewAccountHandlers(credits ledger.Service, analyticsService *analytics.Service, logger *observability.Logger) *AccountHandlers {
	return &AccountHandlers{
		credits:   credits,
		analytics: analyticsService,
		logger:    logger,
	}
}

// RegisterRoutes registers the account API routes
func (h *AccountHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/accounts/{id}/balance", h.getBalance).Methods("GET")
	r.HandleFunc("/accounts/{id}/usage", h.getUsage).Methods("GET")
	r.HandleFunc("/accounts/{id}/usage/daily", h.getDailyUsage).Methods("GET")
	r.Handle("/accounts/{id}/refresh", auth.AdminOnly(http.HandlerFunc(h.refresh))).Methods("POST")
	r.Handle("/accounts/{id}/plan", auth.AdminOnly(http.HandlerFunc(h.changePlan))).Methods("PUT")
}

// accountID resolves the {id} path parameter and enforces that the caller
// is either that account or an admin.
func accountID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return "", false
	}

	account := auth.AccountFromContext(r.Context())
	if account == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return "", false
	}
	if !account.Admin && account.ID != id {
		httputil.WriteForbidden(w, "cannot access another account")
		return "", false
	}

	return id, true
}

// getBalance handles GET /v1/accounts/{id}/balance
func (h *AccountHandlers) getBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	balance, err := h.credits.GetBalance(r.Context(), id)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, balance)
}

// usageResponse combines recent events with the period summary
type usageResponse struct {
	AccountID   string                  `json:"account_id"`
	PeriodUsed  int64                   `json:"period_credits_used"`
	Events      []*ledger.UsageEvent    `json:"events"`
	ActionTotal []analytics.ActionTotal `json:"action_totals,omitempty"`
}

// getUsage handles GET /v1/accounts/{id}/usage
func (h *AccountHandlers) getUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", defaultEventLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if limit < 1 || limit > maxEventLimit {
		limit = defaultEventLimit
	}

	events, err := h.credits.ListEvents(r.Context(), id, limit)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	used, err := h.credits.PeriodUsage(r.Context(), id)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	resp := usageResponse{
		AccountID:  id,
		PeriodUsed: used,
		Events:     events,
	}

	if h.analytics != nil {
		totals, err := h.analytics.ActionTotals(r.Context(), id, time.Now().AddDate(0, -1, 0))
		if err != nil {
			h.logger.WithError(err).Warn("action totals unavailable")
		} else {
			resp.ActionTotal = totals
		}
	}

	httputil.WriteSuccess(w, resp)
}

// getDailyUsage handles GET /v1/accounts/{id}/usage/daily
func (h *AccountHandlers) getDailyUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	if h.analytics == nil {
		httputil.WriteServiceUnavailable(w, "analytics unavailable")
		return
	}

	days, err := httputil.ParseQueryInt(r, "days", 30)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if days < 1 || days > 365 {
		days = 30
	}

	series, err := h.analytics.DailySeries(r.Context(), id, days)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, series)
}

// refresh handles POST /v1/accounts/{id}/refresh
// Resets the billing period: full allotment, zero used.
func (h *AccountHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	sub, err := h.credits.Refresh(r.Context(), id)
	if err != nil {
		if ledger.IsNoSubscription(err) {
			httputil.WriteNotFoundError(w, "no subscription for account")
			return
		}
		if ledger.IsInactiveSubscription(err) {
			httputil.WriteConflict(w, "subscription is not active")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, sub)
}

// changePlanRequest is the PUT /v1/accounts/{id}/plan payload
type changePlanRequest struct {
	Plan                 string `json:"plan"`
	StripeCustomerID     string `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string `json:"stripe_subscription_id,omitempty"`
}

// changePlan handles PUT /v1/accounts/{id}/plan
func (h *AccountHandlers) changePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req changePlanRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Plan, "plan") {
		return
	}

	var refs *ledger.ExternalRefs
	if req.StripeCustomerID != "" || req.StripeSubscriptionID != "" {
		refs = &ledger.ExternalRefs{
			CustomerID:     req.StripeCustomerID,
			SubscriptionID: req.StripeSubscriptionID,
		}
	}

	sub, err := h.credits.ChangePlan(r.Context(), id, plans.Tier(req.Plan), refs)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	httputil.WriteSuccess(w, sub)
}

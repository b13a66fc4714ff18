package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/careerforge/creditd/pkg/auth"
	"github.com/careerforge/creditd/pkg/httputil"
	"github.com/careerforge/creditd/pkg/reconcile"
)

// ReconcileHandlers exposes the reconciliation operations. All routes are
// admin-scoped: these endpoints rewrite entitlements.
type ReconcileHandlers struct {
	reconciler *reconcile.Reconciler
}

// NewReconcileHandlers creates a new reconcile handlers instance
func NewReconcileHandlers(reconciler *reconcile.Reconciler) *ReconcileHandlers {
	return &ReconcileHandlers{
		reconciler: reconciler,
	}
}

// RegisterRoutes registers the reconciliation API routes
func (h *ReconcileHandlers) RegisterRoutes(r *mux.Router) {
	r.Handle("/accounts/{id}/consistency", auth.AdminOnly(http.HandlerFunc(h.getConsistency))).Methods("GET")
	r.Handle("/accounts/{id}/sync", auth.AdminOnly(http.HandlerFunc(h.sync))).Methods("POST")
	r.Handle("/accounts/{id}/recover", auth.AdminOnly(http.HandlerFunc(h.recover))).Methods("POST")
}

// getConsistency handles GET /v1/accounts/{id}/consistency
func (h *ReconcileHandlers) getConsistency(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	report, err := h.reconciler.ValidateConsistency(r.Context(), id)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, report)
}

// sync handles POST /v1/accounts/{id}/sync
// Pass force=true to overwrite even when ledger and billing source agree.
func (h *ReconcileHandlers) sync(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	force, err := httputil.ParseQueryBool(r, "force", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.reconciler.Sync(r.Context(), id, force)
	if err != nil {
		httputil.WriteServiceUnavailable(w, err.Error())
		return
	}

	httputil.WriteSuccess(w, result)
}

// recover handles POST /v1/accounts/{id}/recover
func (h *ReconcileHandlers) recover(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	result, err := h.reconciler.EmergencyRecovery(r.Context(), id)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, result)
}

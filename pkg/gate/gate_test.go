package gate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careerforge/creditd/pkg/auth"
	"github.com/careerforge/creditd/pkg/contextkeys"
	"github.com/careerforge/creditd/pkg/ledger"
	"github.com/careerforge/creditd/pkg/observability"
	"github.com/careerforge/creditd/pkg/plans"
)

type fakeCredits struct {
	check      *ledger.SufficiencyCheck
	checkErr   error
	consumeErr error
	consumed   []string
	consumeCtx context.Context
	remaining  int64
}

func (f *fakeCredits) HasSufficientCredits(ctx context.Context, accountID string, action string) (*ledger.SufficiencyCheck, error) {
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	return f.check, nil
}

func (f *fakeCredits) Consume(ctx context.Context, accountID string, action string, metadata map[string]string) (*ledger.ConsumeResult, error) {
	f.consumeCtx = ctx
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	f.consumed = append(f.consumed, action)
	return &ledger.ConsumeResult{
		Action:    action,
		Charged:   f.check.Required,
		Remaining: f.remaining,
	}, nil
}

func newTestGate(credits CreditService) *Gate {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return New(credits, logger, nil)
}

func gatedRequest(t *testing.T, g *Gate, action string, feature http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	handler := g.Require(action)(feature)
	req := httptest.NewRequest(http.MethodPost, "/v1/generate/resume", nil)
	ctx := contextkeys.WithValue(req.Context(), contextkeys.AccountKey, &auth.Account{ID: "acct-1"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func okFeature(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	})
}

func TestGateChargesOnSuccess(t *testing.T) {
	credits := &fakeCredits{
		check:     &ledger.SufficiencyCheck{Sufficient: true, Required: 5, Remaining: 40},
		remaining: 35,
	}
	g := newTestGate(credits)

	rec := gatedRequest(t, g, plans.ActionResumeGeneration, okFeature(`{"resume":"..."}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{plans.ActionResumeGeneration}, credits.consumed)
	assert.Equal(t, "35", rec.Header().Get(HeaderRemaining))
	assert.Equal(t, "5", rec.Header().Get(HeaderUsed))
	assert.Equal(t, plans.ActionResumeGeneration, rec.Header().Get(HeaderAction))
	assert.JSONEq(t, `{"resume":"..."}`, rec.Body.String())
}

func TestGateRejectsBeforeFeatureRuns(t *testing.T) {
	credits := &fakeCredits{
		check: &ledger.SufficiencyCheck{Sufficient: false, Status: ledger.StatusActive, Required: 5, Remaining: 2},
	}
	g := newTestGate(credits)

	featureRan := false
	rec := gatedRequest(t, g, plans.ActionResumeGeneration, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		featureRan = true
	}))

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.False(t, featureRan, "feature must not run when unaffordable")
	assert.Empty(t, credits.consumed)

	var body rejectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "insufficient_credits", body.Error)
	assert.Equal(t, int64(2), body.CurrentCredits)
	assert.Equal(t, int64(5), body.RequiredCredits)
	assert.Equal(t, plans.ActionResumeGeneration, body.Action)
}

func TestGateInactiveSubscriptionRejection(t *testing.T) {
	credits := &fakeCredits{
		check: &ledger.SufficiencyCheck{Sufficient: false, Status: ledger.StatusPastDue, Required: 5, Remaining: 40},
	}
	g := newTestGate(credits)

	rec := gatedRequest(t, g, plans.ActionResumeGeneration, okFeature(`{}`))

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	var body rejectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "subscription_inactive", body.Error, "lapsed accounts should be told to reactivate, not upgrade")
	assert.Equal(t, int64(40), body.CurrentCredits)
}

func TestGateExemptRoute(t *testing.T) {
	credits := &fakeCredits{
		check: &ledger.SufficiencyCheck{Sufficient: false, Status: ledger.StatusCanceled, Required: 5},
	}
	g := newTestGate(credits)

	handler := g.Require(plans.ActionResumeExport, Exempt())(okFeature(`{"url":"/exports/1.pdf"}`))
	req := httptest.NewRequest(http.MethodPost, "/v1/generate/export", nil)
	ctx := contextkeys.WithValue(req.Context(), contextkeys.AccountKey, &auth.Account{ID: "acct-1"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(ctx))

	// Exempt routes run regardless of standing and charge nothing.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, credits.consumed)
	assert.Empty(t, rec.Header().Get(HeaderRemaining))
}

func TestGateFailedFeatureIsFree(t *testing.T) {
	credits := &fakeCredits{
		check: &ledger.SufficiencyCheck{Sufficient: true, Required: 5, Remaining: 40},
	}
	g := newTestGate(credits)

	rec := gatedRequest(t, g, plans.ActionResumeGeneration, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"upstream model unavailable"}`))
	}))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Empty(t, credits.consumed, "failed work is free work")
	assert.Empty(t, rec.Header().Get(HeaderRemaining))
}

func TestGateLostRaceDeliversUncharged(t *testing.T) {
	credits := &fakeCredits{
		check:      &ledger.SufficiencyCheck{Sufficient: true, Required: 5, Remaining: 5},
		consumeErr: &ledger.InsufficientCreditsError{Required: 5, Remaining: 0},
	}
	g := newTestGate(credits)

	rec := gatedRequest(t, g, plans.ActionResumeGeneration, okFeature(`{"resume":"done"}`))

	// The response is delivered even though the charge lost the race.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"resume":"done"}`, rec.Body.String())
	assert.Empty(t, rec.Header().Get(HeaderRemaining))
}

func TestGateChargesAfterClientDisconnect(t *testing.T) {
	credits := &fakeCredits{
		check:     &ledger.SufficiencyCheck{Sufficient: true, Required: 5, Remaining: 40},
		remaining: 35,
	}
	g := newTestGate(credits)

	handler := g.Require(plans.ActionResumeGeneration)(okFeature(`{"resume":"..."}`))
	req := httptest.NewRequest(http.MethodPost, "/v1/generate/resume", nil)
	ctx := contextkeys.WithValue(req.Context(), contextkeys.AccountKey, &auth.Account{ID: "acct-1"})
	ctx, cancel := context.WithCancel(ctx)
	cancel() // net/http cancels the request context when the client hangs up
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(ctx))

	// Completed work is charged even when nobody is left to receive it.
	assert.Equal(t, []string{plans.ActionResumeGeneration}, credits.consumed)
	require.NotNil(t, credits.consumeCtx)
	assert.NoError(t, credits.consumeCtx.Err(), "the charge must not ride the canceled request context")
}

func TestGateUnknownAction(t *testing.T) {
	credits := &fakeCredits{checkErr: &plans.UnknownActionError{Action: "mind_reading"}}
	g := newTestGate(credits)

	rec := gatedRequest(t, g, "mind_reading", okFeature(`{}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGateUnauthenticated(t *testing.T) {
	credits := &fakeCredits{
		check: &ledger.SufficiencyCheck{Sufficient: true, Required: 5, Remaining: 40},
	}
	g := newTestGate(credits)

	handler := g.Require(plans.ActionResumeGeneration)(okFeature(`{}`))
	req := httptest.NewRequest(http.MethodPost, "/v1/generate/resume", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, credits.consumed)
}

func TestGateZeroCostAction(t *testing.T) {
	credits := &fakeCredits{
		check:     &ledger.SufficiencyCheck{Sufficient: true, Required: 0, Remaining: 3},
		remaining: 3,
	}
	g := newTestGate(credits)

	rec := gatedRequest(t, g, plans.ActionResumeExport, okFeature(`{"url":"/exports/1.pdf"}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{plans.ActionResumeExport}, credits.consumed, "zero-cost actions still hit the audit log")
	assert.Equal(t, "0", rec.Header().Get(HeaderUsed))
	assert.Equal(t, "3", rec.Header().Get(HeaderRemaining))
}

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careerforge/creditd/pkg/aiproxy"
	"github.com/careerforge/creditd/pkg/gate"
	"github.com/careerforge/creditd/pkg/ledger"
	"github.com/careerforge/creditd/pkg/plans"
)

type gateCredits struct {
	checks   []string
	consumed []string
}

func (g *gateCredits) HasSufficientCredits(ctx context.Context, accountID string, action string) (*ledger.SufficiencyCheck, error) {
	g.checks = append(g.checks, action)
	return &ledger.SufficiencyCheck{Sufficient: true, Required: 5, Remaining: 50}, nil
}

func (g *gateCredits) Consume(ctx context.Context, accountID string, action string, metadata map[string]string) (*ledger.ConsumeResult, error) {
	g.consumed = append(g.consumed, action)
	return &ledger.ConsumeResult{
		Action:    action,
		Charged:   5,
		Used:      5,
		Total:     50,
		Remaining: 45,
	}, nil
}

type echoCompleter struct{}

func (echoCompleter) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	return "generated text", nil
}

func TestGenerateRoutesChargeTheRightAction(t *testing.T) {
	credits := &gateCredits{}
	g := gate.New(credits, testLogger(), nil)
	ai := aiproxy.NewHandlers(aiproxy.NewService(echoCompleter{}, testLogger()), testLogger())

	router := mux.NewRouter()
	NewGenerateHandlers(g, ai).RegisterRoutes(router)

	body := []byte(`{"profile": "ten years of platform engineering", "target_role": "senior backend engineer"}`)
	req := asAccount(httptest.NewRequest("POST", "/generate/resume", bytes.NewReader(body)), "acct-1", false)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, credits.consumed, 1)
	assert.Equal(t, plans.ActionResumeGeneration, credits.consumed[0])
	assert.Equal(t, "45", rec.Header().Get(gate.HeaderRemaining))
}

func TestGenerateRoutesRegisterAllFeatures(t *testing.T) {
	g := gate.New(&gateCredits{}, testLogger(), nil)
	ai := aiproxy.NewHandlers(aiproxy.NewService(echoCompleter{}, testLogger()), testLogger())

	router := mux.NewRouter()
	NewGenerateHandlers(g, ai).RegisterRoutes(router)

	paths := []string{
		"/generate/resume",
		"/generate/cover-letter",
		"/generate/linkedin",
		"/suggest",
		"/generate/career-plan",
		"/generate/negotiation",
	}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest("POST", path, nil)
			var match mux.RouteMatch
			assert.True(t, router.Match(req, &match), "route %s should be registered", path)
		})
	}
}

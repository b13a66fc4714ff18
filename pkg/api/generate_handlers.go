package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/careerforge/creditd/pkg/aiproxy"
	"github.com/careerforge/creditd/pkg/gate"
	"github.com/careerforge/creditd/pkg/plans"
)

// GenerateHandlers mounts the AI feature handlers behind the credit gate.
// Every route here charges on success; feature code never touches the
// ledger directly.
type GenerateHandlers struct {
	gate *gate.Gate
	ai   *aiproxy.Handlers
}

// NewGenerateHandlers creates a new generate handlers instance
func NewGenerateHandlers(g *gate.Gate, ai *aiproxy.Handlers) *GenerateHandlers {
	return &GenerateHandlers{
		gate: g,
		ai:   ai,
	}
}

// RegisterRoutes registers the gated generation routes
func (h *GenerateHandlers) RegisterRoutes(r *mux.Router) {
	h.mount(r, "/generate/resume", plans.ActionResumeGeneration, h.ai.GenerateResume)
	h.mount(r, "/generate/cover-letter", plans.ActionCoverLetter, h.ai.GenerateCoverLetter)
	h.mount(r, "/generate/linkedin", plans.ActionLinkedInOptimization, h.ai.OptimizeLinkedIn)
	h.mount(r, "/suggest", plans.ActionAISuggestions, h.ai.Suggest)
	h.mount(r, "/generate/career-plan", plans.ActionCareerPlanning, h.ai.PlanCareer)
	h.mount(r, "/generate/negotiation", plans.ActionSalaryNegotiation, h.ai.PrepareNegotiation)
}

func (h *GenerateHandlers) mount(r *mux.Router, path, action string, handler http.HandlerFunc) {
	r.Handle(path, h.gate.Require(action)(handler)).Methods("POST")
}

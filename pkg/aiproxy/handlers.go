package aiproxy

import (
	"net/http"

	"github.com/careerforge/creditd/pkg/httputil"
	"github.com/careerforge/creditd/pkg/observability"
)

// maxPromptInput bounds each user-supplied prompt field.
const maxPromptInput = 20000

// Handlers exposes the AI features over HTTP. Every handler here is
// mounted behind the request gate.
type Handlers struct {
	service *Service
	logger  *observability.Logger
}

// NewHandlers creates the feature HTTP handlers.
func NewHandlers(service *Service, logger *observability.Logger) *Handlers {
	return &Handlers{service: service, logger: logger.WithComponent("aiproxy.http")}
}

type resumeRequest struct {
	Profile    string `json:"profile"`
	TargetRole string `json:"target_role"`
}

// GenerateResume handles POST /v1/generate/resume.
func (h *Handlers) GenerateResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Profile, "profile") {
		return
	}
	result, err := h.service.GenerateResume(r.Context(),
		trimInput(req.Profile, maxPromptInput), trimInput(req.TargetRole, 500))
	if err != nil {
		h.upstreamError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"resume": result})
}

type coverLetterRequest struct {
	Profile        string `json:"profile"`
	JobDescription string `json:"job_description"`
}

// GenerateCoverLetter handles POST /v1/generate/cover-letter.
func (h *Handlers) GenerateCoverLetter(w http.ResponseWriter, r *http.Request) {
	var req coverLetterRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Profile, "profile") {
		return
	}
	if !httputil.RequireNonEmpty(w, req.JobDescription, "job_description") {
		return
	}
	result, err := h.service.GenerateCoverLetter(r.Context(),
		trimInput(req.Profile, maxPromptInput), trimInput(req.JobDescription, maxPromptInput))
	if err != nil {
		h.upstreamError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"cover_letter": result})
}

type linkedinRequest struct {
	Profile string `json:"profile"`
}

// OptimizeLinkedIn handles POST /v1/generate/linkedin.
func (h *Handlers) OptimizeLinkedIn(w http.ResponseWriter, r *http.Request) {
	var req linkedinRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Profile, "profile") {
		return
	}
	result, err := h.service.OptimizeLinkedIn(r.Context(), trimInput(req.Profile, maxPromptInput))
	if err != nil {
		h.upstreamError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"profile": result})
}

type suggestRequest struct {
	Fragment string `json:"fragment"`
}

// Suggest handles POST /v1/generate/suggestions.
func (h *Handlers) Suggest(w http.ResponseWriter, r *http.Request) {
	var req suggestRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Fragment, "fragment") {
		return
	}
	result, err := h.service.Suggest(r.Context(), trimInput(req.Fragment, maxPromptInput))
	if err != nil {
		h.upstreamError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"suggestions": result})
}

type careerPlanRequest struct {
	Current string `json:"current"`
	Goal    string `json:"goal"`
}

// PlanCareer handles POST /v1/generate/career-plan.
func (h *Handlers) PlanCareer(w http.ResponseWriter, r *http.Request) {
	var req careerPlanRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Current, "current") {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Goal, "goal") {
		return
	}
	result, err := h.service.PlanCareer(r.Context(),
		trimInput(req.Current, maxPromptInput), trimInput(req.Goal, 2000))
	if err != nil {
		h.upstreamError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"plan": result})
}

type negotiationRequest struct {
	OfferDetails string `json:"offer_details"`
}

// PrepareNegotiation handles POST /v1/generate/negotiation.
func (h *Handlers) PrepareNegotiation(w http.ResponseWriter, r *http.Request) {
	var req negotiationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.OfferDetails, "offer_details") {
		return
	}
	result, err := h.service.PrepareNegotiation(r.Context(), trimInput(req.OfferDetails, maxPromptInput))
	if err != nil {
		h.upstreamError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"preparation": result})
}

// upstreamError maps model failures to 502 so the gate does not charge
// for work that never happened.
func (h *Handlers) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	observability.FromContext(r.Context()).WithError(err).Error("ai completion failed")
	httputil.WriteErrorMessage(w, http.StatusBadGateway, "ai provider unavailable")
}

package http

import (
	"errors"
	"net/http"

	"github.com/Strob0t/MailGuard/internal/domain/action"
	"github.com/Strob0t/MailGuard/internal/domain/signal"
	"github.com/Strob0t/MailGuard/internal/middleware"
	"github.com/Strob0t/MailGuard/internal/service"
)

// Handlers holds the services the HTTP API exposes.
type Handlers struct {
	Coordinator *service.Coordinator
	Approvals   *service.ApprovalGate
	Policies    *service.PolicyService
}

// analyzeSignalsRequest carries a request with results computed upstream.
type analyzeSignalsRequest struct {
	Request signal.Request          `json:"request"`
	Results []signal.AnalysisResult `json:"results"`
}

// decisionRequest is the body of approve and reject. Reviewer is ignored
// when reviewer tokens are configured; the token's owner decides.
type decisionRequest struct {
	Reviewer string `json:"reviewer"`
	Comment  string `json:"comment"`
}

// Analyze handles POST /api/v1/analyses.
func (h *Handlers) Analyze(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[signal.Request](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	out, err := h.Coordinator.Analyze(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err, "verdict not found")
		return
	}
	writeOutcome(w, out)
}

// AnalyzeSignals handles POST /api/v1/analyses/signals.
func (h *Handlers) AnalyzeSignals(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[analyzeSignalsRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if len(body.Results) == 0 {
		writeError(w, http.StatusBadRequest, "results are required")
		return
	}
	out, err := h.Coordinator.AnalyzeSignals(r.Context(), &body.Request, body.Results)
	if err != nil {
		writeDomainError(w, err, "verdict not found")
		return
	}
	writeOutcome(w, out)
}

// writeOutcome answers 201 for a new verdict, 200 for a replay and 422 with
// the manual-review body when no verdict could be produced.
func writeOutcome(w http.ResponseWriter, out *service.Outcome) {
	switch {
	case out.Failed != nil:
		writeJSON(w, http.StatusUnprocessableEntity, out.Failed)
	case out.Replayed:
		writeJSON(w, http.StatusOK, out.Verdict)
	default:
		writeJSON(w, http.StatusCreated, out.Verdict)
	}
}

// ApproveAction handles POST /api/v1/actions/{id}/approve.
func (h *Handlers) ApproveAction(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, action.DecisionApprove)
}

// RejectAction handles POST /api/v1/actions/{id}/reject.
func (h *Handlers) RejectAction(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, action.DecisionReject)
}

func (h *Handlers) decide(w http.ResponseWriter, r *http.Request, d action.Decision) {
	body, ok := readJSON[decisionRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	reviewer := middleware.ReviewerFromContext(r.Context())
	if reviewer == "" {
		reviewer = body.Reviewer
	}
	if !requireField(w, reviewer, "reviewer") {
		return
	}

	a, err := h.Approvals.Decide(r.Context(), urlParam(r, "id"), action.DecisionInput{
		Decision: d,
		Reviewer: reviewer,
		Comment:  body.Comment,
	})
	if err != nil {
		writeDomainError(w, err, "action not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ReportExecution handles POST /api/v1/actions/{id}/executed. A failure
// report is recorded and answered with the unchanged action.
func (h *Handlers) ReportExecution(w http.ResponseWriter, r *http.Request) {
	report, ok := readJSON[action.ExecutionReport](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if report.Actor == "" {
		report.Actor = middleware.ReviewerFromContext(r.Context())
	}
	a, err := h.Approvals.MarkExecuted(r.Context(), urlParam(r, "id"), report)
	if err != nil && !errors.Is(err, action.ErrExecutionFailed) {
		writeDomainError(w, err, "action not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GetAction handles GET /api/v1/actions/{id}.
func (h *Handlers) GetAction(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Approvals.Get, "action not found")(w, r)
}

// GetPolicy handles GET /api/v1/policies/{name}.
func (h *Handlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, ok := h.Policies.GetPolicy(urlParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "policy not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListPolicies handles GET /api/v1/policies.
func (h *Handlers) ListPolicies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active":   h.Policies.Snapshot().Actions.Name,
		"policies": h.Policies.ListPolicies(),
	})
}

// GetSnapshot handles GET /api/v1/snapshot.
func (h *Handlers) GetSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Policies.Snapshot())
}

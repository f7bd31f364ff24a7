package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. guard wraps
// the reviewer-facing routes (approval decisions and execution reports);
// nil leaves them open.
func MountRoutes(r chi.Router, h *Handlers, guard func(http.Handler) http.Handler) {
	if guard == nil {
		guard = func(next http.Handler) http.Handler { return next }
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Analyses
		r.Post("/analyses", h.Analyze)
		r.Post("/analyses/signals", h.AnalyzeSignals)

		// Verdicts
		r.Get("/verdicts/{id}", handleGet(h.Coordinator.GetVerdict, "verdict not found"))
		r.Get("/verdicts/{id}/actions", handleListByParam("id", h.Coordinator.ListActions, "verdict not found"))
		r.Get("/verdicts/{id}/audit", handleListByParam("id", h.Coordinator.ListAudit, "verdict not found"))

		// Approvals and actions
		r.Group(func(r chi.Router) {
			r.Use(guard)
			r.Get("/approvals", handleList(h.Approvals.ListPending))
			r.Get("/actions/{id}", h.GetAction)
			r.Post("/actions/{id}/approve", h.ApproveAction)
			r.Post("/actions/{id}/reject", h.RejectAction)
			r.Post("/actions/{id}/executed", h.ReportExecution)
		})

		// Policies
		r.Get("/policies", h.ListPolicies)
		r.Get("/policies/{name}", h.GetPolicy)
		r.Get("/snapshot", h.GetSnapshot)
	})
}

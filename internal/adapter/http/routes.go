package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Tasks
		r.Post("/tasks", h.CreateTask)
		r.Get("/tasks/{id}", h.GetTask)

		// Workflows
		r.Post("/workflows", h.CreateWorkflow)
		r.Get("/workflows", h.ListWorkflows)
		r.Get("/workflows/{id}", h.GetWorkflow)
		r.Post("/workflows/{id}/cancel", h.CancelWorkflow)
		r.Get("/workflows/{id}/plan", h.GetWorkflowPlan)
		r.Get("/workflows/{id}/handoffs", h.ListWorkflowHandoffs)
		r.Get("/workflows/{id}/report", h.GetWorkflowReport)
		r.Post("/workflows/{id}/finish-review", h.FinishWorkflowReview)

		// Planning session (nested under workflows)
		r.Post("/workflows/{id}/planning/start", h.StartPlanning)
		r.Post("/workflows/{id}/planning/discovery/finish", h.FinishDiscovery)
		r.Post("/workflows/{id}/planning/discovery/reopen", h.ReopenDiscovery)
		r.Get("/workflows/{id}/planning/questions", h.ListOpenQuestions)
		r.Post("/workflows/{id}/planning/questions/answer", h.AnswerQuestion)
		r.Post("/workflows/{id}/planning/design/begin", h.BeginDesign)
		r.Post("/workflows/{id}/planning/alternative", h.ProposeAlternative)
		r.Post("/workflows/{id}/plan", h.DraftPlan)
		r.Post("/workflows/{id}/plan/approve", h.ApprovePlan)

		// Handoffs
		r.Post("/handoffs", h.DeliverHandoff)

		// Implementation
		r.Post("/workflows/{id}/implement", h.ExecutePlan)
		r.Get("/workflows/{id}/todos", h.ListTodos)

		// Reviews
		r.Post("/workflows/{id}/reviews", h.RunReview)
		r.Get("/reviews/{changesetId}/snapshot", h.GetSnapshot)
		r.Get("/reports/{id}", h.GetReport)

		// CI watch
		r.Post("/workflows/{id}/ci/watch", h.WatchCI)
	})
}

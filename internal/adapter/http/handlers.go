// Package http implements the REST adapter for Foreman: workflow lifecycle,
// planning session operations, handoff delivery, implementation runs and
// review fan-out.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	fotel "github.com/mwaldron/foreman/internal/adapter/otel"
	"github.com/mwaldron/foreman/internal/domain/capability"
	"github.com/mwaldron/foreman/internal/domain/handoff"
	"github.com/mwaldron/foreman/internal/domain/plan"
	"github.com/mwaldron/foreman/internal/domain/task"
	"github.com/mwaldron/foreman/internal/domain/workflow"
	"github.com/mwaldron/foreman/internal/port/database"
	"github.com/mwaldron/foreman/internal/port/reviewer"
	"github.com/mwaldron/foreman/internal/service"
)

// Handlers holds the HTTP handler dependencies. Implementer and CIWatch are
// nil when no executor or CI provider backend is wired; their endpoints then
// answer 503. Metrics is nil when telemetry is disabled.
type Handlers struct {
	Tasks       *service.TaskService
	Workflows   *service.WorkflowService
	Planner     *service.PlannerService
	Handoffs    *service.HandoffService
	Fanout      *service.FanoutService
	Implementer *service.ImplementerService
	CIWatch     *service.CIWatchService
	DB          database.Store
	Metrics     *fotel.Metrics
}

// countDenial bumps the capability-denial counter when the error is a gate
// violation. Called on the error paths of operations that authorize against
// the gate before acting.
func (h *Handlers) countDenial(ctx context.Context, err error) {
	if h.Metrics == nil {
		return
	}
	var violation *capability.Violation
	if errors.As(err, &violation) {
		h.Metrics.CapabilityDenials.Add(ctx, 1)
	}
}

// CreateTask handles POST /api/v1/tasks
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.CreateRequest](w, r)
	if !ok {
		return
	}
	t, err := h.Tasks.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "task creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// GetTask handles GET /api/v1/tasks/{id}
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// CreateWorkflow handles POST /api/v1/workflows
func (h *Handlers) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.CreateRequest](w, r)
	if !ok {
		return
	}
	wf, err := h.Workflows.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "workflow creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

// ListWorkflows handles GET /api/v1/workflows
func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs, err := h.Workflows.List(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if wfs == nil {
		wfs = []workflow.Workflow{}
	}
	writeJSON(w, http.StatusOK, wfs)
}

// GetWorkflow handles GET /api/v1/workflows/{id}
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.Workflows.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// CancelWorkflow handles POST /api/v1/workflows/{id}/cancel
func (h *Handlers) CancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Workflows.Cancel(r.Context(), id); err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetWorkflowPlan handles GET /api/v1/workflows/{id}/plan
func (h *Handlers) GetWorkflowPlan(w http.ResponseWriter, r *http.Request) {
	p, err := h.DB.GetPlanByWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "plan not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListWorkflowHandoffs handles GET /api/v1/workflows/{id}/handoffs
func (h *Handlers) ListWorkflowHandoffs(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.Handoffs.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	if msgs == nil {
		msgs = []handoff.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// GetWorkflowReport handles GET /api/v1/workflows/{id}/report
func (h *Handlers) GetWorkflowReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.Workflows.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "no report for workflow")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// FinishWorkflowReview handles POST /api/v1/workflows/{id}/finish-review
func (h *Handlers) FinishWorkflowReview(w http.ResponseWriter, r *http.Request) {
	report, err := h.Workflows.FinishReview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "no report for workflow")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ---------------------------------------------------------------------------
// Planning session
// ---------------------------------------------------------------------------

// StartPlanning handles POST /api/v1/workflows/{id}/planning/start
func (h *Handlers) StartPlanning(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Planner.StartPlanning(r.Context(), id); err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"workflow_id": id, "phase": "discovery"})
}

// FinishDiscovery handles POST /api/v1/workflows/{id}/planning/discovery/finish
func (h *Handlers) FinishDiscovery(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Questions []string `json:"questions"`
	}
	req, ok := readJSON[request](w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.Planner.FinishDiscovery(r.Context(), id, req.Questions); err != nil {
		writeDomainError(w, err, "planning session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AnswerQuestion handles POST /api/v1/workflows/{id}/planning/questions/answer
func (h *Handlers) AnswerQuestion(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Question string `json:"question"`
	}
	req, ok := readJSON[request](w, r)
	if !ok {
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.Planner.AnswerQuestion(r.Context(), id, req.Question); err != nil {
		writeDomainError(w, err, "planning session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListOpenQuestions handles GET /api/v1/workflows/{id}/planning/questions
func (h *Handlers) ListOpenQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.Planner.OpenQuestions(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "planning session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"questions": questions})
}

// ReopenDiscovery handles POST /api/v1/workflows/{id}/planning/discovery/reopen
func (h *Handlers) ReopenDiscovery(w http.ResponseWriter, r *http.Request) {
	if err := h.Planner.ReopenDiscovery(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err, "planning session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BeginDesign handles POST /api/v1/workflows/{id}/planning/design/begin
func (h *Handlers) BeginDesign(w http.ResponseWriter, r *http.Request) {
	if err := h.Planner.BeginDesign(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err, "planning session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DraftPlan handles POST /api/v1/workflows/{id}/plan
func (h *Handlers) DraftPlan(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[plan.CreateRequest](w, r)
	if !ok {
		return
	}
	p, err := h.Planner.DraftPlan(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.countDenial(r.Context(), err)
		writeDomainError(w, err, "plan draft rejected")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ProposeAlternative handles POST /api/v1/workflows/{id}/planning/alternative
func (h *Handlers) ProposeAlternative(w http.ResponseWriter, r *http.Request) {
	if err := h.Planner.ProposeAlternative(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err, "planning session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApprovePlan handles POST /api/v1/workflows/{id}/plan/approve
func (h *Handlers) ApprovePlan(w http.ResponseWriter, r *http.Request) {
	type request struct {
		ApprovedBy string `json:"approved_by"`
	}
	req, ok := readJSON[request](w, r)
	if !ok {
		return
	}
	if req.ApprovedBy == "" {
		writeError(w, http.StatusBadRequest, "approved_by is required")
		return
	}
	p, err := h.Planner.Approve(r.Context(), chi.URLParam(r, "id"), req.ApprovedBy)
	if err != nil {
		writeDomainError(w, err, "plan approval rejected")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ---------------------------------------------------------------------------
// Handoff
// ---------------------------------------------------------------------------

// DeliverHandoff handles POST /api/v1/handoffs
func (h *Handlers) DeliverHandoff(w http.ResponseWriter, r *http.Request) {
	msg, ok := readJSON[handoff.Message](w, r)
	if !ok {
		return
	}
	if err := h.Handoffs.Deliver(r.Context(), &msg); err != nil {
		writeDomainError(w, err, "handoff rejected")
		return
	}
	if h.Metrics != nil {
		h.Metrics.HandoffsDelivered.Add(r.Context(), 1)
	}
	writeJSON(w, http.StatusCreated, msg)
}

// ---------------------------------------------------------------------------
// Implementation
// ---------------------------------------------------------------------------

// ExecutePlan handles POST /api/v1/workflows/{id}/implement
func (h *Handlers) ExecutePlan(w http.ResponseWriter, r *http.Request) {
	if h.Implementer == nil {
		writeError(w, http.StatusServiceUnavailable, "no executor backend configured")
		return
	}
	type request struct {
		Override bool `json:"override"`
	}
	req, ok := readJSON[request](w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	ctx, span := fotel.StartWorkflowSpan(r.Context(), id, "implementation")
	defer span.End()
	if err := h.Implementer.Execute(ctx, id, req.Override); err != nil {
		h.countDenial(ctx, err)
		writeDomainError(w, err, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"workflow_id": id, "status": "implemented"})
}

// ListTodos handles GET /api/v1/workflows/{id}/todos
func (h *Handlers) ListTodos(w http.ResponseWriter, r *http.Request) {
	if h.Implementer == nil {
		writeError(w, http.StatusServiceUnavailable, "no executor backend configured")
		return
	}
	tracker := h.Implementer.Todos(chi.URLParam(r, "id"))
	if tracker == nil {
		writeError(w, http.StatusNotFound, "no checklist for workflow")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner": tracker.Owner(),
		"items": tracker.Items(),
	})
}

// ---------------------------------------------------------------------------
// Review
// ---------------------------------------------------------------------------

// RunReview handles POST /api/v1/workflows/{id}/reviews
func (h *Handlers) RunReview(w http.ResponseWriter, r *http.Request) {
	snap, ok := readJSON[reviewer.Snapshot](w, r)
	if !ok {
		return
	}
	if snap.ChangesetID == "" {
		writeError(w, http.StatusBadRequest, "changeset_id is required")
		return
	}
	id := chi.URLParam(r, "id")
	ctx, span := fotel.StartFanoutSpan(r.Context(), id, snap.ChangesetID)
	defer span.End()

	start := time.Now()
	report, err := h.Fanout.Run(ctx, id, snap)
	if err != nil {
		writeDomainError(w, err, "review failed")
		return
	}
	if h.Metrics != nil {
		h.Metrics.ReviewsCompleted.Add(ctx, 1)
		h.Metrics.FindingsReported.Add(ctx, int64(len(report.Entries)))
		h.Metrics.ReviewDuration.Record(ctx, time.Since(start).Seconds())
	}
	writeJSON(w, http.StatusCreated, report)
}

// GetSnapshot handles GET /api/v1/reviews/{changesetId}/snapshot
func (h *Handlers) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.Fanout.Snapshot(r.Context(), chi.URLParam(r, "changesetId"))
	if !ok {
		writeError(w, http.StatusNotFound, "snapshot expired or unknown")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetReport handles GET /api/v1/reports/{id}
func (h *Handlers) GetReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.DB.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "report not found")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ---------------------------------------------------------------------------
// CI
// ---------------------------------------------------------------------------

// WatchCI handles POST /api/v1/workflows/{id}/ci/watch
func (h *Handlers) WatchCI(w http.ResponseWriter, r *http.Request) {
	if h.CIWatch == nil {
		writeError(w, http.StatusServiceUnavailable, "no ci provider configured")
		return
	}
	type request struct {
		BranchRef string `json:"branch_ref"`
	}
	req, ok := readJSON[request](w, r)
	if !ok {
		return
	}
	if req.BranchRef == "" {
		writeError(w, http.StatusBadRequest, "branch_ref is required")
		return
	}
	out, err := h.CIWatch.WatchBranch(r.Context(), chi.URLParam(r, "id"), req.BranchRef)
	if err != nil {
		writeDomainError(w, err, "ci watch failed")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

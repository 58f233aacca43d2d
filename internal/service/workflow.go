package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mwaldron/foreman/internal/domain/capability"
	"github.com/mwaldron/foreman/internal/domain/review"
	"github.com/mwaldron/foreman/internal/domain/task"
	"github.com/mwaldron/foreman/internal/domain/workflow"
	"github.com/mwaldron/foreman/internal/port/database"
	"github.com/mwaldron/foreman/internal/port/messagequeue"
)

// WorkflowService coordinates workflow lifecycle state: creation, lookup,
// cancellation and terminal transitions. Role-specific execution lives in
// the planner, implementer and fan-out services.
type WorkflowService struct {
	db    database.Store
	queue messagequeue.Queue
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(db database.Store, queue messagequeue.Queue) *WorkflowService {
	return &WorkflowService{db: db, queue: queue}
}

// Create accepts a task and opens a workflow for it.
func (s *WorkflowService) Create(ctx context.Context, req task.CreateRequest) (*workflow.Workflow, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t := &task.Task{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		BranchRef:   req.BranchRef,
		CreatedAt:   now,
	}
	if err := s.db.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	wf := &workflow.Workflow{
		ID:         uuid.NewString(),
		TaskID:     t.ID,
		Status:     workflow.StatusPending,
		ActiveRole: capability.RolePlanner,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.CreateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}

	publishEvent(ctx, s.queue, Event{
		Type:       "workflow_created",
		WorkflowID: wf.ID,
		Status:     string(wf.Status),
	})
	slog.Info("workflow created", "workflow_id", wf.ID, "task_id", t.ID)
	return wf, nil
}

// Get returns a workflow by ID.
func (s *WorkflowService) Get(ctx context.Context, id string) (*workflow.Workflow, error) {
	return s.db.GetWorkflow(ctx, id)
}

// List returns all workflows.
func (s *WorkflowService) List(ctx context.Context) ([]workflow.Workflow, error) {
	return s.db.ListWorkflows(ctx)
}

// Cancel stops a workflow. Before any mutation this is a clean stop; after
// it, the cancellation record names the partial state so nothing is silently
// left behind. The running implementer observes its context and compensates.
func (s *WorkflowService) Cancel(ctx context.Context, id string) error {
	wf, err := s.db.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}
	if wf.Status.IsTerminal() {
		return fmt.Errorf("workflow %s: %w", id, ErrWorkflowTerminal)
	}

	msg := "cancelled before any mutation"
	if wf.Mutated {
		msg = "cancelled after mutation; partial state reported for compensation"
	}
	if err := s.db.UpdateWorkflowStatus(ctx, id, workflow.StatusCancelled, msg); err != nil {
		return err
	}

	publishEvent(ctx, s.queue, Event{
		Type:       "workflow_cancelled",
		WorkflowID: id,
		Status:     string(workflow.StatusCancelled),
		Detail:     msg,
	})
	slog.Info("workflow cancelled", "workflow_id", id, "mutated", wf.Mutated)
	return nil
}

// FinishReview closes the loop after the synthesized report is in: the
// workflow completes unless the report carries critical findings, in which
// case it stays in reviewing for another implementation round.
func (s *WorkflowService) FinishReview(ctx context.Context, workflowID string) (*review.Report, error) {
	report, err := s.db.GetReportByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	for i := range report.Entries {
		if report.Entries[i].Severity == review.SeverityCritical {
			slog.Info("review kept workflow open", "workflow_id", workflowID, "report_id", report.ID)
			return report, nil
		}
	}

	if err := s.db.UpdateWorkflowStatus(ctx, workflowID, workflow.StatusCompleted, ""); err != nil {
		return nil, err
	}
	publishEvent(ctx, s.queue, Event{
		Type:       "workflow_completed",
		WorkflowID: workflowID,
		Status:     string(workflow.StatusCompleted),
	})
	return report, nil
}

// Report returns the synthesized review report for a workflow.
func (s *WorkflowService) Report(ctx context.Context, workflowID string) (*review.Report, error) {
	return s.db.GetReportByWorkflow(ctx, workflowID)
}

// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/mwaldron/foreman/internal/domain/handoff"
	"github.com/mwaldron/foreman/internal/domain/plan"
	"github.com/mwaldron/foreman/internal/domain/review"
	"github.com/mwaldron/foreman/internal/domain/task"
	"github.com/mwaldron/foreman/internal/domain/workflow"
)

// Store is the port interface for database operations.
type Store interface {
	// Tasks
	CreateTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, id string) (*task.Task, error)

	// Workflows
	CreateWorkflow(ctx context.Context, w *workflow.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error)
	ListWorkflows(ctx context.Context) ([]workflow.Workflow, error)
	UpdateWorkflowStatus(ctx context.Context, id string, status workflow.Status, errMsg string) error
	UpdateWorkflowPhase(ctx context.Context, id string, role string, phase string) error
	SetWorkflowMutated(ctx context.Context, id string) error

	// Plans
	CreatePlan(ctx context.Context, p *plan.Plan) error
	GetPlan(ctx context.Context, id string) (*plan.Plan, error)
	GetPlanByWorkflow(ctx context.Context, workflowID string) (*plan.Plan, error)
	UpdatePlanComplete(ctx context.Context, id string, complete bool) error
	AppendPlanMarker(ctx context.Context, id string, m plan.Marker) error
	UpdatePlanStepStatus(ctx context.Context, stepID string, status plan.StepStatus, errMsg string) error

	// Handoffs
	RecordHandoff(ctx context.Context, msg *handoff.Message) error
	// DeliverHandoff records the message, moves the workflow to the target
	// role and status, and optionally appends a plan marker, all in one
	// transaction. Either every effect lands or none does.
	DeliverHandoff(ctx context.Context, msg *handoff.Message, status workflow.Status, marker *plan.Marker) error
	ListHandoffs(ctx context.Context, workflowID string) ([]handoff.Message, error)

	// Reports
	CreateReport(ctx context.Context, r *review.Report) error
	GetReport(ctx context.Context, id string) (*review.Report, error)
	GetReportByWorkflow(ctx context.Context, workflowID string) (*review.Report, error)
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mwaldron/foreman/internal/domain/capability"
	"github.com/mwaldron/foreman/internal/domain/handoff"
	"github.com/mwaldron/foreman/internal/domain/plan"
	"github.com/mwaldron/foreman/internal/domain/workflow"
	"github.com/mwaldron/foreman/internal/port/database"
	"github.com/mwaldron/foreman/internal/port/messagequeue"
	"github.com/mwaldron/foreman/internal/port/planfile"
)

var (
	// ErrPlanIncomplete rejects a handoff whose plan the planner has not
	// marked decision-complete.
	ErrPlanIncomplete = errors.New("plan is not decision-complete")

	// ErrWorkflowTerminal rejects operations on finished workflows.
	ErrWorkflowTerminal = errors.New("workflow is in a terminal state")
)

// HandoffService delivers structured role-to-role handoffs. Delivery is
// all-or-nothing: the message record, the workflow role/status change and any
// plan marker land in one transaction, or the workflow stays untouched.
type HandoffService struct {
	db       database.Store
	queue    messagequeue.Queue
	artifact planfile.Artifact
}

// NewHandoffService creates a new HandoffService.
func NewHandoffService(db database.Store, queue messagequeue.Queue, artifact planfile.Artifact) *HandoffService {
	return &HandoffService{db: db, queue: queue, artifact: artifact}
}

// Deliver validates and delivers a handoff message. For plan handoffs to the
// implementer the plan must be decision-complete; re-delivery of an
// already-implemented plan fails with AlreadyCompletedError unless the
// message carries an explicit override, in which case a revision marker is
// appended and every prior marker is preserved.
func (s *HandoffService) Deliver(ctx context.Context, msg *handoff.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	wf, err := s.db.GetWorkflow(ctx, msg.WorkflowID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}
	if wf.Status.IsTerminal() {
		return fmt.Errorf("workflow %s: %w", wf.ID, ErrWorkflowTerminal)
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var marker *plan.Marker
	if msg.ArtifactKind == handoff.ArtifactPlan && msg.TargetRole == capability.RoleImplementer {
		p, err := s.db.GetPlan(ctx, msg.ArtifactID)
		if err != nil {
			return fmt.Errorf("load plan: %w", err)
		}
		if !p.Complete {
			return fmt.Errorf("plan %s: %w", p.ID, ErrPlanIncomplete)
		}
		if p.Implemented() {
			if !msg.Override {
				// Fatal to the delivery; nothing is recorded.
				return &plan.AlreadyCompletedError{PlanID: p.ID, CompletedAt: p.ImplementedAt()}
			}
			marker = &plan.Marker{
				Kind: plan.MarkerRevised,
				Note: "override: " + msg.Directive,
				At:   msg.CreatedAt,
			}
		}
	}

	status := statusForRole(msg.TargetRole, wf.Status)
	if err := s.db.DeliverHandoff(ctx, msg, status, marker); err != nil {
		return fmt.Errorf("deliver handoff: %w", err)
	}

	if marker != nil && s.artifact != nil {
		p, err := s.db.GetPlan(ctx, msg.ArtifactID)
		if err == nil {
			if err := s.artifact.Stamp(ctx, p, *marker); err != nil {
				slog.Warn("failed to stamp plan document", "plan_id", p.ID, "error", err)
			}
		}
	}

	// AutoStart dispatches the directive for immediate execution; without it
	// the handoff is only recorded and surfaced for a human decision.
	if msg.AutoStart {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal handoff: %w", err)
		}
		if err := s.queue.Publish(ctx, messagequeue.SubjectHandoffRequest, data); err != nil {
			slog.Error("failed to publish handoff", "handoff_id", msg.ID, "error", err)
			// The handoff is durably recorded; dispatch can be retried.
		}
	}

	slog.Info("handoff delivered",
		"handoff_id", msg.ID,
		"workflow_id", msg.WorkflowID,
		"source", msg.SourceRole,
		"target", msg.TargetRole,
		"artifact", msg.ArtifactKind,
		"auto_start", msg.AutoStart,
	)
	return nil
}

// List returns all handoffs recorded for a workflow, oldest first.
func (s *HandoffService) List(ctx context.Context, workflowID string) ([]handoff.Message, error) {
	return s.db.ListHandoffs(ctx, workflowID)
}

// statusForRole maps the receiving role to the workflow status it implies.
// The CI watcher observes without changing the lifecycle state.
func statusForRole(role capability.Role, current workflow.Status) workflow.Status {
	switch role {
	case capability.RolePlanner:
		return workflow.StatusPlanning
	case capability.RoleImplementer:
		return workflow.StatusImplementing
	case capability.RoleReviewer:
		return workflow.StatusReviewing
	default:
		return current
	}
}

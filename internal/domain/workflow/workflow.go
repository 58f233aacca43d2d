// Package workflow defines the Workflow aggregate: one change request moving
// through plan, implement and review, plus the error taxonomy for conditions
// that cross phase boundaries.
package workflow

import (
	"fmt"
	"time"

	"github.com/mwaldron/foreman/internal/domain/capability"
)

// Status represents the lifecycle state of a workflow instance.
type Status string

const (
	StatusPending          Status = "pending"
	StatusPlanning         Status = "planning"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusImplementing     Status = "implementing"
	StatusReviewing        Status = "reviewing"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

// IsTerminal returns true if the workflow is in a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Workflow tracks one task through the full lifecycle. The plan artifact and
// todo checklist it references are singly-owned: one active writer at a time.
type Workflow struct {
	ID         string          `json:"id"`
	TaskID     string          `json:"task_id"`
	PlanID     string          `json:"plan_id,omitempty"`
	Status     Status          `json:"status"`
	ActiveRole capability.Role `json:"active_role"`
	Phase      string          `json:"phase"`
	// Mutated is set the moment implementation changes any external state.
	// Cancellation before this point has no side effects to undo; after it,
	// the orchestrator must compensate explicitly or report partial state.
	Mutated bool   `json:"mutated"`
	Error   string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AmbiguityError reports missing information that blocks a phase's exit
// condition. It is not fatal to the workflow: it triggers an explicit
// loop-back to a clarification sub-phase and requires human input.
type AmbiguityError struct {
	WorkflowID string
	Phase      string
	Question   string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("ambiguity in workflow %s (phase %s): %s",
		e.WorkflowID, e.Phase, e.Question)
}

// VerificationFailure reports a failed post-step check. The workflow may not
// advance until it resolves via loop-back to implementation; if resolution
// would require departing from the plan, it escalates to an AmbiguityError.
type VerificationFailure struct {
	WorkflowID string
	StepID     string
	Check      string
	Output     string
}

func (e *VerificationFailure) Error() string {
	return fmt.Sprintf("verification failed for step %s (%s): %s",
		e.StepID, e.Check, e.Output)
}

// Package plan defines the Plan domain entity: the decision-complete
// artifact enumerating ordered, dependency-aware steps. The plan is owned
// exclusively by the planner until handed off; thereafter the implementer
// may only append completion markers, never alter step content.
package plan

import (
	"fmt"
	"time"
)

// StepStatus represents the lifecycle state of an individual step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// IsTerminal returns true if the step is in a final state.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusSkipped:
		return true
	}
	return false
}

// Step is one unit of work in a plan. Reads and Writes declare the step's
// file/resource footprint; the orchestrator rejects concurrent execution of
// steps with overlapping write targets.
type Step struct {
	ID          string     `json:"id"`
	PlanID      string     `json:"plan_id"`
	Description string     `json:"description"`
	DependsOn   []string   `json:"depends_on,omitempty"` // step indices ("0", "1") at creation time
	Reads       []string   `json:"reads,omitempty"`
	Writes      []string   `json:"writes,omitempty"`
	Status      StepStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Assumption records an explicit assumption the plan rests on.
type Assumption struct {
	Text        string `json:"text"`
	ConfirmedBy string `json:"confirmed_by,omitempty"`
}

// MarkerKind distinguishes completion from revision markers.
type MarkerKind string

const (
	MarkerImplemented MarkerKind = "implemented"
	MarkerRevised     MarkerKind = "revised"
)

// Marker is an append-only lifecycle annotation. Markers are never removed:
// an override preserves the prior completion marker alongside a new revision
// marker.
type Marker struct {
	Kind MarkerKind `json:"kind"`
	Note string     `json:"note,omitempty"`
	At   time.Time  `json:"at"`
}

// Plan is the ordered, dependency-aware step sequence for one workflow.
type Plan struct {
	ID          string       `json:"id"`
	WorkflowID  string       `json:"workflow_id"`
	TaskID      string       `json:"task_id"`
	Steps       []Step       `json:"steps"`
	Assumptions []Assumption `json:"assumptions,omitempty"`
	// Complete is the planner's decision-complete flag. It must be true
	// before a handoff to the implementer is accepted.
	Complete bool     `json:"complete"`
	Markers  []Marker `json:"markers,omitempty"`
	Version  int      `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AlreadyCompletedError reports re-entry into a plan whose implementation is
// already marked complete. Fatal unless an explicit override is supplied.
type AlreadyCompletedError struct {
	PlanID      string
	CompletedAt time.Time
}

func (e *AlreadyCompletedError) Error() string {
	return fmt.Sprintf("plan %s already completed at %s (pass override to revise)",
		e.PlanID, e.CompletedAt.Format(time.RFC3339))
}

// Implemented reports whether the plan carries a completion marker.
func (p *Plan) Implemented() bool {
	for i := range p.Markers {
		if p.Markers[i].Kind == MarkerImplemented {
			return true
		}
	}
	return false
}

// ImplementedAt returns the time of the first completion marker.
func (p *Plan) ImplementedAt() time.Time {
	for i := range p.Markers {
		if p.Markers[i].Kind == MarkerImplemented {
			return p.Markers[i].At
		}
	}
	return time.Time{}
}

// MarkImplemented appends a completion marker. Step content is untouched;
// markers are the only mutation the implementer may make to the plan.
func (p *Plan) MarkImplemented(note string, at time.Time) error {
	if p.Implemented() {
		return &AlreadyCompletedError{PlanID: p.ID, CompletedAt: p.ImplementedAt()}
	}
	p.Markers = append(p.Markers, Marker{Kind: MarkerImplemented, Note: note, At: at})
	return nil
}

// Revise appends a revision marker. Prior completion markers are preserved;
// history is append-only, never deleted.
func (p *Plan) Revise(note string, at time.Time) {
	p.Markers = append(p.Markers, Marker{Kind: MarkerRevised, Note: note, At: at})
}

// CreateRequest holds the fields for drafting a new plan.
type CreateRequest struct {
	WorkflowID  string              `json:"workflow_id"`
	TaskID      string              `json:"task_id"`
	Steps       []CreateStepRequest `json:"steps"`
	Assumptions []Assumption        `json:"assumptions,omitempty"`
}

// CreateStepRequest holds the fields for one step within a draft plan.
type CreateStepRequest struct {
	Description string   `json:"description"`
	DependsOn   []string `json:"depends_on,omitempty"` // step indices ("0", "1")
	Reads       []string `json:"reads,omitempty"`
	Writes      []string `json:"writes,omitempty"`
}

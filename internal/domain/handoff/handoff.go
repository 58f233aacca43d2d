// Package handoff provides the structured message type for role-to-role
// control transfer. A handoff is never free text: it carries an artifact
// reference and a directive whose semantics need no inference.
package handoff

import (
	"errors"
	"time"

	"github.com/mwaldron/foreman/internal/domain/capability"
)

// ArtifactKind identifies what kind of artifact a handoff carries.
type ArtifactKind string

const (
	ArtifactPlan      ArtifactKind = "plan"
	ArtifactChangeset ArtifactKind = "changeset"
	ArtifactReport    ArtifactKind = "report"
)

// Message is the atomic unit of control transfer between roles. Either the
// whole message takes effect — artifact transferred, directive recorded,
// source phase marked terminal — or none of it does.
type Message struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	SourceRole capability.Role `json:"source_role"`
	TargetRole capability.Role `json:"target_role"`

	ArtifactKind ArtifactKind `json:"artifact_kind"`
	ArtifactID   string       `json:"artifact_id"`
	Directive    string       `json:"directive"`

	// AutoStart true: the target role begins executing the directive
	// immediately. False: the artifact is only surfaced for human decision.
	AutoStart bool `json:"auto_start"`

	// Override allows re-entry into an already-completed plan. The prior
	// completion marker is annotated, never erased.
	Override bool `json:"override,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrSourceRequired    = errors.New("source role is required")
	ErrTargetRequired    = errors.New("target role is required")
	ErrSameRole          = errors.New("source and target roles must differ")
	ErrArtifactRequired  = errors.New("artifact id is required")
	ErrDirectiveRequired = errors.New("directive is required")
	ErrWorkflowRequired  = errors.New("workflow id is required")
)

// Validate checks that a Message has all required fields.
func (m *Message) Validate() error {
	if m.WorkflowID == "" {
		return ErrWorkflowRequired
	}
	if !m.SourceRole.Valid() {
		return ErrSourceRequired
	}
	if !m.TargetRole.Valid() {
		return ErrTargetRequired
	}
	if m.SourceRole == m.TargetRole {
		return ErrSameRole
	}
	if m.ArtifactID == "" {
		return ErrArtifactRequired
	}
	if m.Directive == "" {
		return ErrDirectiveRequired
	}
	return nil
}

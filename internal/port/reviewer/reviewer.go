// Package reviewer defines the reviewer agent port: an independent backend
// that examines an immutable changeset snapshot and reports findings. No
// reviewer may mutate the changeset; both passes are read-only.
package reviewer

import (
	"context"

	"github.com/mwaldron/foreman/internal/domain/review"
)

// Snapshot is the immutable view of one changeset handed to every reviewer.
// All reviewers receive the identical snapshot; no reviewer observes
// another's in-progress output.
type Snapshot struct {
	ChangesetID string            `json:"changeset_id"`
	Diff        string            `json:"diff"`
	Context     map[string]string `json:"context,omitempty"`
}

// Agent is the port interface for one reviewer backend.
type Agent interface {
	// ID returns the unique identifier for this reviewer.
	ID() string

	// Review performs the first pass: independent examination of the
	// snapshot, returning the reviewer's findings.
	Review(ctx context.Context, snap Snapshot) ([]review.Finding, error)

	// CrossGrade performs the second pass: given the full first-pass batch,
	// the agent returns verdicts on every foreign finding plus any issues
	// it additionally discovered. Read-only.
	CrossGrade(ctx context.Context, snap Snapshot, batch review.Batch) (review.CrossGradeResult, error)
}

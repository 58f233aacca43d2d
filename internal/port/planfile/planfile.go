// Package planfile defines the port for the designated plan artifact: the
// single well-known document a planner persists and an implementer stamps.
package planfile

import (
	"context"

	"github.com/mwaldron/foreman/internal/domain/plan"
)

// Artifact is the port interface for the plan document. Persisting through
// this port is the one non-mutating write a read-only phase may perform.
type Artifact interface {
	// Persist writes the full plan document to its fixed location,
	// replacing any previous content for the same plan.
	Persist(ctx context.Context, p *plan.Plan) error

	// Stamp prepends a lifecycle marker to the document. Markers accumulate;
	// a revision stamp never removes a prior completion stamp.
	Stamp(ctx context.Context, p *plan.Plan, m plan.Marker) error

	// Path returns the fixed location of the document for a plan.
	Path(planID string) string
}

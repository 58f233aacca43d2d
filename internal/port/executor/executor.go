// Package executor defines the step execution port: the backend that carries
// out one plan step against the workspace using an injected toolset.
package executor

import (
	"context"

	"github.com/mwaldron/foreman/internal/domain/plan"
	"github.com/mwaldron/foreman/internal/port/toolset"
)

// Executor is the port interface for running, verifying and compensating
// plan steps. The orchestrator chooses which toolset to inject based on the
// active role and phase; the executor never escalates beyond it.
type Executor interface {
	// RunStep performs one step. Returns only after the step's effects are
	// applied or an error left the workspace untouched for this step.
	// step.ID is the idempotency key for every externally visible effect:
	// it is assigned once when the plan is materialized and survives
	// verification loop-backs and crash-retries, so backends must key
	// outbound writes on it rather than on attempt-local state.
	RunStep(ctx context.Context, step *plan.Step, tools toolset.Write) error

	// VerifyStep runs the post-step checks for a completed step.
	// A non-nil error carries the check output.
	VerifyStep(ctx context.Context, step *plan.Step, tools toolset.ReadOnly) error

	// Compensate undoes the externally visible effects of a previously
	// completed step. Called in reverse completion order during rollback.
	Compensate(ctx context.Context, step *plan.Step, tools toolset.Write) error
}

// Package ciwatch defines the CI provider port: the three-call protocol the
// core consumes but does not implement.
package ciwatch

import (
	"context"
	"time"

	"github.com/mwaldron/foreman/internal/domain/ci"
)

// Watcher is the port interface for a CI provider.
type Watcher interface {
	// Discover returns the latest run for a branch.
	Discover(ctx context.Context, branchRef string) (ci.RunRef, error)

	// Watch blocks until the run reaches a terminal state or the bound is
	// exceeded, returning succeeded, failed or timeout.
	Watch(ctx context.Context, ref ci.RunRef, timeout time.Duration) (ci.Status, error)

	// FetchFailureExcerpt returns log text for a failed run. Invoked only
	// when Watch returned failed.
	FetchFailureExcerpt(ctx context.Context, ref ci.RunRef) (string, error)
}

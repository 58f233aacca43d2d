package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mwaldron/foreman/internal/domain/ci"
	"github.com/mwaldron/foreman/internal/port/ciwatch"
	"github.com/mwaldron/foreman/internal/port/messagequeue"
	"github.com/mwaldron/foreman/internal/resilience"
)

// ErrEmptyExcerpt is returned when a failed run yields no log excerpt; a
// failure outcome must always carry enough output to act on.
var ErrEmptyExcerpt = errors.New("ci provider returned empty failure excerpt")

// Outcome is the result of one CI watch: the terminal status and, for
// failures only, a log excerpt.
type Outcome struct {
	Ref     ci.RunRef `json:"ref"`
	Status  ci.Status `json:"status"`
	Excerpt string    `json:"excerpt,omitempty"`
}

// CIWatchService consumes a CI provider through the three-call protocol:
// discover the run, watch it to a terminal state within a bound, and fetch
// a failure excerpt only when the run failed. Provider calls go through a
// circuit breaker.
type CIWatchService struct {
	watcher ciwatch.Watcher
	queue   messagequeue.Queue
	breaker *resilience.Breaker
	timeout time.Duration
}

// NewCIWatchService creates a new CIWatchService.
func NewCIWatchService(watcher ciwatch.Watcher, queue messagequeue.Queue, breaker *resilience.Breaker, timeout time.Duration) *CIWatchService {
	return &CIWatchService{watcher: watcher, queue: queue, breaker: breaker, timeout: timeout}
}

// WatchBranch runs the full protocol for a branch and publishes the outcome.
// A successful run never triggers a log fetch; a failed run always does, and
// an empty excerpt is itself an error.
func (s *CIWatchService) WatchBranch(ctx context.Context, workflowID, branchRef string) (*Outcome, error) {
	var ref ci.RunRef
	err := s.breaker.Execute(func() error {
		var err error
		ref, err = s.watcher.Discover(ctx, branchRef)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("discover run for %s: %w", branchRef, err)
	}

	var status ci.Status
	err = s.breaker.Execute(func() error {
		var err error
		status, err = s.watcher.Watch(ctx, ref, s.timeout)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("watch run %s: %w", ref.ID, err)
	}

	out := &Outcome{Ref: ref, Status: status}
	if status == ci.StatusFailed {
		var excerpt string
		err = s.breaker.Execute(func() error {
			var err error
			excerpt, err = s.watcher.FetchFailureExcerpt(ctx, ref)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("fetch failure excerpt for run %s: %w", ref.ID, err)
		}
		if excerpt == "" {
			return nil, fmt.Errorf("run %s: %w", ref.ID, ErrEmptyExcerpt)
		}
		out.Excerpt = excerpt
	}

	s.publish(ctx, workflowID, out)
	slog.Info("ci watch resolved", "workflow_id", workflowID, "run_id", ref.ID, "status", status)
	return out, nil
}

func (s *CIWatchService) publish(ctx context.Context, workflowID string, out *Outcome) {
	if s.queue == nil {
		return
	}
	payload := struct {
		WorkflowID string `json:"workflow_id"`
		*Outcome
	}{WorkflowID: workflowID, Outcome: out}

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectCIStatusChanged, data); err != nil {
		slog.Warn("publish ci status", "workflow_id", workflowID, "error", err)
	}
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mwaldron/foreman/internal/domain/review"
	"github.com/mwaldron/foreman/internal/port/cache"
	"github.com/mwaldron/foreman/internal/port/database"
	"github.com/mwaldron/foreman/internal/port/messagequeue"
	"github.com/mwaldron/foreman/internal/port/reviewer"
)

// ErrNoReviewers is returned when a fan-out has no agents to dispatch to.
var ErrNoReviewers = errors.New("no reviewer agents configured")

// FanoutService dispatches one immutable changeset snapshot to every
// configured reviewer in parallel, waits for all of them to resolve within
// the per-reviewer bound, runs the cross-grade pass over the collected
// batch, and synthesizes the deduplicated report. Non-responding reviewers
// degrade coverage; they never block the barrier past the bound.
type FanoutService struct {
	db     database.Store
	queue  messagequeue.Queue
	cache  cache.Cache
	agents []reviewer.Agent

	timeout     time.Duration
	threshold   float64
	snapshotTTL time.Duration
}

// NewFanoutService creates a new FanoutService.
func NewFanoutService(
	db database.Store,
	queue messagequeue.Queue,
	c cache.Cache,
	agents []reviewer.Agent,
	timeout time.Duration,
	threshold float64,
	snapshotTTL time.Duration,
) *FanoutService {
	return &FanoutService{
		db:          db,
		queue:       queue,
		cache:       c,
		agents:      agents,
		timeout:     timeout,
		threshold:   threshold,
		snapshotTTL: snapshotTTL,
	}
}

// Run performs both review passes for a changeset and returns the stored
// report.
func (s *FanoutService) Run(ctx context.Context, workflowID string, snap reviewer.Snapshot) (*review.Report, error) {
	if len(s.agents) == 0 {
		return nil, ErrNoReviewers
	}

	s.cacheSnapshot(ctx, snap)

	if data, err := json.Marshal(snap); err == nil {
		if err := s.queue.Publish(ctx, messagequeue.SubjectReviewDispatch, data); err != nil {
			slog.Warn("publish review dispatch", "changeset_id", snap.ChangesetID, "error", err)
		}
	}

	batch := s.firstPass(ctx, snap)
	grades := s.crossGrade(ctx, snap, batch)

	report := review.Synthesize(batch, grades, s.threshold)
	report.ID = uuid.NewString()
	report.WorkflowID = workflowID
	report.CreatedAt = time.Now().UTC()

	if err := s.db.CreateReport(ctx, &report); err != nil {
		return nil, fmt.Errorf("store report: %w", err)
	}

	if data, err := json.Marshal(report); err == nil {
		if err := s.queue.Publish(ctx, messagequeue.SubjectReviewComplete, data); err != nil {
			slog.Warn("publish review complete", "report_id", report.ID, "error", err)
		}
	}

	slog.Info("review synthesized",
		"report_id", report.ID,
		"workflow_id", workflowID,
		"entries", len(report.Entries),
		"coverage", report.Coverage,
	)
	return &report, nil
}

// firstPass fans the snapshot out to every agent and blocks until each one
// resolved: responded, timed out, or failed.
func (s *FanoutService) firstPass(ctx context.Context, snap reviewer.Snapshot) review.Batch {
	results := make([]review.ReviewerResult, len(s.agents))

	var wg sync.WaitGroup
	for i, ag := range s.agents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.reviewOne(ctx, ag, snap)
		}()
	}
	wg.Wait()

	return review.Batch{ChangesetID: snap.ChangesetID, Results: results}
}

func (s *FanoutService) reviewOne(ctx context.Context, ag reviewer.Agent, snap reviewer.Snapshot) review.ReviewerResult {
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type outcome struct {
		findings []review.Finding
		err      error
	}
	// The agent call runs in its own goroutine so an agent that ignores its
	// context can only leak the goroutine, never hold the barrier past the
	// bound. The channel is buffered so the late sender never blocks.
	done := make(chan outcome, 1)
	go func() {
		findings, err := ag.Review(rctx, snap)
		done <- outcome{findings: findings, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-rctx.Done():
		out = outcome{err: rctx.Err()}
	}

	switch {
	case out.err == nil:
		return review.ReviewerResult{ReviewerID: ag.ID(), Status: review.ReviewerOK, Findings: out.findings}
	case errors.Is(out.err, context.DeadlineExceeded):
		slog.Warn("reviewer timed out", "reviewer_id", ag.ID(), "timeout", s.timeout)
		return review.ReviewerResult{ReviewerID: ag.ID(), Status: review.ReviewerTimeout, Error: out.err.Error()}
	default:
		slog.Warn("reviewer failed", "reviewer_id", ag.ID(), "error", out.err)
		return review.ReviewerResult{ReviewerID: ag.ID(), Status: review.ReviewerFailure, Error: out.err.Error()}
	}
}

// crossGrade starts only after every first-pass reviewer resolved: no grader
// may see a partial batch. Only responding reviewers grade.
func (s *FanoutService) crossGrade(ctx context.Context, snap reviewer.Snapshot, batch review.Batch) []review.CrossGradeResult {
	responding := make(map[string]bool)
	for _, id := range batch.Responding() {
		responding[id] = true
	}

	var (
		mu     sync.Mutex
		grades []review.CrossGradeResult
		wg     sync.WaitGroup
	)
	for _, ag := range s.agents {
		if !responding[ag.ID()] {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			gctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			type outcome struct {
				res review.CrossGradeResult
				err error
			}
			done := make(chan outcome, 1)
			go func() {
				res, err := ag.CrossGrade(gctx, snap, batch)
				done <- outcome{res: res, err: err}
			}()

			var out outcome
			select {
			case out = <-done:
			case <-gctx.Done():
				out = outcome{err: gctx.Err()}
			}
			if out.err != nil {
				slog.Warn("cross-grade failed", "reviewer_id", ag.ID(), "error", out.err)
				return
			}
			mu.Lock()
			grades = append(grades, out.res)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return grades
}

// cacheSnapshot keeps the immutable snapshot retrievable for the lifetime of
// the review, so late inspection never depends on the producer.
func (s *FanoutService) cacheSnapshot(ctx context.Context, snap reviewer.Snapshot) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, "snapshot:"+snap.ChangesetID, data, s.snapshotTTL); err != nil {
		slog.Warn("cache snapshot", "changeset_id", snap.ChangesetID, "error", err)
	}
}

// Snapshot returns the cached snapshot for a changeset, if still present.
func (s *FanoutService) Snapshot(ctx context.Context, changesetID string) (*reviewer.Snapshot, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, ok, err := s.cache.Get(ctx, "snapshot:"+changesetID)
	if err != nil || !ok {
		return nil, false
	}
	var snap reviewer.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false
	}
	return &snap, true
}

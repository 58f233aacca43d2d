package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mwaldron/foreman/internal/domain/capability"
	"github.com/mwaldron/foreman/internal/domain/phase"
	"github.com/mwaldron/foreman/internal/domain/plan"
	"github.com/mwaldron/foreman/internal/domain/workflow"
	"github.com/mwaldron/foreman/internal/port/database"
	"github.com/mwaldron/foreman/internal/port/executor"
	"github.com/mwaldron/foreman/internal/port/messagequeue"
	"github.com/mwaldron/foreman/internal/port/planfile"
	"github.com/mwaldron/foreman/internal/port/toolset"
)

// ImplementerService executes an approved plan: preparation, concurrent
// dependency-ordered step execution, verification with loop-back, then a
// completion marker on the plan. A failed step triggers saga-style
// compensation of every previously completed step, in reverse order.
type ImplementerService struct {
	db       database.Store
	queue    messagequeue.Queue
	gate     *capability.Gate
	artifact planfile.Artifact
	exec     executor.Executor
	tools    toolset.Write

	maxParallel   int
	verifyRetries int

	mu    sync.Mutex
	todos map[string]*TodoTracker
}

// NewImplementerService creates a new ImplementerService.
func NewImplementerService(
	db database.Store,
	queue messagequeue.Queue,
	gate *capability.Gate,
	artifact planfile.Artifact,
	exec executor.Executor,
	tools toolset.Write,
	maxParallel, verifyRetries int,
) *ImplementerService {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &ImplementerService{
		db:            db,
		queue:         queue,
		gate:          gate,
		artifact:      artifact,
		exec:          exec,
		tools:         tools,
		maxParallel:   maxParallel,
		verifyRetries: verifyRetries,
		todos:         make(map[string]*TodoTracker),
	}
}

// Todos returns the live checklist for a workflow, or nil when no execution
// has started.
func (s *ImplementerService) Todos(workflowID string) *TodoTracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.todos[workflowID]
}

// Execute runs the approved plan for a workflow. Re-entry into an
// already-implemented plan fails with AlreadyCompletedError before any
// mutation unless override is set; an override appends a revision marker
// and re-runs only steps still pending.
func (s *ImplementerService) Execute(ctx context.Context, workflowID string, override bool) error {
	wf, err := s.db.GetWorkflow(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}
	if wf.Status.IsTerminal() {
		return fmt.Errorf("workflow %s: %w", wf.ID, ErrWorkflowTerminal)
	}

	p, err := s.db.GetPlanByWorkflow(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	if !p.Complete {
		return fmt.Errorf("plan %s: %w", p.ID, ErrPlanIncomplete)
	}
	if p.Implemented() {
		if !override {
			// Rejected before any external state changes.
			return &plan.AlreadyCompletedError{PlanID: p.ID, CompletedAt: p.ImplementedAt()}
		}
		m := plan.Marker{Kind: plan.MarkerRevised, Note: "override re-entry", At: time.Now().UTC()}
		p.Revise(m.Note, m.At)
		if err := s.db.AppendPlanMarker(ctx, p.ID, m); err != nil {
			return fmt.Errorf("append revision marker: %w", err)
		}
		if s.artifact != nil {
			if err := s.artifact.Stamp(ctx, p, m); err != nil {
				slog.Warn("failed to stamp plan document", "plan_id", p.ID, "error", err)
			}
		}
	}

	run := &implementerRun{wf: wf, plan: p}
	machine, err := s.buildMachine(run)
	if err != nil {
		return err
	}

	tracker := NewTodoTracker(capability.RoleImplementer, p.Steps)
	s.mu.Lock()
	s.todos[workflowID] = tracker
	s.mu.Unlock()

	if err := machine.Start(ctx); err != nil {
		return err
	}
	if err := s.setPhase(ctx, workflowID, phase.Preparation); err != nil {
		return err
	}

	if err := machine.Advance(ctx, phase.Implementation); err != nil {
		return err
	}
	if err := s.setPhase(ctx, workflowID, phase.Implementation); err != nil {
		return err
	}

	if err := s.runSteps(ctx, run, tracker); err != nil {
		return err
	}

	if err := s.verifyLoop(ctx, machine, run, tracker); err != nil {
		return err
	}

	if err := machine.Advance(ctx, phase.Documentation); err != nil {
		return err
	}
	if err := s.setPhase(ctx, workflowID, phase.Documentation); err != nil {
		return err
	}
	run.documented = true

	if err := machine.Advance(ctx, phase.Completion); err != nil {
		return err
	}
	if err := s.setPhase(ctx, workflowID, phase.Completion); err != nil {
		return err
	}

	m := plan.Marker{Kind: plan.MarkerImplemented, Note: "all steps completed and verified", At: time.Now().UTC()}
	if err := p.MarkImplemented(m.Note, m.At); err != nil {
		// Only possible on an override re-run that already carried the marker.
		var ace *plan.AlreadyCompletedError
		if !errors.As(err, &ace) {
			return err
		}
	} else {
		if err := s.db.AppendPlanMarker(ctx, p.ID, m); err != nil {
			return fmt.Errorf("append completion marker: %w", err)
		}
		if s.artifact != nil {
			if err := s.artifact.Stamp(ctx, p, m); err != nil {
				slog.Warn("failed to stamp plan document", "plan_id", p.ID, "error", err)
			}
		}
	}

	publishEvent(ctx, s.queue, Event{
		Type:       "implementation_complete",
		WorkflowID: workflowID,
		Role:       string(capability.RoleImplementer),
		Phase:      string(phase.Completion),
	})
	slog.Info("implementation complete", "workflow_id", workflowID, "plan_id", p.ID)
	return nil
}

// implementerRun holds the mutable state the machine's predicates observe.
type implementerRun struct {
	wf   *workflow.Workflow
	plan *plan.Plan

	mu         sync.Mutex
	prepared   bool
	verified   bool
	documented bool
	completed  []*plan.Step // completion order, for reverse compensation
}

func (s *ImplementerService) buildMachine(run *implementerRun) (*phase.Machine, error) {
	return phase.NewImplementer(phase.ImplementerHooks{
		EnterPreparation: func(context.Context) error {
			run.mu.Lock()
			run.prepared = true
			run.mu.Unlock()
			return nil
		},
		Prepared: func(context.Context) (bool, string) {
			run.mu.Lock()
			defer run.mu.Unlock()
			if !run.prepared {
				return false, "plan context not loaded"
			}
			return true, ""
		},
		StepsDone: func(context.Context) (bool, string) {
			run.mu.Lock()
			defer run.mu.Unlock()
			if !plan.AllTerminal(run.plan.Steps) {
				return false, "steps remain"
			}
			if plan.AnyFailed(run.plan.Steps) {
				return false, "a step failed"
			}
			return true, ""
		},
		Verified: func(context.Context) (bool, string) {
			run.mu.Lock()
			defer run.mu.Unlock()
			if !run.verified {
				return false, "post-step checks pending"
			}
			return true, ""
		},
		Documented: func(context.Context) (bool, string) {
			run.mu.Lock()
			defer run.mu.Unlock()
			if !run.documented {
				return false, "documentation pending"
			}
			return true, ""
		},
	})
}

// runSteps executes pending steps wave by wave. Each wave holds only steps
// whose dependencies completed and whose declared write footprints are
// pairwise disjoint; conflicting steps wait for a later wave.
func (s *ImplementerService) runSteps(ctx context.Context, run *implementerRun, tracker *TodoTracker) error {
	// Write actions must be authorized for this role/phase before any
	// mutating tool is handed out.
	for _, a := range []capability.Action{capability.ActionFileCreate, capability.ActionFileModify, capability.ActionExecMutate} {
		if err := s.gate.Authorize(capability.RoleImplementer, string(phase.Implementation), a); err != nil {
			return err
		}
	}

	p := run.plan
	for {
		if err := ctx.Err(); err != nil {
			return s.cancel(context.WithoutCancel(ctx), run, err)
		}

		ready := plan.ReadySteps(p.Steps)
		if len(ready) == 0 {
			break
		}

		batch := s.disjointBatch(p, ready)
		if err := plan.CheckConcurrent(batch); err != nil {
			return err
		}

		// First externally visible effect: cancellation from here on must
		// compensate, not silently drop.
		if !run.wf.Mutated {
			if err := s.db.SetWorkflowMutated(ctx, run.wf.ID); err != nil {
				return fmt.Errorf("mark workflow mutated: %w", err)
			}
			run.wf.Mutated = true
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.maxParallel)
		for _, st := range batch {
			s.setStepStatus(ctx, run, tracker, st, plan.StepStatusRunning, "")
			g.Go(func() error {
				if err := s.exec.RunStep(gctx, st, s.tools); err != nil {
					s.setStepStatus(gctx, run, tracker, st, plan.StepStatusFailed, err.Error())
					return fmt.Errorf("step %s: %w", st.ID, err)
				}
				s.setStepStatus(gctx, run, tracker, st, plan.StepStatusCompleted, "")
				run.mu.Lock()
				run.completed = append(run.completed, st)
				run.mu.Unlock()
				publishEvent(gctx, s.queue, Event{
					Type:       "step_completed",
					WorkflowID: run.wf.ID,
					Detail:     st.ID,
				})
				publishStepEffect(gctx, s.queue, stepEffectKey(st), Event{
					Type:       "step_effect",
					WorkflowID: run.wf.ID,
					Detail:     st.ID,
				})
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return s.rollback(context.WithoutCancel(ctx), run, err)
		}
	}

	if plan.AnyFailed(p.Steps) {
		return s.rollback(context.WithoutCancel(ctx), run, errors.New("plan has failed steps"))
	}
	return nil
}

// disjointBatch greedily selects ready steps with pairwise disjoint write
// footprints, capped at the parallelism limit.
func (s *ImplementerService) disjointBatch(p *plan.Plan, readyIDs []string) []*plan.Step {
	byID := make(map[string]*plan.Step, len(p.Steps))
	for i := range p.Steps {
		byID[p.Steps[i].ID] = &p.Steps[i]
	}

	var batch []*plan.Step
	for _, id := range readyIDs {
		if len(batch) >= s.maxParallel {
			break
		}
		cand := byID[id]
		ok := true
		for _, sel := range batch {
			if !plan.WritesDisjoint(cand, sel) {
				ok = false
				break
			}
		}
		if ok {
			batch = append(batch, cand)
		}
	}
	return batch
}

// verifyLoop runs post-step checks, looping back to implementation on
// failure. After the retry budget is spent, resolution would mean departing
// from the plan, so the failure escalates as an ambiguity requiring human
// input rather than silently replanning.
func (s *ImplementerService) verifyLoop(ctx context.Context, machine *phase.Machine, run *implementerRun, tracker *TodoTracker) error {
	if err := machine.Advance(ctx, phase.Verification); err != nil {
		return err
	}
	if err := s.setPhase(ctx, run.wf.ID, phase.Verification); err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		failed := s.verify(ctx, run)
		if failed == nil {
			run.mu.Lock()
			run.verified = true
			run.mu.Unlock()
			return nil
		}

		if attempt >= s.verifyRetries {
			return &workflow.AmbiguityError{
				WorkflowID: run.wf.ID,
				Phase:      string(phase.Verification),
				Question:   fmt.Sprintf("check %q keeps failing for step %s; does resolving it require departing from the plan?", failed.Check, failed.StepID),
			}
		}

		// Loop back and re-run the failing step. Loop-backs bypass the exit
		// condition; a verification failure never advances the workflow.
		if err := machine.Advance(ctx, phase.Implementation); err != nil {
			return err
		}
		if err := s.setPhase(ctx, run.wf.ID, phase.Implementation); err != nil {
			return err
		}

		st := run.stepByID(failed.StepID)
		if st == nil {
			return failed
		}
		s.setStepStatus(ctx, run, tracker, st, plan.StepStatusRunning, "")
		if err := s.exec.RunStep(ctx, st, s.tools); err != nil {
			s.setStepStatus(ctx, run, tracker, st, plan.StepStatusFailed, err.Error())
			return s.rollback(context.WithoutCancel(ctx), run, err)
		}
		s.setStepStatus(ctx, run, tracker, st, plan.StepStatusCompleted, "")
		// Same key as the first run: the broker drops the duplicate, so
		// downstream consumers see the effect once per step.
		publishStepEffect(ctx, s.queue, stepEffectKey(st), Event{
			Type:       "step_effect",
			WorkflowID: run.wf.ID,
			Detail:     st.ID,
		})

		if err := machine.Advance(ctx, phase.Verification); err != nil {
			return err
		}
		if err := s.setPhase(ctx, run.wf.ID, phase.Verification); err != nil {
			return err
		}
	}
}

// verify checks every completed step, returning the first failure.
func (s *ImplementerService) verify(ctx context.Context, run *implementerRun) *workflow.VerificationFailure {
	for i := range run.plan.Steps {
		st := &run.plan.Steps[i]
		if st.Status != plan.StepStatusCompleted {
			continue
		}
		if err := s.exec.VerifyStep(ctx, st, s.tools); err != nil {
			return &workflow.VerificationFailure{
				WorkflowID: run.wf.ID,
				StepID:     st.ID,
				Check:      "post-step",
				Output:     err.Error(),
			}
		}
	}
	return nil
}

// rollback compensates every completed step in reverse completion order,
// then marks the workflow failed. The original error is returned; each
// compensation failure is logged, never masks it.
func (s *ImplementerService) rollback(ctx context.Context, run *implementerRun, cause error) error {
	run.mu.Lock()
	completed := append([]*plan.Step{}, run.completed...)
	run.mu.Unlock()

	for i := len(completed) - 1; i >= 0; i-- {
		st := completed[i]
		if err := s.exec.Compensate(ctx, st, s.tools); err != nil {
			slog.Error("compensation failed", "step_id", st.ID, "error", err)
			continue
		}
		publishEvent(ctx, s.queue, Event{
			Type:       "step_compensated",
			WorkflowID: run.wf.ID,
			Detail:     st.ID,
		})
		publishStepEffect(ctx, s.queue, stepCompensationKey(st), Event{
			Type:       "step_compensated",
			WorkflowID: run.wf.ID,
			Detail:     st.ID,
		})
	}

	if err := s.db.UpdateWorkflowStatus(ctx, run.wf.ID, workflow.StatusFailed, cause.Error()); err != nil {
		slog.Error("failed to mark workflow failed", "workflow_id", run.wf.ID, "error", err)
	}
	return cause
}

// cancel handles a context cancellation observed between waves. Before the
// first mutation the workflow stops cleanly with no side effects to undo;
// after it, completed steps are compensated and the partial state reported.
func (s *ImplementerService) cancel(ctx context.Context, run *implementerRun, cause error) error {
	if !run.wf.Mutated {
		if err := s.db.UpdateWorkflowStatus(ctx, run.wf.ID, workflow.StatusCancelled, "cancelled before any mutation"); err != nil {
			slog.Error("failed to mark workflow cancelled", "workflow_id", run.wf.ID, "error", err)
		}
		return cause
	}

	run.mu.Lock()
	completed := append([]*plan.Step{}, run.completed...)
	run.mu.Unlock()
	for i := len(completed) - 1; i >= 0; i-- {
		if err := s.exec.Compensate(ctx, completed[i], s.tools); err != nil {
			slog.Error("compensation failed", "step_id", completed[i].ID, "error", err)
		}
	}
	msg := fmt.Sprintf("cancelled after mutation; %d step(s) compensated", len(completed))
	if err := s.db.UpdateWorkflowStatus(ctx, run.wf.ID, workflow.StatusCancelled, msg); err != nil {
		slog.Error("failed to mark workflow cancelled", "workflow_id", run.wf.ID, "error", err)
	}
	return cause
}

func (s *ImplementerService) setStepStatus(ctx context.Context, run *implementerRun, tracker *TodoTracker, st *plan.Step, status plan.StepStatus, errMsg string) {
	run.mu.Lock()
	st.Status = status
	st.Error = errMsg
	st.UpdatedAt = time.Now().UTC()
	run.mu.Unlock()

	if err := s.db.UpdatePlanStepStatus(ctx, st.ID, status, errMsg); err != nil {
		slog.Warn("failed to persist step status", "step_id", st.ID, "status", status, "error", err)
	}
	if err := tracker.SetStatus(capability.RoleImplementer, st.ID, status); err != nil {
		slog.Warn("todo update rejected", "step_id", st.ID, "error", err)
	}
}

func (run *implementerRun) stepByID(id string) *plan.Step {
	for i := range run.plan.Steps {
		if run.plan.Steps[i].ID == id {
			return &run.plan.Steps[i]
		}
	}
	return nil
}

func (s *ImplementerService) setPhase(ctx context.Context, workflowID string, ph phase.ID) error {
	if err := s.db.UpdateWorkflowPhase(ctx, workflowID, string(capability.RoleImplementer), string(ph)); err != nil {
		return err
	}
	publishEvent(ctx, s.queue, Event{
		Type:       "phase_changed",
		WorkflowID: workflowID,
		Role:       string(capability.RoleImplementer),
		Phase:      string(ph),
	})
	return nil
}

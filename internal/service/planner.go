package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mwaldron/foreman/internal/domain/capability"
	"github.com/mwaldron/foreman/internal/domain/phase"
	"github.com/mwaldron/foreman/internal/domain/plan"
	"github.com/mwaldron/foreman/internal/domain/workflow"
	"github.com/mwaldron/foreman/internal/port/database"
	"github.com/mwaldron/foreman/internal/port/messagequeue"
	"github.com/mwaldron/foreman/internal/port/planfile"
)

var (
	// ErrNoSession is returned when no planning session exists for a workflow.
	ErrNoSession = errors.New("no planning session for workflow")

	// ErrNotInPhase rejects an operation invoked outside its phase.
	ErrNotInPhase = errors.New("operation not available in current phase")
)

// plannerSession holds the mutable state one planner machine's predicates
// observe. One session per workflow; the machine serializes transitions.
type plannerSession struct {
	machine *phase.Machine

	mu            sync.Mutex
	discoveryDone bool
	openQuestions []string
	draft         *plan.Plan
	approvedBy    string
}

// PlannerService drives a planner through discovery, alignment, design and
// refinement until the plan is approved and decision-complete. Every phase
// is read-only: the only persistence the planner performs is the designated
// plan artifact, checked through the capability gate.
type PlannerService struct {
	db       database.Store
	queue    messagequeue.Queue
	gate     *capability.Gate
	artifact planfile.Artifact

	mu       sync.Mutex
	sessions map[string]*plannerSession
}

// NewPlannerService creates a new PlannerService.
func NewPlannerService(db database.Store, queue messagequeue.Queue, gate *capability.Gate, artifact planfile.Artifact) *PlannerService {
	return &PlannerService{
		db:       db,
		queue:    queue,
		gate:     gate,
		artifact: artifact,
		sessions: make(map[string]*plannerSession),
	}
}

// StartPlanning opens a planning session for the workflow and enters
// discovery.
func (s *PlannerService) StartPlanning(ctx context.Context, workflowID string) error {
	wf, err := s.db.GetWorkflow(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}
	if wf.Status.IsTerminal() {
		return fmt.Errorf("workflow %s: %w", wf.ID, ErrWorkflowTerminal)
	}

	sess := &plannerSession{}
	m, err := phase.NewPlanner(phase.PlannerHooks{
		DiscoveryDone: func(context.Context) (bool, string) {
			sess.mu.Lock()
			defer sess.mu.Unlock()
			if !sess.discoveryDone {
				return false, "discovery not finished"
			}
			return true, ""
		},
		NoOpenQuestions: func(context.Context) (bool, string) {
			sess.mu.Lock()
			defer sess.mu.Unlock()
			if n := len(sess.openQuestions); n > 0 {
				return false, fmt.Sprintf("%d open question(s) remain", n)
			}
			return true, ""
		},
		DesignComplete: func(context.Context) (bool, string) {
			sess.mu.Lock()
			defer sess.mu.Unlock()
			if sess.draft == nil {
				return false, "no plan draft persisted"
			}
			return true, ""
		},
		Approved: func(context.Context) (bool, string) {
			sess.mu.Lock()
			defer sess.mu.Unlock()
			if sess.approvedBy == "" {
				return false, "plan not approved"
			}
			return true, ""
		},
	})
	if err != nil {
		return fmt.Errorf("build planner machine: %w", err)
	}
	sess.machine = m

	if err := m.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.sessions[workflowID] = sess
	s.mu.Unlock()

	if err := s.db.UpdateWorkflowStatus(ctx, workflowID, workflow.StatusPlanning, ""); err != nil {
		return err
	}
	return s.setPhase(ctx, workflowID, phase.Discovery)
}

// FinishDiscovery records discovery output: the list of clarification
// questions surfaced, possibly empty. The planner then moves to alignment.
func (s *PlannerService) FinishDiscovery(ctx context.Context, workflowID string, questions []string) error {
	sess, err := s.session(workflowID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	sess.discoveryDone = true
	sess.openQuestions = append([]string{}, questions...)
	sess.mu.Unlock()

	if err := sess.machine.Advance(ctx, phase.Alignment); err != nil {
		return err
	}
	return s.setPhase(ctx, workflowID, phase.Alignment)
}

// AnswerQuestion resolves one open clarification question.
func (s *PlannerService) AnswerQuestion(ctx context.Context, workflowID, question string) error {
	sess, err := s.session(workflowID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	for i, q := range sess.openQuestions {
		if q == question {
			sess.openQuestions = append(sess.openQuestions[:i], sess.openQuestions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("question %q is not open", question)
}

// ReopenDiscovery loops back from alignment when an answer surfaces new
// unknowns. Loop-backs are always open; no exit condition applies.
func (s *PlannerService) ReopenDiscovery(ctx context.Context, workflowID string) error {
	sess, err := s.session(workflowID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	sess.discoveryDone = false
	sess.mu.Unlock()

	if err := sess.machine.Advance(ctx, phase.Discovery); err != nil {
		return err
	}
	return s.setPhase(ctx, workflowID, phase.Discovery)
}

// BeginDesign moves from alignment to design. Rejected while clarification
// questions remain open.
func (s *PlannerService) BeginDesign(ctx context.Context, workflowID string) error {
	sess, err := s.session(workflowID)
	if err != nil {
		return err
	}
	if err := sess.machine.Advance(ctx, phase.Design); err != nil {
		return err
	}
	return s.setPhase(ctx, workflowID, phase.Design)
}

// DraftPlan materializes and persists the plan artifact. Step dependencies
// arrive as indices and are rewritten to step IDs. Persisting the designated
// artifact is authorized through the capability gate; it is the single write
// a read-only planning phase permits. First call moves design to refinement;
// subsequent calls during refinement replace the draft in place with a
// bumped version.
func (s *PlannerService) DraftPlan(ctx context.Context, workflowID string, req plan.CreateRequest) (*plan.Plan, error) {
	sess, err := s.session(workflowID)
	if err != nil {
		return nil, err
	}

	cur := sess.machine.Current()
	if cur != phase.Design && cur != phase.Refinement {
		return nil, fmt.Errorf("phase %s: %w", cur, ErrNotInPhase)
	}
	if err := s.gate.Authorize(capability.RolePlanner, string(cur), capability.ActionPersistPlan); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p := &plan.Plan{
		ID:          uuid.NewString(),
		WorkflowID:  req.WorkflowID,
		TaskID:      req.TaskID,
		Assumptions: req.Assumptions,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	sess.mu.Lock()
	if sess.draft != nil {
		// Revision request: same artifact, next version.
		p.ID = sess.draft.ID
		p.Version = sess.draft.Version + 1
		p.CreatedAt = sess.draft.CreatedAt
	}
	sess.mu.Unlock()

	p.Steps = materializeSteps(p.ID, req.Steps, now)

	if err := s.db.CreatePlan(ctx, p); err != nil {
		return nil, fmt.Errorf("persist plan: %w", err)
	}
	if s.artifact != nil {
		if err := s.artifact.Persist(ctx, p); err != nil {
			slog.Warn("failed to write plan document", "plan_id", p.ID, "error", err)
		}
	}

	sess.mu.Lock()
	sess.draft = p
	sess.mu.Unlock()

	if cur == phase.Design {
		if err := sess.machine.Advance(ctx, phase.Refinement); err != nil {
			return nil, err
		}
		if err := s.db.UpdateWorkflowStatus(ctx, workflowID, workflow.StatusAwaitingApproval, ""); err != nil {
			return nil, err
		}
		if err := s.setPhase(ctx, workflowID, phase.Refinement); err != nil {
			return nil, err
		}
	}

	slog.Info("plan drafted", "plan_id", p.ID, "workflow_id", workflowID, "version", p.Version, "steps", len(p.Steps))
	return p, nil
}

// ProposeAlternative loops refinement back to discovery for a materially
// different approach. The current draft stays persisted but approval resets.
func (s *PlannerService) ProposeAlternative(ctx context.Context, workflowID string) error {
	sess, err := s.session(workflowID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	sess.discoveryDone = false
	sess.approvedBy = ""
	sess.mu.Unlock()

	if err := sess.machine.Advance(ctx, phase.Discovery); err != nil {
		return err
	}
	if err := s.db.UpdateWorkflowStatus(ctx, workflowID, workflow.StatusPlanning, ""); err != nil {
		return err
	}
	return s.setPhase(ctx, workflowID, phase.Discovery)
}

// Approve records explicit user approval, marks the plan decision-complete
// and moves the planner to its terminal handoff-ready phase.
func (s *PlannerService) Approve(ctx context.Context, workflowID, approvedBy string) (*plan.Plan, error) {
	sess, err := s.session(workflowID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	draft := sess.draft
	sess.approvedBy = approvedBy
	sess.mu.Unlock()
	if draft == nil {
		return nil, fmt.Errorf("approve: %w", ErrNotInPhase)
	}

	if err := sess.machine.Advance(ctx, phase.HandoffReady); err != nil {
		sess.mu.Lock()
		sess.approvedBy = ""
		sess.mu.Unlock()
		return nil, err
	}

	if err := s.db.UpdatePlanComplete(ctx, draft.ID, true); err != nil {
		return nil, fmt.Errorf("mark plan complete: %w", err)
	}
	draft.Complete = true

	if err := s.setPhase(ctx, workflowID, phase.HandoffReady); err != nil {
		return nil, err
	}

	slog.Info("plan approved", "plan_id", draft.ID, "workflow_id", workflowID, "approved_by", approvedBy)
	return draft, nil
}

// OpenQuestions returns the outstanding clarification questions.
func (s *PlannerService) OpenQuestions(workflowID string) ([]string, error) {
	sess, err := s.session(workflowID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return append([]string{}, sess.openQuestions...), nil
}

// Phase returns the planner's current phase for a workflow.
func (s *PlannerService) Phase(workflowID string) (phase.ID, error) {
	sess, err := s.session(workflowID)
	if err != nil {
		return "", err
	}
	return sess.machine.Current(), nil
}

func (s *PlannerService) session(workflowID string) (*plannerSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[workflowID]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, ErrNoSession)
	}
	return sess, nil
}

func (s *PlannerService) setPhase(ctx context.Context, workflowID string, ph phase.ID) error {
	if err := s.db.UpdateWorkflowPhase(ctx, workflowID, string(capability.RolePlanner), string(ph)); err != nil {
		return err
	}
	publishEvent(ctx, s.queue, Event{
		Type:       "phase_changed",
		WorkflowID: workflowID,
		Role:       string(capability.RolePlanner),
		Phase:      string(ph),
	})
	return nil
}

// materializeSteps converts create-request steps into plan steps, rewriting
// index-based dependencies ("0", "1") to the generated step IDs.
func materializeSteps(planID string, reqs []plan.CreateStepRequest, now time.Time) []plan.Step {
	steps := make([]plan.Step, len(reqs))
	for i, r := range reqs {
		steps[i] = plan.Step{
			ID:          uuid.NewString(),
			PlanID:      planID,
			Description: r.Description,
			Reads:       r.Reads,
			Writes:      r.Writes,
			Status:      plan.StepStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}
	for i, r := range reqs {
		for _, dep := range r.DependsOn {
			// Validate already checked the index.
			idx, _ := strconv.Atoi(dep)
			steps[i].DependsOn = append(steps[i].DependsOn, steps[idx].ID)
		}
	}
	return steps
}

package service

import (
	"context"
	"errors"
	"testing"

	"github.com/mwaldron/foreman/internal/domain/capability"
	"github.com/mwaldron/foreman/internal/domain/phase"
	"github.com/mwaldron/foreman/internal/domain/plan"
	"github.com/mwaldron/foreman/internal/domain/workflow"
)

func newPlannerFixture(t *testing.T) (*PlannerService, *mockStore, *mockArtifact) {
	t.Helper()
	store := newMockStore()
	store.workflows["wf-1"] = &workflow.Workflow{ID: "wf-1", TaskID: "task-1", Status: workflow.StatusPending}
	artifact := &mockArtifact{}
	svc := NewPlannerService(store, newMockQueue(), capability.DefaultGate(), artifact)
	return svc, store, artifact
}

func draftRequest() plan.CreateRequest {
	return plan.CreateRequest{
		WorkflowID: "wf-1",
		TaskID:     "task-1",
		Steps: []plan.CreateStepRequest{
			{Description: "add handler", Writes: []string{"internal/http/handler.go"}},
			{Description: "wire route", DependsOn: []string{"0"}, Writes: []string{"internal/http/router.go"}},
		},
	}
}

func TestPlannerHappyPath(t *testing.T) {
	svc, store, artifact := newPlannerFixture(t)
	ctx := context.Background()

	if err := svc.StartPlanning(ctx, "wf-1"); err != nil {
		t.Fatal(err)
	}
	if store.workflows["wf-1"].Status != workflow.StatusPlanning {
		t.Error("expected planning status")
	}

	if err := svc.FinishDiscovery(ctx, "wf-1", nil); err != nil {
		t.Fatal(err)
	}
	if err := svc.BeginDesign(ctx, "wf-1"); err != nil {
		t.Fatal(err)
	}

	p, err := svc.DraftPlan(ctx, "wf-1", draftRequest())
	if err != nil {
		t.Fatal(err)
	}
	if artifact.persists != 1 {
		t.Error("draft must persist the plan document")
	}
	if ph, _ := svc.Phase("wf-1"); ph != phase.Refinement {
		t.Errorf("expected refinement after draft, got %s", ph)
	}
	if store.workflows["wf-1"].Status != workflow.StatusAwaitingApproval {
		t.Error("expected awaiting_approval during refinement")
	}

	// Dependencies were rewritten from indices to step IDs.
	if got := p.Steps[1].DependsOn[0]; got != p.Steps[0].ID {
		t.Errorf("expected dependency on first step ID, got %s", got)
	}

	approved, err := svc.Approve(ctx, "wf-1", "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if !approved.Complete {
		t.Error("approval must mark the plan decision-complete")
	}
	if ph, _ := svc.Phase("wf-1"); ph != phase.HandoffReady {
		t.Errorf("expected handoff_ready, got %s", ph)
	}
}

func TestPlannerBlocksDesignWhileQuestionsOpen(t *testing.T) {
	svc, _, _ := newPlannerFixture(t)
	ctx := context.Background()

	if err := svc.StartPlanning(ctx, "wf-1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.FinishDiscovery(ctx, "wf-1", []string{"which database?"}); err != nil {
		t.Fatal(err)
	}

	err := svc.BeginDesign(ctx, "wf-1")
	var te *phase.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}

	if err := svc.AnswerQuestion(ctx, "wf-1", "which database?"); err != nil {
		t.Fatal(err)
	}
	if err := svc.BeginDesign(ctx, "wf-1"); err != nil {
		t.Fatalf("expected design to open after answers, got %v", err)
	}
}

func TestPlannerReopenDiscoveryFromAlignment(t *testing.T) {
	svc, _, _ := newPlannerFixture(t)
	ctx := context.Background()

	if err := svc.StartPlanning(ctx, "wf-1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.FinishDiscovery(ctx, "wf-1", []string{"q"}); err != nil {
		t.Fatal(err)
	}
	// Loop-back works even though the question is still open.
	if err := svc.ReopenDiscovery(ctx, "wf-1"); err != nil {
		t.Fatal(err)
	}
	if ph, _ := svc.Phase("wf-1"); ph != phase.Discovery {
		t.Errorf("expected discovery, got %s", ph)
	}
}

func TestPlannerDraftRejectedOutsideDesign(t *testing.T) {
	svc, _, _ := newPlannerFixture(t)
	ctx := context.Background()

	if err := svc.StartPlanning(ctx, "wf-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.DraftPlan(ctx, "wf-1", draftRequest()); !errors.Is(err, ErrNotInPhase) {
		t.Fatalf("expected ErrNotInPhase in discovery, got %v", err)
	}
}

func TestPlannerRevisionBumpsVersion(t *testing.T) {
	svc, _, _ := newPlannerFixture(t)
	ctx := context.Background()

	if err := svc.StartPlanning(ctx, "wf-1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.FinishDiscovery(ctx, "wf-1", nil); err != nil {
		t.Fatal(err)
	}
	if err := svc.BeginDesign(ctx, "wf-1"); err != nil {
		t.Fatal(err)
	}

	p1, err := svc.DraftPlan(ctx, "wf-1", draftRequest())
	if err != nil {
		t.Fatal(err)
	}
	p2, err := svc.DraftPlan(ctx, "wf-1", draftRequest())
	if err != nil {
		t.Fatal(err)
	}
	if p2.ID != p1.ID {
		t.Error("revision must keep the same plan identity")
	}
	if p2.Version != p1.Version+1 {
		t.Errorf("expected version bump, got %d after %d", p2.Version, p1.Version)
	}
}

func TestPlannerProposeAlternativeLoopsBack(t *testing.T) {
	svc, store, _ := newPlannerFixture(t)
	ctx := context.Background()

	if err := svc.StartPlanning(ctx, "wf-1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.FinishDiscovery(ctx, "wf-1", nil); err != nil {
		t.Fatal(err)
	}
	if err := svc.BeginDesign(ctx, "wf-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.DraftPlan(ctx, "wf-1", draftRequest()); err != nil {
		t.Fatal(err)
	}

	if err := svc.ProposeAlternative(ctx, "wf-1"); err != nil {
		t.Fatal(err)
	}
	if ph, _ := svc.Phase("wf-1"); ph != phase.Discovery {
		t.Errorf("expected discovery, got %s", ph)
	}
	if store.workflows["wf-1"].Status != workflow.StatusPlanning {
		t.Error("expected planning status after loop-back")
	}
}

func TestPlannerNoSession(t *testing.T) {
	svc, _, _ := newPlannerFixture(t)
	if err := svc.FinishDiscovery(context.Background(), "unknown", nil); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

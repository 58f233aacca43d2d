package phase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mwaldron/foreman/internal/domain/phase"
)

// boolPred returns a predicate reading a flag pointer.
func boolPred(flag *bool, reason string) phase.Predicate {
	return func(_ context.Context) (bool, string) {
		return *flag, reason
	}
}

func TestForwardRejectedWhileExitFalse(t *testing.T) {
	ctx := context.Background()
	done := false
	entered := 0

	m, err := phase.NewPlanner(phase.PlannerHooks{
		DiscoveryDone: boolPred(&done, "still exploring"),
		EnterAlignment: func(_ context.Context) error {
			entered++
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}

	err = m.Advance(ctx, phase.Alignment)
	var te *phase.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if entered != 0 {
		t.Fatal("entry action ran although exit condition was false")
	}
	if m.Current() != phase.Discovery {
		t.Fatalf("expected to remain in discovery, got %s", m.Current())
	}

	done = true
	if err := m.Advance(ctx, phase.Alignment); err != nil {
		t.Fatal(err)
	}
	if entered != 1 {
		t.Fatalf("expected exactly one entry, got %d", entered)
	}
	if m.Current() != phase.Alignment {
		t.Fatalf("expected alignment, got %s", m.Current())
	}
}

func TestLoopBackBypassesExitCondition(t *testing.T) {
	ctx := context.Background()
	discoveryDone := true
	questionsResolved := false

	m, err := phase.NewPlanner(phase.PlannerHooks{
		DiscoveryDone:   boolPred(&discoveryDone, ""),
		NoOpenQuestions: boolPred(&questionsResolved, "open questions remain"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Advance(ctx, phase.Alignment); err != nil {
		t.Fatal(err)
	}

	// New unknowns surfaced: alignment may loop back to discovery even
	// though alignment's own exit condition is false.
	if err := m.Advance(ctx, phase.Discovery); err != nil {
		t.Fatalf("loop-back should bypass exit condition: %v", err)
	}
	if m.Current() != phase.Discovery {
		t.Fatalf("expected discovery, got %s", m.Current())
	}
}

func TestNoSuchEdgeRejected(t *testing.T) {
	ctx := context.Background()
	m, err := phase.NewPlanner(phase.PlannerHooks{})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	// Discovery has no edge to refinement.
	if err := m.Advance(ctx, phase.Refinement); err == nil {
		t.Fatal("expected rejection for undeclared edge")
	}
}

func TestPlannerTerminatesOnApproval(t *testing.T) {
	ctx := context.Background()
	approved := false

	m, err := phase.NewPlanner(phase.PlannerHooks{
		Approved: boolPred(&approved, "awaiting approval"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	for _, next := range []phase.ID{phase.Alignment, phase.Design, phase.Refinement} {
		if err := m.Advance(ctx, next); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Advance(ctx, phase.HandoffReady); err == nil {
		t.Fatal("expected rejection before approval")
	}
	// Revision request: stay in refinement — no transition happens.
	if m.Current() != phase.Refinement {
		t.Fatalf("expected refinement, got %s", m.Current())
	}

	approved = true
	if err := m.Advance(ctx, phase.HandoffReady); err != nil {
		t.Fatal(err)
	}
	if !m.InTerminal() {
		t.Fatal("handoff_ready should be terminal")
	}
}

func TestRefinementLoopsBackOnAlternative(t *testing.T) {
	ctx := context.Background()
	m, err := phase.NewPlanner(phase.PlannerHooks{})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	for _, next := range []phase.ID{phase.Alignment, phase.Design, phase.Refinement} {
		if err := m.Advance(ctx, next); err != nil {
			t.Fatal(err)
		}
	}
	// Materially different alternative proposed: back to discovery.
	if err := m.Advance(ctx, phase.Discovery); err != nil {
		t.Fatal(err)
	}
}

func TestVerificationLoopsBackToImplementation(t *testing.T) {
	ctx := context.Background()
	stepsDone := true
	verified := false

	m, err := phase.NewImplementer(phase.ImplementerHooks{
		Prepared:  boolPred(&stepsDone, ""),
		StepsDone: boolPred(&stepsDone, ""),
		Verified:  boolPred(&verified, "tests failing"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Advance(ctx, phase.Implementation); err != nil {
		t.Fatal(err)
	}
	if err := m.Advance(ctx, phase.Verification); err != nil {
		t.Fatal(err)
	}

	// Verification cannot advance forward while checks fail.
	if err := m.Advance(ctx, phase.Documentation); err == nil {
		t.Fatal("expected rejection while verification fails")
	}
	// It loops back to implementation, never forward.
	if err := m.Advance(ctx, phase.Implementation); err != nil {
		t.Fatal(err)
	}

	if err := m.Advance(ctx, phase.Verification); err != nil {
		t.Fatal(err)
	}
	verified = true
	if err := m.Advance(ctx, phase.Documentation); err != nil {
		t.Fatal(err)
	}
}

func TestEntryFailureKeepsCurrentPhase(t *testing.T) {
	ctx := context.Background()
	m, err := phase.NewPlanner(phase.PlannerHooks{
		EnterAlignment: func(_ context.Context) error {
			return errors.New("context load failed")
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Advance(ctx, phase.Alignment); err == nil {
		t.Fatal("expected entry failure")
	}
	if m.Current() != phase.Discovery {
		t.Fatalf("expected discovery after failed entry, got %s", m.Current())
	}
}

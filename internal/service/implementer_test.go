package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mwaldron/foreman/internal/domain/capability"
	"github.com/mwaldron/foreman/internal/domain/plan"
	"github.com/mwaldron/foreman/internal/domain/workflow"
	"github.com/mwaldron/foreman/internal/port/messagequeue"
	"github.com/mwaldron/foreman/internal/port/toolset"
)

// mockExecutor records step execution for assertions.
type mockExecutor struct {
	mu          sync.Mutex
	ran         []string
	compensated []string
	failStep    map[string]error
	verifyFail  map[string]int // remaining VerifyStep failures per step
	delay       time.Duration
	running     int
	maxRunning  int
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{failStep: make(map[string]error), verifyFail: make(map[string]int)}
}

func (e *mockExecutor) RunStep(_ context.Context, st *plan.Step, _ toolset.Write) error {
	e.mu.Lock()
	e.running++
	if e.running > e.maxRunning {
		e.maxRunning = e.running
	}
	e.ran = append(e.ran, st.ID)
	err := e.failStep[st.ID]
	e.mu.Unlock()

	if e.delay > 0 {
		time.Sleep(e.delay)
	}

	e.mu.Lock()
	e.running--
	e.mu.Unlock()
	return err
}

func (e *mockExecutor) VerifyStep(_ context.Context, st *plan.Step, _ toolset.ReadOnly) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n := e.verifyFail[st.ID]; n > 0 {
		e.verifyFail[st.ID] = n - 1
		return fmt.Errorf("check failed for %s", st.ID)
	}
	return nil
}

func (e *mockExecutor) Compensate(_ context.Context, st *plan.Step, _ toolset.Write) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compensated = append(e.compensated, st.ID)
	return nil
}

func (e *mockExecutor) runs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string{}, e.ran...)
}

func seedImplementerPlan(store *mockStore, steps []plan.Step) *plan.Plan {
	store.workflows["wf-1"] = &workflow.Workflow{ID: "wf-1", TaskID: "task-1", Status: workflow.StatusImplementing}
	p := &plan.Plan{ID: "plan-1", WorkflowID: "wf-1", TaskID: "task-1", Steps: steps, Complete: true}
	for i := range p.Steps {
		p.Steps[i].PlanID = p.ID
		if p.Steps[i].Status == "" {
			p.Steps[i].Status = plan.StepStatusPending
		}
	}
	store.plans[p.ID] = p
	return p
}

func newImplementerFixture(exec *mockExecutor, maxParallel, retries int) (*ImplementerService, *mockStore, *mockArtifact) {
	store := newMockStore()
	artifact := &mockArtifact{}
	svc := NewImplementerService(store, newMockQueue(), capability.DefaultGate(), artifact, exec, mockTools{}, maxParallel, retries)
	return svc, store, artifact
}

func TestExecuteHappyPath(t *testing.T) {
	exec := newMockExecutor()
	svc, store, artifact := newImplementerFixture(exec, 4, 1)
	p := seedImplementerPlan(store, []plan.Step{
		{ID: "a", Description: "first", Writes: []string{"a.go"}},
		{ID: "b", Description: "second", DependsOn: []string{"a"}, Writes: []string{"b.go"}},
	})

	if err := svc.Execute(context.Background(), "wf-1", false); err != nil {
		t.Fatal(err)
	}

	if got := exec.runs(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected dependency-ordered runs [a b], got %v", got)
	}
	if !p.Implemented() {
		t.Error("plan must carry a completion marker")
	}
	if len(artifact.stamps) != 1 || artifact.stamps[0].Kind != plan.MarkerImplemented {
		t.Error("plan document must be stamped with completion")
	}
	if tracker := svc.Todos("wf-1"); tracker == nil || tracker.Remaining() != 0 {
		t.Error("checklist must show every step terminal")
	}
	if !store.workflows["wf-1"].Mutated {
		t.Error("workflow must be marked mutated once steps ran")
	}
}

func TestExecuteAlreadyImplementedIsRejectedBeforeMutation(t *testing.T) {
	exec := newMockExecutor()
	svc, store, _ := newImplementerFixture(exec, 4, 1)
	p := seedImplementerPlan(store, []plan.Step{{ID: "a", Description: "first"}})
	p.Markers = []plan.Marker{{Kind: plan.MarkerImplemented, At: time.Now().Add(-time.Hour)}}

	err := svc.Execute(context.Background(), "wf-1", false)
	var ace *plan.AlreadyCompletedError
	if !errors.As(err, &ace) {
		t.Fatalf("expected AlreadyCompletedError, got %v", err)
	}
	if len(exec.runs()) != 0 {
		t.Error("no step may run on rejected re-entry")
	}
	if store.workflows["wf-1"].Mutated {
		t.Error("rejected re-entry must leave zero mutations")
	}
}

func TestExecuteOverrideAppendsRevisionAndRunsPending(t *testing.T) {
	exec := newMockExecutor()
	svc, store, _ := newImplementerFixture(exec, 4, 1)
	p := seedImplementerPlan(store, []plan.Step{
		{ID: "a", Description: "done already", Status: plan.StepStatusCompleted},
		{ID: "b", Description: "still pending"},
	})
	p.Markers = []plan.Marker{{Kind: plan.MarkerImplemented, At: time.Now().Add(-time.Hour)}}

	if err := svc.Execute(context.Background(), "wf-1", true); err != nil {
		t.Fatal(err)
	}

	if got := exec.runs(); len(got) != 1 || got[0] != "b" {
		t.Errorf("override must run only pending steps, got %v", got)
	}
	if p.Markers[0].Kind != plan.MarkerImplemented {
		t.Error("prior completion marker must survive the override")
	}
	foundRevision := false
	for _, m := range p.Markers {
		if m.Kind == plan.MarkerRevised {
			foundRevision = true
		}
	}
	if !foundRevision {
		t.Error("override must append a revision marker")
	}
}

func TestExecuteFailureCompensatesInReverseOrder(t *testing.T) {
	exec := newMockExecutor()
	exec.failStep["c"] = errors.New("boom")
	svc, store, _ := newImplementerFixture(exec, 1, 1)
	seedImplementerPlan(store, []plan.Step{
		{ID: "a", Description: "first"},
		{ID: "b", Description: "second", DependsOn: []string{"a"}},
		{ID: "c", Description: "third", DependsOn: []string{"b"}},
	})

	err := svc.Execute(context.Background(), "wf-1", false)
	if err == nil {
		t.Fatal("expected failure")
	}

	if len(exec.compensated) != 2 || exec.compensated[0] != "b" || exec.compensated[1] != "a" {
		t.Errorf("expected reverse-order compensation [b a], got %v", exec.compensated)
	}
	if store.workflows["wf-1"].Status != workflow.StatusFailed {
		t.Errorf("expected failed workflow, got %s", store.workflows["wf-1"].Status)
	}
}

func TestExecuteVerificationLoopsBackAndRecovers(t *testing.T) {
	exec := newMockExecutor()
	exec.verifyFail["a"] = 1
	svc, store, _ := newImplementerFixture(exec, 4, 3)
	p := seedImplementerPlan(store, []plan.Step{{ID: "a", Description: "flaky"}})

	if err := svc.Execute(context.Background(), "wf-1", false); err != nil {
		t.Fatal(err)
	}

	if got := exec.runs(); len(got) != 2 {
		t.Errorf("expected step re-run after loop-back, got %v", got)
	}
	if !p.Implemented() {
		t.Error("plan must complete after recovery")
	}
}

func TestExecuteVerificationExhaustionEscalates(t *testing.T) {
	exec := newMockExecutor()
	exec.verifyFail["a"] = 100
	svc, store, _ := newImplementerFixture(exec, 4, 2)
	seedImplementerPlan(store, []plan.Step{{ID: "a", Description: "stuck"}})

	err := svc.Execute(context.Background(), "wf-1", false)
	var amb *workflow.AmbiguityError
	if !errors.As(err, &amb) {
		t.Fatalf("expected AmbiguityError, got %v", err)
	}
	if amb.WorkflowID != "wf-1" {
		t.Errorf("unexpected workflow in ambiguity: %s", amb.WorkflowID)
	}
	if store.workflows["wf-1"].Status == workflow.StatusFailed {
		t.Error("ambiguity is not fatal; workflow must stay open for human input")
	}
}

func TestExecuteRerunPublishesSameEffectKey(t *testing.T) {
	exec := newMockExecutor()
	exec.verifyFail["a"] = 1
	store := newMockStore()
	queue := newMockQueue()
	svc := NewImplementerService(store, queue, capability.DefaultGate(), &mockArtifact{}, exec, mockTools{}, 4, 3)
	seedImplementerPlan(store, []plan.Step{{ID: "a", Description: "flaky"}})

	if err := svc.Execute(context.Background(), "wf-1", false); err != nil {
		t.Fatal(err)
	}

	if got := exec.runs(); len(got) != 2 {
		t.Fatalf("expected step re-run after loop-back, got %v", got)
	}
	keys := queue.keysFor(messagequeue.SubjectStepSideEffect)
	if len(keys) != 2 {
		t.Fatalf("expected one effect publish per run, got %v", keys)
	}
	if keys[0] != "step-effect:a" || keys[1] != keys[0] {
		t.Errorf("re-run must reuse the step's key for deduplication, got %v", keys)
	}
}

func TestExecuteRollbackPublishesCompensationKeys(t *testing.T) {
	exec := newMockExecutor()
	exec.failStep["b"] = errors.New("boom")
	store := newMockStore()
	queue := newMockQueue()
	svc := NewImplementerService(store, queue, capability.DefaultGate(), &mockArtifact{}, exec, mockTools{}, 1, 1)
	seedImplementerPlan(store, []plan.Step{
		{ID: "a", Description: "first"},
		{ID: "b", Description: "second", DependsOn: []string{"a"}},
	})

	if err := svc.Execute(context.Background(), "wf-1", false); err == nil {
		t.Fatal("expected failure")
	}

	keys := queue.keysFor(messagequeue.SubjectStepSideEffect)
	want := []string{"step-effect:a", "step-compensated:a"}
	if len(keys) != len(want) || keys[0] != want[0] || keys[1] != want[1] {
		t.Errorf("expected effect then compensation under step-derived keys, got %v", keys)
	}
}

func TestExecuteOverlappingWritesNeverRunConcurrently(t *testing.T) {
	exec := newMockExecutor()
	exec.delay = 20 * time.Millisecond
	svc, store, _ := newImplementerFixture(exec, 4, 1)
	seedImplementerPlan(store, []plan.Step{
		{ID: "a", Description: "writes shared", Writes: []string{"pkg/*.go"}},
		{ID: "b", Description: "also writes shared", Writes: []string{"pkg/util.go"}},
	})

	if err := svc.Execute(context.Background(), "wf-1", false); err != nil {
		t.Fatal(err)
	}
	if exec.maxRunning > 1 {
		t.Errorf("overlapping writers ran concurrently (max %d)", exec.maxRunning)
	}
}

func TestExecuteDisjointWritesRunConcurrently(t *testing.T) {
	exec := newMockExecutor()
	exec.delay = 20 * time.Millisecond
	svc, store, _ := newImplementerFixture(exec, 4, 1)
	seedImplementerPlan(store, []plan.Step{
		{ID: "a", Description: "writes a", Writes: []string{"a/a.go"}},
		{ID: "b", Description: "writes b", Writes: []string{"b/b.go"}},
	})

	if err := svc.Execute(context.Background(), "wf-1", false); err != nil {
		t.Fatal(err)
	}
	if exec.maxRunning < 2 {
		t.Errorf("disjoint writers should overlap, max concurrency was %d", exec.maxRunning)
	}
}

func TestExecuteCancelledBeforeMutationIsClean(t *testing.T) {
	exec := newMockExecutor()
	svc, store, _ := newImplementerFixture(exec, 4, 1)
	seedImplementerPlan(store, []plan.Step{{ID: "a", Description: "never runs"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.Execute(ctx, "wf-1", false)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if store.workflows["wf-1"].Status != workflow.StatusCancelled {
		t.Errorf("expected cancelled, got %s", store.workflows["wf-1"].Status)
	}
	if len(exec.runs()) != 0 || len(exec.compensated) != 0 {
		t.Error("clean cancellation must have no side effects")
	}
}

package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mwaldron/foreman/internal/domain"
	"github.com/mwaldron/foreman/internal/domain/capability"
	"github.com/mwaldron/foreman/internal/domain/handoff"
	"github.com/mwaldron/foreman/internal/domain/plan"
	"github.com/mwaldron/foreman/internal/domain/review"
	"github.com/mwaldron/foreman/internal/domain/task"
	"github.com/mwaldron/foreman/internal/domain/workflow"
	"github.com/mwaldron/foreman/internal/port/messagequeue"
	"github.com/mwaldron/foreman/internal/port/toolset"
)

// mockStore is an in-memory database.Store for service tests.
type mockStore struct {
	mu        sync.Mutex
	tasks     map[string]*task.Task
	workflows map[string]*workflow.Workflow
	plans     map[string]*plan.Plan
	handoffs  []handoff.Message
	reports   map[string]*review.Report

	failDeliver bool
}

func newMockStore() *mockStore {
	return &mockStore{
		tasks:     make(map[string]*task.Task),
		workflows: make(map[string]*workflow.Workflow),
		plans:     make(map[string]*plan.Plan),
		reports:   make(map[string]*review.Report),
	}
}

func (m *mockStore) CreateTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return nil
}

func (m *mockStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

func (m *mockStore) CreateWorkflow(_ context.Context, w *workflow.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[w.ID] = w
	return nil
}

func (m *mockStore) GetWorkflow(_ context.Context, id string) (*workflow.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workflows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *mockStore) ListWorkflows(_ context.Context) ([]workflow.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []workflow.Workflow
	for _, w := range m.workflows {
		out = append(out, *w)
	}
	return out, nil
}

func (m *mockStore) UpdateWorkflowStatus(_ context.Context, id string, status workflow.Status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workflows[id]
	if !ok {
		return domain.ErrNotFound
	}
	w.Status = status
	w.Error = errMsg
	w.UpdatedAt = time.Now()
	return nil
}

func (m *mockStore) UpdateWorkflowPhase(_ context.Context, id, role, ph string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workflows[id]
	if !ok {
		return domain.ErrNotFound
	}
	w.ActiveRole = capability.Role(role)
	w.Phase = ph
	return nil
}

func (m *mockStore) SetWorkflowMutated(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workflows[id]
	if !ok {
		return domain.ErrNotFound
	}
	w.Mutated = true
	return nil
}

func (m *mockStore) CreatePlan(_ context.Context, p *plan.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[p.ID] = p
	return nil
}

func (m *mockStore) GetPlan(_ context.Context, id string) (*plan.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (m *mockStore) GetPlanByWorkflow(_ context.Context, workflowID string) (*plan.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.plans {
		if p.WorkflowID == workflowID {
			return p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) UpdatePlanComplete(_ context.Context, id string, complete bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Complete = complete
	return nil
}

func (m *mockStore) AppendPlanMarker(_ context.Context, id string, mk plan.Marker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Markers = append(p.Markers, mk)
	return nil
}

func (m *mockStore) UpdatePlanStepStatus(_ context.Context, stepID string, status plan.StepStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.plans {
		for i := range p.Steps {
			if p.Steps[i].ID == stepID {
				p.Steps[i].Status = status
				p.Steps[i].Error = errMsg
				return nil
			}
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) RecordHandoff(_ context.Context, msg *handoff.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handoffs = append(m.handoffs, *msg)
	return nil
}

func (m *mockStore) DeliverHandoff(_ context.Context, msg *handoff.Message, status workflow.Status, marker *plan.Marker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDeliver {
		return fmt.Errorf("transaction aborted")
	}
	w, ok := m.workflows[msg.WorkflowID]
	if !ok {
		return domain.ErrNotFound
	}
	m.handoffs = append(m.handoffs, *msg)
	w.ActiveRole = msg.TargetRole
	w.Status = status
	if marker != nil {
		p, ok := m.plans[msg.ArtifactID]
		if !ok {
			return domain.ErrNotFound
		}
		p.Markers = append(p.Markers, *marker)
	}
	return nil
}

func (m *mockStore) ListHandoffs(_ context.Context, workflowID string) ([]handoff.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []handoff.Message
	for _, h := range m.handoffs {
		if h.WorkflowID == workflowID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *mockStore) CreateReport(_ context.Context, r *review.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.ID] = r
	return nil
}

func (m *mockStore) GetReport(_ context.Context, id string) (*review.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

func (m *mockStore) GetReportByWorkflow(_ context.Context, workflowID string) (*review.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reports {
		if r.WorkflowID == workflowID {
			return r, nil
		}
	}
	return nil, domain.ErrNotFound
}

// mockQueue records published messages and deduplication keys.
type mockQueue struct {
	mu        sync.Mutex
	published map[string][][]byte
	keys      map[string][]string
}

func newMockQueue() *mockQueue {
	return &mockQueue{
		published: make(map[string][][]byte),
		keys:      make(map[string][]string),
	}
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published[subject] = append(q.published[subject], data)
	return nil
}

func (q *mockQueue) PublishIdempotent(_ context.Context, subject, key string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published[subject] = append(q.published[subject], data)
	q.keys[subject] = append(q.keys[subject], key)
	return nil
}

func (q *mockQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

func (q *mockQueue) count(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published[subject])
}

func (q *mockQueue) keysFor(subject string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string{}, q.keys[subject]...)
}

// mockArtifact records plan document writes and stamps.
type mockArtifact struct {
	mu       sync.Mutex
	persists int
	stamps   []plan.Marker
}

func (a *mockArtifact) Persist(context.Context, *plan.Plan) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.persists++
	return nil
}

func (a *mockArtifact) Stamp(_ context.Context, _ *plan.Plan, m plan.Marker) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stamps = append(a.stamps, m)
	return nil
}

func (a *mockArtifact) Path(planID string) string { return "PLAN-" + planID + ".md" }

// mockTools is a no-op write toolset.
type mockTools struct{}

func (mockTools) Search(context.Context, string) ([]string, error)        { return nil, nil }
func (mockTools) Read(context.Context, string) ([]byte, error)            { return nil, nil }
func (mockTools) ExecRead(context.Context, string) (string, error)        { return "", nil }
func (mockTools) CreateFile(context.Context, string, []byte) error        { return nil }
func (mockTools) ModifyFile(context.Context, string, []byte) error        { return nil }
func (mockTools) DeleteFile(context.Context, string) error                { return nil }
func (mockTools) ExecMutate(context.Context, string) (string, error)      { return "", nil }

var _ toolset.Write = mockTools{}

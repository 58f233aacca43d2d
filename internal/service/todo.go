package service

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mwaldron/foreman/internal/domain/capability"
	"github.com/mwaldron/foreman/internal/domain/plan"
)

// ErrNotTodoOwner rejects a checklist write from anyone but the single
// active owner.
var ErrNotTodoOwner = errors.New("todo checklist is owned by another role")

// TodoItem is one checklist line mirroring a plan step.
type TodoItem struct {
	StepID      string          `json:"step_id"`
	Description string          `json:"description"`
	Status      plan.StepStatus `json:"status"`
}

// TodoTracker is the live checklist for one workflow. It mirrors plan step
// statuses and has exactly one writer at a time; ownership transfers with
// the handoff, never implicitly.
type TodoTracker struct {
	mu    sync.Mutex
	owner capability.Role
	items []TodoItem
	byID  map[string]int
}

// NewTodoTracker builds a checklist from the plan's steps, owned by the
// given role.
func NewTodoTracker(owner capability.Role, steps []plan.Step) *TodoTracker {
	t := &TodoTracker{
		owner: owner,
		items: make([]TodoItem, len(steps)),
		byID:  make(map[string]int, len(steps)),
	}
	for i := range steps {
		t.items[i] = TodoItem{
			StepID:      steps[i].ID,
			Description: steps[i].Description,
			Status:      steps[i].Status,
		}
		t.byID[steps[i].ID] = i
	}
	return t
}

// Owner returns the role currently allowed to write.
func (t *TodoTracker) Owner() capability.Role {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.owner
}

// Transfer hands ownership to another role. Only the current owner may
// transfer.
func (t *TodoTracker) Transfer(from, to capability.Role) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if from != t.owner {
		return fmt.Errorf("transfer by %s: %w", from, ErrNotTodoOwner)
	}
	t.owner = to
	return nil
}

// SetStatus updates one item. Writes from a non-owner role are rejected.
func (t *TodoTracker) SetStatus(role capability.Role, stepID string, status plan.StepStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if role != t.owner {
		return fmt.Errorf("write by %s: %w", role, ErrNotTodoOwner)
	}
	i, ok := t.byID[stepID]
	if !ok {
		return fmt.Errorf("unknown step %s", stepID)
	}
	t.items[i].Status = status
	return nil
}

// Items returns a copy of the checklist.
func (t *TodoTracker) Items() []TodoItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TodoItem{}, t.items...)
}

// Remaining returns the count of items not yet in a terminal state.
func (t *TodoTracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.items {
		if !t.items[i].Status.IsTerminal() {
			n++
		}
	}
	return n
}

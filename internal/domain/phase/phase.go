// Package phase implements the per-role phase state machine. Each phase has
// an entry action, an exit-condition predicate and a set of forward and
// loop-back edges. A forward transition is rejected while the current
// phase's exit condition is false; loop-back edges are always open, since
// they exist precisely for the case where the exit condition cannot be
// satisfied.
package phase

import (
	"context"
	"fmt"
	"sync"

	"github.com/mwaldron/foreman/internal/domain/capability"
)

// ID names a phase within a role's workflow.
type ID string

// Planner phases.
const (
	Discovery    ID = "discovery"
	Alignment    ID = "alignment"
	Design       ID = "design"
	Refinement   ID = "refinement"
	HandoffReady ID = "handoff_ready"
)

// Implementer phases.
const (
	Preparation    ID = "preparation"
	Implementation ID = "implementation"
	Verification   ID = "verification"
	Documentation  ID = "documentation"
	Completion     ID = "completion"
	PostReview     ID = "review"
)

// Predicate is a checkable exit condition. It returns whether the condition
// holds and, when it does not, a human-readable reason.
type Predicate func(ctx context.Context) (ok bool, reason string)

// EntryAction performs any required context load when a phase is entered.
type EntryAction func(ctx context.Context) error

// Definition describes one phase: its edges, entry action and exit condition.
// A nil Exit means the phase has no forward gate (terminal phases).
type Definition struct {
	ID       ID
	Entry    EntryAction
	Exit     Predicate
	Next     []ID
	LoopBack []ID
	Terminal bool
}

// TransitionError reports a rejected phase transition with full context.
type TransitionError struct {
	Role   capability.Role
	From   ID
	To     ID
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition rejected: role=%s %s -> %s: %s", e.Role, e.From, e.To, e.Reason)
}

// Machine drives one role through its ordered phases. Strictly one phase is
// active at a time; transitions happen only through Advance.
type Machine struct {
	role    capability.Role
	defs    map[ID]*Definition
	initial ID

	mu      sync.Mutex
	current ID
	started bool
}

// NewMachine builds a machine from phase definitions. Every edge must
// reference a defined phase.
func NewMachine(role capability.Role, initial ID, defs []Definition) (*Machine, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	m := &Machine{
		role:    role,
		defs:    make(map[ID]*Definition, len(defs)),
		initial: initial,
		current: initial,
	}
	for i := range defs {
		d := defs[i]
		if _, dup := m.defs[d.ID]; dup {
			return nil, fmt.Errorf("duplicate phase %q", d.ID)
		}
		m.defs[d.ID] = &d
	}
	if _, ok := m.defs[initial]; !ok {
		return nil, fmt.Errorf("initial phase %q not defined", initial)
	}
	for _, d := range m.defs {
		for _, edge := range append(append([]ID{}, d.Next...), d.LoopBack...) {
			if _, ok := m.defs[edge]; !ok {
				return nil, fmt.Errorf("phase %q has edge to undefined phase %q", d.ID, edge)
			}
		}
	}
	return m, nil
}

// Role returns the role this machine drives.
func (m *Machine) Role() capability.Role { return m.role }

// Current returns the active phase.
func (m *Machine) Current() ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// InTerminal reports whether the active phase is terminal.
func (m *Machine) InTerminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defs[m.current].Terminal
}

// Start runs the initial phase's entry action. It must be called once before
// Advance.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("machine for %s already started", m.role)
	}
	if entry := m.defs[m.initial].Entry; entry != nil {
		if err := entry(ctx); err != nil {
			return fmt.Errorf("enter %s: %w", m.initial, err)
		}
	}
	m.started = true
	return nil
}

// Advance moves to the given phase. Forward edges require the current
// phase's exit condition to evaluate true at the time of transition; the
// destination's entry action runs only after that check passes. Loop-back
// edges bypass the exit condition. Any other destination is rejected.
func (m *Machine) Advance(ctx context.Context, to ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return &TransitionError{Role: m.role, From: m.current, To: to, Reason: "machine not started"}
	}
	cur := m.defs[m.current]

	switch {
	case containsID(cur.Next, to):
		if cur.Exit != nil {
			ok, reason := cur.Exit(ctx)
			if !ok {
				return &TransitionError{Role: m.role, From: m.current, To: to, Reason: "exit condition false: " + reason}
			}
		}
	case containsID(cur.LoopBack, to):
		// Loop-backs are always open.
	default:
		return &TransitionError{Role: m.role, From: m.current, To: to, Reason: "no such edge"}
	}

	if entry := m.defs[to].Entry; entry != nil {
		if err := entry(ctx); err != nil {
			// Entry failed: remain in the current phase.
			return fmt.Errorf("enter %s: %w", to, err)
		}
	}
	m.current = to
	return nil
}

func containsID(ids []ID, id ID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

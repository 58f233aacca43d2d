// Package capability defines the role/phase capability model: which actions
// a role may perform while in a given phase. Phases are bound to exactly one
// toolset; the gate check is a pre-condition evaluated before any
// side-effecting action runs, never advisory and never retroactive.
package capability

import "fmt"

// Role identifies an agent role. Roles are a closed set; each role is bound
// statically to one capability table.
type Role string

const (
	RolePlanner     Role = "planner"
	RoleImplementer Role = "implementer"
	RoleReviewer    Role = "reviewer"
	RoleCIWatcher   Role = "ci_watcher"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePlanner, RoleImplementer, RoleReviewer, RoleCIWatcher:
		return true
	}
	return false
}

// Action is a category of operation an agent can request.
type Action string

const (
	ActionSearch      Action = "search"
	ActionRead        Action = "read"
	ActionExecRead    Action = "exec_readonly"
	ActionPersistPlan Action = "persist_plan" // the one designated plan artifact
	ActionFileCreate  Action = "file_create"
	ActionFileModify  Action = "file_modify"
	ActionFileDelete  Action = "file_delete"
	ActionExecMutate  Action = "exec_mutating"
)

// Mutating reports whether the action has side effects beyond the designated
// plan artifact.
func (a Action) Mutating() bool {
	switch a {
	case ActionFileCreate, ActionFileModify, ActionFileDelete, ActionExecMutate:
		return true
	}
	return false
}

// Toolset is a named permission scope. Each role/phase pair is bound to
// exactly one toolset.
type Toolset string

const (
	// ToolsetReadOnly permits search, read, read-only execution and
	// persisting the designated plan artifact.
	ToolsetReadOnly Toolset = "read_only"
	// ToolsetWrite additionally permits file creation, modification,
	// deletion and mutating process calls.
	ToolsetWrite Toolset = "write"
)

// Permits reports whether the toolset allows the action.
func (t Toolset) Permits(a Action) bool {
	switch t {
	case ToolsetReadOnly:
		return !a.Mutating()
	case ToolsetWrite:
		return true
	}
	return false
}

// Violation is returned when an action falls outside the granted capability
// set. It is fatal to the single action: the action is aborted before
// execution and no partial side effect occurs. The caller may still request
// a different, authorized action.
type Violation struct {
	Role   Role
	Phase  string
	Action Action
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("policy violation: role=%s phase=%s action=%s: %s",
		v.Role, v.Phase, v.Action, v.Reason)
}

// binding keys the gate table by role and phase name.
type binding struct {
	role  Role
	phase string
}

// Gate is the static capability table. It is built once at startup and read
// concurrently without locking; Bind must not be called after the gate is in
// use.
type Gate struct {
	bindings map[binding]Toolset
}

// NewGate returns an empty gate. Most callers want DefaultGate.
func NewGate() *Gate {
	return &Gate{bindings: make(map[binding]Toolset)}
}

// Bind assigns a toolset to a role/phase pair.
func (g *Gate) Bind(role Role, phase string, ts Toolset) {
	g.bindings[binding{role: role, phase: phase}] = ts
}

// ToolsetFor returns the toolset bound to the role/phase pair, or false if
// no binding exists.
func (g *Gate) ToolsetFor(role Role, phase string) (Toolset, bool) {
	ts, ok := g.bindings[binding{role: role, phase: phase}]
	return ts, ok
}

// Authorize checks whether the role, while in the given phase, may perform
// the action. Unknown role/phase pairs are denied (deny-by-default).
func (g *Gate) Authorize(role Role, phase string, action Action) error {
	ts, ok := g.bindings[binding{role: role, phase: phase}]
	if !ok {
		return &Violation{
			Role:   role,
			Phase:  phase,
			Action: action,
			Reason: "no capability binding for role/phase; deny by default",
		}
	}
	if !ts.Permits(action) {
		return &Violation{
			Role:   role,
			Phase:  phase,
			Action: action,
			Reason: fmt.Sprintf("action not permitted by %s toolset", ts),
		}
	}
	return nil
}

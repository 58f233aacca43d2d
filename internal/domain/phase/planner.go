package phase

import "github.com/mwaldron/foreman/internal/domain/capability"

// PlannerHooks supplies the entry actions and exit-condition predicates for
// the planner's phases. Nil hooks are treated as no-op entries and
// always-true exits.
type PlannerHooks struct {
	EnterDiscovery  EntryAction
	EnterAlignment  EntryAction
	EnterDesign     EntryAction
	EnterRefinement EntryAction

	// DiscoveryDone: the codebase and constraints are understood well
	// enough to surface questions.
	DiscoveryDone Predicate
	// NoOpenQuestions: no open clarification questions remain.
	NoOpenQuestions Predicate
	// DesignComplete: the plan draft covers every requirement.
	DesignComplete Predicate
	// Approved: the user explicitly approved the plan.
	Approved Predicate
}

// NewPlanner builds the planner machine:
//
//	Discovery -> Alignment -> Design -> Refinement -> HandoffReady
//
// Alignment loops back to Discovery when new unknowns surface. Refinement
// loops back to Discovery when a materially different alternative is
// proposed, stays put on revision requests (no transition), and terminates
// in HandoffReady on explicit approval.
func NewPlanner(h PlannerHooks) (*Machine, error) {
	return NewMachine(capability.RolePlanner, Discovery, []Definition{
		{
			ID:    Discovery,
			Entry: h.EnterDiscovery,
			Exit:  h.DiscoveryDone,
			Next:  []ID{Alignment},
		},
		{
			ID:       Alignment,
			Entry:    h.EnterAlignment,
			Exit:     h.NoOpenQuestions,
			Next:     []ID{Design},
			LoopBack: []ID{Discovery},
		},
		{
			ID:    Design,
			Entry: h.EnterDesign,
			Exit:  h.DesignComplete,
			Next:  []ID{Refinement},
		},
		{
			ID:       Refinement,
			Entry:    h.EnterRefinement,
			Exit:     h.Approved,
			Next:     []ID{HandoffReady},
			LoopBack: []ID{Discovery},
		},
		{
			ID:       HandoffReady,
			Terminal: true,
		},
	})
}

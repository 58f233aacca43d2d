package phase

import "github.com/mwaldron/foreman/internal/domain/capability"

// ImplementerHooks supplies the entry actions and exit predicates for the
// implementer's phases.
type ImplementerHooks struct {
	EnterPreparation    EntryAction
	EnterImplementation EntryAction
	EnterVerification   EntryAction
	EnterDocumentation  EntryAction
	EnterCompletion     EntryAction
	EnterPostReview     EntryAction

	// Prepared: workspace and plan context are loaded.
	Prepared Predicate
	// StepsDone: every plan step has reached a terminal state.
	StepsDone Predicate
	// Verified: all post-step checks pass.
	Verified Predicate
	// Documented: docs reflect the change.
	Documented Predicate
}

// NewImplementer builds the implementer machine:
//
//	Preparation -> Implementation -> Verification -> Documentation -> Completion [-> PostReview]
//
// Verification failures loop back to Implementation, never forward, until
// resolved or until the ambiguity requires human input.
func NewImplementer(h ImplementerHooks) (*Machine, error) {
	return NewMachine(capability.RoleImplementer, Preparation, []Definition{
		{
			ID:    Preparation,
			Entry: h.EnterPreparation,
			Exit:  h.Prepared,
			Next:  []ID{Implementation},
		},
		{
			ID:    Implementation,
			Entry: h.EnterImplementation,
			Exit:  h.StepsDone,
			Next:  []ID{Verification},
		},
		{
			ID:       Verification,
			Entry:    h.EnterVerification,
			Exit:     h.Verified,
			Next:     []ID{Documentation},
			LoopBack: []ID{Implementation},
		},
		{
			ID:    Documentation,
			Entry: h.EnterDocumentation,
			Exit:  h.Documented,
			Next:  []ID{Completion},
		},
		{
			ID:       Completion,
			Entry:    h.EnterCompletion,
			Next:     []ID{PostReview},
			Terminal: true,
		},
		{
			ID:       PostReview,
			Entry:    h.EnterPostReview,
			Terminal: true,
		},
	})
}

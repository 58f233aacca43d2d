package capability

// DefaultGate returns the standard capability table.
//
// The planner is read-only in every phase: it may search, read, run
// read-only commands and persist the plan artifact, nothing else. The
// implementer is read-only during preparation and during the post-completion
// review, and holds the write toolset while implementing, verifying and
// documenting. Reviewers and the CI watcher never mutate anything.
func DefaultGate() *Gate {
	g := NewGate()

	for _, phase := range []string{"discovery", "alignment", "design", "refinement"} {
		g.Bind(RolePlanner, phase, ToolsetReadOnly)
	}

	g.Bind(RoleImplementer, "preparation", ToolsetReadOnly)
	g.Bind(RoleImplementer, "implementation", ToolsetWrite)
	g.Bind(RoleImplementer, "verification", ToolsetWrite)
	g.Bind(RoleImplementer, "documentation", ToolsetWrite)
	g.Bind(RoleImplementer, "completion", ToolsetReadOnly)
	g.Bind(RoleImplementer, "review", ToolsetReadOnly)

	g.Bind(RoleReviewer, "first_pass", ToolsetReadOnly)
	g.Bind(RoleReviewer, "cross_grade", ToolsetReadOnly)

	g.Bind(RoleCIWatcher, "watch", ToolsetReadOnly)

	return g
}

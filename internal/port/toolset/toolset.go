// Package toolset defines the two tool permission surfaces injected per
// phase. Concrete tool implementations live outside the core; the
// orchestrator only ever sees one of these two interfaces, chosen by the
// capability gate for the active role and phase.
package toolset

import "context"

// ReadOnly is the non-mutating tool surface: search, read and read-only
// process execution.
type ReadOnly interface {
	// Search returns paths matching the query.
	Search(ctx context.Context, query string) ([]string, error)

	// Read returns the contents of a file.
	Read(ctx context.Context, path string) ([]byte, error)

	// ExecRead runs a command guaranteed to have no side effects and
	// returns its combined output.
	ExecRead(ctx context.Context, command string) (string, error)
}

// Write is the mutating tool surface. It embeds ReadOnly: every write phase
// may also search and read.
type Write interface {
	ReadOnly

	// CreateFile writes a new file.
	CreateFile(ctx context.Context, path string, data []byte) error

	// ModifyFile replaces the contents of an existing file.
	ModifyFile(ctx context.Context, path string, data []byte) error

	// DeleteFile removes a file.
	DeleteFile(ctx context.Context, path string) error

	// ExecMutate runs a command that may have side effects.
	ExecMutate(ctx context.Context, command string) (string, error)
}

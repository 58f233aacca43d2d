// Package ci defines the domain types for the CI watch protocol. The core
// consumes CI purely as a blocking dependency with bounded wait; provider
// mechanics live behind the port.
package ci

// RunRef identifies one CI run on a provider.
type RunRef struct {
	Provider string `json:"provider"`
	Branch   string `json:"branch"`
	ID       string `json:"id"`
}

// Status is the terminal (or bounded-wait) outcome of watching a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// Package task defines the Task domain entity: the immutable change request
// that enters a workflow.
package task

import (
	"errors"
	"time"
)

// Task is an opaque change request. Once accepted into a workflow it is
// never modified; all downstream state lives on the Plan and the Workflow.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	BranchRef   string    `json:"branch_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateRequest holds the fields for accepting a new task.
type CreateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	BranchRef   string `json:"branch_ref,omitempty"`
}

var (
	ErrTitleRequired       = errors.New("task title is required")
	ErrDescriptionRequired = errors.New("task description is required")
)

// Validate checks the create request for correctness.
func (r *CreateRequest) Validate() error {
	if r.Title == "" {
		return ErrTitleRequired
	}
	if r.Description == "" {
		return ErrDescriptionRequired
	}
	return nil
}

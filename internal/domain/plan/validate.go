package plan

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrWorkflowRequired = errors.New("workflow_id is required")
	ErrTaskRequired     = errors.New("task_id is required")
	ErrNoSteps          = errors.New("at least one step is required")
	ErrStepMissingDesc  = errors.New("step description is required")
	ErrDAGCycle         = errors.New("step dependencies contain a cycle")
	ErrDAGInvalidRef    = errors.New("step dependency references invalid index")
)

// Validate checks the CreateRequest for structural correctness.
func (r *CreateRequest) Validate() error {
	if r.WorkflowID == "" {
		return ErrWorkflowRequired
	}
	if r.TaskID == "" {
		return ErrTaskRequired
	}
	if len(r.Steps) == 0 {
		return ErrNoSteps
	}
	for i, s := range r.Steps {
		if s.Description == "" {
			return fmt.Errorf("step %d: %w", i, ErrStepMissingDesc)
		}
	}
	return validateDAG(r.Steps)
}

// validateDAG checks that step dependencies form a valid DAG using Kahn's algorithm.
func validateDAG(steps []CreateStepRequest) error {
	n := len(steps)
	inDegree := make([]int, n)
	adj := make([][]int, n)

	for i, s := range steps {
		for _, dep := range s.DependsOn {
			idx, err := strconv.Atoi(dep)
			if err != nil || idx < 0 || idx >= n {
				return fmt.Errorf("step %d depends on %q: %w", i, dep, ErrDAGInvalidRef)
			}
			if idx == i {
				return fmt.Errorf("step %d depends on itself: %w", i, ErrDAGCycle)
			}
			adj[idx] = append(adj[idx], i)
			inDegree[i]++
		}
	}

	queue := make([]int, 0, n)
	for i, d := range inDegree {
		if d == 0 {
			queue = append(queue, i)
		}
	}

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, neighbor := range adj[node] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				queue = append(queue, neighbor)
			}
		}
	}

	if visited != n {
		return ErrDAGCycle
	}
	return nil
}

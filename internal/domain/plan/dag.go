package plan

import (
	"errors"
	"fmt"
	"path"
)

// ReadySteps returns the IDs of steps that are pending and have all
// dependencies completed.
func ReadySteps(steps []Step) []string {
	completed := make(map[string]bool, len(steps))
	for i := range steps {
		if steps[i].Status == StepStatusCompleted {
			completed[steps[i].ID] = true
		}
	}

	var ready []string
	for i := range steps {
		if steps[i].Status != StepStatusPending {
			continue
		}
		allDepsComplete := true
		for _, dep := range steps[i].DependsOn {
			if !completed[dep] {
				allDepsComplete = false
				break
			}
		}
		if allDepsComplete {
			ready = append(ready, steps[i].ID)
		}
	}
	return ready
}

// RunningCount returns the number of steps currently running.
func RunningCount(steps []Step) int {
	count := 0
	for i := range steps {
		if steps[i].Status == StepStatusRunning {
			count++
		}
	}
	return count
}

// AllTerminal returns true if every step is in a terminal state.
func AllTerminal(steps []Step) bool {
	for i := range steps {
		if !steps[i].Status.IsTerminal() {
			return false
		}
	}
	return true
}

// AnyFailed returns true if at least one step has failed.
func AnyFailed(steps []Step) bool {
	for i := range steps {
		if steps[i].Status == StepStatusFailed {
			return true
		}
	}
	return false
}

// ErrOverlappingWrites is returned when steps proposed for concurrent
// execution declare write targets that collide.
var ErrOverlappingWrites = errors.New("steps have overlapping write targets")

// WritesDisjoint reports whether two steps declare disjoint write
// footprints. Write targets are glob patterns matched both ways, so
// "internal/*.go" collides with "internal/plan.go".
func WritesDisjoint(a, b *Step) bool {
	for _, wa := range a.Writes {
		for _, wb := range b.Writes {
			if wa == wb {
				return false
			}
			if ok, _ := path.Match(wa, wb); ok {
				return false
			}
			if ok, _ := path.Match(wb, wa); ok {
				return false
			}
		}
	}
	return true
}

// CheckConcurrent verifies that the given steps may execute concurrently:
// every pair must declare disjoint write footprints. The caller must reject
// the batch when this returns an error.
func CheckConcurrent(steps []*Step) error {
	for i := 0; i < len(steps); i++ {
		for j := i + 1; j < len(steps); j++ {
			if !WritesDisjoint(steps[i], steps[j]) {
				return fmt.Errorf("steps %s and %s: %w",
					steps[i].ID, steps[j].ID, ErrOverlappingWrites)
			}
		}
	}
	return nil
}

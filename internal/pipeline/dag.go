// Package pipeline resolves task graphs and runs them level by level.
package pipeline

import (
	"sort"

	"bqflow/internal/domain"
	"bqflow/internal/task"
)

// ResolveExecutionOrder collects roots and everything they transitively
// require, de-duplicated by ID, and orders them with Kahn's algorithm.
// Tasks in one level do not depend on each other and can run in parallel;
// levels are sorted by ID. Returns an error if the graph has a cycle.
func ResolveExecutionOrder(roots []task.Task) ([][]task.Task, error) {
	if len(roots) == 0 {
		return nil, nil
	}

	byID := make(map[string]task.Task)
	deps := make(map[string][]string)
	var walk func(t task.Task) error
	walk = func(t task.Task) error {
		id := t.ID()
		if _, seen := byID[id]; seen {
			return nil
		}
		byID[id] = t
		for _, req := range t.Requires() {
			if req.ID() == id {
				return domain.ErrValidation("self dependency: %s", id)
			}
			deps[id] = append(deps[id], req.ID())
			if err := walk(req); err != nil {
				return err
			}
		}
		return nil
	}
	for _, r := range roots {
		if err := walk(r); err != nil {
			return nil, err
		}
	}

	inDegree := make(map[string]int, len(byID))
	dependents := make(map[string][]string) // dep ID → IDs of tasks that require it
	for id := range byID {
		seen := make(map[string]bool)
		for _, dep := range deps[id] {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			dependents[dep] = append(dependents[dep], id)
		}
		inDegree[id] = len(seen)
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	var levels [][]task.Task
	processed := 0
	for len(queue) > 0 {
		sort.Strings(queue)
		level := make([]task.Task, len(queue))
		for i, id := range queue {
			level[i] = byID[id]
		}
		levels = append(levels, level)
		processed += len(queue)

		var next []string
		for _, id := range queue {
			for _, dep := range dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}

	if processed != len(byID) {
		return nil, domain.ErrValidation("cycle detected in task dependencies")
	}
	return levels, nil
}

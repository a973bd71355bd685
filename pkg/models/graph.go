package models

// TaskNode is the graph-analyzer's derived view of a Task: its resolved
// dependency/dependent sets, its depth, and whether it participates in a
// cycle.
type TaskNode struct {
	Task         *Task
	Dependencies []string
	Dependents   []string
	// Depth is the longest-path length from a root task (one with no
	// DependsOn), 0 for roots.
	Depth int
	// InCycle is true iff the node participates in a cycle (including a
	// self-loop). Cyclic nodes are excluded from parallel groups.
	InCycle bool
}

// ParallelGroup is a set of tasks with no dependencies among them,
// runnable in parallel once every earlier group has merged.
type ParallelGroup struct {
	Index       int
	Tasks       []*Task
	Depth       int
	MaxPriority int
}

// TaskIDs returns the ids of the tasks in the group, in group order.
func (g *ParallelGroup) TaskIDs() []string {
	ids := make([]string, len(g.Tasks))
	for i, t := range g.Tasks {
		ids[i] = t.ID
	}
	return ids
}

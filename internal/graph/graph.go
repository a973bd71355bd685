// Package graph builds the task dependency graph and groups actionable
// tasks into topologically-ordered ParallelGroups (spec.md §4.5).
package graph

import (
	"errors"
	"sort"
	"sync"

	"github.com/ralph-tui/ralph-tui/pkg/models"
)

// ErrUnknownDependency is returned when a task's DependsOn references a
// task id not present in the input set.
var ErrUnknownDependency = errors.New("graph: task depends on unknown task")

// Analysis is the result of analyzing a task set: every node with its
// computed depth and cycle membership, plus the ordered groups derived
// from depth.
type Analysis struct {
	Nodes              map[string]*models.TaskNode
	Groups             []models.ParallelGroup
	CyclicTaskIDs      []string
	ActionableCount    int
}

// Graph holds a built dependency structure over a task set and answers
// readiness/completion queries as tasks complete, independent of the
// one-shot Analyze entry point below.
type Graph struct {
	mu        sync.RWMutex
	nodes     map[string]*models.Task
	edges     map[string][]string // taskID -> ids it depends on
	completed map[string]bool
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		nodes:     make(map[string]*models.Task),
		edges:     make(map[string][]string),
		completed: make(map[string]bool),
	}
}

// Build registers tasks and their dependency edges. It returns
// ErrUnknownDependency if a task depends on an id outside the set; it
// does not itself reject cycles, since cycle handling is the
// analyzer's job (a cyclic node is reported, not a hard build failure).
func (g *Graph) Build(tasks []*models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, task := range tasks {
		g.nodes[task.ID] = task
		g.edges[task.ID] = nil
	}
	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if _, ok := g.nodes[depID]; !ok {
				return ErrUnknownDependency
			}
			g.edges[task.ID] = append(g.edges[task.ID], depID)
		}
	}
	return nil
}

// GetReady returns actionable task ids with every dependency already
// completed.
func (g *Graph) GetReady() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for id, task := range g.nodes {
		if g.completed[id] || !task.Actionable() {
			continue
		}
		allDone := true
		for _, depID := range g.edges[id] {
			if !g.completed[depID] {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}

// MarkComplete records a task as completed for subsequent GetReady calls.
func (g *Graph) MarkComplete(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[taskID] = true
}

// GetTask returns the task for id, or nil if unknown.
func (g *Graph) GetTask(id string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

// GetDependencies returns the ids a task depends on.
func (g *Graph) GetDependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[id]
}

// GetDependents returns the ids of tasks depending on id.
func (g *Graph) GetDependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var dependents []string
	for taskID, deps := range g.edges {
		for _, depID := range deps {
			if depID == id {
				dependents = append(dependents, taskID)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents
}

// Analyze runs the full spec.md §4.5 analyzer over tasks: cycle
// detection via DFS coloring, depth computation, and grouping by depth
// into ordered ParallelGroups. Cyclic tasks are marked InCycle and
// excluded from every group.
func Analyze(tasks []*models.Task) (*Analysis, error) {
	nodes := make(map[string]*models.TaskNode, len(tasks))
	edges := make(map[string][]string, len(tasks))
	byID := make(map[string]*models.Task, len(tasks))

	for _, t := range tasks {
		byID[t.ID] = t
		nodes[t.ID] = &models.TaskNode{Task: t}
	}
	for _, t := range tasks {
		for _, depID := range t.DependsOn {
			if _, ok := byID[depID]; !ok {
				continue // dependency outside this set: treated as already satisfied
			}
			edges[t.ID] = append(edges[t.ID], depID)
			nodes[depID].Dependents = append(nodes[depID].Dependents, t.ID)
			nodes[t.ID].Dependencies = append(nodes[t.ID].Dependencies, depID)
		}
	}

	cyclic := detectCycles(byID, edges)
	for id := range cyclic {
		nodes[id].InCycle = true
	}

	depth := make(map[string]int, len(tasks))
	var computeDepth func(id string) int
	computeDepth = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		if cyclic[id] {
			depth[id] = 0
			return 0
		}
		max := -1
		for _, depID := range edges[id] {
			if cyclic[depID] {
				continue
			}
			if d := computeDepth(depID); d > max {
				max = d
			}
		}
		d := max + 1
		depth[id] = d
		return d
	}

	for _, t := range tasks {
		nodes[t.ID].Depth = computeDepth(t.ID)
	}

	actionable := 0
	groupsByDepth := make(map[int][]string)
	for _, t := range tasks {
		if t.Actionable() && !cyclic[t.ID] {
			actionable++
			d := nodes[t.ID].Depth
			groupsByDepth[d] = append(groupsByDepth[d], t.ID)
		}
	}

	var depths []int
	for d := range groupsByDepth {
		depths = append(depths, d)
	}
	sort.Ints(depths)

	groups := make([]models.ParallelGroup, 0, len(depths))
	for idx, d := range depths {
		ids := groupsByDepth[d]
		sort.Strings(ids)
		groupTasks := make([]*models.Task, 0, len(ids))
		maxPriority := 0
		for _, id := range ids {
			task := byID[id]
			groupTasks = append(groupTasks, task)
			if task.Priority > maxPriority {
				maxPriority = task.Priority
			}
		}
		groups = append(groups, models.ParallelGroup{
			Index:       idx,
			Tasks:       groupTasks,
			Depth:       d,
			MaxPriority: maxPriority,
		})
	}

	cyclicIDs := make([]string, 0, len(cyclic))
	for id := range cyclic {
		cyclicIDs = append(cyclicIDs, id)
	}
	sort.Strings(cyclicIDs)

	return &Analysis{
		Nodes:           nodes,
		Groups:          groups,
		CyclicTaskIDs:   cyclicIDs,
		ActionableCount: actionable,
	}, nil
}

// detectCycles runs DFS with tricolor marking over the dependency edges
// and returns the set of task ids that participate in any cycle.
func detectCycles(byID map[string]*models.Task, edges map[string][]string) map[string]bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(byID))
	inCycle := make(map[string]bool)

	var stack []string
	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)

		for _, dep := range edges[id] {
			switch color[dep] {
			case gray:
				markCycle(stack, dep, inCycle)
			case white:
				visit(dep)
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if color[id] == white {
			visit(id)
		}
	}
	return inCycle
}

// markCycle marks every node on stack from the back edge's target
// onward as cyclic.
func markCycle(stack []string, target string, inCycle map[string]bool) {
	start := -1
	for i, id := range stack {
		if id == target {
			start = i
			break
		}
	}
	if start == -1 {
		return
	}
	for _, id := range stack[start:] {
		inCycle[id] = true
	}
}

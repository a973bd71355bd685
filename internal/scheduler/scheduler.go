// Package scheduler decides, per ParallelGroup, whether to run its
// tasks in parallel and how many workers to allocate (spec.md §4.5).
// The file-overlap heuristic that can force a group to run sequentially
// is injected as an OverlapChecker: deterministic and side-effect-free,
// per the spec's requirement that only the hook itself, not a specific
// heuristic, is mandated.
package scheduler

import (
	"strings"

	"github.com/ralph-tui/ralph-tui/pkg/models"
)

// OverlapChecker reports whether the tasks in a group show enough
// file-overlap signal that the group should run sequentially instead of
// in parallel. Implementations must be pure functions of the group.
type OverlapChecker func(group models.ParallelGroup) bool

// Decision is the scheduler's verdict for one group.
type Decision struct {
	Parallel    bool
	WorkerCount int
	Reason      string
}

// Scheduler applies the default-parallel policy with an injected overlap
// heuristic and a worker-count cap.
type Scheduler struct {
	maxWorkers int
	overlap    OverlapChecker
}

// New builds a Scheduler bounded at maxWorkers, using checker as the
// file-overlap heuristic. A nil checker disables sequentialization
// entirely (every eligible group runs parallel).
func New(maxWorkers int, checker OverlapChecker) *Scheduler {
	if checker == nil {
		checker = func(models.ParallelGroup) bool { return false }
	}
	return &Scheduler{maxWorkers: maxWorkers, overlap: checker}
}

// Plan decides parallelism for a single group: parallel by default when
// it has >=2 tasks and the overlap heuristic doesn't flag it
// sequential; worker count is min(groupSize, maxWorkers), or 1 when
// running sequentially.
func (s *Scheduler) Plan(group models.ParallelGroup) Decision {
	if len(group.Tasks) < 2 {
		return Decision{Parallel: false, WorkerCount: 1, Reason: "single task in group"}
	}
	if s.overlap(group) {
		return Decision{Parallel: false, WorkerCount: 1, Reason: "file-overlap heuristic flagged group"}
	}
	n := len(group.Tasks)
	if n > s.maxWorkers {
		n = s.maxWorkers
	}
	return Decision{Parallel: true, WorkerCount: n, Reason: "default parallel"}
}

// pathIndicators mirrors the common top-level directory names a task
// description tends to mention when it names the area it touches.
var pathIndicators = []string{
	"internal/", "pkg/", "cmd/", "src/", "lib/", "test/", "tests/",
	"server/", "client/", "backend/", "frontend/", "api/", "web/", "app/",
}

// ExtractPathPrefixes returns the directory prefixes a task's title and
// description mention, using the task's declared labels first (a label
// of the form "path:<prefix>") and falling back to scanning free text
// for a recognized top-level directory name.
func ExtractPathPrefixes(task *models.Task) []string {
	var prefixes []string
	for _, label := range task.Labels {
		if p, ok := strings.CutPrefix(label, "path:"); ok {
			prefixes = append(prefixes, p)
		}
	}
	if len(prefixes) > 0 {
		return prefixes
	}

	desc := task.Description + " " + task.Title
	for _, word := range strings.Fields(desc) {
		word = strings.Trim(word, ".,;:\"'`()[]{}*")
		for _, indicator := range pathIndicators {
			idx := strings.Index(word, indicator)
			if idx < 0 {
				continue
			}
			prefix := word[idx:]
			if !strings.HasSuffix(prefix, "/") {
				if lastSlash := strings.LastIndex(prefix, "/"); lastSlash > 0 {
					prefix = prefix[:lastSlash+1]
				}
			}
			prefixes = append(prefixes, prefix)
		}
	}
	return prefixes
}

// DescriptionPathOverlap is the default OverlapChecker: it flags a group
// sequential when the same extracted path prefix appears in two or more
// of its tasks, suggesting they would touch the same area of the tree.
func DescriptionPathOverlap(group models.ParallelGroup) bool {
	seen := make(map[string]string) // prefix -> owning task id
	for _, task := range group.Tasks {
		for _, prefix := range ExtractPathPrefixes(task) {
			if owner, ok := seen[prefix]; ok && owner != task.ID {
				return true
			}
			seen[prefix] = task.ID
		}
	}
	return false
}

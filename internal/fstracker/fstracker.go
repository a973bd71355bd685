// Package fstracker implements core.Tracker against a single
// human-editable YAML file of tasks, the reference Tracker the demo CLI
// wires in place of a real issue tracker. Grounded on internal/session's
// atomic write (temp file + rename in the same directory) and on the
// teacher's internal/prog package for the CRUD shape (create/get/list by
// epic/update-status), generalized from prog's SQLite-backed store to a
// flat file a user can hand-edit between runs.
package fstracker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ralph-tui/ralph-tui/pkg/core"
	"github.com/ralph-tui/ralph-tui/pkg/models"
)

// DefaultFileName is the file fstracker reads and writes within the
// project root.
const DefaultFileName = "tasks.yaml"

// file is the on-disk shape of the tasks file.
type file struct {
	Tasks []*models.Task `yaml:"tasks"`
}

// Tracker implements core.Tracker by loading path into memory on each
// call and rewriting it after CompleteTask, so a user can edit the file
// by hand between runs (e.g. adding a task or changing priority) and
// have those edits picked up on the executor's next GetTasks call.
type Tracker struct {
	path string
	mu   sync.Mutex
}

// New builds a Tracker reading and writing path.
func New(path string) *Tracker {
	return &Tracker{path: path}
}

// NewInDir builds a Tracker rooted at DefaultFileName under dir.
func NewInDir(dir string) *Tracker {
	return New(filepath.Join(dir, DefaultFileName))
}

func (t *Tracker) load() (*file, error) {
	data, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return &file{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fstracker: reading %s: %w", t.path, err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("fstracker: parsing %s: %w", t.path, err)
	}
	return &f, nil
}

// save writes f atomically: marshal to a temp file beside the target,
// then rename over it.
func (t *Tracker) save(f *file) error {
	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "tasks-*.yaml.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, t.path)
}

// GetTasks returns every task in the file, optionally narrowed by
// filter's Status and Epic fields.
func (t *Tracker) GetTasks(ctx context.Context, filter *core.TaskFilter) ([]*models.Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := t.load()
	if err != nil {
		return nil, err
	}
	if filter == nil {
		return f.Tasks, nil
	}

	var matched []*models.Task
	for _, task := range f.Tasks {
		if filter.Epic != "" && task.Epic != filter.Epic {
			continue
		}
		if len(filter.Status) > 0 && !containsStatus(filter.Status, task.Status) {
			continue
		}
		matched = append(matched, task)
	}
	return matched, nil
}

// CompleteTask marks id completed and persists the change.
func (t *Tracker) CompleteTask(ctx context.Context, id string) (core.CompleteTaskResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := t.load()
	if err != nil {
		return core.CompleteTaskResult{}, err
	}
	for _, task := range f.Tasks {
		if task.ID == id {
			task.Status = models.TaskStatusCompleted
			if err := t.save(f); err != nil {
				return core.CompleteTaskResult{}, err
			}
			return core.CompleteTaskResult{Success: true, Message: "marked completed"}, nil
		}
	}
	return core.CompleteTaskResult{Success: false, Message: "task not found"}, fmt.Errorf("fstracker: task %s not found", id)
}

// IsTaskReady reports whether every task id depends on is completed.
func (t *Tracker) IsTaskReady(ctx context.Context, id string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := t.load()
	if err != nil {
		return false, err
	}
	byID := make(map[string]*models.Task, len(f.Tasks))
	for _, task := range f.Tasks {
		byID[task.ID] = task
	}
	target, ok := byID[id]
	if !ok {
		return false, fmt.Errorf("fstracker: task %s not found", id)
	}
	for _, depID := range target.DependsOn {
		dep, ok := byID[depID]
		if !ok || dep.Status != models.TaskStatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

func containsStatus(statuses []models.TaskStatus, s models.TaskStatus) bool {
	for _, want := range statuses {
		if want == s {
			return true
		}
	}
	return false
}

var _ core.Tracker = (*Tracker)(nil)

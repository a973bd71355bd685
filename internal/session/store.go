// Package session persists and resumes the durable session-state
// checkpoint of spec.md §4.9: an atomic on-disk snapshot of the task
// graph's progress, written once per group after the merge queue
// drains.
package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/ralph-tui/ralph-tui/pkg/models"
)

// ErrNotFound is returned by Load when no session file exists at the
// given path.
var ErrNotFound = errors.New("session: no saved session found")

const fileName = "parallel-session.json"

// Store persists SessionState under <root>/.ralph-tui/.
type Store struct {
	dir string
}

// New builds a Store rooted at repoRoot's .ralph-tui directory.
func New(repoRoot string) *Store {
	return &Store{dir: filepath.Join(repoRoot, ".ralph-tui")}
}

func (s *Store) path() string {
	return filepath.Join(s.dir, fileName)
}

// Create builds a fresh SessionState for a new run.
func Create(sessionID string, graph models.SerializedGraph, originalBranch, sessionBranch, startTag string) *models.SessionState {
	now := time.Now()
	return &models.SessionState{
		SessionID:       sessionID,
		TaskGraph:       graph,
		SessionStartTag: startTag,
		StartedAt:       now,
		LastUpdatedAt:   now,
		OriginalBranch:  originalBranch,
		SessionBranch:   sessionBranch,
	}
}

// Save writes state atomically: marshal to a temp file in the same
// directory, then rename over the target path, so a crash mid-write
// never leaves a corrupt session file behind.
func (s *Store) Save(state *models.SessionState) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	state.LastUpdatedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "session-*.json.tmp")
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
	return os.Rename(tmpPath, s.path())
}

// Load reads the persisted SessionState, or ErrNotFound if none exists.
func (s *Store) Load() (*models.SessionState, error) {
	data, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var state models.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Exists reports whether a session file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path())
	return err == nil
}

// Delete removes the persisted session file. A missing file is not an
// error.
func (s *Store) Delete() error {
	err := os.Remove(s.path())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// UpdateAfterGroup advances the checkpoint after a group's merges have
// drained: it records the group index, folds in newly merged/failed ids,
// and saves. Pure: state is left untouched and the new, saved state is
// returned (spec.md §4.9: "all update helpers are pure... only save
// writes").
func (s *Store) UpdateAfterGroup(state *models.SessionState, groupIndex int, merged, failed []string) (*models.SessionState, error) {
	next := *state
	next.LastCompletedGroupIndex = groupIndex
	next.MergedTaskIDs = append(append([]string{}, state.MergedTaskIDs...), merged...)
	next.FailedTaskIDs = append(append([]string{}, state.FailedTaskIDs...), failed...)
	if err := s.Save(&next); err != nil {
		return nil, err
	}
	return &next, nil
}

// MarkTaskRequeued records a task that was returned to the pool after a
// conflict or escalation decided to retry it rather than skip it. Pure,
// like UpdateAfterGroup.
func (s *Store) MarkTaskRequeued(state *models.SessionState, taskID string) (*models.SessionState, error) {
	next := *state
	next.RequeuedTaskIDs = append(append([]string{}, state.RequeuedTaskIDs...), taskID)
	if err := s.Save(&next); err != nil {
		return nil, err
	}
	return &next, nil
}

package scheduler

import (
	"testing"

	"github.com/ralph-tui/ralph-tui/pkg/models"
)

func mkTask(id, desc string) *models.Task {
	return &models.Task{ID: id, Title: id, Description: desc}
}

func TestPlanDefaultsToParallel(t *testing.T) {
	s := New(4, nil)
	group := models.ParallelGroup{Tasks: []*models.Task{mkTask("a", ""), mkTask("b", "")}}
	d := s.Plan(group)
	if !d.Parallel || d.WorkerCount != 2 {
		t.Errorf("Plan = %+v, want parallel with 2 workers", d)
	}
}

func TestPlanCapsWorkerCount(t *testing.T) {
	s := New(2, nil)
	group := models.ParallelGroup{Tasks: []*models.Task{mkTask("a", ""), mkTask("b", ""), mkTask("c", "")}}
	d := s.Plan(group)
	if !d.Parallel || d.WorkerCount != 2 {
		t.Errorf("Plan = %+v, want parallel capped at 2", d)
	}
}

func TestPlanSingleTaskIsSequential(t *testing.T) {
	s := New(4, nil)
	group := models.ParallelGroup{Tasks: []*models.Task{mkTask("a", "")}}
	d := s.Plan(group)
	if d.Parallel || d.WorkerCount != 1 {
		t.Errorf("Plan = %+v, want sequential with 1 worker", d)
	}
}

func TestPlanHonorsOverlapChecker(t *testing.T) {
	s := New(4, func(models.ParallelGroup) bool { return true })
	group := models.ParallelGroup{Tasks: []*models.Task{mkTask("a", ""), mkTask("b", "")}}
	d := s.Plan(group)
	if d.Parallel {
		t.Errorf("Plan = %+v, want sequential when overlap checker flags group", d)
	}
}

func TestDescriptionPathOverlapDetectsSharedPrefix(t *testing.T) {
	group := models.ParallelGroup{
		Tasks: []*models.Task{
			mkTask("a", "update internal/graph/graph.go"),
			mkTask("b", "fix bug in internal/graph/cycle.go"),
		},
	}
	if !DescriptionPathOverlap(group) {
		t.Error("expected overlap to be detected for shared internal/graph/ prefix")
	}
}

func TestDescriptionPathOverlapNoOverlap(t *testing.T) {
	group := models.ParallelGroup{
		Tasks: []*models.Task{
			mkTask("a", "update internal/graph/graph.go"),
			mkTask("b", "fix bug in pkg/models/task.go"),
		},
	}
	if DescriptionPathOverlap(group) {
		t.Error("expected no overlap for disjoint prefixes")
	}
}

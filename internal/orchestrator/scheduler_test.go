package orchestrator

import (
	"testing"

	"github.com/tandem-dev/tandem/internal/graph"
	"github.com/tandem-dev/tandem/pkg/models"
)

func buildTestGraph(t *testing.T, tasks ...*models.Task) *graph.DependencyGraph {
	t.Helper()
	g := graph.New()
	if err := g.Build(tasks); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return g
}

func TestSchedule_RespectsWorkerCeiling(t *testing.T) {
	g := buildTestGraph(t, newTask("a"), newTask("b"), newTask("c"))
	s := NewScheduler(g, 2)

	batch := s.Schedule()
	if len(batch) != 2 {
		t.Fatalf("scheduled %d tasks, want 2", len(batch))
	}
	for _, task := range batch {
		s.OnTaskStart(task.ID)
		task.Status = models.TaskStatusRunning
	}

	if more := s.Schedule(); len(more) != 0 {
		t.Errorf("scheduled %d tasks with full slots, want 0", len(more))
	}

	s.OnTaskComplete(batch[0].ID, true)
	batch[0].Status = models.TaskStatusSucceeded

	if more := s.Schedule(); len(more) != 1 {
		t.Errorf("scheduled %d tasks after freeing a slot, want 1", len(more))
	}
}

func TestSchedule_DependenciesGate(t *testing.T) {
	g := buildTestGraph(t, newTask("a"), newTask("b", "a"))
	s := NewScheduler(g, 4)

	batch := s.Schedule()
	if len(batch) != 1 || batch[0].ID != "a" {
		t.Fatalf("expected only [a] schedulable, got %v", ids(batch))
	}
	s.OnTaskStart("a")
	batch[0].Status = models.TaskStatusRunning

	if more := s.Schedule(); len(more) != 0 {
		t.Errorf("b scheduled before a finished: %v", ids(more))
	}

	s.OnTaskComplete("a", true)
	batch[0].Status = models.TaskStatusSucceeded

	batch = s.Schedule()
	if len(batch) != 1 || batch[0].ID != "b" {
		t.Errorf("expected [b] after a succeeded, got %v", ids(batch))
	}
}

func TestSchedule_FailureBlocksDependents(t *testing.T) {
	g := buildTestGraph(t, newTask("a"), newTask("b", "a"))
	s := NewScheduler(g, 4)

	s.OnTaskStart("a")
	aTask := g.GetTask("a")
	aTask.Status = models.TaskStatusFailed
	s.OnTaskComplete("a", false)

	if batch := s.Schedule(); len(batch) != 0 {
		t.Errorf("dependent scheduled after failure: %v", ids(batch))
	}
}

func TestSchedule_PriorityOrder(t *testing.T) {
	low := newTask("low")
	low.Priority = 1
	high := newTask("high")
	high.Priority = 9
	mid := newTask("mid")
	mid.Priority = 5

	g := buildTestGraph(t, low, high, mid)
	s := NewScheduler(g, 2)

	batch := s.Schedule()
	if len(batch) != 2 {
		t.Fatalf("scheduled %d tasks, want 2", len(batch))
	}
	if batch[0].ID != "high" || batch[1].ID != "mid" {
		t.Errorf("priority order = %v, want [high mid]", ids(batch))
	}
}

func ids(tasks []*models.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.ID)
	}
	return out
}

package orchestrator

import (
	"testing"
	"time"

	"github.com/tandem-dev/tandem/pkg/models"
)

func succeededAt(task *models.Task, start, end time.Time) *models.Task {
	task.Status = models.TaskStatusSucceeded
	task.StartedAt = &start
	task.CompletedAt = &end
	return task
}

func TestConflictDetector_ConcurrentWriters(t *testing.T) {
	w1 := newTask("w1")
	w1.OutputTargets = []string{"config.json"}
	w2 := newTask("w2")
	w2.OutputTargets = []string{"config.json"}

	g := buildTestGraph(t, w1, w2)
	d := NewConflictDetector(PolicyManual, g)

	if conflicts := d.RecordCompletion(w1); len(conflicts) != 0 {
		t.Errorf("single writer must not conflict, got %v", conflicts)
	}

	conflicts := d.RecordCompletion(w2)
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	c := conflicts[0]
	if c.Resource != "config.json" {
		t.Errorf("resource = %s, want config.json", c.Resource)
	}
	if len(c.TaskIDs) != 2 {
		t.Errorf("task IDs = %v, want both writers", c.TaskIDs)
	}
	if c.Resolved {
		t.Error("manual policy must not resolve")
	}
}

func TestConflictDetector_OrderedWritersDoNotConflict(t *testing.T) {
	w1 := newTask("w1")
	w1.OutputTargets = []string{"config.json"}
	w2 := newTask("w2", "w1")
	w2.OutputTargets = []string{"config.json"}

	g := buildTestGraph(t, w1, w2)
	d := NewConflictDetector(PolicyManual, g)

	d.RecordCompletion(w1)
	if conflicts := d.RecordCompletion(w2); len(conflicts) != 0 {
		t.Errorf("sequenced writes must not conflict, got %v", conflicts)
	}
	if all := d.Conflicts(); len(all) != 0 {
		t.Errorf("Conflicts() = %v, want empty", all)
	}
}

func TestConflictDetector_LastWriterByPriority(t *testing.T) {
	now := time.Now()
	low := newTask("low")
	low.Priority = 1
	low.OutputTargets = []string{"main.go"}
	high := newTask("high")
	high.Priority = 9
	high.OutputTargets = []string{"main.go"}

	g := buildTestGraph(t, low, high)
	d := NewConflictDetector(PolicyLastWriterByPriority, g)

	d.RecordCompletion(succeededAt(low, now, now.Add(time.Second)))
	d.RecordCompletion(succeededAt(high, now, now.Add(2*time.Second)))

	conflicts := d.Conflicts()
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	if !conflicts[0].Resolved || conflicts[0].Winner != "high" {
		t.Errorf("winner = %q, want high", conflicts[0].Winner)
	}
}

func TestConflictDetector_LastWriterTiebreakByCompletion(t *testing.T) {
	now := time.Now()
	early := newTask("early")
	early.Priority = 3
	early.OutputTargets = []string{"main.go"}
	late := newTask("late")
	late.Priority = 3
	late.OutputTargets = []string{"main.go"}

	g := buildTestGraph(t, early, late)
	d := NewConflictDetector(PolicyLastWriterByPriority, g)

	d.RecordCompletion(succeededAt(early, now, now.Add(time.Second)))
	d.RecordCompletion(succeededAt(late, now, now.Add(5*time.Second)))

	conflicts := d.Conflicts()
	if len(conflicts) != 1 || conflicts[0].Winner != "late" {
		t.Errorf("equal priority must fall to latest completion, got %v", conflicts)
	}
}

func TestConflictDetector_FirstWriter(t *testing.T) {
	now := time.Now()
	first := newTask("first")
	first.OutputTargets = []string{"main.go"}
	second := newTask("second")
	second.OutputTargets = []string{"main.go"}

	g := buildTestGraph(t, first, second)
	d := NewConflictDetector(PolicyFirstWriter, g)

	d.RecordCompletion(succeededAt(first, now, now.Add(time.Second)))
	d.RecordCompletion(succeededAt(second, now.Add(time.Second), now.Add(2*time.Second)))

	conflicts := d.Conflicts()
	if len(conflicts) != 1 || conflicts[0].Winner != "first" {
		t.Errorf("first_writer must pick the earliest start, got %v", conflicts)
	}
}

func TestConflictDetector_ThreeWriters(t *testing.T) {
	g := buildTestGraph(t, newTask("a"), newTask("b"), newTask("c"))
	for _, id := range []string{"a", "b", "c"} {
		g.GetTask(id).OutputTargets = []string{"shared.txt"}
	}
	d := NewConflictDetector(PolicyManual, g)

	d.RecordCompletion(g.GetTask("a"))
	d.RecordCompletion(g.GetTask("b"))
	d.RecordCompletion(g.GetTask("c"))

	conflicts := d.Conflicts()
	if len(conflicts) != 1 {
		t.Fatalf("expected one conflict entry per resource, got %d", len(conflicts))
	}
	if len(conflicts[0].TaskIDs) != 3 {
		t.Errorf("task IDs = %v, want all three writers", conflicts[0].TaskIDs)
	}
}

package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tandem-dev/tandem/internal/graph"
	"github.com/tandem-dev/tandem/pkg/models"
)

func newTask(id string, deps ...string) *models.Task {
	return &models.Task{
		ID:        id,
		Type:      "test",
		Title:     id,
		Status:    models.TaskStatusPending,
		DependsOn: deps,
	}
}

// recordingExecutor runs scripted outcomes per task ID and remembers the
// order tasks started in.
type recordingExecutor struct {
	mu      sync.Mutex
	started []string
	fail    map[string]error
	results map[string]*ExecResult
	delay   map[string]time.Duration
	block   map[string]bool
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{
		fail:    make(map[string]error),
		results: make(map[string]*ExecResult),
		delay:   make(map[string]time.Duration),
		block:   make(map[string]bool),
	}
}

func (e *recordingExecutor) Execute(ctx context.Context, task *models.Task) (*ExecResult, error) {
	e.mu.Lock()
	e.started = append(e.started, task.ID)
	e.mu.Unlock()

	if e.block[task.ID] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d := e.delay[task.ID]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := e.fail[task.ID]; err != nil {
		return nil, err
	}
	if res := e.results[task.ID]; res != nil {
		return res, nil
	}
	return &ExecResult{Output: "ok"}, nil
}

func (e *recordingExecutor) startedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.started...)
}

func taskByID(tasks []*models.Task, id string) *models.Task {
	for _, t := range tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func TestRun_AllSucceed(t *testing.T) {
	exec := newRecordingExecutor()
	tasks := []*models.Task{newTask("a"), newTask("b", "a"), newTask("c", "a")}

	orch := New("req-1", tasks, WithLocalExecutor(exec), WithMaxWorkers(2))
	result, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	o := result.Orchestration
	if o.Status != models.OrchestrationCompleted {
		t.Errorf("status = %s, want completed", o.Status)
	}
	if o.CompletedTasks != 3 || o.FailedTasks != 0 || o.SkippedTasks != 0 {
		t.Errorf("counters = %d/%d/%d, want 3/0/0", o.CompletedTasks, o.FailedTasks, o.SkippedTasks)
	}
	for _, task := range result.Tasks {
		if task.Status != models.TaskStatusSucceeded {
			t.Errorf("task %s status = %s, want succeeded", task.ID, task.Status)
		}
		if task.StartedAt == nil || task.CompletedAt == nil {
			t.Errorf("task %s missing timestamps", task.ID)
		}
	}
	if got := exec.startedIDs(); got[0] != "a" {
		t.Errorf("root task must start first, got order %v", got)
	}
}

func TestRun_CascadingSkip(t *testing.T) {
	exec := newRecordingExecutor()
	exec.fail["t1"] = errors.New("boom")

	// Diamond: t2 and t3 depend on t1, t4 depends on both.
	tasks := []*models.Task{
		newTask("t1"),
		newTask("t2", "t1"),
		newTask("t3", "t1"),
		newTask("t4", "t2", "t3"),
	}

	orch := New("req-2", tasks, WithLocalExecutor(exec))
	result, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	o := result.Orchestration
	if o.Status != models.OrchestrationFailed {
		t.Errorf("status = %s, want failed", o.Status)
	}
	if o.CompletedTasks != 0 || o.FailedTasks != 1 || o.SkippedTasks != 3 {
		t.Errorf("counters = %d/%d/%d, want 0/1/3", o.CompletedTasks, o.FailedTasks, o.SkippedTasks)
	}

	if got := taskByID(result.Tasks, "t1").Status; got != models.TaskStatusFailed {
		t.Errorf("t1 status = %s, want failed", got)
	}
	for _, id := range []string{"t2", "t3", "t4"} {
		task := taskByID(result.Tasks, id)
		if task.Status != models.TaskStatusSkipped {
			t.Errorf("%s status = %s, want skipped", id, task.Status)
		}
		if !strings.Contains(task.Error, "t1") {
			t.Errorf("%s error should name the failed dependency, got %q", id, task.Error)
		}
	}

	// Skipped tasks never execute.
	if started := exec.startedIDs(); len(started) != 1 || started[0] != "t1" {
		t.Errorf("only t1 should have executed, got %v", started)
	}
}

func TestRun_PartialFailure(t *testing.T) {
	exec := newRecordingExecutor()
	exec.fail["b"] = errors.New("boom")

	tasks := []*models.Task{newTask("a"), newTask("b"), newTask("c", "b")}

	orch := New("req-3", tasks, WithLocalExecutor(exec))
	result, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	o := result.Orchestration
	if o.Status != models.OrchestrationPartiallyFailed {
		t.Errorf("status = %s, want partially_failed", o.Status)
	}
	if o.CompletedTasks+o.FailedTasks+o.SkippedTasks != o.TotalTasks {
		t.Errorf("counters %d+%d+%d do not partition %d tasks",
			o.CompletedTasks, o.FailedTasks, o.SkippedTasks, o.TotalTasks)
	}
}

func TestRun_CycleFailsBeforeDispatch(t *testing.T) {
	exec := newRecordingExecutor()
	tasks := []*models.Task{newTask("a", "b"), newTask("b", "a")}

	orch := New("req-4", tasks, WithLocalExecutor(exec))
	_, err := orch.Run(context.Background())

	var cycleErr *graph.CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *graph.CycleError, got %v", err)
	}
	if started := exec.startedIDs(); len(started) != 0 {
		t.Errorf("no task may execute on a cyclic graph, got %v", started)
	}
}

func TestRun_TaskTimeout(t *testing.T) {
	exec := newRecordingExecutor()
	exec.block["slow"] = true

	slow := newTask("slow")
	slow.Timeout = 20 * time.Millisecond

	orch := New("req-5", []*models.Task{slow}, WithLocalExecutor(exec))
	result, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	task := taskByID(result.Tasks, "slow")
	if task.Status != models.TaskStatusFailed {
		t.Errorf("status = %s, want failed", task.Status)
	}
	if !strings.Contains(task.Error, "timed out") {
		t.Errorf("error = %q, want timeout message", task.Error)
	}
	if result.Orchestration.Status != models.OrchestrationFailed {
		t.Errorf("orchestration status = %s, want failed", result.Orchestration.Status)
	}
}

func TestRun_Cancellation(t *testing.T) {
	exec := newRecordingExecutor()
	exec.block["a"] = true

	tasks := []*models.Task{newTask("a"), newTask("b", "a")}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	orch := New("req-6", tasks, WithLocalExecutor(exec))
	result, err := orch.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result == nil {
		t.Fatal("cancelled run must still return its partial result")
	}

	for _, task := range result.Tasks {
		if !task.Status.Terminal() {
			t.Errorf("task %s left non-terminal after cancellation: %s", task.ID, task.Status)
		}
	}
	if !result.Orchestration.Status.Terminal() {
		t.Errorf("orchestration left non-terminal: %s", result.Orchestration.Status)
	}
	// b never became ready, so it must not have started.
	for _, id := range exec.startedIDs() {
		if id == "b" {
			t.Error("b dispatched after cancellation")
		}
	}
}

func TestRun_ConflictDetection(t *testing.T) {
	exec := newRecordingExecutor()
	exec.results["w1"] = &ExecResult{Output: "one", OutputTargets: []string{"config.json"}}
	exec.results["w2"] = &ExecResult{Output: "two", OutputTargets: []string{"config.json"}}

	tasks := []*models.Task{newTask("w1"), newTask("w2")}

	orch := New("req-7", tasks,
		WithLocalExecutor(exec),
		WithConflictPolicy(PolicyManual),
		WithMaxWorkers(2))
	result, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Orchestration.Status != models.OrchestrationCompleted {
		t.Errorf("conflicts must not block completion, status = %s", result.Orchestration.Status)
	}
	if len(result.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(result.Conflicts))
	}

	conflict := result.Conflicts[0]
	if conflict.Resource != "config.json" {
		t.Errorf("conflict resource = %s, want config.json", conflict.Resource)
	}
	if len(conflict.TaskIDs) != 2 {
		t.Errorf("conflict task IDs = %v, want both writers", conflict.TaskIDs)
	}
	if conflict.Resolved {
		t.Error("manual policy must leave the conflict unresolved")
	}
}

func TestRun_NoConflictWhenOrdered(t *testing.T) {
	exec := newRecordingExecutor()
	exec.results["w1"] = &ExecResult{OutputTargets: []string{"config.json"}}
	exec.results["w2"] = &ExecResult{OutputTargets: []string{"config.json"}}

	// w2 depends on w1, so the writes are sequenced.
	tasks := []*models.Task{newTask("w1"), newTask("w2", "w1")}

	orch := New("req-8", tasks, WithLocalExecutor(exec))
	result, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Conflicts) != 0 {
		t.Errorf("dependency-ordered writes must not conflict, got %v", result.Conflicts)
	}
}

func TestRun_ConflictResolutionByPriority(t *testing.T) {
	exec := newRecordingExecutor()
	exec.results["low"] = &ExecResult{OutputTargets: []string{"main.go"}}
	exec.results["high"] = &ExecResult{OutputTargets: []string{"main.go"}}

	low := newTask("low")
	low.Priority = 1
	high := newTask("high")
	high.Priority = 5

	orch := New("req-9", []*models.Task{low, high},
		WithLocalExecutor(exec),
		WithConflictPolicy(PolicyLastWriterByPriority),
		WithMaxWorkers(2))
	result, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(result.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(result.Conflicts))
	}
	conflict := result.Conflicts[0]
	if !conflict.Resolved || conflict.Winner != "high" {
		t.Errorf("winner = %q (resolved=%v), want high", conflict.Winner, conflict.Resolved)
	}
}

func TestRun_MaxWorkersRespected(t *testing.T) {
	var mu sync.Mutex
	running, peak := 0, 0

	exec := NewLocalExecutor()
	exec.Register("test", func(ctx context.Context, task *models.Task) (*ExecResult, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
		return &ExecResult{}, nil
	})

	tasks := make([]*models.Task, 0, 6)
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		tasks = append(tasks, newTask(id))
	}

	orch := New("req-10", tasks, WithLocalExecutor(exec), WithMaxWorkers(2))
	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestRun_Events(t *testing.T) {
	exec := newRecordingExecutor()
	exec.fail["b"] = errors.New("boom")

	tasks := []*models.Task{newTask("a"), newTask("b")}
	orch := New("req-11", tasks, WithLocalExecutor(exec), WithMaxWorkers(2))

	var mu sync.Mutex
	seen := make(map[EventType]int)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range orch.Events() {
			mu.Lock()
			seen[e.Type]++
			mu.Unlock()
		}
	}()

	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	<-done

	if seen[EventTaskStarted] != 2 {
		t.Errorf("task_started events = %d, want 2", seen[EventTaskStarted])
	}
	if seen[EventTaskCompleted] != 1 || seen[EventTaskFailed] != 1 {
		t.Errorf("completed/failed events = %d/%d, want 1/1",
			seen[EventTaskCompleted], seen[EventTaskFailed])
	}
	if seen[EventOrchestrationDone] != 1 {
		t.Errorf("orchestration_done events = %d, want 1", seen[EventOrchestrationDone])
	}
}

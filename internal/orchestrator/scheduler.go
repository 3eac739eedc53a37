package orchestrator

import (
	"sort"
	"sync"

	"github.com/tandem-dev/tandem/internal/graph"
	"github.com/tandem-dev/tandem/pkg/models"
)

// Scheduler hands out ready tasks to available worker slots. A task is
// ready when every dependency has succeeded; the number of concurrently
// running tasks never exceeds the configured ceiling.
type Scheduler struct {
	// graph is the dependency graph of tasks.
	graph *graph.DependencyGraph
	// maxWorkers is the concurrency ceiling.
	maxWorkers int
	// running tracks task IDs currently executing.
	running map[string]bool
	// mu protects running.
	mu sync.RWMutex
}

// NewScheduler creates a Scheduler over the given graph and ceiling.
func NewScheduler(g *graph.DependencyGraph, maxWorkers int) *Scheduler {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	return &Scheduler{
		graph:      g,
		maxWorkers: maxWorkers,
		running:    make(map[string]bool),
	}
}

// Schedule returns the tasks that should be dispatched now: ready in the
// graph, not already running, limited to the free worker slots. Higher
// priority tasks dispatch first.
func (s *Scheduler) Schedule() []*models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slots := s.maxWorkers - len(s.running)
	if slots <= 0 {
		return nil
	}

	var candidates []*models.Task
	for _, id := range s.graph.GetReady() {
		if s.running[id] {
			continue
		}
		task := s.graph.GetTask(id)
		if task == nil || task.Status.Terminal() || task.Status == models.TaskStatusRunning {
			continue
		}
		candidates = append(candidates, task)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})

	if len(candidates) > slots {
		candidates = candidates[:slots]
	}
	return candidates
}

// OnTaskStart records that a task occupies a worker slot.
func (s *Scheduler) OnTaskStart(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[taskID] = true
}

// OnTaskComplete releases the worker slot. A successful task unblocks its
// dependents; a failed one leaves them blocked for the cascade-skip pass.
func (s *Scheduler) OnTaskComplete(taskID string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if success {
		s.graph.MarkComplete(taskID)
	} else {
		s.graph.MarkTerminal(taskID)
	}
	delete(s.running, taskID)
}

// RunningCount returns the number of tasks currently executing.
func (s *Scheduler) RunningCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.running)
}

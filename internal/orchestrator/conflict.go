package orchestrator

import (
	"sort"
	"sync"

	"github.com/tandem-dev/tandem/internal/graph"
	"github.com/tandem-dev/tandem/pkg/models"
)

// ConflictPolicy names the auto-resolution strategy for overlapping writes.
type ConflictPolicy string

const (
	// PolicyLastWriterByPriority keeps the output of the highest-priority
	// writer; completion time breaks ties.
	PolicyLastWriterByPriority ConflictPolicy = "last_writer_by_priority"
	// PolicyFirstWriter keeps the output of the task that started first.
	PolicyFirstWriter ConflictPolicy = "first_writer"
	// PolicyManual records the conflict unresolved for downstream review.
	PolicyManual ConflictPolicy = "manual"
)

// Valid returns true if the policy is a known value.
func (p ConflictPolicy) Valid() bool {
	switch p {
	case PolicyLastWriterByPriority, PolicyFirstWriter, PolicyManual:
		return true
	default:
		return false
	}
}

// ConflictDetector tracks output targets of succeeded tasks and records a
// conflict whenever two tasks with no dependency ordering between them wrote
// the same resource. Conflicts never block orchestration completion.
type ConflictDetector struct {
	policy ConflictPolicy
	graph  *graph.DependencyGraph

	mu sync.Mutex
	// writers maps a resource to the succeeded tasks that wrote it.
	writers map[string][]*models.Task
	// conflicts maps a resource to its recorded conflict entry.
	conflicts map[string]*models.Conflict
}

// NewConflictDetector creates a detector using the given policy.
func NewConflictDetector(policy ConflictPolicy, g *graph.DependencyGraph) *ConflictDetector {
	if !policy.Valid() {
		policy = PolicyManual
	}
	return &ConflictDetector{
		policy:    policy,
		graph:     g,
		writers:   make(map[string][]*models.Task),
		conflicts: make(map[string]*models.Conflict),
	}
}

// RecordCompletion registers a succeeded task's output targets and returns
// any conflicts newly detected or extended by it.
func (d *ConflictDetector) RecordCompletion(task *models.Task) []*models.Conflict {
	d.mu.Lock()
	defer d.mu.Unlock()

	var touched []*models.Conflict
	for _, resource := range task.OutputTargets {
		prior := d.writers[resource]
		d.writers[resource] = append(prior, task)

		var overlapping []*models.Task
		for _, other := range prior {
			if !d.ordered(task, other) {
				overlapping = append(overlapping, other)
			}
		}
		if len(overlapping) == 0 {
			continue
		}

		conflict, ok := d.conflicts[resource]
		if !ok {
			conflict = &models.Conflict{Resource: resource, Policy: string(d.policy)}
			d.conflicts[resource] = conflict
		}
		ids := make(map[string]bool, len(conflict.TaskIDs))
		for _, id := range conflict.TaskIDs {
			ids[id] = true
		}
		for _, t := range append(overlapping, task) {
			if !ids[t.ID] {
				conflict.TaskIDs = append(conflict.TaskIDs, t.ID)
				ids[t.ID] = true
			}
		}
		sort.Strings(conflict.TaskIDs)

		d.resolve(conflict)
		touched = append(touched, conflict)
	}
	return touched
}

// ordered reports whether one task transitively depends on the other, in
// which case their writes are sequenced and cannot conflict.
func (d *ConflictDetector) ordered(a, b *models.Task) bool {
	for _, id := range d.graph.Descendants(a.ID) {
		if id == b.ID {
			return true
		}
	}
	for _, id := range d.graph.Descendants(b.ID) {
		if id == a.ID {
			return true
		}
	}
	return false
}

// resolve applies the configured policy to pick a winner. Manual conflicts
// stay unresolved and are surfaced for downstream review.
func (d *ConflictDetector) resolve(conflict *models.Conflict) {
	if d.policy == PolicyManual {
		conflict.Resolved = false
		conflict.Winner = ""
		return
	}

	var winner *models.Task
	for _, id := range conflict.TaskIDs {
		task := d.graph.GetTask(id)
		if task == nil {
			continue
		}
		if winner == nil {
			winner = task
			continue
		}
		switch d.policy {
		case PolicyLastWriterByPriority:
			if task.Priority > winner.Priority ||
				(task.Priority == winner.Priority && completedAfter(task, winner)) {
				winner = task
			}
		case PolicyFirstWriter:
			if startedBefore(task, winner) {
				winner = task
			}
		}
	}
	if winner != nil {
		conflict.Resolved = true
		conflict.Winner = winner.ID
	}
}

// Conflicts returns all recorded conflicts ordered by resource.
func (d *ConflictDetector) Conflicts() []models.Conflict {
	d.mu.Lock()
	defer d.mu.Unlock()

	resources := make([]string, 0, len(d.conflicts))
	for r := range d.conflicts {
		resources = append(resources, r)
	}
	sort.Strings(resources)

	result := make([]models.Conflict, 0, len(resources))
	for _, r := range resources {
		result = append(result, *d.conflicts[r])
	}
	return result
}

func completedAfter(a, b *models.Task) bool {
	if a.CompletedAt == nil || b.CompletedAt == nil {
		return false
	}
	return a.CompletedAt.After(*b.CompletedAt)
}

func startedBefore(a, b *models.Task) bool {
	if a.StartedAt == nil || b.StartedAt == nil {
		return false
	}
	return a.StartedAt.Before(*b.StartedAt)
}

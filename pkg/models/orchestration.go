package models

import "time"

// OrchestrationStatus represents the aggregate state of an orchestration run.
type OrchestrationStatus string

const (
	// OrchestrationPending indicates the run has been created but not started.
	OrchestrationPending OrchestrationStatus = "pending"
	// OrchestrationRunning indicates tasks are being dispatched.
	OrchestrationRunning OrchestrationStatus = "running"
	// OrchestrationCompleted indicates every task succeeded.
	OrchestrationCompleted OrchestrationStatus = "completed"
	// OrchestrationPartiallyFailed indicates some tasks succeeded and at
	// least one failed or was skipped.
	OrchestrationPartiallyFailed OrchestrationStatus = "partially_failed"
	// OrchestrationFailed indicates no task succeeded.
	OrchestrationFailed OrchestrationStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s OrchestrationStatus) Valid() bool {
	switch s {
	case OrchestrationPending, OrchestrationRunning, OrchestrationCompleted,
		OrchestrationPartiallyFailed, OrchestrationFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a final state.
func (s OrchestrationStatus) Terminal() bool {
	switch s {
	case OrchestrationCompleted, OrchestrationPartiallyFailed, OrchestrationFailed:
		return true
	default:
		return false
	}
}

// rank orders statuses so transitions only ever move forward.
func (s OrchestrationStatus) rank() int {
	switch s {
	case OrchestrationPending:
		return 0
	case OrchestrationRunning:
		return 1
	default:
		return 2
	}
}

// CanTransitionTo reports whether moving to next is a forward transition.
// Re-asserting the current status is allowed as a no-op.
func (s OrchestrationStatus) CanTransitionTo(next OrchestrationStatus) bool {
	if s == next {
		return true
	}
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// Conflict records two or more concurrent tasks writing the same resource.
type Conflict struct {
	// Resource is the overlapping output target (file path or key).
	Resource string `json:"resource"`
	// TaskIDs are the tasks that wrote the resource.
	TaskIDs []string `json:"task_ids"`
	// Resolved indicates whether the conflict policy picked a winner.
	Resolved bool `json:"resolved"`
	// Winner is the task whose output was kept, if resolved.
	Winner string `json:"winner,omitempty"`
	// Policy names the resolution policy that was applied.
	Policy string `json:"policy,omitempty"`
}

// Orchestration represents one scheduling run over a dev request's tasks.
type Orchestration struct {
	// ID is the unique identifier for this run.
	ID string `json:"id"`
	// RequestID references the dev request this run decomposes.
	RequestID string `json:"request_id"`
	// Status is the aggregate state of the run.
	Status OrchestrationStatus `json:"status"`
	// TotalTasks is the number of tasks in the run.
	TotalTasks int `json:"total_tasks"`
	// CompletedTasks is the number of tasks that succeeded.
	CompletedTasks int `json:"completed_tasks"`
	// FailedTasks is the number of tasks that failed.
	FailedTasks int `json:"failed_tasks"`
	// SkippedTasks is the number of tasks skipped due to failed dependencies.
	SkippedTasks int `json:"skipped_tasks"`
	// Graph is the serialized dependency graph for this run.
	Graph string `json:"graph,omitempty"`
	// Conflicts lists merge conflicts detected between concurrent tasks.
	Conflicts []Conflict `json:"conflicts,omitempty"`
	// StartedAt is when the run began dispatching.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the run reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Duration is the total wall-clock time of the run.
	Duration time.Duration `json:"duration,omitempty"`
}

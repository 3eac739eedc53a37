package models

import "time"

// TaskStatus represents the current state of a subagent task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting on unmet dependencies.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusReady indicates every dependency has succeeded and the task
	// can be dispatched.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusRunning indicates the task is executing.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusSucceeded indicates the task completed successfully.
	TaskStatusSucceeded TaskStatus = "succeeded"
	// TaskStatusFailed indicates the task failed or timed out.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusSkipped indicates a dependency failed, so the task was never run.
	TaskStatusSkipped TaskStatus = "skipped"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusRunning,
		TaskStatusSucceeded, TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transition is allowed from the status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// Task represents one schedulable unit of work within an orchestration.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// OrchestrationID is the orchestration this task belongs to.
	OrchestrationID string `json:"orchestration_id"`
	// Type categorizes the task for executor dispatch (e.g. "codegen", "lint").
	Type string `json:"type"`
	// Title is the short human-readable description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Context is the serialized input handed to the executor.
	Context string `json:"context,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// DependsOn lists task IDs that must succeed before this task runs.
	DependsOn []string `json:"depends_on,omitempty"`
	// Agent is the key of the external agent this task is delegated to.
	// Empty means the task runs on a local executor.
	Agent string `json:"agent,omitempty"`
	// Scopes are the consent scopes required when the task is delegated.
	Scopes []string `json:"scopes,omitempty"`
	// Output is the serialized result produced by the executor.
	Output string `json:"output,omitempty"`
	// OutputTargets lists the resources (file paths, keys) the task wrote to.
	// Used for merge-conflict detection across concurrent tasks.
	OutputTargets []string `json:"output_targets,omitempty"`
	// Timeout is the optional per-task deadline. Zero means no deadline.
	Timeout time.Duration `json:"timeout,omitempty"`
	// Priority orders conflict resolution between concurrent writers.
	Priority int `json:"priority,omitempty"`
	// StartedAt is when the task entered Running.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Duration is the wall-clock execution time.
	Duration time.Duration `json:"duration,omitempty"`
	// TokensUsed is the resource usage reported by the executor.
	TokensUsed int64 `json:"tokens_used,omitempty"`
	// Error contains the error message if the task failed.
	Error string `json:"error,omitempty"`
}

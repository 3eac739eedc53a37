// Package orchestrator schedules a dependency graph of subagent tasks for
// parallel execution, detects conflicting concurrent writes, and tracks
// aggregate orchestration status.
package orchestrator

import "time"

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventTaskQueued indicates a task became ready and was queued.
	EventTaskQueued EventType = "task_queued"
	// EventTaskStarted indicates a task began executing.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task succeeded.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed or timed out.
	EventTaskFailed EventType = "task_failed"
	// EventTaskSkipped indicates a task was skipped after a dependency failed.
	EventTaskSkipped EventType = "task_skipped"
	// EventConflictDetected indicates two concurrent tasks wrote the same resource.
	EventConflictDetected EventType = "conflict_detected"
	// EventOrchestrationDone indicates the run reached a terminal status.
	EventOrchestrationDone EventType = "orchestration_done"
)

// Event is emitted by the orchestrator as the run progresses.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// TaskTitle is the title of the related task, if applicable.
	TaskTitle string
	// Resource is the conflicting resource for conflict events.
	Resource string
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

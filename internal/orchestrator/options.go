package orchestrator

import (
	"time"

	"github.com/tandem-dev/tandem/internal/state"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxWorkers sets the concurrency ceiling. Values below one fall back
// to the default of four.
func WithMaxWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxWorkers = n
		}
	}
}

// WithConflictPolicy sets the auto-resolution policy for overlapping writes.
func WithConflictPolicy(p ConflictPolicy) Option {
	return func(o *Orchestrator) {
		o.policy = p
	}
}

// WithStore persists orchestration and task records to the given store. With
// no store the run is in-memory only.
func WithStore(s state.OrchestrationStore) Option {
	return func(o *Orchestrator) {
		o.store = s
	}
}

// WithLocalExecutor sets the executor for tasks with no agent assignment.
func WithLocalExecutor(e TaskExecutor) Option {
	return func(o *Orchestrator) {
		o.local = e
	}
}

// WithRemoteExecutor sets the executor for tasks delegated to an agent.
func WithRemoteExecutor(e TaskExecutor) Option {
	return func(o *Orchestrator) {
		o.remote = e
	}
}

// WithDefaultTaskTimeout sets the per-task deadline used when a task does
// not carry its own timeout.
func WithDefaultTaskTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.defaultTimeout = d
		}
	}
}

// WithEventBuffer sets the capacity of the event channel.
func WithEventBuffer(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

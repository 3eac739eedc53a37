package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tandem-dev/tandem/internal/graph"
	"github.com/tandem-dev/tandem/internal/state"
	"github.com/tandem-dev/tandem/pkg/models"
)

const defaultTaskTimeout = 10 * time.Minute

// RunResult is the outcome of one orchestration run.
type RunResult struct {
	// Orchestration is the final orchestration record.
	Orchestration *models.Orchestration
	// Tasks are the tasks with their terminal states and outputs.
	Tasks []*models.Task
	// Conflicts lists all merge conflicts detected during the run.
	Conflicts []models.Conflict
}

// completion carries one finished task back to the run loop.
type completion struct {
	task *models.Task
	res  *ExecResult
	err  error
}

// Orchestrator executes a dependency graph of tasks in parallel, bounded by
// a worker ceiling, with cascading skips on failure and conflict detection
// on overlapping output targets.
type Orchestrator struct {
	requestID string
	tasks     []*models.Task

	maxWorkers     int
	policy         ConflictPolicy
	defaultTimeout time.Duration
	eventBuffer    int
	store          state.OrchestrationStore
	local          TaskExecutor
	remote         TaskExecutor
	now            func() time.Time

	graph     *graph.DependencyGraph
	scheduler *Scheduler
	detector  *ConflictDetector
	record    *models.Orchestration

	events  chan Event
	dropped int
}

// New creates an Orchestrator for the given request and tasks. The graph is
// validated at Run time so callers can construct unconditionally.
func New(requestID string, tasks []*models.Task, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		requestID:      requestID,
		tasks:          tasks,
		maxWorkers:     4,
		policy:         PolicyManual,
		defaultTimeout: defaultTaskTimeout,
		eventBuffer:    64,
		local:          NewLocalExecutor(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.events = make(chan Event, o.eventBuffer)
	return o
}

// Events returns the channel of run events. The channel is closed when the
// run finishes. Slow consumers lose events rather than stalling the run.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// emit sends an event without blocking. Dropped events are counted.
func (o *Orchestrator) emit(e Event) {
	e.Timestamp = o.now()
	select {
	case o.events <- e:
	default:
		o.dropped++
	}
}

// Run executes the orchestration to completion or cancellation. A cycle in
// the dependency graph fails the run before any task is dispatched. On
// cancellation no new tasks dispatch, in-flight tasks are cancelled, and
// the run drains before returning ctx.Err().
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	defer close(o.events)

	o.graph = graph.New()
	if err := o.graph.Build(o.tasks); err != nil {
		return nil, err
	}
	o.scheduler = NewScheduler(o.graph, o.maxWorkers)
	o.detector = NewConflictDetector(o.policy, o.graph)

	serialized, err := o.graph.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serializing graph: %w", err)
	}

	startedAt := o.now()
	o.record = &models.Orchestration{
		ID:         uuid.NewString(),
		RequestID:  o.requestID,
		Status:     models.OrchestrationRunning,
		TotalTasks: len(o.tasks),
		Graph:      serialized,
		StartedAt:  &startedAt,
	}
	for _, t := range o.tasks {
		t.OrchestrationID = o.record.ID
		if t.Status == "" {
			t.Status = models.TaskStatusPending
		}
	}
	o.persistRecord(true)
	for _, t := range o.tasks {
		o.persistTask(t, true)
	}

	runCtx, cancelAll := context.WithCancel(context.Background())
	defer cancelAll()

	completionCh := make(chan completion)
	inflight := 0
	cancelled := false
	ctxDone := ctx.Done()

	for {
		if !cancelled {
			for _, task := range o.scheduler.Schedule() {
				o.dispatch(runCtx, task, completionCh)
				inflight++
			}
		}
		if inflight == 0 {
			break
		}

		select {
		case <-ctxDone:
			cancelled = true
			ctxDone = nil
			cancelAll()
		case c := <-completionCh:
			inflight--
			o.handleCompletion(c)
		}
	}

	o.finalize(cancelled)

	result := &RunResult{
		Orchestration: o.record,
		Tasks:         o.tasks,
		Conflicts:     o.record.Conflicts,
	}
	if cancelled {
		return result, ctx.Err()
	}
	return result, nil
}

// dispatch moves a ready task to running and launches its executor.
func (o *Orchestrator) dispatch(ctx context.Context, task *models.Task, done chan<- completion) {
	now := o.now()
	task.Status = models.TaskStatusRunning
	task.StartedAt = &now
	o.scheduler.OnTaskStart(task.ID)
	o.persistTask(task, false)
	o.emit(Event{Type: EventTaskStarted, TaskID: task.ID, TaskTitle: task.Title})

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = o.defaultTimeout
	}

	go func() {
		taskCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		res, err := o.executorFor(task).Execute(taskCtx, task)
		if err == nil && taskCtx.Err() != nil {
			err = taskCtx.Err()
		}
		done <- completion{task: task, res: res, err: err}
	}()
}

// executorFor picks the local or remote executor based on agent assignment.
func (o *Orchestrator) executorFor(task *models.Task) TaskExecutor {
	if task.Agent != "" && o.remote != nil {
		return o.remote
	}
	return o.local
}

// handleCompletion applies one task's outcome: records success or failure,
// cascades skips to descendants of a failed task, and feeds the conflict
// detector.
func (o *Orchestrator) handleCompletion(c completion) {
	task := c.task
	now := o.now()
	task.CompletedAt = &now
	if task.StartedAt != nil {
		task.Duration = now.Sub(*task.StartedAt)
	}

	if c.err != nil {
		task.Status = models.TaskStatusFailed
		if errors.Is(c.err, context.DeadlineExceeded) {
			task.Error = fmt.Sprintf("timed out after %s", task.Duration.Round(time.Millisecond))
		} else {
			task.Error = c.err.Error()
		}
		o.record.FailedTasks++
		o.scheduler.OnTaskComplete(task.ID, false)
		o.persistTask(task, false)
		o.emit(Event{Type: EventTaskFailed, TaskID: task.ID, TaskTitle: task.Title, Error: c.err})
		o.cascadeSkip(task, now)
		return
	}

	if c.res != nil {
		task.Output = c.res.Output
		task.OutputTargets = append(task.OutputTargets, c.res.OutputTargets...)
		task.TokensUsed = c.res.TokensUsed
	}
	task.Status = models.TaskStatusSucceeded
	o.record.CompletedTasks++
	o.scheduler.OnTaskComplete(task.ID, true)
	o.persistTask(task, false)
	o.emit(Event{Type: EventTaskCompleted, TaskID: task.ID, TaskTitle: task.Title})

	for _, conflict := range o.detector.RecordCompletion(task) {
		o.emit(Event{
			Type:     EventConflictDetected,
			TaskID:   task.ID,
			Resource: conflict.Resource,
			Message:  fmt.Sprintf("%d tasks wrote %s", len(conflict.TaskIDs), conflict.Resource),
		})
	}
}

// cascadeSkip marks every non-terminal descendant of a failed task skipped.
// Skipped tasks never dispatch.
func (o *Orchestrator) cascadeSkip(failed *models.Task, at time.Time) {
	for _, id := range o.graph.Descendants(failed.ID) {
		desc := o.graph.GetTask(id)
		if desc == nil || desc.Status.Terminal() || desc.Status == models.TaskStatusRunning {
			continue
		}
		desc.Status = models.TaskStatusSkipped
		desc.CompletedAt = &at
		desc.Error = fmt.Sprintf("dependency %s failed", failed.ID)
		o.graph.MarkTerminal(id)
		o.record.SkippedTasks++
		o.persistTask(desc, false)
		o.emit(Event{Type: EventTaskSkipped, TaskID: desc.ID, TaskTitle: desc.Title,
			Message: "dependency " + failed.ID + " failed"})
	}
}

// finalize settles any tasks left non-terminal by cancellation and computes
// the aggregate status from the succeeded/failed/skipped partition.
func (o *Orchestrator) finalize(cancelled bool) {
	now := o.now()

	if cancelled {
		for _, t := range o.tasks {
			if t.Status.Terminal() {
				continue
			}
			t.Status = models.TaskStatusSkipped
			t.CompletedAt = &now
			t.Error = "orchestration cancelled"
			o.record.SkippedTasks++
			o.persistTask(t, false)
		}
	}

	switch {
	case o.record.FailedTasks == 0 && o.record.SkippedTasks == 0:
		o.record.Status = models.OrchestrationCompleted
	case o.record.CompletedTasks > 0:
		o.record.Status = models.OrchestrationPartiallyFailed
	default:
		o.record.Status = models.OrchestrationFailed
	}

	o.record.CompletedAt = &now
	if o.record.StartedAt != nil {
		o.record.Duration = now.Sub(*o.record.StartedAt)
	}
	o.record.Conflicts = o.detector.Conflicts()
	o.persistRecord(false)

	if o.dropped > 0 {
		log.Printf("[orchestrator] %d events dropped (slow consumer)", o.dropped)
	}
	o.emit(Event{
		Type:    EventOrchestrationDone,
		Message: string(o.record.Status),
	})
}

// persistRecord writes the orchestration record. A nil store means the run
// is in-memory only.
func (o *Orchestrator) persistRecord(create bool) {
	if o.store == nil {
		return
	}
	var err error
	if create {
		err = o.store.CreateOrchestration(o.record)
	} else {
		err = o.store.UpdateOrchestration(o.record)
	}
	if err != nil {
		log.Printf("[orchestrator] persisting orchestration %s: %v", o.record.ID, err)
	}
}

func (o *Orchestrator) persistTask(t *models.Task, create bool) {
	if o.store == nil {
		return
	}
	var err error
	if create {
		err = o.store.CreateTask(t)
	} else {
		err = o.store.UpdateTask(t)
	}
	if err != nil {
		log.Printf("[orchestrator] persisting task %s: %v", t.ID, err)
	}
}

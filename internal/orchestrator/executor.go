package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tandem-dev/tandem/internal/a2a"
	"github.com/tandem-dev/tandem/pkg/models"
)

// ExecResult is what an executor returns for one task.
type ExecResult struct {
	// Output is the serialized result of the task.
	Output string
	// OutputTargets lists the resources the task wrote to.
	OutputTargets []string
	// TokensUsed is the resource usage reported by the executor.
	TokensUsed int64
}

// TaskExecutor runs one task body. Implementations must honor the context
// deadline and return promptly on cancellation.
type TaskExecutor interface {
	Execute(ctx context.Context, task *models.Task) (*ExecResult, error)
}

// TaskFunc executes one task type locally.
type TaskFunc func(ctx context.Context, task *models.Task) (*ExecResult, error)

// LocalExecutor dispatches tasks to registered handler functions by task type.
type LocalExecutor struct {
	mu       sync.RWMutex
	handlers map[string]TaskFunc
}

// NewLocalExecutor creates an empty LocalExecutor.
func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{handlers: make(map[string]TaskFunc)}
}

// Register installs the handler for a task type.
func (e *LocalExecutor) Register(taskType string, fn TaskFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[taskType] = fn
}

// Execute runs the handler registered for the task's type.
func (e *LocalExecutor) Execute(ctx context.Context, task *models.Task) (*ExecResult, error) {
	e.mu.RLock()
	fn, ok := e.handlers[task.Type]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no executor registered for task type %q", task.Type)
	}
	return fn(ctx, task)
}

// RemoteExecutor delegates tasks to external agents through the A2A
// protocol. The delegating agent and user are fixed per orchestration run.
type RemoteExecutor struct {
	coordinator *a2a.Coordinator
	fromAgent   string
	user        string
}

// NewRemoteExecutor creates a RemoteExecutor delegating on behalf of the
// given agent and user.
func NewRemoteExecutor(coordinator *a2a.Coordinator, fromAgent, user string) *RemoteExecutor {
	return &RemoteExecutor{coordinator: coordinator, fromAgent: fromAgent, user: user}
}

// remoteOutput is the shape remote agents return in the outbound artifact.
// Targets is optional; agents that don't report write targets produce no
// conflict information.
type remoteOutput struct {
	Targets []string `json:"targets,omitempty"`
}

// Execute runs the full A2A protocol for the task: submit, authorize
// against stored consents, deliver, and collect the outbound artifact.
func (e *RemoteExecutor) Execute(ctx context.Context, task *models.Task) (*ExecResult, error) {
	inbound := a2a.Payload{
		Type:          "task-context",
		SchemaVersion: 1,
		Data:          task.Context,
	}

	_, out, err := e.coordinator.Execute(ctx, e.fromAgent, task.Agent, e.user, task.Scopes, inbound)
	if err != nil {
		return nil, err
	}

	result := &ExecResult{Output: out.Data}
	var parsed remoteOutput
	if jsonErr := json.Unmarshal([]byte(out.Data), &parsed); jsonErr == nil {
		result.OutputTargets = parsed.Targets
	}
	return result, nil
}

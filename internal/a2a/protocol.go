package a2a

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tandem-dev/tandem/internal/audit"
	"github.com/tandem-dev/tandem/internal/consent"
	"github.com/tandem-dev/tandem/internal/state"
	"github.com/tandem-dev/tandem/pkg/models"
)

// Payload is a typed, schema-versioned artifact body crossing the wire.
type Payload struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schema_version"`
	Data          string `json:"data"`
}

// DeliveryRequest is the outbound call to the performing agent.
type DeliveryRequest struct {
	TaskUID   string  `json:"task_uid"`
	FromAgent string  `json:"from_agent"`
	ToAgent   string  `json:"to_agent"`
	User      string  `json:"user"`
	Artifact  Payload `json:"artifact"`
}

// DeliveryResponse is what the performing agent returns.
type DeliveryResponse struct {
	TaskUID  string   `json:"task_uid"`
	Status   string   `json:"status"`
	Artifact *Payload `json:"artifact,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Transport delivers a request to a performing agent's endpoint.
// The task UID doubles as the idempotency key, so retried delivery of the
// same request must not duplicate execution on the far side.
type Transport interface {
	Deliver(ctx context.Context, endpoint string, req *DeliveryRequest) (*DeliveryResponse, error)
}

// RetryConfig controls delivery retries while a task is Running.
type RetryConfig struct {
	// MaxAttempts is the total number of delivery attempts.
	MaxAttempts int
	// BaseDelay is the wait before the first retry; it doubles per attempt.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
}

// DefaultRetry is used when no retry configuration is supplied.
var DefaultRetry = RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}

// Coordinator drives a delegated task through the protocol state machine.
// Every transition appends one audit entry.
type Coordinator struct {
	agents    state.AgentStore
	tasks     state.A2ATaskStore
	artifacts state.ArtifactStore
	consents  *consent.Service
	audit     *audit.Logger
	transport Transport
	retry     RetryConfig
	// sameOwnerBypass permits consent-free delegation between two agents
	// with the same owner. Off by default; a null consent is otherwise
	// never authorized.
	sameOwnerBypass bool
	now             func() time.Time
}

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig struct {
	Agents          state.AgentStore
	Tasks           state.A2ATaskStore
	Artifacts       state.ArtifactStore
	Consents        *consent.Service
	Audit           *audit.Logger
	Transport       Transport
	Retry           RetryConfig
	SameOwnerBypass bool
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetry
	}
	return &Coordinator{
		agents:          cfg.Agents,
		tasks:           cfg.Tasks,
		artifacts:       cfg.Artifacts,
		consents:        cfg.Consents,
		audit:           cfg.Audit,
		transport:       cfg.Transport,
		retry:           retry,
		sameOwnerBypass: cfg.SameOwnerBypass,
		now:             time.Now,
	}
}

// transition moves a task to the next status, persists it, and records the
// audit entry for the step.
func (c *Coordinator) transition(task *models.A2ATask, to models.A2ATaskStatus, action string, detail audit.Detail) error {
	if !ValidTransition(task.Status, to) {
		return &InvalidTransitionError{TaskUID: task.UID, From: task.Status, To: to}
	}
	task.Status = to
	task.UpdatedAt = c.now().UTC()
	if to.Terminal() {
		at := task.UpdatedAt
		task.CompletedAt = &at
	}
	if err := c.tasks.UpdateA2ATask(task); err != nil {
		return err
	}
	return c.audit.Record(task.UID, task.FromAgent, task.ToAgent, task.User, action, detail)
}

// Submit creates a delegated task and moves it to PendingConsent.
// Both agents must exist; the performing agent must be active.
func (c *Coordinator) Submit(fromAgent, toAgent, user string, scopes []string) (*models.A2ATask, error) {
	if _, err := c.agents.GetAgentByKey(fromAgent); err != nil {
		return nil, fmt.Errorf("from agent %s: %w", fromAgent, err)
	}
	to, err := c.agents.GetAgentByKey(toAgent)
	if err != nil {
		return nil, fmt.Errorf("to agent %s: %w", toAgent, err)
	}
	if !to.Active {
		return nil, fmt.Errorf("to agent %s: %w", toAgent, ErrAgentInactive)
	}

	now := c.now().UTC()
	task := &models.A2ATask{
		UID:       uuid.New().String(),
		FromAgent: fromAgent,
		ToAgent:   toAgent,
		User:      user,
		Scopes:    scopes,
		Status:    models.A2ACreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.tasks.CreateA2ATask(task); err != nil {
		return nil, err
	}

	err = c.transition(task, models.A2APendingConsent, "task-submitted", audit.Detail{
		"scopes": scopes,
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Authorize resolves the consent for a PendingConsent task. An effective
// consent covering the task's scopes moves it to Authorized; otherwise the
// task is Rejected with reason "no consent" and a consent-denied audit
// entry, and no artifact is ever written for it.
func (c *Coordinator) Authorize(task *models.A2ATask) error {
	if task.Status != models.A2APendingConsent {
		return &InvalidTransitionError{TaskUID: task.UID, From: task.Status, To: models.A2AAuthorized}
	}

	grant, err := c.consents.Lookup(task.User, task.FromAgent, task.ToAgent)
	if err == nil && grant.Effective(c.now().UTC()) && grant.Covers(task.Scopes) {
		task.ConsentID = &grant.ID
		return c.transition(task, models.A2AAuthorized, "consent-attached", audit.Detail{
			"consent_id": grant.ID,
		})
	}
	if err != nil && !errors.Is(err, consent.ErrNotFound) {
		return err
	}

	if c.sameOwnerBypass && c.sameOwner(task.FromAgent, task.ToAgent) {
		return c.transition(task, models.A2AAuthorized, "consent-bypassed", audit.Detail{
			"reason": "same-owner",
		})
	}

	task.Error = ErrNoConsent.Error()
	if terr := c.transition(task, models.A2ARejected, "consent-denied", audit.Detail{
		"scopes": task.Scopes,
	}); terr != nil {
		return terr
	}
	return ErrNoConsent
}

func (c *Coordinator) sameOwner(fromAgent, toAgent string) bool {
	from, err := c.agents.GetAgentByKey(fromAgent)
	if err != nil {
		return false
	}
	to, err := c.agents.GetAgentByKey(toAgent)
	if err != nil {
		return false
	}
	return from.Owner != "" && from.Owner == to.Owner
}

// Deliver sends the inbound artifact to the performing agent and drives the
// task to a terminal state. Delivery is retried with exponential backoff
// while the task is Running; once terminal, further Deliver calls fail with
// an InvalidTransitionError instead of re-executing.
func (c *Coordinator) Deliver(ctx context.Context, task *models.A2ATask, inbound Payload) (*models.Artifact, error) {
	if task.Status.Terminal() || task.Status != models.A2AAuthorized {
		return nil, &InvalidTransitionError{TaskUID: task.UID, From: task.Status, To: models.A2ARunning}
	}

	to, err := c.agents.GetAgentByKey(task.ToAgent)
	if err != nil {
		return nil, fmt.Errorf("to agent %s: %w", task.ToAgent, err)
	}

	if err := c.transition(task, models.A2ARunning, "delivery-started", audit.Detail{
		"endpoint": to.Endpoint,
	}); err != nil {
		return nil, err
	}

	in := &models.Artifact{
		TaskUID:       task.UID,
		Type:          inbound.Type,
		SchemaVersion: inbound.SchemaVersion,
		Direction:     models.ArtifactInbound,
		Data:          inbound.Data,
		CreatedAt:     c.now().UTC(),
	}
	if err := c.artifacts.CreateArtifact(in); err != nil {
		return nil, err
	}

	req := &DeliveryRequest{
		TaskUID:   task.UID,
		FromAgent: task.FromAgent,
		ToAgent:   task.ToAgent,
		User:      task.User,
		Artifact:  inbound,
	}

	resp, err := c.deliverWithRetry(ctx, to.Endpoint, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = &TimeoutError{TaskUID: task.UID, Err: err}
		}
		return nil, c.fail(task, err)
	}
	if resp.Error != "" || resp.Status == "failed" {
		return nil, c.fail(task, fmt.Errorf("agent error: %s", resp.Error))
	}
	if resp.Artifact == nil {
		return nil, c.fail(task, fmt.Errorf("agent returned no artifact"))
	}

	out := &models.Artifact{
		TaskUID:       task.UID,
		Type:          resp.Artifact.Type,
		SchemaVersion: resp.Artifact.SchemaVersion,
		Direction:     models.ArtifactOutbound,
		Data:          resp.Artifact.Data,
		CreatedAt:     c.now().UTC(),
	}
	if err := c.artifacts.CreateArtifact(out); err != nil {
		return nil, err
	}

	if err := c.transition(task, models.A2ACompleted, "task-completed", audit.Detail{
		"artifact_type": out.Type,
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// fail records a terminal failure and returns the causing error.
func (c *Coordinator) fail(task *models.A2ATask, cause error) error {
	task.Error = cause.Error()
	if terr := c.transition(task, models.A2AFailed, "task-failed", audit.Detail{
		"error": cause.Error(),
	}); terr != nil {
		return terr
	}
	return cause
}

// deliverWithRetry retries transport errors with exponential backoff until
// the attempt budget or the context deadline runs out.
func (c *Coordinator) deliverWithRetry(ctx context.Context, endpoint string, req *DeliveryRequest) (*DeliveryResponse, error) {
	delay := c.retry.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		resp, err := c.transport.Deliver(ctx, endpoint, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == c.retry.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if c.retry.MaxDelay > 0 && delay > c.retry.MaxDelay {
			delay = c.retry.MaxDelay
		}
	}
	return nil, lastErr
}

// Execute runs the full protocol for one delegated unit of work: submit,
// authorize, deliver. It returns the outbound artifact on success.
func (c *Coordinator) Execute(ctx context.Context, fromAgent, toAgent, user string, scopes []string, inbound Payload) (*models.A2ATask, *models.Artifact, error) {
	task, err := c.Submit(fromAgent, toAgent, user, scopes)
	if err != nil {
		return nil, nil, err
	}
	if err := c.Authorize(task); err != nil {
		return task, nil, err
	}
	out, err := c.Deliver(ctx, task, inbound)
	return task, out, err
}

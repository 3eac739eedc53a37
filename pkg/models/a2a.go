package models

import "time"

// A2ATaskStatus represents the state of a delegated agent-to-agent task.
type A2ATaskStatus string

const (
	// A2ACreated indicates the task was submitted but not yet processed.
	A2ACreated A2ATaskStatus = "created"
	// A2APendingConsent indicates the task is waiting for consent resolution.
	A2APendingConsent A2ATaskStatus = "pending_consent"
	// A2AAuthorized indicates an effective consent was attached.
	A2AAuthorized A2ATaskStatus = "authorized"
	// A2ARunning indicates the task was delivered to the performing agent.
	A2ARunning A2ATaskStatus = "running"
	// A2ACompleted indicates the performing agent returned a result.
	A2ACompleted A2ATaskStatus = "completed"
	// A2AFailed indicates delivery or execution failed.
	A2AFailed A2ATaskStatus = "failed"
	// A2ARejected indicates no effective consent covered the task.
	A2ARejected A2ATaskStatus = "rejected"
)

// Valid returns true if the status is a known value.
func (s A2ATaskStatus) Valid() bool {
	switch s {
	case A2ACreated, A2APendingConsent, A2AAuthorized, A2ARunning,
		A2ACompleted, A2AFailed, A2ARejected:
		return true
	default:
		return false
	}
}

// Terminal returns true if the task can no longer transition.
func (s A2ATaskStatus) Terminal() bool {
	switch s {
	case A2ACompleted, A2AFailed, A2ARejected:
		return true
	default:
		return false
	}
}

// A2ATask is one unit of work delegated from one agent to another.
type A2ATask struct {
	// UID is the globally unique task identifier. It doubles as the
	// idempotency key for delivery to the performing agent.
	UID string `json:"uid"`
	// FromAgent is the delegating agent's key.
	FromAgent string `json:"from_agent"`
	// ToAgent is the performing agent's key.
	ToAgent string `json:"to_agent"`
	// User is the user on whose behalf the task runs.
	User string `json:"user"`
	// ConsentID references the consent the task was authorized under.
	// Nil until authorization, and only ever nil afterwards when the
	// same-owner bypass policy applied.
	ConsentID *string `json:"consent_id,omitempty"`
	// Scopes are the capability scopes the task requires.
	Scopes []string `json:"scopes,omitempty"`
	// Status is the current protocol state.
	Status A2ATaskStatus `json:"status"`
	// Error contains the failure or rejection reason.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task last changed state.
	UpdatedAt time.Time `json:"updated_at"`
	// CompletedAt is when the task reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ArtifactDirection tags which way an artifact moved.
type ArtifactDirection string

const (
	// ArtifactInbound is data sent to the performing agent.
	ArtifactInbound ArtifactDirection = "inbound"
	// ArtifactOutbound is the result returned by the performing agent.
	ArtifactOutbound ArtifactDirection = "outbound"
)

// Artifact is a typed, schema-versioned payload attached to an A2A task.
// Artifacts are immutable once written.
type Artifact struct {
	// ID is the unique identifier for this artifact.
	ID int64 `json:"id"`
	// TaskUID is the A2A task the artifact belongs to.
	TaskUID string `json:"task_uid"`
	// Type names the artifact payload type.
	Type string `json:"type"`
	// SchemaVersion versions the payload schema.
	SchemaVersion int `json:"schema_version"`
	// Direction is inbound (request) or outbound (response).
	Direction ArtifactDirection `json:"direction"`
	// Data is the serialized payload.
	Data string `json:"data"`
	// CreatedAt is when the artifact was written.
	CreatedAt time.Time `json:"created_at"`
}

// AuditEntry is one append-only record of a protocol-relevant action.
type AuditEntry struct {
	// ID is the monotonically increasing entry identifier.
	ID int64 `json:"id"`
	// TaskUID references the related A2A task, if any.
	TaskUID string `json:"task_uid,omitempty"`
	// FromAgent is the delegating agent's key.
	FromAgent string `json:"from_agent,omitempty"`
	// ToAgent is the performing agent's key.
	ToAgent string `json:"to_agent,omitempty"`
	// User is the user the action concerned.
	User string `json:"user,omitempty"`
	// Action names what happened (e.g. "task-submitted", "consent-denied").
	Action string `json:"action"`
	// Detail is the serialized action detail.
	Detail string `json:"detail,omitempty"`
	// SourceIP is the caller's address, when known.
	SourceIP string `json:"source_ip,omitempty"`
	// CreatedAt is when the entry was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// Package state provides SQLite-based persistence for tandem.
package state

import (
	"io"
	"time"

	"github.com/tandem-dev/tandem/pkg/models"
)

// AgentStore handles agent-card persistence.
type AgentStore interface {
	CreateAgent(a *models.AgentCard) error
	GetAgent(id string) (*models.AgentCard, error)
	GetAgentByKey(key string) (*models.AgentCard, error)
	ListAgents() ([]*models.AgentCard, error)
	SetAgentActive(id string, active bool) error
	UpdateAgentSecretHash(id, hash string) error
}

// ConsentStore handles consent-row persistence.
type ConsentStore interface {
	InsertConsent(c *models.Consent) error
	UpdateConsent(c *models.Consent) error
	GetConsent(id string) (*models.Consent, error)
	GetConsentByTuple(user, fromAgent, toAgent string) (*models.Consent, error)
	RevokeConsent(id string, at time.Time) error
	ListConsentsByUser(user string) ([]*models.Consent, error)
}

// A2ATaskStore handles delegated-task persistence.
type A2ATaskStore interface {
	CreateA2ATask(t *models.A2ATask) error
	GetA2ATask(uid string) (*models.A2ATask, error)
	UpdateA2ATask(t *models.A2ATask) error
	ListA2ATasksByUser(user string) ([]*models.A2ATask, error)
}

// ArtifactStore handles artifact persistence. Artifacts are append-only.
type ArtifactStore interface {
	CreateArtifact(a *models.Artifact) error
	ListArtifacts(taskUID string) ([]*models.Artifact, error)
}

// AuditStore handles the append-only audit log.
type AuditStore interface {
	AppendAudit(e *models.AuditEntry) error
	ListAuditByTask(taskUID string) ([]*models.AuditEntry, error)
	ListAudit(limit int) ([]*models.AuditEntry, error)
}

// OrchestrationStore handles orchestration and subagent-task persistence.
type OrchestrationStore interface {
	CreateOrchestration(o *models.Orchestration) error
	UpdateOrchestration(o *models.Orchestration) error
	GetOrchestration(id string) (*models.Orchestration, error)
	CreateTask(t *models.Task) error
	UpdateTask(t *models.Task) error
	ListTasksByOrchestration(orchestrationID string) ([]*models.Task, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	Migrate() error
}

// Store is the composed persistence interface. Callers depend on the focused
// sub-interfaces where possible; Store exists for wiring at the edges.
type Store interface {
	io.Closer
	Migrator
	AgentStore
	ConsentStore
	A2ATaskStore
	ArtifactStore
	AuditStore
	OrchestrationStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store              = (*DB)(nil)
	_ AgentStore         = (*DB)(nil)
	_ ConsentStore       = (*DB)(nil)
	_ A2ATaskStore       = (*DB)(nil)
	_ ArtifactStore      = (*DB)(nil)
	_ AuditStore         = (*DB)(nil)
	_ OrchestrationStore = (*DB)(nil)
)

// Package audit records protocol-relevant actions to the append-only audit log.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tandem-dev/tandem/internal/state"
	"github.com/tandem-dev/tandem/pkg/models"
)

// Detail is the free-form payload attached to an audit entry.
type Detail map[string]any

// Logger appends entries to the audit log. Entries are never updated or
// deleted once written.
type Logger struct {
	Store state.AuditStore
	// Now is the clock used for timestamps. Defaults to time.Now.
	Now func() time.Time
}

// New creates a Logger backed by the given store.
func New(store state.AuditStore) *Logger {
	return &Logger{Store: store, Now: time.Now}
}

// Record appends one entry. The entry describes actor, action, and detail
// for a single protocol event.
func (l *Logger) Record(taskUID, fromAgent, toAgent, user, action string, detail Detail) error {
	return l.RecordFrom(taskUID, fromAgent, toAgent, user, action, detail, "")
}

// RecordFrom is Record with the caller's source address attached.
func (l *Logger) RecordFrom(taskUID, fromAgent, toAgent, user, action string, detail Detail, sourceIP string) error {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}

	var detailJSON string
	if detail != nil {
		data, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("marshal audit detail: %w", err)
		}
		detailJSON = string(data)
	}

	entry := &models.AuditEntry{
		TaskUID:   taskUID,
		FromAgent: fromAgent,
		ToAgent:   toAgent,
		User:      user,
		Action:    action,
		Detail:    detailJSON,
		SourceIP:  sourceIP,
		CreatedAt: now().UTC(),
	}
	return l.Store.AppendAudit(entry)
}

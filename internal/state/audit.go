package state

import (
	"fmt"

	"github.com/tandem-dev/tandem/pkg/models"
)

// AppendAudit inserts an audit entry. The audit log is append-only; there
// are no update or delete paths anywhere in the package.
func (db *DB) AppendAudit(e *models.AuditEntry) error {
	res, err := db.Exec(`
		INSERT INTO audit_log (task_uid, from_agent, to_agent, user_id, action, detail, source_ip, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, nullable(e.TaskUID), nullable(e.FromAgent), nullable(e.ToAgent), nullable(e.User),
		e.Action, nullable(e.Detail), nullable(e.SourceIP), formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

const auditColumns = `id, COALESCE(task_uid,''), COALESCE(from_agent,''), COALESCE(to_agent,''), COALESCE(user_id,''), action, COALESCE(detail,''), COALESCE(source_ip,''), created_at`

func scanAudit(rows interface{ Scan(...any) error }) (*models.AuditEntry, error) {
	var e models.AuditEntry
	var createdAt string
	err := rows.Scan(&e.ID, &e.TaskUID, &e.FromAgent, &e.ToAgent, &e.User,
		&e.Action, &e.Detail, &e.SourceIP, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("scan audit entry: %w", err)
	}
	e.CreatedAt, _ = parseTime(createdAt)
	return &e, nil
}

// ListAuditByTask returns audit entries for one task in insertion order.
func (db *DB) ListAuditByTask(taskUID string) ([]*models.AuditEntry, error) {
	rows, err := db.Query(`SELECT `+auditColumns+` FROM audit_log WHERE task_uid = ? ORDER BY id`, taskUID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListAudit returns the most recent audit entries, newest first.
func (db *DB) ListAudit(limit int) ([]*models.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT `+auditColumns+` FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

package state

import (
	"database/sql"
	"fmt"

	"github.com/tandem-dev/tandem/pkg/models"
)

const a2aTaskColumns = `uid, from_agent, to_agent, user_id, consent_id, scopes, status, COALESCE(error,''), created_at, updated_at, completed_at`

func scanA2ATask(row interface{ Scan(...any) error }) (*models.A2ATask, error) {
	var t models.A2ATask
	var consentID sql.NullString
	var scopes, status, createdAt, updatedAt string
	var completedAt sql.NullString
	err := row.Scan(&t.UID, &t.FromAgent, &t.ToAgent, &t.User, &consentID, &scopes,
		&status, &t.Error, &createdAt, &updatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan a2a task: %w", err)
	}
	if consentID.Valid {
		t.ConsentID = &consentID.String
	}
	t.Scopes = splitScopes(scopes)
	t.Status = models.A2ATaskStatus(status)
	t.CreatedAt, _ = parseTime(createdAt)
	t.UpdatedAt, _ = parseTime(updatedAt)
	t.CompletedAt = parseNullableTime(completedAt)
	return &t, nil
}

// CreateA2ATask inserts a newly submitted delegated task.
func (db *DB) CreateA2ATask(t *models.A2ATask) error {
	var consentID any
	if t.ConsentID != nil {
		consentID = *t.ConsentID
	}
	_, err := db.Exec(`
		INSERT INTO a2a_tasks (uid, from_agent, to_agent, user_id, consent_id, scopes, status, error, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.UID, t.FromAgent, t.ToAgent, t.User, consentID, joinScopes(t.Scopes),
		string(t.Status), nullable(t.Error), formatTime(t.CreatedAt),
		formatTime(t.UpdatedAt), formatNullableTime(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("create a2a task: %w", err)
	}
	return nil
}

// GetA2ATask retrieves a delegated task by UID.
func (db *DB) GetA2ATask(uid string) (*models.A2ATask, error) {
	return scanA2ATask(db.QueryRow(`SELECT `+a2aTaskColumns+` FROM a2a_tasks WHERE uid = ?`, uid))
}

// UpdateA2ATask rewrites the mutable fields of a delegated task.
func (db *DB) UpdateA2ATask(t *models.A2ATask) error {
	var consentID any
	if t.ConsentID != nil {
		consentID = *t.ConsentID
	}
	res, err := db.Exec(`
		UPDATE a2a_tasks SET consent_id = ?, status = ?, error = ?, updated_at = ?, completed_at = ?
		WHERE uid = ?
	`, consentID, string(t.Status), nullable(t.Error), formatTime(t.UpdatedAt),
		formatNullableTime(t.CompletedAt), t.UID)
	if err != nil {
		return fmt.Errorf("update a2a task: %w", err)
	}
	return requireRow(res)
}

// ListA2ATasksByUser returns delegated tasks for a user, newest first.
func (db *DB) ListA2ATasksByUser(user string) ([]*models.A2ATask, error) {
	rows, err := db.Query(`SELECT `+a2aTaskColumns+` FROM a2a_tasks WHERE user_id = ? ORDER BY created_at DESC`, user)
	if err != nil {
		return nil, fmt.Errorf("list a2a tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.A2ATask
	for rows.Next() {
		t, err := scanA2ATask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CreateArtifact appends an artifact to a task. Artifacts are immutable;
// there is no update path.
func (db *DB) CreateArtifact(a *models.Artifact) error {
	res, err := db.Exec(`
		INSERT INTO artifacts (task_uid, type, schema_version, direction, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.TaskUID, a.Type, a.SchemaVersion, string(a.Direction), a.Data, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	a.ID, err = res.LastInsertId()
	return err
}

// ListArtifacts returns the artifacts attached to a task in write order.
func (db *DB) ListArtifacts(taskUID string) ([]*models.Artifact, error) {
	rows, err := db.Query(`
		SELECT id, task_uid, type, schema_version, direction, data, created_at
		FROM artifacts WHERE task_uid = ? ORDER BY id
	`, taskUID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*models.Artifact
	for rows.Next() {
		var a models.Artifact
		var direction, createdAt string
		if err := rows.Scan(&a.ID, &a.TaskUID, &a.Type, &a.SchemaVersion, &direction, &a.Data, &createdAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.Direction = models.ArtifactDirection(direction)
		a.CreatedAt, _ = parseTime(createdAt)
		artifacts = append(artifacts, &a)
	}
	return artifacts, rows.Err()
}

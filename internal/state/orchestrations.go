package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tandem-dev/tandem/pkg/models"
)

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CreateOrchestration inserts a new orchestration run.
func (db *DB) CreateOrchestration(o *models.Orchestration) error {
	conflicts, err := marshalJSON(o.Conflicts)
	if err != nil {
		return fmt.Errorf("marshal conflicts: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO orchestrations (id, request_id, status, total_tasks, completed_tasks, failed_tasks, skipped_tasks, graph, conflicts, started_at, completed_at, duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.RequestID, string(o.Status), o.TotalTasks, o.CompletedTasks, o.FailedTasks,
		o.SkippedTasks, nullable(o.Graph), nullable(conflicts),
		formatNullableTime(o.StartedAt), formatNullableTime(o.CompletedAt), int64(o.Duration))
	if err != nil {
		return fmt.Errorf("create orchestration: %w", err)
	}
	return nil
}

// UpdateOrchestration rewrites the mutable fields of an orchestration run.
// Only the scheduler instance owning the run may call this.
func (db *DB) UpdateOrchestration(o *models.Orchestration) error {
	conflicts, err := marshalJSON(o.Conflicts)
	if err != nil {
		return fmt.Errorf("marshal conflicts: %w", err)
	}
	res, err := db.Exec(`
		UPDATE orchestrations SET status = ?, total_tasks = ?, completed_tasks = ?, failed_tasks = ?, skipped_tasks = ?, graph = ?, conflicts = ?, started_at = ?, completed_at = ?, duration = ?
		WHERE id = ?
	`, string(o.Status), o.TotalTasks, o.CompletedTasks, o.FailedTasks, o.SkippedTasks,
		nullable(o.Graph), nullable(conflicts), formatNullableTime(o.StartedAt),
		formatNullableTime(o.CompletedAt), int64(o.Duration), o.ID)
	if err != nil {
		return fmt.Errorf("update orchestration: %w", err)
	}
	return requireRow(res)
}

// GetOrchestration retrieves an orchestration run by ID.
func (db *DB) GetOrchestration(id string) (*models.Orchestration, error) {
	var o models.Orchestration
	var status string
	var graph, conflicts, startedAt, completedAt sql.NullString
	var duration int64
	err := db.QueryRow(`
		SELECT id, request_id, status, total_tasks, completed_tasks, failed_tasks, skipped_tasks, graph, conflicts, started_at, completed_at, duration
		FROM orchestrations WHERE id = ?
	`, id).Scan(&o.ID, &o.RequestID, &status, &o.TotalTasks, &o.CompletedTasks,
		&o.FailedTasks, &o.SkippedTasks, &graph, &conflicts, &startedAt, &completedAt, &duration)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get orchestration: %w", err)
	}
	o.Status = models.OrchestrationStatus(status)
	o.Graph = graph.String
	if conflicts.Valid && conflicts.String != "" {
		if err := json.Unmarshal([]byte(conflicts.String), &o.Conflicts); err != nil {
			return nil, fmt.Errorf("unmarshal conflicts: %w", err)
		}
	}
	o.StartedAt = parseNullableTime(startedAt)
	o.CompletedAt = parseNullableTime(completedAt)
	o.Duration = time.Duration(duration)
	return &o, nil
}

// CreateTask inserts a subagent task row.
func (db *DB) CreateTask(t *models.Task) error {
	dependsOn, err := marshalJSON(t.DependsOn)
	if err != nil {
		return fmt.Errorf("marshal depends_on: %w", err)
	}
	targets, err := marshalJSON(t.OutputTargets)
	if err != nil {
		return fmt.Errorf("marshal output_targets: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO tasks (id, orchestration_id, type, title, description, context, status, depends_on, agent, scopes, output, output_targets, timeout, priority, started_at, completed_at, duration, tokens_used, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.OrchestrationID, nullable(t.Type), t.Title, nullable(t.Description),
		nullable(t.Context), string(t.Status), nullable(dependsOn), nullable(t.Agent),
		nullable(joinScopes(t.Scopes)), nullable(t.Output), nullable(targets),
		int64(t.Timeout), t.Priority, formatNullableTime(t.StartedAt),
		formatNullableTime(t.CompletedAt), int64(t.Duration), t.TokensUsed, nullable(t.Error))
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// UpdateTask rewrites the mutable fields of a subagent task.
func (db *DB) UpdateTask(t *models.Task) error {
	targets, err := marshalJSON(t.OutputTargets)
	if err != nil {
		return fmt.Errorf("marshal output_targets: %w", err)
	}
	res, err := db.Exec(`
		UPDATE tasks SET status = ?, output = ?, output_targets = ?, started_at = ?, completed_at = ?, duration = ?, tokens_used = ?, error = ?
		WHERE id = ?
	`, string(t.Status), nullable(t.Output), nullable(targets),
		formatNullableTime(t.StartedAt), formatNullableTime(t.CompletedAt),
		int64(t.Duration), t.TokensUsed, nullable(t.Error), t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return requireRow(res)
}

// ListTasksByOrchestration returns the tasks belonging to one run.
func (db *DB) ListTasksByOrchestration(orchestrationID string) ([]*models.Task, error) {
	rows, err := db.Query(`
		SELECT id, orchestration_id, COALESCE(type,''), title, COALESCE(description,''), COALESCE(context,''), status, depends_on, COALESCE(agent,''), COALESCE(scopes,''), COALESCE(output,''), output_targets, timeout, priority, started_at, completed_at, duration, tokens_used, COALESCE(error,'')
		FROM tasks WHERE orchestration_id = ? ORDER BY id
	`, orchestrationID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		var t models.Task
		var status, scopes string
		var dependsOn, targets, startedAt, completedAt sql.NullString
		var timeout, duration int64
		if err := rows.Scan(&t.ID, &t.OrchestrationID, &t.Type, &t.Title, &t.Description,
			&t.Context, &status, &dependsOn, &t.Agent, &scopes, &t.Output, &targets,
			&timeout, &t.Priority, &startedAt, &completedAt, &duration, &t.TokensUsed, &t.Error); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Status = models.TaskStatus(status)
		t.Scopes = splitScopes(scopes)
		if dependsOn.Valid && dependsOn.String != "" {
			if err := json.Unmarshal([]byte(dependsOn.String), &t.DependsOn); err != nil {
				return nil, fmt.Errorf("unmarshal depends_on: %w", err)
			}
		}
		if targets.Valid && targets.String != "" {
			if err := json.Unmarshal([]byte(targets.String), &t.OutputTargets); err != nil {
				return nil, fmt.Errorf("unmarshal output_targets: %w", err)
			}
		}
		t.Timeout = time.Duration(timeout)
		t.Duration = time.Duration(duration)
		t.StartedAt = parseNullableTime(startedAt)
		t.CompletedAt = parseNullableTime(completedAt)
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

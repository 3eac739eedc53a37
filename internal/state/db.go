// Package state provides SQLite-based persistence for tandem: registered
// agents, consents, delegated tasks, artifacts, the audit log, and
// orchestration runs.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps an SQLite database connection with tandem-specific operations.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDBPath returns the path to the tandem database.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "tandem", "tandem.db")
}

// Open opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Agents},
		{2, migrationV2Consents},
		{3, migrationV3A2ATasks},
		{4, migrationV4Artifacts},
		{5, migrationV5AuditLog},
		{6, migrationV6Orchestrations},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Migration SQL statements
const migrationV1Agents = `
CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	key TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	owner TEXT NOT NULL,
	input_schema TEXT,
	output_schema TEXT,
	scopes TEXT NOT NULL DEFAULT '',
	client_id TEXT NOT NULL,
	client_secret_hash TEXT NOT NULL,
	endpoint TEXT,
	active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agents_owner ON agents(owner);
`

const migrationV2Consents = `
CREATE TABLE IF NOT EXISTS consents (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	from_agent TEXT NOT NULL,
	to_agent TEXT NOT NULL,
	scopes TEXT NOT NULL DEFAULT '',
	granted INTEGER NOT NULL DEFAULT 0,
	granted_at DATETIME NOT NULL,
	revoked_at DATETIME,
	expires_at DATETIME,
	UNIQUE(user_id, from_agent, to_agent)
);
`

const migrationV3A2ATasks = `
CREATE TABLE IF NOT EXISTS a2a_tasks (
	uid TEXT PRIMARY KEY,
	from_agent TEXT NOT NULL,
	to_agent TEXT NOT NULL,
	user_id TEXT NOT NULL,
	consent_id TEXT,
	scopes TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'created',
	error TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_a2a_tasks_status ON a2a_tasks(status);
CREATE INDEX IF NOT EXISTS idx_a2a_tasks_user ON a2a_tasks(user_id);
`

const migrationV4Artifacts = `
CREATE TABLE IF NOT EXISTS artifacts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_uid TEXT NOT NULL,
	type TEXT NOT NULL,
	schema_version INTEGER NOT NULL DEFAULT 1,
	direction TEXT NOT NULL,
	data TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_artifacts_task_uid ON artifacts(task_uid);
`

const migrationV5AuditLog = `
CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_uid TEXT,
	from_agent TEXT,
	to_agent TEXT,
	user_id TEXT,
	action TEXT NOT NULL,
	detail TEXT,
	source_ip TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_log_task_uid ON audit_log(task_uid);
`

const migrationV6Orchestrations = `
CREATE TABLE IF NOT EXISTS orchestrations (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	total_tasks INTEGER NOT NULL DEFAULT 0,
	completed_tasks INTEGER NOT NULL DEFAULT 0,
	failed_tasks INTEGER NOT NULL DEFAULT 0,
	skipped_tasks INTEGER NOT NULL DEFAULT 0,
	graph TEXT,
	conflicts TEXT,
	started_at DATETIME,
	completed_at DATETIME,
	duration INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_orchestrations_request ON orchestrations(request_id);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	orchestration_id TEXT NOT NULL,
	type TEXT,
	title TEXT NOT NULL,
	description TEXT,
	context TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	depends_on TEXT,
	agent TEXT,
	scopes TEXT,
	output TEXT,
	output_targets TEXT,
	timeout INTEGER NOT NULL DEFAULT 0,
	priority INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME,
	completed_at DATETIME,
	duration INTEGER NOT NULL DEFAULT 0,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_tasks_orchestration ON tasks(orchestration_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// formatNullableTime formats an optional time for SQLite storage.
func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

// nullable converts an empty string to NULL for storage.
func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

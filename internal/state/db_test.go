package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tandem-dev/tandem/pkg/models"
)

// tempDBPath returns a path to a temp database file.
func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// setupTestDB creates a new temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestOpen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file does not exist at %s", path)
	}
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "a", "b", "c")
	db, err := Open(filepath.Join(nested, "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(nested); os.IsNotExist(err) {
		t.Errorf("parent directories not created: %s", nested)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Errorf("second Migrate failed: %v", err)
	}

	var version int
	row := db.QueryRow("SELECT MAX(version) FROM schema_version")
	if err := row.Scan(&version); err != nil {
		t.Fatalf("scan schema version: %v", err)
	}
	if version != 6 {
		t.Errorf("schema version = %d, want 6", version)
	}
}

func TestAgentRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	card := &models.AgentCard{
		ID:               "agent-1",
		Key:              "reviewer",
		Name:             "Code Reviewer",
		Owner:            "alice",
		InputSchema:      `{"type":"object"}`,
		Scopes:           []string{"code:read", "code:review"},
		ClientID:         "client-1",
		ClientSecretHash: "hash",
		Endpoint:         "http://reviewer.test",
		Active:           true,
		CreatedAt:        time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := db.CreateAgent(card); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	got, err := db.GetAgentByKey("reviewer")
	if err != nil {
		t.Fatalf("GetAgentByKey failed: %v", err)
	}
	if got.ID != card.ID || got.Owner != "alice" || !got.Active {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if len(got.Scopes) != 2 {
		t.Errorf("scopes = %v, want 2 entries", got.Scopes)
	}
	if !got.CreatedAt.Equal(card.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, card.CreatedAt)
	}

	if _, err := db.GetAgent("agent-1"); err != nil {
		t.Errorf("GetAgent failed: %v", err)
	}
	if _, err := db.GetAgentByKey("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown key, got %v", err)
	}
}

func TestAgentDuplicateKey(t *testing.T) {
	db := setupTestDB(t)

	card := &models.AgentCard{ID: "a1", Key: "dup", Name: "x", Owner: "o",
		ClientID: "c1", ClientSecretHash: "h", CreatedAt: time.Now()}
	if err := db.CreateAgent(card); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	dup := &models.AgentCard{ID: "a2", Key: "dup", Name: "y", Owner: "o",
		ClientID: "c2", ClientSecretHash: "h", CreatedAt: time.Now()}
	if err := db.CreateAgent(dup); err == nil {
		t.Error("expected unique constraint violation for duplicate key")
	}
}

func TestConsentRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	expires := time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond)
	c := &models.Consent{
		ID:        "consent-1",
		User:      "alice",
		FromAgent: "planner",
		ToAgent:   "reviewer",
		Scopes:    []string{"code:read"},
		Granted:   true,
		GrantedAt: time.Now().UTC().Truncate(time.Millisecond),
		ExpiresAt: &expires,
	}
	if err := db.InsertConsent(c); err != nil {
		t.Fatalf("InsertConsent failed: %v", err)
	}

	got, err := db.GetConsentByTuple("alice", "planner", "reviewer")
	if err != nil {
		t.Fatalf("GetConsentByTuple failed: %v", err)
	}
	if got.ID != "consent-1" || !got.Granted || got.RevokedAt != nil {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, expires)
	}

	at := time.Now().UTC()
	if err := db.RevokeConsent("consent-1", at); err != nil {
		t.Fatalf("RevokeConsent failed: %v", err)
	}
	got, _ = db.GetConsent("consent-1")
	if got.RevokedAt == nil {
		t.Error("RevokedAt not persisted")
	}
	if !got.Granted {
		t.Error("revocation must not clear the granted flag")
	}
}

func TestConsentTupleUnique(t *testing.T) {
	db := setupTestDB(t)

	base := &models.Consent{ID: "c1", User: "alice", FromAgent: "a", ToAgent: "b",
		Granted: true, GrantedAt: time.Now()}
	if err := db.InsertConsent(base); err != nil {
		t.Fatalf("InsertConsent failed: %v", err)
	}

	dup := &models.Consent{ID: "c2", User: "alice", FromAgent: "a", ToAgent: "b",
		Granted: true, GrantedAt: time.Now()}
	if err := db.InsertConsent(dup); err == nil {
		t.Error("expected unique constraint violation for duplicate tuple")
	}

	count, err := db.CountConsentsByTuple("alice", "a", "b")
	if err != nil {
		t.Fatalf("CountConsentsByTuple failed: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestA2ATaskRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	task := &models.A2ATask{
		UID:       "uid-1",
		FromAgent: "planner",
		ToAgent:   "reviewer",
		User:      "alice",
		Scopes:    []string{"code:read"},
		Status:    models.A2ACreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.CreateA2ATask(task); err != nil {
		t.Fatalf("CreateA2ATask failed: %v", err)
	}

	consentID := "consent-1"
	task.ConsentID = &consentID
	task.Status = models.A2AAuthorized
	task.UpdatedAt = now.Add(time.Second)
	if err := db.UpdateA2ATask(task); err != nil {
		t.Fatalf("UpdateA2ATask failed: %v", err)
	}

	got, err := db.GetA2ATask("uid-1")
	if err != nil {
		t.Fatalf("GetA2ATask failed: %v", err)
	}
	if got.Status != models.A2AAuthorized {
		t.Errorf("status = %s, want authorized", got.Status)
	}
	if got.ConsentID == nil || *got.ConsentID != "consent-1" {
		t.Errorf("ConsentID = %v, want consent-1", got.ConsentID)
	}
	if got.CompletedAt != nil {
		t.Error("CompletedAt should be nil before terminal state")
	}

	tasks, err := db.ListA2ATasksByUser("alice")
	if err != nil {
		t.Fatalf("ListA2ATasksByUser failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Errorf("ListA2ATasksByUser = %d tasks, want 1", len(tasks))
	}
}

func TestArtifactsAppendOnly(t *testing.T) {
	db := setupTestDB(t)

	now := time.Now().UTC()
	in := &models.Artifact{TaskUID: "uid-1", Type: "task-context", SchemaVersion: 1,
		Direction: models.ArtifactInbound, Data: "req", CreatedAt: now}
	out := &models.Artifact{TaskUID: "uid-1", Type: "task-result", SchemaVersion: 1,
		Direction: models.ArtifactOutbound, Data: "resp", CreatedAt: now}

	if err := db.CreateArtifact(in); err != nil {
		t.Fatalf("CreateArtifact failed: %v", err)
	}
	if err := db.CreateArtifact(out); err != nil {
		t.Fatalf("CreateArtifact failed: %v", err)
	}
	if in.ID == 0 || out.ID <= in.ID {
		t.Errorf("artifact IDs not monotonic: %d, %d", in.ID, out.ID)
	}

	artifacts, err := db.ListArtifacts("uid-1")
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	if len(artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(artifacts))
	}
	if artifacts[0].Direction != models.ArtifactInbound || artifacts[1].Direction != models.ArtifactOutbound {
		t.Errorf("artifacts out of insertion order: %s, %s", artifacts[0].Direction, artifacts[1].Direction)
	}
}

func TestAuditLog(t *testing.T) {
	db := setupTestDB(t)

	now := time.Now().UTC()
	for _, action := range []string{"task-submitted", "consent-attached", "task-completed"} {
		err := db.AppendAudit(&models.AuditEntry{
			TaskUID:   "uid-1",
			FromAgent: "planner",
			ToAgent:   "reviewer",
			User:      "alice",
			Action:    action,
			CreatedAt: now,
		})
		if err != nil {
			t.Fatalf("AppendAudit failed: %v", err)
		}
	}

	entries, err := db.ListAuditByTask("uid-1")
	if err != nil {
		t.Fatalf("ListAuditByTask failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Action != "task-submitted" || entries[2].Action != "task-completed" {
		t.Errorf("entries out of append order: %s .. %s", entries[0].Action, entries[2].Action)
	}

	recent, err := db.ListAudit(2)
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("ListAudit(2) = %d entries, want 2", len(recent))
	}
}

func TestOrchestrationRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	started := time.Now().UTC().Truncate(time.Millisecond)
	o := &models.Orchestration{
		ID:         "orch-1",
		RequestID:  "req-1",
		Status:     models.OrchestrationRunning,
		TotalTasks: 2,
		Graph:      `{"tasks":["a","b"]}`,
		StartedAt:  &started,
	}
	if err := db.CreateOrchestration(o); err != nil {
		t.Fatalf("CreateOrchestration failed: %v", err)
	}

	completed := started.Add(time.Minute)
	o.Status = models.OrchestrationCompleted
	o.CompletedTasks = 2
	o.CompletedAt = &completed
	o.Duration = time.Minute
	o.Conflicts = []models.Conflict{{Resource: "config.json", TaskIDs: []string{"a", "b"}}}
	if err := db.UpdateOrchestration(o); err != nil {
		t.Fatalf("UpdateOrchestration failed: %v", err)
	}

	got, err := db.GetOrchestration("orch-1")
	if err != nil {
		t.Fatalf("GetOrchestration failed: %v", err)
	}
	if got.Status != models.OrchestrationCompleted || got.CompletedTasks != 2 {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if len(got.Conflicts) != 1 || got.Conflicts[0].Resource != "config.json" {
		t.Errorf("conflicts = %v", got.Conflicts)
	}
	if got.Duration != time.Minute {
		t.Errorf("duration = %v, want 1m", got.Duration)
	}
}

func TestTaskRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	task := &models.Task{
		ID:              "task-1",
		OrchestrationID: "orch-1",
		Type:            "codegen",
		Title:           "Generate handlers",
		Status:          models.TaskStatusPending,
		DependsOn:       []string{"task-0"},
		Agent:           "reviewer",
		Scopes:          []string{"code:read"},
		Timeout:         5 * time.Minute,
		Priority:        3,
	}
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	started := time.Now().UTC().Truncate(time.Millisecond)
	task.Status = models.TaskStatusSucceeded
	task.Output = "done"
	task.OutputTargets = []string{"a.go", "b.go"}
	task.StartedAt = &started
	task.TokensUsed = 1234
	if err := db.UpdateTask(task); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}

	tasks, err := db.ListTasksByOrchestration("orch-1")
	if err != nil {
		t.Fatalf("ListTasksByOrchestration failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	got := tasks[0]
	if got.Status != models.TaskStatusSucceeded || got.Output != "done" {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if len(got.DependsOn) != 1 || got.DependsOn[0] != "task-0" {
		t.Errorf("DependsOn = %v", got.DependsOn)
	}
	if len(got.OutputTargets) != 2 {
		t.Errorf("OutputTargets = %v", got.OutputTargets)
	}
	if got.Timeout != 5*time.Minute {
		t.Errorf("Timeout = %v, want 5m", got.Timeout)
	}
	if got.TokensUsed != 1234 {
		t.Errorf("TokensUsed = %d, want 1234", got.TokensUsed)
	}
}

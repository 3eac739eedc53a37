package state

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/tandem-dev/tandem/pkg/models"
)

// joinScopes serializes a scope set as a space-delimited string.
func joinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// splitScopes parses a space-delimited scope string.
func splitScopes(s string) []string {
	return strings.Fields(s)
}

// CreateAgent inserts a new agent card.
func (db *DB) CreateAgent(a *models.AgentCard) error {
	_, err := db.Exec(`
		INSERT INTO agents (id, key, name, owner, input_schema, output_schema, scopes, client_id, client_secret_hash, endpoint, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Key, a.Name, a.Owner, nullable(a.InputSchema), nullable(a.OutputSchema),
		joinScopes(a.Scopes), a.ClientID, a.ClientSecretHash, nullable(a.Endpoint),
		boolToInt(a.Active), formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

const agentColumns = `id, key, name, owner, COALESCE(input_schema,''), COALESCE(output_schema,''), scopes, client_id, client_secret_hash, COALESCE(endpoint,''), active, created_at`

func scanAgent(row interface{ Scan(...any) error }) (*models.AgentCard, error) {
	var a models.AgentCard
	var scopes, createdAt string
	var active int
	err := row.Scan(&a.ID, &a.Key, &a.Name, &a.Owner, &a.InputSchema, &a.OutputSchema,
		&scopes, &a.ClientID, &a.ClientSecretHash, &a.Endpoint, &active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	a.Scopes = splitScopes(scopes)
	a.Active = active != 0
	a.CreatedAt, _ = parseTime(createdAt)
	return &a, nil
}

// GetAgent retrieves an agent card by ID.
func (db *DB) GetAgent(id string) (*models.AgentCard, error) {
	return scanAgent(db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
}

// GetAgentByKey retrieves an agent card by its immutable key.
func (db *DB) GetAgentByKey(key string) (*models.AgentCard, error) {
	return scanAgent(db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE key = ?`, key))
}

// ListAgents returns all agent cards ordered by creation time.
func (db *DB) ListAgents() ([]*models.AgentCard, error) {
	rows, err := db.Query(`SELECT ` + agentColumns + ` FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.AgentCard
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// SetAgentActive flips the active flag. Agents are never deleted.
func (db *DB) SetAgentActive(id string, active bool) error {
	res, err := db.Exec(`UPDATE agents SET active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("set agent active: %w", err)
	}
	return requireRow(res)
}

// UpdateAgentSecretHash rotates the stored client secret hash.
func (db *DB) UpdateAgentSecretHash(id, hash string) error {
	res, err := db.Exec(`UPDATE agents SET client_secret_hash = ? WHERE id = ?`, hash, id)
	if err != nil {
		return fmt.Errorf("update agent secret: %w", err)
	}
	return requireRow(res)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// requireRow converts a zero-row update into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

package models

import "time"

// AgentCard is the registry entry for one registered agent.
type AgentCard struct {
	// ID is the unique identifier assigned at registration.
	ID string `json:"id"`
	// Key is the immutable agent key other agents address it by.
	Key string `json:"key"`
	// Name is the display name of the agent.
	Name string `json:"name"`
	// Owner is the user that owns this agent.
	Owner string `json:"owner"`
	// InputSchema describes the payloads the agent accepts.
	InputSchema string `json:"input_schema,omitempty"`
	// OutputSchema describes the payloads the agent produces.
	OutputSchema string `json:"output_schema,omitempty"`
	// Scopes are the capability scopes the agent declares.
	Scopes []string `json:"scopes"`
	// ClientID is the OAuth-style client identifier.
	ClientID string `json:"client_id"`
	// ClientSecretHash is the hash of the client secret. The plaintext
	// secret is returned once at registration and never stored.
	ClientSecretHash string `json:"-"`
	// Endpoint is the URL delegated tasks are delivered to.
	Endpoint string `json:"endpoint,omitempty"`
	// Active indicates whether the agent may participate in delegation.
	// Agents are deactivated, never deleted, to preserve the audit trail.
	Active bool `json:"active"`
	// CreatedAt is when the agent was registered.
	CreatedAt time.Time `json:"created_at"`
}

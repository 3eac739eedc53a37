// Package registry manages registered agent identities and their
// capability scopes.
package registry

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/tandem-dev/tandem/internal/state"
	"github.com/tandem-dev/tandem/pkg/models"
)

// ErrNotFound is returned when no agent matches the lookup.
var ErrNotFound = errors.New("agent not found")

// ValidationError indicates a registration was rejected before any state
// mutation took place.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// agentKeyPattern constrains agent keys to lowercase slugs.
var agentKeyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{1,63}$`)

// scopePattern constrains scopes to resource:action pairs, e.g. "code:write".
var scopePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*:[a-z][a-z0-9_-]*$`)

// Registry provides agent registration, lookup, and deactivation.
// Agent keys are immutable once issued; the only mutations after creation
// are deactivation and client-secret rotation.
type Registry struct {
	store state.AgentStore
}

// New creates a Registry backed by the given store.
func New(store state.AgentStore) *Registry {
	return &Registry{store: store}
}

// ValidateScopes checks scope syntax and rejects duplicates.
func ValidateScopes(scopes []string) error {
	seen := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		if !scopePattern.MatchString(s) {
			return &ValidationError{Field: "scope", Reason: fmt.Sprintf("%q does not match resource:action", s)}
		}
		if seen[s] {
			return &ValidationError{Field: "scope", Reason: fmt.Sprintf("duplicate scope %q", s)}
		}
		seen[s] = true
	}
	return nil
}

// Register validates and stores a new agent card. The plaintext client
// secret is returned exactly once; only its hash is persisted.
func (r *Registry) Register(card *models.AgentCard) (*models.AgentCard, string, error) {
	if !agentKeyPattern.MatchString(card.Key) {
		return nil, "", &ValidationError{Field: "key", Reason: fmt.Sprintf("%q must be a lowercase slug", card.Key)}
	}
	if card.Name == "" {
		return nil, "", &ValidationError{Field: "name", Reason: "required"}
	}
	if card.Owner == "" {
		return nil, "", &ValidationError{Field: "owner", Reason: "required"}
	}
	if err := ValidateScopes(card.Scopes); err != nil {
		return nil, "", err
	}
	if _, err := r.store.GetAgentByKey(card.Key); err == nil {
		return nil, "", &ValidationError{Field: "key", Reason: fmt.Sprintf("%q already registered", card.Key)}
	} else if !errors.Is(err, state.ErrNotFound) {
		return nil, "", err
	}

	secret, err := newSecret()
	if err != nil {
		return nil, "", err
	}

	card.ID = uuid.New().String()
	card.ClientID = uuid.New().String()
	card.ClientSecretHash = HashSecret(secret)
	card.Active = true
	card.CreatedAt = time.Now().UTC()

	if err := r.store.CreateAgent(card); err != nil {
		return nil, "", fmt.Errorf("register agent: %w", err)
	}
	return card, secret, nil
}

// Lookup returns the agent card for a key.
func (r *Registry) Lookup(key string) (*models.AgentCard, error) {
	card, err := r.store.GetAgentByKey(key)
	if errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return card, err
}

// List returns every registered agent, active or not.
func (r *Registry) List() ([]*models.AgentCard, error) {
	return r.store.ListAgents()
}

// Deactivate marks an agent inactive. Cards are never hard-deleted so the
// audit log stays resolvable.
func (r *Registry) Deactivate(id string) error {
	err := r.store.SetAgentActive(id, false)
	if errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

// RotateSecret issues a new client secret for an agent and returns the
// plaintext once.
func (r *Registry) RotateSecret(id string) (string, error) {
	secret, err := newSecret()
	if err != nil {
		return "", err
	}
	if err := r.store.UpdateAgentSecretHash(id, HashSecret(secret)); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return "", err
	}
	return secret, nil
}

// HashSecret returns the hex SHA-256 digest of a client secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func newSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

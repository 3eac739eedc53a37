// Package consent manages scoped, revocable, expirable delegation grants
// between registered agents.
package consent

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tandem-dev/tandem/internal/state"
	"github.com/tandem-dev/tandem/pkg/models"
)

// ErrNotFound is returned when no consent row matches.
var ErrNotFound = errors.New("consent not found")

// Service manages consent rows. Reads are lock-free; writes to the same
// (user, fromAgent, toAgent) tuple are serialized through a per-tuple mutex
// so simultaneous grant/revoke calls cannot lose updates.
type Service struct {
	store state.ConsentStore
	// now is the clock used for grant/revoke timestamps.
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Service backed by the given store.
func New(store state.ConsentStore) *Service {
	return &Service{
		store: store,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the clock. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// tupleLock returns the mutex guarding one (user, from, to) tuple.
func (s *Service) tupleLock(user, fromAgent, toAgent string) *sync.Mutex {
	key := user + "\x00" + fromAgent + "\x00" + toAgent
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[key] = l
	return l
}

// Grant authorizes fromAgent to invoke toAgent on behalf of user, restricted
// to the given scopes. There is at most one row per tuple: re-granting
// updates the existing row in place, clearing any revocation. Re-granting an
// already-effective consent with identical scopes and expiry is a no-op.
func (s *Service) Grant(user, fromAgent, toAgent string, scopes []string, expiresAt *time.Time) (*models.Consent, error) {
	lock := s.tupleLock(user, fromAgent, toAgent)
	lock.Lock()
	defer lock.Unlock()

	now := s.now().UTC()

	existing, err := s.store.GetConsentByTuple(user, fromAgent, toAgent)
	switch {
	case errors.Is(err, state.ErrNotFound):
		c := &models.Consent{
			ID:        uuid.New().String(),
			User:      user,
			FromAgent: fromAgent,
			ToAgent:   toAgent,
			Scopes:    scopes,
			Granted:   true,
			GrantedAt: now,
			ExpiresAt: expiresAt,
		}
		if err := s.store.InsertConsent(c); err != nil {
			return nil, fmt.Errorf("grant consent: %w", err)
		}
		return c, nil
	case err != nil:
		return nil, err
	}

	if existing.Effective(now) && sameScopes(existing.Scopes, scopes) && sameExpiry(existing.ExpiresAt, expiresAt) {
		return existing, nil
	}

	existing.Scopes = scopes
	existing.Granted = true
	existing.GrantedAt = now
	existing.RevokedAt = nil
	existing.ExpiresAt = expiresAt
	if err := s.store.UpdateConsent(existing); err != nil {
		return nil, fmt.Errorf("re-grant consent: %w", err)
	}
	return existing, nil
}

// Revoke marks a consent revoked. The granted flag and grant timestamp are
// preserved: a revoked grant is distinct from one that never existed.
func (s *Service) Revoke(id string) error {
	c, err := s.store.GetConsent(id)
	if errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return err
	}

	lock := s.tupleLock(c.User, c.FromAgent, c.ToAgent)
	lock.Lock()
	defer lock.Unlock()

	return s.store.RevokeConsent(id, s.now().UTC())
}

// Lookup returns the consent row for a tuple, whether effective or not.
func (s *Service) Lookup(user, fromAgent, toAgent string) (*models.Consent, error) {
	c, err := s.store.GetConsentByTuple(user, fromAgent, toAgent)
	if errors.Is(err, state.ErrNotFound) {
		return nil, ErrNotFound
	}
	return c, err
}

// IsEffective reports whether the consent currently authorizes the required
// scopes: granted, not revoked, not expired, and requiredScopes a subset of
// the granted scopes.
func (s *Service) IsEffective(id string, requiredScopes []string) (bool, error) {
	c, err := s.store.GetConsent(id)
	if errors.Is(err, state.ErrNotFound) {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return false, err
	}
	return c.Effective(s.now().UTC()) && c.Covers(requiredScopes), nil
}

// ListByUser returns all consent rows for a user.
func (s *Service) ListByUser(user string) ([]*models.Consent, error) {
	return s.store.ListConsentsByUser(user)
}

func sameScopes(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	return strings.Join(as, " ") == strings.Join(bs, " ")
}

func sameExpiry(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

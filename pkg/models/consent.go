package models

import "time"

// Consent grants that FromAgent may invoke ToAgent on behalf of User,
// restricted to a set of scopes. There is at most one consent row per
// (user, from_agent, to_agent) tuple; re-granting updates it in place.
type Consent struct {
	// ID is the unique identifier for this consent row.
	ID string `json:"id"`
	// User is the user on whose behalf delegation is authorized.
	User string `json:"user"`
	// FromAgent is the delegating agent's key.
	FromAgent string `json:"from_agent"`
	// ToAgent is the performing agent's key.
	ToAgent string `json:"to_agent"`
	// Scopes are the granted capability scopes.
	Scopes []string `json:"scopes"`
	// Granted indicates the consent was granted at some point.
	// Revocation does not clear it; revoked-at records the revocation.
	Granted bool `json:"granted"`
	// GrantedAt is when the consent was granted or last re-granted.
	GrantedAt time.Time `json:"granted_at"`
	// RevokedAt is when the consent was revoked, if it was.
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	// ExpiresAt is when the consent lapses. Nil means no expiry.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Effective reports whether the consent authorizes delegation at the given
// instant: granted, not revoked, and not expired.
func (c *Consent) Effective(now time.Time) bool {
	if !c.Granted || c.RevokedAt != nil {
		return false
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
		return false
	}
	return true
}

// Covers reports whether every required scope is included in the grant.
func (c *Consent) Covers(required []string) bool {
	granted := make(map[string]bool, len(c.Scopes))
	for _, s := range c.Scopes {
		granted[s] = true
	}
	for _, s := range required {
		if !granted[s] {
			return false
		}
	}
	return true
}

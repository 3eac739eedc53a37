package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tandem-dev/tandem/pkg/models"
)

const consentColumns = `id, user_id, from_agent, to_agent, scopes, granted, granted_at, revoked_at, expires_at`

func scanConsent(row interface{ Scan(...any) error }) (*models.Consent, error) {
	var c models.Consent
	var scopes, grantedAt string
	var granted int
	var revokedAt, expiresAt sql.NullString
	err := row.Scan(&c.ID, &c.User, &c.FromAgent, &c.ToAgent, &scopes, &granted,
		&grantedAt, &revokedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan consent: %w", err)
	}
	c.Scopes = splitScopes(scopes)
	c.Granted = granted != 0
	c.GrantedAt, _ = parseTime(grantedAt)
	c.RevokedAt = parseNullableTime(revokedAt)
	c.ExpiresAt = parseNullableTime(expiresAt)
	return &c, nil
}

// InsertConsent inserts a new consent row.
func (db *DB) InsertConsent(c *models.Consent) error {
	_, err := db.Exec(`
		INSERT INTO consents (id, user_id, from_agent, to_agent, scopes, granted, granted_at, revoked_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.User, c.FromAgent, c.ToAgent, joinScopes(c.Scopes), boolToInt(c.Granted),
		formatTime(c.GrantedAt), formatNullableTime(c.RevokedAt), formatNullableTime(c.ExpiresAt))
	if err != nil {
		return fmt.Errorf("insert consent: %w", err)
	}
	return nil
}

// UpdateConsent rewrites the mutable fields of an existing consent row.
// The row identity and (user, from, to) tuple never change.
func (db *DB) UpdateConsent(c *models.Consent) error {
	res, err := db.Exec(`
		UPDATE consents SET scopes = ?, granted = ?, granted_at = ?, revoked_at = ?, expires_at = ?
		WHERE id = ?
	`, joinScopes(c.Scopes), boolToInt(c.Granted), formatTime(c.GrantedAt),
		formatNullableTime(c.RevokedAt), formatNullableTime(c.ExpiresAt), c.ID)
	if err != nil {
		return fmt.Errorf("update consent: %w", err)
	}
	return requireRow(res)
}

// GetConsent retrieves a consent by ID.
func (db *DB) GetConsent(id string) (*models.Consent, error) {
	return scanConsent(db.QueryRow(`SELECT `+consentColumns+` FROM consents WHERE id = ?`, id))
}

// GetConsentByTuple retrieves the unique consent for (user, fromAgent, toAgent).
func (db *DB) GetConsentByTuple(user, fromAgent, toAgent string) (*models.Consent, error) {
	return scanConsent(db.QueryRow(`
		SELECT `+consentColumns+` FROM consents
		WHERE user_id = ? AND from_agent = ? AND to_agent = ?
	`, user, fromAgent, toAgent))
}

// RevokeConsent sets revoked_at. The granted flag is preserved so the audit
// trail distinguishes revocation from never-granted.
func (db *DB) RevokeConsent(id string, at time.Time) error {
	res, err := db.Exec(`UPDATE consents SET revoked_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("revoke consent: %w", err)
	}
	return requireRow(res)
}

// ListConsentsByUser returns all consent rows for a user.
func (db *DB) ListConsentsByUser(user string) ([]*models.Consent, error) {
	rows, err := db.Query(`SELECT `+consentColumns+` FROM consents WHERE user_id = ? ORDER BY granted_at`, user)
	if err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	defer rows.Close()

	var consents []*models.Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, err
		}
		consents = append(consents, c)
	}
	return consents, rows.Err()
}

// CountConsentsByTuple returns the number of rows for a (user, from, to)
// tuple. Used by tests to verify upsert semantics keep a single row.
func (db *DB) CountConsentsByTuple(user, fromAgent, toAgent string) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM consents WHERE user_id = ? AND from_agent = ? AND to_agent = ?
	`, user, fromAgent, toAgent).Scan(&n)
	return n, err
}

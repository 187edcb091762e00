package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/shrinkix/quotagate/domain/credential"
	"github.com/shrinkix/quotagate/ports"
)

// CredentialStore implements ports.CredentialStore using SQLite.
type CredentialStore struct {
	db *DB
}

// NewCredentialStore creates a new SQLite credential store.
func NewCredentialStore(db *DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// FindByFingerprint returns unrevoked credentials sharing a fingerprint.
func (s *CredentialStore) FindByFingerprint(ctx context.Context, fingerprint string) ([]credential.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, fingerprint, hash, legacy_plaintext, name, created_at, revoked_at, last_used_at
		FROM credentials
		WHERE fingerprint = ? AND revoked_at IS NULL
	`, fingerprint)
	if err != nil {
		return nil, err
	}
	return scanCredentials(rows)
}

// Create stores a new credential.
func (s *CredentialStore) Create(ctx context.Context, c credential.Credential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, account_id, fingerprint, hash, legacy_plaintext, name, created_at, revoked_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.AccountID, c.Fingerprint, c.Hash, c.LegacyPlaintext, c.Name,
		c.CreatedAt.UTC(), nullTime(c.RevokedAt), nullTime(c.LastUsedAt))
	if isUniqueConstraintError(err) {
		return ErrDuplicate
	}
	return err
}

// Revoke marks a credential as revoked.
func (s *CredentialStore) Revoke(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE credentials SET revoked_at = ? WHERE id = ?
	`, at.UTC(), id)
	return expectOne(result, err)
}

// ListByAccount returns all credentials of an account, oldest first.
func (s *CredentialStore) ListByAccount(ctx context.Context, accountID string) ([]credential.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, fingerprint, hash, legacy_plaintext, name, created_at, revoked_at, last_used_at
		FROM credentials
		WHERE account_id = ?
		ORDER BY created_at
	`, accountID)
	if err != nil {
		return nil, err
	}
	return scanCredentials(rows)
}

// Touch updates the last used timestamp.
func (s *CredentialStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE credentials SET last_used_at = ? WHERE id = ?
	`, at.UTC(), id)
	return err
}

func scanCredentials(rows *sql.Rows) ([]credential.Credential, error) {
	defer rows.Close()

	var creds []credential.Credential
	for rows.Next() {
		var c credential.Credential
		var revokedAt, lastUsed sql.NullTime
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Fingerprint, &c.Hash, &c.LegacyPlaintext,
			&c.Name, &c.CreatedAt, &revokedAt, &lastUsed); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		c.RevokedAt = timePtr(revokedAt)
		c.LastUsedAt = timePtr(lastUsed)
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// Ensure interface compliance.
var _ ports.CredentialStore = (*CredentialStore)(nil)

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shrinkix/quotagate/domain/credential"
	"github.com/shrinkix/quotagate/ports"
)

// CredentialStore is an in-memory implementation of ports.CredentialStore.
type CredentialStore struct {
	mu    sync.RWMutex
	creds map[string]credential.Credential // by ID
}

// NewCredentialStore creates a new in-memory credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		creds: make(map[string]credential.Credential),
	}
}

// FindByFingerprint returns unrevoked credentials sharing a fingerprint.
func (s *CredentialStore) FindByFingerprint(ctx context.Context, fingerprint string) ([]credential.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []credential.Credential
	for _, c := range s.creds {
		if c.Fingerprint == fingerprint && c.Usable() {
			result = append(result, c)
		}
	}
	return result, nil
}

// Create stores a new credential.
func (s *CredentialStore) Create(ctx context.Context, c credential.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.creds[c.ID]; ok {
		return ports.ErrDuplicate
	}
	s.creds[c.ID] = c
	return nil
}

// Revoke marks a credential as revoked.
func (s *CredentialStore) Revoke(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.creds[id]
	if !ok {
		return ports.ErrNotFound
	}
	c.RevokedAt = &at
	s.creds[id] = c
	return nil
}

// ListByAccount returns all credentials of an account, oldest first.
func (s *CredentialStore) ListByAccount(ctx context.Context, accountID string) ([]credential.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []credential.Credential
	for _, c := range s.creds {
		if c.AccountID == accountID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// Touch updates the last used timestamp.
func (s *CredentialStore) Touch(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.creds[id]; ok {
		s.creds[id] = c.Touch(at)
	}
	return nil
}

// Ensure interface compliance.
var _ ports.CredentialStore = (*CredentialStore)(nil)

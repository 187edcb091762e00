// Package credential provides API credential value types and pure parsing
// functions for the inbound authentication schemes.
// This package has NO dependencies on I/O.
package credential

import (
	"crypto/subtle"
	"time"
)

// FingerprintLen is the number of leading key characters used as the
// non-secret lookup index.
const FingerprintLen = 12

// Credential is a stored API credential (immutable value type).
// Quota state lives on the owning account, never here.
type Credential struct {
	ID              string
	AccountID       string
	Fingerprint     string // first FingerprintLen chars of the raw key
	Hash            []byte // one-way hash of the full key
	LegacyPlaintext string // not-yet-migrated keys; empty once hashed
	Name            string
	CreatedAt       time.Time
	RevokedAt       *time.Time
	LastUsedAt      *time.Time
}

// Method identifies how a request was authenticated.
type Method string

const (
	MethodSession   Method = "session"
	MethodBearer    Method = "bearer"
	MethodAPIKey    Method = "api_key"
	MethodBasic     Method = "basic"
	MethodAnonymous Method = "anonymous"
)

// Fingerprint returns the lookup index for a raw key.
// This is a PURE function.
func Fingerprint(rawKey string) string {
	if len(rawKey) <= FingerprintLen {
		return rawKey
	}
	return rawKey[:FingerprintLen]
}

// SecretLen is the number of random hex characters in a generated key.
const SecretLen = 64

// Usable reports whether the credential can authenticate a request.
func (c Credential) Usable() bool {
	return c.RevokedAt == nil
}

// IsLegacy reports whether the credential still stores its key in plaintext.
func (c Credential) IsLegacy() bool {
	return len(c.Hash) == 0 && c.LegacyPlaintext != ""
}

// MatchesLegacy compares a presented key against the legacy plaintext field
// in constant time.
// This is a PURE function.
func (c Credential) MatchesLegacy(rawKey string) bool {
	if c.LegacyPlaintext == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.LegacyPlaintext), []byte(rawKey)) == 1
}

// Touch returns a copy of the credential with LastUsedAt stamped.
func (c Credential) Touch(at time.Time) Credential {
	c.LastUsedAt = &at
	return c
}

// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/shrinkix/quotagate/domain/account"
	"github.com/shrinkix/quotagate/domain/credential"
	"github.com/shrinkix/quotagate/domain/credit"
	"github.com/shrinkix/quotagate/domain/guest"
	"github.com/shrinkix/quotagate/domain/operation"
	"github.com/shrinkix/quotagate/domain/plan"
	"github.com/shrinkix/quotagate/domain/ratelimit"
)

// Store sentinels. Adapters wrap or return these so callers can use errors.Is.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// Random abstracts randomness for testability.
type Random interface {
	// Bytes generates n random bytes.
	Bytes(n int) ([]byte, error)
	// String generates a random string of n characters.
	String(n int) (string, error)
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// Hasher provides key hashing.
type Hasher interface {
	// Hash generates a hash from a plaintext value.
	Hash(plaintext string) ([]byte, error)

	// Compare checks if plaintext matches hash.
	Compare(hash []byte, plaintext string) bool
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// AccountStore persists account plan, usage and cycle state.
// Every mutating method is a single atomic conditional update.
type AccountStore interface {
	// Get retrieves an account by ID.
	Get(ctx context.Context, id string) (account.Account, error)

	// GetByEmail retrieves an account by email.
	GetByEmail(ctx context.Context, email string) (account.Account, error)

	// GetBySession retrieves the account holding a session token.
	// Validity (expiry) is checked by the caller.
	GetBySession(ctx context.Context, token string) (account.Account, error)

	// Create stores a new account. Returns ErrDuplicate for a taken email.
	Create(ctx context.Context, a account.Account) error

	// SetPlan overwrites the plan. Limits are re-derived on the next check.
	SetPlan(ctx context.Context, id, planID string, at time.Time) error

	// ClearSession removes the session token and expiry.
	ClearSession(ctx context.Context, id string) error

	// ResetCycle applies r only if the stored ResetAt still equals
	// expectResetAt and the stored cadence equals expectCadence.
	// Returns false when another writer already moved the cycle.
	ResetCycle(ctx context.Context, id string, expectCadence plan.Cadence, expectResetAt time.Time, r account.CycleReset) (bool, error)

	// RecordUsage charges one request in the order base, add-on, legacy,
	// overflow, as one atomic statement. Returns the updated account.
	RecordUsage(ctx context.Context, id string, d account.Debit) (account.Account, account.Pool, error)

	// ListDue returns accounts whose cycle ended at or before now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]account.Account, error)
}

// CreditStore persists add-on balances and the purchase history.
type CreditStore interface {
	// AddCredits raises the add-on balance and appends the purchase record
	// in one transaction. Returns ErrDuplicate for a reused payment
	// reference and *credit.CapError when the cap would be exceeded.
	AddCredits(ctx context.Context, p credit.Purchase, ceiling int64) (int64, error)

	// History returns purchases for an account, newest first.
	History(ctx context.Context, accountID string) ([]credit.Purchase, error)
}

// CredentialStore persists API credentials.
type CredentialStore interface {
	// FindByFingerprint returns unrevoked credentials sharing a fingerprint.
	FindByFingerprint(ctx context.Context, fingerprint string) ([]credential.Credential, error)

	// Create stores a new credential.
	Create(ctx context.Context, c credential.Credential) error

	// Revoke marks a credential as revoked.
	Revoke(ctx context.Context, id string, at time.Time) error

	// ListByAccount returns all credentials of an account.
	ListByAccount(ctx context.Context, accountID string) ([]credential.Credential, error)

	// Touch updates the last used timestamp.
	Touch(ctx context.Context, id string, at time.Time) error
}

// GuestLedger tracks anonymous usage per client.
type GuestLedger interface {
	// Admit counts one request for clientID if it is under limit today.
	Admit(ctx context.Context, clientID string, limit int, now time.Time) (guest.Result, error)
	// Release gives back one request admitted in the given day bucket.
	Release(ctx context.Context, clientID string, day string) error
}

// RateLimitStore holds rate-limit annotation windows.
type RateLimitStore interface {
	// Get retrieves current window state for a key.
	Get(ctx context.Context, key string) (ratelimit.WindowState, error)

	// Set updates window state for a key.
	Set(ctx context.Context, key string, state ratelimit.WindowState) error
}

// -----------------------------------------------------------------------------
// External Service Ports
// -----------------------------------------------------------------------------

// ImageInfo is what can be learned from an image header without decoding
// pixel data.
type ImageInfo struct {
	Format string // jpeg, png, gif, webp
	Width  int
	Height int
}

// Prober reads image headers.
type Prober interface {
	Probe(data []byte) (ImageInfo, error)
}

// ProcessRequest is a validated job for the image engine.
type ProcessRequest struct {
	Filename   string
	Data       []byte
	Operations operation.Request
	Quality    int // 1-100; 0 = engine default
}

// ProcessResult is the engine output.
type ProcessResult struct {
	Data        []byte
	Format      string
	ContentType string
	Width       int
	Height      int
}

// Processor is the external image transformation engine.
type Processor interface {
	Process(ctx context.Context, req ProcessRequest) (ProcessResult, error)
}

// -----------------------------------------------------------------------------
// Observability Ports
// -----------------------------------------------------------------------------

// Metrics receives domain events for instrumentation.
type Metrics interface {
	QuotaDecision(planID, outcome string)
	UsageDebit(planID string, pool account.Pool)
	CreditPurchase(addon string, credits int64)
	CycleReset(cadence, source string)
	AuthFailure(reason string)
	GuestRequest(outcome string)
	EngineCall(engine, status string, d time.Duration)
}

// NopMetrics discards all events.
type NopMetrics struct{}

func (NopMetrics) QuotaDecision(string, string) {}
func (NopMetrics) UsageDebit(string, account.Pool) {}
func (NopMetrics) CreditPurchase(string, int64) {}
func (NopMetrics) CycleReset(string, string) {}
func (NopMetrics) AuthFailure(string) {}
func (NopMetrics) GuestRequest(string) {}
func (NopMetrics) EngineCall(string, string, time.Duration) {}

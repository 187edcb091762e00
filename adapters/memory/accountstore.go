// Package memory provides in-memory implementations for tests and
// single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shrinkix/quotagate/domain/account"
	"github.com/shrinkix/quotagate/domain/credit"
	"github.com/shrinkix/quotagate/domain/plan"
	"github.com/shrinkix/quotagate/ports"
)

// AccountStore is an in-memory implementation of ports.AccountStore and
// ports.CreditStore. A single mutex serializes every mutation, so each
// conditional update is atomic.
type AccountStore struct {
	mu          sync.RWMutex
	accounts    map[string]account.Account // by ID
	purchases   map[string][]credit.Purchase
	paymentRefs map[string]struct{}
}

// NewAccountStore creates a new in-memory account store.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts:    make(map[string]account.Account),
		purchases:   make(map[string][]credit.Purchase),
		paymentRefs: make(map[string]struct{}),
	}
}

// Get retrieves an account by ID.
func (s *AccountStore) Get(ctx context.Context, id string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return account.Account{}, ports.ErrNotFound
	}
	return a, nil
}

// GetByEmail retrieves an account by email (case-insensitive).
func (s *AccountStore) GetByEmail(ctx context.Context, email string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if strings.EqualFold(a.Email, email) {
			return a, nil
		}
	}
	return account.Account{}, ports.ErrNotFound
}

// GetBySession retrieves the account holding a session token.
func (s *AccountStore) GetBySession(ctx context.Context, token string) (account.Account, error) {
	if token == "" {
		return account.Account{}, ports.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.SessionToken == token {
			return a, nil
		}
	}
	return account.Account{}, ports.ErrNotFound
}

// Create stores a new account.
func (s *AccountStore) Create(ctx context.Context, a account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.ID]; ok {
		return fmt.Errorf("account %s: %w", a.ID, ports.ErrDuplicate)
	}
	for _, existing := range s.accounts {
		if a.Email != "" && strings.EqualFold(existing.Email, a.Email) {
			return fmt.Errorf("email %s: %w", a.Email, ports.ErrDuplicate)
		}
	}
	s.accounts[a.ID] = a
	return nil
}

// SetPlan overwrites the plan.
func (s *AccountStore) SetPlan(ctx context.Context, id, planID string, at time.Time) error {
	return s.update(id, func(a *account.Account) {
		a.PlanID = planID
		a.PlanUpdatedAt = at
	})
}

// ClearSession removes the session token and expiry.
func (s *AccountStore) ClearSession(ctx context.Context, id string) error {
	return s.update(id, func(a *account.Account) {
		a.SessionToken = ""
		a.SessionExpiresAt = nil
	})
}

// ResetCycle applies r when the stored cycle still matches the expectation.
func (s *AccountStore) ResetCycle(ctx context.Context, id string, expectCadence plan.Cadence, expectResetAt time.Time, r account.CycleReset) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return false, ports.ErrNotFound
	}
	if a.CycleCadence != expectCadence || !a.ResetAt.Equal(expectResetAt) {
		return false, nil
	}
	s.accounts[id] = account.ApplyReset(a, r)
	return true, nil
}

// RecordUsage charges one request.
func (s *AccountStore) RecordUsage(ctx context.Context, id string, d account.Debit) (account.Account, account.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return account.Account{}, "", ports.ErrNotFound
	}
	a, pool := account.ApplyDebit(a, d)
	s.accounts[id] = a
	return a, pool, nil
}

// ListDue returns accounts whose cycle ended at or before now.
func (s *AccountStore) ListDue(ctx context.Context, now time.Time, limit int) ([]account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []account.Account
	for _, a := range s.accounts {
		if !a.ResetAt.IsZero() && !now.Before(a.ResetAt) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// AddCredits raises the add-on balance and appends the purchase record.
func (s *AccountStore) AddCredits(ctx context.Context, p credit.Purchase, ceiling int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[p.AccountID]
	if !ok {
		return 0, ports.ErrNotFound
	}
	if _, dup := s.paymentRefs[p.PaymentRef]; dup {
		return 0, fmt.Errorf("payment %s: %w", p.PaymentRef, ports.ErrDuplicate)
	}
	if a.AddonCredits+p.Credits > ceiling {
		return 0, &credit.CapError{Balance: a.AddonCredits, Requested: p.Credits, Cap: ceiling}
	}

	a.AddonCredits += p.Credits
	s.accounts[p.AccountID] = a
	s.purchases[p.AccountID] = append(s.purchases[p.AccountID], p)
	s.paymentRefs[p.PaymentRef] = struct{}{}
	return a.AddonCredits, nil
}

// History returns purchases for an account, newest first.
func (s *AccountStore) History(ctx context.Context, accountID string) ([]credit.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.purchases[accountID]
	result := make([]credit.Purchase, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		result = append(result, src[i])
	}
	return result, nil
}

func (s *AccountStore) update(id string, fn func(*account.Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return ports.ErrNotFound
	}
	fn(&a)
	s.accounts[id] = a
	return nil
}

// Put replaces an account wholesale (for testing).
func (s *AccountStore) Put(a account.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

// Ensure interface compliance.
var (
	_ ports.AccountStore = (*AccountStore)(nil)
	_ ports.CreditStore  = (*AccountStore)(nil)
)

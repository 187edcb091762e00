package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shrinkix/quotagate/domain/account"
	"github.com/shrinkix/quotagate/domain/credential"
	"github.com/shrinkix/quotagate/domain/credit"
	"github.com/shrinkix/quotagate/domain/quota"
	"github.com/shrinkix/quotagate/domain/usage"
	"github.com/shrinkix/quotagate/ports"
)

// DefaultKeyPrefix marks keys issued by this service.
const DefaultKeyPrefix = "shx_"

// ErrUnknownPlan is returned when an administrative action names a plan
// that is not in the catalog.
var ErrUnknownPlan = errors.New("unknown plan")

// AccountService handles account administration, key issuance and the
// usage summary.
type AccountService struct {
	accounts    ports.AccountStore
	credentials ports.CredentialStore
	ledger      *CreditLedger
	catalogs    *CatalogHolder
	hasher      ports.Hasher
	random      ports.Random
	clock       ports.Clock
	accountIDs  ports.IDGenerator
	keyIDs      ports.IDGenerator
	logger      zerolog.Logger

	keyPrefix string
}

// AccountDeps contains dependencies for AccountService.
type AccountDeps struct {
	Accounts    ports.AccountStore
	Credentials ports.CredentialStore
	Ledger      *CreditLedger
	Catalogs    *CatalogHolder
	Hasher      ports.Hasher
	Random      ports.Random
	Clock       ports.Clock
	AccountIDs  ports.IDGenerator
	KeyIDs      ports.IDGenerator
	Logger      zerolog.Logger
}

// AccountConfig contains configuration for AccountService.
type AccountConfig struct {
	KeyPrefix string
}

// NewAccountService creates a new account service.
func NewAccountService(deps AccountDeps, cfg AccountConfig) *AccountService {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	return &AccountService{
		accounts:    deps.Accounts,
		credentials: deps.Credentials,
		ledger:      deps.Ledger,
		catalogs:    deps.Catalogs,
		hasher:      deps.Hasher,
		random:      deps.Random,
		clock:       deps.Clock,
		accountIDs:  deps.AccountIDs,
		keyIDs:      deps.KeyIDs,
		logger:      deps.Logger,
		keyPrefix:   cfg.KeyPrefix,
	}
}

// Create registers a new account on a plan. An empty planID selects the
// catalog default. The first cycle starts immediately.
func (s *AccountService) Create(ctx context.Context, email, planID string) (account.Account, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return account.Account{}, fmt.Errorf("invalid email %q", email)
	}

	plans := s.catalogs.Plans()
	p := plans.Default()
	if planID != "" {
		var ok bool
		if p, ok = plans.Get(planID); !ok {
			return account.Account{}, fmt.Errorf("%w: %s", ErrUnknownPlan, planID)
		}
	}

	now := s.clock.Now()
	a := account.Account{
		ID:            s.accountIDs.New(),
		Email:         email,
		PlanID:        p.ID,
		CreatedAt:     now,
		PlanUpdatedAt: now,
		CycleCadence:  p.Cadence,
		CycleStart:    quota.CycleStart(p.Cadence, now),
		ResetAt:       quota.NextReset(p.Cadence, now),
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		if errors.Is(err, ports.ErrDuplicate) {
			return account.Account{}, fmt.Errorf("account %s: %w", email, err)
		}
		return account.Account{}, persistence("create account", err)
	}

	s.logger.Info().Str("account_id", a.ID).Str("plan_id", p.ID).Msg("account created")
	return a, nil
}

// Get returns an account by ID or email.
func (s *AccountService) Get(ctx context.Context, idOrEmail string) (account.Account, error) {
	var (
		a   account.Account
		err error
	)
	if strings.Contains(idOrEmail, "@") {
		a, err = s.accounts.GetByEmail(ctx, idOrEmail)
	} else {
		a, err = s.accounts.Get(ctx, idOrEmail)
	}
	if err != nil {
		return account.Account{}, loadErr(err)
	}
	return a, nil
}

// SetPlan overwrites an account's plan. The next quota check re-derives
// limits and rolls the cycle if the cadence changed.
func (s *AccountService) SetPlan(ctx context.Context, accountID, planID string) error {
	if _, ok := s.catalogs.Plans().Get(planID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlan, planID)
	}
	if err := s.accounts.SetPlan(ctx, accountID, planID, s.clock.Now()); err != nil {
		return loadErr(err)
	}
	s.logger.Info().Str("account_id", accountID).Str("plan_id", planID).Msg("plan changed")
	return nil
}

// IssuedKey is a newly created credential together with its raw key. The
// raw key is only available at creation time.
type IssuedKey struct {
	RawKey     string
	Credential credential.Credential
}

// IssueKey creates a new API key for an account.
func (s *AccountService) IssueKey(ctx context.Context, accountID, name string) (IssuedKey, error) {
	if _, err := s.accounts.Get(ctx, accountID); err != nil {
		return IssuedKey{}, loadErr(err)
	}

	secret, err := s.random.String(credential.SecretLen)
	if err != nil {
		return IssuedKey{}, fmt.Errorf("generate key: %w", err)
	}
	rawKey := s.keyPrefix + secret

	hash, err := s.hasher.Hash(rawKey)
	if err != nil {
		return IssuedKey{}, fmt.Errorf("hash key: %w", err)
	}

	c := credential.Credential{
		ID:          s.keyIDs.New(),
		AccountID:   accountID,
		Fingerprint: credential.Fingerprint(rawKey),
		Hash:        hash,
		Name:        name,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.credentials.Create(ctx, c); err != nil {
		return IssuedKey{}, persistence("create credential", err)
	}

	s.logger.Info().Str("account_id", accountID).Str("credential_id", c.ID).Msg("key issued")
	return IssuedKey{RawKey: rawKey, Credential: c}, nil
}

// RevokeKey revokes a credential. Revoked credentials never authenticate.
func (s *AccountService) RevokeKey(ctx context.Context, credentialID string) error {
	if err := s.credentials.Revoke(ctx, credentialID, s.clock.Now()); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return fmt.Errorf("credential %s: %w", credentialID, err)
		}
		return persistence("revoke credential", err)
	}
	return nil
}

// ListKeys lists an account's credentials.
func (s *AccountService) ListKeys(ctx context.Context, accountID string) ([]credential.Credential, error) {
	creds, err := s.credentials.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, persistence("list credentials", err)
	}
	return creds, nil
}

// Summary returns the current-cycle usage summary for an account.
func (s *AccountService) Summary(ctx context.Context, accountID string) (usage.Summary, error) {
	acct, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return usage.Summary{}, loadErr(err)
	}
	p := resolvePlan(s.catalogs.Plans(), acct, s.logger)

	acct, err = s.ledger.ResetAtCycleBoundary(ctx, acct, p)
	if err != nil {
		return usage.Summary{}, err
	}

	history, err := s.ledger.History(ctx, acct.ID)
	if err != nil {
		return usage.Summary{}, err
	}
	return usage.Summarize(acct, p, history, s.clock.Now()), nil
}

// Addons lists the add-ons an account's plan may buy.
func (s *AccountService) Addons(ctx context.Context, accountID string) ([]credit.Addon, error) {
	acct, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, loadErr(err)
	}
	return s.ledger.Available(resolvePlan(s.catalogs.Plans(), acct, s.logger)), nil
}

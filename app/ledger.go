package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/shrinkix/quotagate/domain/account"
	"github.com/shrinkix/quotagate/domain/credit"
	"github.com/shrinkix/quotagate/domain/plan"
	"github.com/shrinkix/quotagate/domain/quota"
	"github.com/shrinkix/quotagate/ports"
)

// Sources of a cycle reset, reported to metrics.
const (
	ResetSourceLazy  = "lazy"
	ResetSourceSweep = "sweep"
)

// CreditLedger manages add-on purchases and cycle boundaries.
type CreditLedger struct {
	accounts ports.AccountStore
	credits  ports.CreditStore
	catalogs *CatalogHolder
	clock    ports.Clock
	idGen    ports.IDGenerator
	metrics  ports.Metrics
	logger   zerolog.Logger
}

// LedgerDeps contains dependencies for CreditLedger.
type LedgerDeps struct {
	Accounts ports.AccountStore
	Credits  ports.CreditStore
	Catalogs *CatalogHolder
	Clock    ports.Clock
	IDGen    ports.IDGenerator
	Metrics  ports.Metrics
	Logger   zerolog.Logger
}

// NewCreditLedger creates a new credit ledger.
func NewCreditLedger(deps LedgerDeps) *CreditLedger {
	l := &CreditLedger{
		accounts: deps.Accounts,
		credits:  deps.Credits,
		catalogs: deps.Catalogs,
		clock:    deps.Clock,
		idGen:    deps.IDGen,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
	if l.metrics == nil {
		l.metrics = ports.NopMetrics{}
	}
	return l
}

// Purchase grants an add-on to an account and returns the new balance.
// The paymentRef is the capture reference from the payment provider; a
// reference that was already applied is rejected so webhook retries grant
// nothing. A purchase that would exceed the cap is rejected in full.
func (l *CreditLedger) Purchase(ctx context.Context, accountID, addonID, paymentRef string) (int64, error) {
	if paymentRef == "" {
		return 0, credit.ErrMissingPayment
	}

	acct, err := l.accounts.Get(ctx, accountID)
	if err != nil {
		return 0, loadErr(err)
	}
	p := l.resolvePlan(acct)

	// Credits bought in a stale cycle would be zeroed by the next reset.
	acct, err = l.reset(ctx, acct, p, ResetSourceLazy)
	if err != nil {
		return 0, err
	}

	addons := l.catalogs.Addons()
	addon, err := addons.Validate(addonID, p.AddonsEnabled, acct.AddonCredits)
	if err != nil {
		return 0, err
	}

	purchase := credit.Purchase{
		ID:          l.idGen.New(),
		AccountID:   acct.ID,
		Addon:       addon.ID,
		Credits:     addon.Credits,
		PriceCents:  addon.PriceCents,
		PaymentRef:  paymentRef,
		PurchasedAt: l.clock.Now(),
		CycleStart:  acct.CycleStart,
	}

	balance, err := l.credits.AddCredits(ctx, purchase, addons.Cap())
	if err != nil {
		var capErr *credit.CapError
		switch {
		case errors.As(err, &capErr):
			return 0, capErr
		case errors.Is(err, ports.ErrDuplicate):
			return 0, fmt.Errorf("%w: %s", credit.ErrDuplicatePayment, paymentRef)
		case errors.Is(err, ports.ErrNotFound):
			return 0, err
		default:
			return 0, persistence("add credits", err)
		}
	}

	l.metrics.CreditPurchase(addon.ID, addon.Credits)
	l.logger.Info().
		Str("account_id", acct.ID).
		Str("addon", addon.ID).
		Int64("credits", addon.Credits).
		Int64("balance", balance).
		Msg("add-on credits granted")

	return balance, nil
}

// ResetAtCycleBoundary rolls the account into its current cycle if the
// stored one has ended. It is idempotent: a second call in the same cycle
// and a concurrent call from another writer are both no-ops. The returned
// account reflects the stored state after the reset.
func (l *CreditLedger) ResetAtCycleBoundary(ctx context.Context, a account.Account, p plan.Plan) (account.Account, error) {
	return l.reset(ctx, a, p, ResetSourceLazy)
}

func (l *CreditLedger) reset(ctx context.Context, a account.Account, p plan.Plan, source string) (account.Account, error) {
	r, due := quota.Rollover(a, p.Cadence, l.clock.Now())
	if !due {
		return a, nil
	}

	applied, err := l.accounts.ResetCycle(ctx, a.ID, a.CycleCadence, a.ResetAt, r)
	if err != nil {
		return a, persistence("reset cycle", err)
	}

	if applied {
		l.metrics.CycleReset(string(r.Cadence), source)
		l.logger.Debug().
			Str("account_id", a.ID).
			Str("cadence", string(r.Cadence)).
			Str("source", source).
			Time("reset_at", r.ResetAt).
			Msg("cycle reset")
		return account.ApplyReset(a, r), nil
	}

	// Another writer moved the cycle first.
	fresh, err := l.accounts.Get(ctx, a.ID)
	if err != nil {
		return a, loadErr(err)
	}
	return fresh, nil
}

// History lists an account's purchases, newest first.
func (l *CreditLedger) History(ctx context.Context, accountID string) ([]credit.Purchase, error) {
	history, err := l.credits.History(ctx, accountID)
	if err != nil {
		return nil, persistence("list purchases", err)
	}
	return history, nil
}

// Available lists the add-ons a plan may buy.
func (l *CreditLedger) Available(p plan.Plan) []credit.Addon {
	if !p.AddonsEnabled {
		return []credit.Addon{}
	}
	return l.catalogs.Addons().List()
}

func (l *CreditLedger) resolvePlan(a account.Account) plan.Plan {
	return resolvePlan(l.catalogs.Plans(), a, l.logger)
}

// resolvePlan returns the account's plan, or the catalog default for an
// unknown plan id.
func resolvePlan(c *plan.Catalog, a account.Account, logger zerolog.Logger) plan.Plan {
	p, ok := c.Resolve(a.PlanID)
	if !ok {
		logger.Warn().
			Str("account_id", a.ID).
			Str("plan_id", a.PlanID).
			Str("fallback", p.ID).
			Msg("unknown plan, using default")
	}
	return p
}

// loadErr keeps ErrNotFound visible and wraps everything else as a
// persistence failure.
func loadErr(err error) error {
	if errors.Is(err, ports.ErrNotFound) {
		return fmt.Errorf("account: %w", err)
	}
	return persistence("load account", err)
}

package app

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/shrinkix/quotagate/domain/account"
	"github.com/shrinkix/quotagate/domain/plan"
	"github.com/shrinkix/quotagate/domain/quota"
	"github.com/shrinkix/quotagate/ports"
)

// Evaluation is a quota decision together with the state it was made on.
type Evaluation struct {
	Decision quota.Decision
	Account  account.Account
	Plan     plan.Plan
}

// QuotaEnforcer decides whether an account may make another request.
// Hard and soft mode share one evaluation; the mode only changes whether a
// denial is returned as an error.
type QuotaEnforcer struct {
	accounts ports.AccountStore
	ledger   *CreditLedger
	catalogs *CatalogHolder
	clock    ports.Clock
	metrics  ports.Metrics
	logger   zerolog.Logger
}

// EnforcerDeps contains dependencies for QuotaEnforcer.
type EnforcerDeps struct {
	Accounts ports.AccountStore
	Ledger   *CreditLedger
	Catalogs *CatalogHolder
	Clock    ports.Clock
	Metrics  ports.Metrics
	Logger   zerolog.Logger
}

// NewQuotaEnforcer creates a new quota enforcer.
func NewQuotaEnforcer(deps EnforcerDeps) *QuotaEnforcer {
	e := &QuotaEnforcer{
		accounts: deps.Accounts,
		ledger:   deps.Ledger,
		catalogs: deps.Catalogs,
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
	if e.metrics == nil {
		e.metrics = ports.NopMetrics{}
	}
	return e
}

// Check evaluates the account's current usage. A due cycle reset is
// persisted before deciding. Usage counters are never changed here.
//
// Errors:
//   - *quota.ExpiredError when the plan's absolute expiry has passed
//   - *quota.ExceededError on a hard-mode denial
//   - *PersistenceError when the store fails (the request must be denied)
func (e *QuotaEnforcer) Check(ctx context.Context, accountID string, mode quota.EnforceMode) (Evaluation, error) {
	now := e.clock.Now()

	acct, err := e.accounts.Get(ctx, accountID)
	if err != nil {
		return Evaluation{}, loadErr(err)
	}
	p := resolvePlan(e.catalogs.Plans(), acct, e.logger)

	if acct.IsExpired(now) {
		e.metrics.QuotaDecision(p.ID, "expired")
		return Evaluation{Account: acct, Plan: p}, &quota.ExpiredError{ExpiredAt: *acct.ExpiresAt}
	}

	acct, err = e.ledger.ResetAtCycleBoundary(ctx, acct, p)
	if err != nil {
		return Evaluation{Account: acct, Plan: p}, err
	}

	d := quota.Evaluate(acct, p, mode)
	eval := Evaluation{Decision: d, Account: acct, Plan: p}
	e.metrics.QuotaDecision(p.ID, outcome(d))

	if d.WouldBlock {
		e.logger.Debug().
			Str("account_id", acct.ID).
			Str("plan_id", p.ID).
			Str("mode", string(mode)).
			Int64("used", d.Used).
			Int64("limit", d.Limit).
			Msg("quota exhausted")
	}

	return eval, d.Err(p.Cadence)
}

func outcome(d quota.Decision) string {
	switch {
	case !d.Allowed:
		return "denied"
	case d.WouldBlock:
		return "would_block"
	default:
		return "allowed"
	}
}

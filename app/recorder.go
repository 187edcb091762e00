package app

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/shrinkix/quotagate/domain/account"
	"github.com/shrinkix/quotagate/domain/quota"
	"github.com/shrinkix/quotagate/ports"
)

// UsageRecorder charges one unit of usage after a request succeeded.
type UsageRecorder struct {
	accounts ports.AccountStore
	ledger   *CreditLedger
	catalogs *CatalogHolder
	clock    ports.Clock
	metrics  ports.Metrics
	logger   zerolog.Logger
}

// RecorderDeps contains dependencies for UsageRecorder.
type RecorderDeps struct {
	Accounts ports.AccountStore
	Ledger   *CreditLedger
	Catalogs *CatalogHolder
	Clock    ports.Clock
	Metrics  ports.Metrics
	Logger   zerolog.Logger
}

// NewUsageRecorder creates a new usage recorder.
func NewUsageRecorder(deps RecorderDeps) *UsageRecorder {
	r := &UsageRecorder{
		accounts: deps.Accounts,
		ledger:   deps.Ledger,
		catalogs: deps.Catalogs,
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
	if r.metrics == nil {
		r.metrics = ports.NopMetrics{}
	}
	return r
}

// Record debits one request in the order plan allotment, add-on credit,
// legacy credit. It runs detached from the caller's cancellation because
// the work it accounts for has already been delivered. Failures are logged
// and swallowed; the returned pool is empty when nothing was recorded.
func (r *UsageRecorder) Record(ctx context.Context, accountID string) account.Pool {
	ctx = context.WithoutCancel(ctx)
	log := r.logger.With().Str("account_id", accountID).Logger()

	acct, err := r.accounts.Get(ctx, accountID)
	if err != nil {
		log.Error().Err(err).Msg("usage not recorded: load account")
		return ""
	}
	p := resolvePlan(r.catalogs.Plans(), acct, r.logger)

	if _, err := r.ledger.ResetAtCycleBoundary(ctx, acct, p); err != nil {
		log.Error().Err(err).Msg("usage not recorded: cycle reset")
		return ""
	}

	updated, pool, err := r.accounts.RecordUsage(ctx, accountID, quota.DebitFor(p, r.clock.Now()))
	if err != nil {
		log.Error().Err(err).Msg("usage not recorded")
		return ""
	}

	r.metrics.UsageDebit(p.ID, pool)
	if pool == account.PoolOverflow {
		log.Warn().
			Int64("monthly_usage", updated.MonthlyUsage).
			Int64("daily_usage", updated.DailyUsage).
			Msg("usage recorded past limit")
	}
	return pool
}

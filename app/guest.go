package app

import (
	"context"

	"github.com/shrinkix/quotagate/domain/guest"
	"github.com/shrinkix/quotagate/ports"
)

// GuestQuota applies the daily allowance for anonymous callers.
type GuestQuota struct {
	ledger  ports.GuestLedger
	clock   ports.Clock
	metrics ports.Metrics
	limit   int
}

// NewGuestQuota creates a guest quota. A non-positive limit selects
// guest.DefaultDailyLimit.
func NewGuestQuota(ledger ports.GuestLedger, clock ports.Clock, metrics ports.Metrics, limit int) *GuestQuota {
	if limit <= 0 {
		limit = guest.DefaultDailyLimit
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &GuestQuota{ledger: ledger, clock: clock, metrics: metrics, limit: limit}
}

// Admit counts one request for clientID. It returns *guest.LimitError once
// today's allowance is used up and fails closed when the ledger errors.
func (g *GuestQuota) Admit(ctx context.Context, clientID string) (guest.Result, error) {
	res, err := g.ledger.Admit(ctx, clientID, g.limit, g.clock.Now())
	if err != nil {
		g.metrics.GuestRequest("error")
		return guest.Result{}, persistence("admit guest", err)
	}
	if !res.Allowed {
		g.metrics.GuestRequest("denied")
		return res, &guest.LimitError{Limit: res.Limit, ResetAt: res.ResetAt}
	}
	g.metrics.GuestRequest("allowed")
	return res, nil
}

// Release gives back an admitted request whose job did not complete.
// Results that were not admitted are ignored.
func (g *GuestQuota) Release(ctx context.Context, clientID string, admitted guest.Result) error {
	if !admitted.Allowed {
		return nil
	}
	if err := g.ledger.Release(context.WithoutCancel(ctx), clientID, admitted.Day); err != nil {
		g.metrics.GuestRequest("error")
		return persistence("release guest", err)
	}
	g.metrics.GuestRequest("released")
	return nil
}

// Limit returns the daily allowance.
func (g *GuestQuota) Limit() int { return g.limit }

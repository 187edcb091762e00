// Package account provides the account value type and pure usage arithmetic.
// This package has NO dependencies on I/O.
package account

import (
	"time"

	"github.com/shrinkix/quotagate/domain/plan"
)

// Account is the billable entity holding plan, usage and credit state.
type Account struct {
	ID            string
	Email         string
	PlanID        string
	CreatedAt     time.Time
	PlanUpdatedAt time.Time
	ExpiresAt     *time.Time // nil = plan renews

	MonthlyUsage  int64
	DailyUsage    int64
	AddonCredits  int64
	LegacyCredits int64 // residual prepaid balance from retired credit bundles

	CycleCadence plan.Cadence
	CycleStart   time.Time
	ResetAt      time.Time // first instant of the next cycle; zero = never reset

	LastUsedAt       *time.Time
	SessionToken     string
	SessionExpiresAt *time.Time
}

// Counter names a usage counter on the account.
type Counter string

const (
	CounterDaily   Counter = "daily"
	CounterMonthly Counter = "monthly"
)

// CounterFor returns the counter metered under a cadence.
func CounterFor(c plan.Cadence) Counter {
	if c == plan.CadenceDaily {
		return CounterDaily
	}
	return CounterMonthly
}

// Usage returns the value of a counter.
func (a Account) Usage(c Counter) int64 {
	if c == CounterDaily {
		return a.DailyUsage
	}
	return a.MonthlyUsage
}

// IsExpired reports whether an absolute plan expiry has passed.
func (a Account) IsExpired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// SessionValid reports whether token matches the stored session and the
// session expiry is strictly in the future.
func (a Account) SessionValid(token string, now time.Time) bool {
	if a.SessionToken == "" || token != a.SessionToken {
		return false
	}
	return a.SessionExpiresAt != nil && a.SessionExpiresAt.After(now)
}

// Pool identifies where a recorded request was charged.
type Pool string

const (
	PoolBase      Pool = "base"      // plan allotment
	PoolAddon     Pool = "addon"     // purchased add-on credit
	PoolLegacy    Pool = "legacy"    // legacy prepaid credit
	PoolUnmetered Pool = "unmetered" // unconstrained allotment
	PoolOverflow  Pool = "overflow"  // nothing left; counted past the limit
)

// Debit describes one recorded request.
type Debit struct {
	Counter   Counter
	Allotment int64 // -1 = unconstrained
	Addons    bool  // add-on credit may be consumed
	At        time.Time
}

// ApplyDebit charges one request in the fixed order: plan allotment, then
// add-on credit, then legacy credit. When every pool is empty the metered
// counter is still incremented so the next check sees the overshoot.
// This is a PURE function.
func ApplyDebit(a Account, d Debit) (Account, Pool) {
	at := d.At
	a.LastUsedAt = &at

	used := a.Usage(d.Counter)
	var pool Pool
	switch {
	case d.Allotment < 0:
		pool = PoolUnmetered
	case used < d.Allotment:
		pool = PoolBase
	case d.Addons && a.AddonCredits > 0:
		a.AddonCredits--
		return a, PoolAddon
	case a.LegacyCredits > 0:
		a.LegacyCredits--
		return a, PoolLegacy
	default:
		pool = PoolOverflow
	}

	if d.Counter == CounterDaily {
		a.DailyUsage++
	} else {
		a.MonthlyUsage++
	}
	return a, pool
}

// CycleReset describes the administrative fields written when a cycle rolls over.
type CycleReset struct {
	Cadence     plan.Cadence
	CycleStart  time.Time
	ResetAt     time.Time
	ZeroDaily   bool
	ZeroMonthly bool
	ZeroAddons  bool
}

// ApplyReset writes a cycle reset onto the account.
// This is a PURE function.
func ApplyReset(a Account, r CycleReset) Account {
	a.CycleCadence = r.Cadence
	a.CycleStart = r.CycleStart
	a.ResetAt = r.ResetAt
	if r.ZeroDaily {
		a.DailyUsage = 0
	}
	if r.ZeroMonthly {
		a.MonthlyUsage = 0
	}
	if r.ZeroAddons {
		a.AddonCredits = 0
	}
	return a
}

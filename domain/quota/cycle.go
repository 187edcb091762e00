package quota

import (
	"time"

	"github.com/shrinkix/quotagate/domain/account"
	"github.com/shrinkix/quotagate/domain/plan"
)

// CycleStart returns the first instant of the cycle containing t (UTC).
// This is a PURE function.
func CycleStart(c plan.Cadence, t time.Time) time.Time {
	t = t.UTC()
	if c == plan.CadenceDaily {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextReset returns the first instant of the cycle after the one containing t.
// This is a PURE function.
func NextReset(c plan.Cadence, t time.Time) time.Time {
	start := CycleStart(c, t)
	if c == plan.CadenceDaily {
		return start.AddDate(0, 0, 1)
	}
	return start.AddDate(0, 1, 0)
}

// NeedsRollover reports whether the account's stored cycle has ended, was
// never started, or was started under a different cadence.
// This is a PURE function.
func NeedsRollover(a account.Account, c plan.Cadence, now time.Time) bool {
	if a.ResetAt.IsZero() || a.CycleCadence != c {
		return true
	}
	return !now.Before(a.ResetAt)
}

// Rollover returns the reset to persist for the account, if one is due.
// Monthly cycles also zero the add-on balance; a cadence change zeroes both
// counters so the new cycle starts clean.
// This is a PURE function.
func Rollover(a account.Account, c plan.Cadence, now time.Time) (account.CycleReset, bool) {
	if !NeedsRollover(a, c, now) {
		return account.CycleReset{}, false
	}
	changed := a.CycleCadence != c
	return account.CycleReset{
		Cadence:     c,
		CycleStart:  CycleStart(c, now),
		ResetAt:     NextReset(c, now),
		ZeroDaily:   c == plan.CadenceDaily || changed,
		ZeroMonthly: c == plan.CadenceMonthly || changed,
		ZeroAddons:  c == plan.CadenceMonthly,
	}, true
}

// DaysUntil returns whole days from now until t, rounded up, never negative.
// This is a PURE function.
func DaysUntil(t, now time.Time) int {
	if !t.After(now) {
		return 0
	}
	d := t.Sub(now)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// DebitFor returns the debit a recorded request applies under a plan.
// This is a PURE function.
func DebitFor(p plan.Plan, at time.Time) account.Debit {
	return account.Debit{
		Counter:   account.CounterFor(p.Cadence),
		Allotment: p.Allotment(),
		Addons:    p.Tier == plan.TierAPI,
		At:        at,
	}
}

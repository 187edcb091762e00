// Package quota provides pure functions for quota enforcement.
// All functions are deterministic with no side effects.
package quota

import (
	"time"

	"github.com/shrinkix/quotagate/domain/account"
	"github.com/shrinkix/quotagate/domain/plan"
)

// EnforceMode determines what happens when a request would be denied.
type EnforceMode string

const (
	EnforceHard EnforceMode = "hard" // Reject requests over the limit
	EnforceSoft EnforceMode = "soft" // Allow, report WouldBlock
)

// ParseMode converts a config value into an EnforceMode, defaulting to hard.
func ParseMode(s string) EnforceMode {
	if EnforceMode(s) == EnforceSoft {
		return EnforceSoft
	}
	return EnforceHard
}

// WarningLevel indicates how close to or over quota the account is.
type WarningLevel int

const (
	WarningNone        WarningLevel = iota // < 80%
	WarningApproaching                     // >= 80%
	WarningCritical                        // >= 95%
	WarningExceeded                        // >= 100%
)

// Reasons for denial.
const (
	ReasonDailyLimit   = "daily_limit_reached"
	ReasonMonthlyLimit = "monthly_limit_reached"
)

// Decision is the outcome of a quota evaluation (value type).
type Decision struct {
	Allowed    bool
	WouldBlock bool // what a hard check would have decided
	Mode       EnforceMode
	Unlimited  bool
	Counter    account.Counter
	Used       int64
	Limit      int64 // effective limit; -1 = unlimited
	Remaining  int64
	ResetAt    time.Time
	Warning    WarningLevel
	Reason     string
}

// Evaluate computes the allow/deny decision for an account whose cycle has
// already been rolled over. Hard and soft mode share the arithmetic; soft
// mode only converts a denial into WouldBlock.
// This is a PURE function - no side effects.
func Evaluate(a account.Account, p plan.Plan, mode EnforceMode) Decision {
	counter := account.CounterFor(p.Cadence)
	d := Decision{
		Mode:    mode,
		Counter: counter,
		Used:    a.Usage(counter),
		ResetAt: a.ResetAt,
	}

	allotment := p.Allotment()
	if allotment < 0 {
		d.Allowed = true
		d.Unlimited = true
		d.Limit = plan.Unlimited
		d.Remaining = -1
		return d
	}

	limit := allotment
	if p.Tier == plan.TierAPI {
		limit += a.AddonCredits
	}
	d.Limit = limit
	if limit > d.Used {
		d.Remaining = limit - d.Used
	}
	d.Warning = warningFor(d.Used, limit)

	permitted := d.Used < limit || a.LegacyCredits > 0
	if !permitted {
		d.WouldBlock = true
		if p.Cadence == plan.CadenceDaily {
			d.Reason = ReasonDailyLimit
		} else {
			d.Reason = ReasonMonthlyLimit
		}
	}

	d.Allowed = permitted || mode == EnforceSoft
	return d
}

// Err returns the error a hard-mode denial surfaces, or nil.
func (d Decision) Err(cadence plan.Cadence) error {
	if d.Allowed {
		return nil
	}
	return &ExceededError{
		Reason:  d.Reason,
		Cadence: cadence,
		Used:    d.Used,
		Limit:   d.Limit,
		ResetAt: d.ResetAt,
	}
}

func warningFor(used, limit int64) WarningLevel {
	if limit <= 0 {
		if used > 0 || limit == 0 {
			return WarningExceeded
		}
		return WarningNone
	}
	pct := float64(used) / float64(limit) * 100
	switch {
	case pct >= 100:
		return WarningExceeded
	case pct >= 95:
		return WarningCritical
	case pct >= 80:
		return WarningApproaching
	default:
		return WarningNone
	}
}

// String returns the string representation of a warning level.
func (w WarningLevel) String() string {
	switch w {
	case WarningNone:
		return "none"
	case WarningApproaching:
		return "approaching"
	case WarningCritical:
		return "critical"
	case WarningExceeded:
		return "exceeded"
	default:
		return "unknown"
	}
}

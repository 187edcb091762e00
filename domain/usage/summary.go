// Package usage builds the usage summary shown to account holders.
// All functions are pure - no side effects.
package usage

import (
	"math"
	"time"

	"github.com/shrinkix/quotagate/domain/account"
	"github.com/shrinkix/quotagate/domain/credit"
	"github.com/shrinkix/quotagate/domain/plan"
	"github.com/shrinkix/quotagate/domain/quota"
)

// Summary represents current-cycle usage for one account (value type).
type Summary struct {
	Usage Counts
	Plan  PlanInfo
	Addon AddonInfo
	Cycle CycleInfo
}

// Counts is the metered usage against the effective limit.
// Total and Remaining are -1 when the allotment is unconstrained.
type Counts struct {
	Used       int64
	Remaining  int64
	Total      int64
	Percentage float64 // one decimal place
}

// PlanInfo describes the governing plan.
type PlanInfo struct {
	ID             string
	Name           string
	Tier           plan.Tier
	BaseLimit      int64
	WebLimit       int64
	MaxFileSize    int64
	MaxPixels      int64
	AllowedFormats []string
	Features       []string
	RateLimit      float64
}

// AddonInfo is the add-on balance and its purchase history.
type AddonInfo struct {
	CurrentCredits int64
	History        []credit.Purchase
}

// CycleInfo describes the current cycle.
type CycleInfo struct {
	Cadence        plan.Cadence
	CycleStart     time.Time
	ResetAt        time.Time
	DaysUntilReset int
}

// Summarize builds a Summary for an account whose cycle is current.
// This is a PURE function.
func Summarize(a account.Account, p plan.Plan, history []credit.Purchase, now time.Time) Summary {
	d := quota.Evaluate(a, p, quota.EnforceSoft)

	counts := Counts{Used: d.Used, Total: d.Limit, Remaining: d.Remaining}
	if d.Unlimited {
		counts.Total = -1
		counts.Remaining = -1
	} else if d.Limit > 0 {
		counts.Percentage = math.Round(float64(d.Used)/float64(d.Limit)*1000) / 10
	}

	return Summary{
		Usage: counts,
		Plan: PlanInfo{
			ID:             p.ID,
			Name:           p.Name,
			Tier:           p.Tier,
			BaseLimit:      p.MonthlyLimit,
			WebLimit:       p.WebLimit,
			MaxFileSize:    p.MaxFileSize,
			MaxPixels:      p.MaxPixels,
			AllowedFormats: p.AllowedFormats,
			Features:       p.Features,
			RateLimit:      p.RateLimit,
		},
		Addon: AddonInfo{
			CurrentCredits: a.AddonCredits,
			History:        history,
		},
		Cycle: CycleInfo{
			Cadence:        p.Cadence,
			CycleStart:     a.CycleStart,
			ResetAt:        a.ResetAt,
			DaysUntilReset: quota.DaysUntil(a.ResetAt, now),
		},
	}
}

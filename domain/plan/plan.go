// Package plan provides plan value types and pure functions.
package plan

import (
	"sort"
	"strings"
)

// Tier determines which allotment governs an account on the plan.
type Tier string

const (
	TierWeb Tier = "web" // Web allotment taken as-is (-1 = unconstrained)
	TierAPI Tier = "api" // Monthly allotment plus add-on credits
)

// Cadence is how often usage counters reset.
type Cadence string

const (
	CadenceDaily   Cadence = "daily"   // Entry-level tiers
	CadenceMonthly Cadence = "monthly" // Paid tiers
)

// Unlimited marks an allotment as unconstrained.
const Unlimited int64 = -1

// Plan represents a pricing tier (immutable value type).
type Plan struct {
	ID             string
	Name           string
	Tier           Tier
	Cadence        Cadence
	MonthlyLimit   int64 // -1 = unlimited, 0 = no API access
	WebLimit       int64 // -1 = unlimited, 0 = no web access
	MaxFileSize    int64 // bytes
	MaxPixels      int64 // width * height
	AllowedFormats []string
	MaxOperations  int
	RateLimit      float64 // requests per second, may be fractional
	Features       []string
	AddonsEnabled  bool
}

// Allotment returns the base allotment that governs the plan's tier.
// This is a PURE function.
func (p Plan) Allotment() int64 {
	if p.Tier == TierWeb {
		return p.WebLimit
	}
	return p.MonthlyLimit
}

// IsUnlimited checks if the governing allotment is unconstrained.
// This is a PURE function.
func IsUnlimited(p Plan) bool {
	return p.Allotment() < 0
}

// AllowsFormat reports whether the plan accepts the given image format.
// Formats are compared case-insensitively; "jpg" and "jpeg" are distinct entries.
func (p Plan) AllowsFormat(format string) bool {
	format = strings.ToLower(strings.TrimPrefix(format, "."))
	for _, f := range p.AllowedFormats {
		if f == format {
			return true
		}
	}
	return false
}

// HasFeature reports whether the plan lists a feature.
func (p Plan) HasFeature(name string) bool {
	for _, f := range p.Features {
		if f == name {
			return true
		}
	}
	return false
}

// FindPlan finds a plan by ID in a list.
// This is a PURE function.
func FindPlan(plans []Plan, id string) (Plan, bool) {
	for _, p := range plans {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}

// Catalog is a read-only set of plans keyed by ID.
type Catalog struct {
	plans     map[string]Plan
	order     []string
	defaultID string
}

// NewCatalog builds a catalog. defaultID names the fallback plan for
// accounts whose plan is unknown; it must be present in plans.
func NewCatalog(plans []Plan, defaultID string) *Catalog {
	c := &Catalog{
		plans:     make(map[string]Plan, len(plans)),
		defaultID: defaultID,
	}
	for _, p := range plans {
		if _, dup := c.plans[p.ID]; !dup {
			c.order = append(c.order, p.ID)
		}
		c.plans[p.ID] = p
	}
	return c
}

// Get returns the plan with the given ID.
func (c *Catalog) Get(id string) (Plan, bool) {
	p, ok := c.plans[id]
	return p, ok
}

// Resolve returns the plan with the given ID or the default plan.
// The second value is false when the fallback was used.
func (c *Catalog) Resolve(id string) (Plan, bool) {
	if p, ok := c.plans[id]; ok {
		return p, true
	}
	return c.plans[c.defaultID], false
}

// Default returns the fallback plan.
func (c *Catalog) Default() Plan {
	return c.plans[c.defaultID]
}

// List returns plans in insertion order.
func (c *Catalog) List() []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plans[id])
	}
	return out
}

// IDs returns the sorted plan IDs.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.plans))
	for id := range c.plans {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

const mb = 1024 * 1024

var (
	baseFormats = []string{"jpg", "jpeg", "png", "webp"}
	fullFormats = []string{"jpg", "jpeg", "png", "webp", "avif"}
)

// Defaults returns the published Shrinkix plan lineup.
func Defaults() []Plan {
	return []Plan{
		{
			ID: "free", Name: "Free", Tier: TierWeb, Cadence: CadenceDaily,
			MonthlyLimit: 500, WebLimit: 20,
			MaxFileSize: 5 * mb, MaxPixels: 16_000_000,
			AllowedFormats: baseFormats, MaxOperations: 1, RateLimit: 0.5,
			Features: []string{"compress"},
		},
		{
			ID: "web-pro", Name: "Web Pro", Tier: TierWeb, Cadence: CadenceMonthly,
			MonthlyLimit: 0, WebLimit: Unlimited,
			MaxFileSize: 10 * mb, MaxPixels: 36_000_000,
			AllowedFormats: baseFormats, MaxOperations: 2, RateLimit: 2,
			Features: []string{"compress", "resize"},
		},
		{
			ID: "web-ultra", Name: "Web Ultra", Tier: TierWeb, Cadence: CadenceMonthly,
			MonthlyLimit: 0, WebLimit: Unlimited,
			MaxFileSize: 25 * mb, MaxPixels: 64_000_000,
			AllowedFormats: fullFormats, MaxOperations: 3, RateLimit: 5,
			Features: []string{"compress", "resize", "crop", "avif"},
		},
		{
			ID: "starter", Name: "Starter", Tier: TierAPI, Cadence: CadenceMonthly,
			MonthlyLimit: 2000, WebLimit: 0,
			MaxFileSize: 10 * mb, MaxPixels: 36_000_000,
			AllowedFormats: baseFormats, MaxOperations: 2, RateLimit: 1,
			Features: []string{"compress", "resize"}, AddonsEnabled: true,
		},
		{
			ID: "pro", Name: "Pro", Tier: TierAPI, Cadence: CadenceMonthly,
			MonthlyLimit: 10000, WebLimit: 0,
			MaxFileSize: 25 * mb, MaxPixels: 64_000_000,
			AllowedFormats: fullFormats, MaxOperations: 3, RateLimit: 2,
			Features: []string{"compress", "resize", "crop", "avif"}, AddonsEnabled: true,
		},
		{
			ID: "api-pro", Name: "API Pro", Tier: TierAPI, Cadence: CadenceMonthly,
			MonthlyLimit: 5000, WebLimit: 0,
			MaxFileSize: 10 * mb, MaxPixels: 36_000_000,
			AllowedFormats: baseFormats, MaxOperations: 2, RateLimit: 2,
			Features: []string{"compress", "resize"}, AddonsEnabled: true,
		},
		{
			ID: "api-ultra", Name: "API Ultra", Tier: TierAPI, Cadence: CadenceMonthly,
			MonthlyLimit: 20000, WebLimit: 0,
			MaxFileSize: 25 * mb, MaxPixels: 64_000_000,
			AllowedFormats: fullFormats, MaxOperations: 3, RateLimit: 5,
			Features: []string{"compress", "resize", "crop", "avif", "metadata"}, AddonsEnabled: true,
		},
		{
			ID: "business", Name: "Business", Tier: TierAPI, Cadence: CadenceMonthly,
			MonthlyLimit: 50000, WebLimit: Unlimited,
			MaxFileSize: 50 * mb, MaxPixels: 64_000_000,
			AllowedFormats: fullFormats, MaxOperations: 4, RateLimit: 10,
			Features: []string{"compress", "resize", "crop", "avif", "metadata"}, AddonsEnabled: true,
		},
	}
}

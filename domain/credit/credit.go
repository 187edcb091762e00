// Package credit provides add-on credit value types and pure purchase rules.
package credit

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// DefaultCap is the per-cycle ceiling on the add-on balance.
const DefaultCap int64 = 50000

// Addon is a purchasable credit bundle (value type).
type Addon struct {
	ID         string
	Name       string
	Credits    int64
	PriceCents int64
}

// Purchase is an immutable history record of a granted add-on.
type Purchase struct {
	ID          string
	AccountID   string
	Addon       string
	Credits     int64
	PriceCents  int64
	PaymentRef  string
	PurchasedAt time.Time
	CycleStart  time.Time // cycle anchor at time of purchase
}

// Errors returned by purchase validation.
var (
	ErrUnknownAddon     = errors.New("unknown add-on type")
	ErrAddonUnavailable = errors.New("plan does not support add-on credits")
	ErrDuplicatePayment = errors.New("payment reference already applied")
	ErrMissingPayment   = errors.New("payment reference is required")
)

// CapError is returned when a purchase would push the balance above the cap.
// No credits are granted.
type CapError struct {
	Balance   int64
	Requested int64
	Cap       int64
}

func (e *CapError) Error() string {
	return fmt.Sprintf("add-on balance %d + %d would exceed cap of %d", e.Balance, e.Requested, e.Cap)
}

// Catalog is the read-only set of add-ons plus the balance cap.
type Catalog struct {
	addons map[string]Addon
	cap    int64
}

// NewCatalog builds a catalog. A non-positive cap selects DefaultCap.
func NewCatalog(addons []Addon, ceiling int64) Catalog {
	if ceiling <= 0 {
		ceiling = DefaultCap
	}
	m := make(map[string]Addon, len(addons))
	for _, a := range addons {
		m[a.ID] = a
	}
	return Catalog{addons: m, cap: ceiling}
}

// Get returns an add-on by id.
func (c Catalog) Get(id string) (Addon, bool) {
	a, ok := c.addons[id]
	return a, ok
}

// Cap returns the balance ceiling.
func (c Catalog) Cap() int64 { return c.cap }

// List returns add-ons ordered by credit amount.
func (c Catalog) List() []Addon {
	out := make([]Addon, 0, len(c.addons))
	for _, a := range c.addons {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Credits == out[j].Credits {
			return out[i].ID < out[j].ID
		}
		return out[i].Credits < out[j].Credits
	})
	return out
}

// Defaults returns the published add-on lineup.
func Defaults() []Addon {
	return []Addon{
		{ID: "small-boost", Name: "Small Boost", Credits: 1000, PriceCents: 800},
		{ID: "growth-boost", Name: "Growth Boost", Credits: 5000, PriceCents: 3500},
		{ID: "scale-boost", Name: "Scale Boost", Credits: 10000, PriceCents: 8500},
	}
}

// Validate checks a purchase request against the catalog and the current
// balance. It returns the add-on to grant or an error with no partial effect.
// This is a PURE function.
func (c Catalog) Validate(addonID string, addonsEnabled bool, balance int64) (Addon, error) {
	a, ok := c.addons[addonID]
	if !ok {
		return Addon{}, fmt.Errorf("%w: %q", ErrUnknownAddon, addonID)
	}
	if !addonsEnabled {
		return Addon{}, ErrAddonUnavailable
	}
	if balance+a.Credits > c.cap {
		return Addon{}, &CapError{Balance: balance, Requested: a.Credits, Cap: c.cap}
	}
	return a, nil
}

// FormatPrice renders cents as a dollar amount.
func FormatPrice(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

// Package app provides application services that orchestrate domain logic.
package app

import (
	"sync/atomic"

	"github.com/shrinkix/quotagate/domain/credit"
	"github.com/shrinkix/quotagate/domain/plan"
)

// Catalogs is one consistent snapshot of the plan and add-on catalogs.
type Catalogs struct {
	Plans  *plan.Catalog
	Addons credit.Catalog
}

// CatalogHolder holds the hot-reloadable catalogs. Readers always see a
// complete snapshot; Update swaps it atomically.
type CatalogHolder struct {
	current atomic.Pointer[Catalogs]
}

// NewCatalogHolder creates a holder with an initial snapshot.
func NewCatalogHolder(plans *plan.Catalog, addons credit.Catalog) *CatalogHolder {
	h := &CatalogHolder{}
	h.Update(plans, addons)
	return h
}

// DefaultCatalogHolder returns a holder with the published plans and
// add-ons, falling back to the free plan.
func DefaultCatalogHolder() *CatalogHolder {
	return NewCatalogHolder(
		plan.NewCatalog(plan.Defaults(), "free"),
		credit.NewCatalog(credit.Defaults(), credit.DefaultCap),
	)
}

// Update replaces the catalogs.
// This is thread-safe and can be called while handling requests.
func (h *CatalogHolder) Update(plans *plan.Catalog, addons credit.Catalog) {
	h.current.Store(&Catalogs{Plans: plans, Addons: addons})
}

// Load returns the current snapshot.
func (h *CatalogHolder) Load() *Catalogs {
	return h.current.Load()
}

// Plans returns the current plan catalog.
func (h *CatalogHolder) Plans() *plan.Catalog {
	return h.current.Load().Plans
}

// Addons returns the current add-on catalog.
func (h *CatalogHolder) Addons() credit.Catalog {
	return h.current.Load().Addons
}

// Package module gates licensable capabilities per tenant.
package module

import (
	"context"
	"errors"
	"fmt"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/obs"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/tenant"
)

// Well-known module keys.
const (
	Core       = "Core"
	Employees  = "Employees"
	Leave      = "Leave"
	Attendance = "Attendance"
	Payroll    = "Payroll"
)

// Module is the global capability definition.
type Module struct {
	Key             string
	GloballyEnabled bool
}

// Subscription is a tenant's subscription to a module.
type Subscription struct {
	TenantID    tenant.ID
	ModuleKey   string
	Enabled     bool
	SoftDeleted bool
}

// Usable reports whether the subscription grants access, given the global row.
func (s Subscription) Usable(m Module) bool {
	return m.GloballyEnabled && s.Enabled && !s.SoftDeleted
}

var (
	// ErrNotFound is returned by Catalog implementations for missing rows.
	ErrNotFound = errors.New("module: not found")
	// ErrCatalogUnavailable wraps catalog read failures.
	ErrCatalogUnavailable = errors.New("module: catalog unavailable")
)

// Catalog reads module and subscription rows. It is read-only here; billing
// and admin flows own the writes.
type Catalog interface {
	Module(ctx context.Context, key string) (Module, error)
	Subscription(ctx context.Context, tenantID tenant.ID, key string) (Subscription, error)
}

// Gate answers whether a module is usable for a tenant.
type Gate struct {
	catalog Catalog
}

func NewGate(c Catalog) *Gate {
	return &Gate{catalog: c}
}

// IsModuleActive is the short-circuit AND of the global flag and the tenant
// subscription. Missing rows are inactive; catalog errors are returned wrapped
// with false so callers deny.
func (g *Gate) IsModuleActive(ctx context.Context, tenantID tenant.ID, key string) (bool, error) {
	if tenantID.IsZero() || key == "" {
		obs.ObserveModuleGate("inactive")
		return false, nil
	}

	m, err := g.catalog.Module(ctx, key)
	if err != nil {
		return g.miss(err)
	}
	if !m.GloballyEnabled {
		obs.ObserveModuleGate("inactive")
		return false, nil
	}

	sub, err := g.catalog.Subscription(ctx, tenantID, key)
	if err != nil {
		return g.miss(err)
	}
	if !sub.Usable(m) {
		obs.ObserveModuleGate("inactive")
		return false, nil
	}
	obs.ObserveModuleGate("active")
	return true, nil
}

func (g *Gate) miss(err error) (bool, error) {
	if errors.Is(err, ErrNotFound) {
		obs.ObserveModuleGate("inactive")
		return false, nil
	}
	obs.ObserveModuleGate("error")
	return false, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
}

// Package tenant resolves the tenant a request acts in and carries it through
// the request context. The resolved value lives exactly as long as the request.
package tenant

import (
	"context"
	"errors"
	"strings"
)

// ID identifies a tenant. It is opaque to this package.
type ID string

func (id ID) String() string { return string(id) }

// IsZero reports whether the identifier is empty.
func (id ID) IsZero() bool { return strings.TrimSpace(string(id)) == "" }

// Tenant is the read-only view the directory hands back.
type Tenant struct {
	ID   ID
	Slug string
}

var (
	// ErrTenantNotFound is terminal: the request must not reach the module gate or the policy engine.
	ErrTenantNotFound = errors.New("tenant: not found")
	// ErrDirectoryUnavailable wraps backing-store failures of the directory.
	ErrDirectoryUnavailable = errors.New("tenant: directory unavailable")
	// ErrNotFound is returned by Directory implementations for unknown keys.
	ErrNotFound = errors.New("tenant: no such entry")
)

// Directory looks tenants up. Implementations return ErrNotFound for unknown keys.
type Directory interface {
	BySlug(ctx context.Context, slug string) (Tenant, error)
	ByID(ctx context.Context, id ID) (Tenant, error)
}

type tenantKey struct{}

// WithTenant attaches the resolved tenant to the request context.
func WithTenant(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, tenantKey{}, id)
}

// FromContext returns the tenant resolved for this request.
func FromContext(ctx context.Context) (ID, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(tenantKey{}).(ID)
	if !ok || id.IsZero() {
		return "", false
	}
	return id, true
}

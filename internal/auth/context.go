package auth

import (
	"context"
	"slices"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/tenant"
)

// Principal is the caller proven by a verified access credential.
type Principal struct {
	UserID   string
	TenantID tenant.ID
	Roles    []string
}

// HasRole reports whether the principal carries role. Case is significant.
func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

type principalKey struct{}

func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext reports false for anonymous requests.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != ""
}

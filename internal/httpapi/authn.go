package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/audit"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/auth"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/obs"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/tenant"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// authenticate verifies the bearer access credential. It does not consult
// any store; the credential's tenant claim is checked by resolveTenant.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, codeUnauthenticated, err.Error())
			return
		}
		principal, err := a.auth.Authenticate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, codeUnauthenticated, "invalid token")
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = audit.WithActor(ctx, principal.UserID)
		ctx = obs.With(ctx, obs.UserID(principal.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolveTenant stores the request tenant in the context. An authenticated
// principal's tenant claim wins over the hostname.
func (a *API) resolveTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := tenant.Origin{Host: r.Host}
		if p, ok := auth.PrincipalFromContext(r.Context()); ok {
			origin.Claim = p.TenantID.String()
		}
		tid, _, err := a.resolver.Resolve(r.Context(), origin)
		switch {
		case errors.Is(err, tenant.ErrTenantNotFound):
			writeError(w, r, http.StatusNotFound, codeTenantNotFound, "tenant not found")
			return
		case err != nil:
			obs.From(r.Context()).Error("tenant resolution failed", obs.Err(err))
			writeError(w, r, http.StatusServiceUnavailable, codeUnavailable, "tenant directory unavailable")
			return
		}
		ctx := tenant.WithTenant(r.Context(), tid)
		ctx = obs.With(ctx, obs.TenantID(tid.String()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

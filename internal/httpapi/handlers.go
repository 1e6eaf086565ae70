// Package httpapi is the inbound HTTP adapter: refresh and logout at the
// session boundary, policy decisions and session revocation for callers
// holding an access credential.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/auth"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/authz"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/module"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/obs"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/policy"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/ratelimit"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/session"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/tenant"
)

// Error codes returned in the "code" field.
const (
	codeBadRequest       = "bad_request"
	codeUnauthenticated  = "unauthenticated"
	codeReauthenticate   = "reauthenticate"
	codeRefreshReused    = "refresh_reused"
	codeRotationConflict = "rotation_conflict"
	codeTenantNotFound   = "tenant_not_found"
	codeModuleNotActive  = "module_not_active"
	codeForbidden        = "forbidden"
	codeNotFound         = "not_found"
	codeRateLimited      = "rate_limited"
	codeUnavailable      = "unavailable"
	codeInternal         = "internal_error"
)

// ReadyProbe reports whether backing stores are reachable.
type ReadyProbe interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Auth         *auth.Service
	Sessions     *session.Service
	Resolver     *tenant.Resolver
	Guard        *authz.Guard
	Limiter      ratelimit.Limiter
	Ready        ReadyProbe
	Version      string
	MaxBodyBytes int64
}

// API is the HTTP layer.
type API struct {
	auth     *auth.Service
	sessions *session.Service
	resolver *tenant.Resolver
	guard    *authz.Guard
	limiter  ratelimit.Limiter
	ready    ReadyProbe
	version  string
	maxBody  int64
	router   chi.Router
}

func New(opts Options) (*API, error) {
	if opts.Auth == nil || opts.Sessions == nil || opts.Resolver == nil || opts.Guard == nil {
		return nil, errors.New("httpapi: auth, sessions, resolver and guard are required")
	}
	a := &API{
		auth:     opts.Auth,
		sessions: opts.Sessions,
		resolver: opts.Resolver,
		guard:    opts.Guard,
		limiter:  opts.Limiter,
		ready:    opts.Ready,
		version:  opts.Version,
		maxBody:  opts.MaxBodyBytes,
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}
	a.router = a.routes()
	return a, nil
}

// Handler returns the root http.Handler.
func (a *API) Handler() http.Handler { return a.router }

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID, obs.Instrument, Logging, Recover, SecurityHeaders, MaxBodyBytes(a.maxBody))

	r.Get("/healthz", a.healthz)
	r.Get("/readyz", a.readyz)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(a.resolveTenant)
			r.With(RateLimit(a.limiter)).Post("/auth/refresh", a.handleRefresh)
			r.Post("/auth/logout", a.handleLogout)
		})
		r.Group(func(r chi.Router) {
			r.Use(a.authenticate, a.resolveTenant)
			r.Post("/authz/decisions", a.handleDecision)
			r.Delete("/sessions/{sessionID}", a.handleRevokeSession)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, codeNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
	})
	return r
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": a.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.ready.Ping(ctx); err != nil {
			obs.From(r.Context()).Warn("readiness check failed", obs.Err(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type refreshRequest struct {
	DeviceID      string `json:"deviceId"`
	RefreshSecret string `json:"refreshSecret"`
}

type refreshResponse struct {
	AccessCredential string `json:"accessCredential"`
	RefreshSecret    string `json:"refreshSecret"`
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	tid, _ := tenant.FromContext(r.Context())
	pair, err := a.auth.Refresh(r.Context(), tid, req.DeviceID, req.RefreshSecret)
	if err != nil {
		handleSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{
		AccessCredential: pair.AccessToken,
		RefreshSecret:    pair.RefreshSecret,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	tid, _ := tenant.FromContext(r.Context())
	if err := a.auth.Logout(r.Context(), tid, req.DeviceID, req.RefreshSecret); err != nil {
		handleSessionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type decisionRequest struct {
	Resource     string `json:"resource"`
	Action       string `json:"action"`
	Module       string `json:"module,omitempty"`
	TargetUserID string `json:"targetUserId,omitempty"`
}

type decisionResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// handleDecision answers a policy question for the caller. Denials are
// answers, not failures.
func (a *API) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	d, err := a.guard.Authorize(r.Context(), a.authzRequest(r, authz.Route{
		Resource:     req.Resource,
		Action:       req.Action,
		Module:       req.Module,
		TargetUserID: req.TargetUserID,
	}))
	var denied *authz.DeniedError
	switch {
	case err == nil, errors.As(err, &denied), errors.Is(err, authz.ErrModuleNotActive):
		writeJSON(w, http.StatusOK, decisionResponse{Allowed: err == nil && d.Allowed, Reason: d.Reason})
	default:
		handleAuthzError(w, r, err)
	}
}

func (a *API) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	tid, _ := tenant.FromContext(r.Context())

	sess, err := a.sessions.Get(r.Context(), sessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, r, http.StatusNotFound, codeNotFound, "session not found")
		return
	case err != nil:
		obs.From(r.Context()).Error("load session", obs.SessionID(sessionID), obs.Err(err))
		writeError(w, r, http.StatusServiceUnavailable, codeUnavailable, "session store unavailable")
		return
	}
	// Sessions of other tenants do not exist from here.
	if sess.TenantID != tid {
		writeError(w, r, http.StatusNotFound, codeNotFound, "session not found")
		return
	}

	if _, err := a.guard.Authorize(r.Context(), a.authzRequest(r, authz.Route{
		Resource:     policy.ResourceSession,
		Action:       policy.ActionRevoke,
		Module:       module.Core,
		TargetUserID: sess.UserID,
	})); err != nil {
		handleAuthzError(w, r, err)
		return
	}

	principal, _ := auth.PrincipalFromContext(r.Context())
	n, err := a.sessions.RevokeChain(r.Context(), sess.ID, session.Revocation{
		Reason:      session.ReasonAdmin,
		RequestedBy: principal.UserID,
		Scope:       session.ScopeChain,
	})
	if err != nil {
		obs.From(r.Context()).Error("revoke chain", obs.SessionID(sess.ID), obs.Err(err))
		writeError(w, r, http.StatusServiceUnavailable, codeUnavailable, "session store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": n, "chainId": sess.ChainID})
}

func (a *API) authzRequest(r *http.Request, route authz.Route) authz.Request {
	tid, _ := tenant.FromContext(r.Context())
	principal, _ := auth.PrincipalFromContext(r.Context())
	return authz.Request{TenantID: tid, Principal: principal, Route: route}
}

// --- helpers ---

func handleSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrRefreshReused):
		writeError(w, r, http.StatusUnauthorized, codeRefreshReused, "session revoked, sign in again")
	case errors.Is(err, session.ErrRotationConflict):
		writeError(w, r, http.StatusConflict, codeRotationConflict, "refresh already in progress")
	case errors.Is(err, session.ErrRefreshInvalid), errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, codeReauthenticate, "sign in again")
	default:
		obs.From(r.Context()).Error("refresh failed", obs.Err(err))
		writeError(w, r, http.StatusServiceUnavailable, codeUnavailable, "session store unavailable")
	}
}

func handleAuthzError(w http.ResponseWriter, r *http.Request, err error) {
	var denied *authz.DeniedError
	switch {
	case errors.Is(err, authz.ErrModuleNotActive):
		writeError(w, r, http.StatusPaymentRequired, codeModuleNotActive, "module not enabled for tenant")
	case errors.As(err, &denied):
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":      "insufficient permission",
			"code":       codeForbidden,
			"reason":     denied.Reason,
			"request_id": RequestIDFromContext(r.Context()),
		})
	default:
		writeError(w, r, http.StatusServiceUnavailable, codeUnavailable, "authorization unavailable")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	payload := map[string]any{
		"error": msg,
		"code":  code,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

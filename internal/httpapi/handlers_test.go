package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/auth"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/authz"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/module"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/policy"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/ratelimit"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/session"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/tenant"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/token"
)

const (
	t1      = tenant.ID("T1")
	t2      = tenant.ID("T2")
	manager = "7f1c2b8e-3a4d-4c5e-8f90-112233445566"
	report  = "0a9b8c7d-6e5f-4a3b-9c2d-1e0f2a3b4c5d"
	admin   = "5b6c7d8e-9f01-4a2b-8c3d-4e5f60718293"

	acmeHost = "acme.hr.example.com"
	betaHost = "beta.hr.example.com"
)

type testEnv struct {
	api      *API
	auth     *auth.Service
	sessions *session.Service
}

type stubProbe struct{ err error }

func (p stubProbe) Ping(context.Context) error { return p.err }

func newTestEnv(t *testing.T, limiter ratelimit.Limiter, probe ReadyProbe) testEnv {
	t.Helper()

	tenants := tenant.NewStaticDirectory(
		tenant.Tenant{ID: t1, Slug: "acme"},
		tenant.Tenant{ID: t2, Slug: "beta"},
	)
	resolver, err := tenant.NewResolver(tenants, "hr.example.com")
	require.NoError(t, err)

	catalog := module.NewMemoryCatalog()
	catalog.PutModule(module.Module{Key: module.Core, GloballyEnabled: true})
	catalog.PutModule(module.Module{Key: module.Leave, GloballyEnabled: true})
	catalog.PutSubscription(module.Subscription{TenantID: t1, ModuleKey: module.Core, Enabled: true})
	catalog.PutSubscription(module.Subscription{TenantID: t1, ModuleKey: module.Leave, Enabled: true})

	people := policy.NewMemoryDirectory(
		policy.Person{UserID: manager, TenantID: t1, Roles: []string{policy.RoleManager}},
		policy.Person{UserID: report, TenantID: t1, ManagerID: manager, Roles: []string{policy.RoleEmployee}},
		policy.Person{UserID: admin, TenantID: t2, Roles: []string{policy.RoleAdmin}},
	)
	engine, err := policy.NewEngine(policy.DefaultTable(), people)
	require.NoError(t, err)
	guard, err := authz.NewGuard(module.NewGate(catalog), engine)
	require.NoError(t, err)

	issuer, err := token.NewIssuer(token.Config{
		Algorithm: token.AlgHS256,
		Secret:    "0123456789abcdef0123456789abcdef",
		Issuer:    "hrms",
		Audience:  "hrms-api",
	})
	require.NoError(t, err)
	sessions := session.NewService(session.NewMemoryRepository())
	authSvc, err := auth.NewService(sessions, issuer, people)
	require.NoError(t, err)

	api, err := New(Options{
		Auth:     authSvc,
		Sessions: sessions,
		Resolver: resolver,
		Guard:    guard,
		Limiter:  limiter,
		Ready:    probe,
		Version:  "test",
	})
	require.NoError(t, err)
	return testEnv{api: api, auth: authSvc, sessions: sessions}
}

func (e testEnv) do(t *testing.T, method, host, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, "http://"+host+path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	e.api.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func (e testEnv) login(t *testing.T, tid tenant.ID, user, device string) auth.TokenPair {
	t.Helper()
	pair, err := e.auth.Login(context.Background(), tid, user, device)
	require.NoError(t, err)
	return pair
}

func TestRefreshRotatesAndDetectsReplay(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	pair := env.login(t, t1, report, "D")

	rr := env.do(t, http.MethodPost, acmeHost, "/v1/auth/refresh",
		refreshRequest{DeviceID: "D", RefreshSecret: pair.RefreshSecret}, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeBody(t, rr)
	assert.NotEmpty(t, body["accessCredential"])
	assert.NotEqual(t, pair.RefreshSecret, body["refreshSecret"])
	assert.Len(t, body, 2)
	assert.NotEmpty(t, rr.Header().Get(requestIDHeader))

	rr = env.do(t, http.MethodPost, acmeHost, "/v1/auth/refresh",
		refreshRequest{DeviceID: "D", RefreshSecret: pair.RefreshSecret}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, codeRefreshReused, decodeBody(t, rr)["code"])

	// The theft response took the successor down too.
	rr = env.do(t, http.MethodPost, acmeHost, "/v1/auth/refresh",
		refreshRequest{DeviceID: "D", RefreshSecret: body["refreshSecret"].(string)}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRefreshInOtherTenantHostIsRejected(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	pair := env.login(t, t1, report, "D")

	rr := env.do(t, http.MethodPost, betaHost, "/v1/auth/refresh",
		refreshRequest{DeviceID: "D", RefreshSecret: pair.RefreshSecret}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRefreshRejectsUnknownFields(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rr := env.do(t, http.MethodPost, acmeHost, "/v1/auth/refresh",
		`{"deviceId":"D","refreshSecret":"x","userId":"someone"}`, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, codeBadRequest, decodeBody(t, rr)["code"])
}

func TestUnknownTenantHost(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rr := env.do(t, http.MethodPost, "nope.hr.example.com", "/v1/auth/refresh",
		refreshRequest{DeviceID: "D", RefreshSecret: "x"}, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, codeTenantNotFound, decodeBody(t, rr)["code"])
}

func TestRefreshIsRateLimited(t *testing.T) {
	env := newTestEnv(t, ratelimit.NewLocal(0.001, 2, time.Minute), nil)
	body := refreshRequest{DeviceID: "D", RefreshSecret: "unknown"}

	for i := 0; i < 2; i++ {
		rr := env.do(t, http.MethodPost, acmeHost, "/v1/auth/refresh", body, "")
		require.Equal(t, http.StatusUnauthorized, rr.Code)
	}
	rr := env.do(t, http.MethodPost, acmeHost, "/v1/auth/refresh", body, "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.NotEmpty(t, decodeBody(t, rr)["request_id"])
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis down")
}

func TestLimiterFailureDoesNotBlock(t *testing.T) {
	env := newTestEnv(t, failingLimiter{}, nil)
	pair := env.login(t, t1, report, "D")
	rr := env.do(t, http.MethodPost, acmeHost, "/v1/auth/refresh",
		refreshRequest{DeviceID: "D", RefreshSecret: pair.RefreshSecret}, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	pair := env.login(t, t1, report, "D")

	rr := env.do(t, http.MethodPost, acmeHost, "/v1/auth/logout",
		refreshRequest{DeviceID: "D", RefreshSecret: pair.RefreshSecret}, "")
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(t, http.MethodPost, acmeHost, "/v1/auth/refresh",
		refreshRequest{DeviceID: "D", RefreshSecret: pair.RefreshSecret}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestDecisionForManager(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	pair := env.login(t, t1, manager, "D")

	rr := env.do(t, http.MethodPost, acmeHost, "/v1/authz/decisions", decisionRequest{
		Resource:     policy.ResourceLeaveRequest,
		Action:       policy.ActionApprove,
		Module:       module.Leave,
		TargetUserID: report,
	}, pair.AccessToken)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, map[string]any{"allowed": true, "reason": policy.ReasonSubordinateApproval}, decodeBody(t, rr))

	rr = env.do(t, http.MethodPost, acmeHost, "/v1/authz/decisions", decisionRequest{
		Resource: policy.ResourcePayroll,
		Action:   policy.ActionRun,
		Module:   module.Payroll,
	}, pair.AccessToken)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, decodeBody(t, rr)["allowed"])
}

func TestDecisionRequiresBearer(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rr := env.do(t, http.MethodPost, acmeHost, "/v1/authz/decisions", decisionRequest{}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, codeUnauthenticated, decodeBody(t, rr)["code"])

	rr = env.do(t, http.MethodPost, acmeHost, "/v1/authz/decisions", decisionRequest{}, "forged")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRevokeOwnSession(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	pair := env.login(t, t1, report, "D")

	rr := env.do(t, http.MethodDelete, acmeHost, "/v1/sessions/"+pair.SessionID, nil, pair.AccessToken)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.EqualValues(t, 1, decodeBody(t, rr)["revoked"])

	_, err := env.sessions.ValidateForAccess(context.Background(), pair.RefreshSecret)
	assert.Error(t, err)
}

func TestRevokeOthersSessionIsForbidden(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	victim := env.login(t, t1, report, "D")
	caller := env.login(t, t1, manager, "M")

	rr := env.do(t, http.MethodDelete, acmeHost, "/v1/sessions/"+victim.SessionID, nil, caller.AccessToken)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, codeForbidden, body["code"])
	assert.Equal(t, policy.ReasonNoMatchingPolicy, body["reason"])
}

func TestRevokeAcrossTenantsIsNotFound(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	victim := env.login(t, t1, report, "D")
	caller := env.login(t, t2, admin, "A")

	rr := env.do(t, http.MethodDelete, betaHost, "/v1/sessions/"+victim.SessionID, nil, caller.AccessToken)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRevokeWithCoreInactive(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	caller := env.login(t, t2, admin, "A")

	rr := env.do(t, http.MethodDelete, betaHost, "/v1/sessions/"+caller.SessionID, nil, caller.AccessToken)
	assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	assert.Equal(t, codeModuleNotActive, decodeBody(t, rr)["code"])
}

func TestHealthAndReadiness(t *testing.T) {
	env := newTestEnv(t, nil, stubProbe{err: errors.New("db down")})
	rr := env.do(t, http.MethodGet, acmeHost, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = env.do(t, http.MethodGet, acmeHost, "/readyz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	env = newTestEnv(t, nil, stubProbe{})
	rr = env.do(t, http.MethodGet, acmeHost, "/readyz", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rr := env.do(t, http.MethodGet, acmeHost, "/v1/nothing", nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentLabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Instrument)
	r.Get("/v1/sessions/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/sessions/{sessionID}", "418"))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions/01HZX", nil))
	require.Equal(t, http.StatusTeapot, rr.Code)

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/sessions/{sessionID}", "418"))
	assert.Equal(t, before+1, after)
}

func TestRouteLabelWithoutRouter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/whatever/123", nil)
	assert.Equal(t, "unmatched", RouteLabel(req))
}

func TestObserveDecisionOutcomes(t *testing.T) {
	allow := testutil.ToFloat64(authzDecisions.WithLabelValues("allow", "SelfService"))
	deny := testutil.ToFloat64(authzDecisions.WithLabelValues("deny", "NoMatchingPolicy"))

	ObserveDecision(true, "SelfService")
	ObserveDecision(false, "NoMatchingPolicy")

	assert.Equal(t, allow+1, testutil.ToFloat64(authzDecisions.WithLabelValues("allow", "SelfService")))
	assert.Equal(t, deny+1, testutil.ToFloat64(authzDecisions.WithLabelValues("deny", "NoMatchingPolicy")))
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tayteboss/bfl/internal/commerce"
	"github.com/tayteboss/bfl/internal/domain"
	"github.com/tayteboss/bfl/internal/services"
)

func serve(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var payload map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload), rec.Body.String())
	}
	return rec, payload
}

func TestHealthz(t *testing.T) {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	health := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "1.4.0", CommitSHA: "abc123", StartedAt: started}),
		WithHealthClock(func() time.Time { return started.Add(90 * time.Second) }),
	)
	router := NewRouter(WithHealthHandlers(health))

	rec, payload := serve(t, router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, "1m30s", payload["uptime"])
	assert.Equal(t, "1.4.0", payload["version"])
	assert.Equal(t, "abc123", payload["commitSha"])
}

func TestReadyzReportsFailingChecks(t *testing.T) {
	health := NewHealthHandlers(
		WithReadinessCheck("catalog", func(context.Context) error { return nil }),
		WithReadinessCheck("commerce", func(context.Context) error { return errors.New("dial refused") }),
	)
	router := NewRouter(WithHealthHandlers(health))

	rec, payload := serve(t, router, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", payload["status"])
	assert.Equal(t, []any{"commerce"}, payload["failed"])
	checks := payload["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["catalog"])
	assert.Equal(t, "dial refused", checks["commerce"])
}

func TestReadyzWithoutChecks(t *testing.T) {
	rec, payload := serve(t, NewRouter(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", payload["status"])
}

func TestRouterNotFoundEnvelope(t *testing.T) {
	rec, payload := serve(t, NewRouter(), httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, errorNotFoundCode, payload["error"])
	assert.NotEmpty(t, payload["request_id"])
}

func TestUnregisteredGroupsAreNotImplemented(t *testing.T) {
	rec, payload := serve(t, NewRouter(), httptest.NewRequest(http.MethodPost, "/api/v1/cart/reconcile", nil))
	require.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Equal(t, "not_implemented", payload["error"])
}

func TestMetricsHandlerMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# HELP up\n"))
	})
	rec := httptest.NewRecorder()
	NewRouter(WithMetricsHandler(metrics)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# HELP up")
}

type fakeReconciler struct {
	result services.GuardResult
	err    error
	token  string
}

func (f *fakeReconciler) Reconcile(ctx context.Context) (services.GuardResult, error) {
	f.token = commerce.CartToken(ctx)
	return f.result, f.err
}

func TestCartReconcile(t *testing.T) {
	guard := &fakeReconciler{result: services.GuardResult{
		Action:        services.GuardActionAdded,
		NeedsShipping: true,
		Cart:          domain.Cart{ItemCount: 2},
	}}
	router := NewRouter(WithCartRoutes(NewCartHandlers(guard).Routes()))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/reconcile", nil)
	req.Header.Set(cartTokenHeader, "hdr-token")
	req.AddCookie(&http.Cookie{Name: cartCookieName, Value: "cookie-token"})
	rec, payload := serve(t, router, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "added", payload["action"])
	assert.Equal(t, true, payload["needsShipping"])
	assert.Equal(t, "hdr-token", guard.token)
}

func TestCartReconcileFailures(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		router := NewRouter(WithCartRoutes(NewCartHandlers(nil).Routes()))
		rec, payload := serve(t, router, httptest.NewRequest(http.MethodPost, "/api/v1/cart/reconcile", nil))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "cart_guard_disabled", payload["error"])
	})
	t.Run("backend error", func(t *testing.T) {
		guard := &fakeReconciler{err: &commerce.CartError{Status: http.StatusBadGateway, Message: "Cart is busy"}}
		router := NewRouter(WithCartRoutes(NewCartHandlers(guard).Routes()))
		rec, payload := serve(t, router, httptest.NewRequest(http.MethodPost, "/api/v1/cart/reconcile", nil))
		require.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "cart_unavailable", payload["error"])
		assert.NotEmpty(t, payload["message"])
	})
}

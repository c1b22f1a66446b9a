package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/dbcache/internal/app"
	"github.com/charlesng35/dbcache/internal/cache"
	testutil "github.com/charlesng35/dbcache/internal/database/testutil"
)

func newTestDependencies(t *testing.T) Dependencies {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := cache.NewEntryStore(db)
	require.NoError(t, err)
	return Dependencies{DB: db, Store: store}
}

func TestNewRouterRequiresDependencies(t *testing.T) {
	deps := newTestDependencies(t)

	_, err := NewRouter(nil, deps)
	require.Error(t, err)

	_, err = NewRouter(&app.Config{}, Dependencies{Store: deps.Store})
	require.Error(t, err)

	_, err = NewRouter(&app.Config{}, Dependencies{DB: deps.DB})
	require.Error(t, err)
}

func TestRouterMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := &app.Config{Monitoring: app.MonitoringConfig{
		Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/internal/metrics"},
		Health:     app.HealthConfig{Enabled: true},
	}}
	router, err := NewRouter(cfg, newTestDependencies(t))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), `dbcache_api_latency_seconds_count{method="GET",path="/health",status="200"}`))
}

func TestRouterWithoutMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router, err := NewRouter(&app.Config{}, newTestDependencies(t))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestMaintenanceWindow(t *testing.T) {
	cfg := &app.Config{Maintenance: app.MaintenanceConfig{
		TouchSchedule: "@every 30s",
		SweepSchedule: "@every 5m",
	}}
	require.Equal(t, 15*time.Minute, maintenanceWindow(cfg))

	cfg.Maintenance.SweepSchedule = "not a schedule"
	require.Equal(t, 90*time.Second, maintenanceWindow(cfg))

	require.Zero(t, maintenanceWindow(&app.Config{}))
}

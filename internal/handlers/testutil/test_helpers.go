package testutil

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/dbcache/internal/api"
	"github.com/charlesng35/dbcache/internal/app"
	"github.com/charlesng35/dbcache/internal/app/maintenance"
	"github.com/charlesng35/dbcache/internal/cache"
	sharedtestutil "github.com/charlesng35/dbcache/internal/database/testutil"
	"github.com/charlesng35/dbcache/internal/middleware"
	"github.com/charlesng35/dbcache/pkg/response"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T       *testing.T
	DB      *gorm.DB
	Store   *cache.EntryStore
	Tracker *maintenance.RecencyTracker
	Config  *app.Config
	Router  *gin.Engine
}

// EnvOption customises the configuration used by NewEnv.
type EnvOption func(*app.Config)

// WithRateLimit enables the API rate limiter.
func WithRateLimit(requests int, window time.Duration) EnvOption {
	return func(cfg *app.Config) {
		cfg.RateLimit = app.RateLimitConfig{Enabled: true, Requests: requests, Window: window}
	}
}

// WithoutHealth disables the health probes.
func WithoutHealth() EnvOption {
	return func(cfg *app.Config) {
		cfg.Monitoring.Health.Enabled = false
	}
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	cfg := &app.Config{
		Cache: app.CacheConfig{ConflictTarget: app.ConflictTargetAuto, BatchSize: 100},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true, Timeout: time.Second},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	store, err := cache.NewEntryStore(db, cfg.Cache.StoreOptions(db)...)
	require.NoError(t, err)

	tracker := maintenance.NewRecencyTracker(store, 0)

	router, err := api.NewRouter(cfg, api.Dependencies{
		DB:        db,
		Store:     store,
		Recorder:  tracker,
		RateStore: middleware.NewStoreRateStore(store),
	})
	require.NoError(t, err)

	return &Env{
		T:       t,
		DB:      db,
		Store:   store,
		Tracker: tracker,
		Config:  cfg,
		Router:  router,
	}
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, JSON-encoding body when present.
func (e *Env) Request(method, path string, body any) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

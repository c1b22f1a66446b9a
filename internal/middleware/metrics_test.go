package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/dbcache/pkg/metrics"
)

func TestMetricsMiddlewareObservesRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/api/entries/*key", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := testutil.CollectAndCount(metrics.APILatency)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/entries/a", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/entries/b", nil))

	require.Equal(t, before+1, testutil.CollectAndCount(metrics.APILatency))
}

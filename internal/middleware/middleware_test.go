package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/annel0/world-templates/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) (*gin.Engine, *prometheus.Registry, *bytes.Buffer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	logger := logging.NewConsoleLogger("http", &buf)
	logger.SetLevels(logging.DEBUG, logging.DEBUG)

	reg := prometheus.NewRegistry()
	pm, err := NewPrometheusMiddleware("test", reg)
	require.NoError(t, err)

	r := gin.New()
	r.Use(NewRequestLogger(logger).Handler(), pm.Handler())
	pm.RegisterMetricsEndpoint(r, reg)
	r.GET("/ok/:name", func(c *gin.Context) { c.String(http.StatusOK, c.Param("name")) })
	r.GET("/fail", func(c *gin.Context) { c.String(http.StatusBadRequest, "нет") })
	return r, reg, &buf
}

func TestRequestLoggerSetsTraceID(t *testing.T) {
	r, _, buf := newRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok/alpha", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	traceID := w.Header().Get("X-Trace-Id")
	assert.NotEmpty(t, traceID)
	assert.Contains(t, buf.String(), "/ok/:name")
	assert.Contains(t, buf.String(), traceID)
}

func TestPrometheusMiddlewareCounts(t *testing.T) {
	r, reg, _ := newRouter(t)

	for _, path := range []string{"/ok/a", "/ok/b", "/fail"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	errs, err := testutil.GatherAndCount(reg, "test_http_request_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, errs)

	series, err := testutil.GatherAndCount(reg, "test_http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, series, "две серии: /ok/:name и /fail")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "test_http_requests_inflight"))
}

func TestPrometheusMiddlewareDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusMiddleware("dup", reg)
	require.NoError(t, err)
	_, err = NewPrometheusMiddleware("dup", reg)
	assert.Error(t, err)
}

package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segcli/internal/config"
	"segcli/internal/infrastructure"
)

func testApp(t *testing.T, metricExporter string) *Application {
	t.Helper()
	infrastructure.ResetLoggerForTesting()
	t.Cleanup(infrastructure.ResetLoggerForTesting)

	cfg := config.Default()
	cfg.Paths.ArtifactsDir = t.TempDir()
	cfg.Security.RateLimit.Enabled = false

	otelCfg := infrastructure.DefaultOTelConfig()
	otelCfg.MetricExporter = metricExporter

	a, err := NewWithObservability(cfg, otelCfg)
	require.NoError(t, err)
	return a
}

func TestNewWiresRouter(t *testing.T) {
	a := testApp(t, "none")

	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestUnknownRouteIsProblemJSON(t *testing.T) {
	a := testApp(t, "none")

	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "/errors/not-found")
}

func TestAnalyticsBeforeTrainingIs503(t *testing.T) {
	a := testApp(t, "none")

	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/analytics/overview", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	a := testApp(t, "prometheus")

	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

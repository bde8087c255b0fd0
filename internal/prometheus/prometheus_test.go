package prometheus

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathLabel(t *testing.T) {
	assert.Equal(t, "/api/diskfmt/v1/jobs/-/cancel", pathLabel("/api/diskfmt/v1/jobs/:id/cancel"))
	assert.Equal(t, "/api/diskfmt/v1/devices", pathLabel("/api/diskfmt/v1/devices"))
}

func TestJobMetrics(t *testing.T) {
	StartJobMetrics("exfat")
	assert.Equal(t, 1.0, testutil.ToFloat64(RunningJobs.WithLabelValues("exfat")))

	started := time.Now()
	FinishJobMetrics(started, started.Add(3*time.Second), "succeeded", "exfat")
	assert.Equal(t, 0.0, testutil.ToFloat64(RunningJobs.WithLabelValues("exfat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(FinishedJobs.WithLabelValues("exfat", "succeeded")))
}

func TestObserveBackendCall(t *testing.T) {
	before := testutil.ToFloat64(BackendErrors.WithLabelValues("test", "format"))
	ObserveBackendCall("test", "format", time.Now(), nil)
	ObserveBackendCall("test", "format", time.Now(), errors.New("busy"))
	assert.Equal(t, before+1, testutil.ToFloat64(BackendErrors.WithLabelValues("test", "format")))
}

func TestMetricsMiddleware(t *testing.T) {
	e := echo.New()
	e.Use(MetricsMiddleware)
	e.POST("/jobs", func(c echo.Context) error {
		return c.NoContent(http.StatusCreated)
	})
	e.GET("/jobs/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound)
	})

	total := testutil.ToFloat64(TotalRequests)
	formats := testutil.ToFloat64(FormatRequests)
	notFound := testutil.ToFloat64(FailedRequests.WithLabelValues("404"))

	for _, r := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/jobs", nil),
		httptest.NewRequest(http.MethodGet, "/jobs/42", nil),
	} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, r)
		require.NotZero(t, rec.Code)
	}

	assert.Equal(t, total+2, testutil.ToFloat64(TotalRequests))
	assert.Equal(t, formats+1, testutil.ToFloat64(FormatRequests))
	assert.Equal(t, notFound+1, testutil.ToFloat64(FailedRequests.WithLabelValues("404")))
}

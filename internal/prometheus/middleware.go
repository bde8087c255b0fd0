package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

func MetricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		TotalRequests.Inc()
		if ctx.Request().Method == http.MethodPost && strings.HasSuffix(ctx.Path(), "/jobs") {
			FormatRequests.Inc()
		}
		timer := prometheus.NewTimer(httpDuration.WithLabelValues(pathLabel(ctx.Path())))
		defer timer.ObserveDuration()

		err := next(ctx)

		code := ctx.Response().Status
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}
		if code >= 400 {
			FailedRequests.WithLabelValues(strconv.Itoa(code)).Inc()
		}
		return err
	}
}

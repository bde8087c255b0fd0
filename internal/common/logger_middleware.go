package common

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// LoggerMiddleware gives every request a logger carrying its operation id
// and logs the request once it has been handled. Must run after
// OperationIDMiddleware.
func LoggerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		entry := logrus.WithField("operation_id", OperationID(c.Request().Context()))
		c.SetLogger(NewEchoLogrusLogger(entry))

		start := time.Now()
		err := next(c)

		status := c.Response().Status
		if he, ok := err.(*echo.HTTPError); ok {
			status = he.Code
		}
		entry.WithFields(logrus.Fields{
			"method":  c.Request().Method,
			"path":    c.Request().URL.Path,
			"status":  status,
			"latency": time.Since(start).String(),
		}).Debug("Request handled")

		return err
	}
}

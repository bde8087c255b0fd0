package common

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/segmentio/ksuid"
)

type ctxKey string

const OperationIDKey string = "operationID"
const operationIDKeyCtx ctxKey = ctxKey(OperationIDKey)

// OperationIDHeader carries the operation id of a request. A client may set
// it to correlate its own logs with the daemon's; the daemon always echoes it
// back.
const OperationIDHeader = "X-Operation-Id"

// OperationIDMiddleware adds a time-sortable globally unique identifier to
// an echo.Context if not already set. A well-formed id sent by the client is
// kept, anything else is replaced.
func OperationIDMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Get(OperationIDKey) != nil {
			return next(c)
		}

		oid := c.Request().Header.Get(OperationIDHeader)
		if _, err := ksuid.Parse(oid); err != nil {
			oid = GenerateOperationID()
		}
		c.Set(OperationIDKey, oid)
		c.Response().Header().Set(OperationIDHeader, oid)

		ctx := context.WithValue(c.Request().Context(), operationIDKeyCtx, oid)
		c.SetRequest(c.Request().WithContext(ctx))

		return next(c)
	}
}

func GenerateOperationID() string {
	return ksuid.New().String()
}

// OperationID returns the id stored by OperationIDMiddleware, or "".
func OperationID(ctx context.Context) string {
	oid, _ := ctx.Value(operationIDKeyCtx).(string)
	return oid
}

package client

import (
	"fmt"
	"strconv"

	"github.com/osbuild/diskfmt/internal/api"
	"github.com/osbuild/diskfmt/internal/backend"
	"github.com/osbuild/diskfmt/internal/catalog"
	"github.com/osbuild/diskfmt/internal/disk"
	"github.com/osbuild/diskfmt/internal/jobs"
	"github.com/osbuild/diskfmt/internal/sizespec"
)

// Error is an error response of the daemon.
type Error struct {
	StatusCode int
	Response   api.Error
}

var sentinels = map[api.ServiceErrorCode]error{
	api.ErrorInvalidFilesystem:        disk.ErrUnknownFilesystem,
	api.ErrorInvalidLabel:             disk.ErrInvalidLabel,
	api.ErrorInvalidSize:              sizespec.ErrInvalidSizeFormat,
	api.ErrorInvalidTable:             sizespec.ErrInvalidTableKind,
	api.ErrorTableRequired:            jobs.ErrTableRequired,
	api.ErrorTableNotAllowed:          jobs.ErrTableNotAllowed,
	api.ErrorDeviceNotFound:           catalog.ErrNotFound,
	api.ErrorAmbiguousDevice:          catalog.ErrAmbiguousDeviceReference,
	api.ErrorJobNotFound:              jobs.ErrNotFound,
	api.ErrorCancellationNotSupported: backend.ErrCancellationNotSupported,
	api.ErrorBackendUnavailable:       backend.ErrUnavailable,
}

func (e *Error) Error() string {
	msg := e.Response.Reason
	if e.Response.Details != "" {
		msg = e.Response.Details
	}
	return fmt.Sprintf("%s (%s, HTTP %d)", msg, e.Response.Code, e.StatusCode)
}

// Unwrap maps the service error code back to the error the daemon started
// from, so that callers can use errors.Is as they would in-process.
func (e *Error) Unwrap() error {
	return sentinels[e.ServiceErrorCode()]
}

func (e *Error) ServiceErrorCode() api.ServiceErrorCode {
	id, err := strconv.Atoi(e.Response.Id)
	if err != nil {
		return api.ErrorUnspecified
	}
	return api.ServiceErrorCode(id)
}

// Invalid reports whether the daemon rejected the request itself, as
// opposed to failing to carry it out.
func (e *Error) Invalid() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

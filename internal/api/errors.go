package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/osbuild/diskfmt/internal/backend"
	"github.com/osbuild/diskfmt/internal/catalog"
	"github.com/osbuild/diskfmt/internal/disk"
	"github.com/osbuild/diskfmt/internal/jobs"
	"github.com/osbuild/diskfmt/internal/sizespec"
)

const (
	ErrorCodePrefix = "DISKFMT-"
	ErrorHREF       = BasePath + "/errors"

	ErrorUnsupportedMediaType     ServiceErrorCode = 3
	ErrorBodyDecodingError        ServiceErrorCode = 4
	ErrorInvalidRequest           ServiceErrorCode = 5
	ErrorInvalidFilesystem        ServiceErrorCode = 6
	ErrorInvalidLabel             ServiceErrorCode = 7
	ErrorInvalidSize              ServiceErrorCode = 8
	ErrorInvalidTable             ServiceErrorCode = 9
	ErrorTableRequired            ServiceErrorCode = 10
	ErrorTableNotAllowed          ServiceErrorCode = 11
	ErrorMissingDeviceReference   ServiceErrorCode = 12
	ErrorDeviceNotFound           ServiceErrorCode = 13
	ErrorAmbiguousDevice          ServiceErrorCode = 14
	ErrorInvalidJobId             ServiceErrorCode = 15
	ErrorJobNotFound              ServiceErrorCode = 16
	ErrorCancellationNotSupported ServiceErrorCode = 17
	ErrorResourceNotFound         ServiceErrorCode = 18
	ErrorMethodNotAllowed         ServiceErrorCode = 19
	ErrorNotAcceptable            ServiceErrorCode = 20

	// internal errors
	ErrorEnumeratingDevices ServiceErrorCode = 1000
	ErrorStartingJob        ServiceErrorCode = 1001
	ErrorCancellingJob      ServiceErrorCode = 1002
	ErrorBackendUnavailable ServiceErrorCode = 1003

	// errors returned by the error handler itself
	ErrorUnspecified          ServiceErrorCode = 10000
	ErrorNotHTTPError         ServiceErrorCode = 10001
	ErrorServiceErrorNotFound ServiceErrorCode = 10002
	ErrorMalformedOperationID ServiceErrorCode = 10003
)

type ServiceErrorCode int

type serviceError struct {
	code       ServiceErrorCode
	httpStatus int
	reason     string
}

type serviceErrors []serviceError

// Maps ServiceErrorCode to a status code and reason
func getServiceErrors() serviceErrors {
	return serviceErrors{
		serviceError{ErrorUnsupportedMediaType, http.StatusUnsupportedMediaType, "Only 'application/json' content is supported"},
		serviceError{ErrorBodyDecodingError, http.StatusBadRequest, "Malformed json, unable to decode body"},
		serviceError{ErrorInvalidRequest, http.StatusBadRequest, "Invalid format request"},
		serviceError{ErrorInvalidFilesystem, http.StatusBadRequest, "Unknown filesystem type"},
		serviceError{ErrorInvalidLabel, http.StatusBadRequest, "Label is not valid for the filesystem"},
		serviceError{ErrorInvalidSize, http.StatusBadRequest, "Invalid allocation unit size"},
		serviceError{ErrorInvalidTable, http.StatusBadRequest, "Invalid partition table kind"},
		serviceError{ErrorTableRequired, http.StatusBadRequest, "A partition table kind is required to format a whole disk"},
		serviceError{ErrorTableNotAllowed, http.StatusBadRequest, "A partition table kind can only be given for a whole disk"},
		serviceError{ErrorMissingDeviceReference, http.StatusBadRequest, "Missing device reference"},
		serviceError{ErrorDeviceNotFound, http.StatusNotFound, "Device not found"},
		serviceError{ErrorAmbiguousDevice, http.StatusConflict, "Device reference matches more than one device"},
		serviceError{ErrorInvalidJobId, http.StatusBadRequest, "Job ID is not a valid UUID"},
		serviceError{ErrorJobNotFound, http.StatusNotFound, "Job with given ID not found"},
		serviceError{ErrorCancellationNotSupported, http.StatusConflict, "The backend does not support cancelling this job"},
		serviceError{ErrorResourceNotFound, http.StatusNotFound, "Requested resource doesn't exist"},
		serviceError{ErrorMethodNotAllowed, http.StatusMethodNotAllowed, "Requested method isn't supported for resource"},
		serviceError{ErrorNotAcceptable, http.StatusNotAcceptable, "Only 'application/json' content is supported"},

		serviceError{ErrorEnumeratingDevices, http.StatusInternalServerError, "Unable to enumerate devices"},
		serviceError{ErrorStartingJob, http.StatusInternalServerError, "Unable to start format job"},
		serviceError{ErrorCancellingJob, http.StatusInternalServerError, "Unable to cancel job"},
		serviceError{ErrorBackendUnavailable, http.StatusServiceUnavailable, "Backend is unavailable"},

		serviceError{ErrorUnspecified, http.StatusInternalServerError, "Unspecified internal error "},
		serviceError{ErrorNotHTTPError, http.StatusInternalServerError, "Error is not an instance of HTTPError"},
		serviceError{ErrorServiceErrorNotFound, http.StatusInternalServerError, "Error does not exist"},
		serviceError{ErrorMalformedOperationID, http.StatusInternalServerError, "OperationID is empty or is not a string"},
	}
}

func find(code ServiceErrorCode) *serviceError {
	for _, e := range getServiceErrors() {
		if e.code == code {
			return &e
		}
	}
	return &serviceError{ErrorServiceErrorNotFound, http.StatusInternalServerError, "Error does not exist"}
}

// Make an echo compatible error out of a service error
func HTTPError(code ServiceErrorCode) error {
	return HTTPErrorWithInternal(code, nil)
}

// echo.HTTPError has a message interface{} field, which can be used to include the ServiceErrorCode
func HTTPErrorWithInternal(code ServiceErrorCode, internalErr error) error {
	se := find(code)
	he := echo.NewHTTPError(se.httpStatus, se.code)
	if internalErr != nil {
		he.Internal = internalErr
	}
	return he
}

// errorCode picks the service error for an error returned by the catalog or
// the orchestrator. fallback is used for anything unknown.
func errorCode(err error, fallback ServiceErrorCode) ServiceErrorCode {
	switch {
	case errors.Is(err, disk.ErrUnknownFilesystem):
		return ErrorInvalidFilesystem
	case errors.Is(err, disk.ErrInvalidLabel):
		return ErrorInvalidLabel
	case errors.Is(err, sizespec.ErrInvalidSizeFormat),
		errors.Is(err, sizespec.ErrUnsupportedUnitForFilesystem),
		errors.Is(err, sizespec.ErrSizeOutOfRange):
		return ErrorInvalidSize
	case errors.Is(err, sizespec.ErrInvalidTableKind):
		return ErrorInvalidTable
	case errors.Is(err, jobs.ErrTableRequired):
		return ErrorTableRequired
	case errors.Is(err, jobs.ErrTableNotAllowed):
		return ErrorTableNotAllowed
	case errors.Is(err, catalog.ErrNotFound):
		return ErrorDeviceNotFound
	case errors.Is(err, catalog.ErrAmbiguousDeviceReference):
		return ErrorAmbiguousDevice
	case errors.Is(err, jobs.ErrNotFound):
		return ErrorJobNotFound
	case errors.Is(err, backend.ErrCancellationNotSupported):
		return ErrorCancellationNotSupported
	case errors.Is(err, backend.ErrUnavailable):
		return ErrorBackendUnavailable
	}

	var ve *jobs.ValidationError
	if errors.As(err, &ve) {
		return ErrorInvalidRequest
	}
	return fallback
}

// Convert a ServiceErrorCode into an Error
// serviceError is optional, prevents multiple find() calls
func APIError(code ServiceErrorCode, serviceError *serviceError, c echo.Context) *Error {
	se := serviceError
	if se == nil {
		se = find(code)
	}

	operationID, ok := c.Get("operationID").(string)
	if !ok || operationID == "" {
		se = find(ErrorMalformedOperationID)
	}

	return &Error{
		ObjectReference: ObjectReference{
			Href: fmt.Sprintf("%s/%d", ErrorHREF, se.code),
			Id:   fmt.Sprintf("%d", se.code),
			Kind: "Error",
		},
		Code:        fmt.Sprintf("%s%d", ErrorCodePrefix, se.code),
		OperationId: operationID,
		Reason:      se.reason,
	}
}

func apiErrorFromEchoError(echoError *echo.HTTPError) ServiceErrorCode {
	switch echoError.Code {
	case http.StatusNotFound:
		return ErrorResourceNotFound
	case http.StatusMethodNotAllowed:
		return ErrorMethodNotAllowed
	case http.StatusNotAcceptable:
		return ErrorNotAcceptable
	default:
		return ErrorUnspecified
	}
}

// HTTPErrorHandler renders every error returned by a handler as an Error.
// The wrapped error, if any, is passed on to the client as details.
func (s *Server) HTTPErrorHandler(echoError error, c echo.Context) {
	doResponse := func(code ServiceErrorCode, c echo.Context) {
		if c.Response().Committed {
			c.Logger().Infof("Failed to return error response, response already committed: %d", code)
			return
		}

		var err error
		sec := find(code)
		apiErr := APIError(code, sec, c)

		he, ok := echoError.(*echo.HTTPError)
		if ok && he.Internal != nil {
			apiErr.Details = he.Internal.Error()
		}

		if sec.httpStatus >= http.StatusInternalServerError {
			errMsg := fmt.Sprintf("Internal server error. Code: %s, OperationId: %s", apiErr.Code, apiErr.OperationId)
			if ok {
				errMsg += fmt.Sprintf(", InternalError: %v", he)
			}
			c.Logger().Error(errMsg)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(sec.httpStatus)
		} else {
			err = c.JSON(sec.httpStatus, apiErr)
		}
		if err != nil {
			c.Logger().Errorf("Failed to return error response: %v", err)
		}
	}

	he, ok := echoError.(*echo.HTTPError)
	if !ok {
		c.Logger().Errorf("ErrorNotHTTPError %v", echoError)
		doResponse(ErrorNotHTTPError, c)
		return
	}

	sec, ok := he.Message.(ServiceErrorCode)
	if !ok {
		// No service code was set, so Echo threw this error
		doResponse(apiErrorFromEchoError(he), c)
		return
	}
	doResponse(sec, c)
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/osbuild/diskfmt/internal/common"
	"github.com/osbuild/diskfmt/internal/disk"
	"github.com/osbuild/diskfmt/internal/jobs"
	"github.com/osbuild/diskfmt/internal/sizespec"
)

type apiHandlers struct {
	server *Server
}

type binder struct{}

func (b binder) Bind(i interface{}, ctx echo.Context) error {
	contentType := ctx.Request().Header["Content-Type"]
	if len(contentType) != 1 || contentType[0] != "application/json" {
		return HTTPError(ErrorUnsupportedMediaType)
	}

	err := json.NewDecoder(ctx.Request().Body).Decode(i)
	if err != nil {
		return HTTPErrorWithInternal(ErrorBodyDecodingError, err)
	}
	return nil
}

func (h *apiHandlers) GetStatus(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, StatusResponse{
		Backend: h.server.orchestrator.Backend().Name(),
		Version: common.VersionString(),
	})
}

func (h *apiHandlers) GetError(ctx echo.Context) error {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return HTTPErrorWithInternal(ErrorResourceNotFound, err)
	}

	code := ServiceErrorCode(id)
	se := find(code)
	if se.code == ErrorServiceErrorNotFound && code != ErrorServiceErrorNotFound {
		return HTTPError(ErrorResourceNotFound)
	}
	return ctx.JSON(http.StatusOK, APIError(code, se, ctx))
}

func (h *apiHandlers) GetDevices(ctx echo.Context) error {
	devices, err := h.server.catalog.ListDevices(ctx.Request().Context())
	if err != nil {
		return HTTPErrorWithInternal(errorCode(err, ErrorEnumeratingDevices), err)
	}
	return ctx.JSON(http.StatusOK, DeviceList{Devices: devices})
}

func (h *apiHandlers) GetDevice(ctx echo.Context) error {
	ref := ctx.QueryParam("ref")
	if ref == "" {
		return HTTPError(ErrorMissingDeviceReference)
	}

	device, err := h.server.catalog.Resolve(ctx.Request().Context(), ref)
	if err != nil {
		return HTTPErrorWithInternal(errorCode(err, ErrorEnumeratingDevices), err)
	}
	return ctx.JSON(http.StatusOK, device)
}

// parseRequest turns the strings of a FormatRequest into a jobs.Request.
func (h *apiHandlers) parseRequest(body FormatRequest) (jobs.Request, error) {
	req := jobs.Request{
		Device: body.Device,
		Label:  body.Label,
		Quick:  body.Quick,
	}

	var err error
	req.Filesystem = h.server.defaultFilesystem
	if body.Filesystem != "" {
		req.Filesystem, err = disk.ParseFilesystemType(body.Filesystem)
		if err != nil {
			return jobs.Request{}, err
		}
	}

	size := body.Size
	if size == "" {
		size = sizespec.Auto().String()
	}
	req.Size, err = sizespec.ParseSize(size, req.Filesystem)
	if err != nil {
		return jobs.Request{}, err
	}

	if body.Table != "" {
		req.Table, err = sizespec.ParseTable(body.Table)
		if err != nil {
			return jobs.Request{}, err
		}
	}
	return req, nil
}

func (h *apiHandlers) PostJob(ctx echo.Context) error {
	var body FormatRequest
	if err := ctx.Bind(&body); err != nil {
		return err
	}
	if body.Device == "" {
		return HTTPError(ErrorMissingDeviceReference)
	}

	req, err := h.parseRequest(body)
	if err != nil {
		return HTTPErrorWithInternal(errorCode(err, ErrorInvalidRequest), err)
	}

	id, err := h.server.orchestrator.Start(ctx.Request().Context(), req)
	if err != nil {
		return HTTPErrorWithInternal(errorCode(err, ErrorStartingJob), err)
	}

	href := fmt.Sprintf("%s/jobs/%s", BasePath, id)
	ctx.Response().Header().Set(echo.HeaderLocation, href)
	return ctx.JSON(http.StatusCreated, ObjectReference{
		Href: href,
		Id:   id.String(),
		Kind: "Job",
	})
}

func (h *apiHandlers) GetJobs(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, JobList{Jobs: h.server.orchestrator.List()})
}

func parseJobID(ctx echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return uuid.Nil, HTTPErrorWithInternal(ErrorInvalidJobId, err)
	}
	return id, nil
}

func (h *apiHandlers) GetJob(ctx echo.Context) error {
	id, err := parseJobID(ctx)
	if err != nil {
		return err
	}

	status, err := h.server.orchestrator.Status(id)
	if err != nil {
		return HTTPErrorWithInternal(ErrorJobNotFound, err)
	}
	return ctx.JSON(http.StatusOK, status)
}

// PostJobCancel answers with the job's status after the request was
// handled. A refused cancellation leaves the job running and is reported
// as a conflict.
func (h *apiHandlers) PostJobCancel(ctx echo.Context) error {
	id, err := parseJobID(ctx)
	if err != nil {
		return err
	}

	err = h.server.orchestrator.Cancel(ctx.Request().Context(), id)
	if err != nil {
		return HTTPErrorWithInternal(errorCode(err, ErrorCancellingJob), err)
	}

	status, err := h.server.orchestrator.Status(id)
	if err != nil {
		return HTTPErrorWithInternal(ErrorJobNotFound, err)
	}
	return ctx.JSON(http.StatusOK, status)
}

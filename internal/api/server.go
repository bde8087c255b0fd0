// Package api implements the HTTP interface of diskfmtd. It exposes the
// device catalog and the job orchestrator as JSON resources below BasePath.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/diskfmt/internal/catalog"
	"github.com/osbuild/diskfmt/internal/common"
	"github.com/osbuild/diskfmt/internal/disk"
	"github.com/osbuild/diskfmt/internal/jobs"
	"github.com/osbuild/diskfmt/internal/prometheus"
)

type Server struct {
	catalog      *catalog.Catalog
	orchestrator *jobs.Orchestrator

	// used for requests that do not name a filesystem
	defaultFilesystem disk.FilesystemType
}

func NewServer(c *catalog.Catalog, o *jobs.Orchestrator, defaultFilesystem disk.FilesystemType) *Server {
	if defaultFilesystem == "" {
		defaultFilesystem = disk.DefaultFilesystem(disk.SupportedFilesystems(nil))
	}
	return &Server{
		catalog:           c,
		orchestrator:      o,
		defaultFilesystem: defaultFilesystem,
	}
}

func (s *Server) Handler(path string) http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Binder = binder{}
	e.HTTPErrorHandler = s.HTTPErrorHandler
	e.Pre(common.OperationIDMiddleware)
	// middleware given to the group would add catch-all routes to it, which
	// answer 404 where 405 is due
	e.Use(middleware.Recover(), common.LoggerMiddleware, prometheus.MetricsMiddleware)
	e.Logger = common.NewEchoLogrusLogger(logrus.NewEntry(logrus.StandardLogger()))

	handler := apiHandlers{
		server: s,
	}

	g := e.Group(path)
	g.GET("/status", handler.GetStatus)
	g.GET("/errors/:id", handler.GetError)
	g.GET("/devices", handler.GetDevices)
	g.GET("/device", handler.GetDevice)
	g.GET("/jobs", handler.GetJobs)
	g.POST("/jobs", handler.PostJob)
	g.GET("/jobs/:id", handler.GetJob)
	g.POST("/jobs/:id/cancel", handler.PostJobCancel)

	return e
}

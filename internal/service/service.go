// Package service assembles a backend, the device catalog and the job
// orchestrator from a configuration and serves them over the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/diskfmt/internal/api"
	"github.com/osbuild/diskfmt/internal/backend"
	"github.com/osbuild/diskfmt/internal/backend/mockbackend"
	"github.com/osbuild/diskfmt/internal/backend/udisks"
	"github.com/osbuild/diskfmt/internal/catalog"
	"github.com/osbuild/diskfmt/internal/config"
	"github.com/osbuild/diskfmt/internal/disk"
	"github.com/osbuild/diskfmt/internal/jobs"
)

const shutdownTimeout = 10 * time.Second

type Service struct {
	Backend      backend.Backend
	Catalog      *catalog.Catalog
	Orchestrator *jobs.Orchestrator

	close func() error
}

var newUDisks = func(ctx context.Context) (backend.Backend, func() error, error) {
	b, err := udisks.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	return b, b.Close, nil
}

func newMock(cfg config.MockConfig) backend.Backend {
	return mockbackend.New(mockbackend.Config{
		Steps:        cfg.Steps,
		StepInterval: cfg.StepInterval.Duration,
		RejectCancel: cfg.RejectCancel,
	})
}

// OpenBackend returns the configured backend, or the mock when forceMock
// is set. If UDisks2 is unreachable and falling back is allowed, the mock
// is returned as well.
func OpenBackend(ctx context.Context, cfg config.BackendConfig, forceMock bool) (backend.Backend, func() error, error) {
	noop := func() error { return nil }

	if forceMock || cfg.Type == config.BackendMock {
		return newMock(cfg.Mock), noop, nil
	}

	b, closer, err := newUDisks(ctx)
	if err == nil {
		return b, closer, nil
	}
	if !cfg.FallbackToMock || !errors.Is(err, backend.ErrUnavailable) {
		return nil, nil, err
	}

	logrus.Warnf("Using mock backend. UDisks2 unavailable: %v", err)
	return newMock(cfg.Mock), noop, nil
}

func New(ctx context.Context, cfg *config.Config, forceMock bool) (*Service, error) {
	b, closer, err := OpenBackend(ctx, cfg.Backend, forceMock)
	if err != nil {
		return nil, err
	}

	c, err := catalog.New(b, cfg.Devices.Exclude)
	if err != nil {
		_ = closer()
		return nil, err
	}

	return &Service{
		Backend:      b,
		Catalog:      c,
		Orchestrator: jobs.New(c, b),
		close:        closer,
	}, nil
}

func (s *Service) Handler() http.Handler {
	fs := disk.DefaultFilesystem(disk.SupportedFilesystems(nil))
	return api.NewServer(s.Catalog, s.Orchestrator, fs).Handler(api.BasePath)
}

// Serve serves the API on l until ctx is done, then shuts the server down
// gracefully. Running jobs are not waited for.
func (s *Service) Serve(ctx context.Context, l net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- server.Serve(l)
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("serving API on %s: %w", l.Addr(), err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// Close releases the backend. Jobs that are still running lose their
// backend connection.
func (s *Service) Close() error {
	for _, status := range s.Orchestrator.List() {
		if !status.State.Terminal() {
			logrus.WithField("job_id", status.ID).Warnf("Job still %s on shutdown", status.State)
		}
	}
	return s.close()
}

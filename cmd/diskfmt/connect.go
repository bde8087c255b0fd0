package main

import (
	"context"
	"net"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/diskfmt/internal/client"
	"github.com/osbuild/diskfmt/internal/service"
)

// session is a client connected either to diskfmtd or to a service running
// inside this process.
type session struct {
	*client.Client
	local bool
	close func()
}

// connect returns a session for the command. In local mode the API is
// served on a private socket for the lifetime of the session, so that both
// modes go through the same client.
func (a *app) connect(ctx context.Context) (*session, error) {
	if !a.local {
		return &session{
			Client: client.NewClientUnix(a.socket),
			close:  func() {},
		}, nil
	}

	// detached from ctx: the service has to outlive an interrupt to carry
	// out the cancellation it causes
	s, err := service.New(context.WithoutCancel(ctx), a.config, a.mockBackend)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "diskfmt-")
	if err != nil {
		s.Close()
		return nil, err
	}
	socket := filepath.Join(dir, "api.socket")
	l, err := net.Listen("unix", socket)
	if err != nil {
		s.Close()
		os.RemoveAll(dir)
		return nil, err
	}

	serveCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.Serve(serveCtx, l); err != nil {
			logrus.Errorf("Local API server failed: %v", err)
		}
	}()

	return &session{
		Client: client.NewClientUnix(socket),
		local:  true,
		close: func() {
			cancel()
			<-done
			if err := s.Close(); err != nil {
				logrus.Errorf("Error closing backend: %v", err)
			}
			os.RemoveAll(dir)
		},
	}, nil
}

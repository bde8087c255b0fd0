package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/osbuild/diskfmt/internal/common"
	"github.com/osbuild/diskfmt/internal/config"
	"github.com/osbuild/diskfmt/internal/prometheus"
	"github.com/osbuild/diskfmt/internal/service"
)

const (
	socketName = "diskfmtd.socket"
	socketMode = 0660
)

var (
	configPath  string
	mockBackend bool
)

var rootCmd = &cobra.Command{
	Use:          "diskfmtd",
	Short:        "Format removable devices on behalf of unprivileged clients",
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func main() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DaemonConfigPath, "configuration file")
	rootCmd.Flags().BoolVar(&mockBackend, "mock-backend", false, "use the mock backend, no device is modified")
	rootCmd.Version = common.VersionString()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logrus.Fatalf("diskfmtd: %v", err)
	}
}

// apiListener returns the socket passed by systemd, or listens on path.
func apiListener(path string) (net.Listener, error) {
	listeners, err := activation.ListenersWithNames()
	if err != nil {
		return nil, fmt.Errorf("could not get listening sockets: %w", err)
	}
	if ls, exists := listeners[socketName]; exists {
		if len(ls) != 1 {
			return nil, fmt.Errorf("unexpected number of listening sockets in %s (%d), expected 1", socketName, len(ls))
		}
		logrus.Infof("Using socket %s passed by systemd", socketName)
		return ls[0], nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	// a stale socket of an earlier instance
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, socketMode); err != nil {
		l.Close()
		return nil, err
	}
	logrus.Infof("Listening on %s", path)
	return l, nil
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("Error shutting down metrics server: %v", err)
		}
	}()

	logrus.Infof("Serving metrics on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	err = common.SetupLogging(common.LogOptions{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Journal:    cfg.Logging.Journal,
		Identifier: "diskfmtd",
	})
	if err != nil {
		return err
	}

	s, err := service.New(ctx, cfg, mockBackend)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logrus.Errorf("Error closing backend: %v", err)
		}
	}()
	prometheus.SetBuildInfo(common.Version, s.Backend.Name())
	logrus.Infof("diskfmtd %s starting with the %s backend", common.VersionString(), s.Backend.Name())

	l, err := apiListener(cfg.Daemon.Socket)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Serve(ctx, l)
	})
	if cfg.Daemon.MetricsListen != "" {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.Daemon.MetricsListen)
		})
	}

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logrus.Warnf("Could not notify systemd: %v", err)
	} else if sent {
		logrus.Debug("Notified systemd of readiness")
	}

	err = g.Wait()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	logrus.Info("diskfmtd stopped")
	return err
}

package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/diskfmt/internal/backend"
	"github.com/osbuild/diskfmt/internal/backend/mockbackend"
	"github.com/osbuild/diskfmt/internal/client"
	"github.com/osbuild/diskfmt/internal/config"
)

func stubUDisks(t *testing.T, err error) *int {
	t.Helper()
	calls := 0
	orig := newUDisks
	newUDisks = func(context.Context) (backend.Backend, func() error, error) {
		calls++
		if err != nil {
			return nil, nil, err
		}
		return mockbackend.New(mockbackend.Config{}), func() error { return nil }, nil
	}
	t.Cleanup(func() { newUDisks = orig })
	return &calls
}

func TestOpenBackend(t *testing.T) {
	unavailable := fmt.Errorf("%w: no system bus", backend.ErrUnavailable)
	broken := errors.New("access denied")

	cases := []struct {
		name      string
		cfg       config.BackendConfig
		forceMock bool
		udisksErr error
		calls     int
		err       error
	}{
		{"forced mock", config.BackendConfig{Type: config.BackendUDisks}, true, nil, 0, nil},
		{"configured mock", config.BackendConfig{Type: config.BackendMock}, false, nil, 0, nil},
		{"udisks", config.BackendConfig{Type: config.BackendUDisks}, false, nil, 1, nil},
		{"unavailable", config.BackendConfig{Type: config.BackendUDisks}, false, unavailable, 1, backend.ErrUnavailable},
		{"fallback", config.BackendConfig{Type: config.BackendUDisks, FallbackToMock: true}, false, unavailable, 1, nil},
		{"no fallback on other errors", config.BackendConfig{Type: config.BackendUDisks, FallbackToMock: true}, false, broken, 1, broken},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			calls := stubUDisks(t, c.udisksErr)
			b, closer, err := OpenBackend(context.Background(), c.cfg, c.forceMock)
			assert.Equal(t, c.calls, *calls)
			if c.err != nil {
				assert.ErrorIs(t, err, c.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "mock", b.Name())
			assert.NoError(t, closer())
		})
	}
}

func TestServe(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Backend.Type = config.BackendMock
	cfg.Backend.Mock.StepInterval = config.Duration{Duration: time.Millisecond}
	cfg.Devices.Exclude = []string{"/dev/mock1"}

	s, err := New(context.Background(), cfg, false)
	require.NoError(t, err)
	defer s.Close()

	socket := filepath.Join(t.TempDir(), "api.socket")
	l, err := net.Listen("unix", socket)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- s.Serve(ctx, l)
	}()

	c := client.NewClientUnix(socket)
	devices, err := c.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "/dev/mock0", devices[0].Path)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after its context was cancelled")
	}
}

func TestNewInvalidExclude(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Devices.Exclude = []string{"/dev/[sd"}
	_, err := New(context.Background(), cfg, true)
	assert.Error(t, err)
}

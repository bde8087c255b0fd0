package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/diskfmt/internal/api"
	"github.com/osbuild/diskfmt/internal/backend"
	"github.com/osbuild/diskfmt/internal/backend/mockbackend"
	"github.com/osbuild/diskfmt/internal/catalog"
	"github.com/osbuild/diskfmt/internal/disk"
	"github.com/osbuild/diskfmt/internal/jobs"
	"github.com/osbuild/diskfmt/internal/sizespec"
	"github.com/osbuild/diskfmt/internal/test"
)

func serve(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "api.socket")
	listener, err := net.Listen("unix", socket)
	require.NoError(t, err)

	server := &http.Server{Handler: handler}
	go func() {
		_ = server.Serve(listener)
	}()
	t.Cleanup(func() {
		_ = server.Close()
	})

	return NewClientUnix(socket)
}

func newDaemon(t *testing.T, cfg mockbackend.Config) (*Client, *jobs.Orchestrator) {
	t.Helper()
	b := mockbackend.New(cfg)
	c, err := catalog.New(b, nil)
	require.NoError(t, err)
	o := jobs.New(c, b)
	return serve(t, api.NewServer(c, o, disk.FilesystemExFAT).Handler(api.BasePath)), o
}

func TestStatus(t *testing.T) {
	c, _ := newDaemon(t, mockbackend.Config{})
	status, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mock", status.Backend)
	assert.NotEmpty(t, status.Version)
}

func TestDevices(t *testing.T) {
	c, _ := newDaemon(t, mockbackend.Config{})
	ctx := context.Background()

	devices, err := c.ListDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, mockbackend.DefaultDevices()[:2], devices)

	d, err := c.Resolve(ctx, mockbackend.ObjectPathPrefix+"mock1")
	require.NoError(t, err)
	assert.Equal(t, "/dev/mock1", d.Path)

	_, err = c.Resolve(ctx, "/dev/mock3")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, api.ErrorDeviceNotFound, apiErr.ServiceErrorCode())
	assert.True(t, apiErr.Invalid())
}

func TestFormat(t *testing.T) {
	c, o := newDaemon(t, mockbackend.Config{Steps: 3})
	ctx := context.Background()

	id, err := c.Format(ctx, api.FormatRequest{
		Device: "/dev/mock1",
		Label:  "DATA",
		Size:   "65536 bytes",
		Table:  "dos",
	})
	require.NoError(t, err)

	var seen []jobs.State
	status, err := c.Wait(ctx, id, 5*time.Millisecond, func(s jobs.Status) {
		if len(seen) == 0 || seen[len(seen)-1] != s.State {
			seen = append(seen, s.State)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, jobs.StateSucceeded, status.State)
	assert.Equal(t, jobs.StateSucceeded, seen[len(seen)-1])
	assert.Equal(t, disk.FilesystemExFAT, status.Request.Filesystem)
	assert.Equal(t, sizespec.Bytes(65536), status.Request.Size)

	want, err := o.Status(id)
	require.NoError(t, err)
	if diff := cmp.Diff(want, status, test.IgnoreDates()); diff != "" {
		t.Errorf("status differs from the daemon's (-want +got):\n%s", diff)
	}

	list, err := c.Jobs(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	devices, err := c.ListDevices(ctx)
	require.NoError(t, err)
	var formatted []string
	for _, d := range devices {
		if d.FSLabel == "DATA" {
			formatted = append(formatted, d.Path)
		}
	}
	assert.Equal(t, []string{"/dev/mock1p1"}, formatted)
}

func TestFormatInvalid(t *testing.T) {
	c, o := newDaemon(t, mockbackend.Config{})
	ctx := context.Background()

	cases := []struct {
		req      api.FormatRequest
		sentinel error
	}{
		{api.FormatRequest{Device: "/dev/mock0", Filesystem: "hfs"}, disk.ErrUnknownFilesystem},
		{api.FormatRequest{Device: "/dev/mock0", Filesystem: "ext4", Size: "2 sectors"}, sizespec.ErrInvalidSizeFormat},
		{api.FormatRequest{Device: "/dev/mock1"}, jobs.ErrTableRequired},
		{api.FormatRequest{Device: "/dev/mock0", Table: "GPT"}, jobs.ErrTableNotAllowed},
		{api.FormatRequest{Device: "/dev/sdz"}, catalog.ErrNotFound},
	}
	for _, tc := range cases {
		_, err := c.Format(ctx, tc.req)
		assert.ErrorIsf(t, err, tc.sentinel, "%+v", tc.req)

		var apiErr *Error
		if assert.ErrorAs(t, err, &apiErr) {
			assert.True(t, apiErr.Invalid())
		}
	}
	assert.Empty(t, o.List())
}

func TestCancel(t *testing.T) {
	never := func(time.Duration) <-chan time.Time { return nil }
	c, o := newDaemon(t, mockbackend.Config{Steps: 5, After: never})
	ctx := context.Background()

	id, err := c.Format(ctx, api.FormatRequest{Device: "/dev/mock0"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, err := c.Job(ctx, id)
		return err == nil && s.BackendJob != ""
	}, 5*time.Second, 10*time.Millisecond)

	status, err := c.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, status.CancelRequested)

	status, err = o.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateCancelled, status.State)
}

func TestCancelRejected(t *testing.T) {
	never := func(time.Duration) <-chan time.Time { return nil }
	c, _ := newDaemon(t, mockbackend.Config{Steps: 5, After: never, RejectCancel: true})
	ctx := context.Background()

	id, err := c.Format(ctx, api.FormatRequest{Device: "/dev/mock0"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s, err := c.Job(ctx, id)
		return err == nil && s.BackendJob != ""
	}, 5*time.Second, 10*time.Millisecond)

	_, err = c.Cancel(ctx, id)
	assert.ErrorIs(t, err, backend.ErrCancellationNotSupported)

	status, err := c.Job(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateFormatting, status.State)
	assert.True(t, status.CancelRejected)
}

func TestJobNotFound(t *testing.T) {
	c, _ := newDaemon(t, mockbackend.Config{})
	_, err := c.Job(context.Background(), uuid.New())
	assert.ErrorIs(t, err, jobs.ErrNotFound)
	_, err = c.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestNotJSONError(t *testing.T) {
	c := serve(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "short and stout", http.StatusTeapot)
	}))

	_, err := c.Status(context.Background())
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTeapot, apiErr.StatusCode)
	assert.Equal(t, "short and stout", apiErr.Response.Details)
	assert.Nil(t, errors.Unwrap(apiErr))
}

func TestUnreachable(t *testing.T) {
	c := NewClientUnix(filepath.Join(t.TempDir(), "missing.socket"))
	c.retry.RetryMax = 1
	c.retry.RetryWaitMin = time.Millisecond
	c.retry.RetryWaitMax = time.Millisecond

	_, err := c.Status(context.Background())
	assert.Error(t, err)
	_, err = c.Format(context.Background(), api.FormatRequest{Device: "/dev/mock0"})
	assert.Error(t, err)
}

// Package backendtest provides test functions to verify a Backend
// implementation satisfies the interface in package backend.
//
// The backend under test must report at least one removable whole disk and
// one removable partition, and it must be safe to format both.
package backendtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/diskfmt/internal/backend"
	"github.com/osbuild/diskfmt/internal/disk"
	"github.com/osbuild/diskfmt/internal/sizespec"
)

type MakeBackend func() (b backend.Backend, stop func(), err error)

// Upper bound for a single format in tests.
const formatTimeout = 10 * time.Second

func TestBackend(t *testing.T, makeBackend MakeBackend) {
	wrap := func(f func(t *testing.T, b backend.Backend)) func(*testing.T) {
		b, stop, err := makeBackend()
		require.NoError(t, err)
		return func(t *testing.T) {
			defer stop() // use defer because f() might call testing.T.FailNow()
			f(t, b)
		}
	}

	t.Run("enumerate", wrap(testEnumerate))
	t.Run("format-partition", wrap(testFormatPartition))
	t.Run("whole-disk", wrap(testWholeDisk))
	t.Run("unknown-target", wrap(testUnknownTarget))
	t.Run("cancel", wrap(testCancel))
	t.Run("cancel-finished", wrap(testCancelFinished))
}

func findDevice(t *testing.T, b backend.Backend, partition bool) disk.Device {
	t.Helper()
	devices, err := b.Enumerate(context.Background())
	require.NoError(t, err)
	for _, d := range devices {
		if d.Removable && !d.Optical && d.Partition == partition {
			return d
		}
	}
	require.FailNowf(t, "no suitable device", "partition=%v", partition)
	return disk.Device{}
}

// drain reads a handle's events until the channel is closed and returns the
// error of the single Completed event.
func drain(t *testing.T, h backend.JobHandle) (progress []float64, result error) {
	t.Helper()
	timeout := time.After(formatTimeout)
	completed := 0
	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				require.Equal(t, 1, completed, "handle must complete exactly once")
				return progress, result
			}
			switch ev.Kind {
			case backend.EventProgress:
				require.Zero(t, completed, "progress after completion")
				progress = append(progress, ev.Percent)
			case backend.EventCompleted:
				completed++
				result = ev.Err
			}
		case <-timeout:
			require.FailNow(t, "format did not complete")
		}
	}
}

func testEnumerate(t *testing.T, b backend.Backend) {
	devices, err := b.Enumerate(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, devices)

	seen := make(map[string]bool)
	for _, d := range devices {
		require.NotEmpty(t, d.ObjectPath)
		require.False(t, seen[d.ObjectPath], "duplicate object path %s", d.ObjectPath)
		seen[d.ObjectPath] = true
	}

	// each call is a fresh snapshot
	devices[0].FSLabel = "CHANGED"
	again, err := b.Enumerate(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, "CHANGED", again[0].FSLabel)
}

func testFormatPartition(t *testing.T, b backend.Backend) {
	part := findDevice(t, b, true)

	h, err := b.Format(context.Background(), part.ObjectPath, backend.FormatOptions{
		Filesystem: disk.FilesystemVFAT,
		Label:      "TEST",
		Quick:      true,
		Size:       sizespec.Sectors(8),
	})
	require.NoError(t, err)
	require.NotEmpty(t, h.ID())

	progress, result := drain(t, h)
	require.NoError(t, result)

	last := -1.0
	for _, p := range progress {
		assert.LessOrEqual(t, p, 100.0)
		if p >= 0 {
			assert.GreaterOrEqual(t, p, last)
			last = p
		}
	}
}

func testWholeDisk(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	whole := findDevice(t, b, false)

	err := b.CreatePartitionTable(ctx, whole, disk.PartitionTableGPT)
	require.NoError(t, err)

	ref, err := b.CreatePartition(ctx, whole, sizespec.Bytes(4096), disk.FilesystemExt4)
	require.NoError(t, err)
	require.NotEmpty(t, ref.ObjectPath)
	require.NotEqual(t, whole.ObjectPath, ref.ObjectPath)

	h, err := b.Format(ctx, ref.ObjectPath, backend.FormatOptions{
		Filesystem: disk.FilesystemExt4,
		Size:       sizespec.Bytes(4096),
	})
	require.NoError(t, err)
	_, result := drain(t, h)
	require.NoError(t, result)

	devices, err := b.Enumerate(ctx)
	require.NoError(t, err)
	var found bool
	for _, d := range devices {
		if d.ObjectPath == ref.ObjectPath {
			found = true
			require.True(t, d.Partition)
			require.Equal(t, "ext4", d.FSType)
		}
	}
	require.True(t, found, "new partition %s not enumerated", ref.ObjectPath)
}

func testUnknownTarget(t *testing.T, b backend.Backend) {
	h, err := b.Format(context.Background(), "/does/not/exist", backend.FormatOptions{Filesystem: disk.FilesystemVFAT})
	if err == nil {
		_, err = drain(t, h)
	}
	require.Error(t, err)
}

func testCancel(t *testing.T, b backend.Backend) {
	part := findDevice(t, b, true)

	h, err := b.Format(context.Background(), part.ObjectPath, backend.FormatOptions{Filesystem: disk.FilesystemExFAT})
	require.NoError(t, err)

	err = b.Cancel(context.Background(), h)
	_, result := drain(t, h)

	switch {
	case err == nil:
		// an accepted cancellation never ends in success
		require.ErrorIs(t, result, backend.ErrCanceled)
	case errors.Is(err, backend.ErrCancellationNotSupported), errors.Is(err, backend.ErrJobNotFound):
		require.NotErrorIs(t, result, backend.ErrCanceled)
	default:
		require.FailNowf(t, "unexpected cancel error", "%v", err)
	}
}

func testCancelFinished(t *testing.T, b backend.Backend) {
	part := findDevice(t, b, true)

	h, err := b.Format(context.Background(), part.ObjectPath, backend.FormatOptions{Filesystem: disk.FilesystemVFAT})
	require.NoError(t, err)
	_, result := drain(t, h)
	require.NoError(t, result)

	err = b.Cancel(context.Background(), h)
	require.Error(t, err)
}

package mockbackend_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/diskfmt/internal/backend"
	"github.com/osbuild/diskfmt/internal/backend/backendtest"
	"github.com/osbuild/diskfmt/internal/backend/mockbackend"
	"github.com/osbuild/diskfmt/internal/disk"
	"github.com/osbuild/diskfmt/internal/sizespec"
)

func TestMockBackend(t *testing.T) {
	backendtest.TestBackend(t, func() (backend.Backend, func(), error) {
		return mockbackend.New(mockbackend.Config{}), func() {}, nil
	})
}

func TestMockBackendRejectingCancel(t *testing.T) {
	backendtest.TestBackend(t, func() (backend.Backend, func(), error) {
		return mockbackend.New(mockbackend.Config{RejectCancel: true}), func() {}, nil
	})
}

// stepper hands out a channel per step; the test releases steps one by one.
type stepper struct {
	ticks chan time.Time
}

func newStepper() *stepper {
	return &stepper{ticks: make(chan time.Time)}
}

func (s *stepper) after(time.Duration) <-chan time.Time {
	return s.ticks
}

func (s *stepper) step(t *testing.T) {
	t.Helper()
	select {
	case s.ticks <- time.Now():
	case <-time.After(5 * time.Second):
		require.FailNow(t, "format is not waiting for a step")
	}
}

func next(t *testing.T, h backend.JobHandle) backend.Event {
	t.Helper()
	select {
	case ev, ok := <-h.Events():
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no event")
	}
	return backend.Event{}
}

func mock0(t *testing.T, b *mockbackend.Backend) disk.Device {
	devices, err := b.Enumerate(context.Background())
	require.NoError(t, err)
	return devices[0]
}

func TestProgressSteps(t *testing.T) {
	s := newStepper()
	b := mockbackend.New(mockbackend.Config{After: s.after})

	h, err := b.Format(context.Background(), mock0(t, b).ObjectPath, backend.FormatOptions{
		Filesystem: disk.FilesystemExt4,
		Label:      "DATA",
	})
	require.NoError(t, err)

	require.Equal(t, backend.EventMessage, next(t, h).Kind)
	for _, want := range []float64{25, 50, 75, 100} {
		s.step(t)
		ev := next(t, h)
		require.Equal(t, backend.EventProgress, ev.Kind)
		require.Equal(t, want, ev.Percent)
	}

	ev := next(t, h)
	require.Equal(t, backend.EventCompleted, ev.Kind)
	require.NoError(t, ev.Err)
	_, ok := <-h.Events()
	require.False(t, ok)

	// the format is visible on the next enumeration
	d := mock0(t, b)
	assert.Equal(t, "ext4", d.FSType)
	assert.Equal(t, "DATA", d.FSLabel)
}

func TestCancelIsImmediate(t *testing.T) {
	s := newStepper()
	b := mockbackend.New(mockbackend.Config{After: s.after, Steps: 10})

	h, err := b.Format(context.Background(), mock0(t, b).ObjectPath, backend.FormatOptions{Filesystem: disk.FilesystemVFAT})
	require.NoError(t, err)
	next(t, h)
	s.step(t)
	require.Equal(t, 10.0, next(t, h).Percent)

	require.NoError(t, b.Cancel(context.Background(), h))

	ev := next(t, h)
	require.Equal(t, backend.EventCompleted, ev.Kind)
	require.ErrorIs(t, ev.Err, backend.ErrCanceled)

	var berr *backend.Error
	require.True(t, errors.As(ev.Err, &berr))
	assert.Equal(t, backend.OpFormat, berr.Op)

	// nothing changed on the device
	assert.Equal(t, "MOCK", mock0(t, b).FSLabel)

	err = b.Cancel(context.Background(), h)
	require.ErrorIs(t, err, backend.ErrJobNotFound)
}

func TestRejectCancel(t *testing.T) {
	s := newStepper()
	b := mockbackend.New(mockbackend.Config{After: s.after, Steps: 2, RejectCancel: true})

	h, err := b.Format(context.Background(), mock0(t, b).ObjectPath, backend.FormatOptions{Filesystem: disk.FilesystemVFAT})
	require.NoError(t, err)

	err = b.Cancel(context.Background(), h)
	require.ErrorIs(t, err, backend.ErrCancellationNotSupported)

	next(t, h)
	s.step(t)
	next(t, h)
	s.step(t)
	next(t, h)
	ev := next(t, h)
	require.Equal(t, backend.EventCompleted, ev.Kind)
	require.NoError(t, ev.Err)
}

func TestFailureInjection(t *testing.T) {
	busy := errors.New("device is busy")
	b := mockbackend.New(mockbackend.Config{Failures: map[string]error{
		backend.OpCreatePartitionTable: busy,
		backend.OpFormat:               busy,
	}})
	ctx := context.Background()

	devices, err := b.Enumerate(ctx)
	require.NoError(t, err)

	err = b.CreatePartitionTable(ctx, devices[1], disk.PartitionTableDOS)
	require.ErrorIs(t, err, busy)
	assert.EqualError(t, err, "create_partition_table /dev/mock1: device is busy")

	h, err := b.Format(ctx, devices[0].ObjectPath, backend.FormatOptions{Filesystem: disk.FilesystemVFAT})
	require.NoError(t, err)
	var result error
	for ev := range h.Events() {
		if ev.Kind == backend.EventCompleted {
			result = ev.Err
		}
	}
	require.ErrorIs(t, result, busy)
}

func TestCallLog(t *testing.T) {
	b := mockbackend.New(mockbackend.Config{})
	ctx := context.Background()

	devices, err := b.Enumerate(ctx)
	require.NoError(t, err)
	whole := devices[1]

	_, err = b.CreatePartition(ctx, whole, sizespec.Auto(), disk.FilesystemExFAT)
	require.Error(t, err, "no partition table yet")

	require.NoError(t, b.CreatePartitionTable(ctx, whole, disk.PartitionTableDOS))
	ref, err := b.CreatePartition(ctx, whole, sizespec.Auto(), disk.FilesystemExFAT)
	require.NoError(t, err)
	assert.Equal(t, disk.PartitionRef{
		Path:       "/dev/mock1p1",
		ObjectPath: mockbackend.ObjectPathPrefix + "mock1p1",
		Number:     1,
	}, ref)

	h, err := b.Format(ctx, ref.ObjectPath, backend.FormatOptions{Filesystem: disk.FilesystemExFAT, Quick: true})
	require.NoError(t, err)
	for range h.Events() {
	}

	want := []mockbackend.Call{
		{Op: backend.OpEnumerate},
		{Op: backend.OpCreatePartition, Target: "/dev/mock1", Filesystem: disk.FilesystemExFAT},
		{Op: backend.OpCreatePartitionTable, Target: "/dev/mock1", Table: disk.PartitionTableDOS},
		{Op: backend.OpCreatePartition, Target: "/dev/mock1", Filesystem: disk.FilesystemExFAT},
		{Op: backend.OpFormat, Target: ref.ObjectPath, Filesystem: disk.FilesystemExFAT, Quick: true},
	}
	if diff := cmp.Diff(want, b.Calls()); diff != "" {
		t.Errorf("call log mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{
		backend.OpCreatePartition,
		backend.OpCreatePartitionTable,
		backend.OpCreatePartition,
		backend.OpFormat,
	}, b.Ops())

	// a new table removes the partition again
	require.NoError(t, b.CreatePartitionTable(ctx, whole, disk.PartitionTableGPT))
	devices, err = b.Enumerate(ctx)
	require.NoError(t, err)
	for _, d := range devices {
		assert.NotEqual(t, ref.ObjectPath, d.ObjectPath)
	}
}

func TestPartitionTableOnPartition(t *testing.T) {
	b := mockbackend.New(mockbackend.Config{})
	err := b.CreatePartitionTable(context.Background(), mock0(t, b), disk.PartitionTableGPT)
	require.Error(t, err)
}

func TestCanceledContext(t *testing.T) {
	b := mockbackend.New(mockbackend.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	devices, err := b.Enumerate(context.Background())
	require.NoError(t, err)

	err = b.CreatePartitionTable(ctx, devices[1], disk.PartitionTableGPT)
	require.ErrorIs(t, err, backend.ErrCanceled)

	_, err = b.Format(ctx, devices[0].ObjectPath, backend.FormatOptions{Filesystem: disk.FilesystemVFAT})
	require.ErrorIs(t, err, backend.ErrCanceled)
}

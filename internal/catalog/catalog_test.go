package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/diskfmt/internal/backend/mockbackend"
	"github.com/osbuild/diskfmt/internal/disk"
)

func newCatalog(t *testing.T, devices []disk.Device, exclude ...string) *Catalog {
	t.Helper()
	c, err := New(mockbackend.New(mockbackend.Config{Devices: devices}), exclude)
	require.NoError(t, err)
	c.evalSymlinks = func(path string) (string, error) { return path, nil }
	c.deviceNumber = func(string) (uint64, error) { return 0, errors.New("no such device") }
	return c
}

func TestListDevicesOnlyRemovable(t *testing.T) {
	devices := []disk.Device{
		{Path: "/dev/sda", ObjectPath: "sda"},
		{Path: "/dev/sda1", ObjectPath: "sda1", Partition: true},
		{Path: "/dev/sdb", ObjectPath: "sdb", Removable: true},
		{Path: "/dev/sdb1", ObjectPath: "sdb1", Removable: true, Partition: true},
		{Path: "/dev/sr0", ObjectPath: "sr0", Removable: true, Optical: true},
		{Path: "/dev/nvme0n1", ObjectPath: "nvme0n1"},
		{Path: "/dev/mmcblk0", ObjectPath: "mmcblk0", Removable: true},
	}

	list, err := newCatalog(t, devices).ListDevices(context.Background())
	require.NoError(t, err)

	var paths []string
	for _, d := range list {
		assert.True(t, d.Removable, d.Path)
		assert.False(t, d.Optical, d.Path)
		paths = append(paths, d.Path)
	}
	assert.Equal(t, []string{"/dev/sdb", "/dev/sdb1", "/dev/mmcblk0"}, paths)
}

func TestListDevicesDefaultMock(t *testing.T) {
	list, err := newCatalog(t, nil).ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "/dev/mock0", list[0].Path)
	assert.Equal(t, "/dev/mock1", list[1].Path)
}

func TestListDevicesEmpty(t *testing.T) {
	list, err := newCatalog(t, []disk.Device{{Path: "/dev/sda", ObjectPath: "sda"}}).ListDevices(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestExclude(t *testing.T) {
	c := newCatalog(t, nil, "/dev/mock1*")
	list, err := c.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "/dev/mock0", list[0].Path)

	_, err = c.Resolve(context.Background(), "/dev/mock1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = New(mockbackend.New(mockbackend.Config{}), []string{"/dev/[sd"})
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	c := newCatalog(t, nil)
	ctx := context.Background()

	byPath, err := c.Resolve(ctx, "/dev/mock0")
	require.NoError(t, err)
	byObject, err := c.Resolve(ctx, mockbackend.ObjectPathPrefix+"mock0")
	require.NoError(t, err)
	assert.Equal(t, byPath, byObject)
	assert.True(t, byPath.Partition)

	cases := []string{
		"",
		"/dev/mock9",
		"/dev/mock2", // not removable
		"/dev/mock3", // optical
		"mock0",
	}
	for _, ref := range cases {
		_, err := c.Resolve(ctx, ref)
		assert.ErrorIsf(t, err, ErrNotFound, "%q", ref)
	}
}

func TestResolveSymlink(t *testing.T) {
	c := newCatalog(t, nil)
	c.evalSymlinks = func(path string) (string, error) {
		if path == "/dev/disk/by-label/MOCK" {
			return "/dev/mock0", nil
		}
		return path, nil
	}

	d, err := c.Resolve(context.Background(), "/dev/disk/by-label/MOCK")
	require.NoError(t, err)
	assert.Equal(t, "/dev/mock0", d.Path)
}

func TestResolveDeviceNumber(t *testing.T) {
	devices := []disk.Device{
		{Path: "/dev/sdb", ObjectPath: "sdb", DeviceNumber: 2064, Removable: true},
		{Path: "/dev/sdb1", ObjectPath: "sdb1", DeviceNumber: 2065, Removable: true, Partition: true},
	}
	c := newCatalog(t, devices)
	c.deviceNumber = func(path string) (uint64, error) {
		if path == "/dev/block/8:17" {
			return 2065, nil
		}
		return 0, errNotBlockDevice
	}

	d, err := c.Resolve(context.Background(), "/dev/block/8:17")
	require.NoError(t, err)
	assert.Equal(t, "/dev/sdb1", d.Path)
}

func TestResolveAmbiguous(t *testing.T) {
	devices := []disk.Device{
		{Path: "/dev/sdb", ObjectPath: "/org/example/sdb", Removable: true},
		{Path: "/dev/sdc", ObjectPath: "/dev/sdb", Removable: true},
	}
	_, err := newCatalog(t, devices).Resolve(context.Background(), "/dev/sdb")
	require.ErrorIs(t, err, ErrAmbiguousDeviceReference)
	assert.Contains(t, err.Error(), "/org/example/sdb")
}

func TestEnumerateFailure(t *testing.T) {
	busy := errors.New("bus is down")
	b := mockbackend.New(mockbackend.Config{Failures: map[string]error{"enumerate": busy}})
	c, err := New(b, nil)
	require.NoError(t, err)

	_, err = c.ListDevices(context.Background())
	assert.ErrorIs(t, err, busy)
	_, err = c.Resolve(context.Background(), "/dev/mock0")
	assert.ErrorIs(t, err, busy)
}

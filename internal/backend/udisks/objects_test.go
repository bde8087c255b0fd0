package udisks

import (
	"errors"
	"math"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/diskfmt/internal/backend"
	"github.com/osbuild/diskfmt/internal/disk"
	"github.com/osbuild/diskfmt/internal/sizespec"
)

func v(value interface{}) dbus.Variant {
	return dbus.MakeVariant(value)
}

func devBytes(s string) []byte {
	return append([]byte(s), 0)
}

const (
	objSdb   = dbus.ObjectPath("/org/freedesktop/UDisks2/block_devices/sdb")
	objSdb1  = dbus.ObjectPath("/org/freedesktop/UDisks2/block_devices/sdb1")
	objSda   = dbus.ObjectPath("/org/freedesktop/UDisks2/block_devices/sda")
	objSr0   = dbus.ObjectPath("/org/freedesktop/UDisks2/block_devices/sr0")
	objLoop  = dbus.ObjectPath("/org/freedesktop/UDisks2/block_devices/loop0")
	objUSB   = dbus.ObjectPath("/org/freedesktop/UDisks2/drives/Kingston_DataTraveler_3_0_1234")
	objSSD   = dbus.ObjectPath("/org/freedesktop/UDisks2/drives/Samsung_SSD_970_5678")
	objDVD   = dbus.ObjectPath("/org/freedesktop/UDisks2/drives/HL_DT_ST_DVDRAM")
	objJob   = dbus.ObjectPath("/org/freedesktop/UDisks2/jobs/12")
	objOther = dbus.ObjectPath("/org/freedesktop/UDisks2/jobs/13")
)

func testObjects() managedObjects {
	return managedObjects{
		objUSB: {
			ifaceDrive: {
				"Vendor":         v("Kingston"),
				"Model":          v("DataTraveler  3.0 "),
				"Removable":      v(true),
				"MediaRemovable": v(true),
			},
		},
		objSSD: {
			ifaceDrive: {
				"Vendor":    v(""),
				"Model":     v("Samsung SSD 970"),
				"Removable": v(false),
			},
		},
		objDVD: {
			ifaceDrive: {
				"Model":          v("DVDRAM"),
				"MediaRemovable": v(true),
				"Optical":        v(true),
			},
		},
		objSdb: {
			ifaceBlock: {
				"Device":       v(devBytes("/dev/sdb")),
				"DeviceNumber": v(uint64(8<<8 | 16)),
				"Size":         v(uint64(16000000000)),
				"Drive":        v(objUSB),
				"IdType":       v(""),
			},
			ifacePartitionTable: {
				"Type": v("dos"),
			},
		},
		objSdb1: {
			ifaceBlock: {
				"Device":  v(devBytes("/dev/sdb1")),
				"Size":    v(uint64(15999000000)),
				"Drive":   v(objUSB),
				"IdType":  v("vfat"),
				"IdLabel": v("STICK"),
			},
			ifacePartition: {
				"Number": v(uint32(1)),
				"Table":  v(objSdb),
			},
			ifaceFilesystem: {
				"MountPoints": v([][]byte{devBytes("/run/media/user/STICK")}),
			},
		},
		objSda: {
			ifaceBlock: {
				"Device": v(devBytes("/dev/sda")),
				"Size":   v(uint64(1000204886016)),
				"Drive":  v(objSSD),
			},
		},
		objSr0: {
			ifaceBlock: {
				"Device": v(devBytes("/dev/sr0")),
				"Drive":  v(objDVD),
			},
		},
		objLoop: {
			ifaceBlock: {
				"Device":     v(devBytes("/dev/loop0")),
				"HintIgnore": v(true),
				"Drive":      v(dbus.ObjectPath("/")),
			},
		},
		objJob: {
			ifaceJob: {
				"Operation":     v("format-mkfs"),
				"Objects":       v([]dbus.ObjectPath{objSdb1}),
				"Progress":      v(0.5),
				"ProgressValid": v(true),
				"Cancelable":    v(true),
			},
		},
		objOther: {
			ifaceJob: {
				"Operation": v("filesystem-mount"),
				"Objects":   v([]dbus.ObjectPath{objSdb}),
			},
		},
	}
}

func TestDevicesFromObjects(t *testing.T) {
	devices := devicesFromObjects(testObjects())

	require.Equal(t, []disk.Device{
		{
			Path:        "/dev/sda",
			ObjectPath:  string(objSda),
			Size:        1000204886016,
			VendorModel: "Samsung SSD 970",
		},
		{
			Path:         "/dev/sdb",
			ObjectPath:   string(objSdb),
			DeviceNumber: 8<<8 | 16,
			Size:         16000000000,
			Removable:    true,
			VendorModel:  "Kingston DataTraveler 3.0",
		},
		{
			Path:        "/dev/sdb1",
			ObjectPath:  string(objSdb1),
			Size:        15999000000,
			Removable:   true,
			Partition:   true,
			FSType:      "vfat",
			FSLabel:     "STICK",
			VendorModel: "Kingston DataTraveler 3.0",
		},
		{
			Path:        "/dev/sr0",
			ObjectPath:  string(objSr0),
			Removable:   true,
			Optical:     true,
			VendorModel: "DVDRAM",
		},
	}, devices)
}

func TestMountedFilesystems(t *testing.T) {
	objects := testObjects()
	assert.Equal(t, []dbus.ObjectPath{objSdb1}, mountedFilesystems(objects, objSdb))
	assert.Equal(t, []dbus.ObjectPath{objSdb1}, mountedFilesystems(objects, objSdb1))
	assert.Empty(t, mountedFilesystems(objects, objSda))
}

func TestFindJob(t *testing.T) {
	path, props, ok := findJob(testObjects(), objSdb1)
	require.True(t, ok)
	assert.Equal(t, objJob, path)
	assert.Equal(t, 0.5, prop[float64](props, "Progress"))
	assert.True(t, prop[bool](props, "Cancelable"))

	// mount jobs don't count
	_, _, ok = findJob(testObjects(), objSdb)
	assert.False(t, ok)
}

func TestProp(t *testing.T) {
	props := map[string]dbus.Variant{"Size": v(uint64(42)), "Label": v("x")}
	assert.Equal(t, uint64(42), prop[uint64](props, "Size"))
	assert.Equal(t, "", prop[string](props, "Size"), "wrong type gives the zero value")
	assert.False(t, prop[bool](props, "Missing"))
}

func TestMkfsArgs(t *testing.T) {
	cases := []struct {
		fs     disk.FilesystemType
		size   sizespec.SizeSpec
		output []string
		err    bool
	}{
		{disk.FilesystemVFAT, sizespec.Auto(), nil, false},
		{disk.FilesystemVFAT, sizespec.Sectors(8), []string{"-s", "8"}, false},
		{disk.FilesystemVFAT, sizespec.Bytes(4096), []string{"-s", "8"}, false},
		{disk.FilesystemVFAT, sizespec.Bytes(1000), nil, true},
		{disk.FilesystemExFAT, sizespec.Bytes(131072), []string{"-c", "131072"}, false},
		{disk.FilesystemNTFS, sizespec.Bytes(4096), []string{"-c", "4096"}, false},
		{disk.FilesystemExt4, sizespec.Bytes(4096), []string{"-b", "4096"}, false},
		{disk.FilesystemExt4, sizespec.Sectors(8), nil, true},
		{disk.FilesystemXFS, sizespec.Bytes(2048), []string{"-b", "size=2048"}, false},
		{disk.FilesystemBtrfs, sizespec.Bytes(16384), []string{"--nodesize", "16384"}, false},
		{disk.FilesystemVFAT, sizespec.Sectors(256), nil, true},
		{disk.FilesystemExt4, sizespec.Bytes(math.MaxUint64), nil, true},
		{disk.FilesystemBtrfs, sizespec.Bytes(1 << 20), nil, true},
	}

	for _, c := range cases {
		args, err := mkfsArgs(c.fs, c.size)
		if c.err {
			assert.Errorf(t, err, "%s %s", c.fs, c.size)
			continue
		}
		require.NoErrorf(t, err, "%s %s", c.fs, c.size)
		assert.Equalf(t, c.output, args, "%s %s", c.fs, c.size)
	}
}

func TestFormatOptions(t *testing.T) {
	opts := formatOptions("", true, nil)
	assert.NotContains(t, opts, "label")
	assert.NotContains(t, opts, "erase")
	assert.NotContains(t, opts, "mkfs-args")

	opts = formatOptions("DATA", false, []string{"-b", "4096"})
	assert.Equal(t, "DATA", opts["label"].Value())
	assert.Equal(t, "zero", opts["erase"].Value())
	assert.Equal(t, []string{"-b", "4096"}, opts["mkfs-args"].Value())
}

func TestPartitionType(t *testing.T) {
	assert.Equal(t, guidBasicData, partitionType(disk.PartitionTableGPT, disk.FilesystemExFAT))
	assert.Equal(t, guidLinuxFS, partitionType(disk.PartitionTableGPT, disk.FilesystemBtrfs))
	assert.Equal(t, mbrFAT32LBA, partitionType(disk.PartitionTableDOS, disk.FilesystemVFAT))
	assert.Equal(t, mbrNTFS, partitionType(disk.PartitionTableDOS, disk.FilesystemNTFS))
	assert.Equal(t, mbrLinux, partitionType(disk.PartitionTableDOS, disk.FilesystemXFS))
}

func TestPartitionStart(t *testing.T) {
	cases := []struct {
		size   sizespec.SizeSpec
		fs     disk.FilesystemType
		output uint64
		err    error
	}{
		{sizespec.Auto(), disk.FilesystemExt4, 1 << 20, nil},
		{sizespec.Bytes(4096), disk.FilesystemExt4, 1 << 20, nil},
		{sizespec.Sectors(128), disk.FilesystemVFAT, 1 << 20, nil},
		{sizespec.Bytes(3 << 20), disk.FilesystemExFAT, 3 << 20, nil},
		{sizespec.Bytes(32 << 20), disk.FilesystemExFAT, 32 << 20, nil},

		{sizespec.Bytes(math.MaxUint64), disk.FilesystemExt4, 0, sizespec.ErrSizeOutOfRange},
		{sizespec.Bytes(math.MaxUint64 - 1<<19), disk.FilesystemExFAT, 0, sizespec.ErrSizeOutOfRange},
		{sizespec.Sectors(math.MaxUint64), disk.FilesystemVFAT, 0, sizespec.ErrSizeOutOfRange},
		{sizespec.Sectors(1 << 55), disk.FilesystemVFAT, 0, sizespec.ErrSizeOutOfRange},
		{sizespec.Bytes(64 << 20), disk.FilesystemExFAT, 0, sizespec.ErrSizeOutOfRange},
		{sizespec.Sectors(8), disk.FilesystemExt4, 0, sizespec.ErrUnsupportedUnitForFilesystem},
	}

	for _, c := range cases {
		start, err := partitionStart(c.size, c.fs)
		if c.err != nil {
			assert.ErrorIsf(t, err, c.err, "%s on %s", c.size, c.fs)
			continue
		}
		require.NoErrorf(t, err, "%s on %s", c.size, c.fs)
		assert.Equalf(t, c.output, start, "%s on %s", c.size, c.fs)
		assert.GreaterOrEqual(t, start, uint64(partitionOffset))
	}
}

func TestWrapError(t *testing.T) {
	err := wrapError(backend.OpFormat, "/dev/sdb1", dbus.Error{
		Name: errNameCancelled,
		Body: []interface{}{"Job was cancelled"},
	})
	assert.ErrorIs(t, err, backend.ErrCanceled)

	busy := dbus.Error{Name: "org.freedesktop.UDisks2.Error.DeviceBusy", Body: []interface{}{"Device is busy"}}
	err = wrapError(backend.OpFormat, "/dev/sdb1", busy)
	assert.NotErrorIs(t, err, backend.ErrCanceled)
	var berr *backend.Error
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, "Device is busy", berr.Err.Error())
}

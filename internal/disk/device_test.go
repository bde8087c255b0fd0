package disk

import (
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHumanSize(t *testing.T) {
	cases := []struct {
		input  uint64
		output string
	}{
		{0, "0 B"},
		{999, "999 B"},
		{1000, "1.0 KB"},
		{1500, "1.5 KB"},
		{8 * 1024 * 1024 * 1024, "8.6 GB"},
		{64 * 1000 * 1000 * 1000, "64.0 GB"},
		{3 * 1000 * 1000 * 1000 * 1000 * 1000, "3000.0 TB"},
	}

	for _, c := range cases {
		assert.Equalf(t, c.output, HumanSize(c.input), "size %d", c.input)
	}
}

func TestDeviceDisplay(t *testing.T) {
	cases := []struct {
		name   string
		device Device
		output string
	}{
		{
			name: "partition",
			device: Device{
				Path:        "/dev/sdc1",
				ObjectPath:  "/org/freedesktop/UDisks2/block_devices/sdc1",
				Size:        64 * 1000 * 1000 * 1000,
				Partition:   true,
				FSType:      "vfat",
				FSLabel:     "MOCK",
				VendorModel: "Mock USB",
			},
			output: `/dev/sdc1 (Partition, 64.0 GB, Mock USB, vfat, "MOCK")`,
		},
		{
			name:   "bare disk",
			device: Device{Path: "/dev/sdd"},
			output: "/dev/sdd (Disk)",
		},
		{
			name:   "object path only",
			device: Device{ObjectPath: "/org/freedesktop/UDisks2/block_devices/sde", Size: 512},
			output: "/org/freedesktop/UDisks2/block_devices/sde (Disk, 512 B)",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.output, c.device.Display())
		})
	}
}

func TestDeviceLabel(t *testing.T) {
	d := Device{Path: "/dev/sdb", ObjectPath: "/obj/sdb"}
	assert.Equal(t, "/dev/sdb", d.Label())

	d.VendorModel = "SanDisk Cruzer"
	assert.Equal(t, "SanDisk Cruzer", d.Label())

	d.FSLabel = "BACKUP"
	assert.Equal(t, "BACKUP", d.Label())

	assert.Equal(t, "/obj/sdx", Device{ObjectPath: "/obj/sdx"}.Label())
	assert.True(t, Device{}.WholeDisk())
	assert.False(t, Device{Partition: true}.WholeDisk())
}

func TestParseFilesystemType(t *testing.T) {
	for _, fs := range FilesystemTypes() {
		parsed, err := ParseFilesystemType(string(fs))
		require.NoError(t, err)
		assert.Equal(t, fs, parsed)
		assert.True(t, parsed.Valid())
	}

	parsed, err := ParseFilesystemType(" EXT4 ")
	require.NoError(t, err)
	assert.Equal(t, FilesystemExt4, parsed)

	parsed, err = ParseFilesystemType("fat32")
	require.NoError(t, err)
	assert.Equal(t, FilesystemVFAT, parsed)

	_, err = ParseFilesystemType("zfs")
	assert.ErrorIs(t, err, ErrUnknownFilesystem)
	assert.False(t, FilesystemType("zfs").Valid())
}

func fakeLookPath(available ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		for _, a := range available {
			if a == name {
				return "/usr/sbin/" + name, nil
			}
		}
		return "", &exec.Error{Name: name, Err: errors.New("not found")}
	}
}

func TestSupportedFilesystems(t *testing.T) {
	supported := SupportedFilesystems(fakeLookPath("mkfs.vfat", "mke2fs", "mkntfs"))
	assert.Equal(t, []FilesystemType{FilesystemVFAT, FilesystemExt4, FilesystemNTFS}, supported)
	assert.Equal(t, FilesystemVFAT, DefaultFilesystem(supported))

	supported = SupportedFilesystems(fakeLookPath("mkfs.btrfs", "mkfs.exfat"))
	assert.Equal(t, FilesystemExFAT, DefaultFilesystem(supported))

	assert.Empty(t, SupportedFilesystems(fakeLookPath()))
	assert.Equal(t, FilesystemVFAT, DefaultFilesystem(nil))
	assert.Equal(t, FilesystemXFS, DefaultFilesystem([]FilesystemType{FilesystemBtrfs, FilesystemXFS}))
}

package udisks

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/osbuild/diskfmt/internal/disk"
	"github.com/osbuild/diskfmt/internal/sizespec"
)

// managedObjects is the reply of org.freedesktop.DBus.ObjectManager.GetManagedObjects:
// object path -> interface -> property -> value.
type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

const (
	guidBasicData = "ebd0a0a2-b9e5-4433-87c0-68b6b72699c7"
	guidLinuxFS   = "0fc63daf-8483-4772-8e79-3d69d8477de4"

	mbrFAT32LBA = "0x0c"
	mbrNTFS     = "0x07"
	mbrLinux    = "0x83"

	sectorSize = sizespec.SectorSize
	// first partition starts at 1 MiB
	partitionOffset = 1024 * 1024
)

func prop[T any](props map[string]dbus.Variant, name string) T {
	var zero T
	v, ok := props[name]
	if !ok {
		return zero
	}
	t, ok := v.Value().(T)
	if !ok {
		return zero
	}
	return t
}

// UDisks returns device paths as NUL terminated byte arrays.
func byteString(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}

func devicesFromObjects(objects managedObjects) []disk.Device {
	var devices []disk.Device

	for path, ifaces := range objects {
		block, ok := ifaces[ifaceBlock]
		if !ok {
			continue
		}
		if prop[bool](block, "HintIgnore") {
			continue
		}

		d := disk.Device{
			Path:         byteString(prop[[]byte](block, "Device")),
			ObjectPath:   string(path),
			DeviceNumber: prop[uint64](block, "DeviceNumber"),
			Size:         prop[uint64](block, "Size"),
			FSType:       prop[string](block, "IdType"),
			FSLabel:      prop[string](block, "IdLabel"),
		}
		_, d.Partition = ifaces[ifacePartition]

		if drive, ok := objects[prop[dbus.ObjectPath](block, "Drive")][ifaceDrive]; ok {
			d.Removable = prop[bool](drive, "Removable") || prop[bool](drive, "MediaRemovable")
			d.Optical = prop[bool](drive, "Optical")
			vm := strings.TrimSpace(prop[string](drive, "Vendor") + " " + prop[string](drive, "Model"))
			d.VendorModel = strings.Join(strings.Fields(vm), " ")
		}
		if strings.HasPrefix(d.Path, "/dev/sr") {
			d.Optical = true
		}

		devices = append(devices, d)
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].ObjectPath < devices[j].ObjectPath
	})
	return devices
}

// mountedFilesystems returns the mounted filesystems on target itself or on
// any partition of it.
func mountedFilesystems(objects managedObjects, target dbus.ObjectPath) []dbus.ObjectPath {
	var mounted []dbus.ObjectPath
	for path, ifaces := range objects {
		fs, ok := ifaces[ifaceFilesystem]
		if !ok || len(prop[[][]byte](fs, "MountPoints")) == 0 {
			continue
		}
		part := ifaces[ifacePartition]
		if path == target || (part != nil && prop[dbus.ObjectPath](part, "Table") == target) {
			mounted = append(mounted, path)
		}
	}
	sort.Slice(mounted, func(i, j int) bool { return mounted[i] < mounted[j] })
	return mounted
}

// findJob returns the UDisks job formatting target, if there is one.
func findJob(objects managedObjects, target dbus.ObjectPath) (dbus.ObjectPath, map[string]dbus.Variant, bool) {
	for path, ifaces := range objects {
		job, ok := ifaces[ifaceJob]
		if !ok {
			continue
		}
		if !strings.HasPrefix(prop[string](job, "Operation"), "format") {
			continue
		}
		for _, o := range prop[[]dbus.ObjectPath](job, "Objects") {
			if o == target {
				return path, job, true
			}
		}
	}
	return "", nil, false
}

// partitionType is the GPT type GUID or MBR type byte for a partition that
// will hold fs.
func partitionType(table disk.PartitionTableType, fs disk.FilesystemType) string {
	windows := fs == disk.FilesystemVFAT || fs == disk.FilesystemExFAT || fs == disk.FilesystemNTFS
	if table == disk.PartitionTableDOS {
		switch fs {
		case disk.FilesystemVFAT:
			return mbrFAT32LBA
		case disk.FilesystemExFAT, disk.FilesystemNTFS:
			return mbrNTFS
		}
		return mbrLinux
	}
	if windows {
		return guidBasicData
	}
	return guidLinuxFS
}

// partitionStart aligns the first partition to the allocation unit when that
// is larger than the default 1 MiB offset. Units fs cannot use are rejected
// so the start never wraps around into the partition table.
func partitionStart(size sizespec.SizeSpec, fs disk.FilesystemType) (uint64, error) {
	if err := size.Validate(fs); err != nil {
		return 0, err
	}
	unit, ok := size.UnitBytes()
	if !ok || unit <= partitionOffset {
		return partitionOffset, nil
	}
	if unit > math.MaxUint64-partitionOffset {
		return 0, fmt.Errorf("%w: %s", sizespec.ErrSizeOutOfRange, size)
	}
	return (partitionOffset + unit - 1) / unit * unit, nil
}

// mkfsArgs translates the allocation unit into the arguments of the mkfs
// tool UDisks runs for fs.
func mkfsArgs(fs disk.FilesystemType, size sizespec.SizeSpec) ([]string, error) {
	if size.IsAuto() {
		return nil, nil
	}
	if err := size.Validate(fs); err != nil {
		return nil, err
	}

	n := strconv.FormatUint(size.Count, 10)
	switch fs {
	case disk.FilesystemVFAT:
		if size.Unit == sizespec.UnitBytes {
			if size.Count%sectorSize != 0 {
				return nil, fmt.Errorf("vfat cluster size must be a multiple of %d bytes, got %d", sectorSize, size.Count)
			}
			n = strconv.FormatUint(size.Count/sectorSize, 10)
		}
		return []string{"-s", n}, nil
	case disk.FilesystemExFAT, disk.FilesystemNTFS:
		return []string{"-c", n}, nil
	case disk.FilesystemExt4:
		return []string{"-b", n}, nil
	case disk.FilesystemXFS:
		return []string{"-b", "size=" + n}, nil
	case disk.FilesystemBtrfs:
		return []string{"--nodesize", n}, nil
	}
	return nil, fmt.Errorf("%w: %q", disk.ErrUnknownFilesystem, fs)
}

func formatOptions(label string, quick bool, args []string) map[string]dbus.Variant {
	options := map[string]dbus.Variant{
		"tear-down":             dbus.MakeVariant(true),
		"update-partition-type": dbus.MakeVariant(true),
	}
	if label != "" {
		options["label"] = dbus.MakeVariant(label)
	}
	if !quick {
		options["erase"] = dbus.MakeVariant("zero")
	}
	if len(args) > 0 {
		options["mkfs-args"] = dbus.MakeVariant(args)
	}
	return options
}

package disk

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// FilesystemType is one of the filesystems a device can be formatted with.
type FilesystemType string

const (
	FilesystemVFAT  FilesystemType = "vfat"
	FilesystemExFAT FilesystemType = "exfat"
	FilesystemNTFS  FilesystemType = "ntfs"
	FilesystemExt4  FilesystemType = "ext4"
	FilesystemXFS   FilesystemType = "xfs"
	FilesystemBtrfs FilesystemType = "btrfs"
)

var ErrUnknownFilesystem = errors.New("unknown filesystem type")

// Order in which a default filesystem is picked from the supported ones.
var filesystemPreference = []FilesystemType{
	FilesystemExFAT,
	FilesystemVFAT,
	FilesystemExt4,
	FilesystemNTFS,
	FilesystemXFS,
	FilesystemBtrfs,
}

// mkfs binaries, any one of which makes a filesystem usable.
var mkfsTools = map[FilesystemType][]string{
	FilesystemVFAT:  {"mkfs.vfat"},
	FilesystemExFAT: {"mkfs.exfat"},
	FilesystemNTFS:  {"mkfs.ntfs", "mkntfs"},
	FilesystemExt4:  {"mkfs.ext4", "mke2fs"},
	FilesystemXFS:   {"mkfs.xfs"},
	FilesystemBtrfs: {"mkfs.btrfs"},
}

// FilesystemTypes returns every known filesystem type in preference order.
func FilesystemTypes() []FilesystemType {
	return append([]FilesystemType(nil), filesystemPreference...)
}

// ParseFilesystemType accepts a filesystem name case-insensitively. "fat"
// and "fat32" are accepted as aliases of vfat.
func ParseFilesystemType(s string) (FilesystemType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "fat", "fat32":
		return FilesystemVFAT, nil
	}
	for _, fs := range filesystemPreference {
		if string(fs) == name {
			return fs, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFilesystem, s)
}

func (fs FilesystemType) String() string {
	return string(fs)
}

func (fs FilesystemType) Valid() bool {
	_, ok := mkfsTools[fs]
	return ok
}

// SupportedFilesystems returns the filesystems for which at least one mkfs
// tool can be found with lookPath. A nil lookPath uses exec.LookPath.
func SupportedFilesystems(lookPath func(string) (string, error)) []FilesystemType {
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	var supported []FilesystemType
	for _, fs := range filesystemPreference {
		for _, tool := range mkfsTools[fs] {
			if _, err := lookPath(tool); err == nil {
				supported = append(supported, fs)
				break
			}
		}
	}
	return supported
}

// DefaultFilesystem picks the most preferred of the supported filesystems,
// falling back to vfat.
func DefaultFilesystem(supported []FilesystemType) FilesystemType {
	for _, pref := range filesystemPreference {
		for _, fs := range supported {
			if fs == pref {
				return fs
			}
		}
	}
	return FilesystemVFAT
}

// PartitionTableType is the kind of partition table written to a whole disk.
type PartitionTableType string

const (
	PartitionTableGPT PartitionTableType = "gpt"
	PartitionTableDOS PartitionTableType = "dos"
)

func (pt PartitionTableType) String() string {
	return string(pt)
}

package sizespec

import (
	"github.com/osbuild/diskfmt/internal/disk"
)

// Choices returns the allocation unit sizes offered for fs, Auto first.
func Choices(fs disk.FilesystemType) []SizeSpec {
	choices := []SizeSpec{Auto()}

	switch fs {
	case disk.FilesystemVFAT:
		for _, spc := range []uint64{1, 2, 4, 8, 16, 32, 64, 128} {
			choices = append(choices, Sectors(spc))
		}
	case disk.FilesystemExFAT, disk.FilesystemNTFS:
		for sz := uint64(4096); sz <= 1024*1024; sz *= 2 {
			choices = append(choices, Bytes(sz))
		}
	case disk.FilesystemExt4, disk.FilesystemXFS:
		for _, sz := range []uint64{1024, 2048, 4096} {
			choices = append(choices, Bytes(sz))
		}
	case disk.FilesystemBtrfs:
		for _, sz := range []uint64{4096, 16384, 32768, 65536} {
			choices = append(choices, Bytes(sz))
		}
	}

	return choices
}

// UnitLabel describes what the size means for fs.
func UnitLabel(fs disk.FilesystemType) string {
	switch fs {
	case disk.FilesystemVFAT:
		return "Sectors per cluster"
	case disk.FilesystemExFAT, disk.FilesystemNTFS:
		return "Cluster size (bytes)"
	case disk.FilesystemExt4, disk.FilesystemXFS:
		return "Block size (bytes)"
	case disk.FilesystemBtrfs:
		return "Nodesize (bytes)"
	}
	return "Allocation unit size"
}

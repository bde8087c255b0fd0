// Package sizespec turns the human readable allocation unit and partition
// table choices ("Auto", "4096 bytes", "8 sectors", "GPT") into the values
// passed to a backend.
package sizespec

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/osbuild/diskfmt/internal/disk"
)

var (
	ErrInvalidSizeFormat            = errors.New("invalid size format")
	ErrUnsupportedUnitForFilesystem = errors.New("unit not supported for filesystem")
	ErrInvalidTableKind             = errors.New("invalid partition table kind")
	ErrSizeOutOfRange               = errors.New("allocation unit too large for filesystem")
)

// SectorSize is the size of the logical sectors counted by a sector size.
const SectorSize = 512

// maxUnit is the largest allocation unit in bytes the mkfs tool of each
// filesystem accepts.
var maxUnit = map[disk.FilesystemType]uint64{
	disk.FilesystemVFAT:  128 * SectorSize,
	disk.FilesystemExFAT: 32 << 20,
	disk.FilesystemNTFS:  2 << 20,
	disk.FilesystemExt4:  64 << 10,
	disk.FilesystemXFS:   64 << 10,
	disk.FilesystemBtrfs: 64 << 10,
}

type Unit string

const (
	UnitAuto    Unit = ""
	UnitBytes   Unit = "bytes"
	UnitSectors Unit = "sectors"
)

// SizeSpec is either automatic (the zero value), letting the formatter pick
// the allocation unit, or an explicit count of bytes or sectors.
type SizeSpec struct {
	Unit  Unit
	Count uint64
}

func Auto() SizeSpec {
	return SizeSpec{}
}

func Bytes(n uint64) SizeSpec {
	return SizeSpec{Unit: UnitBytes, Count: n}
}

func Sectors(n uint64) SizeSpec {
	return SizeSpec{Unit: UnitSectors, Count: n}
}

func (s SizeSpec) IsAuto() bool {
	return s.Unit == UnitAuto
}

// UnitBytes returns the allocation unit in bytes, and false for Auto or when
// the sector count does not fit.
func (s SizeSpec) UnitBytes() (uint64, bool) {
	switch s.Unit {
	case UnitBytes:
		return s.Count, true
	case UnitSectors:
		if s.Count > math.MaxUint64/SectorSize {
			return 0, false
		}
		return s.Count * SectorSize, true
	}
	return 0, false
}

func (s SizeSpec) String() string {
	switch s.Unit {
	case UnitAuto:
		return "Auto"
	case UnitSectors:
		if s.Count == 1 {
			return "1 sector"
		}
	case UnitBytes:
		if s.Count == 1 {
			return "1 byte"
		}
	}
	return fmt.Sprintf("%d %s", s.Count, s.Unit)
}

// Validate checks that the unit is usable with fs. Sector counts only make
// sense as vfat sectors per cluster, and no unit may exceed what the
// filesystem supports.
func (s SizeSpec) Validate(fs disk.FilesystemType) error {
	switch s.Unit {
	case UnitAuto:
		return nil
	case UnitBytes, UnitSectors:
		if s.Count == 0 {
			return fmt.Errorf("%w: count must be positive", ErrInvalidSizeFormat)
		}
	default:
		return fmt.Errorf("%w: unknown unit %q", ErrInvalidSizeFormat, s.Unit)
	}
	if s.Unit == UnitSectors && fs != disk.FilesystemVFAT {
		return fmt.Errorf("%w: %s does not accept sizes in sectors", ErrUnsupportedUnitForFilesystem, fs)
	}
	if limit, ok := maxUnit[fs]; ok {
		if n, ok := s.UnitBytes(); !ok || n > limit {
			return fmt.Errorf("%w: %s exceeds %d bytes on %s", ErrSizeOutOfRange, s, limit, fs)
		}
	}
	return nil
}

func (s SizeSpec) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the shape of a size only; the unit/filesystem policy
// is checked by Validate or ParseSize.
func (s *SizeSpec) UnmarshalText(text []byte) error {
	parsed, err := parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSize parses "Auto", "<n> bytes" or "<n> sectors" and checks the
// result against fs. Tokens are case-insensitive and the singular unit
// forms are accepted.
func ParseSize(text string, fs disk.FilesystemType) (SizeSpec, error) {
	s, err := parse(text)
	if err != nil {
		return SizeSpec{}, err
	}
	if err := s.Validate(fs); err != nil {
		return SizeSpec{}, err
	}
	return s, nil
}

func parse(text string) (SizeSpec, error) {
	fields := strings.Fields(text)

	if len(fields) == 1 && strings.EqualFold(fields[0], "auto") {
		return Auto(), nil
	}
	if len(fields) != 2 {
		return SizeSpec{}, fmt.Errorf("%w: %q", ErrInvalidSizeFormat, text)
	}

	// ParseUint rejects signs, so "+8" and "-8" fail here too
	count, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil || count == 0 {
		return SizeSpec{}, fmt.Errorf("%w: %q: count must be a positive integer", ErrInvalidSizeFormat, text)
	}

	switch strings.ToLower(fields[1]) {
	case "bytes", "byte":
		return Bytes(count), nil
	case "sectors", "sector":
		return Sectors(count), nil
	}
	return SizeSpec{}, fmt.Errorf("%w: %q: unit must be bytes or sectors", ErrInvalidSizeFormat, text)
}

// ParseTable accepts GPT or DOS in any case.
func ParseTable(text string) (disk.PartitionTableType, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "gpt":
		return disk.PartitionTableGPT, nil
	case "dos":
		return disk.PartitionTableDOS, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTableKind, text)
}

// Package disk contains the data types describing block devices and the
// filesystems and partition tables that can be written to them.
//
// A Device is a snapshot of what a backend reported at enumeration time. It
// is never updated in place; callers re-enumerate to observe changes.
package disk

import (
	"fmt"
	"strings"
)

type Device struct {
	// Device node, e.g. /dev/sdb1. May be empty when the backend only knows
	// the object path.
	Path string `json:"path"`
	// Backend identifier, e.g. a UDisks2 D-Bus object path.
	ObjectPath string `json:"object_path"`
	// Kernel device number (major:minor encoded as dev_t), zero if unknown.
	DeviceNumber uint64 `json:"device_number,omitempty"`

	Size        uint64 `json:"size"`
	Removable   bool   `json:"removable"`
	Optical     bool   `json:"optical,omitempty"`
	Partition   bool   `json:"partition"`
	FSType      string `json:"fs_type,omitempty"`
	FSLabel     string `json:"fs_label,omitempty"`
	VendorModel string `json:"vendor_model,omitempty"`
}

// PartitionRef points at a partition created by a backend.
type PartitionRef struct {
	Path       string `json:"path"`
	ObjectPath string `json:"object_path"`
	Number     int    `json:"number"`
}

// WholeDisk reports whether the device is an entire block device rather
// than a partition on one.
func (d Device) WholeDisk() bool {
	return !d.Partition
}

// Label returns a human readable name for the device.
func (d Device) Label() string {
	switch {
	case d.FSLabel != "":
		return d.FSLabel
	case d.VendorModel != "":
		return d.VendorModel
	case d.Path != "":
		return d.Path
	}
	return d.ObjectPath
}

// Display formats the device as a single line, e.g.
//
//	/dev/sdb1 (Partition, 8.0 GB, Kingston DataTraveler, vfat, "USB")
func (d Device) Display() string {
	kind := "Disk"
	if d.Partition {
		kind = "Partition"
	}
	extras := []string{kind}
	if d.Size > 0 {
		extras = append(extras, HumanSize(d.Size))
	}
	if d.VendorModel != "" {
		extras = append(extras, d.VendorModel)
	}
	if d.FSType != "" {
		extras = append(extras, d.FSType)
	}
	if d.FSLabel != "" {
		extras = append(extras, fmt.Sprintf("%q", d.FSLabel))
	}

	base := d.Path
	if base == "" {
		base = d.ObjectPath
	}
	return fmt.Sprintf("%s (%s)", base, strings.Join(extras, ", "))
}

// HumanSize renders a byte count with SI units and one decimal.
func HumanSize(size uint64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}

	if size < 1000 {
		return fmt.Sprintf("%d B", size)
	}

	s := float64(size)
	i := 0
	for s >= 1000 && i < len(units)-1 {
		s /= 1000
		i++
	}
	return fmt.Sprintf("%.1f %s", s, units[i])
}

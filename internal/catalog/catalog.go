// Package catalog lists the devices that may be formatted and resolves user
// supplied references to them.
//
// Only removable, non-optical devices are ever returned. Everything else is
// left out of listings and cannot be resolved, so a fixed disk can never be
// picked as a format target.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/diskfmt/internal/backend"
	"github.com/osbuild/diskfmt/internal/disk"
)

var (
	ErrNotFound                 = errors.New("device not found")
	ErrAmbiguousDeviceReference = errors.New("ambiguous device reference")
	errNotBlockDevice           = errors.New("not a block device")
)

type Catalog struct {
	backend backend.Backend
	exclude []glob.Glob

	evalSymlinks func(string) (string, error)
	deviceNumber func(string) (uint64, error)
}

// New returns a catalog over the devices of b. Devices whose path matches
// any of the exclude glob patterns are filtered out as well.
func New(b backend.Backend, exclude []string) (*Catalog, error) {
	c := &Catalog{
		backend:      b,
		evalSymlinks: filepath.EvalSymlinks,
		deviceNumber: deviceNumber,
	}
	for _, pattern := range exclude {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid device exclude pattern %q: %w", pattern, err)
		}
		c.exclude = append(c.exclude, g)
	}
	return c, nil
}

func (c *Catalog) excluded(d disk.Device) bool {
	for _, g := range c.exclude {
		if g.Match(d.Path) || g.Match(d.ObjectPath) {
			return true
		}
	}
	return false
}

// ListDevices enumerates the backend and returns the devices that may be
// formatted. Every call takes a fresh snapshot.
func (c *Catalog) ListDevices(ctx context.Context) ([]disk.Device, error) {
	all, err := c.backend.Enumerate(ctx)
	if err != nil {
		return nil, err
	}

	devices := []disk.Device{}
	for _, d := range all {
		switch {
		case !d.Removable:
			logrus.Debugf("Skipping non-removable device %s", d.Path)
		case d.Optical:
			logrus.Debugf("Skipping optical device %s", d.Path)
		case c.excluded(d):
			logrus.Debugf("Skipping excluded device %s", d.Path)
		default:
			devices = append(devices, d)
		}
	}
	return devices, nil
}

// Resolve maps a device node path (/dev/sdb1, or a symlink such as
// /dev/disk/by-label/USB) or a backend object path to a listed device.
func (c *Catalog) Resolve(ctx context.Context, ref string) (disk.Device, error) {
	if ref == "" {
		return disk.Device{}, fmt.Errorf("%w: empty reference", ErrNotFound)
	}

	devices, err := c.ListDevices(ctx)
	if err != nil {
		return disk.Device{}, err
	}

	d, err := match(devices, ref, func(d disk.Device) bool {
		return d.Path == ref || d.ObjectPath == ref
	})
	if !errors.Is(err, ErrNotFound) || !strings.HasPrefix(ref, "/dev/") {
		return d, err
	}

	// the reference may be an alias of a device node
	if target, lerr := c.evalSymlinks(ref); lerr == nil && target != ref {
		d, err = match(devices, ref, func(d disk.Device) bool {
			return d.Path == target
		})
		if !errors.Is(err, ErrNotFound) {
			return d, err
		}
	}
	if devnum, serr := c.deviceNumber(ref); serr == nil && devnum != 0 {
		return match(devices, ref, func(d disk.Device) bool {
			return d.DeviceNumber == devnum
		})
	}

	return disk.Device{}, err
}

func match(devices []disk.Device, ref string, f func(disk.Device) bool) (disk.Device, error) {
	var found []disk.Device
	for _, d := range devices {
		if f(d) {
			found = append(found, d)
		}
	}

	switch len(found) {
	case 0:
		return disk.Device{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	case 1:
		return found[0], nil
	}

	paths := make([]string, 0, len(found))
	for _, d := range found {
		paths = append(paths, d.ObjectPath)
	}
	return disk.Device{}, fmt.Errorf("%w: %s matches %s", ErrAmbiguousDeviceReference, ref, strings.Join(paths, ", "))
}

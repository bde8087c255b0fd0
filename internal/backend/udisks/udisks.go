// Package udisks implements the backend on top of the UDisks2 service,
// talking to it over the D-Bus system bus.
//
// Formatting runs as an asynchronous Block.Format call. While it runs, the
// UDisks job object created for it is polled for progress, and that job
// object is what Cancel acts on.
package udisks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/diskfmt/internal/backend"
	"github.com/osbuild/diskfmt/internal/disk"
	"github.com/osbuild/diskfmt/internal/sizespec"
)

const (
	busName  = "org.freedesktop.UDisks2"
	rootPath = dbus.ObjectPath("/org/freedesktop/UDisks2")

	ifaceObjectManager  = "org.freedesktop.DBus.ObjectManager"
	ifaceProperties     = "org.freedesktop.DBus.Properties"
	ifaceBlock          = "org.freedesktop.UDisks2.Block"
	ifaceDrive          = "org.freedesktop.UDisks2.Drive"
	ifaceFilesystem     = "org.freedesktop.UDisks2.Filesystem"
	ifacePartition      = "org.freedesktop.UDisks2.Partition"
	ifacePartitionTable = "org.freedesktop.UDisks2.PartitionTable"
	ifaceJob            = "org.freedesktop.UDisks2.Job"

	errNameCancelled = "org.freedesktop.UDisks2.Error.Cancelled"

	DefaultPollInterval = 500 * time.Millisecond
)

type Backend struct {
	conn         *dbus.Conn
	pollInterval time.Duration

	mu   sync.Mutex
	jobs map[string]*job
}

type job struct {
	id     string
	target dbus.ObjectPath
	events chan backend.Event
	done   chan *dbus.Call

	// guarded by Backend.mu
	udisksJob dbus.ObjectPath
}

func (j *job) ID() string {
	return j.id
}

func (j *job) Events() <-chan backend.Event {
	return j.events
}

// New connects to the system bus and checks that UDisks2 answers. Errors
// wrap backend.ErrUnavailable.
func New(ctx context.Context) (*Backend, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to the system bus: %v", backend.ErrUnavailable, err)
	}

	b := &Backend{
		conn:         conn,
		pollInterval: DefaultPollInterval,
		jobs:         make(map[string]*job),
	}

	if _, err := b.managedObjects(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
	}

	return b, nil
}

func (b *Backend) Close() error {
	return b.conn.Close()
}

func (b *Backend) Name() string {
	return "udisks"
}

func (b *Backend) object(path dbus.ObjectPath) dbus.BusObject {
	return b.conn.Object(busName, path)
}

func (b *Backend) managedObjects(ctx context.Context) (managedObjects, error) {
	var objects managedObjects
	err := b.object(rootPath).CallWithContext(ctx, ifaceObjectManager+".GetManagedObjects", 0).Store(&objects)
	if err != nil {
		return nil, err
	}
	return objects, nil
}

func (b *Backend) Enumerate(ctx context.Context) ([]disk.Device, error) {
	objects, err := b.managedObjects(ctx)
	if err != nil {
		return nil, &backend.Error{Op: backend.OpEnumerate, Err: err}
	}
	return devicesFromObjects(objects), nil
}

func dbusErrorName(err error) string {
	var e dbus.Error
	if errors.As(err, &e) {
		return e.Name
	}
	var pe *dbus.Error
	if errors.As(err, &pe) {
		return pe.Name
	}
	return ""
}

// wrapError keeps the D-Bus error text and marks UDisks' cancellation error.
func wrapError(op, target string, err error) error {
	if dbusErrorName(err) == errNameCancelled {
		err = fmt.Errorf("%w: %v", backend.ErrCanceled, err)
	}
	return &backend.Error{Op: op, Target: target, Err: err}
}

func (b *Backend) unmount(ctx context.Context, target dbus.ObjectPath) error {
	objects, err := b.managedObjects(ctx)
	if err != nil {
		return err
	}
	for _, fs := range mountedFilesystems(objects, target) {
		logrus.Infof("Unmounting %s", fs)
		err := b.object(fs).CallWithContext(ctx, ifaceFilesystem+".Unmount", 0, map[string]dbus.Variant{}).Err
		if err != nil {
			return fmt.Errorf("unmounting %s: %w", fs, err)
		}
	}
	return nil
}

func (b *Backend) CreatePartitionTable(ctx context.Context, device disk.Device, table disk.PartitionTableType) error {
	path := dbus.ObjectPath(device.ObjectPath)

	if err := b.unmount(ctx, path); err != nil {
		return wrapError(backend.OpCreatePartitionTable, device.Path, err)
	}

	options := map[string]dbus.Variant{
		"tear-down": dbus.MakeVariant(true),
	}
	err := b.object(path).CallWithContext(ctx, ifaceBlock+".Format", 0, table.String(), options).Err
	if err != nil {
		return wrapError(backend.OpCreatePartitionTable, device.Path, err)
	}
	return nil
}

func (b *Backend) CreatePartition(ctx context.Context, device disk.Device, size sizespec.SizeSpec, fs disk.FilesystemType) (disk.PartitionRef, error) {
	start, err := partitionStart(size, fs)
	if err != nil {
		return disk.PartitionRef{}, wrapError(backend.OpCreatePartition, device.Path, err)
	}

	obj := b.object(dbus.ObjectPath(device.ObjectPath))

	v, err := obj.GetProperty(ifacePartitionTable + ".Type")
	if err != nil {
		return disk.PartitionRef{}, wrapError(backend.OpCreatePartition, device.Path, err)
	}
	table, _ := v.Value().(string)

	var created dbus.ObjectPath
	err = obj.CallWithContext(ctx, ifacePartitionTable+".CreatePartition", 0,
		start,
		uint64(0), // rest of the disk
		partitionType(disk.PartitionTableType(table), fs),
		"",
		map[string]dbus.Variant{},
	).Store(&created)
	if err != nil {
		return disk.PartitionRef{}, wrapError(backend.OpCreatePartition, device.Path, err)
	}

	ref := disk.PartitionRef{ObjectPath: string(created)}

	var props map[string]dbus.Variant
	err = b.object(created).CallWithContext(ctx, ifaceProperties+".GetAll", 0, ifaceBlock).Store(&props)
	if err == nil {
		ref.Path = byteString(prop[[]byte](props, "Device"))
	}
	err = b.object(created).CallWithContext(ctx, ifaceProperties+".GetAll", 0, ifacePartition).Store(&props)
	if err == nil {
		ref.Number = int(prop[uint32](props, "Number"))
	}

	return ref, nil
}

func (b *Backend) Format(ctx context.Context, target string, options backend.FormatOptions) (backend.JobHandle, error) {
	args, err := mkfsArgs(options.Filesystem, options.Size)
	if err != nil {
		return nil, &backend.Error{Op: backend.OpFormat, Target: target, Err: err}
	}

	path := dbus.ObjectPath(target)
	if err := b.unmount(ctx, path); err != nil {
		return nil, wrapError(backend.OpFormat, target, err)
	}

	j := &job{
		id:     "udisks-" + ksuid.New().String(),
		target: path,
		events: make(chan backend.Event, 16),
		done:   make(chan *dbus.Call, 1),
	}

	b.mu.Lock()
	b.jobs[j.id] = j
	b.mu.Unlock()

	// Block.Format only returns once mkfs has finished; no timeout
	b.object(path).Go(ifaceBlock+".Format", 0, j.done, options.Filesystem.String(), formatOptions(options.Label, options.Quick, args))

	go b.watch(j, options.Filesystem)

	return j, nil
}

func (b *Backend) watch(j *job, fs disk.FilesystemType) {
	defer close(j.events)

	j.events <- backend.Message(fmt.Sprintf("Formatting %s as %s", j.target, fs))

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	lastPercent := -1.0
	var lastRate uint64
	for {
		select {
		case call := <-j.done:
			b.mu.Lock()
			delete(b.jobs, j.id)
			b.mu.Unlock()

			if call.Err != nil {
				j.events <- backend.Completed(wrapError(backend.OpFormat, string(j.target), call.Err))
			} else {
				j.events <- backend.Completed(nil)
			}
			return

		case <-ticker.C:
			props, ok := b.poll(j)
			if !ok {
				continue
			}
			if prop[bool](props, "ProgressValid") {
				if p := prop[float64](props, "Progress") * 100; p != lastPercent {
					lastPercent = p
					j.events <- backend.Progress(p)
				}
			}
			if rate := prop[uint64](props, "Rate"); rate != 0 && rate != lastRate {
				lastRate = rate
				j.events <- backend.Rate(rate)
			}
		}
	}
}

// poll looks up the UDisks job of j and returns its properties.
func (b *Backend) poll(j *job) (map[string]dbus.Variant, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), b.pollInterval)
	defer cancel()

	b.mu.Lock()
	path := j.udisksJob
	b.mu.Unlock()

	if path == "" {
		objects, err := b.managedObjects(ctx)
		if err != nil {
			logrus.Debugf("Polling UDisks jobs: %v", err)
			return nil, false
		}
		path, props, ok := findJob(objects, j.target)
		if !ok {
			return nil, false
		}
		b.mu.Lock()
		j.udisksJob = path
		b.mu.Unlock()
		return props, true
	}

	var props map[string]dbus.Variant
	err := b.object(path).CallWithContext(ctx, ifaceProperties+".GetAll", 0, ifaceJob).Store(&props)
	if err != nil {
		// the job object disappears when the job ends
		return nil, false
	}
	return props, true
}

func (b *Backend) Cancel(ctx context.Context, handle backend.JobHandle) error {
	b.mu.Lock()
	j, ok := b.jobs[handle.ID()]
	b.mu.Unlock()
	if !ok {
		return &backend.Error{Op: backend.OpCancel, Target: handle.ID(), Err: backend.ErrJobNotFound}
	}

	props, ok := b.poll(j)
	if !ok {
		// nothing to cancel yet, or already gone
		return &backend.Error{Op: backend.OpCancel, Target: handle.ID(), Err: backend.ErrCancellationNotSupported}
	}
	if !prop[bool](props, "Cancelable") {
		return &backend.Error{Op: backend.OpCancel, Target: handle.ID(), Err: backend.ErrCancellationNotSupported}
	}

	b.mu.Lock()
	path := j.udisksJob
	b.mu.Unlock()

	err := b.object(path).CallWithContext(ctx, ifaceJob+".Cancel", 0, map[string]dbus.Variant{}).Err
	if err != nil {
		return wrapError(backend.OpCancel, handle.ID(), err)
	}
	return nil
}

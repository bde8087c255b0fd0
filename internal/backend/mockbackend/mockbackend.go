// Package mockbackend implements a deterministic in-memory backend. It never
// touches a real device: partition tables, partitions and filesystems are
// recorded on its own device list, and every call is appended to a call log
// that tests can inspect.
package mockbackend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/diskfmt/internal/backend"
	"github.com/osbuild/diskfmt/internal/disk"
	"github.com/osbuild/diskfmt/internal/sizespec"
)

const (
	ObjectPathPrefix = "/org/osbuild/diskfmt/mock/block_devices/"

	DefaultSteps = 4
	// partitions start at 1 MiB, like the ones parted and UDisks create
	partitionOffset = 1024 * 1024
)

type Config struct {
	// Devices seeds the device list. DefaultDevices() is used when nil.
	Devices []disk.Device
	// Steps is the number of progress events a format emits before
	// completing. Defaults to DefaultSteps.
	Steps        int
	StepInterval time.Duration
	// After replaces time.After for stepping through a format.
	After func(time.Duration) <-chan time.Time
	// RejectCancel makes Cancel fail with ErrCancellationNotSupported.
	RejectCancel bool
	// Failures makes the given operations fail with the mapped error. A
	// format failure is reported asynchronously, on the job's Completed
	// event.
	Failures map[string]error
}

// Call is one entry of the call log.
type Call struct {
	Op         string
	Target     string
	Table      disk.PartitionTableType
	Size       sizespec.SizeSpec
	Filesystem disk.FilesystemType
	Label      string
	Quick      bool
}

type Backend struct {
	cfg Config

	mu      sync.Mutex
	devices []disk.Device
	tables  map[string]disk.PartitionTableType
	calls   []Call
	jobs    map[string]*job
}

type job struct {
	id     string
	target string
	opts   backend.FormatOptions
	events chan backend.Event

	// guarded by Backend.mu
	canceled bool
	finished bool
	cancelCh chan struct{}
}

func (j *job) ID() string {
	return j.id
}

func (j *job) Events() <-chan backend.Event {
	return j.events
}

// DefaultDevices returns the devices a new mock backend starts with: a
// removable partition, a removable whole disk, a fixed internal disk and an
// optical drive.
func DefaultDevices() []disk.Device {
	return []disk.Device{
		{
			Path:        "/dev/mock0",
			ObjectPath:  ObjectPathPrefix + "mock0",
			Size:        8 * 1024 * 1024 * 1024,
			Removable:   true,
			Partition:   true,
			FSType:      "vfat",
			FSLabel:     "MOCK",
			VendorModel: "Mock USB Flash",
		},
		{
			Path:        "/dev/mock1",
			ObjectPath:  ObjectPathPrefix + "mock1",
			Size:        16 * 1024 * 1024 * 1024,
			Removable:   true,
			VendorModel: "Mock SD Card",
		},
		{
			Path:        "/dev/mock2",
			ObjectPath:  ObjectPathPrefix + "mock2",
			Size:        512 * 1000 * 1000 * 1000,
			VendorModel: "Mock NVMe SSD",
		},
		{
			Path:        "/dev/mock3",
			ObjectPath:  ObjectPathPrefix + "mock3",
			Size:        4700 * 1000 * 1000,
			Removable:   true,
			Optical:     true,
			VendorModel: "Mock DVD-RW",
		},
	}
}

func New(cfg Config) *Backend {
	if cfg.Devices == nil {
		cfg.Devices = DefaultDevices()
	}
	if cfg.Steps <= 0 {
		cfg.Steps = DefaultSteps
	}
	if cfg.After == nil {
		cfg.After = time.After
	}

	logrus.Warn("Using mock backend, no device will be modified")

	return &Backend{
		cfg:     cfg,
		devices: append([]disk.Device(nil), cfg.Devices...),
		tables:  make(map[string]disk.PartitionTableType),
		jobs:    make(map[string]*job),
	}
}

func (b *Backend) Name() string {
	return "mock"
}

// Calls returns a copy of the call log.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// Ops returns the operation names of the call log, leaving out enumerations.
func (b *Backend) Ops() []string {
	var ops []string
	for _, c := range b.Calls() {
		if c.Op != backend.OpEnumerate {
			ops = append(ops, c.Op)
		}
	}
	return ops
}

func (b *Backend) record(c Call) error {
	b.calls = append(b.calls, c)
	if err, ok := b.cfg.Failures[c.Op]; ok && c.Op != backend.OpFormat {
		return &backend.Error{Op: c.Op, Target: c.Target, Err: err}
	}
	return nil
}

func (b *Backend) Enumerate(ctx context.Context) ([]disk.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.record(Call{Op: backend.OpEnumerate}); err != nil {
		return nil, err
	}
	return append([]disk.Device(nil), b.devices...), nil
}

// must be called with b.mu held
func (b *Backend) find(objectPath string) (int, bool) {
	for i, d := range b.devices {
		if d.ObjectPath == objectPath {
			return i, true
		}
	}
	return 0, false
}

func (b *Backend) CreatePartitionTable(ctx context.Context, device disk.Device, table disk.PartitionTableType) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.record(Call{Op: backend.OpCreatePartitionTable, Target: device.Path, Table: table}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &backend.Error{Op: backend.OpCreatePartitionTable, Target: device.Path, Err: backend.ErrCanceled}
	}

	i, ok := b.find(device.ObjectPath)
	if !ok {
		return &backend.Error{Op: backend.OpCreatePartitionTable, Target: device.Path, Err: backend.ErrDeviceNotFound}
	}
	if b.devices[i].Partition {
		return &backend.Error{Op: backend.OpCreatePartitionTable, Target: device.Path, Err: fmt.Errorf("%s is a partition", device.Path)}
	}

	// a new table drops the old partitions and any filesystem on the disk
	kept := b.devices[:0]
	for _, d := range b.devices {
		if d.Partition && isPartitionOf(d.ObjectPath, device.ObjectPath) {
			continue
		}
		if d.ObjectPath == device.ObjectPath {
			d.FSType = ""
			d.FSLabel = ""
		}
		kept = append(kept, d)
	}
	b.devices = kept
	b.tables[device.ObjectPath] = table
	return nil
}

func endsInDigit(s string) bool {
	return s != "" && s[len(s)-1] >= '0' && s[len(s)-1] <= '9'
}

// partitionSuffix names partition n of base the way the kernel does:
// sdb -> sdb1, mmcblk0 -> mmcblk0p1.
func partitionSuffix(base string, n int) string {
	if endsInDigit(base) {
		return fmt.Sprintf("%sp%d", base, n)
	}
	return fmt.Sprintf("%s%d", base, n)
}

func isPartitionOf(name, base string) bool {
	prefix := base
	if endsInDigit(base) {
		prefix += "p"
	}
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok || rest == "" {
		return false
	}
	return strings.Trim(rest, "0123456789") == ""
}

func (b *Backend) CreatePartition(ctx context.Context, device disk.Device, size sizespec.SizeSpec, fs disk.FilesystemType) (disk.PartitionRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.record(Call{Op: backend.OpCreatePartition, Target: device.Path, Size: size, Filesystem: fs}); err != nil {
		return disk.PartitionRef{}, err
	}
	if err := ctx.Err(); err != nil {
		return disk.PartitionRef{}, &backend.Error{Op: backend.OpCreatePartition, Target: device.Path, Err: backend.ErrCanceled}
	}

	i, ok := b.find(device.ObjectPath)
	if !ok {
		return disk.PartitionRef{}, &backend.Error{Op: backend.OpCreatePartition, Target: device.Path, Err: backend.ErrDeviceNotFound}
	}
	if _, ok := b.tables[device.ObjectPath]; !ok {
		return disk.PartitionRef{}, &backend.Error{Op: backend.OpCreatePartition, Target: device.Path, Err: fmt.Errorf("%s has no partition table", device.Path)}
	}

	parent := b.devices[i]
	if parent.Size <= 2*partitionOffset {
		return disk.PartitionRef{}, &backend.Error{Op: backend.OpCreatePartition, Target: device.Path, Err: fmt.Errorf("no free space on %s", device.Path)}
	}

	// one partition spanning the disk; replace it if it already exists
	ref := disk.PartitionRef{
		Path:       partitionSuffix(parent.Path, 1),
		ObjectPath: partitionSuffix(parent.ObjectPath, 1),
		Number:     1,
	}
	part := disk.Device{
		Path:        ref.Path,
		ObjectPath:  ref.ObjectPath,
		Size:        parent.Size - 2*partitionOffset,
		Removable:   parent.Removable,
		Partition:   true,
		VendorModel: parent.VendorModel,
	}
	if j, exists := b.find(ref.ObjectPath); exists {
		b.devices[j] = part
	} else {
		b.devices = append(b.devices, part)
	}

	return ref, nil
}

func (b *Backend) Format(ctx context.Context, target string, options backend.FormatOptions) (backend.JobHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = append(b.calls, Call{
		Op:         backend.OpFormat,
		Target:     target,
		Size:       options.Size,
		Filesystem: options.Filesystem,
		Label:      options.Label,
		Quick:      options.Quick,
	})

	if err := ctx.Err(); err != nil {
		return nil, &backend.Error{Op: backend.OpFormat, Target: target, Err: backend.ErrCanceled}
	}
	if _, ok := b.find(target); !ok {
		return nil, &backend.Error{Op: backend.OpFormat, Target: target, Err: backend.ErrDeviceNotFound}
	}

	j := &job{
		id:       "mock-" + ksuid.New().String(),
		target:   target,
		opts:     options,
		events:   make(chan backend.Event, b.cfg.Steps+2),
		cancelCh: make(chan struct{}),
	}
	b.jobs[j.id] = j

	go b.run(j)

	return j, nil
}

func (b *Backend) run(j *job) {
	defer close(j.events)

	j.events <- backend.Message(fmt.Sprintf("Formatting %s as %s", j.target, j.opts.Filesystem))

	for i := 1; i <= b.cfg.Steps; i++ {
		select {
		case <-j.cancelCh:
		case <-b.cfg.After(b.cfg.StepInterval):
		}

		if b.canceled(j) {
			j.events <- backend.Completed(&backend.Error{Op: backend.OpFormat, Target: j.target, Err: backend.ErrCanceled})
			return
		}
		j.events <- backend.Progress(float64(100 * i / b.cfg.Steps))
	}

	j.events <- backend.Completed(b.finish(j))
}

func (b *Backend) canceled(j *job) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if j.canceled {
		j.finished = true
	}
	return j.canceled
}

// finish settles the outcome of a job that ran through all of its steps and
// applies its effect on the device list.
func (b *Backend) finish(j *job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	j.finished = true

	if j.canceled {
		return &backend.Error{Op: backend.OpFormat, Target: j.target, Err: backend.ErrCanceled}
	}
	if err, ok := b.cfg.Failures[backend.OpFormat]; ok {
		return &backend.Error{Op: backend.OpFormat, Target: j.target, Err: err}
	}

	if i, ok := b.find(j.target); ok {
		b.devices[i].FSType = j.opts.Filesystem.String()
		b.devices[i].FSLabel = j.opts.Label
	}
	return nil
}

func (b *Backend) Cancel(ctx context.Context, handle backend.JobHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = append(b.calls, Call{Op: backend.OpCancel, Target: handle.ID()})

	j, ok := b.jobs[handle.ID()]
	if !ok || j.finished {
		return &backend.Error{Op: backend.OpCancel, Target: handle.ID(), Err: backend.ErrJobNotFound}
	}
	if b.cfg.RejectCancel {
		return &backend.Error{Op: backend.OpCancel, Target: handle.ID(), Err: backend.ErrCancellationNotSupported}
	}
	if !j.canceled {
		j.canceled = true
		close(j.cancelCh)
	}
	return nil
}

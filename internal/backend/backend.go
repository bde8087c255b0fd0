// Package backend defines the interface to the service that performs the
// privileged disk operations: enumerating block devices, writing partition
// tables and partitions, and formatting.
//
// Formatting is asynchronous. Format returns a JobHandle right away; the
// backend then delivers progress on the handle's event channel, followed by
// exactly one Completed event, after which the channel is closed.
//
// Disk operations are not idempotent. Callers must never retry a failed
// mutating call.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/osbuild/diskfmt/internal/disk"
	"github.com/osbuild/diskfmt/internal/sizespec"
)

// Backend is safe for concurrent use.
type Backend interface {
	// Name identifies the implementation, e.g. "udisks" or "mock".
	Name() string

	// Enumerate returns a snapshot of the block devices the backend
	// currently knows about. No filtering is applied.
	Enumerate(ctx context.Context) ([]disk.Device, error)

	// CreatePartitionTable writes an empty partition table of the given type
	// to a whole disk, discarding any existing one.
	CreatePartitionTable(ctx context.Context, device disk.Device, table disk.PartitionTableType) error

	// CreatePartition creates a single partition spanning the free space of
	// a disk that has a partition table. The size is the allocation unit the
	// partition will later be formatted with; fs picks the partition type.
	CreatePartition(ctx context.Context, device disk.Device, size sizespec.SizeSpec, fs disk.FilesystemType) (disk.PartitionRef, error)

	// Format starts formatting the block device with the given object path.
	// It returns as soon as the operation has been started.
	Format(ctx context.Context, target string, options FormatOptions) (JobHandle, error)

	// Cancel asks the backend to stop a running format. Returns
	// ErrCancellationNotSupported if the operation can't be stopped anymore.
	// A nil error means the request was accepted; the handle then completes
	// with ErrCanceled.
	Cancel(ctx context.Context, handle JobHandle) error
}

type FormatOptions struct {
	Filesystem disk.FilesystemType
	Label      string
	// Quick skips zeroing the device before writing the filesystem.
	Quick bool
	Size  sizespec.SizeSpec
}

type JobHandle interface {
	// ID is the backend's identifier for the running operation.
	ID() string
	Events() <-chan Event
}

type EventKind int

const (
	EventProgress EventKind = iota
	EventRate
	EventMessage
	EventCompleted
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventRate:
		return "rate"
	case EventMessage:
		return "message"
	case EventCompleted:
		return "completed"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

type Event struct {
	Kind EventKind
	// Percent is in [0, 100], or negative if the backend can't tell.
	Percent float64
	// Rate is in bytes per second.
	Rate    uint64
	Message string
	// Err is set on a failed or canceled Completed event.
	Err error
}

func Progress(percent float64) Event {
	return Event{Kind: EventProgress, Percent: percent}
}

func Rate(bytesPerSec uint64) Event {
	return Event{Kind: EventRate, Rate: bytesPerSec}
}

func Message(msg string) Event {
	return Event{Kind: EventMessage, Message: msg}
}

func Completed(err error) Event {
	return Event{Kind: EventCompleted, Err: err}
}

var (
	ErrCancellationNotSupported = errors.New("cancellation not supported")
	ErrCanceled                 = errors.New("operation was canceled")
	ErrJobNotFound              = errors.New("backend job does not exist")
	ErrDeviceNotFound           = errors.New("device does not exist")
	ErrUnavailable              = errors.New("backend unavailable")
)

// Error is a failure reported by the backend for an operation on a target.
// Its message is shown to users as is.
type Error struct {
	Op     string
	Target string
	Err    error
}

func (e *Error) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Operation names used in Error and in call logs.
const (
	OpEnumerate            = "enumerate"
	OpCreatePartitionTable = "create_partition_table"
	OpCreatePartition      = "create_partition"
	OpFormat               = "format"
	OpCancel               = "cancel"
)

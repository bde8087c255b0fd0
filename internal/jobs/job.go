package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/osbuild/diskfmt/internal/disk"
	"github.com/osbuild/diskfmt/internal/sizespec"
)

type State string

const (
	StatePending           State = "pending"
	StateCreatingTable     State = "creating-table"
	StateCreatingPartition State = "creating-partition"
	StateFormatting        State = "formatting"
	StateCancelling        State = "cancelling"
	StateSucceeded         State = "succeeded"
	StateFailed            State = "failed"
	StateCancelled         State = "cancelled"
)

// Terminal states are never left.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Request is a format request as accepted by Start. Device is a device node
// path or backend object path; Table must be set if and only if Device is
// a whole disk.
type Request struct {
	Device     string                  `json:"device"`
	Filesystem disk.FilesystemType     `json:"filesystem"`
	Label      string                  `json:"label,omitempty"`
	Quick      bool                    `json:"quick"`
	Size       sizespec.SizeSpec       `json:"size"`
	Table      disk.PartitionTableType `json:"table,omitempty"`
}

// Status is a snapshot of a job.
type Status struct {
	ID      uuid.UUID `json:"id"`
	Request Request   `json:"request"`
	State   State     `json:"state"`
	// Progress of the format in percent, negative while unknown.
	Progress float64 `json:"progress"`
	// Rate in bytes per second as last reported by the backend.
	Rate    uint64 `json:"rate,omitempty"`
	Message string `json:"message,omitempty"`
	// Error is the verbatim failure reason of a failed job.
	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`

	CancelRequested bool `json:"cancel_requested"`
	CancelRejected  bool `json:"cancel_rejected"`

	// Device is the resolved device of the request; Target is the device
	// that gets the filesystem, which is the new partition for a whole
	// disk.
	Device     disk.Device `json:"device"`
	Target     string      `json:"target,omitempty"`
	BackendJob string      `json:"backend_job,omitempty"`

	History  []State   `json:"history"`
	Created  time.Time `json:"created"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

var (
	ErrNotFound        = errors.New("job not found")
	ErrTableRequired   = errors.New("a partition table kind is required to format a whole disk")
	ErrTableNotAllowed = errors.New("a partition table kind can only be given for a whole disk")
	// ErrCompletedAfterCancel fails a job whose format completed after the
	// backend had acknowledged its cancellation.
	ErrCompletedAfterCancel = errors.New("cancellation was acknowledged but the format completed")
)

// ValidationError is returned by Start for a request that is rejected
// before any backend call is made.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid format request: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// CancelError is returned by Cancel when the backend refuses to cancel a
// job. It does not change the job's state.
type CancelError struct {
	ID  uuid.UUID
	Err error
}

func (e *CancelError) Error() string {
	return fmt.Sprintf("cannot cancel job %s: %v", e.ID, e.Err)
}

func (e *CancelError) Unwrap() error {
	return e.Err
}

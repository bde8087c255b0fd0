// Package jobs runs format requests against a backend and tracks them as
// jobs.
//
// Every job moves through a fixed state machine:
//
//	pending -> creating-table -> creating-partition -> formatting -> succeeded
//	pending -> formatting -> succeeded
//
// The first path is taken for whole disks, which are never formatted in
// place. Any non-terminal state may end in failed, or go through cancelling
// to cancelled. A cancelling job ends in cancelled or failed, never in
// succeeded. Jobs are kept for the lifetime of the Orchestrator.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/diskfmt/internal/backend"
	"github.com/osbuild/diskfmt/internal/disk"
	"github.com/osbuild/diskfmt/internal/prometheus"
	"github.com/osbuild/diskfmt/internal/sizespec"
)

// Resolver maps the device reference of a request to a device.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (disk.Device, error)
}

type Orchestrator struct {
	resolver Resolver
	backend  backend.Backend

	mu    sync.RWMutex
	jobs  map[uuid.UUID]*job
	order []uuid.UUID
}

type job struct {
	done chan struct{}

	// guards everything below
	mu     sync.Mutex
	status Status
	handle backend.JobHandle
}

func New(resolver Resolver, b backend.Backend) *Orchestrator {
	return &Orchestrator{
		resolver: resolver,
		backend:  b,
		jobs:     make(map[uuid.UUID]*job),
	}
}

// Backend returns the backend jobs are run on.
func (o *Orchestrator) Backend() backend.Backend {
	return o.backend
}

func validate(req Request) error {
	if !req.Filesystem.Valid() {
		return &ValidationError{fmt.Errorf("%w: %q", disk.ErrUnknownFilesystem, req.Filesystem)}
	}
	if err := disk.ValidateLabel(req.Label, req.Filesystem); err != nil {
		return &ValidationError{err}
	}
	if err := req.Size.Validate(req.Filesystem); err != nil {
		return &ValidationError{err}
	}
	switch req.Table {
	case "", disk.PartitionTableGPT, disk.PartitionTableDOS:
	default:
		return &ValidationError{fmt.Errorf("%w: %q", sizespec.ErrInvalidTableKind, req.Table)}
	}
	return nil
}

// Start validates a request and starts a job for it. Requests that are
// invalid on their own are rejected before the backend is asked anything.
// Resolution errors of the device reference are returned as they are.
func (o *Orchestrator) Start(ctx context.Context, req Request) (uuid.UUID, error) {
	if err := validate(req); err != nil {
		return uuid.Nil, err
	}

	device, err := o.resolver.Resolve(ctx, req.Device)
	if err != nil {
		return uuid.Nil, err
	}

	if device.WholeDisk() && req.Table == "" {
		return uuid.Nil, &ValidationError{fmt.Errorf("%w: %s", ErrTableRequired, device.Path)}
	}
	if !device.WholeDisk() && req.Table != "" {
		return uuid.Nil, &ValidationError{fmt.Errorf("%w: %s is a partition", ErrTableNotAllowed, device.Path)}
	}

	now := time.Now()
	j := &job{
		done: make(chan struct{}),
		status: Status{
			ID:       uuid.New(),
			Request:  req,
			State:    StatePending,
			Progress: -1,
			Device:   device,
			History:  []State{StatePending},
			Created:  now,
		},
	}

	o.mu.Lock()
	o.jobs[j.status.ID] = j
	o.order = append(o.order, j.status.ID)
	o.mu.Unlock()

	j.logger().Infof("Job created for %s", device.Display())
	prometheus.StartJobMetrics(req.Filesystem.String())

	go o.run(j)

	return j.status.ID, nil
}

func (o *Orchestrator) job(id uuid.UUID) (*job, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	j, ok := o.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j, nil
}

func (o *Orchestrator) Status(id uuid.UUID) (Status, error) {
	j, err := o.job(id)
	if err != nil {
		return Status{}, err
	}
	return j.snapshot(), nil
}

// List returns the status of all jobs in the order they were started.
func (o *Orchestrator) List() []Status {
	o.mu.RLock()
	jobs := make([]*job, 0, len(o.order))
	for _, id := range o.order {
		jobs = append(jobs, o.jobs[id])
	}
	o.mu.RUnlock()

	statuses := make([]Status, 0, len(jobs))
	for _, j := range jobs {
		statuses = append(statuses, j.snapshot())
	}
	return statuses
}

// Wait blocks until the job is in a terminal state or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, id uuid.UUID) (Status, error) {
	j, err := o.job(id)
	if err != nil {
		return Status{}, err
	}

	select {
	case <-j.done:
		return j.snapshot(), nil
	case <-ctx.Done():
		return j.snapshot(), ctx.Err()
	}
}

// Cancel requests cancellation of a job. Cancelling a job that already
// finished, or is already being cancelled, succeeds without effect.
//
// Before formatting has started, the job stops ahead of its next backend
// call. A running format is cancelled through the backend and the job is
// only marked as cancelling once the backend accepted; a refusal is
// returned as a CancelError and the job runs to completion.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID) error {
	j, err := o.job(id)
	if err != nil {
		return err
	}

	j.mu.Lock()
	state := j.status.State
	if state.Terminal() || state == StateCancelling {
		j.mu.Unlock()
		return nil
	}
	j.status.CancelRequested = true
	handle := j.handle
	if handle == nil {
		if state != StateFormatting {
			j.setState(StateCancelling)
		}
		// else the format is being started; run forwards the request once
		// it has a handle
		j.mu.Unlock()
		return nil
	}
	j.mu.Unlock()

	return o.forwardCancel(ctx, j, handle)
}

func (o *Orchestrator) forwardCancel(ctx context.Context, j *job, handle backend.JobHandle) error {
	err := o.backend.Cancel(ctx, handle)

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.State.Terminal() {
		// the backend finished first
		return nil
	}

	switch {
	case err == nil:
		j.status.CancelRejected = false
		j.setState(StateCancelling)
		return nil
	case errors.Is(err, backend.ErrJobNotFound):
		// the backend job is over, its result is on the way
		j.logger().Debugf("Backend job %s already finished", handle.ID())
		return nil
	case errors.Is(err, backend.ErrCancellationNotSupported):
		j.status.CancelRejected = true
		j.logger().Warnf("Backend rejected cancellation: %v", err)
		prometheus.RejectedCancelMetrics()
	default:
		j.logger().Errorf("Cancelling backend job %s failed: %v", handle.ID(), err)
	}
	return &CancelError{ID: j.status.ID, Err: err}
}

func (o *Orchestrator) run(j *job) {
	defer close(j.done)

	// backend calls are never interrupted half way; cancellation is only
	// honoured between them or forwarded to a running format
	ctx := context.Background()

	j.mu.Lock()
	j.status.Started = time.Now()
	req := j.status.Request
	device := j.status.Device
	j.mu.Unlock()

	target := device.ObjectPath
	targetPath := device.Path

	if device.WholeDisk() {
		if !j.advance(StateCreatingTable) {
			o.finish(j, StateCancelled, nil)
			return
		}
		start := time.Now()
		err := o.backend.CreatePartitionTable(ctx, device, req.Table)
		prometheus.ObserveBackendCall(o.backend.Name(), backend.OpCreatePartitionTable, start, err)
		if err != nil {
			o.finishWithError(j, err)
			return
		}

		if !j.advance(StateCreatingPartition) {
			o.finish(j, StateCancelled, nil)
			return
		}
		start = time.Now()
		ref, err := o.backend.CreatePartition(ctx, device, req.Size, req.Filesystem)
		prometheus.ObserveBackendCall(o.backend.Name(), backend.OpCreatePartition, start, err)
		if err != nil {
			o.finishWithError(j, err)
			return
		}
		target = ref.ObjectPath
		targetPath = ref.Path
	}

	j.mu.Lock()
	if targetPath != "" {
		j.status.Target = targetPath
	} else {
		j.status.Target = target
	}
	j.mu.Unlock()

	if !j.advance(StateFormatting) {
		o.finish(j, StateCancelled, nil)
		return
	}

	start := time.Now()
	handle, err := o.backend.Format(ctx, target, backend.FormatOptions{
		Filesystem: req.Filesystem,
		Label:      req.Label,
		Quick:      req.Quick,
		Size:       req.Size,
	})
	prometheus.ObserveBackendCall(o.backend.Name(), backend.OpFormat, start, err)
	if err != nil {
		o.finishWithError(j, err)
		return
	}

	j.mu.Lock()
	j.handle = handle
	j.status.BackendJob = handle.ID()
	forward := j.status.CancelRequested
	j.mu.Unlock()

	if forward {
		go func() {
			// the error is recorded on the job
			_ = o.forwardCancel(ctx, j, handle)
		}()
	}

	var result error
	completed := false
	for ev := range handle.Events() {
		switch ev.Kind {
		case backend.EventProgress:
			j.update(func(s *Status) { s.Progress = ev.Percent })
		case backend.EventRate:
			j.update(func(s *Status) { s.Rate = ev.Rate })
		case backend.EventMessage:
			j.update(func(s *Status) { s.Message = ev.Message })
			j.logger().Debug(ev.Message)
		case backend.EventCompleted:
			if completed {
				j.logger().Warn("Ignoring duplicate completion from backend")
				continue
			}
			completed = true
			result = ev.Err
		}
	}

	if !completed {
		o.finish(j, StateFailed, &backend.Error{
			Op:     backend.OpFormat,
			Target: target,
			Err:    errors.New("backend ended the job without a result"),
		})
		return
	}
	if result != nil {
		o.finishWithError(j, result)
		return
	}
	o.finish(j, StateSucceeded, nil)
}

func (o *Orchestrator) finishWithError(j *job, err error) {
	if errors.Is(err, backend.ErrCanceled) {
		o.finish(j, StateCancelled, nil)
		return
	}
	o.finish(j, StateFailed, err)
}

func (o *Orchestrator) finish(j *job, state State, err error) {
	j.mu.Lock()
	if j.status.State.Terminal() {
		j.mu.Unlock()
		return
	}
	if state == StateSucceeded && j.status.State == StateCancelling {
		state, err = StateFailed, ErrCompletedAfterCancel
	}
	j.status.Finished = time.Now()
	if err != nil {
		j.status.Err = err
		j.status.Error = err.Error()
	}
	if state == StateSucceeded {
		j.status.Progress = 100
	}
	if state == StateCancelled && j.status.State != StateCancelling {
		// the backend's result can overtake the acknowledgement of Cancel
		j.setState(StateCancelling)
	}
	j.setState(state)
	started, finished := j.status.Started, j.status.Finished
	fs := j.status.Request.Filesystem.String()
	j.mu.Unlock()

	if err != nil {
		j.logger().Errorf("Job failed: %v", err)
	}
	prometheus.FinishJobMetrics(started, finished, string(state), fs)
}

// must be called with j.mu held
func (j *job) setState(s State) {
	j.status.State = s
	j.status.History = append(j.status.History, s)
	j.logger().WithField("state", s).Info("Job state changed")
}

// advance moves the job to s, unless cancellation was requested.
func (j *job) advance(s State) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.CancelRequested {
		return false
	}
	j.setState(s)
	return true
}

func (j *job) update(f func(*Status)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	f(&j.status)
}

func (j *job) snapshot() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := j.status
	s.History = append([]State(nil), j.status.History...)
	return s
}

// reads only fields that never change after Start
func (j *job) logger() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"job_id": j.status.ID,
		"device": j.status.Device.Path,
	})
}

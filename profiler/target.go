// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package profiler samples raw call stacks of the threads of a live process.
//
// A Target is attached to one process, snapshots its thread list on request
// and captures stacks thread by thread. Each capture suspends only the thread
// being walked and resumes it before returning. The package runs no
// background activity: repeated sampling is driven by the caller.
//
// A Target must not be used from multiple goroutines at the same time, with
// the exception of Stats.
package profiler // import "go.opentelemetry.io/ptrace-profiler/profiler"

import (
	"errors"
	"fmt"
	"runtime"
	"slices"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/ptrace-profiler/addrcheck"
	"go.opentelemetry.io/ptrace-profiler/libpf"
	"go.opentelemetry.io/ptrace-profiler/process"
	"go.opentelemetry.io/ptrace-profiler/remotememory"
	"go.opentelemetry.io/ptrace-profiler/successfailurecounter"
	"go.opentelemetry.io/ptrace-profiler/times"
	"go.opentelemetry.io/ptrace-profiler/unwinder"
	"go.opentelemetry.io/ptrace-profiler/unwinder/unwindtable"
)

// State is the attachment state of a Target.
type State uint8

const (
	StateDetached State = iota
	StateAttached
)

func (s State) String() string {
	switch s {
	case StateDetached:
		return "detached"
	case StateAttached:
		return "attached"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Opener acquires the handle for a process.
type Opener func(pid libpf.PID) (process.Process, error)

// Option customizes a Target.
type Option func(*Target)

// WithOpener replaces the function used to open the target process.
func WithOpener(open Opener) Option {
	return func(t *Target) {
		t.open = open
	}
}

// Target is a process being profiled.
type Target struct {
	open Opener

	state   State
	pid     libpf.PID
	session uuid.UUID
	config  Config
	proc    process.Process
	threads []libpf.TID

	// mappings holds the mapping table. validator is the same object when
	// addresses are cross-checked, and nil for static checks only.
	mappings  *addrcheck.Validator
	validator *addrcheck.Validator
	tables    *unwindtable.Store
	walk      unwinder.Options
	// remapped is set once the mapping table was reloaded because a walk
	// hit an address outside of it. RefreshThreads clears it.
	remapped bool

	cleanup runtime.Cleanup
	stats   sessionStats
}

// NewTarget returns a detached Target.
func NewTarget(opts ...Option) *Target {
	t := &Target{open: process.Open}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the attachment state.
func (t *Target) State() State {
	return t.state
}

// PID returns the attached process id, or 0 when detached.
func (t *Target) PID() libpf.PID {
	return t.pid
}

// SessionID identifies the current attachment in logs.
func (t *Target) SessionID() uuid.UUID {
	return t.session
}

// Config returns the settings of the current session.
func (t *Target) Config() Config {
	return t.config
}

func closeProcess(proc process.Process) {
	if err := proc.Close(); err != nil {
		log.Warnf("Failed to release PID %v: %v", proc.PID(), err)
	}
}

// Attach acquires control over pid. A nil cfg selects DefaultConfig. On
// failure the Target stays detached and nothing is leaked.
func (t *Target) Attach(pid libpf.PID, cfg *Config) (err error) {
	if t.state == StateAttached {
		return ErrAlreadyAttached
	}
	config := DefaultConfig()
	if cfg != nil {
		config = *cfg
	}
	if err = config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	proc, err := t.open(pid)
	if err != nil {
		return &AttachError{PID: pid, Err: classifyErrno(err)}
	}
	defer func() {
		if err != nil {
			closeProcess(proc)
		}
	}()

	mappings, err := addrcheck.New(nil)
	if err != nil {
		return &AttachError{PID: pid, Err: err}
	}
	var tables *unwindtable.Store
	if config.Strategy != unwinder.FramePointer {
		if tables, err = unwindtable.New(proc, mappings); err != nil {
			return &AttachError{PID: pid, Err: err}
		}
	}

	if config.TrackAsync {
		log.Warnf("PID %v: asynchronous execution contexts are not tracked on this platform",
			pid)
	}

	t.pid = pid
	t.proc = proc
	t.config = config
	t.session = uuid.New()
	t.mappings = mappings
	t.validator = nil
	if config.ValidateAddresses {
		t.validator = mappings
	}
	t.tables = tables
	t.walk = unwinder.Options{
		MaxDepth:  config.maxDepth(),
		Strategy:  config.Strategy,
		Validator: t.validator,
	}
	if tables != nil {
		t.walk.Tables = tables
	}
	t.threads = nil
	t.stats.reset()
	t.refreshMappings()
	t.remapped = false
	t.cleanup = runtime.AddCleanup(t, closeProcess, proc)
	t.state = StateAttached

	log.Debugf("Attached to PID %v (session %v, strategy %v, depth %d)",
		pid, t.session, config.Strategy, t.walk.MaxDepth)
	return nil
}

// Detach releases the target. It is a no-op when not attached.
func (t *Target) Detach() {
	if t.state != StateAttached {
		return
	}
	t.cleanup.Stop()
	closeProcess(t.proc)
	log.Debugf("Detached from PID %v (session %v)", t.pid, t.session)

	t.state = StateDetached
	t.proc = nil
	t.threads = nil
	t.mappings = nil
	t.validator = nil
	t.tables = nil
	t.walk = unwinder.Options{}
	t.pid = 0
}

// refreshMappings reloads the mapping table if the session uses it. Failures
// degrade address validation to static checks.
func (t *Target) refreshMappings() {
	if !t.config.needsMappings() {
		return
	}
	mappings, err := t.proc.Mappings()
	if err != nil {
		log.Warnf("PID %v: failed to read mappings, using static address checks: %v",
			t.pid, err)
		return
	}
	t.mappings.Update(mappings)
}

// Mappings returns the mapping table loaded at attach or at the last refresh.
// It is empty when the session does not use mappings. The returned slice must
// not be modified.
func (t *Target) Mappings() []process.Mapping {
	return t.mappings.Mappings()
}

// RefreshThreads replaces the thread snapshot with the target's live threads.
func (t *Target) RefreshThreads() error {
	if t.state != StateAttached {
		return ErrNotAttached
	}
	threads, err := t.proc.Threads()
	if err != nil {
		return &ThreadEnumerationError{PID: t.pid, Err: classifyErrno(err)}
	}
	if !t.config.TrackThreads {
		threads = slices.DeleteFunc(threads, func(tid libpf.TID) bool {
			return !tid.IsMainThread(t.pid)
		})
	}
	t.refreshMappings()
	t.remapped = false
	t.threads = threads
	return nil
}

// ThreadCount returns the size of the thread snapshot.
func (t *Target) ThreadCount() int {
	return len(t.threads)
}

func (t *Target) thread(i int) (libpf.TID, error) {
	if t.state != StateAttached {
		return 0, ErrNotAttached
	}
	if i < 0 || i >= len(t.threads) {
		return 0, &InvalidThreadIndexError{Index: i, Max: len(t.threads) - 1}
	}
	return t.threads[i], nil
}

// ThreadID returns the identifier of snapshot thread i.
func (t *Target) ThreadID(i int) (libpf.TID, error) {
	return t.thread(i)
}

// ThreadInfo describes snapshot thread i.
func (t *Target) ThreadInfo(i int) (process.ThreadInfo, error) {
	tid, err := t.thread(i)
	if err != nil {
		return process.ThreadInfo{}, err
	}
	info, err := t.proc.ThreadInfo(tid)
	if err != nil {
		return process.ThreadInfo{}, classifyErrno(err)
	}
	return info, nil
}

// CaptureStack captures the stack of snapshot thread i.
func (t *Target) CaptureStack(i int) (StackTrace, error) {
	tid, err := t.thread(i)
	if err != nil {
		return StackTrace{}, err
	}
	return t.capture(tid)
}

// CaptureAllStacks captures every snapshot thread in order. Threads that fail
// are skipped, so the result may be shorter than the snapshot.
func (t *Target) CaptureAllStacks() ([]StackTrace, error) {
	if t.state != StateAttached {
		return nil, ErrNotAttached
	}
	traces := make([]StackTrace, 0, len(t.threads))
	for _, tid := range t.threads {
		trace, err := t.capture(tid)
		if err != nil {
			log.Debugf("PID %v: %v", t.pid, err)
			continue
		}
		traces = append(traces, trace)
	}
	return traces, nil
}

// capture suspends tid, walks its stack and accounts the attempt exactly once.
func (t *Target) capture(tid libpf.TID) (StackTrace, error) {
	sfc := successfailurecounter.New(&t.stats.samples)
	defer sfc.DefaultToFailure()

	trace := StackTrace{
		Thread:    tid,
		ThreadID:  uint64(tid),
		Timestamp: times.Now(),
	}

	var res unwinder.Result
	err := t.proc.SuspendThread(tid, func(regs process.Registers, mem remotememory.RemoteMemory) error {
		var walkErr error
		res, walkErr = unwinder.Walk(mem, regs, t.walk)
		if walkErr == nil && t.remap(res.Reason) {
			res, walkErr = unwinder.Walk(mem, regs, t.walk)
		}
		return walkErr
	})
	if err == nil && len(res.Frames) == 0 {
		err = fmt.Errorf("%w (%v)", ErrNoFrames, res.Reason)
		if res.Err != nil {
			err = fmt.Errorf("%w (%v): %w", ErrNoFrames, res.Reason, res.Err)
		}
	}
	if err != nil {
		sfc.ReportFailure()
		return StackTrace{}, &StackCaptureError{TID: tid, Err: classifyErrno(err)}
	}

	trace.setFrames(res.Frames)
	trace.Truncated = res.Truncated()
	sfc.ReportSuccess()
	t.stats.record(&trace)

	if log.IsLevelEnabled(log.TraceLevel) {
		log.Tracef("TID %v: %d frames via %v, stopped: %v",
			tid, trace.FrameCount(), res.Strategy, res.Reason)
	}
	return trace, nil
}

// remap reloads the mapping table when a validated walk stopped at an address
// the table does not know. New thread stacks and dlopen'ed code are mapped
// after the last refresh. It reloads at most once per thread snapshot.
func (t *Target) remap(reason unwinder.Reason) bool {
	if t.validator == nil || t.remapped || reason != unwinder.ReasonBadPointer {
		return false
	}
	t.remapped = true
	log.Debugf("PID %v: reloading mappings after an unknown address", t.pid)
	t.refreshMappings()
	return true
}

// Stats returns the counters of the current session. Counters are kept after
// Detach until the next Attach.
func (t *Target) Stats() Stats {
	return t.stats.snapshot()
}

// IsPermissionDenied reports whether err was caused by missing privileges.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

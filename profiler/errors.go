// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package profiler // import "go.opentelemetry.io/ptrace-profiler/profiler"

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"go.opentelemetry.io/ptrace-profiler/libpf"
)

var (
	// ErrPermissionDenied means the caller may not control the target.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNoSuchProcess means the target process or thread does not exist.
	ErrNoSuchProcess = errors.New("no such process")
	// ErrAlreadyAttached is returned by Attach on an attached Target.
	ErrAlreadyAttached = errors.New("already attached")
	// ErrNotAttached is returned by operations that need an attached Target.
	ErrNotAttached = errors.New("not attached")
	// ErrNoFrames means a stack walk recovered no frame at all.
	ErrNoFrames = errors.New("no stack frames recovered")
)

// classifyErrno wraps err with the sentinel matching its errno, if any.
func classifyErrno(err error) error {
	switch {
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return &classifiedError{sentinel: ErrPermissionDenied, err: err}
	case errors.Is(err, unix.ESRCH):
		return &classifiedError{sentinel: ErrNoSuchProcess, err: err}
	}
	return err
}

// classifiedError matches both its sentinel and the underlying error but
// only prints the latter, which already names the errno.
type classifiedError struct {
	sentinel error
	err      error
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() []error {
	return []error{e.sentinel, e.err}
}

// AttachError reports a failed Attach.
type AttachError struct {
	PID libpf.PID
	Err error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("failed to attach to PID %v: %v", e.PID, e.Err)
}

func (e *AttachError) Unwrap() error {
	return e.Err
}

// Hint returns advice for the user on how to resolve the failure, or an empty
// string.
func (e *AttachError) Hint() string {
	switch {
	case errors.Is(e.Err, ErrPermissionDenied):
		return "Try running with sudo. Controlling another process requires " +
			"CAP_SYS_PTRACE or a permissive kernel.yama.ptrace_scope setting."
	case errors.Is(e.Err, ErrNoSuchProcess):
		return fmt.Sprintf("Check that PID %v is still running.", e.PID)
	}
	return ""
}

// InvalidThreadIndexError reports an index outside of the thread snapshot.
// Max is -1 for an empty snapshot.
type InvalidThreadIndexError struct {
	Index int
	Max   int
}

func (e *InvalidThreadIndexError) Error() string {
	if e.Max < 0 {
		return fmt.Sprintf("invalid thread index %d: no threads known", e.Index)
	}
	return fmt.Sprintf("invalid thread index %d: valid range is 0-%d", e.Index, e.Max)
}

// ThreadEnumerationError reports a failure to list the target's threads.
type ThreadEnumerationError struct {
	PID libpf.PID
	Err error
}

func (e *ThreadEnumerationError) Error() string {
	return fmt.Sprintf("failed to enumerate threads of PID %v: %v", e.PID, e.Err)
}

func (e *ThreadEnumerationError) Unwrap() error {
	return e.Err
}

// StackCaptureError reports a failed capture of one thread's stack.
type StackCaptureError struct {
	TID libpf.TID
	Err error
}

func (e *StackCaptureError) Error() string {
	return fmt.Sprintf("failed to capture stack of thread %v: %v", e.TID, e.Err)
}

func (e *StackCaptureError) Unwrap() error {
	return e.Err
}

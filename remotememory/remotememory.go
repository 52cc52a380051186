// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// remotememory provides access to memory space of a process. The ReaderAt
// interface is used for the basic access, and bounded convenience functions are
// provided on top of it. Every read into the target may fail; failures are
// reported as *ReadError and never fault the calling process.
package remotememory // import "go.opentelemetry.io/ptrace-profiler/remotememory"

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	"go.opentelemetry.io/ptrace-profiler/libpf"
	"go.opentelemetry.io/ptrace-profiler/nopanicslicereader"
)

// MaxReadSize is the upper bound for a single read into the target.
const MaxReadSize = 4096

// PtrSize is the size of a native pointer in the target.
const PtrSize = 8

// ErrShortRead is wrapped by ReadAt implementations that transferred fewer
// bytes than requested.
var ErrShortRead = errors.New("short read")

// FailureKind classifies why a remote read failed.
type FailureKind uint8

const (
	KindUnknown FailureKind = iota
	// KindUnmapped means the address range is not mapped in the target.
	KindUnmapped
	// KindProtected means the caller lacks the rights to read the target.
	KindProtected
	// KindShort means only part of the range could be transferred.
	KindShort
	// KindNoProcess means the target process or thread is gone.
	KindNoProcess
	// KindTooLarge means the request exceeded MaxReadSize.
	KindTooLarge
	// KindUnsupported means the read primitive is not available on this host.
	KindUnsupported
)

var kindNames = map[FailureKind]string{
	KindUnknown:     "unknown",
	KindUnmapped:    "unmapped",
	KindProtected:   "protected",
	KindShort:       "short",
	KindNoProcess:   "no-process",
	KindTooLarge:    "too-large",
	KindUnsupported: "unsupported",
}

func (k FailureKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ReadError describes a failed read of Len bytes at Addr.
type ReadError struct {
	Addr libpf.Address
	Len  int
	Kind FailureKind
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("remote read of %d bytes at %v failed (%v): %v",
		e.Len, e.Addr, e.Kind, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// classify maps the error of a ReaderAt to a FailureKind.
func classify(err error) FailureKind {
	switch {
	case errors.Is(err, ErrShortRead), errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return KindShort
	case errors.Is(err, unix.EFAULT), errors.Is(err, unix.EIO):
		return KindUnmapped
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return KindProtected
	case errors.Is(err, unix.ESRCH):
		return KindNoProcess
	case errors.Is(err, unix.ENOSYS), errors.Is(err, errors.ErrUnsupported):
		return KindUnsupported
	}
	return KindUnknown
}

// IsKind reports whether err is a *ReadError of the given kind.
func IsKind(err error, kind FailureKind) bool {
	var re *ReadError
	return errors.As(err, &re) && re.Kind == kind
}

// RemoteMemory implements a set of convenience functions to access the remote memory
type RemoteMemory struct {
	io.ReaderAt
}

// Valid determines if this RemoteMemory instance contains a valid reference to target process
func (rm RemoteMemory) Valid() bool {
	return rm.ReaderAt != nil
}

// Read fills slice p[] with data from remote memory at address addr.
// Requests larger than MaxReadSize are rejected without touching the target.
func (rm RemoteMemory) Read(addr libpf.Address, p []byte) error {
	if len(p) > MaxReadSize {
		return &ReadError{Addr: addr, Len: len(p), Kind: KindTooLarge,
			Err: fmt.Errorf("limit is %d bytes", MaxReadSize)}
	}
	if rm.ReaderAt == nil {
		return &ReadError{Addr: addr, Len: len(p), Kind: KindUnsupported,
			Err: errors.New("no reader")}
	}
	n, err := rm.ReadAt(p, int64(addr))
	if err == nil && n != len(p) {
		err = fmt.Errorf("got %d of %d bytes: %w", n, len(p), ErrShortRead)
	}
	if err != nil {
		return &ReadError{Addr: addr, Len: len(p), Kind: classify(err), Err: err}
	}
	return nil
}

// ReadBounded reads n bytes at addr into a new slice.
func (rm RemoteMemory) ReadBounded(addr libpf.Address, n int) ([]byte, error) {
	if n > MaxReadSize {
		return nil, &ReadError{Addr: addr, Len: n, Kind: KindTooLarge,
			Err: fmt.Errorf("limit is %d bytes", MaxReadSize)}
	}
	buf := make([]byte, n)
	if err := rm.Read(addr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Ptr reads a native pointer from remote memory.
func (rm RemoteMemory) Ptr(addr libpf.Address) (libpf.Address, error) {
	var buf [PtrSize]byte
	if err := rm.Read(addr, buf[:]); err != nil {
		return 0, err
	}
	return nopanicslicereader.Ptr(buf[:], 0), nil
}

// FrameRecord reads the two pointer words a frame pointer refers to: the
// caller's saved frame pointer followed by the return address.
func (rm RemoteMemory) FrameRecord(fp libpf.Address) (savedFP, retAddr libpf.Address, err error) {
	var buf [2 * PtrSize]byte
	if err = rm.Read(fp, buf[:]); err != nil {
		return 0, 0, err
	}
	return nopanicslicereader.FrameRecord(buf[:], 0)
}

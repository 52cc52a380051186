//go:build linux

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package remotememory // import "go.opentelemetry.io/ptrace-profiler/remotememory"

import (
	"fmt"

	"golang.org/x/sys/unix"

	"go.opentelemetry.io/ptrace-profiler/libpf"
)

// ProcessVirtualMemory implements RemoteMemory by using process_vm_readv syscalls
// to read the remote memory. Reading unmapped memory yields EFAULT instead of a
// fault in the calling process.
type ProcessVirtualMemory struct {
	pid libpf.PID
}

func (vm ProcessVirtualMemory) ReadAt(p []byte, off int64) (int, error) {
	numBytesWanted := len(p)
	if numBytesWanted == 0 {
		return 0, nil
	}
	localIov := []unix.Iovec{{Base: &p[0], Len: uint64(numBytesWanted)}}
	remoteIov := []unix.RemoteIovec{{Base: uintptr(off), Len: numBytesWanted}}
	numBytesRead, err := unix.ProcessVMReadv(int(vm.pid), localIov, remoteIov, 0)
	if err != nil {
		err = fmt.Errorf("failed to read PID %v at 0x%x: %w", vm.pid, off, err)
	} else if numBytesRead != numBytesWanted {
		err = fmt.Errorf("failed to read PID %v at 0x%x: got only %d of %d: %w",
			vm.pid, off, numBytesRead, numBytesWanted, ErrShortRead)
	}
	return numBytesRead, err
}

// PtraceMemory implements RemoteMemory with PTRACE_PEEKDATA. It is only usable
// while the calling OS thread is the tracer of tid and tid is in a ptrace-stop.
type PtraceMemory struct {
	tid libpf.TID
}

func (pm PtraceMemory) ReadAt(p []byte, off int64) (int, error) {
	n, err := unix.PtracePeekData(int(pm.tid), uintptr(off), p)
	if err != nil {
		return n, fmt.Errorf("failed to peek TID %v at 0x%x: %w", pm.tid, off, err)
	}
	if n != len(p) {
		return n, fmt.Errorf("failed to peek TID %v at 0x%x: got only %d of %d: %w",
			pm.tid, off, n, len(p), ErrShortRead)
	}
	return n, nil
}

// NewProcessVirtualMemory returns ProcessVirtualMemory implementation of RemoteMemory.
func NewProcessVirtualMemory(pid libpf.PID) RemoteMemory {
	return RemoteMemory{ReaderAt: ProcessVirtualMemory{pid}}
}

// NewPtraceMemory returns PtraceMemory implementation of RemoteMemory.
func NewPtraceMemory(tid libpf.TID) RemoteMemory {
	return RemoteMemory{ReaderAt: PtraceMemory{tid}}
}

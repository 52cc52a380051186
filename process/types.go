// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// This file defines the interface to access a Process state.

package process // import "go.opentelemetry.io/ptrace-profiler/process"

import (
	"debug/elf"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/ptrace-profiler/libpf"
	"go.opentelemetry.io/ptrace-profiler/remotememory"
)

// VdsoPathName is the path the kernel reports for the VDSO mapping
const VdsoPathName = "[vdso]"

// Mapping contains information about a memory mapping
type Mapping struct {
	// Vaddr is the virtual memory start for this mapping
	Vaddr uint64
	// Length is the length of the mapping
	Length uint64
	// Flags contains the mapping flags and permissions
	Flags elf.ProgFlag
	// FileOffset contains for file backed mappings the offset from the file start
	FileOffset uint64
	// Device holds the device ID where the file is located
	Device uint64
	// Inode holds the mapped file's inode number
	Inode uint64
	// Path contains the file name for file backed mappings, or the kernel
	// provided pseudo name such as [stack] or [heap]
	Path string
}

// End returns the first address after the mapping.
func (m *Mapping) End() uint64 {
	return m.Vaddr + m.Length
}

// Contains reports whether addr falls inside the mapping.
func (m *Mapping) Contains(addr libpf.Address) bool {
	return uint64(addr) >= m.Vaddr && uint64(addr) < m.End()
}

func (m *Mapping) IsReadable() bool {
	return m.Flags&elf.PF_R == elf.PF_R
}

func (m *Mapping) IsExecutable() bool {
	return m.Flags&elf.PF_X == elf.PF_X
}

func (m *Mapping) IsAnonymous() bool {
	return m.Path == "" || m.IsMemFD() || m.IsPseudo()
}

func (m *Mapping) IsMemFD() bool {
	return strings.HasPrefix(m.Path, "/memfd:")
}

// IsPseudo reports whether the mapping has a kernel pseudo name like [stack].
func (m *Mapping) IsPseudo() bool {
	return strings.HasPrefix(m.Path, "[")
}

func (m *Mapping) IsVDSO() bool {
	return m.Path == VdsoPathName
}

// Registers holds the subset of a thread's CPU state needed for unwinding.
type Registers struct {
	// PC is the program counter (rip on amd64, pc on arm64)
	PC libpf.Address
	// SP is the stack pointer
	SP libpf.Address
	// FP is the frame pointer (rbp on amd64, x29 on arm64)
	FP libpf.Address
	// LR is the link register (x30 on arm64). Zero on amd64.
	LR libpf.Address
}

// ThreadState is the scheduler state letter reported in /proc/<pid>/task/<tid>/stat.
type ThreadState byte

const (
	ThreadRunning     ThreadState = 'R'
	ThreadSleeping    ThreadState = 'S'
	ThreadDiskSleep   ThreadState = 'D'
	ThreadStopped     ThreadState = 'T'
	ThreadTracingStop ThreadState = 't'
	ThreadZombie      ThreadState = 'Z'
	ThreadDead        ThreadState = 'X'
	ThreadIdle        ThreadState = 'I'
)

func (s ThreadState) String() string {
	switch s {
	case ThreadRunning:
		return "RUNNING"
	case ThreadSleeping:
		return "WAITING"
	case ThreadDiskSleep:
		return "UNINTERRUPTIBLE"
	case ThreadStopped, ThreadTracingStop:
		return "STOPPED"
	case ThreadZombie, ThreadDead:
		return "HALTED"
	case ThreadIdle:
		return "IDLE"
	}
	return "UNKNOWN"
}

// ThreadInfo contains descriptive information about one thread.
type ThreadInfo struct {
	TID        libpf.TID
	Name       string
	State      ThreadState
	UserTime   time.Duration
	SystemTime time.Duration
}

// ReadAtCloser interfaces implements io.ReaderAt and io.Closer
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// SuspendedFunc is called while a thread is suspended. The RemoteMemory is
// valid only for the duration of the call.
type SuspendedFunc func(regs Registers, mem remotememory.RemoteMemory) error

// Process is the interface to inspect and control a live process.
// The implementations do not allow concurrent access to this interface
// from different goroutines, with the exception of Close.
type Process interface {
	// PID returns the process identifier
	PID() libpf.PID

	// Threads lists the TIDs of the live threads, sorted ascending
	Threads() ([]libpf.TID, error)

	// ThreadInfo reads descriptive information about one thread
	ThreadInfo(tid libpf.TID) (ThreadInfo, error)

	// Mappings reads and parses process memory mappings
	Mappings() ([]Mapping, error)

	// RemoteMemory returns a remote memory reader accessing the target process
	RemoteMemory() remotememory.RemoteMemory

	// SuspendThread stops one thread, reads its registers and calls fn. The
	// thread is resumed on every return path, including a panic in fn.
	SuspendThread(tid libpf.TID, fn SuspendedFunc) error

	// OpenMappingFile returns ReadAtCloser accessing the backing file of the mapping
	OpenMappingFile(*Mapping) (ReadAtCloser, error)

	io.Closer
}

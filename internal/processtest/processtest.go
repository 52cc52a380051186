// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package processtest provides an in-memory process.Process for tests of
// the sampling layers.
package processtest // import "go.opentelemetry.io/ptrace-profiler/internal/processtest"

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"slices"
	"time"

	"golang.org/x/sys/unix"

	"go.opentelemetry.io/ptrace-profiler/libpf"
	"go.opentelemetry.io/ptrace-profiler/process"
	"go.opentelemetry.io/ptrace-profiler/remotememory"
)

const (
	// PID is the process id fake processes report by default.
	PID libpf.PID = 4242
	// StackBase is the address of the first frame record of the main thread.
	StackBase libpf.Address = 0x7ffe00000000
	// CodeBase is the first return address handed out by ReturnAddresses.
	CodeBase libpf.Address = 0x402000
)

// Memory is a word addressed target memory. Reads of words not present fail
// with EFAULT.
type Memory map[libpf.Address]libpf.Address

func (m Memory) ReadAt(p []byte, off int64) (int, error) {
	for i := 0; i+8 <= len(p); i += 8 {
		v, ok := m[libpf.Address(off)+libpf.Address(i)]
		if !ok {
			return 0, unix.EFAULT
		}
		binary.LittleEndian.PutUint64(p[i:], uint64(v))
	}
	return len(p), nil
}

// AddChain lays out one frame record per return address starting at base and
// returns the registers of a thread whose innermost frame is at pc.
func (m Memory) AddChain(base, pc libpf.Address, rets []libpf.Address) process.Registers {
	for i, ret := range rets {
		fp := base + libpf.Address(i)*0x40
		next := fp + 0x40
		if i == len(rets)-1 {
			next = 0
		}
		m[fp] = next
		m[fp+8] = ret
	}
	return process.Registers{PC: pc, SP: base - 0x20, FP: base}
}

// ReturnAddresses returns n distinct return addresses inside the code mapping.
func ReturnAddresses(n int) []libpf.Address {
	rets := make([]libpf.Address, n)
	for i := range rets {
		rets[i] = CodeBase + libpf.Address(i)*0x10
	}
	return rets
}

// Process is a fake process whose threads are register sets over a shared
// Memory. It is not safe for concurrent use.
type Process struct {
	Pid        libpf.PID
	Mem        Memory
	ThreadsErr error

	// Maps replaces the default mapping table when not nil.
	Maps []process.Mapping

	Closed        int
	Suspended     int
	Resumed       int
	MappingsCalls int

	tids []libpf.TID
	regs map[libpf.TID]process.Registers
}

var _ process.Process = &Process{}

// New returns a process without threads.
func New() *Process {
	return &Process{
		Pid:  PID,
		Mem:  Memory{},
		regs: map[libpf.TID]process.Registers{},
	}
}

// ThreeThreads builds the main thread with 5 frames, a second thread with 3
// frames sharing two return addresses with the first, and a third thread with
// 2 frames.
func ThreeThreads() *Process {
	proc := New()
	proc.AddThread(libpf.TID(PID), proc.Mem.AddChain(StackBase, 0x401000, ReturnAddresses(4)))
	proc.AddThread(libpf.TID(PID)+1,
		proc.Mem.AddChain(StackBase+0x10000, 0x401100, ReturnAddresses(2)))
	proc.AddThread(libpf.TID(PID)+2,
		proc.Mem.AddChain(StackBase+0x20000, 0x401200, ReturnAddresses(1)))
	return proc
}

func (f *Process) AddThread(tid libpf.TID, regs process.Registers) {
	f.tids = append(f.tids, tid)
	f.regs[tid] = regs
}

// Exit removes a thread from the process. Targets that refreshed before keep
// it in their snapshot.
func (f *Process) Exit(tid libpf.TID) {
	delete(f.regs, tid)
	f.tids = slices.DeleteFunc(f.tids, func(t libpf.TID) bool { return t == tid })
}

func (f *Process) PID() libpf.PID {
	return f.Pid
}

func (f *Process) Threads() ([]libpf.TID, error) {
	if f.ThreadsErr != nil {
		return nil, f.ThreadsErr
	}
	return slices.Clone(f.tids), nil
}

func (f *Process) ThreadInfo(tid libpf.TID) (process.ThreadInfo, error) {
	if _, ok := f.regs[tid]; !ok {
		return process.ThreadInfo{}, unix.ESRCH
	}
	return process.ThreadInfo{TID: tid, Name: "worker", State: process.ThreadRunning,
		UserTime: time.Second}, nil
}

// DefaultMappings returns the code mapping of /bin/app and the stack mapping
// around StackBase.
func DefaultMappings() []process.Mapping {
	return []process.Mapping{
		{Vaddr: 0x400000, Length: 0x100000, Flags: elf.PF_R | elf.PF_X, Path: "/bin/app"},
		{Vaddr: uint64(StackBase) - 0x100000, Length: 0x200000, Flags: elf.PF_R | elf.PF_W,
			Path: "[stack]"},
	}
}

func (f *Process) Mappings() ([]process.Mapping, error) {
	f.MappingsCalls++
	if f.Maps != nil {
		return f.Maps, nil
	}
	return DefaultMappings(), nil
}

func (f *Process) RemoteMemory() remotememory.RemoteMemory {
	return remotememory.RemoteMemory{ReaderAt: f.Mem}
}

func (f *Process) SuspendThread(tid libpf.TID, fn process.SuspendedFunc) error {
	regs, ok := f.regs[tid]
	if !ok {
		return unix.ESRCH
	}
	f.Suspended++
	defer func() { f.Resumed++ }()
	return fn(regs, remotememory.RemoteMemory{ReaderAt: f.Mem})
}

func (f *Process) OpenMappingFile(*process.Mapping) (process.ReadAtCloser, error) {
	return nil, errors.New("no backing files")
}

func (f *Process) Close() error {
	f.Closed++
	return nil
}

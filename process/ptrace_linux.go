//go:build linux

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "go.opentelemetry.io/ptrace-profiler/process"

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"go.opentelemetry.io/ptrace-profiler/libpf"
	"go.opentelemetry.io/ptrace-profiler/remotememory"
)

func ptrace(request int, tid libpf.TID, addr, data uintptr) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, uintptr(request), uintptr(tid),
		addr, data, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func ptraceGetRegset(tid libpf.TID, regset int, data []byte) error {
	iovec := unix.Iovec{
		Base: &data[0],
		Len:  uint64(len(data)),
	}
	if err := ptrace(unix.PTRACE_GETREGSET, tid, uintptr(regset),
		uintptr(unsafe.Pointer(&iovec))); err != nil {
		return fmt.Errorf("ptrace GETREGSET failed: %w", err)
	}
	return nil
}

// waitStop waits for tid to enter a ptrace-stop. It returns the signal that
// has to be re-injected on detach when the stop was a signal-delivery-stop
// instead of the PTRACE_EVENT_STOP requested by PTRACE_INTERRUPT.
// An exit is only peeked at and left for the real parent to collect, which
// may be the caller itself.
func waitStop(tid libpf.TID) (int, error) {
	for {
		var info unix.Siginfo
		err := unix.Waitid(unix.P_PID, int(tid), &info,
			unix.WALL|unix.WEXITED|unix.WSTOPPED|unix.WNOWAIT, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if exitedCode(info.Code) {
			return 0, unix.ESRCH
		}

		// The pending stop is consumed here.
		var status unix.WaitStatus
		_, err = unix.Wait4(int(tid), &status, unix.WALL, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, err
		}
		switch {
		case status.Exited(), status.Signaled():
			return 0, unix.ESRCH
		case !status.Stopped():
			continue
		case uint32(status)>>16 == unix.PTRACE_EVENT_STOP:
			return 0, nil
		default:
			return int(status.StopSignal()), nil
		}
	}
}

// si_code values of SIGCHLD, from include/uapi/asm-generic/siginfo.h.
const (
	cldExited = 1
	cldKilled = 2
	cldDumped = 3
)

// exitedCode reports whether a SIGCHLD code describes a terminated child.
func exitedCode(code int32) bool {
	switch code {
	case cldExited, cldKilled, cldDumped:
		return true
	}
	return false
}

// SuspendThread implements the per-thread suspension discipline: seize,
// interrupt, wait for the stop, read the registers, call fn, detach. All
// ptrace requests for one suspension must come from the same OS thread, so
// the goroutine is locked to its thread until the thread was detached.
func (sp *systemProcess) SuspendThread(tid libpf.TID, fn SuspendedFunc) (err error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err = ptrace(unix.PTRACE_SEIZE, tid, 0, 0); err != nil {
		return fmt.Errorf("failed to seize TID %v: %w", tid, err)
	}

	resumeSignal := 0
	defer func() {
		// Detaching restarts the thread. ESRCH means it is gone already.
		if derr := ptrace(unix.PTRACE_DETACH, tid, 0, uintptr(resumeSignal)); derr != nil &&
			!errors.Is(derr, unix.ESRCH) {
			log.Errorf("Failed to resume TID %v of PID %v: %v", tid, sp.pid, derr)
		}
	}()

	if err = ptrace(unix.PTRACE_INTERRUPT, tid, 0, 0); err != nil {
		return fmt.Errorf("failed to interrupt TID %v: %w", tid, err)
	}
	if resumeSignal, err = waitStop(tid); err != nil {
		return fmt.Errorf("failed to stop TID %v: %w", tid, err)
	}

	regs, err := getRegisters(tid)
	if err != nil {
		return fmt.Errorf("failed to read registers of TID %v: %w", tid, err)
	}

	return fn(regs, remotememory.RemoteMemory{
		ReaderAt: threadMemory{vm: sp.remoteMemory, tid: tid},
	})
}

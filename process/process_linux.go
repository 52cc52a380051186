//go:build linux

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "go.opentelemetry.io/ptrace-profiler/process"

import (
	"errors"
	"fmt"
	"os"
	"path"
	"slices"
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"go.opentelemetry.io/ptrace-profiler/libpf"
	"go.opentelemetry.io/ptrace-profiler/remotememory"
)

// systemProcess provides an implementation of the Process interface for a
// process that is currently running on this machine.
type systemProcess struct {
	pid libpf.PID

	// pidfd pins the process identity for the lifetime of the handle, or is
	// -1 on kernels without pidfd_open(2).
	pidfd     int
	closeOnce sync.Once

	remoteMemory remotememory.RemoteMemory
}

var _ Process = &systemProcess{}

// Open acquires a handle to a live process. It verifies that the caller is
// allowed to control the process by suspending and resuming its main thread
// once, so a permission problem surfaces here and not on the first capture.
// The returned errors wrap the underlying errno (ESRCH, EPERM).
func Open(pid libpf.PID) (Process, error) {
	pidfd, err := unix.PidfdOpen(int(pid), 0)
	if errors.Is(err, unix.ENOSYS) {
		log.Debugf("pidfd_open unavailable, falling back to kill(2) probe for PID %v", pid)
		pidfd = -1
		err = unix.Kill(int(pid), 0)
		if errors.Is(err, unix.EPERM) {
			// The process exists, the ptrace probe below reports the permission problem.
			err = nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open PID %v: %w", pid, err)
	}

	sp := &systemProcess{
		pid:          pid,
		pidfd:        pidfd,
		remoteMemory: remotememory.NewProcessVirtualMemory(pid),
	}
	if err = sp.SuspendThread(libpf.TID(pid), func(Registers, remotememory.RemoteMemory) error {
		return nil
	}); err != nil {
		_ = sp.Close()
		return nil, err
	}
	return sp, nil
}

func (sp *systemProcess) PID() libpf.PID {
	return sp.pid
}

func (sp *systemProcess) Threads() ([]libpf.TID, error) {
	tidFiles, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", sp.pid))
	if err != nil {
		return nil, err
	}

	tids := make([]libpf.TID, 0, len(tidFiles))
	for _, tidFile := range tidFiles {
		if !tidFile.IsDir() {
			continue
		}
		tid, err := strconv.ParseUint(tidFile.Name(), 10, 32)
		if err != nil {
			continue
		}
		tids = append(tids, libpf.TID(tid))
	}
	if len(tids) == 0 {
		return nil, fmt.Errorf("no threads listed for PID %v: %w", sp.pid, unix.ESRCH)
	}
	slices.Sort(tids)
	return tids, nil
}

func (sp *systemProcess) ThreadInfo(tid libpf.TID) (ThreadInfo, error) {
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/task/%d/stat", sp.pid, tid))
	if err != nil {
		return ThreadInfo{}, err
	}
	return parseThreadStat(string(stat))
}

// Mappings will process the mappings file from proc.
func (sp *systemProcess) Mappings() ([]Mapping, error) {
	mapsFile, err := os.Open(fmt.Sprintf("/proc/%d/maps", sp.pid))
	if err != nil {
		return nil, err
	}
	defer mapsFile.Close()

	mappings, numParseErrors, err := ParseMappings(mapsFile)
	if numParseErrors > 0 {
		log.Debugf("PID %v: %d unparsable lines in maps", sp.pid, numParseErrors)
	}
	if err != nil {
		return nil, err
	}
	if len(mappings) == 0 {
		// An unprivileged reader gets an empty file instead of an error.
		return nil, fmt.Errorf("no mappings readable for PID %v: %w", sp.pid, unix.EACCES)
	}
	return mappings, nil
}

func (sp *systemProcess) RemoteMemory() remotememory.RemoteMemory {
	return sp.remoteMemory
}

func (sp *systemProcess) OpenMappingFile(m *Mapping) (ReadAtCloser, error) {
	if m.IsAnonymous() || m.IsVDSO() {
		return nil, errors.New("no backing file for anonymous memory")
	}
	// map_files can open deleted files, but requires CAP_SYS_ADMIN or
	// CAP_CHECKPOINT_RESTORE. Fall back to the path under the process root.
	f, err := os.Open(fmt.Sprintf("/proc/%v/map_files/%x-%x", sp.pid, m.Vaddr, m.End()))
	if err == nil {
		return f, nil
	}
	return os.Open(path.Join("/proc", sp.pid.String(), "root", m.Path))
}

func (sp *systemProcess) Close() error {
	var err error
	sp.closeOnce.Do(func() {
		if sp.pidfd >= 0 {
			err = unix.Close(sp.pidfd)
			sp.pidfd = -1
		}
	})
	return err
}

// threadMemory reads with process_vm_readv and falls back to PTRACE_PEEKDATA
// on kernels without it. The fallback only works while tid is suspended.
type threadMemory struct {
	vm  remotememory.RemoteMemory
	tid libpf.TID
}

func (tm threadMemory) ReadAt(p []byte, off int64) (int, error) {
	n, err := tm.vm.ReadAt(p, off)
	if errors.Is(err, unix.ENOSYS) {
		return remotememory.NewPtraceMemory(tm.tid).ReadAt(p, off)
	}
	return n, err
}

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "go.opentelemetry.io/ptrace-profiler/libpf"

import "strconv"

// PID represent Unix Process ID (pid_t)
type PID uint32

func (p PID) Hash32() uint32 {
	return uint32(p)
}

func (p PID) String() string {
	return strconv.FormatUint(uint64(p), 10)
}

// TID represents a Linux kernel thread ID. The thread group leader has TID == PID.
type TID uint32

func (t TID) Hash32() uint32 {
	return uint32(t)
}

func (t TID) String() string {
	return strconv.FormatUint(uint64(t), 10)
}

// IsMainThread reports whether t is the thread group leader of pid.
func (t TID) IsMainThread(pid PID) bool {
	return uint32(t) == uint32(pid)
}

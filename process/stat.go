// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "go.opentelemetry.io/ptrace-profiler/process"

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/ptrace-profiler/libpf"
)

// userHZ is the kernel's USER_HZ, the unit of the CPU times in /proc stat
// files. It is 100 on all architectures this package supports.
const userHZ = 100

// parseThreadStat parses the contents of /proc/<pid>/task/<tid>/stat.
// See proc_pid_stat(5) for the field layout.
func parseThreadStat(stat string) (ThreadInfo, error) {
	// The command name is enclosed in parentheses and may contain spaces
	// or parentheses itself, so the last ')' terminates it.
	open := strings.IndexByte(stat, '(')
	closing := strings.LastIndexByte(stat, ')')
	if open < 0 || closing < open {
		return ThreadInfo{}, fmt.Errorf("malformed stat line %q", stat)
	}
	tid, err := strconv.ParseUint(strings.TrimSpace(stat[:open]), 10, 32)
	if err != nil {
		return ThreadInfo{}, fmt.Errorf("malformed tid in stat line: %w", err)
	}

	// fields[0] is the state (field 3), utime is field 14 and stime field 15.
	fields := strings.Fields(stat[closing+1:])
	if len(fields) < 13 || len(fields[0]) != 1 {
		return ThreadInfo{}, fmt.Errorf("truncated stat line %q", stat)
	}
	utime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return ThreadInfo{}, fmt.Errorf("malformed utime: %w", err)
	}
	stime, err := strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return ThreadInfo{}, fmt.Errorf("malformed stime: %w", err)
	}

	return ThreadInfo{
		TID:        libpf.TID(tid),
		Name:       stat[open+1 : closing],
		State:      ThreadState(fields[0][0]),
		UserTime:   time.Duration(utime) * time.Second / userHZ,
		SystemTime: time.Duration(stime) * time.Second / userHZ,
	}, nil
}

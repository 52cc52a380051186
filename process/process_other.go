//go:build !linux

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "go.opentelemetry.io/ptrace-profiler/process"

import (
	"errors"
	"fmt"
	"runtime"

	"go.opentelemetry.io/ptrace-profiler/libpf"
)

// Open is the stub implementation, allowing to compile the process
// package on non linux systems, always failing at runtime with an error if used.
func Open(_ libpf.PID) (Process, error) {
	return nil, fmt.Errorf("unsupported os %s: %w", runtime.GOOS, errors.ErrUnsupported)
}

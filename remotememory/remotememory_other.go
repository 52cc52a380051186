//go:build !linux

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package remotememory // import "go.opentelemetry.io/ptrace-profiler/remotememory"

import (
	"errors"

	"go.opentelemetry.io/ptrace-profiler/libpf"
)

type unsupportedReader struct{}

// ReadAt is the stub implementation, allowing to compile the remotememory
// package on non linux systems, always failing at runtime with an error if used.
func (unsupportedReader) ReadAt(_ []byte, _ int64) (int, error) {
	return 0, errors.ErrUnsupported
}

// NewProcessVirtualMemory returns a RemoteMemory that always fails.
func NewProcessVirtualMemory(_ libpf.PID) RemoteMemory {
	return RemoteMemory{ReaderAt: unsupportedReader{}}
}

// NewPtraceMemory returns a RemoteMemory that always fails.
func NewPtraceMemory(_ libpf.TID) RemoteMemory {
	return RemoteMemory{ReaderAt: unsupportedReader{}}
}

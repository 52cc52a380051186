//go:build linux && !amd64 && !arm64

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "go.opentelemetry.io/ptrace-profiler/process"

import (
	"fmt"
	"runtime"

	"go.opentelemetry.io/ptrace-profiler/libpf"
)

func getRegisters(_ libpf.TID) (Registers, error) {
	return Registers{}, fmt.Errorf("unsupported architecture %s", runtime.GOARCH)
}

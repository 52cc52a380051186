//go:build !arm64

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package unwinder // import "go.opentelemetry.io/ptrace-profiler/unwinder"

// DWARF register numbers for x86_64. The return address column does not
// name a real register.
const (
	dwarfFP = 6
	dwarfSP = 7
	dwarfRA = 16

	hasLinkRegister = false
)

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package unwinder // import "go.opentelemetry.io/ptrace-profiler/unwinder"

// DWARF register numbers for AArch64.
const (
	dwarfFP = 29
	dwarfRA = 30
	dwarfSP = 31

	// hasLinkRegister is set when the return address of the innermost frame
	// may still be held in a register.
	hasLinkRegister = true
)

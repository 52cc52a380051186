//go:build linux && amd64

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "go.opentelemetry.io/ptrace-profiler/process"

import (
	"debug/elf"

	"go.opentelemetry.io/ptrace-profiler/libpf"
	"go.opentelemetry.io/ptrace-profiler/nopanicslicereader"
)

// Indexes into struct user_regs_struct, see arch/x86/include/asm/user_64.h
const (
	regRBP = 4
	regRIP = 16
	regRSP = 19

	numGPRegs = 27
)

func getRegisters(tid libpf.TID) (Registers, error) {
	prStatus := make([]byte, numGPRegs*8)
	if err := ptraceGetRegset(tid, int(elf.NT_PRSTATUS), prStatus); err != nil {
		return Registers{}, err
	}
	return Registers{
		PC: nopanicslicereader.PtrAt(prStatus, regRIP),
		SP: nopanicslicereader.PtrAt(prStatus, regRSP),
		FP: nopanicslicereader.PtrAt(prStatus, regRBP),
	}, nil
}

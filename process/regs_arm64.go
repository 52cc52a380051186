//go:build linux && arm64

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "go.opentelemetry.io/ptrace-profiler/process"

import (
	"debug/elf"

	"go.opentelemetry.io/ptrace-profiler/libpf"
	"go.opentelemetry.io/ptrace-profiler/nopanicslicereader"
)

// Indexes into struct user_pt_regs, see arch/arm64/include/uapi/asm/ptrace.h
const (
	regX29 = 29
	regX30 = 30
	regSP  = 31
	regPC  = 32

	numGPRegs = 34
)

func getRegisters(tid libpf.TID) (Registers, error) {
	prStatus := make([]byte, numGPRegs*8)
	if err := ptraceGetRegset(tid, int(elf.NT_PRSTATUS), prStatus); err != nil {
		return Registers{}, err
	}
	return Registers{
		PC: nopanicslicereader.PtrAt(prStatus, regPC),
		SP: nopanicslicereader.PtrAt(prStatus, regSP),
		FP: nopanicslicereader.PtrAt(prStatus, regX29),
		LR: nopanicslicereader.PtrAt(prStatus, regX30),
	}, nil
}

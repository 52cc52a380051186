// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package unwinder // import "go.opentelemetry.io/ptrace-profiler/unwinder"

import (
	"go.opentelemetry.io/ptrace-profiler/libpf"
	"go.opentelemetry.io/ptrace-profiler/process"
	"go.opentelemetry.io/ptrace-profiler/remotememory"
)

// walkFramePointer follows the frame record chain. Each record at fp holds the
// caller's frame pointer followed by the return address.
func walkFramePointer(mem remotememory.RemoteMemory, regs process.Registers, opts *Options) Result {
	v := opts.Validator
	res := Result{
		Frames:   make([]Frame, 0, opts.MaxDepth),
		Strategy: FramePointer,
	}

	fp := regs.FP
	if v.IsPlausibleCode(regs.PC) {
		res.Frames = append(res.Frames, Frame{Address: regs.PC, FramePointer: fp})
	} else if !v.IsPlausible(fp) {
		// Neither a usable PC nor a chain to follow.
		res.Reason = ReasonBadPointer
		return res
	}
	// A thread blocked in a system call may report a PC the validator
	// rejects while its frame pointer chain is still intact.

	var prevFP libpf.Address
	for {
		if len(res.Frames) >= opts.MaxDepth {
			res.Reason = ReasonDepth
			return res
		}
		if !v.IsPlausible(fp) {
			res.Reason = ReasonBadPointer
			return res
		}
		if prevFP != 0 {
			if fp <= prevFP {
				res.Reason = ReasonNonIncreasing
				return res
			}
			if fp-prevFP > MaxFrameSize {
				res.Reason = ReasonBadPointer
				return res
			}
		}

		savedFP, retAddr, err := mem.FrameRecord(fp)
		if err != nil {
			res.Reason = ReasonReadFailed
			res.Err = err
			return res
		}
		if !v.IsPlausibleCode(retAddr) {
			if retAddr == 0 && savedFP == 0 {
				res.Reason = ReasonEnd
			} else {
				res.Reason = ReasonBadPointer
			}
			return res
		}

		res.Frames = append(res.Frames, Frame{Address: retAddr, FramePointer: fp})

		if savedFP == 0 {
			res.Reason = ReasonEnd
			return res
		}
		prevFP = fp
		fp = savedFP
	}
}

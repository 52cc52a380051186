// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package unwinder // import "go.opentelemetry.io/ptrace-profiler/unwinder"

import (
	"github.com/go-delve/delve/pkg/dwarf/frame"

	"go.opentelemetry.io/ptrace-profiler/libpf"
	"go.opentelemetry.io/ptrace-profiler/process"
	"go.opentelemetry.io/ptrace-profiler/remotememory"
)

// FrameTables resolves the call frame information in effect at an
// instruction address of the target.
type FrameTables interface {
	// FrameContext returns the unwind rules for pc, or false when no table
	// covers it.
	FrameContext(pc libpf.Address) (*frame.FrameContext, bool)
}

// tableState is the register subset tracked while unwinding with tables.
type tableState struct {
	pc, sp, fp, lr libpf.Address
}

func (s *tableState) reg(num uint64) (libpf.Address, bool) {
	switch num {
	case dwarfSP:
		return s.sp, true
	case dwarfFP:
		return s.fp, true
	}
	if hasLinkRegister && num == dwarfRA {
		return s.lr, s.lr != 0
	}
	return 0, false
}

// restore computes the caller's value of register num from its rule.
// The second result is false when the rule cannot be evaluated.
func (s *tableState) restore(mem remotememory.RemoteMemory, num uint64, rule frame.DWRule,
	cfa libpf.Address) (libpf.Address, bool, error) {
	switch rule.Rule {
	case frame.RuleSameVal:
		val, ok := s.reg(num)
		return val, ok, nil
	case frame.RuleOffset:
		val, err := mem.Ptr(cfa + libpf.Address(rule.Offset))
		if err != nil {
			return 0, false, err
		}
		return val, true, nil
	case frame.RuleValOffset:
		return cfa + libpf.Address(rule.Offset), true, nil
	case frame.RuleRegister:
		val, ok := s.reg(rule.Reg)
		return val, ok, nil
	}
	return 0, false, nil
}

// walkTable recovers frames from call frame information: the CFA is computed
// from its register rule, the return address and frame pointer are restored
// relative to it, and the caller's stack pointer is the CFA.
func walkTable(mem remotememory.RemoteMemory, regs process.Registers, opts *Options) Result {
	v := opts.Validator
	res := Result{
		Frames:   make([]Frame, 0, opts.MaxDepth),
		Strategy: UnwindTable,
	}
	st := tableState{pc: regs.PC, sp: regs.SP, fp: regs.FP, lr: regs.LR}

	if !v.IsPlausibleCode(st.pc) {
		res.Reason = ReasonBadPointer
		return res
	}
	res.Frames = append(res.Frames, Frame{Address: st.pc, FramePointer: st.fp})

	for {
		if len(res.Frames) >= opts.MaxDepth {
			res.Reason = ReasonDepth
			return res
		}

		// Return addresses point after the call instruction, which may be
		// the first byte of the next function.
		lookup := st.pc
		if len(res.Frames) > 1 {
			lookup--
		}
		fctx, ok := opts.Tables.FrameContext(lookup)
		if !ok || fctx.CFA.Rule != frame.RuleCFA {
			res.Reason = ReasonNoUnwindInfo
			return res
		}
		base, ok := st.reg(fctx.CFA.Reg)
		if !ok {
			res.Reason = ReasonNoUnwindInfo
			return res
		}
		cfa := base + libpf.Address(fctx.CFA.Offset)
		if cfa < st.sp || (cfa == st.sp && len(res.Frames) > 1) {
			res.Reason = ReasonNonIncreasing
			return res
		}

		raRule, ok := fctx.Regs[fctx.RetAddrReg]
		if !ok {
			raRule = frame.DWRule{Rule: frame.RuleSameVal}
		}
		if raRule.Rule == frame.RuleUndefined {
			// Outermost frame, as marked by the C runtime entry points.
			res.Reason = ReasonEnd
			return res
		}
		retAddr, ok, err := st.restore(mem, fctx.RetAddrReg, raRule, cfa)
		if err != nil {
			res.Reason = ReasonReadFailed
			res.Err = err
			return res
		}
		if !ok {
			res.Reason = ReasonNoUnwindInfo
			return res
		}

		fp := st.fp
		if fpRule, found := fctx.Regs[dwarfFP]; found {
			restored, ok, err := st.restore(mem, dwarfFP, fpRule, cfa)
			if err != nil {
				res.Reason = ReasonReadFailed
				res.Err = err
				return res
			}
			if ok {
				fp = restored
			}
		}

		if retAddr == 0 {
			res.Reason = ReasonEnd
			return res
		}
		if !v.IsPlausibleCode(retAddr) {
			res.Reason = ReasonBadPointer
			return res
		}

		res.Frames = append(res.Frames, Frame{Address: retAddr, FramePointer: st.fp})
		st = tableState{pc: retAddr, sp: cfa, fp: fp}
	}
}

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// A command-line tool to inspect the call frame information the unwind-table
// stack walk strategy uses. It prints statistics on the number of frame
// description entries and the distinct CFA rules seen, or a full listing of
// the rules at every entry of the file given with the -target option.
package main

import (
	"debug/elf"
	"flag"
	"fmt"
	"os"

	"github.com/go-delve/delve/pkg/dwarf/frame"

	"go.opentelemetry.io/ptrace-profiler/libpf"
	"go.opentelemetry.io/ptrace-profiler/unwinder/unwindtable"
)

var (
	target = flag.String("target", "", "The target executable to operate on.")
)

type stats struct {
	seenRules libpf.Set[string]

	numEntries uint
}

// registerNames maps the DWARF register numbers of interest per machine.
var registerNames = map[elf.Machine]map[uint64]string{
	elf.EM_X86_64:  {6: "rbp", 7: "rsp", 16: "rip"},
	elf.EM_AARCH64: {29: "fp", 30: "lr", 31: "sp"},
}

// framePointerRegister is the DWARF number of the frame pointer per machine.
var framePointerRegister = map[elf.Machine]uint64{
	elf.EM_X86_64:  6,
	elf.EM_AARCH64: 29,
}

func regName(machine elf.Machine, reg uint64) string {
	if name, ok := registerNames[machine][reg]; ok {
		return name
	}
	return fmt.Sprintf("r%d", reg)
}

func formatCFA(machine elf.Machine, rule frame.DWRule) string {
	switch rule.Rule {
	case frame.RuleCFA:
		return fmt.Sprintf("%s%+d", regName(machine, rule.Reg), rule.Offset)
	case frame.RuleExpression:
		return "expr"
	}
	return "?"
}

func formatRule(machine elf.Machine, rule frame.DWRule, ok bool) string {
	if !ok {
		return "-"
	}
	switch rule.Rule {
	case frame.RuleUndefined:
		return "undef"
	case frame.RuleSameVal:
		return "same"
	case frame.RuleOffset:
		return fmt.Sprintf("*(cfa%+d)", rule.Offset)
	case frame.RuleValOffset:
		return fmt.Sprintf("cfa%+d", rule.Offset)
	case frame.RuleRegister:
		return regName(machine, rule.Reg)
	case frame.RuleExpression, frame.RuleValExpression:
		return "expr"
	}
	return "?"
}

func dumpEntry(machine elf.Machine, fde *frame.FrameDescriptionEntry, fctx *frame.FrameContext) {
	fpRule, fpOK := fctx.Regs[framePointerRegister[machine]]
	raRule, raOK := fctx.Regs[fctx.RetAddrReg]
	fmt.Printf("%016x %016x %-16s%-16s%s\n", fde.Begin(), fde.End(),
		formatCFA(machine, fctx.CFA),
		formatRule(machine, fpRule, fpOK),
		formatRule(machine, raRule, raOK))
}

func analyzeFile(filename string, s *stats, dump bool) error {
	ef, err := elf.Open(filename)
	if err != nil {
		return err
	}
	machine := ef.Machine
	ef.Close()

	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	tbl, err := unwindtable.Load(f)
	if err != nil {
		return fmt.Errorf("failed to load call frame information: %v", err)
	}

	if dump {
		fmt.Printf("%-16v %-16v %-16v%-16v%v\n", "# begin", "end", "cfa", "fp", "ra")
	}
	fdes := tbl.FDEs()
	for _, fde := range fdes {
		fctx := fde.EstablishFrame(fde.Begin())
		if dump {
			dumpEntry(machine, fde, fctx)
		}
		s.seenRules.Add(formatCFA(machine, fctx.CFA))
	}
	s.numEntries += uint(len(fdes))

	fmt.Printf("# %v: %v entries\n", filename, len(fdes))
	return nil
}

func main() {
	s := stats{
		seenRules: make(libpf.Set[string]),
	}

	flag.Parse()

	if *target != "" {
		if err := analyzeFile(*target, &s, true); err != nil {
			fmt.Printf("# %s: %s\n", *target, err)
		}
	}
	for _, f := range flag.Args() {
		if err := analyzeFile(f, &s, false); err != nil {
			fmt.Printf("# %s: %s\n", f, err)
		}
	}
	fmt.Printf("# %v entries, %v unique entry CFA rules\n", s.numEntries, len(s.seenRules))
}

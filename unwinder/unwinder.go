// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package unwinder walks the call stack of a suspended thread using its
// register snapshot and reads of the target's memory. The walk never
// symbolizes: it produces raw return addresses only.
package unwinder // import "go.opentelemetry.io/ptrace-profiler/unwinder"

import (
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/ptrace-profiler/addrcheck"
	"go.opentelemetry.io/ptrace-profiler/libpf"
	"go.opentelemetry.io/ptrace-profiler/process"
	"go.opentelemetry.io/ptrace-profiler/remotememory"
)

// Strategy selects how the caller frames are recovered.
type Strategy uint8

const (
	// FramePointer follows the chain of saved frame pointers.
	FramePointer Strategy = iota
	// UnwindTable interprets the call frame information of the mapped ELF files.
	UnwindTable
	// Hybrid uses FramePointer and retries once with UnwindTable when the frame
	// pointer chain cannot be followed past the first frame.
	Hybrid
)

var strategyNames = map[Strategy]string{
	FramePointer: "frame-pointer",
	UnwindTable:  "unwind-table",
	Hybrid:       "hybrid",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("strategy(%d)", uint8(s))
}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	_, ok := strategyNames[s]
	return ok
}

// ParseStrategy returns the Strategy for its string representation.
func ParseStrategy(name string) (Strategy, error) {
	for s, n := range strategyNames {
		if strings.EqualFold(n, name) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown stack walk strategy %q", name)
}

// Reason describes why a walk stopped.
type Reason uint8

const (
	// ReasonEnd means the outermost frame was reached.
	ReasonEnd Reason = iota
	// ReasonDepth means the frame limit was reached and the trace is truncated.
	ReasonDepth
	// ReasonBadPointer means a frame pointer or return address was implausible.
	ReasonBadPointer
	// ReasonNonIncreasing means the stack did not grow towards higher addresses.
	ReasonNonIncreasing
	// ReasonReadFailed means a read of target memory failed.
	ReasonReadFailed
	// ReasonNoUnwindInfo means no usable call frame information covers a frame.
	ReasonNoUnwindInfo
)

var reasonNames = map[Reason]string{
	ReasonEnd:           "end",
	ReasonDepth:         "depth",
	ReasonBadPointer:    "bad-pointer",
	ReasonNonIncreasing: "non-increasing",
	ReasonReadFailed:    "read-failed",
	ReasonNoUnwindInfo:  "no-unwind-info",
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// Frame is one recovered frame: the instruction address and the frame
// pointer value in effect when it was found.
type Frame struct {
	Address      libpf.Address
	FramePointer libpf.Address
}

// Result is the outcome of a walk. Frames is never longer than the MaxDepth
// the walk was started with.
type Result struct {
	Frames []Frame
	Reason Reason
	// Strategy is the strategy that produced Frames.
	Strategy Strategy
	// Err holds the read error when Reason is ReasonReadFailed.
	Err error
}

// Truncated reports whether the walk stopped at the depth limit.
func (r *Result) Truncated() bool {
	return r.Reason == ReasonDepth
}

// MaxFrameSize bounds the distance between two consecutive frame pointers.
const MaxFrameSize = 1 << 20

// Options configures a walk.
type Options struct {
	// MaxDepth is the maximum number of frames to produce.
	MaxDepth int
	// Strategy selects the walk algorithm.
	Strategy Strategy
	// Validator checks addresses before they are dereferenced. It may be nil.
	Validator *addrcheck.Validator
	// Tables provides call frame information. It is required by the
	// UnwindTable strategy and optional for Hybrid.
	Tables FrameTables
}

var (
	// ErrNoTables is returned when the UnwindTable strategy is requested
	// without a source of call frame information.
	ErrNoTables = errors.New("unwind table strategy requires frame tables")
	// ErrInvalidDepth is returned for a non-positive MaxDepth.
	ErrInvalidDepth = errors.New("maximum stack depth must be positive")
)

// Walk recovers the call stack described by regs. A shallow or empty result
// is not an error; errors are reserved for invalid options.
func Walk(mem remotememory.RemoteMemory, regs process.Registers, opts Options) (Result, error) {
	if opts.MaxDepth <= 0 {
		return Result{}, ErrInvalidDepth
	}
	switch opts.Strategy {
	case FramePointer:
		return walkFramePointer(mem, regs, &opts), nil
	case UnwindTable:
		if opts.Tables == nil {
			return Result{}, ErrNoTables
		}
		return walkTable(mem, regs, &opts), nil
	case Hybrid:
		return walkHybrid(mem, regs, &opts), nil
	}
	return Result{}, fmt.Errorf("unknown stack walk strategy %v", opts.Strategy)
}

// needsFallback reports whether a frame pointer walk failed to get past the
// first frame for a reason other than reaching the end of the stack.
func needsFallback(r *Result) bool {
	if len(r.Frames) > 1 {
		return false
	}
	return r.Reason != ReasonEnd && r.Reason != ReasonDepth
}

func walkHybrid(mem remotememory.RemoteMemory, regs process.Registers, opts *Options) Result {
	fp := walkFramePointer(mem, regs, opts)
	if opts.Tables == nil || !needsFallback(&fp) {
		return fp
	}
	table := walkTable(mem, regs, opts)
	if len(table.Frames) > len(fp.Frames) {
		return table
	}
	return fp
}

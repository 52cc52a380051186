// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package profiler // import "go.opentelemetry.io/ptrace-profiler/profiler"

import (
	"go.opentelemetry.io/ptrace-profiler/libpf"
	"go.opentelemetry.io/ptrace-profiler/times"
	"go.opentelemetry.io/ptrace-profiler/unwinder"
)

// MaxFrames is the capacity of a StackTrace.
const MaxFrames = 64

// StackFrame is one raw frame of a trace.
type StackFrame struct {
	// Address is the instruction address: the program counter for the
	// innermost frame, a return address for all others.
	Address libpf.Address
	// FramePointer is the frame pointer value the frame was recovered from.
	FramePointer libpf.Address
}

// StackTrace is a captured call stack, innermost frame first. It is a plain
// value that stays valid after the Target detaches.
type StackTrace struct {
	frames     [MaxFrames]StackFrame
	frameCount uint32

	// Thread is the kernel thread id the trace was captured from.
	Thread libpf.TID
	// ThreadID is the logical thread identifier, stable across refreshes.
	ThreadID uint64
	// Timestamp is the monotonic time taken right before the thread was
	// suspended.
	Timestamp times.Timestamp
	// Truncated is set when the walk stopped at the depth limit.
	Truncated bool
}

// FrameCount returns the number of valid frames.
func (st *StackTrace) FrameCount() int {
	return int(st.frameCount)
}

// Frame returns frame i. It panics if i is out of range like a slice index.
func (st *StackTrace) Frame(i int) StackFrame {
	return st.frames[:st.frameCount][i]
}

// Frames returns a copy of the valid frames.
func (st *StackTrace) Frames() []StackFrame {
	frames := make([]StackFrame, st.frameCount)
	copy(frames, st.frames[:st.frameCount])
	return frames
}

// Addresses returns the frame addresses, innermost first.
func (st *StackTrace) Addresses() []libpf.Address {
	addrs := make([]libpf.Address, st.frameCount)
	for i := range addrs {
		addrs[i] = st.frames[i].Address
	}
	return addrs
}

// SetFrames replaces the frames of the trace. Frames beyond MaxFrames are
// dropped and mark the trace truncated.
func (st *StackTrace) SetFrames(frames []StackFrame) {
	n := min(len(frames), MaxFrames)
	copy(st.frames[:], frames[:n])
	st.frameCount = uint32(n)
	if len(frames) > MaxFrames {
		st.Truncated = true
	}
}

// setFrames stores up to MaxFrames walked frames.
func (st *StackTrace) setFrames(frames []unwinder.Frame) {
	n := min(len(frames), MaxFrames)
	for i, f := range frames[:n] {
		st.frames[i] = StackFrame{Address: f.Address, FramePointer: f.FramePointer}
	}
	st.frameCount = uint32(n)
}

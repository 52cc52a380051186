// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package report renders captured stack traces: as text for terminals and as
// pprof profiles of raw addresses for offline analysis.
package report // import "go.opentelemetry.io/ptrace-profiler/report"

import (
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/ptrace-profiler/libpf"
	"go.opentelemetry.io/ptrace-profiler/process"
	"go.opentelemetry.io/ptrace-profiler/profiler"
)

// ThreadSource is the view of a target needed to list its threads.
type ThreadSource interface {
	PID() libpf.PID
	State() profiler.State
	ThreadCount() int
	ThreadInfo(i int) (process.ThreadInfo, error)
}

// PrintTrace writes one trace, innermost frame first.
func PrintTrace(w io.Writer, trace *profiler.StackTrace) {
	fmt.Fprintf(w, "[%d] Thread %v (%d frames", trace.ThreadID, trace.Thread,
		trace.FrameCount())
	if trace.Truncated {
		fmt.Fprint(w, ", truncated")
	}
	fmt.Fprintln(w, ")")

	for i := range trace.FrameCount() {
		frame := trace.Frame(i)
		fmt.Fprintf(w, "  #%-3d 0x%016x", i, uint64(frame.Address))
		if frame.FramePointer != 0 {
			fmt.Fprintf(w, "  (fp: %v)", frame.FramePointer)
		}
		fmt.Fprintln(w)
	}
	if ts, ok := trace.Timestamp.KTime(); ok {
		fmt.Fprintf(w, "  Captured at: %d ns\n", int64(ts))
	}
}

// PrintThreads writes the process state and a description of every thread in
// the snapshot. Threads that cannot be described are listed as such.
func PrintThreads(w io.Writer, src ThreadSource) {
	fmt.Fprintf(w, "Process: %v\n", src.PID())
	fmt.Fprintf(w, "Threads: %d\n", src.ThreadCount())
	fmt.Fprintf(w, "State: %s\n\n", strings.ToUpper(src.State().String()))

	for i := range src.ThreadCount() {
		info, err := src.ThreadInfo(i)
		if err != nil {
			fmt.Fprintf(w, "  Thread %d: Could not get info (%v)\n", i, err)
			continue
		}
		fmt.Fprintf(w, "  Thread %d (tid: %v, name: %s)\n", i, info.TID, info.Name)
		fmt.Fprintf(w, "    State: %v\n", info.State)
		fmt.Fprintf(w, "    CPU time: %.6f seconds (user %.6f, system %.6f)\n",
			(info.UserTime + info.SystemTime).Seconds(),
			info.UserTime.Seconds(), info.SystemTime.Seconds())
	}
	fmt.Fprintln(w)
}

// PrintStats writes the session counters.
func PrintStats(w io.Writer, stats profiler.Stats) {
	fmt.Fprintf(w, "  Total samples: %d\n", stats.TotalSamples)
	fmt.Fprintf(w, "  Successful: %d\n", stats.SuccessfulSamples)
	fmt.Fprintf(w, "  Failed: %d\n", stats.FailedSamples)
	fmt.Fprintf(w, "  Success rate: %.1f%%\n", stats.SuccessRate()*100)
	fmt.Fprintf(w, "  Total frames: %d\n", stats.TotalFrames)
	fmt.Fprintf(w, "  Unique addresses: %d\n", stats.UniqueAddresses)
	if stats.SuccessfulSamples > 0 {
		fmt.Fprintf(w, "  Avg frames/sample: %.1f\n", stats.AverageFramesPerSample())
	}
}

// TotalFrames sums the frame counts of traces.
func TotalFrames(traces []profiler.StackTrace) int {
	total := 0
	for i := range traces {
		total += traces[i].FrameCount()
	}
	return total
}

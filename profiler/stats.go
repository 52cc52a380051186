// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package profiler // import "go.opentelemetry.io/ptrace-profiler/profiler"

import (
	"sync/atomic"

	"go.opentelemetry.io/ptrace-profiler/libpf"
	"go.opentelemetry.io/ptrace-profiler/successfailurecounter"
)

// Stats summarizes the captures of a session.
type Stats struct {
	TotalSamples      uint64
	SuccessfulSamples uint64
	FailedSamples     uint64
	// TotalFrames is the number of frames over all successful samples.
	TotalFrames uint64
	// UniqueAddresses is the number of distinct frame addresses seen in
	// successful samples.
	UniqueAddresses uint64
}

// SuccessRate returns the fraction of successful samples, or 0 without samples.
func (s Stats) SuccessRate() float64 {
	if s.TotalSamples == 0 {
		return 0
	}
	return float64(s.SuccessfulSamples) / float64(s.TotalSamples)
}

// AverageFramesPerSample returns the mean depth of successful samples, or 0
// without successful samples.
func (s Stats) AverageFramesPerSample() float64 {
	if s.SuccessfulSamples == 0 {
		return 0
	}
	return float64(s.TotalFrames) / float64(s.SuccessfulSamples)
}

// sessionStats accumulates Stats. The counters may be read from any goroutine,
// the address set is owned by the goroutine driving the captures.
type sessionStats struct {
	samples         successfailurecounter.Counters
	totalFrames     atomic.Uint64
	uniqueAddresses atomic.Uint64
	addresses       libpf.Set[libpf.Address]
}

func (s *sessionStats) reset() {
	s.samples.Reset()
	s.totalFrames.Store(0)
	s.uniqueAddresses.Store(0)
	s.addresses = libpf.Set[libpf.Address]{}
}

// record accounts the frames of a successful trace.
func (s *sessionStats) record(trace *StackTrace) {
	s.totalFrames.Add(uint64(trace.FrameCount()))
	for i := range trace.FrameCount() {
		if s.addresses.Add(trace.frames[i].Address) {
			s.uniqueAddresses.Add(1)
		}
	}
}

func (s *sessionStats) snapshot() Stats {
	return Stats{
		TotalSamples:      s.samples.Total.Load(),
		SuccessfulSamples: s.samples.Success.Load(),
		FailedSamples:     s.samples.Failure.Load(),
		TotalFrames:       s.totalFrames.Load(),
		UniqueAddresses:   s.uniqueAddresses.Load(),
	}
}

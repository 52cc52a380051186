// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package report // import "go.opentelemetry.io/ptrace-profiler/report"

import (
	"encoding/binary"
	"io"
	"sort"
	"time"

	"github.com/google/pprof/profile"
	"github.com/zeebo/xxh3"

	"go.opentelemetry.io/ptrace-profiler/libpf"
	"go.opentelemetry.io/ptrace-profiler/process"
	"go.opentelemetry.io/ptrace-profiler/profiler"
)

// ThreadLabel is the numeric sample label carrying the thread id.
const ThreadLabel = "thread_id"

// stackKey identifies the samples that are merged into one.
type stackKey struct {
	hash uint64
	tid  libpf.TID
}

// ProfileBuilder aggregates traces into a pprof profile. Locations carry raw
// addresses and, when mappings are known, refer to their mapping so that the
// profile can be symbolized later.
type ProfileBuilder struct {
	prof      *profile.Profile
	start     time.Time
	mappings  []*profile.Mapping
	locations map[libpf.Address]*profile.Location
	samples   map[stackKey]*profile.Sample
}

// NewProfileBuilder starts a profile for samples taken every interval.
func NewProfileBuilder(interval time.Duration, mappings []process.Mapping) *ProfileBuilder {
	b := &ProfileBuilder{
		prof: &profile.Profile{
			SampleType: []*profile.ValueType{
				{Type: "samples", Unit: "count"},
				{Type: "wall", Unit: "nanoseconds"},
			},
			PeriodType: &profile.ValueType{Type: "wall", Unit: "nanoseconds"},
			Period:     interval.Nanoseconds(),
		},
		start:     time.Now(),
		locations: map[libpf.Address]*profile.Location{},
		samples:   map[stackKey]*profile.Sample{},
	}
	for i := range mappings {
		m := &mappings[i]
		if !m.IsExecutable() {
			continue
		}
		pm := &profile.Mapping{
			ID:     uint64(len(b.mappings) + 1),
			Start:  m.Vaddr,
			Limit:  m.End(),
			Offset: m.FileOffset,
			File:   m.Path,
		}
		b.mappings = append(b.mappings, pm)
	}
	b.prof.Mapping = b.mappings
	return b
}

func (b *ProfileBuilder) mappingFor(addr libpf.Address) *profile.Mapping {
	idx := sort.Search(len(b.mappings), func(i int) bool {
		return b.mappings[i].Limit > uint64(addr)
	})
	if idx < len(b.mappings) && b.mappings[idx].Start <= uint64(addr) {
		return b.mappings[idx]
	}
	return nil
}

func (b *ProfileBuilder) location(addr libpf.Address) *profile.Location {
	if loc, ok := b.locations[addr]; ok {
		return loc
	}
	loc := &profile.Location{
		ID:      uint64(len(b.prof.Location) + 1),
		Address: uint64(addr),
		Mapping: b.mappingFor(addr),
	}
	b.locations[addr] = loc
	b.prof.Location = append(b.prof.Location, loc)
	return loc
}

func hashTrace(trace *profiler.StackTrace) uint64 {
	buf := make([]byte, 0, 8*trace.FrameCount())
	for _, addr := range trace.Addresses() {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(addr))
	}
	return xxh3.Hash(buf)
}

// Add records traces. Identical stacks of the same thread are merged.
func (b *ProfileBuilder) Add(traces []profiler.StackTrace) {
	period := b.prof.Period
	for i := range traces {
		trace := &traces[i]
		if trace.FrameCount() == 0 {
			continue
		}
		key := stackKey{hash: hashTrace(trace), tid: trace.Thread}
		if s, ok := b.samples[key]; ok {
			s.Value[0]++
			s.Value[1] += period
			continue
		}

		locs := make([]*profile.Location, 0, trace.FrameCount())
		for _, addr := range trace.Addresses() {
			locs = append(locs, b.location(addr))
		}
		s := &profile.Sample{
			Location: locs,
			Value:    []int64{1, period},
			NumLabel: map[string][]int64{ThreadLabel: {int64(trace.Thread)}},
		}
		b.samples[key] = s
		b.prof.Sample = append(b.prof.Sample, s)
	}
}

// Profile finalizes and returns the profile.
func (b *ProfileBuilder) Profile() *profile.Profile {
	b.prof.TimeNanos = b.start.UnixNano()
	b.prof.DurationNanos = time.Since(b.start).Nanoseconds()
	return b.prof
}

// Write serializes the profile in the gzipped protobuf format.
func (b *ProfileBuilder) Write(w io.Writer) error {
	return b.Profile().Write(w)
}

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package profiler // import "go.opentelemetry.io/ptrace-profiler/profiler"

import (
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/ptrace-profiler/unwinder"
)

const (
	// DefaultSampleInterval is the default pause between two samples.
	DefaultSampleInterval = 10 * time.Millisecond
)

// Config holds the settings of one profiling session. It is copied on attach
// and stays fixed until detach.
type Config struct {
	// SampleInterval is the pause callers should leave between samples. The
	// target itself never samples on its own.
	SampleInterval time.Duration
	// MaxStackDepth limits the frames per trace. Values above MaxFrames are
	// clamped.
	MaxStackDepth uint32
	// TrackAsync requests the discovery of asynchronous execution contexts.
	TrackAsync bool
	// TrackThreads enumerates all threads. When false only the main thread is
	// sampled.
	TrackThreads bool
	// Strategy selects the stack walk algorithm.
	Strategy unwinder.Strategy
	// ValidateAddresses cross-checks pointers against the target's mappings
	// before reading them. The mappings are loaded at Attach and on
	// RefreshThreads. A walk that stops at an address outside of them reloads
	// the table once per refresh and walks again.
	ValidateAddresses bool
}

// DefaultConfig returns the default session settings.
func DefaultConfig() Config {
	return Config{
		SampleInterval:    DefaultSampleInterval,
		MaxStackDepth:     MaxFrames,
		TrackAsync:        false,
		TrackThreads:      true,
		Strategy:          unwinder.FramePointer,
		ValidateAddresses: true,
	}
}

// Validate checks the configuration for values a session cannot run with.
func (c *Config) Validate() error {
	if c.MaxStackDepth == 0 {
		return errors.New("maximum stack depth must be positive")
	}
	if c.SampleInterval < 0 {
		return fmt.Errorf("negative sample interval %v", c.SampleInterval)
	}
	if !c.Strategy.Valid() {
		return fmt.Errorf("unknown stack walk strategy %v", c.Strategy)
	}
	return nil
}

// maxDepth returns the effective frame limit.
func (c *Config) maxDepth() int {
	return int(min(c.MaxStackDepth, MaxFrames))
}

// needsMappings reports whether the session uses the mapping table.
func (c *Config) needsMappings() bool {
	return c.ValidateAddresses || c.Strategy != unwinder.FramePointer
}

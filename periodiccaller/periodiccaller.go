// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package periodiccaller drives repeated calls of functions: either in the
// background until canceled, or a fixed number of times from the caller's
// goroutine.
package periodiccaller // import "go.opentelemetry.io/ptrace-profiler/periodiccaller"

import (
	"context"
	"time"

	"go.opentelemetry.io/ptrace-profiler/libpf"
)

// Start starts a timer that calls <callback> every <interval> until the <ctx> is canceled.
func Start(ctx context.Context, interval time.Duration, callback func()) func() {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				callback()
			case <-ctx.Done():
				return
			}
		}
	}()

	return ticker.Stop
}

// Repeat calls <callback> <n> times on the calling goroutine. The first call
// happens immediately, the following ones <interval> +/- <jitter> (jitter is
// [0..1]) after the previous call returned. It stops early with the first
// callback error or when <ctx> is canceled.
func Repeat(ctx context.Context, n int, interval time.Duration, jitter float64,
	callback func(i int) error) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for i := range n {
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := callback(i); err != nil {
			return err
		}
		timer.Reset(libpf.AddJitter(interval, jitter))
	}
	return nil
}

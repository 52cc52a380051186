// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package times // import "go.opentelemetry.io/ptrace-profiler/times"

import "strconv"

// Timestamp is an optional monotonic capture instant. The zero value is unset,
// which is distinct from a captured KTime of zero.
type Timestamp struct {
	ktime KTime
	valid bool
}

// Now captures the current monotonic time.
func Now() Timestamp {
	return Timestamp{ktime: GetKTime(), valid: true}
}

// At wraps an already captured KTime.
func At(t KTime) Timestamp {
	return Timestamp{ktime: t, valid: true}
}

// KTime returns the captured time and whether it was set.
func (ts Timestamp) KTime() (KTime, bool) {
	return ts.ktime, ts.valid
}

// IsSet reports whether the timestamp holds a captured instant.
func (ts Timestamp) IsSet() bool {
	return ts.valid
}

func (ts Timestamp) String() string {
	if !ts.valid {
		return "unset"
	}
	return strconv.FormatInt(int64(ts.ktime), 10) + "ns"
}

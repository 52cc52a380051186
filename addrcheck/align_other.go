//go:build !arm64

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package addrcheck // import "go.opentelemetry.io/ptrace-profiler/addrcheck"

// codeAlign is the instruction alignment, x86 instructions are byte aligned.
const codeAlign = 1

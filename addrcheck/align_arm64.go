// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package addrcheck // import "go.opentelemetry.io/ptrace-profiler/addrcheck"

// codeAlign is the instruction alignment, A64 instructions are 4 bytes.
const codeAlign = 4

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "go.opentelemetry.io/ptrace-profiler/libpf"

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/xxh3"
)

// Address represents an address in the virtual address space of a target process.
type Address uintptr

// Hash32 returns a 32 bits hash of the input.
// It's main purpose is to be used as key for caching.
func (adr Address) Hash32() uint32 {
	return uint32(adr.Hash())
}

// Hash returns a 64 bits hash of the input.
func (adr Address) Hash() uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(adr))
	return xxh3.Hash(buf[:])
}

// AlignDown rounds the address down to a multiple of align, which must be a power of two.
func (adr Address) AlignDown(align uint64) Address {
	return adr &^ Address(align-1)
}

// IsAligned reports whether the address is a multiple of align, which must be a power of two.
func (adr Address) IsAligned(align uint64) bool {
	return uint64(adr)&(align-1) == 0
}

func (adr Address) String() string {
	return fmt.Sprintf("0x%x", uint64(adr))
}

// HashString returns a 32 bits hash of s, usable as freelru key hash callback.
func HashString(s string) uint32 {
	return uint32(xxh3.HashString(s))
}

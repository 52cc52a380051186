// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// nopanicslicereader provides little convenience utilities to read "native" endian
// values from a slice at given offset. Zeroes are returned on out of bounds access
// instead of panic.
package nopanicslicereader // import "go.opentelemetry.io/ptrace-profiler/nopanicslicereader"

import (
	"encoding/binary"
	"fmt"

	"go.opentelemetry.io/ptrace-profiler/libpf"
)

// Uint32 reads one 32-bit unsigned integer from given byte slice offset
func Uint32(b []byte, offs uint) uint32 {
	if offs+4 > uint(len(b)) {
		return 0
	}
	return binary.LittleEndian.Uint32(b[offs:])
}

// Uint64 reads one 64-bit unsigned integer from given byte slice offset
func Uint64(b []byte, offs uint) uint64 {
	if offs+8 > uint(len(b)) {
		return 0
	}
	return binary.LittleEndian.Uint64(b[offs:])
}

// Ptr reads one native sized pointer from given byte slice offset
func Ptr(b []byte, offs uint) libpf.Address {
	return libpf.Address(Uint64(b, offs))
}

// PtrAt reads the idx'th native sized pointer of a slice of pointers.
func PtrAt(b []byte, idx uint) libpf.Address {
	return Ptr(b, idx*8)
}

// FrameRecord decodes a frame record, the saved frame pointer followed by the
// return address, at given byte slice offset. Unlike the other readers it
// returns an error on out of bounds access, as a zeroed record would be
// indistinguishable from the bottom of a stack.
func FrameRecord(b []byte, offs uint) (savedFP, retAddr libpf.Address, err error) {
	if offs+16 > uint(len(b)) {
		return 0, 0, fmt.Errorf("frame record at offset %d exceeds %d byte buffer",
			offs, len(b))
	}
	return Ptr(b, offs), Ptr(b, offs+8), nil
}

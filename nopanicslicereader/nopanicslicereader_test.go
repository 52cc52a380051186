// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package nopanicslicereader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/ptrace-profiler/libpf"
)

func TestSliceReader(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	assert.Equal(t, uint32(0x03020100), Uint32(data, 0))
	assert.Equal(t, uint32(0), Uint32(data, 13))
	assert.Equal(t, uint64(0x0f0e0d0c0b0a0908), Uint64(data, 8))
	assert.Equal(t, uint64(0), Uint64(data, 9))
	assert.Equal(t, libpf.Address(0x0706050403020100), Ptr(data, 0))
	assert.Equal(t, libpf.Address(0x0f0e0d0c0b0a0908), PtrAt(data, 1))
	assert.Equal(t, libpf.Address(0), PtrAt(data, 2))
}

func TestFrameRecord(t *testing.T) {
	data := make([]byte, 24)
	data[8] = 0x10
	data[16] = 0x20

	fp, ret, err := FrameRecord(data, 8)
	require.NoError(t, err)
	assert.Equal(t, libpf.Address(0x10), fp)
	assert.Equal(t, libpf.Address(0x20), ret)

	_, _, err = FrameRecord(data, 9)
	require.Error(t, err)
	_, _, err = FrameRecord(nil, 0)
	require.Error(t, err)
}

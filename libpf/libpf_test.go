// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddressAlignment(t *testing.T) {
	tests := map[string]struct {
		addr      Address
		align     uint64
		aligned   bool
		alignDown Address
	}{
		"pointer aligned": {addr: 0x7ffd1000, align: 8, aligned: true, alignDown: 0x7ffd1000},
		"odd address":     {addr: 0x401001, align: 8, aligned: false, alignDown: 0x401000},
		"page rounding":   {addr: 0x401fff, align: 4096, aligned: false, alignDown: 0x401000},
		"byte alignment":  {addr: 0x401003, align: 1, aligned: true, alignDown: 0x401003},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.aligned, test.addr.IsAligned(test.align))
			assert.Equal(t, test.alignDown, test.addr.AlignDown(test.align))
		})
	}
}

func TestAddressHash(t *testing.T) {
	a := Address(0x7f0000001000)
	assert.Equal(t, a.Hash(), Address(0x7f0000001000).Hash())
	assert.NotEqual(t, a.Hash(), Address(0x7f0000002000).Hash())
	assert.Equal(t, uint32(a.Hash()), a.Hash32())
	assert.Equal(t, "0x7f0000001000", a.String())
}

func TestSet(t *testing.T) {
	s := Set[TID]{}
	assert.True(t, s.Add(1))
	assert.True(t, s.Add(2))
	assert.False(t, s.Add(1))
	assert.Len(t, s, 2)
	assert.ElementsMatch(t, []TID{1, 2}, s.ToSlice())
	assert.Len(t, SliceToSet([]PID{3, 3, 4}), 2)
}

func TestThreadGroupLeader(t *testing.T) {
	assert.True(t, TID(42).IsMainThread(PID(42)))
	assert.False(t, TID(43).IsMainThread(PID(42)))
	assert.Equal(t, "43", TID(43).String())
}

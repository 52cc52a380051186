// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package addrcheck

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/ptrace-profiler/libpf"
	"go.opentelemetry.io/ptrace-profiler/process"
)

var testMappings = []process.Mapping{
	{Vaddr: 0x400000, Length: 0x1000, Flags: elf.PF_R, Path: "/bin/app"},
	{Vaddr: 0x401000, Length: 0x2000, Flags: elf.PF_R | elf.PF_X, Path: "/bin/app"},
	{Vaddr: 0x7ffd0000, Length: 0x21000, Flags: elf.PF_R | elf.PF_W, Path: "[stack]"},
}

func TestStaticChecks(t *testing.T) {
	tests := map[string]struct {
		addr libpf.Address
		data bool
		code bool
	}{
		"zero":            {addr: 0},
		"below floor":     {addr: 0x8000},
		"floor":           {addr: MinUserAddress, data: true, code: true},
		"kernel":          {addr: 0xffff_8000_0000_1000},
		"ceiling":         {addr: MaxUserAddress},
		"below ceiling":   {addr: MaxUserAddress - 8, data: true, code: true},
		"unaligned data":  {addr: 0x7ffd0004, code: true},
		"typical stack":   {addr: 0x7ffd0010, data: true, code: true},
		"typical code pc": {addr: 0x401234, code: true},
	}

	var v *Validator
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.data, v.IsPlausible(tc.addr))
			assert.Equal(t, tc.code, v.IsPlausibleCode(tc.addr))
		})
	}
}

func TestMappingChecks(t *testing.T) {
	v, err := New(testMappings)
	require.NoError(t, err)
	require.True(t, v.HasMappings())

	tests := map[string]struct {
		addr libpf.Address
		data bool
		code bool
	}{
		"read-only data":   {addr: 0x400008, data: true},
		"text":             {addr: 0x401100, data: true, code: true},
		"text end":         {addr: 0x402ff8, data: true, code: true},
		"past text":        {addr: 0x403000},
		"stack":            {addr: 0x7ffd0100, data: true},
		"gap":              {addr: 0x500000},
		"before first map": {addr: 0x3ff000},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			// Query twice to go through the page cache.
			for range 2 {
				assert.Equal(t, tc.data, v.IsPlausible(tc.addr))
				assert.Equal(t, tc.code, v.IsPlausibleCode(tc.addr))
			}
		})
	}
}

func TestUpdate(t *testing.T) {
	v, err := New(nil)
	require.NoError(t, err)
	assert.False(t, v.HasMappings())
	assert.True(t, v.IsPlausible(0x500000))

	// Unsorted input is accepted.
	v.Update([]process.Mapping{testMappings[2], testMappings[0], testMappings[1]})
	assert.True(t, v.HasMappings())
	assert.False(t, v.IsPlausible(0x500000))
	assert.True(t, v.IsPlausibleCode(0x401000))

	m, ok := v.Mapping(0x7ffd0100)
	require.True(t, ok)
	assert.Equal(t, "[stack]", m.Path)

	v.Update(nil)
	assert.True(t, v.IsPlausible(0x500000))
}

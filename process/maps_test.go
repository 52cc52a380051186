// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"debug/elf"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//nolint:lll
var testMappings = `55fe82710000-55fe8273c000 r--p 00000000 fd:01 1068432                    /tmp/usr_bin_seahorse
55fe8273c000-55fe827be000 r-xp 0002c000 fd:01 1068432                    /tmp/usr_bin_seahorse
55fe8283d000-55fe8283e000 rw-p 0012c000 fd:01 1068432                    /tmp/usr_bin_seahorse (deleted)
55fe8283e000-55fe8283f000 ---p 00000000 00:00 0
7f63c8c3e000-7f63c8de0000 r-xp 00085000 08:01 1048922                    /tmp/lib with space.so
7f63c8eef000-7f63c8fdf000 r-xp 0001c000 1fd:01
7f63c8eef000-7f63c8fdf000 r-xp 0001c000 1fd.01 1075944
7f63c8eef000-7f63c8fdf000 r- 0001c000 1fd:01 1075944
7f63c8eef000 r-xp 0001c000 1fd:01 1075944
7ffc2d1d0000-7ffc2d1f1000 rw-p 00000000 00:00 0                          [stack]
7f8b929f0000-7f8b92a00000 r-xp 00000000 00:00 0 
7ffc2d1f9000-7ffc2d1fb000 r-xp 00000000 00:00 0                          [vdso]`

func TestParseMappings(t *testing.T) {
	mappings, numParseErrors, err := ParseMappings(strings.NewReader(testMappings))
	require.NoError(t, err)
	require.Equal(t, uint32(4), numParseErrors)

	expected := []Mapping{
		{
			Vaddr:      0x55fe82710000,
			Device:     0xfd01,
			Flags:      elf.PF_R,
			Inode:      1068432,
			Length:     0x2c000,
			FileOffset: 0,
			Path:       "/tmp/usr_bin_seahorse",
		},
		{
			Vaddr:      0x55fe8273c000,
			Device:     0xfd01,
			Flags:      elf.PF_R + elf.PF_X,
			Inode:      1068432,
			Length:     0x82000,
			FileOffset: 0x2c000,
			Path:       "/tmp/usr_bin_seahorse",
		},
		{
			Vaddr:      0x55fe8283d000,
			Device:     0xfd01,
			Flags:      elf.PF_R + elf.PF_W,
			Inode:      1068432,
			Length:     0x1000,
			FileOffset: 0x12c000,
			Path:       "/tmp/usr_bin_seahorse",
		},
		{
			Vaddr:      0x7f63c8c3e000,
			Device:     0x801,
			Flags:      elf.PF_R + elf.PF_X,
			Inode:      1048922,
			Length:     0x1a2000,
			FileOffset: 0x85000,
			Path:       "/tmp/lib with space.so",
		},
		{
			Vaddr:  0x7f8b929f0000,
			Flags:  elf.PF_R + elf.PF_X,
			Length: 0x10000,
		},
		{
			Vaddr:  0x7ffc2d1d0000,
			Flags:  elf.PF_R + elf.PF_W,
			Length: 0x21000,
			Path:   "[stack]",
		},
		{
			Vaddr:  0x7ffc2d1f9000,
			Flags:  elf.PF_R + elf.PF_X,
			Length: 0x2000,
			Path:   VdsoPathName,
		},
	}
	assert.Equal(t, expected, mappings)

	assert.True(t, mappings[5].IsPseudo())
	assert.True(t, mappings[5].IsAnonymous())
	assert.True(t, mappings[6].IsVDSO())
	assert.True(t, mappings[1].IsExecutable())
	assert.False(t, mappings[1].IsAnonymous())
	assert.True(t, mappings[1].Contains(0x55fe8273c000))
	assert.False(t, mappings[1].Contains(0x55fe827be000))
}

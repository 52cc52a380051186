// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "go.opentelemetry.io/ptrace-profiler/process"

import (
	"bufio"
	"debug/elf"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// mappingParseBufferSize defines the initial buffer size used to store lines from
// /proc/PID/maps during parsing of mappings.
const mappingParseBufferSize = 256

var bufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, mappingParseBufferSize)
		return &buf
	},
}

func trimMappingPath(path string) string {
	// Trim the deleted indication from the path.
	// See path_with_deleted in linux/fs/d_path.c
	path = strings.TrimSuffix(path, " (deleted)")
	if path == "/dev/zero" {
		// Some JIT engines map JIT area from /dev/zero
		// make it anonymous.
		return ""
	}
	return path
}

// ParseMappings parses the /proc/PID/maps format. Mappings that are neither
// readable nor executable are dropped. The result is sorted by address.
func ParseMappings(mapsFile io.Reader) ([]Mapping, uint32, error) {
	numParseErrors := uint32(0)
	mappings := make([]Mapping, 0, 32)
	scanner := bufio.NewScanner(mapsFile)
	scanBuf := bufPool.Get().(*[]byte)
	if scanBuf == nil {
		return mappings, 0, errors.New("failed to get memory from sync pool")
	}
	defer bufPool.Put(scanBuf)

	scanner.Buffer(*scanBuf, 8192)
	for scanner.Scan() {
		// The path is the sixth column and may itself contain spaces.
		fields := strings.SplitN(scanner.Text(), " ", 6)
		if len(fields) < 5 {
			numParseErrors++
			continue
		}
		path := ""
		if len(fields) == 6 {
			path = strings.TrimLeft(fields[5], " ")
		}

		start, end, ok := strings.Cut(fields[0], "-")
		if !ok {
			numParseErrors++
			continue
		}
		mapsFlags := fields[1]
		if len(mapsFlags) < 3 {
			numParseErrors++
			continue
		}
		flags := elf.ProgFlag(0)
		if mapsFlags[0] == 'r' {
			flags |= elf.PF_R
		}
		if mapsFlags[1] == 'w' {
			flags |= elf.PF_W
		}
		if mapsFlags[2] == 'x' {
			flags |= elf.PF_X
		}

		// Ignore non-readable and non-executable mappings
		if flags&(elf.PF_R|elf.PF_X) == 0 {
			continue
		}

		major, minor, ok := strings.Cut(fields[3], ":")
		if !ok {
			numParseErrors++
			continue
		}

		var values [6]uint64
		var err error
		for i, field := range []struct {
			text string
			base int
		}{
			{start, 16}, {end, 16}, {fields[2], 16}, {fields[4], 10}, {major, 16}, {minor, 16},
		} {
			if values[i], err = strconv.ParseUint(field.text, field.base, 64); err != nil {
				break
			}
		}
		if err != nil {
			log.Debugf("Failed to parse mapping %q: %v", scanner.Text(), err)
			numParseErrors++
			continue
		}
		if values[1] < values[0] {
			numParseErrors++
			continue
		}

		if values[3] != 0 {
			path = trimMappingPath(path)
		}
		mappings = append(mappings, Mapping{
			Vaddr:      values[0],
			Length:     values[1] - values[0],
			Flags:      flags,
			FileOffset: values[2],
			Device:     values[4]<<8 + values[5],
			Inode:      values[3],
			Path:       path,
		})
	}
	sort.Slice(mappings, func(i, j int) bool {
		return mappings[i].Vaddr < mappings[j].Vaddr
	})
	return mappings, numParseErrors, scanner.Err()
}

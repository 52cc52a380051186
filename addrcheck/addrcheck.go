// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package addrcheck decides whether an address is plausibly dereferenceable in
// a target process before a remote read is attempted. The checks are a
// heuristic gate that cuts down failed reads; a plausible address can still
// fail to read and callers must handle that.
package addrcheck // import "go.opentelemetry.io/ptrace-profiler/addrcheck"

import (
	"sort"

	lru "github.com/elastic/go-freelru"

	"go.opentelemetry.io/ptrace-profiler/libpf"
	"go.opentelemetry.io/ptrace-profiler/process"
)

const (
	// MinUserAddress is the lowest address considered mappable. It matches the
	// default of the vm.mmap_min_addr sysctl.
	MinUserAddress libpf.Address = 0x10000

	// MaxUserAddress is the first address above user space for 48-bit virtual
	// addressing on amd64 and arm64. Everything at or above it is kernel space
	// or non-canonical.
	MaxUserAddress libpf.Address = 0x0000_8000_0000_0000

	// PtrAlign is the alignment required for pointer sized data reads.
	PtrAlign = 8

	pageSize = 4096

	// pageCacheSize is the number of page lookups memoised per validator.
	pageCacheSize = 4096
)

// pageClass is a bitmask describing the protection of a page.
type pageClass uint8

const (
	pageMapped pageClass = 1 << iota
	pageReadable
	pageExecutable
)

// Validator checks addresses against static bounds and, when available, the
// target's mapping table.
// A nil *Validator performs only the static checks.
type Validator struct {
	mappings []process.Mapping
	pages    *lru.LRU[libpf.Address, pageClass]
}

// New creates a Validator for the given mappings, which must be sorted by
// address. An empty table disables the mapping cross-check.
func New(mappings []process.Mapping) (*Validator, error) {
	pages, err := lru.New[libpf.Address, pageClass](pageCacheSize, libpf.Address.Hash32)
	if err != nil {
		return nil, err
	}
	v := &Validator{pages: pages}
	v.Update(mappings)
	return v, nil
}

// Update replaces the mapping table and forgets memoised lookups.
func (v *Validator) Update(mappings []process.Mapping) {
	if !sort.SliceIsSorted(mappings, func(i, j int) bool {
		return mappings[i].Vaddr < mappings[j].Vaddr
	}) {
		sorted := make([]process.Mapping, len(mappings))
		copy(sorted, mappings)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].Vaddr < sorted[j].Vaddr
		})
		mappings = sorted
	}
	v.mappings = mappings
	v.pages.Purge()
}

// Mappings returns the mapping table, sorted by address. It must not be modified.
func (v *Validator) Mappings() []process.Mapping {
	if v == nil {
		return nil
	}
	return v.mappings
}

// HasMappings reports whether lookups are cross-checked against a mapping table.
func (v *Validator) HasMappings() bool {
	return v != nil && len(v.mappings) > 0
}

// inUserRange implements the static part of the checks.
func inUserRange(addr libpf.Address) bool {
	return addr >= MinUserAddress && addr < MaxUserAddress
}

// IsPlausible reports whether addr may be read as pointer sized data, such as a
// frame pointer or a stack slot.
func (v *Validator) IsPlausible(addr libpf.Address) bool {
	if !inUserRange(addr) || !addr.IsAligned(PtrAlign) {
		return false
	}
	if !v.HasMappings() {
		return true
	}
	return v.classify(addr)&pageReadable != 0
}

// IsPlausibleCode reports whether addr may be an instruction address, such as
// a program counter or a return address.
func (v *Validator) IsPlausibleCode(addr libpf.Address) bool {
	if !inUserRange(addr) || !addr.IsAligned(codeAlign) {
		return false
	}
	if !v.HasMappings() {
		return true
	}
	return v.classify(addr)&pageExecutable != 0
}

// Mapping returns the mapping containing addr, if any.
func (v *Validator) Mapping(addr libpf.Address) (*process.Mapping, bool) {
	if v == nil {
		return nil, false
	}
	idx := sort.Search(len(v.mappings), func(i int) bool {
		return v.mappings[i].End() > uint64(addr)
	})
	if idx < len(v.mappings) && v.mappings[idx].Contains(addr) {
		return &v.mappings[idx], true
	}
	return nil, false
}

func (v *Validator) classify(addr libpf.Address) pageClass {
	page := addr.AlignDown(pageSize)
	if class, ok := v.pages.Get(page); ok {
		return class
	}

	var class pageClass
	if m, ok := v.Mapping(page); ok {
		class |= pageMapped
		if m.IsReadable() {
			class |= pageReadable
		}
		if m.IsExecutable() {
			class |= pageExecutable
		}
	}
	v.pages.Add(page, class)
	return class
}

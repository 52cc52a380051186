// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package unwindtable loads the call frame information (.eh_frame and
// .debug_frame) of the ELF files mapped into a target and resolves the unwind
// rules in effect at a given instruction address.
package unwindtable // import "go.opentelemetry.io/ptrace-profiler/unwinder/unwindtable"

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	lru "github.com/elastic/go-freelru"
	"github.com/go-delve/delve/pkg/dwarf/frame"
	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/ptrace-profiler/libpf"
	"go.opentelemetry.io/ptrace-profiler/process"
	"go.opentelemetry.io/ptrace-profiler/remotememory"
)

// fileCacheSize is the number of ELF files whose tables are kept.
const fileCacheSize = 256

var errNoBackingFile = errors.New("mapping has no backing file")

// MappingLookup finds the mapping containing an address.
type MappingLookup interface {
	Mapping(addr libpf.Address) (*process.Mapping, bool)
}

// Opener gives access to the contents backing a mapping.
type Opener interface {
	OpenMappingFile(*process.Mapping) (process.ReadAtCloser, error)
	RemoteMemory() remotememory.RemoteMemory
}

// Table holds the frame description entries of one ELF file, with addresses
// relative to the file's own virtual address layout.
type Table struct {
	fdes  frame.FrameDescriptionEntries
	loads []elf.ProgHeader
}

// fileAddress translates pc, located in mapping m, to the file's virtual address.
func (t *Table) fileAddress(m *process.Mapping, pc libpf.Address) (uint64, bool) {
	off := uint64(pc) - m.Vaddr + m.FileOffset
	for i := range t.loads {
		p := &t.loads[i]
		if off >= p.Off && off < p.Off+p.Filesz {
			return off - p.Off + p.Vaddr, true
		}
	}
	return 0, false
}

// FDEs returns the entries sorted by start address.
func (t *Table) FDEs() frame.FrameDescriptionEntries {
	return t.fdes
}

// Lookup returns the unwind rules in effect at the file address addr.
func (t *Table) Lookup(addr uint64) (*frame.FrameContext, bool) {
	fde, err := t.fdes.FDEForPC(addr)
	if err != nil {
		return nil, false
	}
	return fde.EstablishFrame(addr), true
}

// Store resolves unwind rules for one target process. It is not safe for
// concurrent use.
type Store struct {
	opener   Opener
	mappings MappingLookup
	// tables caches parsed files by path. A nil entry records a file
	// without usable call frame information.
	tables *lru.LRU[string, *Table]
}

// New creates a Store reading files through opener.
func New(opener Opener, mappings MappingLookup) (*Store, error) {
	tables, err := lru.New[string, *Table](fileCacheSize, libpf.HashString)
	if err != nil {
		return nil, err
	}
	return &Store{
		opener:   opener,
		mappings: mappings,
		tables:   tables,
	}, nil
}

// Purge forgets all loaded tables.
func (s *Store) Purge() {
	s.tables.Purge()
}

// FrameContext returns the unwind rules in effect at pc.
func (s *Store) FrameContext(pc libpf.Address) (*frame.FrameContext, bool) {
	m, ok := s.mappings.Mapping(pc)
	if !ok || !m.IsExecutable() {
		return nil, false
	}
	t := s.tableFor(m)
	if t == nil {
		return nil, false
	}
	addr, ok := t.fileAddress(m, pc)
	if !ok {
		return nil, false
	}
	return t.Lookup(addr)
}

func (s *Store) tableFor(m *process.Mapping) *Table {
	if t, ok := s.tables.Get(m.Path); ok {
		return t
	}
	t, err := s.load(m)
	if err != nil {
		log.Debugf("No unwind tables for %s: %v", m.Path, err)
		t = nil
	}
	s.tables.Add(m.Path, t)
	return t
}

func (s *Store) load(m *process.Mapping) (*Table, error) {
	if m.IsVDSO() {
		// The vDSO is not backed by a file but is mapped as a complete image.
		rm := s.opener.RemoteMemory()
		if !rm.Valid() {
			return nil, errNoBackingFile
		}
		return Load(io.NewSectionReader(rm, int64(m.Vaddr), int64(m.Length)))
	}
	if m.IsAnonymous() {
		return nil, errNoBackingFile
	}
	f, err := s.opener.OpenMappingFile(m)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Load parses the call frame information sections of an ELF image.
func Load(r io.ReaderAt) (*Table, error) {
	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	defer ef.Close()

	t := &Table{}
	for _, p := range ef.Progs {
		if p.Type == elf.PT_LOAD {
			t.loads = append(t.loads, p.ProgHeader)
		}
	}
	ptrSize := 8
	if ef.Class == elf.ELFCLASS32 {
		ptrSize = 4
	}

	if sec := ef.Section(".eh_frame"); sec != nil && sec.Type != elf.SHT_NOBITS {
		fdes, err := parseSection(sec, ef.ByteOrder, ptrSize, sec.Addr)
		if err != nil {
			return nil, fmt.Errorf(".eh_frame: %w", err)
		}
		t.fdes = append(t.fdes, fdes...)
	}
	if sec := ef.Section(".debug_frame"); sec != nil && sec.Type != elf.SHT_NOBITS {
		fdes, err := parseSection(sec, ef.ByteOrder, ptrSize, 0)
		if err != nil {
			return nil, fmt.Errorf(".debug_frame: %w", err)
		}
		t.fdes = append(t.fdes, fdes...)
	}
	if len(t.fdes) == 0 {
		return nil, errors.New("no call frame information")
	}
	sort.SliceStable(t.fdes, func(i, j int) bool {
		return t.fdes[i].Begin() < t.fdes[j].Begin()
	})
	return t, nil
}

// parseSection decodes one call frame information section. A non-zero
// ehFrameAddr selects the .eh_frame encoding.
func parseSection(sec *elf.Section, order binary.ByteOrder, ptrSize int,
	ehFrameAddr uint64) (fdes frame.FrameDescriptionEntries, err error) {
	data, err := sec.Data()
	if err != nil {
		return nil, err
	}
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			fdes, err = nil, fmt.Errorf("malformed section: %v", r)
		}
	}()
	return frame.Parse(data, order, 0, ptrSize, ehFrameAddr)
}

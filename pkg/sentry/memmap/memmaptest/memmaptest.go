// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package memmaptest provides in-memory implementations of memmap.File and
// memmap.MappingSpace with failure injection, for use in tests.
package memmaptest

import (
	"fmt"
	"sort"

	"gvisor.dev/paging/pkg/errors/linuxerr"
	"gvisor.dev/paging/pkg/hostarch"
	"gvisor.dev/paging/pkg/sentry/memmap"
	"gvisor.dev/paging/pkg/sync"
)

// File is a memmap.File backed by Go memory.
//
// File is safe for concurrent use.
type File struct {
	mu sync.Mutex

	// pages maps the offset of each live page to its contents.
	pages map[uint64][]byte

	// free holds offsets of freed pages available for reuse.
	free []uint64

	// size is the offset one past the highest page ever allocated.
	size uint64

	// attempts counts calls to AllocatePage.
	attempts int

	// failAt holds 1-based AllocatePage attempt numbers that must fail.
	failAt map[int]struct{}

	// limit is the maximum number of live pages, or 0 for no limit.
	limit int

	// frees counts successful calls to FreePage.
	frees int
}

// NewFile returns an empty File.
func NewFile() *File {
	return &File{
		pages:  make(map[uint64][]byte),
		failAt: make(map[int]struct{}),
	}
}

// FailAllocation causes the n-th call to AllocatePage (counting from 1, over
// the lifetime of f) to return linuxerr.ENOMEM.
func (f *File) FailAllocation(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAt[n] = struct{}{}
}

// SetLimit bounds the number of live pages. 0 removes the bound.
func (f *File) SetLimit(pages int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = pages
}

// AllocatePage implements memmap.File.AllocatePage.
func (f *File) AllocatePage() (memmap.FileRange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if _, ok := f.failAt[f.attempts]; ok {
		return memmap.FileRange{}, linuxerr.ENOMEM
	}
	if f.limit != 0 && len(f.pages) >= f.limit {
		return memmap.FileRange{}, linuxerr.ENOMEM
	}
	var off uint64
	if n := len(f.free); n != 0 {
		off = f.free[n-1]
		f.free = f.free[:n-1]
	} else {
		off = f.size
		f.size += hostarch.PageSize
	}
	f.pages[off] = make([]byte, hostarch.PageSize)
	return memmap.FileRange{Start: off, End: off + hostarch.PageSize}, nil
}

// FreePage implements memmap.File.FreePage. It panics if fr is not a live
// page.
func (f *File) FreePage(fr memmap.FileRange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fr.Length() != hostarch.PageSize {
		panic(fmt.Sprintf("FreePage(%v): not a single page", fr))
	}
	if _, ok := f.pages[fr.Start]; !ok {
		panic(fmt.Sprintf("FreePage(%v): page is not allocated", fr))
	}
	delete(f.pages, fr.Start)
	f.free = append(f.free, fr.Start)
	f.frees++
}

// MapInternal implements memmap.File.MapInternal.
func (f *File) MapInternal(fr memmap.FileRange) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[hostarch.PageRoundDown(fr.Start)]
	if !ok || fr.Length() > hostarch.PageSize-hostarch.Addr(fr.Start).PageOffset() {
		return nil, linuxerr.EFAULT
	}
	off := hostarch.Addr(fr.Start).PageOffset()
	return p[off : off+fr.Length()], nil
}

// Live returns the number of allocated, unfreed pages.
func (f *File) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pages)
}

// Frees returns the number of successful FreePage calls.
func (f *File) Frees() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frees
}

// IsLive returns true if fr.Start is an allocated, unfreed page.
func (f *File) IsLive(fr memmap.FileRange) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.pages[fr.Start]
	return ok
}

// Translation records one successful MappingSpace.MapFile call.
type Translation struct {
	AR hostarch.AddrRange
	FR memmap.FileRange
}

// MappingSpace is a memmap.MappingSpace that records installed translations.
//
// MappingSpace is safe for concurrent use.
type MappingSpace struct {
	id uint64

	mu sync.Mutex

	// ptes maps page-aligned addresses to installed pages.
	ptes map[hostarch.Addr]memmap.FileRange

	// failAt maps addresses to errors returned by MapFile.
	failAt map[hostarch.Addr]error
}

// NewMappingSpace returns an empty MappingSpace with the given ID.
func NewMappingSpace(id uint64) *MappingSpace {
	return &MappingSpace{
		id:     id,
		ptes:   make(map[hostarch.Addr]memmap.FileRange),
		failAt: make(map[hostarch.Addr]error),
	}
}

// FailMapFile causes MapFile of the page at addr to return err.
func (ms *MappingSpace) FailMapFile(addr hostarch.Addr, err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.failAt[addr.RoundDown()] = err
}

// ID implements memmap.MappingSpace.ID.
func (ms *MappingSpace) ID() uint64 {
	return ms.id
}

// MapFile implements memmap.MappingSpace.MapFile.
func (ms *MappingSpace) MapFile(ar hostarch.AddrRange, f memmap.File, fr memmap.FileRange, at hostarch.AccessType) error {
	if !ar.IsPageAligned() || !fr.IsPageAligned() || ar.Length() != fr.Length() || ar.Length() == 0 {
		return linuxerr.EINVAL
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for addr := ar.Start; addr < ar.End; addr += hostarch.PageSize {
		if err, ok := ms.failAt[addr]; ok {
			return err
		}
		if _, ok := ms.ptes[addr]; ok {
			return linuxerr.EEXIST
		}
	}
	for addr := ar.Start; addr < ar.End; addr += hostarch.PageSize {
		off := fr.Start + uint64(addr-ar.Start)
		ms.ptes[addr] = memmap.FileRange{Start: off, End: off + hostarch.PageSize}
	}
	return nil
}

// Lookup returns the page installed at addr's page, if any.
func (ms *MappingSpace) Lookup(addr hostarch.Addr) (memmap.FileRange, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	fr, ok := ms.ptes[addr.RoundDown()]
	return fr, ok
}

// Translations returns all installed translations ordered by address.
func (ms *MappingSpace) Translations() []Translation {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ts := make([]Translation, 0, len(ms.ptes))
	for addr, fr := range ms.ptes {
		ts = append(ts, Translation{AR: hostarch.AddrRange{Start: addr, End: addr + hostarch.PageSize}, FR: fr})
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].AR.Start < ts[j].AR.Start })
	return ts
}

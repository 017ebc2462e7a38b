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

// Package pgalloc contains the page allocator for the paging device.
//
// MemoryFile allocates single pages from a host memfd. The file grows in
// chunks, each of which is mapped into the sentry once so that pages can be
// accessed without further system calls. Freed pages are returned to the
// host by punching a hole in the file, so they read as zero when reused.
package pgalloc

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
	"gvisor.dev/paging/pkg/bitmap"
	"gvisor.dev/paging/pkg/errors/linuxerr"
	"gvisor.dev/paging/pkg/hostarch"
	"gvisor.dev/paging/pkg/log"
	"gvisor.dev/paging/pkg/sentry/memmap"
	"gvisor.dev/paging/pkg/sync"
)

const (
	// chunkShift is log2(chunkSize).
	chunkShift = 21

	// chunkSize is the granularity at which the file is grown and mapped.
	chunkSize = 1 << chunkShift

	// chunkPages is the number of pages in a chunk. It is a multiple of 64,
	// so the allocation bitmap never has bits beyond the end of the file.
	chunkPages = chunkSize / hostarch.PageSize

	// maxPages bounds the file size to what the allocation bitmap can
	// index.
	maxPages = uint64(bitmap.MaxBitEntryLimit) &^ (chunkPages - 1)
)

// MemoryFileOpts provides options to NewMemoryFile.
type MemoryFileOpts struct {
	// Name is the name of the memfd, visible in /proc/self/fd.
	Name string

	// LimitPages is the maximum number of pages that may be allocated at
	// once. If LimitPages is 0, the only limit is the host's.
	LimitPages uint64
}

// MemoryFile is a memmap.File whose pages are allocated from a host memfd.
//
// MemoryFile is safe for concurrent use.
type MemoryFile struct {
	opts MemoryFileOpts

	// file is the backing memfd. file is immutable.
	file *os.File

	mu sync.Mutex

	// allocated contains the index of every allocated page. Its size is the
	// number of pages in the file. allocated is protected by mu.
	allocated bitmap.Bitmap

	// chunks holds the internal mapping of each chunk of the file. chunks is
	// protected by mu.
	chunks [][]byte

	// destroyed is set by Destroy. destroyed is protected by mu.
	destroyed bool
}

// NewMemoryFile creates a MemoryFile backed by a new memfd.
func NewMemoryFile(opts MemoryFileOpts) (*MemoryFile, error) {
	if opts.Name == "" {
		opts.Name = "paging-memory"
	}
	if !hostarch.HostPageSizeCompatible() {
		return nil, fmt.Errorf("host page size %d exceeds %d", os.Getpagesize(), hostarch.PageSize)
	}
	fd, err := unix.MemfdCreate(opts.Name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create(%q) failed: %w", opts.Name, err)
	}
	return &MemoryFile{
		opts: opts,
		file: os.NewFile(uintptr(fd), opts.Name),
	}, nil
}

// FD returns the host file descriptor of the backing memfd.
func (f *MemoryFile) FD() int {
	return int(f.file.Fd())
}

// AllocatePage implements memmap.File.AllocatePage.
func (f *MemoryFile) AllocatePage() (memmap.FileRange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed {
		panic("pgalloc: AllocatePage on destroyed MemoryFile")
	}
	if f.opts.LimitPages != 0 && uint64(f.allocated.GetNumOnes()) >= f.opts.LimitPages {
		return memmap.FileRange{}, linuxerr.ENOMEM
	}
	page, err := f.allocated.FirstZero(0)
	if err != nil {
		page = uint32(len(f.chunks) * chunkPages)
		if err := f.growLocked(); err != nil {
			log.Warningf("pgalloc: growing %s failed: %v", f.opts.Name, err)
			return memmap.FileRange{}, linuxerr.ENOMEM
		}
	}
	f.allocated.Add(page)
	start := uint64(page) << hostarch.PageShift
	return memmap.FileRange{Start: start, End: start + hostarch.PageSize}, nil
}

// growLocked extends the file by one chunk and maps it.
//
// Preconditions: f.mu must be locked.
func (f *MemoryFile) growLocked() error {
	off := int64(len(f.chunks)) * chunkSize
	if uint64(off+chunkSize)/hostarch.PageSize > maxPages {
		return fmt.Errorf("file would exceed %d pages", maxPages)
	}
	if err := f.file.Truncate(off + chunkSize); err != nil {
		return err
	}
	m, err := unix.Mmap(f.FD(), off, chunkSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.file.Truncate(off)
		return fmt.Errorf("mmap of chunk at %#x failed: %w", off, err)
	}
	if err := f.allocated.Grow(chunkPages); err != nil {
		unix.Munmap(m)
		f.file.Truncate(off)
		return err
	}
	f.chunks = append(f.chunks, m)
	return nil
}

// FreePage implements memmap.File.FreePage.
func (f *MemoryFile) FreePage(fr memmap.FileRange) {
	if fr.Length() != hostarch.PageSize || !fr.IsPageAligned() {
		panic(fmt.Sprintf("pgalloc: FreePage(%v): not a single page", fr))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	page := uint32(fr.PageNumber())
	if !f.allocated.Contains(page) {
		panic(fmt.Sprintf("pgalloc: FreePage(%v): page is not allocated", fr))
	}
	if err := unix.Fallocate(f.FD(), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, int64(fr.Start), int64(fr.Length())); err != nil {
		// The page will be reused; make sure it still reads as zero.
		log.Debugf("pgalloc: punching hole at %v failed, zeroing instead: %v", fr, err)
		clear(f.sliceLocked(fr))
	}
	f.allocated.Remove(page)
}

// MapInternal implements memmap.File.MapInternal.
func (f *MemoryFile) MapInternal(fr memmap.FileRange) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !fr.WellFormed() || fr.Length() == 0 || fr.Start>>chunkShift != (fr.End-1)>>chunkShift || fr.Start>>chunkShift >= uint64(len(f.chunks)) {
		return nil, linuxerr.EFAULT
	}
	return f.sliceLocked(fr), nil
}

// sliceLocked returns the internal mapping of fr.
//
// Preconditions:
//   - f.mu must be locked.
//   - fr must lie within one mapped chunk.
func (f *MemoryFile) sliceLocked(fr memmap.FileRange) []byte {
	chunk := f.chunks[fr.Start>>chunkShift]
	off := fr.Start & (chunkSize - 1)
	return chunk[off : off+fr.Length()]
}

// AllocatedPages returns the number of pages currently allocated.
func (f *MemoryFile) AllocatedPages() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(f.allocated.GetNumOnes())
}

// FileSize returns the current size of the backing file in bytes.
func (f *MemoryFile) FileSize() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.chunks)) * chunkSize
}

// Destroy releases all resources used by f.
//
// Preconditions: All pages allocated by f have been freed.
func (f *MemoryFile) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed {
		return
	}
	f.destroyed = true
	if n := f.allocated.GetNumOnes(); n != 0 {
		log.Warningf("pgalloc: destroying %s with %d pages still allocated", f.opts.Name, n)
	}
	for _, m := range f.chunks {
		if err := unix.Munmap(m); err != nil {
			log.Warningf("pgalloc: munmap failed: %v", err)
		}
	}
	f.chunks = nil
	f.file.Close()
}

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

package pgalloc

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/paging/pkg/errors/linuxerr"
	"gvisor.dev/paging/pkg/hostarch"
	"gvisor.dev/paging/pkg/sentry/memmap"
)

func newTestMemoryFile(t *testing.T, limit uint64) *MemoryFile {
	t.Helper()
	f, err := NewMemoryFile(MemoryFileOpts{Name: t.Name(), LimitPages: limit})
	if err != nil {
		t.Skipf("memfd unavailable: %v", err)
	}
	t.Cleanup(f.Destroy)
	return f
}

func mustAllocate(t *testing.T, f *MemoryFile) memmap.FileRange {
	t.Helper()
	fr, err := f.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	return fr
}

func TestAllocateReusesLowestFreePage(t *testing.T) {
	f := newTestMemoryFile(t, 0)
	var frs []memmap.FileRange
	for i := 0; i < 4; i++ {
		frs = append(frs, mustAllocate(t, f))
	}
	want := []memmap.FileRange{
		{Start: 0, End: hostarch.PageSize},
		{Start: hostarch.PageSize, End: 2 * hostarch.PageSize},
		{Start: 2 * hostarch.PageSize, End: 3 * hostarch.PageSize},
		{Start: 3 * hostarch.PageSize, End: 4 * hostarch.PageSize},
	}
	if diff := cmp.Diff(want, frs); diff != "" {
		t.Errorf("allocated pages mismatch (-want +got):\n%s", diff)
	}
	f.FreePage(frs[2])
	f.FreePage(frs[1])
	if got := mustAllocate(t, f); got != frs[1] {
		t.Errorf("AllocatePage after free: got %v, want %v", got, frs[1])
	}
	if got, want := f.AllocatedPages(), uint64(3); got != want {
		t.Errorf("AllocatedPages: got %d, want %d", got, want)
	}
	if got, want := f.FileSize(), uint64(chunkSize); got != want {
		t.Errorf("FileSize: got %d, want %d", got, want)
	}
}

func TestFreedPageReadsZero(t *testing.T) {
	f := newTestMemoryFile(t, 0)
	fr := mustAllocate(t, f)
	b, err := f.MapInternal(fr)
	if err != nil {
		t.Fatalf("MapInternal: %v", err)
	}
	copy(b, bytes.Repeat([]byte{0xaa}, len(b)))
	f.FreePage(fr)

	fr2 := mustAllocate(t, f)
	if fr2 != fr {
		t.Fatalf("AllocatePage did not reuse %v, got %v", fr, fr2)
	}
	b, err = f.MapInternal(fr2)
	if err != nil {
		t.Fatalf("MapInternal: %v", err)
	}
	if !bytes.Equal(b, make([]byte, hostarch.PageSize)) {
		t.Errorf("reused page is not zero")
	}
}

func TestGrowAcrossChunks(t *testing.T) {
	f := newTestMemoryFile(t, 0)
	var last memmap.FileRange
	for i := 0; i < chunkPages+1; i++ {
		last = mustAllocate(t, f)
	}
	if want := uint64(chunkSize); last.Start != want {
		t.Errorf("first page of second chunk: got %v, want start %#x", last, want)
	}
	if got, want := f.FileSize(), uint64(2*chunkSize); got != want {
		t.Errorf("FileSize: got %d, want %d", got, want)
	}
	b, err := f.MapInternal(last)
	if err != nil {
		t.Fatalf("MapInternal: %v", err)
	}
	b[0] = 1
	if _, err := f.MapInternal(memmap.FileRange{Start: chunkSize - hostarch.PageSize, End: chunkSize + hostarch.PageSize}); !linuxerr.Equals(linuxerr.EFAULT, err) {
		t.Errorf("MapInternal across chunks: got %v, want EFAULT", err)
	}
	if _, err := f.MapInternal(memmap.FileRange{Start: 4 * chunkSize, End: 4*chunkSize + 1}); !linuxerr.Equals(linuxerr.EFAULT, err) {
		t.Errorf("MapInternal beyond the file: got %v, want EFAULT", err)
	}
}

func TestLimit(t *testing.T) {
	f := newTestMemoryFile(t, 2)
	fr := mustAllocate(t, f)
	mustAllocate(t, f)
	if _, err := f.AllocatePage(); !linuxerr.Equals(linuxerr.ENOMEM, err) {
		t.Fatalf("AllocatePage beyond limit: got %v, want ENOMEM", err)
	}
	f.FreePage(fr)
	mustAllocate(t, f)
}

func TestDoubleFreePanics(t *testing.T) {
	f := newTestMemoryFile(t, 0)
	fr := mustAllocate(t, f)
	f.FreePage(fr)
	defer func() {
		if recover() == nil {
			t.Errorf("second FreePage did not panic")
		}
	}()
	f.FreePage(fr)
}

func TestContext(t *testing.T) {
	f := newTestMemoryFile(t, 0)
	ctx := WithMemoryFile(context.Background(), f)
	if got := MemoryFileFromContext(ctx); got != f {
		t.Errorf("MemoryFileFromContext: got %p, want %p", got, f)
	}
	if got := MemoryFileFromContext(context.Background()); got != nil {
		t.Errorf("MemoryFileFromContext of empty context: got %p, want nil", got)
	}
}

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

package mm

import (
	"context"

	"gvisor.dev/paging/pkg/errors/linuxerr"
	"gvisor.dev/paging/pkg/hostarch"
)

// findVMALocked returns the vma containing addr, or nil.
//
// Preconditions: mm.mappingMu must be locked.
func (mm *MemoryManager) findVMALocked(addr hostarch.Addr) *vma {
	var found *vma
	mm.vmas.DescendLessOrEqual(&vma{ar: hostarch.AddrRange{Start: addr}}, func(v *vma) bool {
		found = v
		return false
	})
	if found == nil || !found.ar.Contains(addr) {
		return nil
	}
	return found
}

// overlappingLocked returns the vmas that overlap ar, in address order.
//
// Preconditions: mm.mappingMu must be locked.
func (mm *MemoryManager) overlappingLocked(ar hostarch.AddrRange) []*vma {
	var vmas []*vma
	if v := mm.findVMALocked(ar.Start); v != nil && v.ar.Start < ar.Start {
		vmas = append(vmas, v)
	}
	mm.vmas.AscendGreaterOrEqual(&vma{ar: hostarch.AddrRange{Start: ar.Start}}, func(v *vma) bool {
		if v.ar.Start >= ar.End {
			return false
		}
		vmas = append(vmas, v)
		return true
	})
	return vmas
}

// findAvailableLocked returns the lowest unmapped range of the given length
// starting at or above hint.
//
// Preconditions:
//   - mm.mappingMu must be locked.
//   - length must be page-aligned and non-zero.
func (mm *MemoryManager) findAvailableLocked(length uint64, hint hostarch.Addr) (hostarch.AddrRange, error) {
	start := hint
	if start < minUserAddress {
		start = minUserAddress
	}
	// A vma starting below hint may extend past it.
	if v := mm.findVMALocked(start); v != nil {
		start = v.ar.End
	}
	var (
		ar hostarch.AddrRange
		ok bool
	)
	mm.vmas.AscendGreaterOrEqual(&vma{ar: hostarch.AddrRange{Start: start}}, func(v *vma) bool {
		end, fits := start.AddLength(length)
		if fits && end <= v.ar.Start {
			ar, ok = hostarch.AddrRange{Start: start, End: end}, true
			return false
		}
		start = v.ar.End
		return true
	})
	if ok {
		return ar, nil
	}
	if end, fits := start.AddLength(length); fits && end <= maxUserAddress {
		return hostarch.AddrRange{Start: start, End: end}, nil
	}
	return hostarch.AddrRange{}, linuxerr.ENOMEM
}

// clearPTEsLocked removes the translations in ar.
//
// Preconditions: mm.mappingMu must be locked for writing.
func (mm *MemoryManager) clearPTEsLocked(ar hostarch.AddrRange) {
	mm.activeMu.Lock()
	defer mm.activeMu.Unlock()
	if uint64(len(mm.ptes)) < ar.NumPages() {
		for addr := range mm.ptes {
			if ar.Contains(addr) {
				delete(mm.ptes, addr)
			}
		}
		return
	}
	for addr := ar.Start; addr < ar.End; addr += hostarch.PageSize {
		delete(mm.ptes, addr)
	}
}

// removeVMALocked removes v and its translations from mm and notifies its
// Mappable.
//
// Preconditions: mm.mappingMu must be locked for writing.
func (mm *MemoryManager) removeVMALocked(ctx context.Context, v *vma) {
	mm.clearPTEsLocked(v.ar)
	mm.vmas.Delete(v)
	v.mappable.RemoveMapping(ctx, mm, v.ar)
}

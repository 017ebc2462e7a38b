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
	"gvisor.dev/paging/pkg/errors/linuxerr"
	"gvisor.dev/paging/pkg/hostarch"
	"gvisor.dev/paging/pkg/sentry/memmap"
)

// MapFile implements memmap.MappingSpace.MapFile. It fails with EEXIST if
// any page of ar already has a translation.
func (mm *MemoryManager) MapFile(ar hostarch.AddrRange, f memmap.File, fr memmap.FileRange, at hostarch.AccessType) error {
	if ar.Length() == 0 || !ar.IsPageAligned() || !fr.IsPageAligned() || ar.Length() != fr.Length() {
		return linuxerr.EINVAL
	}
	mm.activeMu.Lock()
	defer mm.activeMu.Unlock()
	for addr := ar.Start; addr < ar.End; addr += hostarch.PageSize {
		if _, ok := mm.ptes[addr]; ok {
			return linuxerr.EEXIST
		}
	}
	for addr := ar.Start; addr < ar.End; addr += hostarch.PageSize {
		off := fr.Start + uint64(addr-ar.Start)
		mm.ptes[addr] = pte{
			file:  f,
			fr:    memmap.FileRange{Start: off, End: off + hostarch.PageSize},
			perms: at,
		}
	}
	return nil
}

// translation returns the translation of addr's page.
func (mm *MemoryManager) translation(addr hostarch.Addr) (pte, bool) {
	mm.activeMu.Lock()
	defer mm.activeMu.Unlock()
	p, ok := mm.ptes[addr.RoundDown()]
	return p, ok
}

// Translation returns the page installed for addr, if any.
func (mm *MemoryManager) Translation(addr hostarch.Addr) (memmap.FileRange, bool) {
	p, ok := mm.translation(addr)
	return p.fr, ok
}

// ResidentPages returns the number of pages with a translation in mm.
func (mm *MemoryManager) ResidentPages() int {
	mm.activeMu.Lock()
	defer mm.activeMu.Unlock()
	return len(mm.ptes)
}

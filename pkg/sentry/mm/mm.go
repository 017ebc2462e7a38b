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

// Package mm provides a simulated process address space: a set of virtual
// memory areas backed by memmap.Mappables, and the translations the
// Mappables install into it.
//
// Lock order:
//
//	MemoryManager.mappingMu
//	  MemoryManager.faultMu
//	    Mappable locks
//	      MemoryManager.activeMu
package mm

import (
	"context"
	"fmt"

	"github.com/google/btree"
	"gvisor.dev/paging/pkg/atomicbitops"
	"gvisor.dev/paging/pkg/hostarch"
	"gvisor.dev/paging/pkg/sentry/memmap"
	"gvisor.dev/paging/pkg/sync"
)

const (
	// minUserAddress is the lowest address that MMap will choose.
	minUserAddress hostarch.Addr = 0x10000

	// maxUserAddress is one past the highest mappable address.
	maxUserAddress hostarch.Addr = 0x7ffffffff000

	// vmaTreeDegree is the degree of the vma B-tree.
	vmaTreeDegree = 8
)

// A vma represents a virtual memory area: a contiguous range of addresses
// mapped by one Mappable.
type vma struct {
	ar hostarch.AddrRange

	// mappable is the Mappable backing the vma. mappable is never nil.
	mappable memmap.Mappable

	perms hostarch.AccessType

	// dontExpand is memmap.MMapOpts.DontExpand.
	dontExpand bool

	// hint is memmap.MMapOpts.Hint.
	hint string
}

func vmaLess(a, b *vma) bool {
	return a.ar.Start < b.ar.Start
}

// String implements fmt.Stringer.String.
func (v *vma) String() string {
	dontExpand := ""
	if v.dontExpand {
		dontExpand = " dontexpand"
	}
	return fmt.Sprintf("%08x-%08x %s%s %s", uint64(v.ar.Start), uint64(v.ar.End), v.perms, dontExpand, v.hint)
}

// pte is an installed translation of one page.
type pte struct {
	file  memmap.File
	fr    memmap.FileRange
	perms hostarch.AccessType
}

// MemoryManager implements a virtual address space and memmap.MappingSpace.
type MemoryManager struct {
	// id identifies the owner of the MemoryManager. id is immutable.
	id uint64

	// users is the number of references on the MemoryManager. When it
	// reaches zero, every mapping is removed.
	users atomicbitops.Int64

	// mappingMu protects vmas. It is held for writing while vmas are added
	// or removed, and for reading while faults are handled.
	mappingMu sync.RWMutex

	// vmas is ordered by start address. vmas never overlap.
	vmas *btree.BTreeG[*vma]

	// faultMu serializes calls to Mappable.Fault, so that a page is only
	// faulted in once.
	faultMu sync.Mutex

	// activeMu protects ptes.
	activeMu sync.Mutex

	// ptes maps page-aligned addresses to installed translations.
	ptes map[hostarch.Addr]pte
}

// NewMemoryManager returns a MemoryManager with no mappings, holding one
// user reference.
func NewMemoryManager(id uint64) *MemoryManager {
	mm := &MemoryManager{
		id:   id,
		vmas: btree.NewG[*vma](vmaTreeDegree, vmaLess),
		ptes: make(map[hostarch.Addr]pte),
	}
	mm.users.Store(1)
	return mm
}

// ID implements memmap.MappingSpace.ID.
func (mm *MemoryManager) ID() uint64 {
	return mm.id
}

// String implements fmt.Stringer.String.
func (mm *MemoryManager) String() string {
	return fmt.Sprintf("mm[%d]", mm.id)
}

// IncUsers increments mm's user count and returns true. It returns false if
// mm has already exited.
func (mm *MemoryManager) IncUsers() bool {
	for {
		users := mm.users.Load()
		if users == 0 {
			return false
		}
		if mm.users.CompareAndSwap(users, users+1) {
			return true
		}
	}
}

// DecUsers drops a user reference on mm. The last reference removes every
// mapping.
func (mm *MemoryManager) DecUsers(ctx context.Context) {
	switch users := mm.users.Add(-1); {
	case users < 0:
		panic(fmt.Sprintf("Invalid MemoryManager.users: %d", users))
	case users > 0:
		return
	}

	mm.mappingMu.Lock()
	defer mm.mappingMu.Unlock()
	var all []*vma
	mm.vmas.Ascend(func(v *vma) bool {
		all = append(all, v)
		return true
	})
	for _, v := range all {
		mm.removeVMALocked(ctx, v)
	}
}

// NumMappings returns the number of vmas in mm.
func (mm *MemoryManager) NumMappings() int {
	mm.mappingMu.RLock()
	defer mm.mappingMu.RUnlock()
	return mm.vmas.Len()
}

// Mappings returns a description of every vma in mm, in address order, in a
// format similar to /proc/[pid]/maps.
func (mm *MemoryManager) Mappings() []string {
	mm.mappingMu.RLock()
	defer mm.mappingMu.RUnlock()
	var maps []string
	mm.vmas.Ascend(func(v *vma) bool {
		maps = append(maps, v.String())
		return true
	})
	return maps
}

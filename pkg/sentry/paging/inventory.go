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

package paging

import (
	"gvisor.dev/paging/pkg/sentry/memmap"
)

// pageRecord is an entry in an Inventory. It is created by Pager.insert and
// destroyed by Pager.drainAndFree.
type pageRecord struct {
	pageEntry

	// fr is the page owned by the record. fr.Length() == hostarch.PageSize.
	fr memmap.FileRange
}

// Inventory is the set of pages allocated for one Tracker. A page is in at
// most one Inventory at a time.
//
// All fields are protected by the owning Pager's mu.
type Inventory struct {
	pages pageList

	// count is pages.Len().
	count int

	// drained is set by the first drainAndFree. Once set, the Inventory
	// accepts no more pages.
	drained bool
}

// insert appends fr to inv and counts it as allocated.
//
// Preconditions:
//   - fr was returned by p.file.AllocatePage and is in no Inventory.
//   - p.mu must not be locked.
func (p *Pager) insert(inv *Inventory, fr memmap.FileRange) {
	r := &pageRecord{fr: fr}
	p.mu.Lock()
	defer p.mu.Unlock()
	if inv.drained {
		panic("paging: insert into a drained inventory")
	}
	inv.pages.PushBack(r)
	inv.count++
	p.counters.allocated.Add(1)
}

// drainAndFree returns every page in inv to p.file and empties inv. It may be
// called at most once per Inventory.
//
// Preconditions: p.mu must not be locked.
func (p *Pager) drainAndFree(inv *Inventory) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if inv.drained {
		panic("paging: inventory drained twice")
	}
	inv.drained = true
	n := 0
	for r := inv.pages.Front(); r != nil; {
		next := r.Next()
		p.file.FreePage(r.fr)
		inv.pages.Remove(r)
		p.counters.freed.Add(1)
		n++
		r = next
	}
	inv.count = 0
	return n
}

// pages returns the pages in inv in insertion order.
func (p *Pager) pages(inv *Inventory) []memmap.FileRange {
	p.mu.Lock()
	defer p.mu.Unlock()
	frs := make([]memmap.FileRange, 0, inv.count)
	for r := inv.pages.Front(); r != nil; r = r.Next() {
		frs = append(frs, r.fr)
	}
	return frs
}

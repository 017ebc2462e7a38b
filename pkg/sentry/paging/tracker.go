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
	"context"
	"fmt"

	"gvisor.dev/paging/pkg/atomicbitops"
	"gvisor.dev/paging/pkg/hostarch"
	"gvisor.dev/paging/pkg/log"
	"gvisor.dev/paging/pkg/sentry/memmap"
)

// Tracker is the state of one device mapping. It is shared by every
// MappingSpace the mapping has been duplicated into, and is destroyed when
// the last of them removes the mapping.
type Tracker struct {
	trackerRefs

	// pager is the Pager that created the Tracker. pager is immutable.
	pager *Pager

	// ar is the range the mapping was created with. Duplicates of the
	// mapping cover the same addresses. ar is immutable.
	ar hostarch.AddrRange

	// creator is the ID of the MappingSpace that created the mapping, for
	// logging. creator is immutable.
	creator uint64

	// destroyed is set after the last reference is dropped.
	destroyed atomicbitops.Bool

	inv Inventory
}

// OnCreate returns a new Tracker for the mapping of ar in ms, holding one
// reference, and populates it according to p's Strategy.
//
// If population fails, OnCreate returns the Tracker together with the error.
// The pages inserted before the failure remain in its inventory and are only
// released when the caller drops the Tracker's reference.
func (p *Pager) OnCreate(ctx context.Context, ms memmap.MappingSpace, ar hostarch.AddrRange) (*Tracker, error) {
	if ar.Length() == 0 || !ar.WellFormed() {
		panic(fmt.Sprintf("paging: invalid mapping range %v", ar))
	}
	t := &Tracker{
		pager:   p,
		ar:      ar,
		creator: ms.ID(),
	}
	t.InitRefs()
	log.Debugf("paging: created mapping %v for %d (%s)", ar, t.creator, p.strategy)
	if err := p.strategy.Populate(ctx, ms, t); err != nil {
		log.Warningf("paging: populating mapping %v for %d failed after %d pages: %v", ar, t.creator, t.NumPages(), err)
		return t, err
	}
	return t, nil
}

// OnDuplicate records that the mapping has been inherited by another
// MappingSpace. It allocates nothing and cannot fail.
//
// Preconditions: The caller must hold a reference on t.
func (t *Tracker) OnDuplicate() {
	t.checkLive()
	t.IncRef()
	log.Debugf("paging: duplicated mapping %v (refs=%d)", t.ar, t.ReadRefs())
}

// OnDestroy drops a reference on t. The call that drops the last reference
// returns every page in t's inventory to the allocator and returns true.
//
// Preconditions: The caller must hold a reference on t, which is consumed.
func (t *Tracker) OnDestroy(ctx context.Context) bool {
	t.checkLive()
	destroyed := false
	t.DecRef(func() {
		t.destroyed.Store(true)
		n := t.pager.drainAndFree(&t.inv)
		log.Debugf("paging: destroyed mapping %v, released %d pages", t.ar, n)
		destroyed = true
	})
	return destroyed
}

// Range returns the range t was created with.
func (t *Tracker) Range() hostarch.AddrRange {
	return t.ar
}

// Pages returns the pages currently owned by t, in the order they were
// allocated.
func (t *Tracker) Pages() []memmap.FileRange {
	return t.pager.pages(&t.inv)
}

// NumPages returns the number of pages currently owned by t.
func (t *Tracker) NumPages() int {
	t.pager.mu.Lock()
	defer t.pager.mu.Unlock()
	return t.inv.count
}

// Destroyed returns true if the last reference on t has been dropped.
func (t *Tracker) Destroyed() bool {
	return t.destroyed.Load()
}

func (t *Tracker) checkLive() {
	if t.destroyed.Load() {
		panic(fmt.Sprintf("paging: use of destroyed mapping %v", t.ar))
	}
}

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
	"testing"

	"golang.org/x/sync/errgroup"
	"gvisor.dev/paging/pkg/atomicbitops"
	"gvisor.dev/paging/pkg/hostarch"
	"gvisor.dev/paging/pkg/sentry/memmap"
	"gvisor.dev/paging/pkg/sentry/memmap/memmaptest"
)

// TestConcurrentMappings creates mappings in several MappingSpaces at once
// and faults them in from several goroutines each, then checks that every
// page is owned by exactly one inventory and that teardown balances the
// counters.
func TestConcurrentMappings(t *testing.T) {
	const (
		spaces       = 4
		pagesPerMap  = 64
		faultWorkers = 4
	)
	ctx := context.Background()
	p, f := newTestPager(true)

	trackers := make([]*Tracker, spaces)
	mss := make([]*memmaptest.MappingSpace, spaces)
	var g errgroup.Group
	for i := 0; i < spaces; i++ {
		i := i
		g.Go(func() error {
			mss[i] = memmaptest.NewMappingSpace(uint64(i))
			tr, err := p.OnCreate(ctx, mss[i], pageRange(0x100000, pagesPerMap))
			if err != nil {
				return err
			}
			trackers[i] = tr
			var fg errgroup.Group
			for w := 0; w < faultWorkers; w++ {
				w := w
				fg.Go(func() error {
					for pg := w; pg < pagesPerMap; pg += faultWorkers {
						addr := 0x100000 + hostarch.Addr(pg)*hostarch.PageSize + 8
						if err := p.HandleFault(ctx, mss[i], tr, addr, hostarch.Write); err != nil {
							return fmt.Errorf("space %d: fault at %v: %w", i, addr, err)
						}
					}
					return nil
				})
			}
			return fg.Wait()
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("populating mappings: %v", err)
	}

	owners := make(map[memmap.FileRange]int)
	for i, tr := range trackers {
		pages := tr.Pages()
		if len(pages) != pagesPerMap {
			t.Errorf("space %d: %d pages, want %d", i, len(pages), pagesPerMap)
		}
		for _, fr := range pages {
			if prev, ok := owners[fr]; ok {
				t.Errorf("page %v owned by spaces %d and %d", fr, prev, i)
			}
			owners[fr] = i
		}
	}
	if got, want := p.Counters().Allocated(), uint64(spaces*pagesPerMap); got != want {
		t.Errorf("Allocated: got %d, want %d", got, want)
	}

	for _, tr := range trackers {
		tr := tr
		g.Go(func() error {
			tr.OnDestroy(ctx)
			return nil
		})
	}
	g.Wait()
	if got, want := p.Counters().Freed(), p.Counters().Allocated(); got != want {
		t.Errorf("Freed: got %d, want %d", got, want)
	}
	if got := f.Live(); got != 0 {
		t.Errorf("live pages after teardown: got %d, want 0", got)
	}
}

// TestConcurrentDuplicateDestroy drops references from many goroutines and
// checks that exactly one of them releases the pages.
func TestConcurrentDuplicateDestroy(t *testing.T) {
	const duplicates = 32
	ctx := context.Background()
	p, f := newTestPager(false)
	ms := memmaptest.NewMappingSpace(1)
	tr, err := p.OnCreate(ctx, ms, pageRange(0x200000, 4))
	if err != nil {
		t.Fatalf("OnCreate: %v", err)
	}

	var g errgroup.Group
	for i := 0; i < duplicates; i++ {
		g.Go(func() error {
			tr.OnDuplicate()
			return nil
		})
	}
	g.Wait()
	if got := tr.ReadRefs(); got != duplicates+1 {
		t.Fatalf("ReadRefs: got %d, want %d", got, duplicates+1)
	}

	var destroyers atomicbitops.Int64
	for i := 0; i < duplicates+1; i++ {
		g.Go(func() error {
			if tr.OnDestroy(ctx) {
				destroyers.Add(1)
			}
			return nil
		})
	}
	g.Wait()
	if got := destroyers.Load(); got != 1 {
		t.Errorf("mapping destroyed %d times, want 1", got)
	}
	if got, want := f.Frees(), 4; got != want {
		t.Errorf("FreePage calls: got %d, want %d", got, want)
	}
}

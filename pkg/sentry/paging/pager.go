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

// Package paging manages the physical memory behind mappings of the paging
// device.
//
// Each mapping is represented by a Tracker, which holds a reference count
// shared by every address space the mapping has been duplicated into, and an
// Inventory of the pages allocated for it. Pages are allocated either when
// the mapping is created (EagerStrategy) or on first access
// (LazyStrategy, through Pager.HandleFault), and are all returned to the
// memmap.File when the last reference to the Tracker is dropped.
//
// Lock order:
//
//	pagingdev.Device.mu
//	  Pager.mu
package paging

import (
	"fmt"
	"time"

	"gvisor.dev/paging/pkg/log"
	"gvisor.dev/paging/pkg/sentry/memmap"
	"gvisor.dev/paging/pkg/sync"
)

// faultLogInterval bounds how often the fault path logs.
const faultLogInterval = time.Second

// Options configures a Pager.
type Options struct {
	// DemandPaging selects LazyStrategy if true and EagerStrategy otherwise.
	DemandPaging bool
}

// Pager owns the state shared by all mappings of one device activation: the
// page allocator, the inventory lock and the page counters.
type Pager struct {
	// file is the allocator pages are obtained from. file is immutable.
	file memmap.File

	// strategy populates new mappings. strategy is immutable.
	strategy Strategy

	// demandPaging is Options.DemandPaging. It is immutable.
	demandPaging bool

	// faultLog is used for per-fault messages, which can be very frequent.
	faultLog log.Logger

	// mu protects the page lists of every Inventory of Trackers created by
	// this Pager. mu is never held while allocating or installing a page.
	mu sync.Mutex

	counters Counters
}

// NewPager returns a Pager that allocates pages from file.
func NewPager(file memmap.File, opts Options) *Pager {
	p := &Pager{
		file:         file,
		demandPaging: opts.DemandPaging,
		faultLog:     log.RateLimitedLogger(log.Log(), faultLogInterval),
	}
	if opts.DemandPaging {
		p.strategy = LazyStrategy{}
	} else {
		p.strategy = EagerStrategy{}
	}
	return p
}

// File returns the allocator backing p.
func (p *Pager) File() memmap.File {
	return p.file
}

// Strategy returns the strategy used to populate new mappings.
func (p *Pager) Strategy() Strategy {
	return p.strategy
}

// DemandPaging returns true if pages are allocated on first access.
func (p *Pager) DemandPaging() bool {
	return p.demandPaging
}

// Counters returns p's page counters.
func (p *Pager) Counters() *Counters {
	return &p.counters
}

// String implements fmt.Stringer.String.
func (p *Pager) String() string {
	return fmt.Sprintf("pager{strategy=%s %s}", p.strategy, &p.counters)
}

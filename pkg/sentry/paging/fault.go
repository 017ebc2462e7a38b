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

	"gvisor.dev/paging/pkg/errors/linuxerr"
	"gvisor.dev/paging/pkg/hostarch"
	"gvisor.dev/paging/pkg/log"
	"gvisor.dev/paging/pkg/sentry/memmap"
)

// HandleFault backs the page containing addr, which lies in the mapping
// tracked by t, with a newly allocated page installed in ms.
//
// HandleFault returns linuxerr.ENOMEM if no page could be allocated and a
// *memmap.BusError if the page could not be installed. Neither is retried.
//
// Preconditions:
//   - addr must lie within t.Range().
//   - The caller must hold a reference on t.
//   - Faults on the same page of ms are serialized by the caller.
func (p *Pager) HandleFault(ctx context.Context, ms memmap.MappingSpace, t *Tracker, addr hostarch.Addr, at hostarch.AccessType) error {
	t.checkLive()
	if !t.ar.Contains(addr) {
		panic(fmt.Sprintf("paging: fault at %v outside mapping %v", addr, t.ar))
	}
	if !p.demandPaging {
		// The eager strategy either populated this page or failed, in which
		// case the mapping does not exist.
		p.counters.strayFaults.Add(1)
		log.Warningf("paging: fault at %v (%v) in eagerly populated mapping %v of %d", addr, at, t.ar, ms.ID())
	}
	p.faultLog.Infof("paging: fault at %v (%v) in mapping %v of %d", addr, at, t.ar, ms.ID())
	return p.populatePage(ctx, ms, t, addr.RoundDown())
}

// populatePage allocates a page, installs it at the page-aligned address
// addr in ms and inserts it into t's inventory.
//
// If installation fails, the page is returned to p.file: it was never
// inserted, so no teardown would find it.
func (p *Pager) populatePage(ctx context.Context, ms memmap.MappingSpace, t *Tracker, addr hostarch.Addr) error {
	fr, err := p.file.AllocatePage()
	if err != nil {
		p.faultLog.Warningf("paging: page allocation for %v failed: %v", addr, err)
		return linuxerr.ENOMEM
	}
	ar := hostarch.AddrRange{Start: addr, End: addr + hostarch.PageSize}
	if err := ms.MapFile(ar, p.file, fr, hostarch.ReadWrite); err != nil {
		p.file.FreePage(fr)
		return &memmap.BusError{Err: err}
	}
	p.insert(&t.inv, fr)
	return nil
}

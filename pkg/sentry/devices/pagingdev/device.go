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

// Package pagingdev implements the paging device, /dev/paging. Mapping the
// device yields a shared anonymous region whose pages are supplied by a
// paging.Pager, either when the mapping is created or on first access.
package pagingdev

import (
	"context"
	"fmt"

	"gvisor.dev/paging/pkg/errors/linuxerr"
	"gvisor.dev/paging/pkg/hostarch"
	"gvisor.dev/paging/pkg/log"
	"gvisor.dev/paging/pkg/refs"
	"gvisor.dev/paging/pkg/sentry/memmap"
	"gvisor.dev/paging/pkg/sentry/paging"
	"gvisor.dev/paging/pkg/sync"
)

const (
	// Name is the device name.
	Name = "paging"

	// Path is the path of the device node.
	Path = "/dev/" + Name
)

// ActivateOptions configures a device activation.
type ActivateOptions struct {
	// File supplies the device's pages.
	File memmap.File

	// DemandPaging selects lazy allocation. It cannot be changed while the
	// device is active.
	DemandPaging bool
}

// mappingKey identifies one mapping of the device. Mappings of the device
// cannot be split or grown, so the start address identifies the mapping
// within its MappingSpace.
type mappingKey struct {
	ms    memmap.MappingSpace
	start hostarch.Addr
}

// Device implements memmap.Mappable for every mapping of the paging device.
//
// Lock order:
//
//	Device.activeMu
//	  Device.mu
//	    paging.Pager.mu
type Device struct {
	// activeMu is held for reading by every Mappable and FD operation and
	// for writing by Activate and Deactivate.
	activeMu sync.RWMutex

	// pager is nil while the device is inactive. pager is protected by
	// activeMu.
	pager *paging.Pager

	// mu protects the fields below.
	mu sync.Mutex

	// trackers holds one reference on the tracker of each live mapping.
	trackers map[mappingKey]*paging.Tracker

	// orphans holds the trackers of mappings whose creation failed part way
	// through. Their pages are released by Deactivate.
	orphans []*paging.Tracker
}

// New returns an inactive Device.
func New() *Device {
	return &Device{trackers: make(map[mappingKey]*paging.Tracker)}
}

// Activate makes the device available. Counters start from zero on every
// activation.
func (d *Device) Activate(opts ActivateOptions) error {
	d.activeMu.Lock()
	defer d.activeMu.Unlock()
	if d.pager != nil {
		return linuxerr.EBUSY
	}
	if opts.File == nil {
		panic("pagingdev: Activate without a File")
	}
	d.pager = paging.NewPager(opts.File, paging.Options{DemandPaging: opts.DemandPaging})
	log.Infof("Loaded %s device (%s, demand paging %t)", Name, Path, opts.DemandPaging)
	return nil
}

// Deactivate makes the device unavailable, releasing the pages of mappings
// whose creation failed, and returns the retired Pager so that its counters
// can be reported. It fails with EBUSY if any mapping is still live.
func (d *Device) Deactivate(ctx context.Context) (*paging.Pager, error) {
	d.activeMu.Lock()
	defer d.activeMu.Unlock()
	p := d.pager
	if p == nil {
		return nil, linuxerr.ENODEV
	}

	d.mu.Lock()
	if n := len(d.trackers); n != 0 {
		d.mu.Unlock()
		log.Warningf("Refusing to unload %s device with %d live mappings", Name, n)
		return nil, linuxerr.EBUSY
	}
	orphans := d.orphans
	d.orphans = nil
	d.mu.Unlock()

	for _, t := range orphans {
		t.OnDestroy(ctx)
	}
	if len(orphans) != 0 {
		log.Infof("Reclaimed %d partially populated mappings", len(orphans))
	}
	d.pager = nil

	c := p.Counters()
	log.Infof("Unloaded %s device: %s", Name, c)
	if c.Allocated() != c.Freed() {
		log.Warningf("%s device leaked %d pages", Name, c.Outstanding())
	}
	refs.DoLeakCheck()
	return p, nil
}

// Active returns true if the device is active.
func (d *Device) Active() bool {
	d.activeMu.RLock()
	defer d.activeMu.RUnlock()
	return d.pager != nil
}

// Pager returns the active Pager, or nil if the device is inactive.
func (d *Device) Pager() *paging.Pager {
	d.activeMu.RLock()
	defer d.activeMu.RUnlock()
	return d.pager
}

// NumMappings returns the number of live mappings of the device.
func (d *Device) NumMappings() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.trackers)
}

// String implements fmt.Stringer.String.
func (d *Device) String() string {
	return Path
}

// lookupLocked returns the tracker of the mapping of ar in ms.
//
// Preconditions: d.mu must be locked.
func (d *Device) lookupLocked(ms memmap.MappingSpace, ar hostarch.AddrRange) *paging.Tracker {
	t, ok := d.trackers[mappingKey{ms, ar.Start}]
	if !ok {
		panic(fmt.Sprintf("pagingdev: no mapping of %v in %d", ar, ms.ID()))
	}
	if t.Range() != ar {
		panic(fmt.Sprintf("pagingdev: mapping of %v in %d does not match %v", t.Range(), ms.ID(), ar))
	}
	return t
}

// lookup returns the tracker of the mapping of ar in ms.
func (d *Device) lookup(ms memmap.MappingSpace, ar hostarch.AddrRange) *paging.Tracker {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lookupLocked(ms, ar)
}

// remove removes the mapping of ar in ms and returns its tracker, whose
// reference is transferred to the caller.
func (d *Device) remove(ms memmap.MappingSpace, ar hostarch.AddrRange) *paging.Tracker {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.lookupLocked(ms, ar)
	delete(d.trackers, mappingKey{ms, ar.Start})
	return t
}

// activePager returns the active Pager.
//
// Preconditions: d.activeMu must be locked for reading.
func (d *Device) activePager() (*paging.Pager, error) {
	if d.pager == nil {
		return nil, linuxerr.ENODEV
	}
	return d.pager, nil
}

// AddMapping implements memmap.Mappable.AddMapping.
func (d *Device) AddMapping(ctx context.Context, ms memmap.MappingSpace, ar hostarch.AddrRange) error {
	d.activeMu.RLock()
	defer d.activeMu.RUnlock()
	p, err := d.activePager()
	if err != nil {
		return err
	}
	key := mappingKey{ms, ar.Start}
	d.mu.Lock()
	_, dup := d.trackers[key]
	d.mu.Unlock()
	if dup {
		panic(fmt.Sprintf("pagingdev: duplicate mapping of %v in %d", ar, ms.ID()))
	}

	log.Debugf("%s: new mapping for %d from %v to %v", Name, ms.ID(), ar.Start, ar.End)
	t, err := p.OnCreate(ctx, ms, ar)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.orphans = append(d.orphans, t)
		return err
	}
	d.trackers[key] = t
	return nil
}

// CopyMapping implements memmap.Mappable.CopyMapping.
func (d *Device) CopyMapping(ctx context.Context, srcMS, dstMS memmap.MappingSpace, ar hostarch.AddrRange) error {
	d.activeMu.RLock()
	defer d.activeMu.RUnlock()
	if _, err := d.activePager(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.lookupLocked(srcMS, ar)
	dst := mappingKey{dstMS, ar.Start}
	if _, ok := d.trackers[dst]; ok {
		panic(fmt.Sprintf("pagingdev: duplicate mapping of %v in %d", ar, dstMS.ID()))
	}
	t.OnDuplicate()
	d.trackers[dst] = t
	return nil
}

// RemoveMapping implements memmap.Mappable.RemoveMapping.
func (d *Device) RemoveMapping(ctx context.Context, ms memmap.MappingSpace, ar hostarch.AddrRange) {
	d.activeMu.RLock()
	defer d.activeMu.RUnlock()
	t := d.remove(ms, ar)
	t.OnDestroy(ctx)
}

// Fault implements memmap.Mappable.Fault.
func (d *Device) Fault(ctx context.Context, ms memmap.MappingSpace, ar hostarch.AddrRange, addr hostarch.Addr, at hostarch.AccessType) error {
	d.activeMu.RLock()
	defer d.activeMu.RUnlock()
	p, err := d.activePager()
	if err != nil {
		return err
	}
	return p.HandleFault(ctx, ms, d.lookup(ms, ar), addr, at)
}

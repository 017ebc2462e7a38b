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
	"gvisor.dev/paging/pkg/log"
	"gvisor.dev/paging/pkg/sentry/memmap"
)

// MMap establishes a memory mapping and returns its start address.
//
// Only Mappable-backed mappings are supported. If opts.Fixed is set, the
// mapping must not overlap an existing one (as with MAP_FIXED_NOREPLACE).
func (mm *MemoryManager) MMap(ctx context.Context, opts memmap.MMapOpts) (hostarch.Addr, error) {
	if opts.Length == 0 {
		return 0, linuxerr.EINVAL
	}
	length, ok := hostarch.Addr(opts.Length).RoundUp()
	if !ok {
		return 0, linuxerr.ENOMEM
	}
	if opts.Mappable == nil {
		return 0, linuxerr.ENODEV
	}
	if opts.Addr.RoundDown() != opts.Addr {
		// MAP_FIXED requires addr to be page-aligned; non-fixed mappings
		// don't.
		if opts.Fixed {
			return 0, linuxerr.EINVAL
		}
		opts.Addr = opts.Addr.RoundDown()
	}

	mm.mappingMu.Lock()
	defer mm.mappingMu.Unlock()
	var ar hostarch.AddrRange
	if opts.Fixed {
		ar, ok = opts.Addr.ToRange(uint64(length))
		if !ok || ar.Start < minUserAddress || ar.End > maxUserAddress {
			return 0, linuxerr.ENOMEM
		}
		if len(mm.overlappingLocked(ar)) != 0 {
			return 0, linuxerr.EEXIST
		}
	} else {
		var err error
		if ar, err = mm.findAvailableLocked(uint64(length), opts.Addr); err != nil {
			return 0, err
		}
	}

	v := &vma{
		ar:         ar,
		mappable:   opts.Mappable,
		perms:      opts.Perms,
		dontExpand: opts.DontExpand,
		hint:       opts.Hint,
	}
	mm.vmas.ReplaceOrInsert(v)
	if err := opts.Mappable.AddMapping(ctx, mm, ar); err != nil {
		// The Mappable may have installed pages before failing.
		mm.clearPTEsLocked(ar)
		mm.vmas.Delete(v)
		log.Debugf("%s: mmap of %v failed: %v", mm, ar, err)
		return 0, err
	}
	return ar.Start, nil
}

// MUnmap implements the semantics of Linux's munmap(2). Mappings created with
// DontExpand can only be unmapped in their entirety.
func (mm *MemoryManager) MUnmap(ctx context.Context, addr hostarch.Addr, length uint64) error {
	if addr != addr.RoundDown() {
		return linuxerr.EINVAL
	}
	if length == 0 {
		return linuxerr.EINVAL
	}
	la, ok := hostarch.Addr(length).RoundUp()
	if !ok {
		return linuxerr.EINVAL
	}
	ar, ok := addr.ToRange(uint64(la))
	if !ok {
		return linuxerr.EINVAL
	}

	mm.mappingMu.Lock()
	defer mm.mappingMu.Unlock()
	vmas := mm.overlappingLocked(ar)
	for _, v := range vmas {
		if v.dontExpand && !ar.IsSupersetOf(v.ar) {
			return linuxerr.EINVAL
		}
	}
	for _, v := range vmas {
		if ar.IsSupersetOf(v.ar) {
			mm.removeVMALocked(ctx, v)
			continue
		}
		// Split v around the unmapped range.
		cut := v.ar.Intersect(ar)
		mm.clearPTEsLocked(cut)
		mm.vmas.Delete(v)
		if v.ar.Start < cut.Start {
			head := *v
			head.ar.End = cut.Start
			mm.vmas.ReplaceOrInsert(&head)
		}
		if cut.End < v.ar.End {
			tail := *v
			tail.ar.Start = cut.End
			mm.vmas.ReplaceOrInsert(&tail)
		}
		v.mappable.RemoveMapping(ctx, mm, cut)
	}
	return nil
}

// Fork returns a copy of mm, identified by id, that shares every mapping of
// mm. Translations are inherited, so pages already faulted in by mm are
// visible in the copy without faulting.
func (mm *MemoryManager) Fork(ctx context.Context, id uint64) (*MemoryManager, error) {
	mm.mappingMu.RLock()
	defer mm.mappingMu.RUnlock()
	child := NewMemoryManager(id)

	mm.activeMu.Lock()
	for addr, p := range mm.ptes {
		child.ptes[addr] = p
	}
	mm.activeMu.Unlock()

	var err error
	mm.vmas.Ascend(func(v *vma) bool {
		if err = v.mappable.CopyMapping(ctx, mm, child, v.ar); err != nil {
			child.clearPTEsLocked(v.ar)
			return false
		}
		cv := *v
		child.vmas.ReplaceOrInsert(&cv)
		return true
	})
	if err != nil {
		child.DecUsers(ctx)
		return nil, err
	}
	return child, nil
}

// HandleUserFault handles an application page fault on mm at addr. On
// success, a translation for addr's page is installed.
//
// The returned error can be classified with ClassifyFault.
func (mm *MemoryManager) HandleUserFault(ctx context.Context, addr hostarch.Addr, at hostarch.AccessType) error {
	mm.mappingMu.RLock()
	defer mm.mappingMu.RUnlock()
	v := mm.findVMALocked(addr)
	if v == nil || !v.perms.SupersetOf(at) {
		return linuxerr.EFAULT
	}

	mm.faultMu.Lock()
	defer mm.faultMu.Unlock()
	if _, ok := mm.translation(addr); ok {
		// Another fault raced with ours and won.
		return nil
	}
	return v.mappable.Fault(ctx, mm, v.ar, addr, at)
}

// FaultResult is the outcome of an application page fault.
type FaultResult int

// Possible FaultResults.
const (
	// FaultResolved means the access can be retried.
	FaultResolved FaultResult = iota

	// FaultOOM means no memory was available to back the page; the
	// faulting process should be killed.
	FaultOOM

	// FaultSIGBUS means the backing page could not be installed.
	FaultSIGBUS

	// FaultSIGSEGV means the address was not validly mapped.
	FaultSIGSEGV
)

// String implements fmt.Stringer.String.
func (r FaultResult) String() string {
	switch r {
	case FaultResolved:
		return "resolved"
	case FaultOOM:
		return "out of memory"
	case FaultSIGBUS:
		return "bus error"
	case FaultSIGSEGV:
		return "segmentation fault"
	default:
		return "unknown"
	}
}

// ClassifyFault returns the outcome of a fault that returned err.
func ClassifyFault(err error) FaultResult {
	switch {
	case err == nil:
		return FaultResolved
	case memmap.IsBusError(err):
		return FaultSIGBUS
	case linuxerr.Equals(linuxerr.ENOMEM, err):
		return FaultOOM
	default:
		return FaultSIGSEGV
	}
}

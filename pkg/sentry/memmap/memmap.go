// Copyright 2018 The gVisor Authors.
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

// Package memmap defines semantics for memory mappings.
package memmap

import (
	"context"
	"errors"
	"fmt"

	"gvisor.dev/paging/pkg/hostarch"
)

// Mappable represents a memory-mappable object whose backing pages are
// supplied by the Mappable itself, either when a mapping is established or
// when an access faults on an unbacked page.
//
// All Mappable methods have the following preconditions:
//   - hostarch.AddrRanges must be non-empty (Length() != 0).
//   - Calls for the same (MappingSpace, AddrRange) pair are serialized by the
//     caller.
type Mappable interface {
	// AddMapping notifies the Mappable of a new mapping of ar in ms. It is
	// called exactly once per established mapping. If AddMapping returns a
	// non-nil error, the mapping is not established and the caller must not
	// call any other method for (ms, ar).
	AddMapping(ctx context.Context, ms MappingSpace, ar hostarch.AddrRange) error

	// CopyMapping notifies the Mappable that the mapping of ar in srcMS has
	// been inherited by dstMS at the same addresses, e.g. on fork.
	//
	// Preconditions: The mapping of ar in srcMS must exist.
	CopyMapping(ctx context.Context, srcMS, dstMS MappingSpace, ar hostarch.AddrRange) error

	// RemoveMapping notifies the Mappable of the removal of the mapping of ar
	// in ms, either by explicit unmap or by the exit of ms's owner.
	//
	// Preconditions: The removed mapping must exist.
	RemoveMapping(ctx context.Context, ms MappingSpace, ar hostarch.AddrRange)

	// Fault is called when an access of type at to addr, which lies within
	// the mapping of ar in ms, found no installed page. On success, a page
	// covering addr has been installed in ms via MappingSpace.MapFile.
	//
	// Fault returns linuxerr.ENOMEM if no page could be allocated, and a
	// *BusError if the page could not be installed. Neither is retried.
	Fault(ctx context.Context, ms MappingSpace, ar hostarch.AddrRange, addr hostarch.Addr, at hostarch.AccessType) error
}

// MappingSpace represents a mutable mapping from hostarch.Addrs to pages of a
// File.
type MappingSpace interface {
	// MapFile installs a translation from the page-aligned range ar to the
	// pages fr of f, with permissions at.
	//
	// Preconditions:
	//   - ar and fr must be page-aligned, and ar.Length() == fr.Length().
	//   - ar must lie within a mapping established via Mappable.AddMapping
	//     or Mappable.CopyMapping.
	MapFile(ar hostarch.AddrRange, f File, fr FileRange, at hostarch.AccessType) error

	// ID returns an identifier of the MappingSpace's owner, used for
	// logging.
	ID() uint64
}

// File represents a host file that pages of memory may be allocated from.
type File interface {
	// AllocatePage allocates one page of zeroed memory and returns its
	// offsets in the File. It returns linuxerr.ENOMEM if no page is
	// available.
	AllocatePage() (FileRange, error)

	// FreePage returns a page previously returned by AllocatePage.
	//
	// Preconditions:
	//   - fr was returned by AllocatePage and has not been freed since.
	FreePage(fr FileRange)

	// MapInternal returns a slice through which the sentry may access fr.
	// The slice remains valid until fr is freed.
	//
	// Preconditions: fr.Length() != 0.
	MapInternal(fr FileRange) ([]byte, error)
}

// FileRange represents a range of uint64 offsets into a File.
//
// The range is half-open: [Start, End).
type FileRange struct {
	Start uint64
	End   uint64
}

// WellFormed returns true if fr.Start <= fr.End.
func (fr FileRange) WellFormed() bool {
	return fr.Start <= fr.End
}

// Length returns the length of the range.
func (fr FileRange) Length() uint64 {
	return fr.End - fr.Start
}

// IsPageAligned returns true if both bounds of fr are page-aligned.
func (fr FileRange) IsPageAligned() bool {
	return hostarch.Addr(fr.Start).IsPageAligned() && hostarch.Addr(fr.End).IsPageAligned()
}

// PageNumber returns the index of the first page of fr in its File. It plays
// the role of a physical frame number.
func (fr FileRange) PageNumber() uint64 {
	return fr.Start >> hostarch.PageShift
}

// String implements fmt.Stringer.String.
func (fr FileRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", fr.Start, fr.End)
}

// BusError may be returned by implementations of Mappable.Fault for errors
// that should result in SIGBUS delivery if they cause application page fault
// handling to fail.
type BusError struct {
	// Err is the original error.
	Err error
}

// Error implements error.Error.
func (b *BusError) Error() string {
	return fmt.Sprintf("BusError: %v", b.Err.Error())
}

// Unwrap returns the original error.
func (b *BusError) Unwrap() error {
	return b.Err
}

// IsBusError returns true if err is, or wraps, a *BusError.
func IsBusError(err error) bool {
	var b *BusError
	return errors.As(err, &b)
}

// MMapOpts specifies a request to create a memory mapping.
type MMapOpts struct {
	// Length is the length of the mapping.
	Length uint64

	// Mappable is the Mappable to be mapped. It is set by the file being
	// mapped (see pagingdev.FD.ConfigureMMap).
	Mappable Mappable

	// Addr is the suggested address for the mapping.
	Addr hostarch.Addr

	// Fixed specifies whether this is a fixed mapping (it must be located at
	// Addr).
	Fixed bool

	// Perms is the set of permissions to the applied to this mapping.
	Perms hostarch.AccessType

	// Private is true if writes to the mapping should be propagated to a copy
	// that is exclusive to the MemoryManager.
	Private bool

	// DontExpand is true if the mapping may neither grow nor be split by a
	// partial unmap. It is analogous to Linux's VM_DONTEXPAND.
	DontExpand bool

	// Hint is the name used for the mapping in diagnostics.
	Hint string
}

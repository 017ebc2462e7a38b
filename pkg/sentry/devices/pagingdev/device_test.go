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

package pagingdev

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/paging/pkg/errors/linuxerr"
	"gvisor.dev/paging/pkg/hostarch"
	"gvisor.dev/paging/pkg/sentry/memmap"
	"gvisor.dev/paging/pkg/sentry/memmap/memmaptest"
)

func activeDevice(t *testing.T, demandPaging bool) (*Device, *memmaptest.File) {
	t.Helper()
	f := memmaptest.NewFile()
	d := New()
	if err := d.Activate(ActivateOptions{File: f, DemandPaging: demandPaging}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	return d, f
}

func deactivate(t *testing.T, d *Device) (allocated, freed uint64) {
	t.Helper()
	p, err := d.Deactivate(context.Background())
	if err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	return p.Counters().Allocated(), p.Counters().Freed()
}

var testRange = hostarch.AddrRange{Start: 0x400000, End: 0x403000}

func TestActivation(t *testing.T) {
	ctx := context.Background()
	d := New()
	if _, err := d.Open(ctx); !linuxerr.Equals(linuxerr.ENODEV, err) {
		t.Errorf("Open on inactive device: got %v, want ENODEV", err)
	}
	if _, err := d.Deactivate(ctx); !linuxerr.Equals(linuxerr.ENODEV, err) {
		t.Errorf("Deactivate on inactive device: got %v, want ENODEV", err)
	}
	if err := d.AddMapping(ctx, memmaptest.NewMappingSpace(1), testRange); !linuxerr.Equals(linuxerr.ENODEV, err) {
		t.Errorf("AddMapping on inactive device: got %v, want ENODEV", err)
	}

	f := memmaptest.NewFile()
	if err := d.Activate(ActivateOptions{File: f, DemandPaging: true}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := d.Activate(ActivateOptions{File: f}); !linuxerr.Equals(linuxerr.EBUSY, err) {
		t.Errorf("second Activate: got %v, want EBUSY", err)
	}
	if !d.Active() || d.Pager() == nil {
		t.Errorf("device not active after Activate")
	}
	if got := d.Pager().Strategy().String(); got != "lazy" {
		t.Errorf("strategy: got %q, want lazy", got)
	}
	if _, err := d.Deactivate(ctx); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if d.Active() {
		t.Errorf("device active after Deactivate")
	}
}

func TestConfigureMMap(t *testing.T) {
	ctx := context.Background()
	d, _ := activeDevice(t, true)
	fd, err := d.Open(ctx)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer fd.Release(ctx)

	for _, test := range []struct {
		name    string
		opts    memmap.MMapOpts
		wantErr error
	}{
		{
			name: "shared read-write",
			opts: memmap.MMapOpts{Length: 0x2000, Perms: hostarch.ReadWrite},
		},
		{
			name:    "private",
			opts:    memmap.MMapOpts{Length: 0x2000, Perms: hostarch.ReadWrite, Private: true},
			wantErr: linuxerr.EINVAL,
		},
		{
			name:    "read-only",
			opts:    memmap.MMapOpts{Length: 0x2000, Perms: hostarch.Read},
			wantErr: linuxerr.EACCES,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			opts := test.opts
			err := fd.ConfigureMMap(ctx, &opts)
			if err != test.wantErr {
				t.Fatalf("ConfigureMMap: got %v, want %v", err, test.wantErr)
			}
			if err != nil {
				return
			}
			if opts.Mappable != d {
				t.Errorf("Mappable not set to the device")
			}
			if !opts.DontExpand {
				t.Errorf("DontExpand not set")
			}
			if opts.Hint != Path {
				t.Errorf("Hint: got %q, want %q", opts.Hint, Path)
			}
		})
	}

	if _, err := fd.Read(ctx, make([]byte, 8)); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("Read: got %v, want EINVAL", err)
	}
	if _, err := fd.Write(ctx, make([]byte, 8)); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("Write: got %v, want EINVAL", err)
	}
}

func TestMappingLifecycle(t *testing.T) {
	ctx := context.Background()
	d, f := activeDevice(t, true)
	parent := memmaptest.NewMappingSpace(1)
	child := memmaptest.NewMappingSpace(2)

	if err := d.AddMapping(ctx, parent, testRange); err != nil {
		t.Fatalf("AddMapping: %v", err)
	}
	if err := d.Fault(ctx, parent, testRange, 0x401234, hostarch.Write); err != nil {
		t.Fatalf("Fault: %v", err)
	}
	if err := d.CopyMapping(ctx, parent, child, testRange); err != nil {
		t.Fatalf("CopyMapping: %v", err)
	}
	if err := d.Fault(ctx, child, testRange, 0x402000, hostarch.Read); err != nil {
		t.Fatalf("Fault in child: %v", err)
	}
	if got := d.NumMappings(); got != 2 {
		t.Errorf("NumMappings: got %d, want 2", got)
	}

	if _, err := d.Deactivate(ctx); !linuxerr.Equals(linuxerr.EBUSY, err) {
		t.Errorf("Deactivate with live mappings: got %v, want EBUSY", err)
	}

	d.RemoveMapping(ctx, parent, testRange)
	if got := f.Live(); got != 2 {
		t.Errorf("live pages after parent unmap: got %d, want 2", got)
	}
	d.RemoveMapping(ctx, child, testRange)
	if got := f.Live(); got != 0 {
		t.Errorf("live pages after child unmap: got %d, want 0", got)
	}

	allocated, freed := deactivate(t, d)
	if diff := cmp.Diff([]uint64{2, 2}, []uint64{allocated, freed}); diff != "" {
		t.Errorf("counters mismatch (-want +got):\n%s", diff)
	}
}

func TestEagerFailureOrphan(t *testing.T) {
	ctx := context.Background()
	d, f := activeDevice(t, false)
	f.FailAllocation(2)
	ms := memmaptest.NewMappingSpace(1)

	ar := hostarch.AddrRange{Start: 0x500000, End: 0x502000}
	if err := d.AddMapping(ctx, ms, ar); !linuxerr.Equals(linuxerr.ENOMEM, err) {
		t.Fatalf("AddMapping: got %v, want ENOMEM", err)
	}
	if got := d.NumMappings(); got != 0 {
		t.Errorf("NumMappings after failure: got %d, want 0", got)
	}
	if got := f.Live(); got != 1 {
		t.Errorf("live pages after failure: got %d, want 1", got)
	}

	// The range may be mapped again.
	if err := d.AddMapping(ctx, ms, hostarch.AddrRange{Start: 0x600000, End: 0x601000}); err != nil {
		t.Fatalf("AddMapping: %v", err)
	}
	d.RemoveMapping(ctx, ms, hostarch.AddrRange{Start: 0x600000, End: 0x601000})

	allocated, freed := deactivate(t, d)
	if allocated != 2 || freed != 2 {
		t.Errorf("counters: got allocated=%d freed=%d, want 2 and 2", allocated, freed)
	}
	if got := f.Live(); got != 0 {
		t.Errorf("live pages after Deactivate: got %d, want 0", got)
	}
}

func TestUnknownMappingPanics(t *testing.T) {
	ctx := context.Background()
	d, _ := activeDevice(t, true)
	ms := memmaptest.NewMappingSpace(1)
	for _, test := range []struct {
		name string
		fn   func()
	}{
		{"Fault", func() { d.Fault(ctx, ms, testRange, testRange.Start, hostarch.Read) }},
		{"CopyMapping", func() { d.CopyMapping(ctx, ms, memmaptest.NewMappingSpace(2), testRange) }},
		{"RemoveMapping", func() { d.RemoveMapping(ctx, ms, testRange) }},
	} {
		t.Run(test.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("%s on unknown mapping did not panic", test.name)
				}
			}()
			test.fn()
		})
	}
}

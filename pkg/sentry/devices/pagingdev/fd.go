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

	"gvisor.dev/paging/pkg/errors/linuxerr"
	"gvisor.dev/paging/pkg/hostarch"
	"gvisor.dev/paging/pkg/sentry/memmap"
)

// FD is an open file description of the paging device. Its only use is to
// be mapped.
type FD struct {
	dev *Device
}

// Open returns a new FD for d.
func (d *Device) Open(ctx context.Context) (*FD, error) {
	if !d.Active() {
		return nil, linuxerr.ENODEV
	}
	return &FD{dev: d}, nil
}

// Release releases fd. Mappings created through fd are unaffected.
func (fd *FD) Release(context.Context) {
	fd.dev = nil
}

// ConfigureMMap prepares opts for a mapping of the device. Only shared,
// readable and writable mappings are supported. The mapping may be neither
// grown nor partially unmapped.
func (fd *FD) ConfigureMMap(ctx context.Context, opts *memmap.MMapOpts) error {
	if fd.dev == nil || !fd.dev.Active() {
		return linuxerr.ENODEV
	}
	if opts.Private {
		return linuxerr.EINVAL
	}
	if !opts.Perms.SupersetOf(hostarch.ReadWrite) {
		return linuxerr.EACCES
	}
	opts.Mappable = fd.dev
	opts.DontExpand = true
	opts.Hint = Path
	return nil
}

// Read implements a read(2) of the device, which is not supported.
func (fd *FD) Read(ctx context.Context, dst []byte) (int, error) {
	return 0, linuxerr.EINVAL
}

// Write implements a write(2) of the device, which is not supported.
func (fd *FD) Write(ctx context.Context, src []byte) (int, error) {
	return 0, linuxerr.EINVAL
}

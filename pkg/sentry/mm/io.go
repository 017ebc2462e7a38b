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
)

// PageSlice returns the internal mapping of the bytes from addr to the end
// of its page, faulting the page in if it has no translation. The returned
// slice is valid until the page is unmapped.
func (mm *MemoryManager) PageSlice(ctx context.Context, addr hostarch.Addr, at hostarch.AccessType) ([]byte, error) {
	p, ok := mm.translation(addr)
	if !ok {
		if err := mm.HandleUserFault(ctx, addr, at); err != nil {
			return nil, err
		}
		if p, ok = mm.translation(addr); !ok {
			// Unmapped between the fault and the lookup.
			return nil, linuxerr.EFAULT
		}
	}
	if !p.perms.SupersetOf(at) {
		return nil, linuxerr.EFAULT
	}
	b, err := p.file.MapInternal(p.fr)
	if err != nil {
		return nil, err
	}
	return b[addr.PageOffset():], nil
}

// CopyOut copies src to the memory mapped at addr, faulting in pages as
// needed. It returns the number of bytes copied.
func (mm *MemoryManager) CopyOut(ctx context.Context, addr hostarch.Addr, src []byte) (int, error) {
	if _, ok := addr.AddLength(uint64(len(src))); !ok {
		return 0, linuxerr.EFAULT
	}
	done := 0
	for done < len(src) {
		b, err := mm.PageSlice(ctx, addr+hostarch.Addr(done), hostarch.Write)
		if err != nil {
			return done, err
		}
		done += copy(b, src[done:])
	}
	return done, nil
}

// CopyIn copies len(dst) bytes from the memory mapped at addr to dst,
// faulting in pages as needed. It returns the number of bytes copied.
func (mm *MemoryManager) CopyIn(ctx context.Context, addr hostarch.Addr, dst []byte) (int, error) {
	if _, ok := addr.AddLength(uint64(len(dst))); !ok {
		return 0, linuxerr.EFAULT
	}
	done := 0
	for done < len(dst) {
		b, err := mm.PageSlice(ctx, addr+hostarch.Addr(done), hostarch.Read)
		if err != nil {
			return done, err
		}
		done += copy(dst[done:], b)
	}
	return done, nil
}

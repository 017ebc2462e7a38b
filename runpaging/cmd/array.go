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

package cmd

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"gvisor.dev/paging/pkg/hostarch"
	"gvisor.dev/paging/pkg/sentry/mm"
)

const float64Size = 8

// float64Array is an array of float64 in a process's address space. Every
// access goes through the process's page tables, so the first access to each
// page takes a fault.
//
// float64Array is not safe for concurrent use.
type float64Array struct {
	mm   *mm.MemoryManager
	addr hostarch.Addr
	len  uint64

	// page and buf cache the internal mapping of the last page accessed.
	page hostarch.Addr
	buf  []byte

	// err is the error of the first failed access.
	err error
}

// allocFloat64s maps an array of n float64 through the paging device.
func (p *process) allocFloat64s(ctx context.Context, n uint64) (*float64Array, error) {
	if n == 0 {
		return nil, fmt.Errorf("empty array")
	}
	if n > math.MaxUint64/float64Size {
		return nil, fmt.Errorf("array of %d elements is too large", n)
	}
	addr, err := p.mmap(ctx, n*float64Size)
	if err != nil {
		return nil, err
	}
	return &float64Array{mm: p.mm, addr: addr, len: n}, nil
}

// slice returns the 8 bytes backing element i, or nil if an access has
// failed.
func (a *float64Array) slice(ctx context.Context, i uint64) []byte {
	if i >= a.len {
		panic(fmt.Sprintf("index %d out of range [0, %d)", i, a.len))
	}
	if a.err != nil {
		return nil
	}
	addr := a.addr + hostarch.Addr(i*float64Size)
	if page := addr.RoundDown(); a.buf == nil || page != a.page {
		b, err := a.mm.PageSlice(ctx, page, hostarch.ReadWrite)
		if err != nil {
			a.err = fmt.Errorf("accessing %#x: %v: %w", uint64(addr), mm.ClassifyFault(err), err)
			return nil
		}
		a.page, a.buf = page, b
	}
	off := addr.PageOffset()
	return a.buf[off : off+float64Size]
}

// Len returns the number of elements in a.
func (a *float64Array) Len() uint64 {
	return a.len
}

// At returns element i. It returns 0 once an access has failed.
func (a *float64Array) At(ctx context.Context, i uint64) float64 {
	b := a.slice(ctx, i)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.NativeEndian.Uint64(b))
}

// Set stores v in element i. It does nothing once an access has failed.
func (a *float64Array) Set(ctx context.Context, i uint64, v float64) {
	if b := a.slice(ctx, i); b != nil {
		binary.NativeEndian.PutUint64(b, math.Float64bits(v))
	}
}

// Swap exchanges elements i and j.
func (a *float64Array) Swap(ctx context.Context, i, j uint64) {
	vi, vj := a.At(ctx, i), a.At(ctx, j)
	a.Set(ctx, i, vj)
	a.Set(ctx, j, vi)
}

// Err returns the error of the first failed access, which is sticky: like a
// process killed by SIGBUS, a does not recover from it.
func (a *float64Array) Err() error {
	return a.err
}

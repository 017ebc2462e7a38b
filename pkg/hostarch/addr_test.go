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

package hostarch

import (
	"fmt"
	"testing"
)

func TestRounding(t *testing.T) {
	for _, test := range []struct {
		addr Addr
		down Addr
		up   Addr
	}{
		{0, 0, 0},
		{1, 0, PageSize},
		{PageSize - 1, 0, PageSize},
		{PageSize, PageSize, PageSize},
		{0x1500, 0x1000, 0x2000},
		{0x3abc, 0x3000, 0x4000},
	} {
		if got := test.addr.RoundDown(); got != test.down {
			t.Errorf("%v.RoundDown() = %v, want %v", test.addr, got, test.down)
		}
		up, ok := test.addr.RoundUp()
		if !ok || up != test.up {
			t.Errorf("%v.RoundUp() = (%v, %t), want (%v, true)", test.addr, up, ok, test.up)
		}
	}
}

func TestRoundUpWraps(t *testing.T) {
	if _, ok := (^Addr(0)).RoundUp(); ok {
		t.Errorf("RoundUp of the last address did not report wrap-around")
	}
}

func TestNumPages(t *testing.T) {
	for _, test := range []struct {
		ar   AddrRange
		want uint64
	}{
		{AddrRange{0x1000, 0x4000}, 3},
		{AddrRange{0x1000, 0x1001}, 1},
		{AddrRange{0x1fff, 0x2001}, 2},
		{AddrRange{0x1000, 0x1000}, 0},
	} {
		if got := test.ar.NumPages(); got != test.want {
			t.Errorf("%v.NumPages() = %d, want %d", test.ar, got, test.want)
		}
	}
}

func TestFormatting(t *testing.T) {
	for _, test := range []struct {
		got  string
		want string
	}{
		{Addr(0x1500).String(), "0x1500"},
		{fmt.Sprintf("%v", Addr(0x3abc)), "0x3abc"},
		{AddrRange{0x1000, 0x2000}.String(), "[0x1000, 0x2000)"},
		{fmt.Sprintf("mapping %v", AddrRange{0x10000, 0x13000}), "mapping [0x10000, 0x13000)"},
	} {
		if test.got != test.want {
			t.Errorf("got %q, want %q", test.got, test.want)
		}
	}
}

func TestAccessTypeSupersetOf(t *testing.T) {
	if !ReadWrite.SupersetOf(Read) {
		t.Errorf("rw- should be a superset of r--")
	}
	if Read.SupersetOf(Write) {
		t.Errorf("r-- should not be a superset of -w-")
	}
	if got, want := ReadWrite.String(), "rw-"; got != want {
		t.Errorf("ReadWrite.String() = %q, want %q", got, want)
	}
}

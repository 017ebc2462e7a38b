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

package bitmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFirstZero(t *testing.T) {
	b := New(128)
	for i := uint32(0); i < 70; i++ {
		b.Add(i)
	}
	if got, err := b.FirstZero(0); err != nil || got != 70 {
		t.Errorf("FirstZero(0): got (%d, %v), want (70, nil)", got, err)
	}
	b.Remove(3)
	if got, err := b.FirstZero(0); err != nil || got != 3 {
		t.Errorf("FirstZero(0) after Remove(3): got (%d, %v), want (3, nil)", got, err)
	}
	if got, err := b.FirstZero(4); err != nil || got != 70 {
		t.Errorf("FirstZero(4): got (%d, %v), want (70, nil)", got, err)
	}
	for i := uint32(70); i < 128; i++ {
		b.Add(i)
	}
	b.Add(3)
	if _, err := b.FirstZero(0); err == nil {
		t.Errorf("FirstZero on a full bitmap succeeded")
	}
	if err := b.Grow(64); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if got, err := b.FirstZero(0); err != nil || got != 128 {
		t.Errorf("FirstZero after Grow: got (%d, %v), want (128, nil)", got, err)
	}
}

func TestAddRemoveContains(t *testing.T) {
	var b Bitmap
	if !b.IsEmpty() || b.Size() != 0 {
		t.Fatalf("zero Bitmap: IsEmpty=%t Size=%d", b.IsEmpty(), b.Size())
	}
	b.Add(5)
	b.Add(5)
	b.Add(200)
	if got := b.GetNumOnes(); got != 2 {
		t.Errorf("GetNumOnes: got %d, want 2", got)
	}
	got := []bool{b.Contains(5), b.Contains(6), b.Contains(200), b.Contains(100000)}
	if want := []bool{true, false, true, false}; !cmp.Equal(want, got) {
		t.Errorf("Contains: got %v, want %v", got, want)
	}
	b.Remove(5)
	b.Remove(100000)
	if got := b.GetNumOnes(); got != 1 {
		t.Errorf("GetNumOnes after Remove: got %d, want 1", got)
	}
	if b.Size() < 201 {
		t.Errorf("Size: got %d, want at least 201", b.Size())
	}
}

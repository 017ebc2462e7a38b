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

package refs

import (
	"testing"
)

type leaky struct{ name string }

func (l *leaky) RefType() string     { return "leaky" }
func (l *leaky) LeakMessage() string { return l.name + " leaked" }
func (l *leaky) LogRefs() bool       { return false }

func TestLeakCheck(t *testing.T) {
	SetLeakMode(LeaksLogWarning)
	defer SetLeakMode(NoLeakChecking)

	a, b := &leaky{"a"}, &leaky{"b"}
	Register(a)
	Register(b)
	Unregister(a)
	if got := DoLeakCheck(); got != 1 {
		t.Errorf("DoLeakCheck() = %d, want 1", got)
	}
	Unregister(b)
	if got := DoLeakCheck(); got != 0 {
		t.Errorf("DoLeakCheck() after unregistering everything = %d, want 0", got)
	}
}

func TestLeakCheckDisabled(t *testing.T) {
	SetLeakMode(NoLeakChecking)
	Register(&leaky{"c"})
	if got := DoLeakCheck(); got != 0 {
		t.Errorf("DoLeakCheck() with checking disabled = %d, want 0", got)
	}
}

func TestLeakModeFlag(t *testing.T) {
	for _, s := range []string{"disabled", "log-names", "panic"} {
		var m LeakMode
		if err := m.Set(s); err != nil {
			t.Fatalf("Set(%q): %v", s, err)
		}
		if got := m.String(); got != s {
			t.Errorf("LeakMode.Set(%q).String() = %q", s, got)
		}
	}
	var m LeakMode
	if err := m.Set("bogus"); err == nil {
		t.Errorf("Set(bogus) succeeded")
	}
}

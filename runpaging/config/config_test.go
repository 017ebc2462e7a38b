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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/paging/pkg/refs"
	"gvisor.dev/paging/runpaging/flag"
)

func defaultConfig() Config {
	return Config{
		DemandPaging:   true,
		DebugLogFormat: "text",
		ReferenceLeak:  refs.NoLeakChecking,
	}
}

func TestDefault(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(defaultConfig(), *c); diff != "" {
		t.Errorf("default config mismatch (-want +got):\n%s", diff)
	}

	// All defaults doesn't require setting flags.
	flags := c.ToFlags()
	if len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	for name, val := range map[string]string{
		"demand-paging": "false",
		"memory-limit":  "128",
		"debug":         "true",
		"ref-leak-mode": "log-names",
	} {
		if err := testFlags.Lookup(name).Value.Set(val); err != nil {
			t.Errorf("Flag set: %v", err)
		}
	}

	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := defaultConfig()
	want.DemandPaging = false
	want.MemoryLimit = 128
	want.Debug = true
	want.ReferenceLeak = refs.LeaksLogWarning
	if diff := cmp.Diff(want, *c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestToFlagsFromFlags(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	testFlags.Set("demand-paging", "false")
	testFlags.Set("debug", "true")
	testFlags.Set("alsologtostderr", "false") // Matches default value.
	testFlags.Set("metrics-output", "-")
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}

	got := c.ToFlags()
	want := []string{
		"--demand-paging=false",
		"--debug=true",
		"--metrics-output=-",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ToFlags() mismatch (-want +got):\n%s", diff)
	}
}

// TestInvalidFlags checks that typed flags fail when the value is malformed.
func TestInvalidFlags(t *testing.T) {
	for _, tc := range []struct {
		name  string
		value string
		error string
	}{
		{
			name:  "ref-leak-mode",
			value: "invalid",
			error: "invalid ref leak mode",
		},
		{
			name:  "memory-limit",
			value: "-1",
			error: "parse error",
		},
		{
			name:  "demand-paging",
			value: "maybe",
			error: "parse error",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
			RegisterFlags(testFlags)
			if err := testFlags.Lookup(tc.name).Value.Set(tc.value); err == nil || !strings.Contains(err.Error(), tc.error) {
				t.Errorf("flag.Value.Set(invalid) wrong error reported: %v", err)
			}
		})
	}
}

func TestValidationFail(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Set("debug-log-format", "json-k8s"); err != nil {
		t.Fatalf("Flag set: %v", err)
	}
	const errMsg = "invalid log format"
	if _, err := NewFromFlags(testFlags); err == nil || !strings.Contains(err.Error(), errMsg) {
		t.Errorf("NewFromFlags() wrong error: %v", err)
	}
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runpaging.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestApplyFile(t *testing.T) {
	path := writeConfigFile(t, `
[flags]
demand-paging = "false"
memory-limit = "64"
debug-log-format = "json"
`)
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	// The command line wins over the file.
	if err := testFlags.Parse([]string{"--config=" + path, "--memory-limit=32"}); err != nil {
		t.Fatal(err)
	}
	if err := ApplyFile(testFlags); err != nil {
		t.Fatalf("ApplyFile() failed: %v", err)
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := defaultConfig()
	want.DemandPaging = false
	want.MemoryLimit = 32
	want.DebugLogFormat = "json"
	if diff := cmp.Diff(want, *c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyFileNoConfig(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := ApplyFile(testFlags); err != nil {
		t.Errorf("ApplyFile() without --config failed: %v", err)
	}
}

func TestApplyFileErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
		error    string
	}{
		{
			name:     "unknown flag",
			contents: "[flags]\nplatform = \"kvm\"\n",
			error:    `flag "platform" not found`,
		},
		{
			name:     "bad value",
			contents: "[flags]\nmemory-limit = \"lots\"\n",
			error:    "error setting flag memory-limit",
		},
		{
			name:     "recursive",
			contents: "[flags]\nconfig = \"/etc/other.toml\"\n",
			error:    "cannot set",
		},
		{
			name:     "unknown table",
			contents: "[runtime]\nname = \"x\"\n",
			error:    "unknown keys",
		},
		{
			name:     "malformed",
			contents: "[flags\n",
			error:    "decoding config file",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, tc.contents)
			testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
			RegisterFlags(testFlags)
			if err := testFlags.Set(ConfigFlag, path); err != nil {
				t.Fatal(err)
			}
			if err := ApplyFile(testFlags); err == nil || !strings.Contains(err.Error(), tc.error) {
				t.Errorf("ApplyFile() wrong error: %v, want %q", err, tc.error)
			}
		})
	}
}

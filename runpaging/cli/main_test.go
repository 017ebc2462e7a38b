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

package cli

import (
	"testing"
	"time"

	"github.com/google/subcommands"
)

func TestDebugLogOptsBuild(t *testing.T) {
	opts := debugLogOpts{
		command: "sort",
		start:   time.Date(2024, 3, 1, 12, 30, 45, 123456000, time.UTC),
	}
	for _, tc := range []struct {
		pattern string
		want    string
	}{
		{
			pattern: "/tmp/paging.log",
			want:    "/tmp/paging.log",
		},
		{
			pattern: "/tmp/%COMMAND%-%TIMESTAMP%.txt",
			want:    "/tmp/sort-20240301-123045.123456.txt",
		},
		{
			pattern: "/var/log/runpaging/",
			want:    "/var/log/runpaging/runpaging.log.20240301-123045.123456.sort",
		},
	} {
		if got := opts.Build(tc.pattern); got != tc.want {
			t.Errorf("Build(%q) = %q, want %q", tc.pattern, got, tc.want)
		}
	}
}

func TestCommandsRegistered(t *testing.T) {
	names := make(map[string]string)
	forEachCmd(func(cmd subcommands.Command, group string) {
		if _, ok := names[cmd.Name()]; ok {
			t.Errorf("command %q registered twice", cmd.Name())
		}
		names[cmd.Name()] = group
	})
	for _, name := range []string{"help", "flags", "densemm", "sort"} {
		if _, ok := names[name]; !ok {
			t.Errorf("command %q not registered", name)
		}
	}
}

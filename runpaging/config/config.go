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

// Package config provides basic infrastructure to set configuration settings
// for runpaging. Each setting that can be changed from the command line is
// tagged with the name of its flag.
package config

import (
	"fmt"
	"reflect"

	"gvisor.dev/paging/pkg/log"
	"gvisor.dev/paging/pkg/refs"
)

// Config holds configuration that is not part of the workload being run.
type Config struct {
	// DemandPaging selects the lazy allocation strategy. When false, every
	// page of a mapping is allocated and installed when the mapping is
	// created.
	DemandPaging bool `flag:"demand-paging"`

	// MemoryLimit is the maximum number of pages the memory file will hand
	// out. Zero means no limit beyond the host's.
	MemoryLimit uint64 `flag:"memory-limit"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// DebugLog is the path to log debug information to, if not empty.
	DebugLog string `flag:"debug-log"`

	// DebugLogFormat is the log format for debug.
	DebugLogFormat string `flag:"debug-log-format"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// ReferenceLeak sets reference leak check mode.
	ReferenceLeak refs.LeakMode `flag:"ref-leak-mode"`

	// MetricsOutput is the path the page counters are written to in
	// Prometheus text format when a workload finishes. "-" means stdout.
	MetricsOutput string `flag:"metrics-output"`
}

func (c *Config) validate() error {
	switch c.DebugLogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.DebugLogFormat)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			continue
		}
		log.Infof("Config.%s (--%s): %s", f.Name, name, getVal(obj.Field(i)))
	}
}

func leakModePtr(v refs.LeakMode) *refs.LeakMode {
	return &v
}

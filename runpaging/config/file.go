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
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
	"gvisor.dev/paging/runpaging/flag"
)

// ConfigFlag is the name of the flag holding the configuration file path.
const ConfigFlag = "config"

// file is the on-disk configuration. Each key of Flags is converted to
// --key=value.
type file struct {
	Flags map[string]string `toml:"flags"`
}

// loadFile loads the configuration file at path.
func loadFile(path string) (*file, error) {
	var f file
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("decoding config file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys in config file %q: %v", path, undecoded)
	}
	return &f, nil
}

// ApplyFile sets flags from the file named by the --config flag, if any.
// Flags given explicitly on the command line take precedence over the file.
func ApplyFile(flagSet *flag.FlagSet) error {
	fl := flagSet.Lookup(ConfigFlag)
	if fl == nil {
		panic(fmt.Sprintf("Flag %q not found", ConfigFlag))
	}
	path := flag.Get(fl.Value).(string)
	if path == "" {
		return nil
	}
	f, err := loadFile(path)
	if err != nil {
		return err
	}

	explicit := make(map[string]bool)
	flagSet.Visit(func(fl *flag.Flag) {
		explicit[fl.Name] = true
	})

	// Apply in a stable order so errors are deterministic.
	names := make([]string, 0, len(f.Flags))
	for name := range f.Flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == ConfigFlag {
			return fmt.Errorf("config file %q cannot set %q", path, ConfigFlag)
		}
		if flagSet.Lookup(name) == nil {
			return fmt.Errorf("config file %q: flag %q not found", path, name)
		}
		if explicit[name] {
			continue
		}
		if err := flagSet.Set(name, f.Flags[name]); err != nil {
			return fmt.Errorf("config file %q: error setting flag %s=%q: %w", path, name, f.Flags[name], err)
		}
	}
	return nil
}

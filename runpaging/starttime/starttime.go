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

// Package starttime holds the time the `runpaging` command started.
package starttime

import (
	"os"
	"strconv"
	"time"

	"gvisor.dev/paging/pkg/sync"
)

var (
	setOnce   sync.Once
	startTime time.Time
)

// envStartTimeKey is the environment variable that, if set, overrides the
// start time. Its value is in nanoseconds since the epoch.
const envStartTimeKey = "RUNPAGING_START_TIME_NANOS"

// Get returns the time the `runpaging` command started on a best-effort
// basis: from RUNPAGING_START_TIME_NANOS if set, otherwise from the
// modification time of /proc/self/status, otherwise the time Get was first
// called.
func Get() time.Time {
	setOnce.Do(func() {
		if s, found := os.LookupEnv(envStartTimeKey); found {
			if nanos, err := strconv.ParseInt(s, 10, 64); err == nil {
				startTime = time.Unix(0, nanos)
				return
			}
		}
		if st, err := os.Stat("/proc/self/status"); err == nil {
			startTime = st.ModTime()
			return
		}
		startTime = time.Now()
	})
	return startTime
}

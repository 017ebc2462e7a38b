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

package paging

import (
	"fmt"

	"gvisor.dev/paging/pkg/atomicbitops"
	"gvisor.dev/paging/pkg/prometheus"
)

// Counters are the pager-wide page statistics. Each counter only increases
// until Reset; the values are eventually consistent with each other, and
// Allocated() == Freed() once every mapping has been torn down.
//
// Counters is safe for concurrent use.
type Counters struct {
	allocated   atomicbitops.Uint64
	freed       atomicbitops.Uint64
	strayFaults atomicbitops.Uint64
}

// Allocated returns the number of pages inserted into any inventory.
func (c *Counters) Allocated() uint64 {
	return c.allocated.Load()
}

// Freed returns the number of pages drained from any inventory.
func (c *Counters) Freed() uint64 {
	return c.freed.Load()
}

// StrayFaults returns the number of faults resolved while demand paging was
// disabled.
func (c *Counters) StrayFaults() uint64 {
	return c.strayFaults.Load()
}

// Outstanding returns the number of pages currently held by inventories. The
// result is only meaningful when no inventory is being modified.
func (c *Counters) Outstanding() uint64 {
	return c.Allocated() - c.Freed()
}

// Reset zeroes all counters.
func (c *Counters) Reset() {
	c.allocated.Store(0)
	c.freed.Store(0)
	c.strayFaults.Store(0)
}

// String implements fmt.Stringer.String.
func (c *Counters) String() string {
	return fmt.Sprintf("allocated_pages=%d freed_pages=%d stray_faults=%d", c.Allocated(), c.Freed(), c.StrayFaults())
}

var (
	allocatedMetric = &prometheus.Metric{
		Name: "pages_allocated_total",
		Type: prometheus.TypeCounter,
		Help: "Pages allocated and inserted into a mapping inventory.",
	}
	freedMetric = &prometheus.Metric{
		Name: "pages_freed_total",
		Type: prometheus.TypeCounter,
		Help: "Pages drained from a mapping inventory and returned to the allocator.",
	}
	strayFaultsMetric = &prometheus.Metric{
		Name: "stray_faults_total",
		Type: prometheus.TypeCounter,
		Help: "Faults taken on eagerly populated mappings.",
	}
	outstandingMetric = &prometheus.Metric{
		Name: "pages_outstanding",
		Type: prometheus.TypeGauge,
		Help: "Pages currently owned by live mappings.",
	}
)

// Snapshot returns the counters as Prometheus data labeled with the active
// strategy.
func (c *Counters) Snapshot(strategy string) *prometheus.Snapshot {
	allocated, freed := c.Allocated(), c.Freed()
	labels := map[string]string{"strategy": strategy}
	return prometheus.NewSnapshot().Add(
		prometheus.LabeledIntData(allocatedMetric, labels, int64(allocated)),
		prometheus.LabeledIntData(freedMetric, labels, int64(freed)),
		prometheus.LabeledIntData(strayFaultsMetric, labels, int64(c.StrayFaults())),
		prometheus.LabeledIntData(outstandingMetric, labels, int64(allocated)-int64(freed)),
	)
}

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
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"
	"gvisor.dev/paging/pkg/log"
	"gvisor.dev/paging/pkg/sentry/paging"
	"gvisor.dev/paging/pkg/sync"
)

// workload is run by each process of a sandbox. id is the index of the
// process. Output is written to w.
type workload func(ctx context.Context, p *process, id int, w io.Writer) error

// run runs wl in procs concurrent processes and shuts s down once they have
// all exited. The output of each process is written to out as one block.
func run(ctx context.Context, s *sandbox, procs int, wl workload, out io.Writer) (*paging.Counters, error) {
	var (
		outMu sync.Mutex
		g     errgroup.Group
	)
	for id := 0; id < procs; id++ {
		g.Go(func() error {
			p, err := s.newProcess(ctx)
			if err != nil {
				return err
			}
			defer p.exit(ctx)

			var buf bytes.Buffer
			if procs > 1 {
				fmt.Fprintf(&buf, "Process %d (%s):\n", id, p.mm)
			}
			err = wl(ctx, p, id, &buf)
			outMu.Lock()
			out.Write(buf.Bytes())
			outMu.Unlock()
			if err != nil {
				log.Warningf("%s: workload failed: %v", p.mm, err)
				return fmt.Errorf("process %d: %w", id, err)
			}
			return nil
		})
	}
	werr := g.Wait()

	c, err := s.shutdown(ctx)
	if werr != nil {
		return c, werr
	}
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Pages allocated: %d, freed: %d, stray faults: %d\n", c.Allocated(), c.Freed(), c.StrayFaults())
	return c, nil
}

// printTimeDiff prints d in seconds with microsecond precision.
func printTimeDiff(w io.Writer, d time.Duration) {
	fmt.Fprintf(w, "Time Diff: %d.%06d\n", d/time.Second, (d%time.Second)/time.Microsecond)
}

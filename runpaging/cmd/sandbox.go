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
	"context"
	"fmt"
	"io"
	"os"

	"gvisor.dev/paging/pkg/atomicbitops"
	"gvisor.dev/paging/pkg/hostarch"
	"gvisor.dev/paging/pkg/log"
	"gvisor.dev/paging/pkg/prometheus"
	"gvisor.dev/paging/pkg/sentry/devices/pagingdev"
	"gvisor.dev/paging/pkg/sentry/memmap"
	"gvisor.dev/paging/pkg/sentry/mm"
	"gvisor.dev/paging/pkg/sentry/paging"
	"gvisor.dev/paging/pkg/sentry/pgalloc"
	"gvisor.dev/paging/runpaging/config"
)

// sandbox is an active paging device and the memory backing it, shared by
// the processes of one workload.
type sandbox struct {
	conf *config.Config

	// mf is the memory file created by boot, or nil if the sandbox was
	// given its memmap.File by a test.
	mf *pgalloc.MemoryFile

	dev *pagingdev.Device

	// lastID is the ID of the most recently created process.
	lastID atomicbitops.Uint64
}

// boot creates a memory file and activates the paging device on it. The
// returned context carries the memory file.
func boot(ctx context.Context, conf *config.Config) (*sandbox, context.Context, error) {
	mf, err := pgalloc.NewMemoryFile(pgalloc.MemoryFileOpts{
		Name:       "runpaging-memory",
		LimitPages: conf.MemoryLimit,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating memory file: %w", err)
	}
	s, err := newSandbox(conf, mf)
	if err != nil {
		mf.Destroy()
		return nil, nil, err
	}
	s.mf = mf
	return s, pgalloc.WithMemoryFile(ctx, mf), nil
}

// newSandbox activates a paging device backed by f.
func newSandbox(conf *config.Config, f memmap.File) (*sandbox, error) {
	dev := pagingdev.New()
	if err := dev.Activate(pagingdev.ActivateOptions{
		File:         f,
		DemandPaging: conf.DemandPaging,
	}); err != nil {
		return nil, fmt.Errorf("activating %s: %w", pagingdev.Path, err)
	}
	return &sandbox{conf: conf, dev: dev}, nil
}

// process is a simulated user process with its own address space and an open
// FD of the paging device.
type process struct {
	mm *mm.MemoryManager
	fd *pagingdev.FD
}

// newProcess returns a process with an empty address space.
func (s *sandbox) newProcess(ctx context.Context) (*process, error) {
	fd, err := s.dev.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", pagingdev.Path, err)
	}
	return &process{
		mm: mm.NewMemoryManager(s.lastID.Add(1)),
		fd: fd,
	}, nil
}

// mmap maps length bytes of the paging device, shared and read/write.
func (p *process) mmap(ctx context.Context, length uint64) (hostarch.Addr, error) {
	opts := memmap.MMapOpts{
		Length: length,
		Perms:  hostarch.ReadWrite,
	}
	if err := p.fd.ConfigureMMap(ctx, &opts); err != nil {
		return 0, fmt.Errorf("could not mmap %s: %w", pagingdev.Path, err)
	}
	addr, err := p.mm.MMap(ctx, opts)
	if err != nil {
		return 0, fmt.Errorf("could not mmap %s: %w", pagingdev.Path, err)
	}
	return addr, nil
}

// exit closes the device and tears down every mapping of p.
func (p *process) exit(ctx context.Context) {
	p.fd.Release(ctx)
	p.mm.DecUsers(ctx)
}

// shutdown deactivates the device, writes the counters to the metrics
// output if one is configured, and releases the memory file.
func (s *sandbox) shutdown(ctx context.Context) (*paging.Counters, error) {
	p, err := s.dev.Deactivate(ctx)
	if err != nil {
		return nil, fmt.Errorf("deactivating %s: %w", pagingdev.Path, err)
	}
	if mf := pgalloc.MemoryFileFromContext(ctx); mf != nil {
		log.Infof("Memory file: %d pages allocated, %d bytes", mf.AllocatedPages(), mf.FileSize())
	}
	if s.mf != nil {
		s.mf.Destroy()
	}
	c := p.Counters()
	if s.conf.MetricsOutput != "" {
		if err := writeMetrics(s.conf.MetricsOutput, c, p.Strategy().String()); err != nil {
			return c, err
		}
	}
	return c, nil
}

// writeMetrics writes c in Prometheus text format to path, or to stdout if
// path is "-".
func writeMetrics(path string, c *paging.Counters, strategy string) error {
	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating metrics output: %w", err)
		}
		defer f.Close()
		w = f
	}
	written, err := prometheus.Write(w, prometheus.ExportOptions{
		CommentHeader: fmt.Sprintf("Page counters for %s", pagingdev.Path),
	}, c.Snapshot(strategy), prometheus.SnapshotExportOptions{
		ExporterPrefix: "paging_",
	})
	if err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	log.Infof("Wrote %d bytes of Prometheus metric data to %s", written, path)
	return nil
}

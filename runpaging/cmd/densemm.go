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
	"math/rand/v2"
	"os"
	"strconv"
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/paging/runpaging/cmd/util"
	"gvisor.dev/paging/runpaging/config"
	"gvisor.dev/paging/runpaging/flag"
)

// maxMatrixSize bounds the matrix dimension so that the number of elements
// fits in 32 bits.
const maxMatrixSize = 65536

// DenseMM implements subcommands.Command for the "densemm" command.
type DenseMM struct {
	procs int
	seed  uint64
}

// Name implements subcommands.Command.Name.
func (*DenseMM) Name() string {
	return "densemm"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*DenseMM) Synopsis() string {
	return "multiply two dense matrices held in paging device memory"
}

// Usage implements subcommands.Command.Usage.
func (*DenseMM) Usage() string {
	return `densemm [flags] <size of matrices> - computes A*B = C where A, B and C are N*N matrices of doubles mapped from /dev/paging.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *DenseMM) SetFlags(f *flag.FlagSet) {
	f.IntVar(&d.procs, "procs", 1, "number of processes running the workload concurrently.")
	f.Uint64Var(&d.seed, "seed", 1, "seed for the random matrix contents.")
}

// Execute implements subcommands.Command.Execute.
func (d *DenseMM) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	n, err := strconv.ParseUint(f.Arg(0), 10, 32)
	if err != nil || n == 0 || n > maxMatrixSize {
		return util.Errorf("Matrix size must be between 1 and %d, got %q", maxMatrixSize, f.Arg(0))
	}
	if d.procs < 1 {
		return util.Errorf("--procs must be at least 1, got %d", d.procs)
	}
	conf := args[0].(*config.Config)

	s, ctx, err := boot(ctx, conf)
	if err != nil {
		return util.Errorf("%v", err)
	}
	wl := func(ctx context.Context, p *process, id int, w io.Writer) error {
		return denseMM(ctx, p, n, rand.New(rand.NewPCG(d.seed, uint64(id))), w)
	}
	if _, err := run(ctx, s, d.procs, wl, os.Stdout); err != nil {
		return util.Errorf("densemm: %v", err)
	}
	return subcommands.ExitSuccess
}

// denseMM maps three n*n matrices in p, fills A and B with random values and
// computes C = A*B.
func denseMM(ctx context.Context, p *process, n uint64, rng *rand.Rand, w io.Writer) error {
	start := time.Now()
	var m [3]*float64Array
	for i := range m {
		a, err := p.allocFloat64s(ctx, n*n)
		if err != nil {
			return err
		}
		m[i] = a
	}
	fmt.Fprintf(w, "Time for mmap (all 3 matrices):\n")
	printTimeDiff(w, time.Since(start))

	a, b, c := m[0], m[1], m[2]
	for i := uint64(0); i < n*n; i++ {
		a.Set(ctx, i, rng.Float64())
		b.Set(ctx, i, rng.Float64())
	}
	if err := firstErr(a, b); err != nil {
		return err
	}

	start = time.Now()
	if err := multiply(ctx, a, b, c, n); err != nil {
		return err
	}
	fmt.Fprintf(w, "Multiplication done\n")
	fmt.Fprintf(w, "Time for matrix multiplication:\n")
	printTimeDiff(w, time.Since(start))
	return nil
}

// multiply accumulates A*B into C. All three are n*n matrices in row-major
// order.
func multiply(ctx context.Context, a, b, c *float64Array, n uint64) error {
	for row := uint64(0); row < n; row++ {
		for col := uint64(0); col < n; col++ {
			sum := c.At(ctx, row*n+col)
			for k := uint64(0); k < n; k++ {
				sum += a.At(ctx, row*n+k) * b.At(ctx, k*n+col)
			}
			c.Set(ctx, row*n+col, sum)
		}
		if err := firstErr(a, b, c); err != nil {
			return err
		}
	}
	return nil
}

func firstErr(arrays ...*float64Array) error {
	for _, a := range arrays {
		if err := a.Err(); err != nil {
			return err
		}
	}
	return nil
}

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

// Sort implements subcommands.Command for the "sort" command.
type Sort struct {
	procs  int
	seed   uint64
	verify bool
}

// Name implements subcommands.Command.Name.
func (*Sort) Name() string {
	return "sort"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Sort) Synopsis() string {
	return "quicksort an array held in paging device memory"
}

// Usage implements subcommands.Command.Usage.
func (*Sort) Usage() string {
	return `sort [flags] <size of array to sort> - sorts an array of random doubles mapped from /dev/paging in place.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Sort) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.procs, "procs", 1, "number of processes running the workload concurrently.")
	f.Uint64Var(&s.seed, "seed", 1, "seed for the array contents and pivot selection.")
	f.BoolVar(&s.verify, "verify", false, "check that the array is sorted before exiting.")
}

// Execute implements subcommands.Command.Execute.
func (s *Sort) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	n, err := strconv.ParseUint(f.Arg(0), 10, 32)
	if err != nil || n == 0 {
		return util.Errorf("Array size must be a positive 32-bit integer, got %q", f.Arg(0))
	}
	if s.procs < 1 {
		return util.Errorf("--procs must be at least 1, got %d", s.procs)
	}
	conf := args[0].(*config.Config)

	sb, ctx, err := boot(ctx, conf)
	if err != nil {
		return util.Errorf("%v", err)
	}
	wl := func(ctx context.Context, p *process, id int, w io.Writer) error {
		return sortArray(ctx, p, n, rand.New(rand.NewPCG(s.seed, uint64(id))), s.verify, w)
	}
	if _, err := run(ctx, sb, s.procs, wl, os.Stdout); err != nil {
		return util.Errorf("sort: %v", err)
	}
	return subcommands.ExitSuccess
}

// sortArray maps an array of n doubles in p, fills it with random values and
// sorts it.
func sortArray(ctx context.Context, p *process, n uint64, rng *rand.Rand, verify bool, w io.Writer) error {
	fmt.Fprintf(w, "Generating array...\n")
	start := time.Now()
	a, err := p.allocFloat64s(ctx, n)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Time for mmap:\n")
	printTimeDiff(w, time.Since(start))
	for i := uint64(0); i < n; i++ {
		a.Set(ctx, i, float64(rng.Int32()))
	}
	if err := a.Err(); err != nil {
		return err
	}

	fmt.Fprintf(w, "Sorting array...\n")
	start = time.Now()
	if err := quicksort(ctx, a, 0, n-1, rng); err != nil {
		return err
	}
	fmt.Fprintf(w, "Time for sort:\n")
	printTimeDiff(w, time.Since(start))

	if verify {
		fmt.Fprintf(w, "Verifying array is sorted...\n")
		if i, ok := firstUnsorted(ctx, a); !ok {
			return fmt.Errorf("array is not sorted at index %d", i)
		}
		if err := a.Err(); err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "Sort done!\n")
	return nil
}

// quicksort sorts a[lo:hi+1] in place with randomly chosen pivots. It recurses
// into the smaller partition only, bounding the stack depth.
func quicksort(ctx context.Context, a *float64Array, lo, hi uint64, rng *rand.Rand) error {
	for lo < hi {
		p := partition(ctx, a, lo, hi, rng)
		if err := a.Err(); err != nil {
			return err
		}
		if p-lo < hi-p {
			if p > lo {
				if err := quicksort(ctx, a, lo, p-1, rng); err != nil {
					return err
				}
			}
			lo = p + 1
		} else {
			if p < hi {
				if err := quicksort(ctx, a, p+1, hi, rng); err != nil {
					return err
				}
			}
			// p > lo, otherwise p-lo < hi-p.
			hi = p - 1
		}
	}
	return nil
}

// partition moves a random pivot into place, with smaller or equal elements
// before it and larger ones after, and returns its index.
func partition(ctx context.Context, a *float64Array, lo, hi uint64, rng *rand.Rand) uint64 {
	a.Swap(ctx, lo+rng.Uint64N(hi-lo+1), hi)
	pivot := a.At(ctx, hi)
	target := lo
	for i := lo; i < hi; i++ {
		if a.At(ctx, i) <= pivot {
			a.Swap(ctx, target, i)
			target++
		}
	}
	a.Swap(ctx, target, hi)
	return target
}

// firstUnsorted returns the first index i such that a[i] > a[i+1], and
// false, or true if a is sorted.
func firstUnsorted(ctx context.Context, a *float64Array) (uint64, bool) {
	for i := uint64(0); i+1 < a.Len(); i++ {
		if !(a.At(ctx, i) <= a.At(ctx, i+1)) {
			return i, false
		}
	}
	return 0, true
}

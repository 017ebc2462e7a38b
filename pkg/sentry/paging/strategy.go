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
	"context"

	"gvisor.dev/paging/pkg/hostarch"
	"gvisor.dev/paging/pkg/sentry/memmap"
)

// Strategy decides which pages of a new mapping are allocated when the
// mapping is created.
type Strategy interface {
	// Populate is called once, by Pager.OnCreate, for a new Tracker. On
	// failure it stops at the first page that could not be populated and
	// returns linuxerr.ENOMEM or a *memmap.BusError; nothing is retried or
	// rolled back.
	Populate(ctx context.Context, ms memmap.MappingSpace, t *Tracker) error

	// String returns the strategy's name.
	String() string
}

// EagerStrategy populates every page of a mapping when it is created.
type EagerStrategy struct{}

// Populate implements Strategy.Populate.
func (EagerStrategy) Populate(ctx context.Context, ms memmap.MappingSpace, t *Tracker) error {
	lower := t.ar.Start.RoundDown()
	upper := t.ar.End.MustRoundUp()
	for addr := lower; addr < upper; addr += hostarch.PageSize {
		if err := t.pager.populatePage(ctx, ms, t, addr); err != nil {
			return err
		}
	}
	return nil
}

// String implements Strategy.String.
func (EagerStrategy) String() string {
	return "eager"
}

// LazyStrategy allocates nothing when a mapping is created. Pages are
// allocated by Pager.HandleFault on first access.
type LazyStrategy struct{}

// Populate implements Strategy.Populate.
func (LazyStrategy) Populate(context.Context, memmap.MappingSpace, *Tracker) error {
	return nil
}

// String implements Strategy.String.
func (LazyStrategy) String() string {
	return "lazy"
}

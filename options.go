/*
 * Copyright 2022 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package backpass

import (
	"fmt"

	"github.com/cloudwego/backpass/internal/opts"
)

// Option is the property setter function for opts.Options.
type Option func(*opts.Options)

const (
	_MinScratchBudget = 4096
)

// WithOverflowRangeLimit sets how many chained int32 additions may share one
// overflow check before a new range is opened.
//
// The default value of this option is "8".
func WithOverflowRangeLimit(limit int) Option {
	if limit <= 0 {
		panic(fmt.Sprintf("backpass: invalid overflow range limit: %d", limit))
	} else {
		return func(o *opts.Options) { o.OverflowRangeLimit = limit }
	}
}

// WithMaxLoopDepth bounds the loop nesting the collection pass recurses into.
// Deeper functions fail with ErrLoopNestingTooDeep.
//
// Set this option to "0" disables this limit.
//
// The default value of this option is "64".
func WithMaxLoopDepth(depth int) Option {
	if depth < 0 {
		panic(fmt.Sprintf("backpass: invalid loop depth: %d", depth))
	} else {
		return func(o *opts.Options) { o.MaxLoopDepth = depth }
	}
}

// WithMaxPrepassIterations sets the minimum number of dead-store prepass
// rounds a single loop may take. The bound actually used also grows with the
// number of symbols, so valid input always converges within it; a loop that
// still does not stabilize is reported as an invariant violation.
//
// The default value of this option is "32".
func WithMaxPrepassIterations(n int) Option {
	if n <= 0 {
		panic(fmt.Sprintf("backpass: invalid prepass iterations: %d", n))
	} else {
		return func(o *opts.Options) { o.MaxPrepassIterations = n }
	}
}

// WithScratchBudget sets the scratch memory budget of a single run in bytes.
// Runs exceeding it fail with ErrOutOfMemory.
//
// Set this option to "0" disables this limit.
//
// The default value of this option is "64 MiB".
func WithScratchBudget(size int) Option {
	if size != 0 && size < _MinScratchBudget {
		panic(fmt.Sprintf("backpass: invalid scratch budget: %d", size))
	} else {
		return func(o *opts.Options) { o.ScratchBudget = size }
	}
}

// WithWorkers sets how many functions CompileAll processes concurrently.
//
// The default value of this option is "4".
func WithWorkers(n int) Option {
	if n <= 0 {
		panic(fmt.Sprintf("backpass: invalid worker count: %d", n))
	} else {
		return func(o *opts.Options) { o.Workers = n }
	}
}

// WithDebug makes invariant violations fatal and enables the restore
// table cross-check of bailout records.
func WithDebug(v bool) Option {
	return func(o *opts.Options) { o.Debug = v }
}

// WithKeepUpwardExposedUses controls whether BasicBlock.LiveIn survives the
// liveness run.
func WithKeepUpwardExposedUses(v bool) Option {
	return func(o *opts.Options) { o.KeepUpwardExposedUses = v }
}

// WithLiveFieldsAtLoopBottom enables recording the live fields at the bottom
// of loops the oracle marks as hoisting candidates.
//
// The heuristic is only sound for loops whose body runs at least once.
func WithLiveFieldsAtLoopBottom(v bool) Option {
	return func(o *opts.Options) { o.LiveFieldsAtLoopBottom = v }
}

// SetMaxLoopDepth sets the default loop depth limit for all runs from now on.
//
// This value can also be configured with the `BACKPASS_MAX_LOOP_DEPTH`
// environment variable.
//
// Returns the old opts.MaxLoopDepth value.
func SetMaxLoopDepth(depth int) int {
	depth, opts.MaxLoopDepth = opts.MaxLoopDepth, depth
	return depth
}

// SetScratchBudget sets the default scratch budget for all runs from now on.
//
// This value can also be configured with the `BACKPASS_SCRATCH_BUDGET`
// environment variable.
//
// Returns the old opts.ScratchBudget value.
func SetScratchBudget(size int) int {
	size, opts.ScratchBudget = opts.ScratchBudget, size
	return size
}

func makeOptions(options []Option) opts.Options {
	o := opts.GetDefaultOptions()
	for _, fn := range options {
		fn(&o)
	}
	return o
}

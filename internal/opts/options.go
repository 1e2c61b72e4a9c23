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

package opts

type Options struct {
	OverflowRangeLimit   int
	MaxLoopDepth         int
	MaxPrepassIterations int
	ScratchBudget        int
	Workers              int
	Debug                bool

	// KeepUpwardExposedUses persists each block's live-in set past the
	// liveness run so later stages can query it.
	KeepUpwardExposedUses bool

	// LiveFieldsAtLoopBottom enables the loop-bottom field liveness
	// heuristic. It is only sound for do-while loops.
	LiveFieldsAtLoopBottom bool
}

// CanRecurse reports whether a loop at the given nesting depth may be entered.
func (self *Options) CanRecurse(depth int) bool {
	return self.MaxLoopDepth > depth || self.MaxLoopDepth == 0
}

func GetDefaultOptions() Options {
	return Options{
		OverflowRangeLimit:     OverflowRangeLimit,
		MaxLoopDepth:           MaxLoopDepth,
		MaxPrepassIterations:   MaxPrepassIterations,
		ScratchBudget:          ScratchBudget,
		Workers:                Workers,
		Debug:                  Debug,
		KeepUpwardExposedUses:  KeepUpwardExposedUses,
		LiveFieldsAtLoopBottom: LiveFieldsAtLoopBottom,
	}
}

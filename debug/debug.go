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

package debug

import (
	"sync/atomic"

	"github.com/cloudwego/backpass/internal/backward"
)

// A Stats records statistics about the backward passes run so far.
type Stats struct {
	Runs   RunStats
	Output OutputStats
}

// A RunStats records how runs ended.
type RunStats struct {
	Total   int
	Aborted int
	Failed  int
}

// An OutputStats records what completed runs changed.
type OutputStats struct {
	Deleted      int
	Bailouts     int
	ElidedChecks int
}

// GetStats returns statistics of the backward passes.
func GetStats() Stats {
	return Stats{
		Runs: RunStats{
			Total:   int(atomic.LoadUint64(&backward.RunCount)),
			Aborted: int(atomic.LoadUint64(&backward.AbortCount)),
			Failed:  int(atomic.LoadUint64(&backward.FailCount)),
		},
		Output: OutputStats{
			Deleted:      int(atomic.LoadUint64(&backward.DeletedCount)),
			Bailouts:     int(atomic.LoadUint64(&backward.BailoutCount)),
			ElidedChecks: int(atomic.LoadUint64(&backward.ElidedCount)),
		},
	}
}

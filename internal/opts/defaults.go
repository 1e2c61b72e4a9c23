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

import (
	"github.com/xyproto/env/v2"
)

const (
	_DefaultOverflowRangeLimit   = 8        // chained lossy adds per exemption range
	_DefaultMaxLoopDepth         = 64       // loop recursion guard
	_DefaultMaxPrepassIterations = 32       // dead-store prepass rounds floor
	_DefaultScratchBudget        = 64 << 20 // 64MiB of scratch facts per run
	_DefaultWorkers              = 4
)

var (
	OverflowRangeLimit     = parseOrDefault("BACKPASS_OVERFLOW_RANGE_LIMIT", _DefaultOverflowRangeLimit, 1)
	MaxLoopDepth           = parseOrDefault("BACKPASS_MAX_LOOP_DEPTH", _DefaultMaxLoopDepth, 1)
	MaxPrepassIterations   = parseOrDefault("BACKPASS_MAX_PREPASS_ITERATIONS", _DefaultMaxPrepassIterations, 1)
	ScratchBudget          = parseOrDefault("BACKPASS_SCRATCH_BUDGET", _DefaultScratchBudget, 4096)
	Workers                = parseOrDefault("BACKPASS_WORKERS", _DefaultWorkers, 1)
	Debug                  = boolOrDefault("BACKPASS_DEBUG", false)
	KeepUpwardExposedUses  = boolOrDefault("BACKPASS_KEEP_UPWARD_EXPOSED", true)
	LiveFieldsAtLoopBottom = boolOrDefault("BACKPASS_LIVE_FIELDS_AT_LOOP_BOTTOM", false)
)

func parseOrDefault(key string, def int, min int) int {
	if env.Str(key) == "" {
		return def
	} else if ret := env.Int(key, -1); ret < 0 {
		panic("backpass: invalid value for " + key)
	} else if ret < min {
		panic("backpass: value too small for " + key)
	} else {
		return ret
	}
}

func boolOrDefault(key string, def bool) bool {
	if env.Str(key) == "" {
		return def
	} else {
		return env.Bool(key)
	}
}

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
	"github.com/cloudwego/backpass/internal/backward"
)

var (
	// ErrOutOfMemory is returned when a run exceeds its scratch budget.
	ErrOutOfMemory = backward.ErrOutOfMemory

	// ErrAborted is returned when the run's context is done.
	ErrAborted = backward.ErrAborted

	// ErrLoopNestingTooDeep is returned when loops nest deeper than the
	// configured limit.
	ErrLoopNestingTooDeep = backward.ErrLoopNestingTooDeep
)

// InvariantError reports an internal inconsistency. The function is left
// untouched and the caller is expected to fall back to a safer tier.
type InvariantError = backward.InvariantError

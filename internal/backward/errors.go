/*
 * Copyright 2024 CloudWeGo Authors
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

package backward

import (
	"fmt"

	"github.com/nikandfor/errors"
)

var (
	ErrOutOfMemory        = errors.New("backpass: out of memory")
	ErrAborted            = errors.New("backpass: compilation aborted")
	ErrLoopNestingTooDeep = errors.New("backpass: loop nesting too deep")
)

// InvariantError reports a broken internal invariant. It is fatal in
// debug mode and returned to the caller otherwise.
type InvariantError struct {
	Func   string
	Block  int
	Reason string
}

func (self *InvariantError) Error() string {
	if self.Block < 0 {
		return fmt.Sprintf("backpass: invariant violated in %s: %s", self.Func, self.Reason)
	} else {
		return fmt.Sprintf("backpass: invariant violated in %s at bb_%d: %s", self.Func, self.Block, self.Reason)
	}
}

func (self *Context) invariant(format string, args ...interface{}) {
	blk := -1
	if self.bb != nil {
		blk = self.bb.ID
	}
	panic(&InvariantError{
		Func:   self.fn.Name,
		Block:  blk,
		Reason: fmt.Sprintf(format, args...),
	})
}

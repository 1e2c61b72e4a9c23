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

package arena

import (
	"github.com/cloudwego/backpass/ir"
)

// Persistent allocates facts that outlive a run, such as live-in sets and
// bailout records. It is never released in bulk.
type Persistent struct {
	bytes int
	sets  int
}

func (self *Persistent) Clone(s *ir.SymSet) *ir.SymSet {
	self.sets++
	self.bytes += _SetOverhead + s.Words()*8
	return s.Clone()
}

// Account records n bytes of long-lived data allocated by the caller.
func (self *Persistent) Account(n int) {
	self.bytes += n
}

func (self *Persistent) Bytes() int { return self.bytes }
func (self *Persistent) Sets() int  { return self.sets }

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
	"sync"

	"github.com/cloudwego/backpass/ir"
)

var (
	setPool sync.Pool
)

func newSet() *ir.SymSet {
	if v := setPool.Get(); v == nil {
		return new(ir.SymSet)
	} else {
		return resetSet(v.(*ir.SymSet))
	}
}

func freeSet(p *ir.SymSet) {
	setPool.Put(p)
}

func resetSet(p *ir.SymSet) *ir.SymSet {
	p.Reset()
	return p
}

// Scratch allocates run-local symbol sets charged against a budget.
type Scratch struct {
	budget *Budget
	sets   int
}

func NewScratch(budget *Budget) *Scratch {
	return &Scratch{budget: budget}
}

func (self *Scratch) Budget() *Budget {
	return self.budget
}

// NewSet returns an empty set. Its storage is charged by the words it can hold.
func (self *Scratch) NewSet() *ir.SymSet {
	self.sets++
	self.budget.Charge(_SetOverhead)
	return newSet()
}

// CloneSet returns a scratch copy of s.
func (self *Scratch) CloneSet(s *ir.SymSet) *ir.SymSet {
	p := self.NewSet()
	p.Union(s)
	self.budget.Charge(s.Words() * 8)
	return p
}

// FreeSet hands p back to the pool; p must not be used afterwards.
func (self *Scratch) FreeSet(p *ir.SymSet) {
	if p != nil {
		self.sets--
		freeSet(p)
	}
}

// Outstanding returns the number of sets not yet freed.
func (self *Scratch) Outstanding() int {
	return self.sets
}

const _SetOverhead = 32

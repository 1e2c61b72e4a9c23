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
	"github.com/cloudwego/backpass/internal/arena"
	"github.com/cloudwego/backpass/ir"
)

type tempSets struct {
	Temp    *ir.SymSet
	NonTemp *ir.SymSet
}

// BlockState is the fact set at the top of a block. Sets a phase does not
// track stay nil.
type BlockState struct {
	Uses     *ir.SymSet
	Fields   *ir.SymSet
	ByteCode *ir.SymSet

	// Restore maps byte-code symbols to their table entry, debug mode only.
	Restore map[ir.SymID]*ir.Sym

	NIC        [ir.NICKinds]*ir.SymSet
	TempNumber tempSets
	TempObject tempSets
	Shapes     *shapeState

	/* poisoned by freeState */
	released bool
}

func (self *Context) newState() *BlockState {
	st := new(BlockState)
	self.strategy.InitState(self, st)
	return st
}

func (self *Context) freeState(st *BlockState) {
	if st == nil {
		return
	}
	self.scratch.FreeSet(st.Uses)
	self.scratch.FreeSet(st.Fields)
	self.scratch.FreeSet(st.ByteCode)
	self.scratch.FreeSet(st.TempNumber.Temp)
	self.scratch.FreeSet(st.TempNumber.NonTemp)
	self.scratch.FreeSet(st.TempObject.Temp)
	self.scratch.FreeSet(st.TempObject.NonTemp)
	for _, s := range st.NIC {
		self.scratch.FreeSet(s)
	}
	*st = BlockState{released: true}
}

// checkLive faults on a state that has already been handed back.
func (self *Context) checkLive(st *BlockState) {
	if st == nil || st.released {
		self.invariant("block state read after release")
	}
}

func (self *Context) cloneState(st *BlockState) *BlockState {
	rs := self.newState()
	self.mergeGeneric(rs, st)
	if st.Shapes != nil && rs.Shapes != nil {
		rs.Shapes.copyFrom(st.Shapes)
	}
	return rs
}

func union(dst *ir.SymSet, src *ir.SymSet) {
	if dst != nil {
		dst.Union(src)
	}
}

// mergeGeneric unions every "may be used later" fact of src into dst.
func (self *Context) mergeGeneric(dst *BlockState, src *BlockState) {
	self.checkLive(src)
	union(dst.Uses, src.Uses)
	union(dst.Fields, src.Fields)
	union(dst.ByteCode, src.ByteCode)
	union(dst.TempNumber.Temp, src.TempNumber.Temp)
	union(dst.TempNumber.NonTemp, src.TempNumber.NonTemp)
	union(dst.TempObject.Temp, src.TempObject.Temp)
	union(dst.TempObject.NonTemp, src.TempObject.NonTemp)

	/* no-implicit-call subsets */
	for i := range dst.NIC {
		union(dst.NIC[i], src.NIC[i])
	}

	/* debug-only restore table */
	if dst.Restore != nil {
		for id, sym := range src.Restore {
			dst.Restore[id] = sym
		}
	}
}

// useCount is the number of predecessors that still have to read a
// block's state. Consuming a released count is an invariant violation.
type useCount struct {
	remaining int
	consumed  int
	released  bool
}

type stateSlot struct {
	h     arena.Handle
	count useCount
}

// syncRestore adds a restore table entry for every byte-code symbol of st.
func (self *Context) syncRestore(st *BlockState) {
	if st.Restore != nil {
		st.ByteCode.Each(func(id ir.SymID) bool {
			st.Restore[id] = self.fn.Syms.Lookup(id)
			return true
		})
	}
}

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

package ir

import (
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

type BasicBlock struct {
	ID        int
	Instrs    []*Instr
	Succs     []*BasicBlock
	Preds     []*BasicBlock
	DeadSuccs []*BasicBlock
	DeadPreds []*BasicBlock

	Loop   *Loop
	Region *Region

	IsLoopHeader bool
	IsDead       bool

	// LiveIn is the upward-exposed use set persisted by the liveness phase.
	LiveIn *SymSet
}

func (self *BasicBlock) String() string {
	return fmt.Sprintf("bb_%d", self.ID)
}

// Terminator returns the last instruction, or nil for an empty block.
func (self *BasicBlock) Terminator() *Instr {
	if len(self.Instrs) == 0 {
		return nil
	} else {
		return self.Instrs[len(self.Instrs)-1]
	}
}

// IsBackEdge reports whether the edge self -> succ closes a loop.
func (self *BasicBlock) IsBackEdge(succ *BasicBlock) bool {
	return succ.IsLoopHeader && succ.ID <= self.ID && succ.Loop.Contains(self)
}

func (self *BasicBlock) Dump() string {
	var buf []string
	buf = append(buf, self.String()+":")

	/* dump every instruction */
	for _, ins := range self.Instrs {
		buf = append(buf, "    "+ins.String())
	}

	/* dump the successors */
	if len(self.Succs) != 0 {
		succ := make([]string, 0, len(self.Succs))
		for _, s := range self.Succs {
			succ = append(succ, s.String())
		}
		buf = append(buf, "    -> "+strings.Join(succ, ", "))
	}
	return strings.Join(buf, "\n")
}

type Induction struct {
	Sym   *Sym
	Delta int
}

// MemOpInfo describes a loop whose body is being replaced by a bulk
// memory operation.
type MemOpInfo struct {
	Inductions       []Induction
	RestoreAfterLoop []Induction
	LiveOnExit       *SymSet
}

type Loop struct {
	ID       int
	Header   *BasicBlock
	Tail     *BasicBlock
	Parent   *Loop
	Children []*Loop
	Depth    int

	HasPrepass        bool
	HasCollectionPass bool

	MemOp              *MemOpInfo
	LiveIn             *SymSet
	LiveFieldsAtBottom *SymSet

	blocks bitset.BitSet
}

func (self *Loop) Contains(bb *BasicBlock) bool {
	return self != nil && self.blocks.Test(uint(bb.ID))
}

// Encloses reports whether other is self or nested inside it.
func (self *Loop) Encloses(other *Loop) bool {
	for ; other != nil; other = other.Parent {
		if other == self {
			return true
		}
	}
	return false
}

func (self *Loop) Blocks() []int {
	rs := make([]int, 0, self.blocks.Count())
	for i, ok := self.blocks.NextSet(0); ok; i, ok = self.blocks.NextSet(i + 1) {
		rs = append(rs, int(i))
	}
	return rs
}

func (self *Loop) String() string {
	return fmt.Sprintf("loop_%d(%s..%s)", self.ID, self.Header, self.Tail)
}

type RegionKind uint8

const (
	RegionRoot RegionKind = iota
	RegionTry
	RegionCatch
)

type Region struct {
	Kind   RegionKind
	Parent *Region
	Entry  *BasicBlock

	// Handler is the catch region of a try region.
	Handler *Region

	// WriteThrough is frozen on a catch region once its entry is scanned.
	WriteThrough *SymSet
}

// EnclosingTry returns the innermost try region containing self.
func (self *Region) EnclosingTry() *Region {
	for r := self; r != nil; r = r.Parent {
		if r.Kind == RegionTry {
			return r
		}
	}
	return nil
}

type Func struct {
	Name      string
	Blocks    []*BasicBlock
	Loops     []*Loop
	Syms      *SymTable
	Root      *Region
	HasTry    bool
	DebugMode bool
}

func (self *Func) HasLoop() bool {
	return len(self.Loops) != 0
}

func (self *Func) Entry() *BasicBlock {
	return self.Blocks[0]
}

// ForEachInstr calls fn for every instruction in layout order.
func (self *Func) ForEachInstr(fn func(ins *Instr)) {
	for _, bb := range self.Blocks {
		for _, ins := range bb.Instrs {
			fn(ins)
		}
	}
}

func (self *Func) String() string {
	buf := make([]string, 0, len(self.Blocks))
	for _, bb := range self.Blocks {
		buf = append(buf, bb.Dump())
	}
	return strings.Join(buf, "\n")
}

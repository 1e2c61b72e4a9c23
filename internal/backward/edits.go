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
	"github.com/cloudwego/backpass/ir"
)

// blockEdits collects the structural changes to one block. They are
// applied after the walk, so the scan never sees a half-edited block.
type blockEdits struct {
	replace map[*ir.Instr]*ir.Instr
	after   map[*ir.Instr][]*ir.Instr
	tail    []*ir.Instr
}

func (self *Context) editsOf(bb *ir.BasicBlock) *blockEdits {
	e := self.edits[bb]
	if e == nil {
		e = &blockEdits{
			replace: make(map[*ir.Instr]*ir.Instr),
			after:   make(map[*ir.Instr][]*ir.Instr),
		}
		self.edits[bb] = e
	}
	return e
}

// deleteInstr removes ins, leaving rep in its place when rep is not nil.
func (self *Context) deleteInstr(bb *ir.BasicBlock, ins *ir.Instr, rep *ir.Instr) {
	self.editsOf(bb).replace[ins] = rep
	self.res.Deleted++
}

func (self *Context) insertAfter(bb *ir.BasicBlock, ins *ir.Instr, add *ir.Instr) {
	e := self.editsOf(bb)
	e.after[ins] = append(e.after[ins], add)
	self.res.Inserted++
}

// insertTail adds ins right before the terminator of bb.
func (self *Context) insertTail(bb *ir.BasicBlock, ins *ir.Instr) {
	e := self.editsOf(bb)
	e.tail = append(e.tail, ins)
	self.res.Inserted++
}

// insertBoundary closes overflow range rng right after the instruction at idx.
func (self *Context) insertBoundary(bb *ir.BasicBlock, idx int, rng int) {
	if idx+1 < len(bb.Instrs) && bb.Instrs[idx+1].Op == ir.OpNoIntOverflowBoundary {
		return
	}
	p := self.newInstr(ir.OpNoIntOverflowBoundary)
	p.OverflowRange = rng
	self.insertAfter(bb, bb.Instrs[idx], p)
}

func isTerminator(ins *ir.Instr) bool {
	switch ins.Op {
	case ir.OpBr, ir.OpJmp, ir.OpRet:
		return true
	default:
		return false
	}
}

func (self *blockEdits) apply(bb *ir.BasicBlock) {
	buf := make([]*ir.Instr, 0, len(bb.Instrs)+len(self.tail))
	term := bb.Terminator()

	/* the tail goes before the terminator, if any */
	if term != nil && !isTerminator(term) {
		term = nil
	}

	/* rebuild the instruction list */
	for _, ins := range bb.Instrs {
		if ins == term {
			buf = append(buf, self.tail...)
		}
		if rep, ok := self.replace[ins]; !ok {
			buf = append(buf, ins)
		} else if rep != nil {
			buf = append(buf, rep)
		}
		buf = append(buf, self.after[ins]...)
	}

	/* no terminator */
	if term == nil {
		buf = append(buf, self.tail...)
	}

	/* adopt the new instructions */
	for _, ins := range buf {
		ins.Block = bb
	}
	bb.Instrs = buf
}

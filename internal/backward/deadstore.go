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

type deadStorePhase struct{}

func (deadStorePhase) Phase() Phase         { return PhaseDeadStore }
func (deadStorePhase) TracksByteCode() bool { return true }

func (deadStorePhase) InitState(ctx *Context, st *BlockState) {
	st.Uses = ctx.scratch.NewSet()
	st.ByteCode = ctx.scratch.NewSet()
	st.Shapes = newShapeState()
	for i := range st.NIC {
		st.NIC[i] = ctx.scratch.NewSet()
	}
	if ctx.opts.Debug {
		st.Restore = make(map[ir.SymID]*ir.Sym)
	}
}

func (deadStorePhase) BeginBlock(*Context, *ir.BasicBlock, *BlockState) {}
func (deadStorePhase) EndBlock(*Context, *ir.BasicBlock, *BlockState)   {}

func (deadStorePhase) Scan(ctx *Context, bb *ir.BasicBlock, st *BlockState) {
	if ctx.mode == modeCollect {
		ctx.collectByteCode(bb, st)
		return
	}

	/* pending calls never span blocks */
	ctx.calls = ctx.calls[:0]
	for i := len(bb.Instrs) - 1; i >= 0; i-- {
		ins := bb.Instrs[i]
		switch ins.Op {
		case ir.OpBytecodeUses:
			ctx.addByteCodeUses(st, ins)
			continue
		case ir.OpNoImplicitCallUses:
			for _, op := range ins.Sources() {
				if op.Kind == ir.OpndSym {
					st.NIC[op.NIC].Add(op.Sym.ID)
					st.Uses.Add(op.Sym.ID)
				}
			}
			continue
		case ir.OpNoIntOverflowBoundary:
			continue
		}
		ctx.scanInstr(bb, ins, st)
	}
}

func (self *Context) scanInstr(bb *ir.BasicBlock, ins *ir.Instr, st *BlockState) {
	kind := self.bailoutKind(ins, st)
	preOp := ins.Bailout != nil && ins.Bailout.PreOp

	/* a post-op bailout sees the state after the instruction */
	if kind != 0 && !preOp {
		self.finalizeBailout(ins, kind, st)
	}

	/* dead stores */
	if self.isDeadStore(bb, ins, st, kind) {
		self.removeDead(bb, ins, st)
		return
	}

	/* shapes are only tracked for real */
	if self.mutating() {
		self.trackShapes(st.Shapes, ins, kind)
	}

	/* definitions */
	d := ins.DstSym()
	self.trackNIC(ins, d, st)
	if d != nil && !self.isWriteThrough(bb, d) {
		st.Uses.Remove(d.ID)
		if isByteCodeDef(ins, d) {
			self.killByteCode(st, d)
		}
	}

	/* last uses are decided before any operand is added */
	if self.mutating() {
		self.markDeadOperands(ins, st.Uses)
	}

	/* uses */
	ins.ForEachUse(func(_ *ir.Opnd, sym *ir.Sym) {
		st.Uses.Add(sym.ID)
		if sym.HasByteCodeReg() {
			self.addByteCode(st, sym)
		}
	})

	/* call nesting as seen from before the instruction */
	switch ins.Op {
	case ir.OpCall:
		self.calls = append(self.calls, ins.Argc)
	case ir.OpStartCall:
		if n := len(self.calls); n != 0 {
			self.calls = self.calls[:n-1]
		}
	}

	/* a pre-op bailout re-executes the instruction */
	if kind != 0 && preOp {
		self.finalizeBailout(ins, kind, st)
	}
}

// bailoutKind drops the implicit-call check when nothing downstream
// relies on the absence of implicit calls.
func (self *Context) bailoutKind(ins *ir.Instr, st *BlockState) ir.BailoutKind {
	bi := ins.Bailout
	if bi == nil {
		return 0
	}

	/* explicit bailouts always stay */
	kind := bi.Kind
	if ins.Op == ir.OpBailOut || kind&ir.BailOutOnImplicitCalls == 0 || !nicEmpty(st) {
		return kind
	}

	/* nobody needs the check */
	kind &^= ir.BailOutOnImplicitCalls
	if self.mutating() {
		self.res.ElidedChecks++
		self.commitf(func() {
			if bi.Kind = kind; kind == 0 {
				ins.Bailout = nil
			}
		})
	}
	return kind
}

func nicEmpty(st *BlockState) bool {
	for _, s := range st.NIC {
		if s.Len() != 0 {
			return false
		}
	}
	return true
}

var _ArrayNIC = [...]ir.NICKind{
	ir.NICNoMissingValues,
	ir.NICNativeArray,
	ir.NICHeadSegment,
	ir.NICLength,
}

func (self *Context) trackNIC(ins *ir.Instr, d *ir.Sym, st *BlockState) {
	if d != nil {
		for _, s := range st.NIC {
			s.Remove(d.ID)
		}
	}

	/* element stores keep the array facts the later checks rely on */
	if ins.Op != ir.OpStElem || ins.Dst == nil || ins.Dst.Kind != ir.OpndIndir {
		return
	}
	keep := false
	for _, k := range _ArrayNIC {
		if st.NIC[k].Has(ins.Dst.Sym.ID) {
			keep = true
			break
		}
	}
	if self.mutating() {
		self.commitf(func() { ins.Stamp(ir.FlagPreservesArrayFacts, keep) })
	}
}

func (self *Context) markDeadOperands(ins *ir.Instr, live *ir.SymSet) {
	for _, op := range ins.Sources() {
		if op.Kind == ir.OpndSym {
			op, dead := op, !live.Has(op.Sym.ID)
			self.commitf(func() { op.IsDead = dead })
		}
	}
}

// isDeadStore reports instructions whose only effect is a value nobody reads.
func (self *Context) isDeadStore(bb *ir.BasicBlock, ins *ir.Instr, st *BlockState, kind ir.BailoutKind) bool {
	d := ins.DstSym()
	if d == nil || kind != 0 {
		return false
	}

	/* loads are removable only when a later check covers their bounds */
	if !ins.IsRemovable() && !(ins.Op == ir.OpLdElem && self.oracle.UpperBoundCheck(ins) != nil) {
		return false
	}

	/* anybody reading it */
	switch {
	case st.Uses.Has(d.ID):
		return false
	case d.HasByteCodeReg() && st.ByteCode.Has(d.Canonical().ID):
		return false
	default:
		return !self.isWriteThrough(bb, d)
	}
}

// removeDead deletes ins. Byte-code sources stay upward exposed through a
// bytecodeuses instruction left in its place.
func (self *Context) removeDead(bb *ir.BasicBlock, ins *ir.Instr, st *BlockState) {
	var keep []*ir.Opnd
	ins.ForEachUse(func(_ *ir.Opnd, sym *ir.Sym) {
		if c := sym.Canonical(); sym.HasByteCodeReg() && !hasSym(keep, c) {
			keep = append(keep, ir.S(c))
			self.addByteCode(st, c)
		}
	})

	/* nothing else happens in the prepass */
	if !self.mutating() {
		return
	}

	/* replace or drop */
	var rep *ir.Instr
	if len(keep) != 0 {
		rep = self.newInstr(ir.OpBytecodeUses)
		rep.Srcs = keep
	}
	self.deleteInstr(bb, ins, rep)
}

func hasSym(list []*ir.Opnd, sym *ir.Sym) bool {
	for _, op := range list {
		if op.Sym == sym {
			return true
		}
	}
	return false
}

// isByteCodeDef reports whether ins writes the byte-code register of d.
// Converting a variable into one of its own views does not.
func isByteCodeDef(ins *ir.Instr, d *ir.Sym) bool {
	if !d.HasByteCodeReg() {
		return false
	}
	switch ins.Op {
	case ir.OpConvInt, ir.OpConvNum, ir.OpMov:
		if ins.Src1 != nil && ins.Src1.Kind == ir.OpndSym {
			return ins.Src1.Sym.Canonical() != d.Canonical()
		}
	}
	return true
}

func (self *Context) addByteCode(st *BlockState, sym *ir.Sym) {
	c := sym.Canonical()
	st.ByteCode.Add(c.ID)
	if st.Restore != nil {
		st.Restore[c.ID] = c
	}
}

func (self *Context) killByteCode(st *BlockState, sym *ir.Sym) {
	c := sym.Canonical()
	st.ByteCode.Remove(c.ID)
	if st.Restore != nil {
		delete(st.Restore, c.ID)
	}
}

func (self *Context) addByteCodeUses(st *BlockState, ins *ir.Instr) {
	for _, op := range ins.Sources() {
		if op.Kind == ir.OpndSym && op.Sym.HasByteCodeReg() {
			self.addByteCode(st, op.Sym)
		}
	}
}

// collectByteCode is the byte-code only scan of the collection pass.
func (self *Context) collectByteCode(bb *ir.BasicBlock, st *BlockState) {
	for i := len(bb.Instrs) - 1; i >= 0; i-- {
		ins := bb.Instrs[i]
		switch ins.Op {
		case ir.OpBytecodeUses:
			self.addByteCodeUses(st, ins)
			continue
		case ir.OpNoImplicitCallUses, ir.OpNoIntOverflowBoundary:
			continue
		}

		/* kill and gen */
		if d := ins.DstSym(); d != nil && isByteCodeDef(ins, d) && !self.isWriteThrough(bb, d) {
			self.killByteCode(st, d)
		}
		ins.ForEachUse(func(_ *ir.Opnd, sym *ir.Sym) {
			if sym.HasByteCodeReg() {
				self.addByteCode(st, sym)
			}
		})
	}
}

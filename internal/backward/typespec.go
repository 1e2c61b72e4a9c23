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

// concerns says which numeric distinctions do not matter for a value.
type concerns struct {
	negZero  bool
	overflow bool
	lossy    bool
}

// operandConcerns returns what the operand op of ins may ignore, given
// what the destination may ignore.
func operandConcerns(ins *ir.Instr, op *ir.Opnd, dst concerns) concerns {
	switch ins.Op.Family() {
	case ir.FamilyBitwise, ir.FamilyTruncate:
		return concerns{negZero: true, overflow: true, lossy: true}
	case ir.FamilyCompare:
		return concerns{negZero: true}
	case ir.FamilyAdditive:
		return concerns{negZero: dst.negZero || addsNonZeroConst(ins, op), overflow: dst.overflow}
	case ir.FamilyMultiplicative:
		return concerns{negZero: dst.negZero}
	case ir.FamilyTransfer:
		return dst
	default:
		return concerns{}
	}
}

// addsNonZeroConst reports x+c or x-c with c != 0, where -0 and +0 give
// the same result.
func addsNonZeroConst(ins *ir.Instr, op *ir.Opnd) bool {
	if ins.Op != ir.OpAdd && ins.Op != ir.OpSub {
		return false
	}
	other := ins.Src2
	if op == ins.Src2 {
		other = ins.Src1
	}
	return other.IsConst() && other.Value != 0
}

type overflowRange struct {
	depth int
	rng   int
}

// typeSpecTracker keeps the per-block "does not matter" sets. Nothing in
// it survives a block boundary.
type typeSpecTracker struct {
	negZero  *ir.SymSet
	lossy    *ir.SymSet
	overflow map[ir.SymID]overflowRange
}

func (self *typeSpecTracker) reset(ctx *Context) {
	if self.negZero == nil {
		self.negZero = ctx.scratch.NewSet()
		self.lossy = ctx.scratch.NewSet()
		self.overflow = make(map[ir.SymID]overflowRange)
	}
	self.negZero.Reset()
	self.lossy.Reset()
	for id := range self.overflow {
		delete(self.overflow, id)
	}
}

func (self *typeSpecTracker) free(ctx *Context) {
	ctx.scratch.FreeSet(self.negZero)
	ctx.scratch.FreeSet(self.lossy)
	*self = typeSpecTracker{}
}

func stampsTypeSpec(ins *ir.Instr) bool {
	return ins.Op.IsArithmetic() || ins.Op.Family() == ir.FamilyTransfer
}

type defConcerns struct {
	concerns
	ovf overflowRange
}

// def stamps ins with what its destination may ignore, and forgets d.
func (self *typeSpecTracker) def(ctx *Context, bb *ir.BasicBlock, idx int, ins *ir.Instr, d *ir.Sym) defConcerns {
	var dc defConcerns
	if d == nil {
		return dc
	}

	/* what the later uses of d decided */
	dc.negZero = self.negZero.Has(d.ID)
	dc.lossy = self.lossy.Has(d.ID)
	dc.ovf, dc.overflow = self.overflow[d.ID]

	/* forget about d */
	self.negZero.Remove(d.ID)
	self.lossy.Remove(d.ID)
	delete(self.overflow, d.ID)

	/* only numeric producers can take advantage of it */
	if !stampsTypeSpec(ins) {
		return dc
	}

	/* chained additions accumulate error, bound the chain */
	inRange := false
	if dc.overflow && ins.Op.Family() == ir.FamilyAdditive {
		inRange = true
		dc.ovf = self.extendRange(ctx, bb, idx, ins, dc.ovf)
	}

	/* stamp the decisions */
	if ctx.mutating() {
		c, rng := dc.concerns, dc.ovf.rng
		ctx.commitf(func() {
			ins.Stamp(ir.FlagIgnoreNegZero, c.negZero)
			ins.Stamp(ir.FlagIgnoreIntOverflow, c.overflow)
			ins.Stamp(ir.FlagLossyIntOK, c.lossy)
			ins.Stamp(ir.FlagOverflowInRange, inRange)
			if inRange {
				ins.OverflowRange = rng
			} else {
				ins.OverflowRange = 0
			}
		})
	}
	return dc
}

// extendRange puts ins into the range its result flows into, opening a new
// range when the chain gets longer than the limit.
func (self *typeSpecTracker) extendRange(ctx *Context, bb *ir.BasicBlock, idx int, ins *ir.Instr, r overflowRange) overflowRange {
	if r.depth+1 > ctx.opts.OverflowRangeLimit {
		if ctx.mutating() {
			ctx.insertBoundary(bb, idx, r.rng)
		}
		r = overflowRange{}
	}

	/* lazily number the range */
	if r.rng == 0 && ctx.mutating() {
		ctx.ranges++
		r.rng = ctx.ranges
	}
	r.depth++
	return r
}

// uses updates the sets for the operands of ins. live is the liveness
// right after ins.
func (self *typeSpecTracker) uses(ctx *Context, ins *ir.Instr, dc defConcerns, live *ir.SymSet) {
	for _, op := range ins.Sources() {
		if op.Kind != ir.OpndSym {
			self.mattersFor(op.Object())
			if op.Kind == ir.OpndIndir && op.Index != nil {
				self.mattersFor(op.Index)
			}
			continue
		}

		/* a value used again later keeps the strictest requirement */
		sym := op.Sym
		ok := operandConcerns(ins, op, dc.concerns)
		later := live.Has(sym.ID)
		self.update(self.negZero, sym, ok.negZero, later)
		self.update(self.lossy, sym, ok.lossy, later)

		/* overflow ranges */
		old, had := self.overflow[sym.ID]
		if !ok.overflow || (later && !had) {
			delete(self.overflow, sym.ID)
			continue
		}

		/* truncation starts a chain, transfers keep it, additions extend it */
		var r overflowRange
		switch ins.Op.Family() {
		case ir.FamilyAdditive, ir.FamilyTransfer:
			r = dc.ovf
		}
		if had && old.depth > r.depth {
			r = old
		}
		self.overflow[sym.ID] = r
	}
}

func (self *typeSpecTracker) update(set *ir.SymSet, sym *ir.Sym, ok bool, later bool) {
	if ok && (!later || set.Has(sym.ID)) {
		set.Add(sym.ID)
	} else {
		set.Remove(sym.ID)
	}
}

func (self *typeSpecTracker) mattersFor(sym *ir.Sym) {
	if sym != nil {
		self.negZero.Remove(sym.ID)
		self.lossy.Remove(sym.ID)
		delete(self.overflow, sym.ID)
	}
}

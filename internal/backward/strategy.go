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

// Strategy is what a phase plugs into the shared backward walk.
type Strategy interface {
	Phase() Phase
	TracksByteCode() bool
	InitState(ctx *Context, st *BlockState)
	BeginBlock(ctx *Context, bb *ir.BasicBlock, st *BlockState)
	Scan(ctx *Context, bb *ir.BasicBlock, st *BlockState)
	EndBlock(ctx *Context, bb *ir.BasicBlock, st *BlockState)
}

type livenessPhase struct{}

func (livenessPhase) Phase() Phase         { return PhaseLiveness }
func (livenessPhase) TracksByteCode() bool { return false }

func (livenessPhase) InitState(ctx *Context, st *BlockState) {
	st.Uses = ctx.scratch.NewSet()
	st.Fields = ctx.scratch.NewSet()
	st.TempNumber = tempSets{Temp: ctx.scratch.NewSet(), NonTemp: ctx.scratch.NewSet()}
	st.TempObject = tempSets{Temp: ctx.scratch.NewSet(), NonTemp: ctx.scratch.NewSet()}
}

func (livenessPhase) BeginBlock(ctx *Context, bb *ir.BasicBlock, st *BlockState) {
	if !ctx.opts.LiveFieldsAtLoopBottom {
		return
	}

	/* fields live at the bottom of a hoisting candidate */
	for lp := bb.Loop; lp != nil; lp = lp.Parent {
		if lp.Tail == bb && ctx.oracle.IsFieldHoistCandidate(lp) {
			lp, fields := lp, ctx.persistent.Clone(st.Fields)
			ctx.commitf(func() { lp.LiveFieldsAtBottom = fields })
		}
	}
}

func (livenessPhase) Scan(ctx *Context, bb *ir.BasicBlock, st *BlockState) {
	ctx.ts.reset(ctx)
	for i := len(bb.Instrs) - 1; i >= 0; i-- {
		ins := bb.Instrs[i]
		switch ins.Op {
		case ir.OpBytecodeUses, ir.OpNoIntOverflowBoundary:
			continue
		}

		/* temps and type specialization look at the state after the instruction */
		d := ins.DstSym()
		ctx.trackTemps(st, ins, d)
		dc := ctx.ts.def(ctx, bb, i, ins, d)

		/* kill the definitions */
		if d != nil && !ctx.isWriteThrough(bb, d) {
			st.Uses.Remove(d.ID)
		}
		if f := ins.DstField(); f != nil {
			st.Fields.Remove(f.ID)
		}

		/* operand concerns need the liveness after the instruction */
		ctx.ts.uses(ctx, ins, dc, st.Uses)

		/* add the uses */
		ins.ForEachUse(func(_ *ir.Opnd, sym *ir.Sym) { st.Uses.Add(sym.ID) })
		if f := ins.FieldUse(); f != nil {
			st.Fields.Add(f.ID)
		}
	}
}

func (livenessPhase) EndBlock(ctx *Context, bb *ir.BasicBlock, st *BlockState) {
	var live *ir.SymSet
	if ctx.opts.KeepUpwardExposedUses {
		live = ctx.persistent.Clone(st.Uses)
	}

	/* publish the live-in sets */
	ctx.commitf(func() { bb.LiveIn = live })
	if bb.IsLoopHeader {
		lp, in := bb.Loop, ctx.persistent.Clone(st.Uses)
		ctx.commitf(func() { lp.LiveIn = in })
	}
}

func absorbTemps(t *tempSets) {
	if t.NonTemp != nil {
		t.NonTemp.Union(t.Temp)
		t.Temp.Reset()
	}
}

// escapes reports whether a use through op lets the value outlive the
// current expression.
func (self *Context) escapes(ins *ir.Instr, op *ir.Opnd, dstEscapes bool) bool {
	switch ins.Op {
	case ir.OpStFld, ir.OpStElem:
		return op == ins.Src1
	case ir.OpArgOut, ir.OpCall, ir.OpRet:
		return true
	}
	if self.oracle.TransfersSrcValue(ins) {
		return dstEscapes
	} else {
		return false
	}
}

func (self *Context) trackTemps(st *BlockState, ins *ir.Instr, d *ir.Sym) {
	if st.TempNumber.NonTemp == nil {
		return
	}
	self.trackTemp(&st.TempNumber, ins, d, ir.FlagDstIsTempNumber, isNumberProducer(ins))
	self.trackTemp(&st.TempObject, ins, d, ir.FlagDstIsTempObject, ins.Op == ir.OpNewObj)
}

func isNumberProducer(ins *ir.Instr) bool {
	d := ins.DstSym()
	return d != nil && d.Type == ir.TyVar && ins.Op.IsArithmetic()
}

func (self *Context) trackTemp(t *tempSets, ins *ir.Instr, d *ir.Sym, flag ir.InstrFlags, producer bool) {
	dstEscapes := d != nil && t.NonTemp.Has(d.ID)

	/* a producer whose value never escapes can use a temporary */
	if producer && self.mutating() {
		temp := !dstEscapes
		self.commitf(func() { ins.Stamp(flag, temp) })
	}

	/* the definition ends the lifetime */
	if d != nil {
		t.Temp.Remove(d.ID)
		t.NonTemp.Remove(d.ID)
	}

	/* classify the uses */
	ins.ForEachUse(func(op *ir.Opnd, sym *ir.Sym) {
		if op.Kind == ir.OpndSym && self.escapes(ins, op, dstEscapes) {
			t.NonTemp.Add(sym.ID)
			t.Temp.Remove(sym.ID)
		} else if !t.NonTemp.Has(sym.ID) {
			t.Temp.Add(sym.ID)
		}
	})
}

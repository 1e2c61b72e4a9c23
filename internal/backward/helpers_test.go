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
	"context"
	"sort"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/backpass/internal/opts"
	"github.com/cloudwego/backpass/ir"
)

func testOptions() opts.Options {
	o := opts.GetDefaultOptions()
	o.ScratchBudget = 0
	o.Debug = false
	o.KeepUpwardExposedUses = true
	o.LiveFieldsAtLoopBottom = false
	return o
}

func finish(t *testing.T, b *ir.Builder) *ir.Func {
	fn, err := b.Finish()
	require.NoError(t, err)
	return fn
}

func mustRun(t *testing.T, fn *ir.Func, phase Phase, o opts.Options) *Result {
	res, err := Run(context.Background(), fn, phase, nil, o)
	require.NoError(t, err, "%s", fn)
	return res
}

func ids(syms ...*ir.Sym) []ir.SymID {
	rs := make([]ir.SymID, 0, len(syms))
	for _, s := range syms {
		rs = append(rs, s.ID)
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i] < rs[j] })
	return rs
}

func countOp(bb *ir.BasicBlock, op ir.Opcode) int {
	n := 0
	for _, ins := range bb.Instrs {
		if ins.Op == op {
			n++
		}
	}
	return n
}

// refLiveIn computes the live-in set of every block by plain iteration to
// a fixed point.
func refLiveIn(fn *ir.Func) []*ir.SymSet {
	in := make([]*ir.SymSet, len(fn.Blocks))
	for i := range in {
		in[i] = ir.NewSymSet()
	}
	for changed := true; changed; {
		changed = false
		for i := len(fn.Blocks) - 1; i >= 0; i-- {
			bb := fn.Blocks[i]
			live := refLiveOut(bb, in)
			for k := len(bb.Instrs) - 1; k >= 0; k-- {
				refTransfer(bb.Instrs[k], live)
			}
			if !live.Equal(in[i]) {
				in[i] = live
				changed = true
			}
		}
	}
	return in
}

func refLiveOut(bb *ir.BasicBlock, in []*ir.SymSet) *ir.SymSet {
	out := ir.NewSymSet()
	for _, succ := range bb.Succs {
		out.Union(in[succ.ID])
	}
	return out
}

func refTransfer(ins *ir.Instr, live *ir.SymSet) {
	switch ins.Op {
	case ir.OpBytecodeUses, ir.OpNoIntOverflowBoundary:
		return
	}
	if d := ins.DstSym(); d != nil {
		live.Remove(d.ID)
	}
	ins.ForEachUse(func(_ *ir.Opnd, sym *ir.Sym) { live.Add(sym.ID) })
}

// refLiveAfter returns the reference liveness right after every instruction.
func refLiveAfter(fn *ir.Func) map[*ir.Instr]*ir.SymSet {
	in := refLiveIn(fn)
	rs := make(map[*ir.Instr]*ir.SymSet)
	for _, bb := range fn.Blocks {
		live := refLiveOut(bb, in)
		for k := len(bb.Instrs) - 1; k >= 0; k-- {
			rs[bb.Instrs[k]] = live.Clone()
			refTransfer(bb.Instrs[k], live)
		}
	}
	return rs
}

func dump(v interface{}) string {
	return spew.Sdump(v)
}

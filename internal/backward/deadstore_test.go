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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudwego/backpass/ir"
)

func TestDeadStore_RemovesDeadStore(t *testing.T) {
	b := ir.NewBuilder("dead")
	s := b.Syms()
	x, y := s.NewVar("x", 0), s.NewVar("y", 1)
	bb0 := b.Block()
	b.Add(bb0, ir.OpLdConst, ir.S(x), ir.C(1))
	ldy := b.Add(bb0, ir.OpLdConst, ir.S(y), ir.C(2))
	ret := b.Add(bb0, ir.OpRet, nil, ir.S(y))
	fn := finish(t, b)

	res := mustRun(t, fn, PhaseDeadStore, testOptions())
	require.Equal(t, 1, res.Deleted)
	require.Equal(t, []*ir.Instr{ldy, ret}, bb0.Instrs)

	/* a second run finds nothing more to do */
	res = mustRun(t, fn, PhaseDeadStore, testOptions())
	require.Equal(t, 0, res.Deleted)
	require.Equal(t, []*ir.Instr{ldy, ret}, bb0.Instrs)
}

func TestDeadStore_KeepsByteCodeSources(t *testing.T) {
	b := ir.NewBuilder("sources")
	s := b.Syms()
	a, tv := s.NewVar("a", 0), s.NewTemp("t")
	bb0 := b.Block()
	b.Add(bb0, ir.OpMov, ir.S(tv), ir.S(a))
	b.Add(bb0, ir.OpRet, nil, ir.C(0))
	fn := finish(t, b)

	res := mustRun(t, fn, PhaseDeadStore, testOptions())
	require.Equal(t, 1, res.Deleted)
	require.Len(t, bb0.Instrs, 2)

	/* the byte-code use of a survives the deletion */
	rep := bb0.Instrs[0]
	require.Equal(t, ir.OpBytecodeUses, rep.Op)
	require.Len(t, rep.Srcs, 1)
	require.Equal(t, a, rep.Srcs[0].Sym)
	require.Equal(t, bb0, rep.Block)
	require.Greater(t, rep.ID, bb0.Instrs[1].ID)
}

func TestDeadStore_DeadOperands(t *testing.T) {
	b := ir.NewBuilder("operands")
	s := b.Syms()
	a, c, x, y := s.NewVar("a", 0), s.NewVar("c", 1), s.NewVar("x", 2), s.NewVar("y", 3)
	bb0 := b.Block()
	i0 := b.Add(bb0, ir.OpAdd, ir.S(x), ir.S(a), ir.S(c))
	i1 := b.Add(bb0, ir.OpAdd, ir.S(y), ir.S(a), ir.S(x))
	i2 := b.Add(bb0, ir.OpRet, nil, ir.S(y))
	fn := finish(t, b)

	mustRun(t, fn, PhaseDeadStore, testOptions())
	require.False(t, i0.Src1.IsDead)
	require.True(t, i0.Src2.IsDead)
	require.True(t, i1.Src1.IsDead)
	require.True(t, i1.Src2.IsDead)
	require.True(t, i2.Src1.IsDead)
}

func TestDeadStore_ImplicitCallCheckElided(t *testing.T) {
	for _, needed := range []bool{false, true} {
		b := ir.NewBuilder("nic")
		s := b.Syms()
		o, a, v := s.NewVar("o", 0), s.NewVar("a", 1), s.NewTemp("v")
		bb0 := b.Block()
		ld := b.Add(bb0, ir.OpLdFld, ir.S(v), ir.P(s.Property(o, 1)))
		ld.Bailout = &ir.BailoutInfo{Kind: ir.BailOutOnImplicitCalls}
		if needed {
			b.Add(bb0, ir.OpNoImplicitCallUses, nil, ir.N(a, ir.NICGeneric))
		}
		b.Add(bb0, ir.OpRet, nil, ir.S(v))
		fn := finish(t, b)

		res := mustRun(t, fn, PhaseDeadStore, testOptions())
		if needed {
			require.NotNil(t, ld.Bailout)
			require.True(t, ld.Bailout.Finalized)
			require.Equal(t, 0, res.ElidedChecks)
			require.Equal(t, 1, res.Bailouts)
		} else {
			require.Nil(t, ld.Bailout)
			require.Equal(t, 1, res.ElidedChecks)
			require.Equal(t, 0, res.Bailouts)
		}
	}
}

func TestDeadStore_PreservesArrayFacts(t *testing.T) {
	b := ir.NewBuilder("array")
	s := b.Syms()
	arr, i, v := s.NewVar("arr", 0), s.NewVar("i", 1), s.NewVar("v", 2)
	bb0 := b.Block()
	st := b.Add(bb0, ir.OpStElem, ir.M(arr, i), ir.S(v))
	b.Add(bb0, ir.OpNoImplicitCallUses, nil, ir.N(arr, ir.NICNativeArray))
	b.Add(bb0, ir.OpRet, nil, ir.S(arr))
	fn := finish(t, b)

	mustRun(t, fn, PhaseDeadStore, testOptions())
	require.True(t, st.Has(ir.FlagPreservesArrayFacts))
}

func TestDeadStore_LoopSeedIsRefined(t *testing.T) {
	b := ir.NewBuilder("refine")
	s := b.Syms()
	i, n, x, tv := s.NewVar("i", 0), s.NewVar("n", 1), s.NewVar("x", 2), s.NewTemp("t")
	bb0, bb1, bb2, bb3 := b.Block(), b.Block(), b.Block(), b.Block()
	b.Add(bb0, ir.OpLdConst, ir.S(i), ir.C(0))
	b.Add(bb1, ir.OpCmpLt, ir.S(tv), ir.S(i), ir.S(n))
	b.Add(bb1, ir.OpBr, nil, ir.S(tv))
	first := b.Add(bb2, ir.OpLdConst, ir.S(x), ir.C(1))
	use := b.Add(bb2, ir.OpAdd, ir.S(i), ir.S(i), ir.S(x))
	b.Add(bb2, ir.OpLdConst, ir.S(x), ir.C(2))
	b.Add(bb3, ir.OpRet, nil, ir.S(i))
	b.Edge(bb0, bb1)
	b.Edge(bb1, bb2, bb3)
	b.Edge(bb2, bb1)
	fn := finish(t, b)

	/* x is used in the loop, but never across the back edge */
	res := mustRun(t, fn, PhaseDeadStore, testOptions())
	require.Equal(t, 1, res.Deleted)
	require.Equal(t, []*ir.Instr{first, use}, bb2.Instrs)
	require.True(t, fn.Loops[0].HasPrepass)
	require.True(t, fn.Loops[0].HasCollectionPass)
}

func TestDeadStore_LoopCarriedStoreKept(t *testing.T) {
	fn, _ := buildLoop(t)
	res := mustRun(t, fn, PhaseDeadStore, testOptions())
	require.Equal(t, 0, res.Deleted)
	require.Len(t, fn.Blocks[2].Instrs, 1)
}

func TestDeadStore_TryWriteThrough(t *testing.T) {
	for _, hasTry := range []bool{false, true} {
		b := ir.NewBuilder("try")
		s := b.Syms()
		x, f := s.NewVar("x", 0), s.NewVar("f", 1)
		bb0 := b.Block()
		var try *ir.Region
		if hasTry {
			try = b.BeginTry()
		}
		bb1 := b.Block()
		b.Add(bb1, ir.OpLdConst, ir.S(x), ir.C(2))
		b.Add(bb1, ir.OpCall, nil, ir.S(f))
		b.Add(bb1, ir.OpLdConst, ir.S(x), ir.C(3))
		var bb2 *ir.BasicBlock
		if hasTry {
			catch := b.BeginCatch(try)
			bb2 = b.Block()
			b.Add(bb2, ir.OpRet, nil, ir.S(x))
			b.EndCatch()
			require.Equal(t, bb2, catch.Entry)
		}
		bb3 := b.Block()
		b.Add(bb0, ir.OpLdConst, ir.S(x), ir.C(1))
		b.Add(bb3, ir.OpRet, nil, ir.C(0))
		b.Edge(bb0, bb1)
		b.Edge(bb1, bb3)
		fn := finish(t, b)

		res := mustRun(t, fn, PhaseDeadStore, testOptions())
		if hasTry {
			/* the handler may observe any of the stores */
			require.Equal(t, 0, res.Deleted)
			require.Len(t, bb1.Instrs, 3)
			require.Len(t, bb0.Instrs, 1)
			require.True(t, try.Handler.WriteThrough.Has(x.ID))
		} else {
			require.Equal(t, 3, res.Deleted)
			require.Len(t, bb1.Instrs, 1)
		}
	}
}

func TestDeadStore_DeadEdgeCarriesByteCode(t *testing.T) {
	b := ir.NewBuilder("deadedge")
	s := b.Syms()
	x, c := s.NewVar("x", 0), s.NewVar("c", 1)
	bb0, bb1, bb2 := b.Block(), b.Block(), b.Block()
	ld := b.Add(bb0, ir.OpLdConst, ir.S(x), ir.C(5))
	b.Add(bb0, ir.OpBr, nil, ir.S(c))
	b.Add(bb1, ir.OpRet, nil, ir.C(0))
	b.Add(bb2, ir.OpRet, nil, ir.S(x))
	b.Edge(bb0, bb1, bb2)
	b.DeadEdge(bb0, bb2)
	fn := finish(t, b)
	require.True(t, bb2.IsDead)

	/* the interpreter may still take the folded branch */
	res := mustRun(t, fn, PhaseDeadStore, testOptions())
	require.Equal(t, 0, res.Deleted)
	require.Equal(t, ld, bb0.Instrs[0])
	require.Equal(t, 1, res.Consumed[2])

	/* the liveness phase ignores dead edges */
	res = mustRun(t, fn, PhaseLiveness, testOptions())
	require.Equal(t, 0, res.Consumed[2])
	require.Equal(t, ids(c), bb0.LiveIn.Slice())
}

func TestDeadStore_MemOpLiveOnExit(t *testing.T) {
	fn, syms := buildLoop(t)
	i := syms[0]
	lp := fn.Loops[0]
	lp.MemOp = &ir.MemOpInfo{Inductions: []ir.Induction{{Sym: i, Delta: 1}}}

	mustRun(t, fn, PhaseDeadStore, testOptions())
	require.True(t, lp.MemOp.LiveOnExit.Has(i.ID))
	require.Equal(t, []ir.Induction{{Sym: i, Delta: 1}}, lp.MemOp.RestoreAfterLoop)
}

func TestDeadStore_TwoBlocks(t *testing.T) {
	b := ir.NewBuilder("two")
	s := b.Syms()
	x := s.NewVar("x", 0)
	bb0, bb1 := b.Block(), b.Block()
	b.Add(bb0, ir.OpLdConst, ir.S(x), ir.C(1))
	b.Add(bb0, ir.OpJmp, nil)
	b.Add(bb1, ir.OpRet, nil, ir.S(x))
	b.Edge(bb0, bb1)
	fn := finish(t, b)

	/* shape facts are merged before the successor goes away */
	var res *Result
	require.NotPanics(t, func() { res = mustRun(t, fn, PhaseDeadStore, testOptions()) })
	require.Equal(t, 0, res.Deleted)
	require.Len(t, bb0.Instrs, 2)
	require.Equal(t, map[int]int{1: 1}, res.Consumed)
	require.Equal(t, 2, res.Released)
}

func TestDeadStore_Diamond(t *testing.T) {
	fn, _ := buildDiamond(t)

	var res *Result
	require.NotPanics(t, func() { res = mustRun(t, fn, PhaseDeadStore, testOptions()) })
	require.Equal(t, 0, res.Deleted)
	require.Equal(t, map[int]int{1: 1, 2: 1, 3: 2}, res.Consumed)
	require.Equal(t, 4, res.Released)
	for _, bb := range fn.Blocks {
		require.NotEmpty(t, bb.Instrs)
	}
}

// buildTempChain builds a loop whose body copies a chain of n temps:
// t0 = t1, t1 = t2, ..., t(n-1) = tn, with tn loaded before the loop.
func buildTempChain(t *testing.T, n int) *ir.Func {
	b := ir.NewBuilder("chain")
	s := b.Syms()
	i, lim, c := s.NewVar("i", 0), s.NewVar("n", 1), s.NewTemp("c")
	tmp := make([]*ir.Sym, n+1)
	for k := range tmp {
		tmp[k] = s.NewTemp(fmt.Sprintf("t%d", k))
	}
	bb0, bb1, bb2, bb3 := b.Block(), b.Block(), b.Block(), b.Block()
	b.Add(bb0, ir.OpLdConst, ir.S(tmp[n]), ir.C(5))
	b.Add(bb1, ir.OpCmpLt, ir.S(c), ir.S(i), ir.S(lim))
	b.Add(bb1, ir.OpBr, nil, ir.S(c))
	for k := 0; k < n; k++ {
		b.Add(bb2, ir.OpMov, ir.S(tmp[k]), ir.S(tmp[k+1]))
	}
	b.Add(bb3, ir.OpRet, nil, ir.S(i))
	b.Edge(bb0, bb1)
	b.Edge(bb1, bb2, bb3)
	b.Edge(bb2, bb1)
	return finish(t, b)
}

func TestDeadStore_TempChainInLoop(t *testing.T) {
	for _, n := range []int{1, 3, 40} {
		fn := buildTempChain(t, n)

		/* nothing ever reads t0, so the whole chain goes at once */
		res := mustRun(t, fn, PhaseDeadStore, testOptions())
		require.Equal(t, n+1, res.Deleted, "n = %d", n)
		require.Empty(t, fn.Blocks[0].Instrs)
		require.Empty(t, fn.Blocks[2].Instrs)
		require.True(t, fn.Loops[0].HasPrepass)

		/* and a second run has nothing left */
		res = mustRun(t, fn, PhaseDeadStore, testOptions())
		require.Equal(t, 0, res.Deleted, "n = %d", n)
		require.Len(t, fn.Blocks[1].Instrs, 2)
	}
}

func TestDeadStore_PrepassLimitIsAFloor(t *testing.T) {
	fn := buildTempChain(t, 40)
	o := testOptions()
	o.MaxPrepassIterations = 1

	res := mustRun(t, fn, PhaseDeadStore, o)
	require.Equal(t, 41, res.Deleted)
}

func TestDeadStore_LoopIsIdempotent(t *testing.T) {
	b := ir.NewBuilder("idem")
	s := b.Syms()
	i, n, x, y, c := s.NewVar("i", 0), s.NewVar("n", 1), s.NewVar("x", 2), s.NewVar("y", 3), s.NewTemp("c")
	bb0, bb1, bb2, bb3 := b.Block(), b.Block(), b.Block(), b.Block()
	b.Add(bb0, ir.OpLdConst, ir.S(i), ir.C(0))
	b.Add(bb0, ir.OpLdConst, ir.S(y), ir.C(0))
	b.Add(bb1, ir.OpCmpLt, ir.S(c), ir.S(i), ir.S(n))
	b.Add(bb1, ir.OpBr, nil, ir.S(c))
	b.Add(bb2, ir.OpAdd, ir.S(x), ir.S(y), ir.C(1))
	b.Add(bb2, ir.OpMov, ir.S(y), ir.S(x))
	b.Add(bb2, ir.OpAdd, ir.S(i), ir.S(i), ir.C(1))
	b.Add(bb3, ir.OpRet, nil, ir.S(i))
	b.Edge(bb0, bb1)
	b.Edge(bb1, bb2, bb3)
	b.Edge(bb2, bb1)
	fn := finish(t, b)

	/* x and y only feed each other around the back edge */
	mustRun(t, fn, PhaseDeadStore, testOptions())
	want := make([]int, len(fn.Blocks))
	for k, bb := range fn.Blocks {
		want[k] = len(bb.Instrs)
	}

	/* a second run agrees with the first */
	res := mustRun(t, fn, PhaseDeadStore, testOptions())
	require.Equal(t, 0, res.Deleted)
	for k, bb := range fn.Blocks {
		require.Len(t, bb.Instrs, want[k], "bb%d", k)
	}
}

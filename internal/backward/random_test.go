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
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/backpass/ir"
)

const (
	_RandomVars  = 6
	_RandomDepth = 3
	_RandomRuns  = 64
)

// cfgGen grows structured, reducible functions: straight-line code,
// diamonds and while loops nested up to _RandomDepth.
type cfgGen struct {
	f    *gofakeit.Faker
	b    *ir.Builder
	cur  *ir.BasicBlock
	vars []*ir.Sym
}

func newCfgGen(seed int64) *cfgGen {
	g := &cfgGen{
		f: gofakeit.New(seed),
		b: ir.NewBuilder("random"),
	}
	for i := 0; i < _RandomVars; i++ {
		g.vars = append(g.vars, g.b.Syms().NewVar(string(rune('a'+i)), i))
	}
	return g
}

// withTemps adds n temps without a byte-code register to the pool.
func (self *cfgGen) withTemps(n int) *cfgGen {
	for i := 0; i < n; i++ {
		self.vars = append(self.vars, self.b.Syms().NewTemp(string(rune('p'+i))))
	}
	return self
}

// buildLoop is build with an outermost loop that is always present.
func (self *cfgGen) buildLoop(t *testing.T) *ir.Func {
	self.cur = self.b.Block()
	self.straight()
	self.loop(0)
	self.region(1)
	self.b.Add(self.cur, ir.OpRet, nil, ir.S(self.pick()))
	return finish(t, self.b)
}

func (self *cfgGen) build(t *testing.T) *ir.Func {
	self.cur = self.b.Block()
	self.region(0)
	self.b.Add(self.cur, ir.OpRet, nil, ir.S(self.pick()))
	return finish(t, self.b)
}

func (self *cfgGen) pick() *ir.Sym {
	return self.vars[self.f.Number(0, len(self.vars)-1)]
}

func (self *cfgGen) region(depth int) {
	for n := self.f.Number(1, 3); n > 0; n-- {
		switch k := self.f.Number(0, 2); {
		case k == 1 && depth < _RandomDepth:
			self.diamond(depth)
		case k == 2 && depth < _RandomDepth:
			self.loop(depth)
		default:
			self.straight()
		}
	}
}

func (self *cfgGen) straight() {
	for n := self.f.Number(1, 3); n > 0; n-- {
		switch self.f.Number(0, 4) {
		case 0:
			self.b.Add(self.cur, ir.OpLdConst, ir.S(self.pick()), ir.C(float64(self.f.Number(0, 9))))
		case 1:
			self.b.Add(self.cur, ir.OpMov, ir.S(self.pick()), ir.S(self.pick()))
		case 2:
			self.b.Add(self.cur, ir.OpAdd, ir.S(self.pick()), ir.S(self.pick()), ir.S(self.pick()))
		case 3:
			self.b.Add(self.cur, ir.OpSub, ir.S(self.pick()), ir.S(self.pick()), ir.C(1))
		default:
			self.b.BailOut(self.cur, ir.BailOutOnException)
		}
	}
}

func (self *cfgGen) cond() {
	c := self.pick()
	self.b.Add(self.cur, ir.OpCmpLt, ir.S(c), ir.S(self.pick()), ir.S(self.pick()))
	self.b.Add(self.cur, ir.OpBr, nil, ir.S(c))
}

func (self *cfgGen) diamond(depth int) {
	head := self.cur
	self.cond()

	/* then */
	self.cur = self.b.Block()
	self.b.Edge(head, self.cur)
	self.region(depth + 1)
	thenEnd := self.cur

	/* else */
	self.cur = self.b.Block()
	self.b.Edge(head, self.cur)
	self.region(depth + 1)
	elseEnd := self.cur

	/* join */
	self.cur = self.b.Block()
	self.b.Edge(thenEnd, self.cur)
	self.b.Edge(elseEnd, self.cur)
}

func (self *cfgGen) loop(depth int) {
	hdr := self.b.Block()
	self.b.Edge(self.cur, hdr)
	self.cur = hdr
	self.cond()

	/* body */
	self.cur = self.b.Block()
	self.b.Edge(hdr, self.cur)
	self.region(depth + 1)
	self.b.Edge(self.cur, hdr)

	/* exit */
	self.cur = self.b.Block()
	self.b.Edge(hdr, self.cur)
}

func TestRandom_LivenessMatchesReference(t *testing.T) {
	for seed := int64(0); seed < _RandomRuns; seed++ {
		fn := newCfgGen(seed).build(t)
		ref := refLiveIn(fn)
		res := mustRun(t, fn, PhaseLiveness, testOptions())

		/* exact liveness on every block */
		for _, bb := range fn.Blocks {
			require.Equal(t, ref[bb.ID].Slice(), bb.LiveIn.Slice(), "seed %d, %v\n%s", seed, bb, fn)
		}

		/* every state was read once per edge and released */
		require.Equal(t, len(fn.Blocks), res.Released, "seed %d", seed)
		for _, bb := range fn.Blocks {
			require.Equal(t, len(bb.Preds), res.Consumed[bb.ID], "seed %d, %v", seed, bb)
		}
	}
}

func TestRandom_DeadStoresAreDead(t *testing.T) {
	o := testOptions()
	o.Debug = true

	for seed := int64(0); seed < _RandomRuns; seed++ {
		fn := newCfgGen(seed).build(t)
		after := refLiveAfter(fn)

		/* remember the original instructions */
		var before []*ir.Instr
		fn.ForEachInstr(func(ins *ir.Instr) { before = append(before, ins) })

		res := mustRun(t, fn, PhaseDeadStore, o)
		kept := make(map[*ir.Instr]bool)
		fn.ForEachInstr(func(ins *ir.Instr) { kept[ins] = true })

		/* nothing that is read later may disappear */
		deleted := 0
		for _, ins := range before {
			if kept[ins] {
				continue
			}
			deleted++
			d := ins.DstSym()
			require.NotNil(t, d, "seed %d: %v", seed, ins)
			require.False(t, after[ins].Has(d.ID), "seed %d: %v is not dead\n%s", seed, ins, fn)
		}
		require.Equal(t, res.Deleted, deleted, "seed %d", seed)

		/* every bailout got a complete record */
		fn.ForEachInstr(func(ins *ir.Instr) {
			if ins.Op == ir.OpBailOut {
				require.True(t, ins.Bailout.Finalized, "seed %d: %v", seed, ins)
				require.Equal(t, ins.Bailout.ByteCodeUpwardExposed.Len(), len(ins.Bailout.Restore))
			}
		})

		/* a second run has nothing left to remove */
		res = mustRun(t, fn, PhaseDeadStore, o)
		require.Equal(t, 0, res.Deleted, "seed %d\n%s", seed, dump(fn.Blocks))
	}
}

func TestRandom_LoopDeadStoresAreIdempotent(t *testing.T) {
	o := testOptions()
	o.Debug = true

	for seed := int64(0); seed < _RandomRuns; seed++ {
		fn := newCfgGen(seed).withTemps(2).buildLoop(t)
		require.NotEmpty(t, fn.Loops, "seed %d", seed)

		/* whatever the first run removes, it removes all of it */
		first := mustRun(t, fn, PhaseDeadStore, o)
		res := mustRun(t, fn, PhaseDeadStore, o)
		require.Equal(t, 0, res.Deleted, "seed %d, first run deleted %d\n%s", seed, first.Deleted, dump(fn.Blocks))

		/* the survivors still agree with plain liveness */
		ref := refLiveIn(fn)
		mustRun(t, fn, PhaseLiveness, testOptions())
		for _, bb := range fn.Blocks {
			require.Equal(t, ref[bb.ID].Slice(), bb.LiveIn.Slice(), "seed %d, %v", seed, bb)
		}
	}
}

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
	"github.com/davecgh/go-spew/spew"

	"github.com/cloudwego/backpass/ir"
)

func (self *Context) walk() error {
	bbs := self.fn.Blocks
	self.mode = modeReal

	/* reverse layout order, loops are resolved on first entry */
	for i := len(bbs) - 1; i >= 0; i-- {
		bb := bbs[i]
		if err := self.checkAbort(); err != nil {
			return err
		}

		/* entering a loop from its bottom */
		if lp := self.pendingLoop(bb); lp != nil {
			if err := self.runLoop(lp); err != nil {
				return err
			}
		}

		/* process the block for real */
		self.processBlock(bb)
	}
	return nil
}

// pendingLoop returns the outermost loop around bb that has not been prepassed.
func (self *Context) pendingLoop(bb *ir.BasicBlock) *ir.Loop {
	var lp *ir.Loop
	for l := bb.Loop; l != nil; l = l.Parent {
		if !self.loops[l.ID].prepassed {
			lp = l
		}
	}
	return lp
}

func (self *Context) processBlock(bb *ir.BasicBlock) {
	st := self.newState()
	self.bb = bb
	self.res.Blocks++

	/* merge, scan and finish */
	self.mergeSuccessors(bb, st)
	self.strategy.BeginBlock(self, bb, st)
	self.strategy.Scan(self, bb, st)
	self.finishBlock(bb, st)
	self.strategy.EndBlock(self, bb, st)

	/* block tracing */
	if self.tr.If("backpass_blocks") {
		self.tr.Printw("block", "bb", bb.ID, "uses", st.Uses, "bytecode", st.ByteCode, "dead", bb.IsDead)
	}

	/* full state dump */
	if self.tr.If("backpass_dump") {
		self.tr.Printw("state", "bb", bb.ID, "dump", spew.Sdump(st))
	}

	/* install the state for the predecessors */
	self.install(bb, st)
	self.bb = nil
}

// walkBlock processes bb without side effects, keeping its state in the overlay.
func (self *Context) walkBlock(bb *ir.BasicBlock) {
	st := self.newState()
	self.bb = bb

	/* merge and scan */
	self.mergeSuccessors(bb, st)
	self.strategy.Scan(self, bb, st)
	self.finishBlock(bb, st)

	/* replace the previous walk result */
	if old := self.overlay[bb.ID]; old != nil {
		self.freeState(old)
	}
	self.overlay[bb.ID] = st
	self.bb = nil
}

func (self *Context) install(bb *ir.BasicBlock, st *BlockState) {
	p := &self.slots[bb.ID]

	/* drop the provisional state of a loop header */
	if self.states.Valid(p.h) {
		self.freeState(self.states.Release(p.h))
	}

	/* nobody will ever read it */
	p.h = self.states.Alloc(st)
	p.count.released = false
	if p.count.remaining == 0 {
		self.releaseSlot(bb)
	}
}

func (self *Context) releaseSlot(bb *ir.BasicBlock) {
	p := &self.slots[bb.ID]
	self.freeState(self.states.Release(p.h))
	p.count.released = true
	self.res.Released++
}

// consume marks one read of succ's state by a predecessor.
func (self *Context) consume(succ *ir.BasicBlock) {
	p := &self.slots[succ.ID]
	if p.count.released || p.count.remaining <= 0 {
		self.invariant("state of %v consumed after release", succ)
	}

	/* release on last use */
	p.count.consumed++
	p.count.remaining--
	self.res.Consumed[succ.ID]++
	if p.count.remaining == 0 {
		self.releaseSlot(succ)
	}
}

// succState returns the state merged across the edge bb -> succ.
func (self *Context) succState(bb *ir.BasicBlock, succ *ir.BasicBlock) *BlockState {
	if self.mode != modeReal {
		if bb.IsBackEdge(succ) {
			if st := self.seeds[succ.ID]; st != nil {
				return st
			} else if self.walking.Contains(succ) {
				return self.emptyState()
			}
		} else if st := self.overlay[succ.ID]; st != nil {
			return st
		}
	}

	/* real state, provisional for back edges */
	p := &self.slots[succ.ID]
	if p.h.IsNil() || p.count.released {
		self.invariant("no state for successor %v", succ)
	}
	return self.states.Get(p.h)
}

func (self *Context) emptyState() *BlockState {
	st := self.seeds[-1]
	if st == nil {
		st = self.newState()
		self.seeds[-1] = st
	}
	return st
}

func (self *Context) mergeSuccessors(bb *ir.BasicBlock, st *BlockState) {
	var read []*ir.BasicBlock
	var shapes []*BlockState
	shapeOK := len(bb.Succs) != 0

	/* live edges */
	for _, succ := range bb.Succs {
		sst := self.succState(bb, succ)
		self.mergeGeneric(st, sst)

		/* shape facts only flow into a single-predecessor successor */
		if len(succ.Preds) == 1 {
			shapes = append(shapes, sst)
		} else {
			shapeOK = false
		}

		/* known layouts flow everywhere */
		if st.Shapes != nil && sst.Shapes != nil {
			st.Shapes.unionLayouts(sst.Shapes)
		}

		/* released only after the shape merge below */
		if self.mode == modeReal {
			self.captureMemOp(bb, succ, sst)
			read = append(read, succ)
		}
	}

	/* dead edges only carry byte-code uses */
	if self.strategy.TracksByteCode() {
		for _, succ := range bb.DeadSuccs {
			if isForward(bb, succ) {
				sst := self.succState(bb, succ)
				union(st.ByteCode, sst.ByteCode)
				for id, sym := range sst.Restore {
					st.Restore[id] = sym
				}
				if self.mode == modeReal {
					read = append(read, succ)
				}
			}
		}
	}

	/* exceptions may skip any definition inside a try */
	for r := bb.Region; r != nil; r = r.Parent {
		if r.Kind == ir.RegionTry && r.Handler != nil {
			if wt := self.writeThrough[r.Handler]; wt != nil {
				union(st.Uses, wt)
				self.addWriteThrough(st, wt)
			}
		}
	}

	/* intersect the shape facts */
	if st.Shapes != nil && shapeOK && self.mode == modeReal {
		self.mergeShapes(bb, st, shapes)
	}

	/* nothing reads the successor states past this point */
	for _, succ := range read {
		self.consume(succ)
	}
}

func (self *Context) addWriteThrough(st *BlockState, wt *ir.SymSet) {
	if st.ByteCode == nil {
		return
	}
	wt.Each(func(id ir.SymID) bool {
		if sym := self.fn.Syms.Lookup(id); sym != nil && sym.HasByteCodeReg() {
			self.addByteCode(st, sym)
		}
		return true
	})
}

// isWriteThrough reports symbols whose definitions inside bb's try regions
// must survive.
func (self *Context) isWriteThrough(bb *ir.BasicBlock, sym *ir.Sym) bool {
	for r := bb.Region; r != nil; r = r.Parent {
		if r.Kind == ir.RegionTry && r.Handler != nil {
			if wt := self.writeThrough[r.Handler]; wt.Has(sym.ID) || wt.Has(sym.Canonical().ID) {
				return true
			}
		}
	}
	return false
}

func (self *Context) finishBlock(bb *ir.BasicBlock, st *BlockState) {
	if bb.IsLoopHeader {
		absorbTemps(&st.TempNumber)
		absorbTemps(&st.TempObject)
	}

	/* freeze the write-through set of a catch region */
	if r := bb.Region; r.Kind == ir.RegionCatch && r.Entry == bb {
		wt := self.scratch.NewSet()
		wt.Union(st.Uses)
		wt.Union(st.ByteCode)
		self.scratch.FreeSet(self.writeThrough[r])
		self.writeThrough[r] = wt
	}
}

func (self *Context) captureMemOp(bb *ir.BasicBlock, succ *ir.BasicBlock, sst *BlockState) {
	for lp := bb.Loop; lp != nil; lp = lp.Parent {
		if lp.MemOp == nil || lp.Contains(succ) {
			continue
		}

		/* first exit seen for this loop */
		mc := self.memops[lp]
		if mc == nil {
			mc = &memOpCapture{liveOnExit: new(ir.SymSet)}
			self.memops[lp] = mc
		}

		/* everything used after the loop */
		mc.liveOnExit.Union(sst.Uses)
		mc.liveOnExit.Union(sst.ByteCode)

		/* induction variables that must be restored */
		for _, ind := range lp.MemOp.Inductions {
			if mc.liveOnExit.Has(ind.Sym.ID) || mc.liveOnExit.Has(ind.Sym.Canonical().ID) {
				if !hasInduction(mc.restore, ind.Sym) {
					mc.restore = append(mc.restore, ind)
				}
			}
		}
	}
}

func hasInduction(list []ir.Induction, sym *ir.Sym) bool {
	for _, v := range list {
		if v.Sym == sym {
			return true
		}
	}
	return false
}

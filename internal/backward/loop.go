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
	"github.com/nikandfor/errors"

	"github.com/cloudwego/backpass/ir"
)

// runLoop brings lp to the "prepass done" state, running the collection
// pass first when byte-code facts are tracked.
func (self *Context) runLoop(lp *ir.Loop) error {
	if self.strategy.TracksByteCode() && !self.loops[lp.ID].collected {
		if err := self.collect(lp, 0); err != nil {
			return err
		}
		self.clearOverlay()
		self.clearSeeds()
	}

	/* the real prepass */
	if err := self.prepass(lp); err != nil {
		return err
	}

	/* loop tracing */
	if self.tr.If("backpass_loops") {
		self.tr.Printw("prepass done", "loop", lp.ID, "header", lp.Header.ID, "tail", lp.Tail.ID)
	}
	return nil
}

// walkRange walks blocks hi..lo backwards and returns the lexically first
// nested loop header it crossed.
func (self *Context) walkRange(lp *ir.Loop, hi int, lo int) (*ir.BasicBlock, error) {
	var first *ir.BasicBlock
	for id := hi; id >= lo; id-- {
		bb := self.fn.Blocks[id]
		if err := self.checkAbort(); err != nil {
			return nil, err
		}
		if bb.IsLoopHeader && bb != lp.Header {
			first = bb
		}
		self.walkBlock(bb)
	}
	return first, nil
}

// collect pushes byte-code upward-exposed facts into the header of lp and
// of every loop nested in it.
func (self *Context) collect(lp *ir.Loop, depth int) error {
	if !self.opts.CanRecurse(depth) {
		return errors.Wrap(ErrLoopNestingTooDeep, "%v at depth %d", lp, depth)
	}

	/* save the walk context */
	mode, walking := self.mode, self.walking
	self.mode, self.walking = modeCollect, lp
	defer func() { self.mode, self.walking = mode, walking }()

	/* pass 1: tail to header, nested back edges carry nothing */
	first, err := self.walkRange(lp, lp.Tail.ID, lp.Header.ID)
	if err != nil {
		return err
	}

	/* pass 2: around the back edge once more, down to the first nested header */
	if first != nil {
		self.setSeed(lp.Header, self.overlay[lp.Header.ID])
		for id := lp.Tail.ID; id >= first.ID; id-- {
			bb := self.fn.Blocks[id]
			if err = self.checkAbort(); err != nil {
				return err
			}

			/* nested loops get their own collection pass first */
			if inner := childLoop(lp, bb); inner != nil && !self.loops[inner.ID].collected {
				if err = self.collect(inner, depth+1); err != nil {
					return err
				}
				id = inner.Header.ID
				continue
			}
			self.walkBlock(bb)
		}
		self.dropSeed(lp.Header)
	}

	/* the header facts are the collection result */
	hdr := self.overlay[lp.Header.ID]
	self.scratch.FreeSet(self.collected[lp.Header.ID])
	self.collected[lp.Header.ID] = self.scratch.CloneSet(hdr.ByteCode)
	self.loops[lp.ID].collected = true

	self.tr.V("backpass_loops").Printw("collection done", "loop", lp.ID, "depth", depth, "bytecode", hdr.ByteCode)
	return nil
}

// childLoop returns the loop directly nested in lp that contains bb.
func childLoop(lp *ir.Loop, bb *ir.BasicBlock) *ir.Loop {
	for _, c := range lp.Children {
		if c.Contains(bb) {
			return c
		}
	}
	return nil
}

func (self *Context) setSeed(bb *ir.BasicBlock, st *BlockState) {
	self.dropSeed(bb)
	self.seeds[bb.ID] = self.cloneState(st)
}

func (self *Context) dropSeed(bb *ir.BasicBlock) {
	if st := self.seeds[bb.ID]; st != nil {
		self.freeState(st)
		delete(self.seeds, bb.ID)
	}
}

// loopHeaders returns lp's header and the headers of every nested loop.
func loopHeaders(lp *ir.Loop) []*ir.BasicBlock {
	rs := []*ir.BasicBlock{lp.Header}
	for _, c := range lp.Children {
		rs = append(rs, loopHeaders(c)...)
	}
	return rs
}

func (self *Context) prepass(lp *ir.Loop) error {
	self.mode, self.walking = modePrepass, lp
	defer func() { self.mode, self.walking = modeReal, nil }()

	/* liveness: one walk with empty back edges is exact */
	if !self.strategy.TracksByteCode() {
		if _, err := self.walkRange(lp, lp.Tail.ID, lp.Header.ID); err != nil {
			return err
		}
		self.installProvisional(lp)
		return nil
	}

	/* dead stores depend on liveness, grow from empty back edges to the least fixed point */
	hdrs := loopHeaders(lp)
	limit := self.prepassLimit(len(hdrs))

	/* iterate until the headers stop growing */
	for it := 0; ; it++ {
		if it >= limit {
			self.bb = lp.Header
			self.invariant("%v did not converge after %d prepass iterations", lp, it)
		}

		/* seed every back edge */
		for _, h := range hdrs {
			if it == 0 {
				st := self.newState()
				st.ByteCode.Union(self.collected[h.ID])
				self.syncRestore(st)
				self.dropSeed(h)
				self.seeds[h.ID] = st
			} else {
				self.setSeed(h, self.overlay[h.ID])
			}
		}

		/* walk the whole loop */
		if _, err := self.walkRange(lp, lp.Tail.ID, lp.Header.ID); err != nil {
			return err
		}

		/* a fixed point reproduces its own seeds */
		stable := true
		for _, h := range hdrs {
			if !sameFacts(self.overlay[h.ID], self.seeds[h.ID]) {
				stable = false
			}
		}

		tr := self.tr.V("backpass_loops")
		tr.Printw("prepass iteration", "loop", lp.ID, "iter", it, "uses", self.overlay[lp.Header.ID].Uses)

		/* converged */
		if stable {
			break
		}
	}

	/* install the header result */
	self.installProvisional(lp)
	return nil
}

// prepassLimit bounds the refinement of a loop with nhdrs headers. Every
// unstable round adds at least one symbol to one set of some header.
func (self *Context) prepassLimit(nhdrs int) int {
	n := self.fn.Syms.Len()*(2+int(ir.NICKinds))*nhdrs + 2
	if n < self.opts.MaxPrepassIterations {
		n = self.opts.MaxPrepassIterations
	}
	return n
}

// sameFacts compares the facts that flow around a back edge.
func sameFacts(a *BlockState, b *BlockState) bool {
	if !a.Uses.Equal(b.Uses) || !a.ByteCode.Equal(b.ByteCode) {
		return false
	}
	for i := range a.NIC {
		if !a.NIC[i].Equal(b.NIC[i]) {
			return false
		}
	}
	return true
}

// installProvisional keeps the header state of the prepass as the state
// read across the back edge, and drops everything else.
func (self *Context) installProvisional(lp *ir.Loop) {
	hdr := self.overlay[lp.Header.ID]
	delete(self.overlay, lp.Header.ID)

	/* the header must not have a state yet */
	p := &self.slots[lp.Header.ID]
	if self.states.Valid(p.h) {
		self.bb = lp.Header
		self.invariant("%v already has a state before its prepass", lp.Header)
	}

	/* install and clean up */
	p.h = self.states.Alloc(hdr)
	self.loops[lp.ID].prepassed = true
	self.clearOverlay()
	self.clearSeeds()
}

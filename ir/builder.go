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
	"sort"

	"github.com/nikandfor/errors"
	"github.com/oleiade/lane"
	"gonum.org/v1/gonum/graph/flow"
	"gonum.org/v1/gonum/graph/simple"
)

// Builder assembles a Func and discovers its loops when finished.
type Builder struct {
	fn      *Func
	nextIns int
	region  *Region
	dead    map[[2]int]bool
}

func NewBuilder(name string) *Builder {
	root := &Region{Kind: RegionRoot}
	return &Builder{
		fn:     &Func{Name: name, Syms: NewSymTable(), Root: root},
		region: root,
		dead:   make(map[[2]int]bool),
	}
}

func (self *Builder) Syms() *SymTable {
	return self.fn.Syms
}

// Block appends a new block to the layout, inside the current region.
func (self *Builder) Block() *BasicBlock {
	bb := &BasicBlock{ID: len(self.fn.Blocks), Region: self.region}
	self.fn.Blocks = append(self.fn.Blocks, bb)

	/* the first block of a region is its entry */
	if self.region.Entry == nil {
		self.region.Entry = bb
	}
	return bb
}

func (self *Builder) Edge(from *BasicBlock, to ...*BasicBlock) {
	for _, bb := range to {
		from.Succs = append(from.Succs, bb)
		bb.Preds = append(bb.Preds, from)
	}
}

// DeadEdge records an edge the forward optimizer proved is never taken.
func (self *Builder) DeadEdge(from *BasicBlock, to *BasicBlock) {
	self.dead[[2]int{from.ID, to.ID}] = true
}

// BeginTry opens a try region; blocks created until BeginCatch belong to it.
func (self *Builder) BeginTry() *Region {
	self.fn.HasTry = true
	self.region = &Region{Kind: RegionTry, Parent: self.region}
	return self.region
}

// BeginCatch closes the try region and opens its handler.
func (self *Builder) BeginCatch(try *Region) *Region {
	if try.Kind != RegionTry {
		panic("builder: BeginCatch on a non-try region")
	}
	try.Handler = &Region{Kind: RegionCatch, Parent: try.Parent}
	self.region = try.Handler
	return self.region
}

// EndCatch returns to the region enclosing the try statement.
func (self *Builder) EndCatch() {
	if self.region.Kind != RegionCatch {
		panic("builder: EndCatch outside of a catch region")
	}
	self.region = self.region.Parent
}

func (self *Builder) Emit(bb *BasicBlock, ins *Instr) *Instr {
	self.nextIns++
	ins.ID = self.nextIns
	ins.Block = bb
	bb.Instrs = append(bb.Instrs, ins)
	return ins
}

// Add emits op with the first two sources in Src1/Src2 and the rest in Srcs.
func (self *Builder) Add(bb *BasicBlock, op Opcode, dst *Opnd, srcs ...*Opnd) *Instr {
	ins := &Instr{Op: op, Dst: dst}
	if len(srcs) > 0 {
		ins.Src1 = srcs[0]
	}
	if len(srcs) > 1 {
		ins.Src2 = srcs[1]
	}
	if len(srcs) > 2 {
		ins.Srcs = srcs[2:]
	}
	return self.Emit(bb, ins)
}

func (self *Builder) StartCall(bb *BasicBlock, argc int) *Instr {
	return self.Emit(bb, &Instr{Op: OpStartCall, Argc: argc})
}

func (self *Builder) BailOut(bb *BasicBlock, kind BailoutKind, uses ...*Opnd) *Instr {
	ins := self.Add(bb, OpBailOut, nil, uses...)
	ins.Bailout = &BailoutInfo{Kind: kind}
	return ins
}

// Finish validates the CFG, classifies dead blocks and builds the loop tree.
func (self *Builder) Finish() (*Func, error) {
	fn := self.fn
	if len(fn.Blocks) == 0 {
		return nil, errors.New("function %s has no blocks", fn.Name)
	}

	/* try blocks may throw into their handler */
	for _, bb := range fn.Blocks {
		if try := bb.Region.EnclosingTry(); try != nil && try.Handler != nil && try.Handler.Entry != nil {
			if !hasSucc(bb, try.Handler.Entry) {
				self.Edge(bb, try.Handler.Entry)
			}
		}
	}

	/* move the folded edges out of the way */
	for _, bb := range fn.Blocks {
		self.killEdges(bb, func(succ *BasicBlock) bool { return self.dead[[2]int{bb.ID, succ.ID}] })
	}

	self.markDeadBlocks()
	if err := self.findLoops(); err != nil {
		return nil, errors.Wrap(err, "func %v", fn.Name)
	}
	return fn, nil
}

func hasSucc(bb *BasicBlock, succ *BasicBlock) bool {
	for _, s := range bb.Succs {
		if s == succ {
			return true
		}
	}
	return false
}

func (self *Builder) killEdges(bb *BasicBlock, pred func(succ *BasicBlock) bool) {
	live := bb.Succs[:0]
	for _, succ := range bb.Succs {
		if !pred(succ) {
			live = append(live, succ)
			continue
		}

		/* move the edge to the dead lists on both sides */
		bb.DeadSuccs = append(bb.DeadSuccs, succ)
		succ.DeadPreds = append(succ.DeadPreds, bb)
		succ.Preds = removeBlock(succ.Preds, bb)
	}
	bb.Succs = live
}

func removeBlock(list []*BasicBlock, bb *BasicBlock) []*BasicBlock {
	for i, p := range list {
		if p == bb {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func (self *Builder) markDeadBlocks() {
	q := lane.NewQueue()
	fn := self.fn
	vis := make([]bool, len(fn.Blocks))

	/* breadth-first search from the entry block */
	q.Enqueue(fn.Entry())
	vis[0] = true

	/* walk every live edge */
	for !q.Empty() {
		bb := q.Dequeue().(*BasicBlock)
		for _, succ := range bb.Succs {
			if !vis[succ.ID] {
				vis[succ.ID] = true
				q.Enqueue(succ)
			}
		}
	}

	/* edges leaving an unreachable block are dead */
	for _, bb := range fn.Blocks {
		if !vis[bb.ID] {
			bb.IsDead = true
			self.killEdges(bb, func(*BasicBlock) bool { return true })
		}
	}
}

func (self *Builder) findLoops() error {
	fn := self.fn
	g := simple.NewDirectedGraph()

	/* add every live block */
	for _, bb := range fn.Blocks {
		if !bb.IsDead {
			g.AddNode(simple.Node(bb.ID))
		}
	}

	/* self edges are always back edges, keep them out of the graph */
	for _, bb := range fn.Blocks {
		for _, succ := range bb.Succs {
			if succ != bb {
				g.SetEdge(simple.Edge{F: simple.Node(bb.ID), T: simple.Node(succ.ID)})
			}
		}
	}

	/* find all the back edges */
	dt := flow.Dominators(simple.Node(0), g)
	tails := make(map[int][]*BasicBlock)

	/* an edge into a dominator closes a loop */
	for _, bb := range fn.Blocks {
		for _, succ := range bb.Succs {
			if dominates(dt, succ.ID, bb.ID) {
				tails[succ.ID] = append(tails[succ.ID], bb)
			} else if succ.ID <= bb.ID {
				return errors.New("edge %v -> %v goes backwards but is not a back edge", bb, succ)
			}
		}
	}

	/* headers in layout order */
	hdrs := make([]int, 0, len(tails))
	for h := range tails {
		hdrs = append(hdrs, h)
	}
	sort.Ints(hdrs)

	/* build the natural loop of every header */
	for _, h := range hdrs {
		lp := &Loop{ID: len(fn.Loops), Header: fn.Blocks[h]}
		naturalLoop(lp, tails[h])
		fn.Loops = append(fn.Loops, lp)
	}

	/* validate the layout and find the tails */
	for _, lp := range fn.Loops {
		ids := lp.Blocks()
		if ids[0] != lp.Header.ID || ids[len(ids)-1]-ids[0]+1 != len(ids) {
			return errors.New("%v is not laid out contiguously: %v", lp, ids)
		}
		lp.Tail = fn.Blocks[ids[len(ids)-1]]
		lp.Header.IsLoopHeader = true
	}

	/* the parent of a loop is the smallest loop that contains its header */
	for _, lp := range fn.Loops {
		for _, other := range fn.Loops {
			if other != lp && other.Contains(lp.Header) && other.blocks.Count() > lp.blocks.Count() {
				if lp.Parent == nil || other.blocks.Count() < lp.Parent.blocks.Count() {
					lp.Parent = other
				}
			}
		}
	}

	/* outer loops come first, so depths can be computed in one go */
	for _, lp := range fn.Loops {
		if lp.Parent != nil {
			lp.Parent.Children = append(lp.Parent.Children, lp)
			lp.Depth = lp.Parent.Depth + 1
		}
	}

	/* the innermost loop wins */
	for _, lp := range fn.Loops {
		for _, id := range lp.Blocks() {
			if bb := fn.Blocks[id]; bb.Loop == nil || bb.Loop.Depth < lp.Depth {
				bb.Loop = lp
			}
		}
	}
	return nil
}

func dominates(dt flow.DominatorTree, a int, b int) bool {
	if a == b {
		return true
	}
	for n := dt.DominatorOf(int64(b)); n != nil; n = dt.DominatorOf(n.ID()) {
		if n.ID() == int64(a) {
			return true
		}
	}
	return false
}

func naturalLoop(lp *Loop, tails []*BasicBlock) {
	st := lane.NewStack()
	lp.blocks.Set(uint(lp.Header.ID))

	/* start from every back edge source */
	for _, bb := range tails {
		if !lp.blocks.Test(uint(bb.ID)) {
			lp.blocks.Set(uint(bb.ID))
			st.Push(bb)
		}
	}

	/* walk the predecessors until the header is reached */
	for !st.Empty() {
		bb := st.Pop().(*BasicBlock)
		for _, p := range bb.Preds {
			if !lp.blocks.Test(uint(p.ID)) {
				lp.blocks.Set(uint(p.ID))
				st.Push(p)
			}
		}
	}
}

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
	"sort"

	"github.com/cloudwego/backpass/ir"
)

// finalShape is a chain of property-adding stores on one object with
// nothing observing the object in between.
type finalShape struct {
	Initial ir.ShapeID
	Final   ir.ShapeID
	Store   *ir.Instr
}

// guardedOps are downstream property operations that a single upstream
// check on Shape could cover.
type guardedOps struct {
	Shape ir.ShapeID
	Ops   []*ir.Instr
}

type shapeState struct {
	final       map[ir.SymID]finalShape
	guarded     map[ir.SymID]*guardedOps
	writeGuards map[ir.PropID]int
	knownLayout map[ir.ShapeID]bool
}

func newShapeState() *shapeState {
	return &shapeState{
		final:       make(map[ir.SymID]finalShape),
		guarded:     make(map[ir.SymID]*guardedOps),
		writeGuards: make(map[ir.PropID]int),
		knownLayout: make(map[ir.ShapeID]bool),
	}
}

func (self *shapeState) copyFrom(other *shapeState) {
	for k, v := range other.final {
		self.final[k] = v
	}
	for k, v := range other.guarded {
		self.guarded[k] = &guardedOps{Shape: v.Shape, Ops: append([]*ir.Instr(nil), v.Ops...)}
	}
	for k := range other.knownLayout {
		self.knownLayout[k] = true
	}
	self.recountWriteGuards()
}

func (self *shapeState) unionLayouts(other *shapeState) {
	for k := range other.knownLayout {
		self.knownLayout[k] = true
	}
}

func (self *shapeState) recountWriteGuards() {
	for k := range self.writeGuards {
		delete(self.writeGuards, k)
	}
	for _, g := range self.guarded {
		for _, op := range g.Ops {
			if p := op.Guard.WriteGuard; p != 0 {
				self.writeGuards[p]++
			}
		}
	}
}

func (self *shapeState) clear() {
	for k := range self.final {
		delete(self.final, k)
	}
	for k := range self.guarded {
		delete(self.guarded, k)
	}
	for k := range self.writeGuards {
		delete(self.writeGuards, k)
	}
}

func (self *shapeState) forget(obj ir.SymID) {
	delete(self.final, obj)
	if _, ok := self.guarded[obj]; ok {
		delete(self.guarded, obj)
		self.recountWriteGuards()
	}
}

// dropWriteGuarded drops pending operations relying on prop being unwritten.
func (self *shapeState) dropWriteGuarded(prop ir.PropID) {
	if self.writeGuards[prop] == 0 {
		return
	}
	for obj, g := range self.guarded {
		ops := g.Ops[:0]
		for _, op := range g.Ops {
			if op.Guard.WriteGuard != prop {
				ops = append(ops, op)
			}
		}
		if g.Ops = ops; len(ops) == 0 {
			delete(self.guarded, obj)
		}
	}
	self.recountWriteGuards()
}

func sameFinal(a finalShape, b finalShape) bool {
	return a.Initial == b.Initial && a.Final == b.Final && a.Store == b.Store
}

// mergeShapes intersects the shape facts of succs into st. The first
// successor is the base, later ones keep only what they agree on.
func (self *Context) mergeShapes(bb *ir.BasicBlock, st *BlockState, succs []*BlockState) {
	if len(succs) == 0 {
		return
	}
	for _, s := range succs {
		self.checkLive(s)
	}
	dst, base := st.Shapes, succs[0].Shapes

	/* final-shape chains must be identical on every path */
	for obj, e := range base.final {
		keep := true
		for _, s := range succs[1:] {
			if o, ok := s.Shapes.final[obj]; !ok || !sameFinal(e, o) {
				keep = false
				break
			}
		}
		if keep {
			dst.final[obj] = e
		}
	}

	/* objects in canonical order, so inserted checks are deterministic */
	objs := make([]ir.SymID, 0, len(base.guarded))
	for obj := range base.guarded {
		objs = append(objs, obj)
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i] < objs[j] })

	/* guarded operations must be pending on every path */
	for _, obj := range objs {
		g := base.guarded[obj]
		rs := &guardedOps{Shape: g.Shape, Ops: append([]*ir.Instr(nil), g.Ops...)}
		shapes := []ir.ShapeID{g.Shape}
		conflict, missing := false, false

		/* collect the other paths */
		for _, s := range succs[1:] {
			o, ok := s.Shapes.guarded[obj]
			if !ok {
				missing = true
				break
			}
			if o.Shape != rs.Shape {
				conflict = true
				shapes = appendShape(shapes, o.Shape)
			}
			rs.Ops = appendOps(rs.Ops, o.Ops)
		}

		/* keep it, or resolve the disagreement right here */
		switch {
		case missing:
			continue
		case !conflict:
			dst.guarded[obj] = rs
		default:
			self.insertShapeCheck(bb, st, self.fn.Syms.Lookup(obj), shapes, rs.Ops)
		}
	}
	dst.recountWriteGuards()
}

func appendShape(list []ir.ShapeID, s ir.ShapeID) []ir.ShapeID {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func appendOps(list []*ir.Instr, ops []*ir.Instr) []*ir.Instr {
	for _, op := range ops {
		found := false
		for _, v := range list {
			if v == op {
				found = true
				break
			}
		}
		if !found {
			list = append(list, op)
		}
	}
	return list
}

// insertShapeCheck resolves paths that disagree on the shape of obj by
// checking the whole set once at the end of bb.
func (self *Context) insertShapeCheck(bb *ir.BasicBlock, st *BlockState, obj *ir.Sym, shapes []ir.ShapeID, ops []*ir.Instr) {
	chk := self.newInstr(ir.OpCheckShape)
	chk.Src1 = ir.S(obj)
	chk.Guard = &ir.ShapeGuard{Shapes: shapes, CheckRequired: true}

	/* the polymorphic check covers every pending operation it legally can */
	for _, op := range ops {
		if self.oracle.IsPropertyCheckElisionLegal(op, obj) {
			chk.Guard.Guarded = append(chk.Guard.Guarded, op)
			self.elideCheck(op)
		}
	}

	/* the check reads obj at the end of bb */
	self.insertTail(bb, chk)
	st.Uses.Add(obj.ID)
	if obj.HasByteCodeReg() {
		self.addByteCode(st, obj)
	}
}

func (self *Context) elideCheck(op *ir.Instr) {
	self.res.ElidedChecks++
	self.commitf(func() { op.Guard.CheckRequired = false })
}

// trackShapes runs the shape tracker over one instruction of the
// finalization scan.
func (self *Context) trackShapes(st *shapeState, ins *ir.Instr, kind ir.BailoutKind) {
	if ins.MayCallImplicitly() {
		st.clear()
	} else if kind != 0 {
		for k := range st.final {
			delete(st.final, k)
		}
	}

	/* writes invalidate write-guarded operations on any object */
	if f := ins.DstField(); f != nil {
		st.dropWriteGuarded(f.Prop)
	}

	/* allocation sites end every chain */
	obj := ins.Object()
	if ins.Op == ir.OpNewObj {
		self.shapeAlloc(st, ins)
		return
	}

	/* any other use of an object observes its shape */
	ins.ForEachUse(func(op *ir.Opnd, sym *ir.Sym) {
		if sym != obj || ins.Guard == nil {
			st.forget(sym.ID)
		}
	})

	/* a redefinition starts from scratch */
	if d := ins.DstSym(); d != nil {
		st.forget(d.ID)
	}

	/* property operations */
	if obj != nil && ins.Guard != nil {
		if ins.Op == ir.OpStFld && ins.Guard.AddsProperty() {
			self.shapeTransition(st, ins, obj)
		} else {
			delete(st.final, obj.ID)
		}
		self.shapeGuard(st, ins, obj)
	}
}

func (self *Context) shapeTransition(st *shapeState, ins *ir.Instr, obj *ir.Sym) {
	g := ins.Guard
	e, ok := st.final[obj.ID]

	/* pending checks downstream expect the new shape */
	if _, ok := st.guarded[obj.ID]; ok {
		delete(st.guarded, obj.ID)
		st.recountWriteGuards()
	}

	/* the store transitions into the chain, so it can go straight to the final shape */
	if ok && e.Initial == g.NewShape {
		later, final := e.Store, e.Final
		self.commitf(func() {
			later.Guard.TransitionElided = true
			g.FinalShape = final
		})
		st.final[obj.ID] = finalShape{Initial: g.Shape, Final: e.Final, Store: ins}
		return
	}

	/* start a new chain */
	self.commitf(func() {
		g.FinalShape = g.NewShape
		g.TransitionElided = false
	})
	st.final[obj.ID] = finalShape{Initial: g.Shape, Final: g.NewShape, Store: ins}
}

func (self *Context) shapeGuard(st *shapeState, ins *ir.Instr, obj *ir.Sym) {
	g := ins.Guard
	if !g.CheckRequired {
		return
	}

	/* the same check downstream becomes redundant */
	if p := st.guarded[obj.ID]; p != nil && p.Shape == g.Shape && g.Shape != 0 {
		var covered []*ir.Instr
		for _, op := range p.Ops {
			if self.oracle.IsPropertyCheckElisionLegal(op, obj) {
				covered = append(covered, op)
				st.knownLayout[g.Shape] = true
				self.elideCheck(op)
			}
		}
		if len(covered) != 0 {
			self.commitf(func() { g.Guarded = append(g.Guarded, covered...) })
		}
	}

	/* this check is now the one waiting for an upstream cover */
	st.guarded[obj.ID] = &guardedOps{Shape: g.Shape, Ops: []*ir.Instr{ins}}
	st.recountWriteGuards()
}

func (self *Context) shapeAlloc(st *shapeState, ins *ir.Instr) {
	d := ins.DstSym()
	g := ins.Guard
	if d == nil || g == nil {
		if d != nil {
			st.forget(d.ID)
		}
		return
	}

	/* allocate directly with the final shape */
	shape := g.Shape
	if e, ok := st.final[d.ID]; ok && e.Initial == g.Shape {
		first, final := e.Store, e.Final
		shape = final
		self.commitf(func() {
			first.Guard.TransitionElided = true
			g.FinalShape = final
		})
	}

	/* some elided check relies on the layout being fixed */
	known := st.knownLayout[shape] || st.knownLayout[g.Shape]
	self.commitf(func() { ins.Stamp(ir.FlagKnownLayout, known) })
	delete(st.knownLayout, shape)
	delete(st.knownLayout, g.Shape)
	st.forget(d.ID)
}

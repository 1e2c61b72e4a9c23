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
	"fmt"
	"strings"
)

type OpndKind uint8

const (
	OpndSym OpndKind = iota
	OpndConst
	OpndProp
	OpndIndir
)

// NICKind selects which no-implicit-call subset an operand feeds.
type NICKind uint8

const (
	NICGeneric NICKind = iota
	NICNoMissingValues
	NICNativeArray
	NICHeadSegment
	NICLength
	NICKinds
)

type Opnd struct {
	Kind  OpndKind
	Sym   *Sym
	Index *Sym
	Value float64
	NIC   NICKind

	// IsDead is set when this is the last use of Sym on every path.
	IsDead bool
}

func S(sym *Sym) *Opnd { return &Opnd{Kind: OpndSym, Sym: sym} }
func C(v float64) *Opnd { return &Opnd{Kind: OpndConst, Value: v} }
func P(prop *Sym) *Opnd { return &Opnd{Kind: OpndProp, Sym: prop} }
func M(base *Sym, index *Sym) *Opnd { return &Opnd{Kind: OpndIndir, Sym: base, Index: index} }
func N(sym *Sym, kind NICKind) *Opnd { return &Opnd{Kind: OpndSym, Sym: sym, NIC: kind} }

// Object returns the object symbol behind a property or indirect operand.
func (self *Opnd) Object() *Sym {
	switch self.Kind {
	case OpndProp:
		return self.Sym.Obj
	case OpndIndir:
		return self.Sym
	default:
		return nil
	}
}

func (self *Opnd) IsConst() bool {
	return self != nil && self.Kind == OpndConst
}

func (self *Opnd) String() string {
	switch self.Kind {
	case OpndConst:
		return fmt.Sprintf("%g", self.Value)
	case OpndIndir:
		return fmt.Sprintf("%s[%s]", self.Sym, self.Index)
	default:
		if self.IsDead {
			return self.Sym.String() + "!"
		} else {
			return self.Sym.String()
		}
	}
}

type InstrFlags uint16

const (
	FlagIgnoreNegZero InstrFlags = 1 << iota
	FlagIgnoreIntOverflow
	FlagLossyIntOK
	FlagOverflowInRange
	FlagDstIsTempNumber
	FlagDstIsTempObject
	FlagKnownLayout
	FlagPreservesArrayFacts
)

// ShapeGuard carries the object-layout check information of a property
// operation, as decided by the forward optimizer and refined backwards.
type ShapeGuard struct {
	Shape      ShapeID
	NewShape   ShapeID
	WriteGuard PropID

	CheckRequired bool
	ElisionLegal  bool

	/* refined by the dead-store phase */
	FinalShape       ShapeID
	Shapes           []ShapeID
	TransitionElided bool
	Guarded          []*Instr
}

// AddsProperty reports a store that transitions the object to a new shape.
func (self *ShapeGuard) AddsProperty() bool {
	return self != nil && self.NewShape != 0 && self.NewShape != self.Shape
}

type Instr struct {
	ID    int
	Op    Opcode
	Dst   *Opnd
	Src1  *Opnd
	Src2  *Opnd
	Srcs  []*Opnd
	Argc  int
	Block *BasicBlock

	Bailout       *BailoutInfo
	Guard         *ShapeGuard
	Flags         InstrFlags
	OverflowRange int
}

func (self *Instr) Has(f InstrFlags) bool {
	return self.Flags&f != 0
}

// Stamp sets or clears f.
func (self *Instr) Stamp(f InstrFlags, on bool) {
	if on {
		self.Flags |= f
	} else {
		self.Flags &^= f
	}
}

// DstSym returns the stack symbol defined by this instruction, if any.
func (self *Instr) DstSym() *Sym {
	if self.Dst != nil && self.Dst.Kind == OpndSym {
		return self.Dst.Sym
	} else {
		return nil
	}
}

// DstField returns the property symbol stored to, if any.
func (self *Instr) DstField() *Sym {
	if self.Dst != nil && self.Dst.Kind == OpndProp {
		return self.Dst.Sym
	} else {
		return nil
	}
}

// Sources returns every source operand in order.
func (self *Instr) Sources() []*Opnd {
	rs := make([]*Opnd, 0, 2+len(self.Srcs))
	if self.Src1 != nil {
		rs = append(rs, self.Src1)
	}
	if self.Src2 != nil {
		rs = append(rs, self.Src2)
	}
	return append(rs, self.Srcs...)
}

// ForEachUse calls fn for every stack symbol read by this instruction,
// including the base and index of memory operands.
func (self *Instr) ForEachUse(fn func(op *Opnd, sym *Sym)) {
	for _, op := range self.Sources() {
		useOpnd(op, fn)
	}

	/* the object of a store is read, not written */
	if self.Dst != nil && self.Dst.Kind != OpndSym {
		useOpnd(self.Dst, fn)
	}
}

func useOpnd(op *Opnd, fn func(op *Opnd, sym *Sym)) {
	switch op.Kind {
	case OpndSym:
		fn(op, op.Sym)
	case OpndProp:
		fn(op, op.Sym.Obj)
	case OpndIndir:
		fn(op, op.Sym)
		if op.Index != nil {
			fn(op, op.Index)
		}
	}
}

// FieldUse returns the property symbol loaded by this instruction, if any.
func (self *Instr) FieldUse() *Sym {
	if self.Src1 != nil && self.Src1.Kind == OpndProp {
		return self.Src1.Sym
	} else {
		return nil
	}
}

// Object returns the object a property or element operation acts on.
func (self *Instr) Object() *Sym {
	switch {
	case self.Dst != nil && self.Dst.Kind != OpndSym && self.Dst.Kind != OpndConst:
		return self.Dst.Object()
	case self.Src1 != nil && (self.Src1.Kind == OpndProp || self.Src1.Kind == OpndIndir):
		return self.Src1.Object()
	case self.Op == OpCheckShape && self.Src1 != nil:
		return self.Src1.Sym
	default:
		return nil
	}
}

// MayCallImplicitly reports whether the instruction can run arbitrary user code.
func (self *Instr) MayCallImplicitly() bool {
	switch self.Op {
	case OpCall:
		return true
	case OpLdFld, OpStFld:
		return self.Guard == nil
	case OpLdElem, OpStElem, OpLdLen, OpConvNum:
		return !self.allTypeSpec()
	}
	if self.Op.IsArithmetic() {
		return !self.allTypeSpec()
	}
	return false
}

func (self *Instr) allTypeSpec() bool {
	ok := true
	self.ForEachUse(func(_ *Opnd, sym *Sym) {
		if !sym.IsTypeSpec() {
			ok = false
		}
	})
	return ok
}

// IsRemovable reports whether the instruction can be deleted once its
// destination is dead.
func (self *Instr) IsRemovable() bool {
	if self.DstSym() == nil {
		return false
	}
	switch self.Op {
	case OpLdConst, OpMov:
		return true
	case OpLdElem, OpLdLen, OpLdFld, OpCall, OpNewObj:
		return false
	default:
		return self.Op.IsArithmetic() && self.allTypeSpec()
	}
}

func (self *Instr) String() string {
	var buf []string
	for _, op := range self.Sources() {
		buf = append(buf, op.String())
	}

	/* format the instruction */
	ret := fmt.Sprintf("%s %s", self.Op, strings.Join(buf, ", "))
	if self.Dst != nil {
		ret = fmt.Sprintf("%s = %s", self.Dst, ret)
	}

	/* bailout marker */
	if self.Bailout != nil {
		ret += fmt.Sprintf(" [bailout %s]", self.Bailout.Kind)
	}
	return strings.TrimSpace(ret)
}

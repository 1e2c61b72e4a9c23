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
)

type (
	SymID   uint32
	PropID  uint32
	ShapeID uint32
)

type SymKind uint8

const (
	SymStack SymKind = iota
	SymProperty
)

// ValueType is the representation a symbol holds its value in.
type ValueType uint8

const (
	TyVar ValueType = iota
	TyInt32
	TyFloat64
)

func (self ValueType) String() string {
	switch self {
	case TyVar:
		return "var"
	case TyInt32:
		return "i32"
	case TyFloat64:
		return "f64"
	default:
		return fmt.Sprintf("ValueType(%d)", uint8(self))
	}
}

// Repr is a bit mask of value representations.
type Repr uint8

const (
	ReprVar Repr = 1 << iota
	ReprInt32
	ReprFloat64
)

func ReprOf(t ValueType) Repr {
	switch t {
	case TyInt32:
		return ReprInt32
	case TyFloat64:
		return ReprFloat64
	default:
		return ReprVar
	}
}

// Sym is a value slot. Type-specialized views of a variable share the
// canonical variable's byte-code register through Var.
type Sym struct {
	ID   SymID
	Kind SymKind
	Name string
	Type ValueType
	Reg  int

	/* type-specialized views */
	Var     *Sym
	Int32   *Sym
	Float64 *Sym

	/* property symbols */
	Obj  *Sym
	Prop PropID
}

func (self *Sym) Canonical() *Sym {
	if self.Var != nil {
		return self.Var
	} else {
		return self
	}
}

func (self *Sym) IsTypeSpec() bool {
	return self.Var != nil
}

func (self *Sym) IsProperty() bool {
	return self.Kind == SymProperty
}

// HasByteCodeReg reports whether the interpreter keeps this value in a register.
func (self *Sym) HasByteCodeReg() bool {
	return self.Kind == SymStack && self.Canonical().Reg >= 0
}

func (self *Sym) View(t ValueType) *Sym {
	c := self.Canonical()
	switch t {
	case TyInt32:
		return c.Int32
	case TyFloat64:
		return c.Float64
	default:
		return c
	}
}

func (self *Sym) String() string {
	switch {
	case self == nil:
		return "<nil>"
	case self.Kind == SymProperty:
		return fmt.Sprintf("%s.#%d", self.Obj, self.Prop)
	case self.Type != TyVar:
		return fmt.Sprintf("%s.%s", self.Canonical().Name, self.Type)
	default:
		return self.Name
	}
}

type _PropKey struct {
	obj  SymID
	prop PropID
}

// SymTable hands out stable symbol identities for one function.
type SymTable struct {
	syms  []*Sym
	props map[_PropKey]*Sym
}

func NewSymTable() *SymTable {
	return &SymTable{
		syms:  []*Sym{nil},
		props: make(map[_PropKey]*Sym),
	}
}

func (self *SymTable) add(s *Sym) *Sym {
	s.ID = SymID(len(self.syms))
	self.syms = append(self.syms, s)
	return s
}

// NewVar creates a variable backed by byte-code register reg.
func (self *SymTable) NewVar(name string, reg int) *Sym {
	return self.add(&Sym{Name: name, Reg: reg})
}

// NewTemp creates a compiler temporary with no byte-code register.
func (self *SymTable) NewTemp(name string) *Sym {
	return self.add(&Sym{Name: name, Reg: -1})
}

// TypeSpecView returns the t-typed view of v, creating it on first use.
func (self *SymTable) TypeSpecView(v *Sym, t ValueType) *Sym {
	v = v.Canonical()
	if t == TyVar {
		return v
	}

	/* check for existing views */
	if s := v.View(t); s != nil {
		return s
	}

	/* create a new view */
	s := self.add(&Sym{Name: v.Name, Type: t, Reg: -1, Var: v})
	if t == TyInt32 {
		v.Int32 = s
	} else {
		v.Float64 = s
	}
	return s
}

func (self *SymTable) Property(obj *Sym, prop PropID) *Sym {
	key := _PropKey{obj.ID, prop}
	if s, ok := self.props[key]; ok {
		return s
	}
	s := self.add(&Sym{Kind: SymProperty, Obj: obj, Prop: prop, Reg: -1})
	self.props[key] = s
	return s
}

func (self *SymTable) Lookup(id SymID) *Sym {
	if int(id) >= len(self.syms) {
		return nil
	} else {
		return self.syms[id]
	}
}

// Len returns one past the largest symbol ID.
func (self *SymTable) Len() int {
	return len(self.syms)
}

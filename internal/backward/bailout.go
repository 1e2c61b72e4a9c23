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

type copySource uint8

const (
	useCopy copySource = iota
	useOriginal
)

// chooseCopySource picks what restores a copy-propagated variable.
func chooseCopySource(preOp bool, aliasesDst bool, copyLive bool, origLive bool) copySource {
	switch {
	case preOp && aliasesDst:
		return useOriginal
	case copyLive:
		return useCopy
	case origLive:
		return useOriginal
	default:
		return useCopy
	}
}

// pickRepr chooses the cheapest representation to restore from.
func pickRepr(avail ir.Repr) ir.Repr {
	switch {
	case avail&ir.ReprInt32 != 0:
		return ir.ReprInt32
	case avail&ir.ReprFloat64 != 0:
		return ir.ReprFloat64
	case avail&ir.ReprVar != 0:
		return ir.ReprVar
	default:
		return 0
	}
}

func reprView(sym *ir.Sym, r ir.Repr) *ir.Sym {
	switch r {
	case ir.ReprInt32:
		return sym.View(ir.TyInt32)
	case ir.ReprFloat64:
		return sym.View(ir.TyFloat64)
	default:
		return sym.Canonical()
	}
}

func availableReprs(sym *ir.Sym) ir.Repr {
	c, rs := sym.Canonical(), ir.ReprVar
	if c.Int32 != nil {
		rs |= ir.ReprInt32
	}
	if c.Float64 != nil {
		rs |= ir.ReprFloat64
	}
	return rs
}

// finalizeBailout builds the restore recipe of every byte-code register
// that is upward exposed at ins. The sources it picks become live.
func (self *Context) finalizeBailout(ins *ir.Instr, kind ir.BailoutKind, st *BlockState) {
	var rs []ir.Restore
	bi := ins.Bailout

	/* every register the interpreter may read after resuming */
	st.ByteCode.Each(func(id ir.SymID) bool {
		sym := self.fn.Syms.Lookup(id)
		if sym == nil || !sym.HasByteCodeReg() {
			self.invariant("s%d is not a byte-code register", id)
		}
		if st.Restore != nil && st.Restore[id] != sym {
			self.invariant("%v is upward exposed but has no restore entry", sym)
		}
		rs = append(rs, self.restoreOf(ins, bi, sym, st.Uses))
		return true
	})

	/* keep the sources alive up to the bailout */
	for _, r := range rs {
		if r.Source != nil {
			st.Uses.Add(r.Source.ID)
		}
	}

	/* publish the record */
	if self.mutating() {
		up := self.persistent.Clone(st.ByteCode)
		argc := append([]int(nil), self.calls...)
		self.res.Bailouts++
		self.commitf(func() {
			bi.Kind = kind
			bi.ByteCodeUpwardExposed = up
			bi.Restore = rs
			bi.StartCallArgc = argc
			bi.Finalized = true
		})
	}
}

func (self *Context) restoreOf(ins *ir.Instr, bi *ir.BailoutInfo, sym *ir.Sym, live *ir.SymSet) ir.Restore {
	for _, c := range bi.Constants {
		if c.Sym.Canonical() == sym {
			return ir.Restore{Sym: sym, Kind: ir.RestoreFromConst, Value: c.Value}
		}
	}
	for _, a := range bi.ArgumentsObjects {
		if a.Canonical() == sym {
			return ir.Restore{Sym: sym, Kind: ir.RestoreArguments}
		}
	}

	/* copy-propagated values */
	for _, cp := range bi.CopyProps {
		if cp.Sym.Canonical() != sym {
			continue
		}
		d := ins.DstSym()
		aliases := d != nil && d.Canonical() == cp.Copy.Canonical()
		if chooseCopySource(bi.PreOp, aliases, live.Has(cp.Copy.ID), live.Has(sym.ID)) == useCopy {
			return ir.Restore{Sym: sym, Kind: ir.RestoreFromCopy, Source: cp.Copy, Repr: ir.ReprOf(cp.Copy.Type)}
		}
		break
	}

	/* pick among the views that hold the value */
	r := pickRepr(self.oracle.LiveReprs(ins, sym) & availableReprs(sym))
	if r == 0 {
		self.invariant("no live representation of %v at %v", sym, ins)
	}
	return ir.Restore{Sym: sym, Kind: ir.RestoreFromSym, Source: reprView(sym, r), Repr: r}
}

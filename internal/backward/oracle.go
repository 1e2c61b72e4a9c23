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

// Oracle answers questions about decisions the forward optimizer made.
// Every method must be a pure query.
type Oracle interface {
	IsPropertyCheckElisionLegal(ins *ir.Instr, obj *ir.Sym) bool
	TransfersSrcValue(ins *ir.Instr) bool
	IsFieldHoistCandidate(loop *ir.Loop) bool
	UpperBoundCheck(ins *ir.Instr) *ir.Instr
	LiveReprs(ins *ir.Instr, sym *ir.Sym) ir.Repr
}

// StaticOracle answers from the annotations already present on the IR.
type StaticOracle struct {
	HoistLoops map[int]bool
}

func (StaticOracle) IsPropertyCheckElisionLegal(ins *ir.Instr, _ *ir.Sym) bool {
	return ins.Guard != nil && ins.Guard.ElisionLegal
}

func (StaticOracle) TransfersSrcValue(ins *ir.Instr) bool {
	return ins.Op == ir.OpMov
}

func (self StaticOracle) IsFieldHoistCandidate(loop *ir.Loop) bool {
	return self.HoistLoops[loop.ID]
}

func (StaticOracle) UpperBoundCheck(*ir.Instr) *ir.Instr {
	return nil
}

// LiveReprs reports the representations recorded on the bailout, falling
// back to the boxed value.
func (StaticOracle) LiveReprs(ins *ir.Instr, sym *ir.Sym) ir.Repr {
	if ins.Bailout != nil && ins.Bailout.Reprs != nil {
		if r, ok := ins.Bailout.Reprs[sym.ID]; ok {
			return r
		}
	}
	return ir.ReprVar
}

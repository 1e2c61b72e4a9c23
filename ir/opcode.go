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

type Opcode uint8

const (
	OpNop Opcode = iota
	OpLdConst
	OpMov
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpNeg
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpShrU
	OpNot
	OpConvInt
	OpConvNum
	OpCmpEq
	OpCmpNe
	OpCmpLt
	OpCmpLe
	OpLdFld
	OpStFld
	OpNewObj
	OpCheckShape
	OpLdElem
	OpStElem
	OpLdLen
	OpStartCall
	OpArgOut
	OpCall
	OpBailOut
	OpBytecodeUses
	OpNoImplicitCallUses
	OpNoIntOverflowBoundary
	OpBr
	OpJmp
	OpRet
	_OpMax
)

var _OpNames = [_OpMax]string{
	OpNop:                   "nop",
	OpLdConst:               "ldc",
	OpMov:                   "mov",
	OpAdd:                   "add",
	OpSub:                   "sub",
	OpMul:                   "mul",
	OpDiv:                   "div",
	OpNeg:                   "neg",
	OpAnd:                   "and",
	OpOr:                    "or",
	OpXor:                   "xor",
	OpShl:                   "shl",
	OpShr:                   "shr",
	OpShrU:                  "shru",
	OpNot:                   "not",
	OpConvInt:               "conv.i32",
	OpConvNum:               "conv.num",
	OpCmpEq:                 "cmpeq",
	OpCmpNe:                 "cmpne",
	OpCmpLt:                 "cmplt",
	OpCmpLe:                 "cmple",
	OpLdFld:                 "ldfld",
	OpStFld:                 "stfld",
	OpNewObj:                "newobj",
	OpCheckShape:            "checkshape",
	OpLdElem:                "ldelem",
	OpStElem:                "stelem",
	OpLdLen:                 "ldlen",
	OpStartCall:             "startcall",
	OpArgOut:                "argout",
	OpCall:                  "call",
	OpBailOut:               "bailout",
	OpBytecodeUses:          "bytecodeuses",
	OpNoImplicitCallUses:    "noimplicitcalluses",
	OpNoIntOverflowBoundary: "nointoverflowboundary",
	OpBr:                    "br",
	OpJmp:                   "jmp",
	OpRet:                   "ret",
}

func (self Opcode) String() string {
	if self < _OpMax && _OpNames[self] != "" {
		return _OpNames[self]
	} else {
		return fmt.Sprintf("Opcode(%d)", uint8(self))
	}
}

// OpFamily groups opcodes by their numeric semantics.
type OpFamily uint8

const (
	FamilyOther OpFamily = iota
	FamilyAdditive
	FamilyMultiplicative
	FamilyDivision
	FamilyBitwise
	FamilyCompare
	FamilyTruncate
	FamilyTransfer
)

func (self Opcode) Family() OpFamily {
	switch self {
	case OpAdd, OpSub, OpNeg:
		return FamilyAdditive
	case OpMul:
		return FamilyMultiplicative
	case OpDiv:
		return FamilyDivision
	case OpAnd, OpOr, OpXor, OpShl, OpShr, OpShrU, OpNot:
		return FamilyBitwise
	case OpCmpEq, OpCmpNe, OpCmpLt, OpCmpLe:
		return FamilyCompare
	case OpConvInt:
		return FamilyTruncate
	case OpMov:
		return FamilyTransfer
	default:
		return FamilyOther
	}
}

// IsPseudo reports opcodes that only carry analysis metadata.
func (self Opcode) IsPseudo() bool {
	switch self {
	case OpBytecodeUses, OpNoImplicitCallUses, OpNoIntOverflowBoundary:
		return true
	default:
		return false
	}
}

// IsArithmetic reports opcodes that compute a number from number operands.
func (self Opcode) IsArithmetic() bool {
	switch self.Family() {
	case FamilyAdditive, FamilyMultiplicative, FamilyDivision, FamilyBitwise, FamilyCompare, FamilyTruncate:
		return true
	default:
		return self == OpConvNum
	}
}

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
	"strings"
)

type BailoutKind uint16

const (
	BailOutOnImplicitCalls BailoutKind = 1 << iota
	BailOutOnOverflow
	BailOutOnNegZero
	BailOutOnShape
	BailOutOnException
	BailOutOnArrayBounds
)

var _BailoutNames = [...]string{
	"implicit-calls",
	"overflow",
	"neg-zero",
	"shape",
	"exception",
	"array-bounds",
}

func (self BailoutKind) String() string {
	var rs []string
	for i, name := range _BailoutNames {
		if self&(1<<i) != 0 {
			rs = append(rs, name)
		}
	}
	if len(rs) == 0 {
		return "none"
	} else {
		return strings.Join(rs, "|")
	}
}

type CapturedConst struct {
	Sym   *Sym
	Value float64
}

// CopyProp records that Sym was replaced by Copy during copy propagation.
type CopyProp struct {
	Sym  *Sym
	Copy *Sym
}

type RestoreKind uint8

const (
	RestoreFromSym RestoreKind = iota
	RestoreFromConst
	RestoreFromCopy
	RestoreArguments
)

func (self RestoreKind) String() string {
	switch self {
	case RestoreFromSym:
		return "sym"
	case RestoreFromConst:
		return "const"
	case RestoreFromCopy:
		return "copy"
	case RestoreArguments:
		return "arguments"
	default:
		return "???"
	}
}

// Restore tells the runtime how to rebuild one byte-code register.
type Restore struct {
	Sym    *Sym
	Kind   RestoreKind
	Source *Sym
	Repr   Repr
	Value  float64
}

type BailoutInfo struct {
	Kind  BailoutKind
	PreOp bool

	/* captured by the forward optimizer */
	Constants        []CapturedConst
	CopyProps        []CopyProp
	ArgumentsObjects []*Sym
	Reprs            map[SymID]Repr

	/* filled in by finalization */
	ByteCodeUpwardExposed *SymSet
	Restore               []Restore
	StartCallArgc         []int
	Finalized             bool
}

// RestoreOf returns the recipe for byte-code symbol sym, if any.
func (self *BailoutInfo) RestoreOf(sym *Sym) (Restore, bool) {
	for _, r := range self.Restore {
		if r.Sym == sym {
			return r, true
		}
	}
	return Restore{}, false
}

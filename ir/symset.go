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

	"github.com/bits-and-blooms/bitset"
)

// SymSet is a set of symbol IDs. The zero value is an empty set.
type SymSet struct {
	bits bitset.BitSet
}

func NewSymSet(ids ...SymID) *SymSet {
	rs := new(SymSet)
	for _, id := range ids {
		rs.Add(id)
	}
	return rs
}

func (self *SymSet) Add(id SymID) bool {
	if self.bits.Test(uint(id)) {
		return false
	} else {
		self.bits.Set(uint(id))
		return true
	}
}

func (self *SymSet) Remove(id SymID) bool {
	if !self.bits.Test(uint(id)) {
		return false
	} else {
		self.bits.Clear(uint(id))
		return true
	}
}

func (self *SymSet) Has(id SymID) bool {
	return self != nil && self.bits.Test(uint(id))
}

func (self *SymSet) Union(other *SymSet) {
	if other != nil {
		self.bits.InPlaceUnion(&other.bits)
	}
}

func (self *SymSet) Intersect(other *SymSet) {
	if other == nil {
		self.bits.ClearAll()
	} else {
		self.bits.InPlaceIntersection(&other.bits)
	}
}

func (self *SymSet) Difference(other *SymSet) {
	if other != nil {
		self.bits.InPlaceDifference(&other.bits)
	}
}

func (self *SymSet) Reset() {
	self.bits.ClearAll()
}

func (self *SymSet) Clone() *SymSet {
	rs := new(SymSet)
	if self != nil {
		self.bits.CopyFull(&rs.bits)
	}
	return rs
}

// Equal compares set membership only; capacity is ignored.
func (self *SymSet) Equal(other *SymSet) bool {
	switch {
	case self == nil:
		return other.Len() == 0
	case other == nil:
		return self.Len() == 0
	default:
		return self.bits.SymmetricDifferenceCardinality(&other.bits) == 0
	}
}

// IsSubsetOf reports whether every member of self is also in other.
func (self *SymSet) IsSubsetOf(other *SymSet) bool {
	if self.Len() == 0 {
		return true
	} else if other == nil {
		return false
	} else {
		return self.bits.DifferenceCardinality(&other.bits) == 0
	}
}

func (self *SymSet) Len() int {
	if self == nil {
		return 0
	} else {
		return int(self.bits.Count())
	}
}

// Words returns the storage size in 64-bit words.
func (self *SymSet) Words() int {
	if self == nil {
		return 0
	} else {
		return int(self.bits.Len()+63) / 64
	}
}

// Each calls fn for every member in ascending order until fn returns false.
func (self *SymSet) Each(fn func(id SymID) bool) {
	if self == nil {
		return
	}
	for i, ok := self.bits.NextSet(0); ok; i, ok = self.bits.NextSet(i + 1) {
		if !fn(SymID(i)) {
			return
		}
	}
}

func (self *SymSet) Slice() []SymID {
	rs := make([]SymID, 0, self.Len())
	self.Each(func(id SymID) bool {
		rs = append(rs, id)
		return true
	})
	return rs
}

func (self *SymSet) String() string {
	nb := self.Len()
	rs := make([]string, 0, nb)

	/* convert every symbol */
	for _, id := range self.Slice() {
		rs = append(rs, fmt.Sprintf("s%d", id))
	}

	/* join them together */
	return fmt.Sprintf(
		"{%s}",
		strings.Join(rs, ", "),
	)
}

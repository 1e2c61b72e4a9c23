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

package arena

import (
	"fmt"

	"github.com/nikandfor/errors"
)

// ErrExhausted is the panic value raised when a Budget runs out.
var ErrExhausted = errors.New("arena: scratch budget exhausted")

// UseAfterRelease is the panic value raised when a stale handle is used.
type UseAfterRelease struct {
	Index int
	Gen   uint32
}

func (self *UseAfterRelease) Error() string {
	return fmt.Sprintf("arena: handle %d@%d used after release", self.Index, self.Gen)
}

// Budget bounds the number of bytes a run may allocate. Like any bump
// allocator it never gives memory back before the run ends.
type Budget struct {
	used  int
	limit int
}

func NewBudget(limit int) *Budget {
	return &Budget{limit: limit}
}

// Charge accounts n bytes, panicking with ErrExhausted on overflow.
func (self *Budget) Charge(n int) {
	if self.used += n; self.limit > 0 && self.used > self.limit {
		panic(ErrExhausted)
	}
}

func (self *Budget) Used() int {
	return self.used
}

type Handle struct {
	idx uint32
	gen uint32
}

var Nil Handle

func (self Handle) IsNil() bool {
	return self.gen == 0
}

func (self Handle) String() string {
	if self.IsNil() {
		return "nil"
	} else {
		return fmt.Sprintf("#%d@%d", self.idx, self.gen)
	}
}

type slot[T any] struct {
	val  T
	gen  uint32
	live bool
}

// Arena hands out generation-checked handles to T. Releasing a handle
// bumps the slot generation so any later access through it faults.
type Arena[T any] struct {
	slots  []slot[T]
	free   []uint32
	budget *Budget
	size   int
	live   int
}

// New creates an arena charging size bytes per allocation against budget.
func New[T any](budget *Budget, size int) *Arena[T] {
	return &Arena[T]{budget: budget, size: size}
}

func (self *Arena[T]) Alloc(v T) Handle {
	var idx uint32

	/* reuse a released slot if possible */
	if n := len(self.free); n != 0 {
		idx = self.free[n-1]
		self.free = self.free[:n-1]
	} else {
		self.budget.Charge(self.size)
		idx = uint32(len(self.slots))
		self.slots = append(self.slots, slot[T]{})
	}

	/* generations start at 1 so the zero handle is never valid */
	p := &self.slots[idx]
	p.gen++
	p.val = v
	p.live = true
	self.live++
	return Handle{idx: idx, gen: p.gen}
}

func (self *Arena[T]) check(h Handle) *slot[T] {
	if int(h.idx) >= len(self.slots) {
		panic(&UseAfterRelease{Index: int(h.idx), Gen: h.gen})
	}
	p := &self.slots[h.idx]
	if !p.live || p.gen != h.gen {
		panic(&UseAfterRelease{Index: int(h.idx), Gen: h.gen})
	}
	return p
}

func (self *Arena[T]) Get(h Handle) T {
	return self.check(h).val
}

// Valid reports whether h still refers to a live value.
func (self *Arena[T]) Valid(h Handle) bool {
	if h.IsNil() || int(h.idx) >= len(self.slots) {
		return false
	}
	p := &self.slots[h.idx]
	return p.live && p.gen == h.gen
}

func (self *Arena[T]) Release(h Handle) T {
	var zero T
	p := self.check(h)
	v := p.val

	/* poison the slot */
	p.val = zero
	p.live = false
	p.gen++
	self.live--
	self.free = append(self.free, h.idx)
	return v
}

// Live returns the number of values not yet released.
func (self *Arena[T]) Live() int {
	return self.live
}

// Drain releases every live value, calling fn on each one.
func (self *Arena[T]) Drain(fn func(v T)) {
	for i := range self.slots {
		if p := &self.slots[i]; p.live {
			v := self.Release(Handle{idx: uint32(i), gen: p.gen})
			if fn != nil {
				fn(v)
			}
		}
	}
}

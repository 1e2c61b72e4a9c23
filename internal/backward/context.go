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
	"context"
	"sync/atomic"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"

	"github.com/cloudwego/backpass/internal/arena"
	"github.com/cloudwego/backpass/internal/opts"
	"github.com/cloudwego/backpass/ir"
)

var (
	RunCount     uint64 = 0
	AbortCount   uint64 = 0
	FailCount    uint64 = 0
	DeletedCount uint64 = 0
	BailoutCount uint64 = 0
	ElidedCount  uint64 = 0
)

type Phase uint8

const (
	PhaseLiveness Phase = iota
	PhaseDeadStore
)

func (self Phase) String() string {
	switch self {
	case PhaseLiveness:
		return "liveness"
	case PhaseDeadStore:
		return "dead-store"
	default:
		return "unknown"
	}
}

// Result summarizes one run. It is only produced by runs that completed.
type Result struct {
	Phase        Phase
	Blocks       int
	Deleted      int
	Inserted     int
	Bailouts     int
	ElidedChecks int
	Released     int

	// Consumed counts how many times each block's state was read by a
	// predecessor before it was released.
	Consumed map[int]int

	ScratchBytes    int
	PersistentBytes int
}

type walkMode uint8

const (
	modeReal walkMode = iota
	modePrepass
	modeCollect
)

type loopState struct {
	prepassed bool
	collected bool
}

type memOpCapture struct {
	liveOnExit *ir.SymSet
	restore    []ir.Induction
}

// Context carries everything one run needs. Nothing in the package keeps
// run state outside of it.
type Context struct {
	ctx      context.Context
	tr       tlog.Span
	fn       *ir.Func
	opts     opts.Options
	oracle   Oracle
	strategy Strategy

	budget     *arena.Budget
	scratch    *arena.Scratch
	persistent *arena.Persistent
	states     *arena.Arena[*BlockState]
	slots      []stateSlot

	mode      walkMode
	walking   *ir.Loop
	loops     []loopState
	overlay   map[int]*BlockState
	seeds     map[int]*BlockState
	collected map[int]*ir.SymSet

	bb     *ir.BasicBlock
	ts     typeSpecTracker
	calls  []int
	nextID int
	ranges int

	writeThrough map[*ir.Region]*ir.SymSet
	memops       map[*ir.Loop]*memOpCapture
	edits        map[*ir.BasicBlock]*blockEdits
	journal      []func()
	res          Result
}

// Run performs one backward walk over fn. On any error nothing is
// published to fn.
func Run(ctx context.Context, fn *ir.Func, phase Phase, oracle Oracle, o opts.Options) (res *Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "backpass: run", "func", fn.Name, "phase", phase)
	defer tr.Finish("err", &err)

	/* create the run context */
	c := newContext(ctx, tr, fn, phase, oracle, o)
	defer c.release()

	/* convert the internal panics */
	defer func() {
		if v := recover(); v != nil {
			res, err = nil, c.recover(v)
		}
	}()

	/* walk the function */
	atomic.AddUint64(&RunCount, 1)
	if err = c.walk(); err != nil {
		if errors.Is(err, ErrAborted) {
			atomic.AddUint64(&AbortCount, 1)
		}
		return nil, errors.Wrap(err, "func %v", fn.Name)
	}

	/* publish everything */
	c.checkReleased()
	c.commit()
	return &c.res, nil
}

func newStrategy(phase Phase) Strategy {
	switch phase {
	case PhaseLiveness:
		return livenessPhase{}
	case PhaseDeadStore:
		return deadStorePhase{}
	default:
		panic("backward: invalid phase")
	}
}

func newContext(ctx context.Context, tr tlog.Span, fn *ir.Func, phase Phase, oracle Oracle, o opts.Options) *Context {
	if oracle == nil {
		oracle = StaticOracle{}
	}

	/* scratch memory is bounded per run */
	budget := arena.NewBudget(o.ScratchBudget)
	c := &Context{
		ctx:          ctx,
		tr:           tr,
		fn:           fn,
		opts:         o,
		oracle:       oracle,
		strategy:     newStrategy(phase),
		budget:       budget,
		scratch:      arena.NewScratch(budget),
		persistent:   new(arena.Persistent),
		states:       arena.New[*BlockState](budget, _StateSize),
		slots:        make([]stateSlot, len(fn.Blocks)),
		loops:        make([]loopState, len(fn.Loops)),
		overlay:      make(map[int]*BlockState),
		seeds:        make(map[int]*BlockState),
		collected:    make(map[int]*ir.SymSet),
		writeThrough: make(map[*ir.Region]*ir.SymSet),
		memops:       make(map[*ir.Loop]*memOpCapture),
		edits:        make(map[*ir.BasicBlock]*blockEdits),
		res:          Result{Phase: phase, Consumed: make(map[int]int)},
	}

	/* new instructions are numbered after the existing ones */
	fn.ForEachInstr(func(ins *ir.Instr) {
		if ins.ID > c.nextID {
			c.nextID = ins.ID
		}
	})

	/* every edge that will be merged holds a reference */
	for _, bb := range fn.Blocks {
		for _, succ := range bb.Succs {
			c.slots[succ.ID].count.remaining++
		}
		if c.strategy.TracksByteCode() {
			for _, succ := range bb.DeadSuccs {
				if isForward(bb, succ) {
					c.slots[succ.ID].count.remaining++
				}
			}
		}
	}
	return c
}

const _StateSize = 256

// isForward reports dead edges whose target is processed before the source.
// Dead back edges carry no byte-code facts, their target has no state yet.
func isForward(bb *ir.BasicBlock, succ *ir.BasicBlock) bool {
	return succ.ID > bb.ID
}

func (self *Context) mutating() bool {
	return self.mode == modeReal
}

// commitf defers fn until the run completes successfully.
func (self *Context) commitf(fn func()) {
	self.journal = append(self.journal, fn)
}

func (self *Context) newInstr(op ir.Opcode) *ir.Instr {
	self.nextID++
	return &ir.Instr{ID: self.nextID, Op: op}
}

func (self *Context) checkAbort() error {
	if err := self.ctx.Err(); err != nil {
		return &abortError{cause: err}
	} else {
		return nil
	}
}

type abortError struct {
	cause error
}

func (self *abortError) Error() string {
	return ErrAborted.Error() + ": " + self.cause.Error()
}

func (self *abortError) Is(target error) bool {
	return target == ErrAborted
}

func (self *abortError) Unwrap() error {
	return self.cause
}

func (self *Context) recover(v interface{}) error {
	switch e := v.(type) {
	case *InvariantError:
		return self.fail(e)
	case *arena.UseAfterRelease:
		return self.fail(&InvariantError{Func: self.fn.Name, Block: -1, Reason: e.Error()})
	case error:
		if e == arena.ErrExhausted {
			return errors.Wrap(ErrOutOfMemory, "func %v: %d bytes", self.fn.Name, self.budget.Used())
		}
	}
	panic(v)
}

func (self *Context) fail(e *InvariantError) error {
	atomic.AddUint64(&FailCount, 1)
	if self.opts.Debug {
		panic(e)
	} else {
		return e
	}
}

// release returns all scratch memory, whatever state the run ended in.
func (self *Context) release() {
	self.states.Drain(self.freeState)
	self.clearOverlay()
	self.clearSeeds()
	for _, s := range self.collected {
		self.scratch.FreeSet(s)
	}
	for _, s := range self.writeThrough {
		self.scratch.FreeSet(s)
	}
	self.ts.free(self)
	self.res.ScratchBytes = self.budget.Used()
}

func (self *Context) clearOverlay() {
	for id, st := range self.overlay {
		self.freeState(st)
		delete(self.overlay, id)
	}
}

func (self *Context) clearSeeds() {
	for id, st := range self.seeds {
		self.freeState(st)
		delete(self.seeds, id)
	}
}

func (self *Context) checkReleased() {
	for id := range self.slots {
		if p := &self.slots[id]; !p.count.released || p.count.remaining != 0 {
			self.bb = self.fn.Blocks[id]
			self.invariant("state leaked with %d pending uses", p.count.remaining)
		}
	}
	if n := self.states.Live(); n != 0 {
		self.invariant("%d block states still live after the walk", n)
	}
}

// commit publishes everything the run decided. It is only reached when the
// walk completed without error.
func (self *Context) commit() {
	for _, fn := range self.journal {
		fn()
	}
	for bb, e := range self.edits {
		e.apply(bb)
	}

	/* loop bookkeeping */
	for _, lp := range self.fn.Loops {
		ls := self.loops[lp.ID]
		lp.HasPrepass = ls.prepassed
		lp.HasCollectionPass = ls.collected
	}

	/* catch regions */
	for r, wt := range self.writeThrough {
		r.WriteThrough = self.persistent.Clone(wt)
	}

	/* mem-op loops */
	for lp, mc := range self.memops {
		lp.MemOp.LiveOnExit = self.persistent.Clone(mc.liveOnExit)
		lp.MemOp.RestoreAfterLoop = mc.restore
	}

	/* statistics */
	self.res.PersistentBytes = self.persistent.Bytes()
	atomic.AddUint64(&DeletedCount, uint64(self.res.Deleted))
	atomic.AddUint64(&BailoutCount, uint64(self.res.Bailouts))
	atomic.AddUint64(&ElidedCount, uint64(self.res.ElidedChecks))
}

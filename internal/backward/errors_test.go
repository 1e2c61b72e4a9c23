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
	"testing"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/backpass/ir"
)

func TestErrors_Aborted(t *testing.T) {
	fn, _ := buildDiamond(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	aborts := atomic.LoadUint64(&AbortCount)
	res, err := Run(ctx, fn, PhaseLiveness, nil, testOptions())
	require.Nil(t, res)
	require.ErrorIs(t, err, ErrAborted)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, aborts+1, atomic.LoadUint64(&AbortCount))

	/* nothing was published */
	for _, bb := range fn.Blocks {
		require.Nil(t, bb.LiveIn)
	}
}

func TestErrors_OutOfMemory(t *testing.T) {
	fn, _ := buildDiamond(t)
	o := testOptions()
	o.ScratchBudget = 16

	res, err := Run(context.Background(), fn, PhaseLiveness, nil, o)
	require.Nil(t, res)
	require.ErrorIs(t, err, ErrOutOfMemory)
	for _, bb := range fn.Blocks {
		require.Nil(t, bb.LiveIn)
	}

	/* the same function fits in an unbounded run */
	mustRun(t, fn, PhaseLiveness, testOptions())
	require.NotNil(t, fn.Blocks[0].LiveIn)
}

func TestErrors_LoopNestingTooDeep(t *testing.T) {
	fn := buildNestedLoops(t)
	o := testOptions()
	o.MaxLoopDepth = 1

	_, err := Run(context.Background(), fn, PhaseDeadStore, nil, o)
	require.ErrorIs(t, err, ErrLoopNestingTooDeep)
	require.False(t, fn.Loops[0].HasPrepass)

	/* one more level is enough */
	o.MaxLoopDepth = 2
	_, err = Run(context.Background(), fn, PhaseDeadStore, nil, o)
	require.NoError(t, err)
	require.True(t, fn.Loops[0].HasCollectionPass)
	require.True(t, fn.Loops[1].HasCollectionPass)
}

func buildNoRepr(t *testing.T) *ir.Func {
	b := ir.NewBuilder("norepr")
	s := b.Syms()
	x := s.NewVar("x", 0)
	bb0 := b.Block()
	bo := b.BailOut(bb0, ir.BailOutOnOverflow)
	bo.Bailout.Reprs = map[ir.SymID]ir.Repr{x.ID: ir.ReprFloat64}
	b.Add(bb0, ir.OpRet, nil, ir.S(x))
	return finish(t, b)
}

func TestErrors_InvariantFatalInDebug(t *testing.T) {
	o := testOptions()
	fails := atomic.LoadUint64(&FailCount)

	/* reported as an error */
	_, err := Run(context.Background(), buildNoRepr(t), PhaseDeadStore, nil, o)
	var ie *InvariantError
	require.True(t, errors.As(err, &ie), "%v", err)
	require.Equal(t, "norepr", ie.Func)
	require.Equal(t, fails+1, atomic.LoadUint64(&FailCount))

	/* fatal in debug mode */
	o.Debug = true
	defer func() {
		v := recover()
		require.IsType(t, (*InvariantError)(nil), v)
		require.Equal(t, fails+2, atomic.LoadUint64(&FailCount))
	}()
	_, _ = Run(context.Background(), buildNoRepr(t), PhaseDeadStore, nil, o)
	t.Fatal("debug mode did not panic")
}

func TestErrors_ReleasedStateIsPoisoned(t *testing.T) {
	fn := buildTempChain(t, 1)
	c := newContext(context.Background(), tlog.Span{}, fn, PhaseDeadStore, nil, testOptions())
	defer c.release()

	/* the exit block has a single reader */
	c.mode = modeReal
	exit := fn.Blocks[3]
	c.processBlock(exit)
	st := c.states.Get(c.slots[exit.ID].h)
	require.False(t, st.released)
	c.consume(exit)
	require.True(t, st.released)

	/* any later read faults instead of seeing empty sets */
	require.PanicsWithValue(t, &InvariantError{Func: fn.Name, Block: -1, Reason: "block state read after release"}, func() {
		c.mergeGeneric(c.newState(), st)
	})
	require.Panics(t, func() {
		c.mergeShapes(exit, c.newState(), []*BlockState{st})
	})

	/* and so does a second consume */
	require.Panics(t, func() { c.consume(exit) })
}

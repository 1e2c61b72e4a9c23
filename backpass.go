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

package backpass

import (
	"context"
	"sync"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/nikandfor/errors"

	"github.com/cloudwego/backpass/internal/backward"
	"github.com/cloudwego/backpass/internal/opts"
	"github.com/cloudwego/backpass/ir"
)

type (
	Phase        = backward.Phase
	Result       = backward.Result
	Oracle       = backward.Oracle
	StaticOracle = backward.StaticOracle
)

const (
	PhaseLiveness  = backward.PhaseLiveness
	PhaseDeadStore = backward.PhaseDeadStore
)

// Run performs one backward pass over fn. When it returns an error, fn is
// exactly as it was before the call.
func Run(ctx context.Context, fn *ir.Func, phase Phase, oracle Oracle, options ...Option) (*Result, error) {
	return backward.Run(ctx, fn, phase, oracle, makeOptions(options))
}

// Analyze runs the liveness phase followed by the dead-store phase.
func Analyze(ctx context.Context, fn *ir.Func, oracle Oracle, options ...Option) ([2]*Result, error) {
	var rs [2]*Result
	o := makeOptions(options)

	/* liveness first, its stamps feed the dead-store phase */
	for i, phase := range [...]Phase{PhaseLiveness, PhaseDeadStore} {
		res, err := backward.Run(ctx, fn, phase, oracle, o)
		if err != nil {
			return rs, errors.Wrap(err, "%v", phase)
		}
		rs[i] = res
	}
	return rs, nil
}

// CompileAll analyzes every function concurrently. Each function gets its
// own run, a failure in one does not affect the others. The returned slice
// is indexed like fns. A panic raised inside a worker is reported as that
// function's error, except in debug mode where it is raised again in the
// caller once every task has finished.
func CompileAll(ctx context.Context, fns []*ir.Func, oracle Oracle, options ...Option) []error {
	wg := sync.WaitGroup{}
	rs := make([]error, len(fns))
	ps := make([]interface{}, len(fns))
	o := makeOptions(options)
	pool := gopool.NewPool("backpass", int32(o.Workers), gopool.NewConfig())

	/* one task per function */
	for i, fn := range fns {
		i, fn := i, fn
		wg.Add(1)
		pool.CtxGo(ctx, func() {
			defer wg.Done()
			defer func() {
				if v := recover(); v == nil {
					return
				} else if o.Debug {
					ps[i] = v
				} else {
					rs[i] = taskPanic(fn, v)
				}
			}()
			_, rs[i] = Analyze(ctx, fn, oracle, func(v *opts.Options) { *v = o })
		})
	}

	/* wait for all of them */
	wg.Wait()

	/* the pool swallows task panics, fatal ones are raised here */
	for _, v := range ps {
		if v != nil {
			panic(v)
		}
	}
	return rs
}

func taskPanic(fn *ir.Func, v interface{}) error {
	if e, ok := v.(error); ok {
		return errors.Wrap(e, "func %v: panic", fn.Name)
	} else {
		return errors.New("func %v: panic: %v", fn.Name, v)
	}
}

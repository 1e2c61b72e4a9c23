/*
 * Copyright 2022 CloudWeGo Authors
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

package opts

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xyproto/env/v2"
)

func TestOptions_Defaults(t *testing.T) {
	o := GetDefaultOptions()
	require.Equal(t, OverflowRangeLimit, o.OverflowRangeLimit)
	require.Equal(t, MaxLoopDepth, o.MaxLoopDepth)
	require.Equal(t, ScratchBudget, o.ScratchBudget)
	require.Equal(t, KeepUpwardExposedUses, o.KeepUpwardExposedUses)
}

func TestOptions_CanRecurse(t *testing.T) {
	o := Options{MaxLoopDepth: 2}
	require.True(t, o.CanRecurse(0))
	require.True(t, o.CanRecurse(1))
	require.False(t, o.CanRecurse(2))
	o.MaxLoopDepth = 0
	require.True(t, o.CanRecurse(1000))
}

// setenv sets key for the duration of the test. The env package reads a
// cached copy of the environment, so the cache is reloaded both ways.
func setenv(t *testing.T, key string, val string) {
	t.Cleanup(env.Load)
	t.Setenv(key, val)
	env.Load()
}

func TestParseOrDefault(t *testing.T) {
	setenv(t, "BACKPASS_TEST_INT", "")
	require.Equal(t, 7, parseOrDefault("BACKPASS_TEST_INT", 7, 1))
	setenv(t, "BACKPASS_TEST_INT", "12")
	require.Equal(t, 12, parseOrDefault("BACKPASS_TEST_INT", 7, 1))
	setenv(t, "BACKPASS_TEST_INT", "0")
	require.Panics(t, func() { parseOrDefault("BACKPASS_TEST_INT", 7, 1) })
	setenv(t, "BACKPASS_TEST_INT", "bogus")
	require.Panics(t, func() { parseOrDefault("BACKPASS_TEST_INT", 7, 1) })
}

func TestBoolOrDefault(t *testing.T) {
	setenv(t, "BACKPASS_TEST_BOOL", "")
	require.True(t, boolOrDefault("BACKPASS_TEST_BOOL", true))
	setenv(t, "BACKPASS_TEST_BOOL", "false")
	require.False(t, boolOrDefault("BACKPASS_TEST_BOOL", true))
	setenv(t, "BACKPASS_TEST_BOOL", "1")
	require.True(t, boolOrDefault("BACKPASS_TEST_BOOL", false))
}

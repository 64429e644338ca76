// Copyright 2025 DocFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvokeNormalizesFailures(t *testing.T) {
	registry := NewExecutorRegistry()

	t.Run("missing executor", func(t *testing.T) {
		result := registry.Invoke(context.Background(), "ghost", TaskState{})
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "unknown executor")
		assert.Equal(t, "ghost", result.ExecutorID)
	})

	t.Run("returned error", func(t *testing.T) {
		registry.Register(NewFuncExecutor("failing", func(ctx context.Context, state TaskState) (*TaskResult, error) {
			return nil, errors.New("boom")
		}))
		result := registry.Invoke(context.Background(), "failing", TaskState{})
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "boom")
	})

	t.Run("panic", func(t *testing.T) {
		registry.Register(NewFuncExecutor("panicking", func(ctx context.Context, state TaskState) (*TaskResult, error) {
			panic("unexpected")
		}))
		result := registry.Invoke(context.Background(), "panicking", TaskState{})
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "panic")
	})

	t.Run("nil result", func(t *testing.T) {
		registry.Register(NewFuncExecutor("empty", func(ctx context.Context, state TaskState) (*TaskResult, error) {
			return nil, nil
		}))
		result := registry.Invoke(context.Background(), "empty", TaskState{})
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "nil result")
	})
}

func TestApplyStateUpdates(t *testing.T) {
	state := TaskState{"existing": 1}

	applyStateUpdates(state, &TaskResult{
		Success:      true,
		StateUpdates: map[string]interface{}{"added": true},
	})
	assert.Equal(t, true, state["added"])

	applyStateUpdates(state, &TaskResult{
		Success:      false,
		StateUpdates: map[string]interface{}{"ignored": true},
	})
	_, ok := state["ignored"]
	assert.False(t, ok, "failed results must not mutate state")
}

func TestRegisterSimulatedExecutorsKeepsHostExecutors(t *testing.T) {
	registry := NewExecutorRegistry()
	custom := NewFuncExecutor(ExecDataFetcher, func(ctx context.Context, state TaskState) (*TaskResult, error) {
		return &TaskResult{Success: true, Output: map[string]interface{}{"custom": true}}, nil
	})
	registry.Register(custom)

	RegisterSimulatedExecutors(registry)

	result := registry.Invoke(context.Background(), ExecDataFetcher, TaskState{})
	require.True(t, result.Success)
	assert.Equal(t, true, result.Output["custom"])

	// Everything else got a simulated double.
	assert.Len(t, registry.IDs(), 8)
}

func TestTaskStateClone(t *testing.T) {
	original := TaskState{
		"scalar": "value",
		"nested": map[string]interface{}{"k": 1},
	}

	clone := original.Clone()
	clone["scalar"] = "changed"
	clone["nested"].(map[string]interface{})["k"] = 2

	assert.Equal(t, "value", original["scalar"])
	assert.Equal(t, 1, original["nested"].(map[string]interface{})["k"])
}

func TestParallelEfficiencyBounds(t *testing.T) {
	results := []TaskResult{
		{ExecutionTimeMs: 100},
		{ExecutionTimeMs: 100},
	}

	assert.InDelta(t, 1.0, parallelEfficiency(results, 100), 0.001)
	assert.InDelta(t, 0.5, parallelEfficiency(results, 200), 0.001)
	// Sub-millisecond runs report ideal rather than zero.
	assert.InDelta(t, 1.0, parallelEfficiency([]TaskResult{{}, {}}, 50), 0.001)
	assert.InDelta(t, 1.0, parallelEfficiency(nil, 0), 0.001)
}

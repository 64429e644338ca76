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
	"fmt"
	"sort"
	"sync"
	"time"
)

// TaskExecutor is the uniform contract every specialist worker implements.
// Executors must be safe to retry: the Simple-tier fallback strategy re-runs
// them on failure.
type TaskExecutor interface {
	ID() string
	Process(ctx context.Context, state TaskState) (*TaskResult, error)
}

// ExecutorRegistry holds the executors available to the routers. Writers are
// serialized; concurrent readers are safe.
type ExecutorRegistry struct {
	mu        sync.RWMutex
	executors map[string]TaskExecutor
}

// NewExecutorRegistry creates an empty registry.
func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{
		executors: make(map[string]TaskExecutor),
	}
}

// Register adds or replaces an executor.
func (r *ExecutorRegistry) Register(executor TaskExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[executor.ID()] = executor
}

// Get returns the executor registered under id.
func (r *ExecutorRegistry) Get(id string) (TaskExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	executor, ok := r.executors[id]
	return executor, ok
}

// IDs returns the registered executor ids in sorted order.
func (r *ExecutorRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.executors))
	for id := range r.executors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Invoke runs one executor against the shared state and normalizes every
// failure mode (missing executor, returned error, panic) into a TaskResult.
// State updates from successful runs are merged into state by the caller.
func (r *ExecutorRegistry) Invoke(ctx context.Context, id string, state TaskState) TaskResult {
	executor, ok := r.Get(id)
	if !ok {
		return TaskResult{
			ExecutorID: id,
			Success:    false,
			Error:      fmt.Sprintf("%v: %s", ErrUnknownExecutor, id),
		}
	}

	start := time.Now()
	result := runSafely(ctx, executor, state)
	if result.ExecutionTimeMs == 0 {
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
	}
	result.ExecutorID = id
	return result
}

// runSafely executes the task and converts panics and returned errors into
// failed results so one bad executor never takes down a workflow.
func runSafely(ctx context.Context, executor TaskExecutor, state TaskState) (result TaskResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = TaskResult{
				Success: false,
				Error:   fmt.Sprintf("%v: panic in %s: %v", ErrExecutorFailure, executor.ID(), rec),
			}
		}
	}()

	res, err := executor.Process(ctx, state)
	if err != nil {
		return TaskResult{
			Success: false,
			Error:   fmt.Sprintf("%v: %v", ErrExecutorFailure, err),
		}
	}
	if res == nil {
		return TaskResult{
			Success: false,
			Error:   fmt.Sprintf("%v: %s returned nil result", ErrExecutorFailure, executor.ID()),
		}
	}
	return *res
}

// applyStateUpdates merges a successful result's state updates into the
// shared run state. Callers hold whatever lock guards state.
func applyStateUpdates(state TaskState, result *TaskResult) {
	if !result.Success {
		return
	}
	for key, value := range result.StateUpdates {
		state[key] = value
	}
}

// FuncExecutor adapts a plain function to the TaskExecutor contract.
type FuncExecutor struct {
	id string
	fn func(ctx context.Context, state TaskState) (*TaskResult, error)
}

// NewFuncExecutor wraps fn as a TaskExecutor with the given id.
func NewFuncExecutor(id string, fn func(ctx context.Context, state TaskState) (*TaskResult, error)) *FuncExecutor {
	return &FuncExecutor{id: id, fn: fn}
}

// ID implements TaskExecutor.
func (f *FuncExecutor) ID() string { return f.id }

// Process implements TaskExecutor.
func (f *FuncExecutor) Process(ctx context.Context, state TaskState) (*TaskResult, error) {
	return f.fn(ctx, state)
}

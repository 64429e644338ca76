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
	"strings"
	"sync"
	"time"
)

// executeGroup fans a set of executors out concurrently and joins them.
// Every member gets the same bounded context; members still pending at the
// group deadline observe cancellation and report failure without blocking
// the rest of the workflow. Failures are isolated per slot: one failing
// member never cancels its siblings.
//
// State reads happen against a per-member snapshot; updates from successful
// members are merged back under the caller's lock after the join, so members
// of one group never observe each other's writes mid-flight.
func executeGroup(ctx context.Context, registry *ExecutorRegistry, ids []string, state TaskState, stateMu *sync.Mutex, timeout time.Duration) []TaskResult {
	gctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make([]TaskResult, len(ids))
	var wg sync.WaitGroup

	for i, id := range ids {
		wg.Add(1)
		go func(idx int, executorID string) {
			defer wg.Done()

			stateMu.Lock()
			snapshot := state.Clone()
			stateMu.Unlock()

			result := registry.Invoke(gctx, executorID, snapshot)
			if !result.Success && isTimeoutError(result.Error) {
				result.Error = ErrGroupTimeout.Error() + ": " + result.Error
			}
			results[idx] = result
		}(i, id)
	}

	wg.Wait()

	stateMu.Lock()
	for i := range results {
		applyStateUpdates(state, &results[i])
	}
	stateMu.Unlock()

	return results
}

func isTimeoutError(msg string) bool {
	return strings.Contains(msg, context.DeadlineExceeded.Error()) ||
		strings.Contains(msg, context.Canceled.Error())
}

// parallelEfficiency measures how well a fan-out used its width: the sum of
// member execution times over wall time times width. 1.0 means perfectly
// parallel, 1/n means effectively sequential.
func parallelEfficiency(results []TaskResult, wallMs int64) float64 {
	if wallMs <= 0 || len(results) == 0 {
		return 1.0
	}
	var totalMs int64
	for _, r := range results {
		totalMs += r.ExecutionTimeMs
	}
	eff := float64(totalMs) / (float64(wallMs) * float64(len(results)))
	if eff > 1.0 {
		eff = 1.0
	}
	if eff <= 0 {
		// Sub-millisecond members round to zero; report ideal rather than zero.
		eff = 1.0
	}
	return eff
}

// groupTimeoutOrDefault guards against zero-valued configs.
func groupTimeoutOrDefault(seconds int) time.Duration {
	if seconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(seconds) * time.Second
}

var errCriticalAbort = errors.New("critical executor failed")

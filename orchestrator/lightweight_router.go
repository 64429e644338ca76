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
	"strings"
	"sync"
	"time"

	"docflow/platform/shared/logger"
)

// directPattern is a hard-coded shortcut for a very common single-step
// request: the router bypasses the general chain and issues one direct call
// with fixed parameters.
type directPattern struct {
	match      string
	executorID string
	action     string
}

// Recognized high-frequency single-operation patterns. Matching is by
// substring over the normalized request text.
var directPatterns = []directPattern{
	{match: "make bold", executorID: ExecDocumentBridge, action: "bold"},
	{match: "make italic", executorID: ExecDocumentBridge, action: "italic"},
	{match: "underline", executorID: ExecDocumentBridge, action: "underline"},
	{match: "move cursor", executorID: ExecDocumentBridge, action: "move-cursor"},
	{match: "undo", executorID: ExecDocumentBridge, action: "undo"},
	{match: "redo", executorID: ExecDocumentBridge, action: "redo"},
	{match: "delete selection", executorID: ExecDocumentBridge, action: "delete-selection"},
	{match: "insert page break", executorID: ExecDocumentBridge, action: "insert-page-break"},
}

// LightweightRouter executes Simple-tier plans: received -> pattern-match ->
// direct-execute or chain-execute -> done. Plans carry at most two executors.
type LightweightRouter struct {
	registry    *ExecutorRegistry
	window      TierTiming
	maxParallel int
	groupTO     time.Duration
	logger      *logger.Logger
}

// NewLightweightRouter creates the Simple-tier router.
func NewLightweightRouter(registry *ExecutorRegistry, cfg *Config) *LightweightRouter {
	maxParallel := cfg.MaxParallelLightweight
	if maxParallel <= 0 {
		maxParallel = 2
	}
	return &LightweightRouter{
		registry:    registry,
		window:      cfg.TierWindow(TierSimple),
		maxParallel: maxParallel,
		groupTO:     groupTimeoutOrDefault(cfg.GroupTimeoutSeconds),
		logger:      logger.New("lightweight-router"),
	}
}

// Route executes the plan and reports target-window compliance. Runs that
// finish under the window floor are flagged for reporting but never delayed.
func (r *LightweightRouter) Route(ctx context.Context, req *OperationRequest, plan *OrchestrationPlan) *RouteOutcome {
	start := time.Now()

	state := newRunState(req)

	if pattern, ok := r.matchDirect(req.Text); ok {
		outcome := r.executeDirect(ctx, req, pattern, state)
		r.finish(outcome, start)
		return outcome
	}

	outcome := r.executeChain(ctx, req, plan, state)
	r.finish(outcome, start)
	return outcome
}

func (r *LightweightRouter) matchDirect(text string) (*directPattern, bool) {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	for i := range directPatterns {
		if strings.Contains(normalized, directPatterns[i].match) {
			return &directPatterns[i], true
		}
	}
	return nil, false
}

// executeDirect issues the single fixed call the pattern designates.
func (r *LightweightRouter) executeDirect(ctx context.Context, req *OperationRequest, pattern *directPattern, state TaskState) *RouteOutcome {
	r.logger.Info(req.RequestID, "direct execution path", map[string]interface{}{
		"pattern":  pattern.match,
		"executor": pattern.executorID,
	})

	state["direct_action"] = pattern.action
	result := r.registry.Invoke(ctx, pattern.executorID, state)
	applyStateUpdates(state, &result)

	outcome := &RouteOutcome{
		Success:            result.Success,
		Mode:               ModeDirect,
		DirectPath:         true,
		AgentsUsed:         []string{pattern.executorID},
		Results:            []TaskResult{result},
		ParallelEfficiency: 1.0,
		Payload:            result.Output,
	}
	if !result.Success {
		outcome.Error = result.Error
	}
	outcome.Warnings = append(outcome.Warnings, result.Warnings...)
	return outcome
}

// executeChain runs the plan's 1-2 executors, concurrently when independent.
// A failing non-critical executor degrades to a warning; a missing required
// executor is a hard failure.
func (r *LightweightRouter) executeChain(ctx context.Context, req *OperationRequest, plan *OrchestrationPlan, state TaskState) *RouteOutcome {
	outcome := &RouteOutcome{
		Mode:               ModeSequential,
		ParallelEfficiency: 1.0,
	}

	for _, id := range plan.Executors {
		if _, ok := r.registry.Get(id); !ok {
			outcome.Success = false
			outcome.Error = fmt.Sprintf("%v: required executor %s not registered", ErrUnknownExecutor, id)
			return outcome
		}
	}

	independent := len(plan.Dependencies) == 0
	var stateMu sync.Mutex

	if independent && len(plan.Executors) > 1 && r.maxParallel > 1 {
		outcome.Mode = ModeParallel
		groupStart := time.Now()
		results := executeGroup(ctx, r.registry, plan.Executors, state, &stateMu, r.groupTO)
		outcome.Results = results
		outcome.ParallelEfficiency = parallelEfficiency(results, time.Since(groupStart).Milliseconds())
	} else {
		for _, id := range plan.Executors {
			result := r.registry.Invoke(ctx, id, state)
			applyStateUpdates(state, &result)
			outcome.Results = append(outcome.Results, result)
			if !result.Success {
				break
			}
		}
	}

	outcome.Success = true
	for i := range outcome.Results {
		result := &outcome.Results[i]
		outcome.AgentsUsed = append(outcome.AgentsUsed, result.ExecutorID)
		outcome.Warnings = append(outcome.Warnings, result.Warnings...)

		if !result.Success {
			// The first executor is the critical one in a two-step chain;
			// anything after it degrades to a warning.
			if result.ExecutorID == plan.Executors[0] {
				outcome.Success = false
				outcome.Error = result.Error
			} else {
				outcome.Warnings = append(outcome.Warnings,
					fmt.Sprintf("non-critical executor %s failed: %s", result.ExecutorID, result.Error))
			}
		}
	}

	if len(outcome.Results) > 0 {
		outcome.Payload = outcome.Results[len(outcome.Results)-1].Output
	}

	r.logger.Info(req.RequestID, "chain execution complete", map[string]interface{}{
		"executors": outcome.AgentsUsed,
		"success":   outcome.Success,
	})

	return outcome
}

// finish stamps timing and target compliance onto the outcome.
func (r *LightweightRouter) finish(outcome *RouteOutcome, start time.Time) {
	elapsed := time.Since(start)
	outcome.DurationMs = elapsed.Milliseconds()
	seconds := elapsed.Seconds()
	outcome.TargetMet = seconds <= r.window.MaxSeconds
	outcome.BelowFloor = seconds < r.window.MinSeconds
	if outcome.QualityScore == 0 && outcome.Success {
		outcome.QualityScore = 0.9
	}
}

// newRunState seeds the shared state every run threads through its
// executors.
func newRunState(req *OperationRequest) TaskState {
	state := TaskState{
		"request_id": req.RequestID,
		"query":      req.Text,
	}
	if req.Document != nil {
		state["document"] = req.Document
	}
	return state
}

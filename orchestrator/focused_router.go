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
	"sync"
	"time"

	"docflow/platform/shared/logger"
)

// agentSubset is a curated specialist group for one class of Moderate-tier
// work. Primaries carry the core of the task; secondaries refine or validate
// and may degrade to warnings on failure.
type agentSubset struct {
	name        string
	primary     []string
	secondary   []string
	deps        map[string][]string
	strategy    OrchestrationMode
	qualityTier float64
}

// subsetForOperation maps Moderate-tier operation types onto their subset.
var subsetForOperation = map[OperationType]agentSubset{
	OpContentGeneration: {
		name:        "content-focused",
		primary:     []string{ExecContentGenerator},
		secondary:   []string{ExecQualityReviewer, ExecFormattingAgent},
		deps:        map[string][]string{ExecQualityReviewer: {ExecContentGenerator}},
		strategy:    ModeSequential,
		qualityTier: 0.9,
	},
	OpFormatting: {
		name:        "formatting-focused",
		primary:     []string{ExecFormattingAgent},
		secondary:   []string{ExecDocumentBridge, ExecQualityReviewer},
		deps:        map[string][]string{ExecDocumentBridge: {ExecFormattingAgent}},
		strategy:    ModeSequential,
		qualityTier: 0.85,
	},
	OpDocumentAnalysis: {
		name:        "analysis-focused",
		primary:     []string{ExecStructureAnalyzer},
		secondary:   []string{ExecComplianceValidator, ExecQualityReviewer},
		deps:        map[string][]string{ExecComplianceValidator: {ExecStructureAnalyzer}},
		strategy:    ModeParallel,
		qualityTier: 0.88,
	},
	OpRestructuring: {
		name:        "structure-focused",
		primary:     []string{ExecStructureAnalyzer},
		secondary:   []string{ExecDocumentBridge, ExecQualityReviewer},
		deps:        map[string][]string{ExecDocumentBridge: {ExecStructureAnalyzer}},
		strategy:    ModeSequential,
		qualityTier: 0.85,
	},
}

// researchSubset handles moderate requests that fit no curated subset.
var researchSubset = agentSubset{
	name:        "research-focused",
	primary:     []string{ExecResearchAgent, ExecDataFetcher},
	secondary:   []string{ExecContentGenerator},
	deps:        map[string][]string{ExecContentGenerator: {ExecResearchAgent, ExecDataFetcher}},
	strategy:    ModeParallel,
	qualityTier: 0.8,
}

// FocusedRouter executes Moderate-tier plans with a hybrid strategy: the
// subset's independent primaries fan out in parallel, dependent members run
// sequentially afterward, and secondaries refine the result in a final
// concurrent pass. Successful cache-candidate runs are stored for reuse.
type FocusedRouter struct {
	registry *ExecutorRegistry
	cache    *ResultCache
	window   TierTiming
	groupTO  time.Duration
	logger   *logger.Logger
}

// NewFocusedRouter creates the Moderate-tier router.
func NewFocusedRouter(registry *ExecutorRegistry, cache *ResultCache, cfg *Config) *FocusedRouter {
	return &FocusedRouter{
		registry: registry,
		cache:    cache,
		window:   cfg.TierWindow(TierModerate),
		groupTO:  groupTimeoutOrDefault(cfg.GroupTimeoutSeconds),
		logger:   logger.New("focused-router"),
	}
}

// Route executes the plan, consulting the result cache first for
// cache-candidate plans.
func (r *FocusedRouter) Route(ctx context.Context, req *OperationRequest, plan *OrchestrationPlan, assessment *ComplexityAssessment) *RouteOutcome {
	start := time.Now()

	subset := r.subsetFor(assessment.Operation)
	cacheable := planHasHint(plan, "cache-candidate")
	cacheKey := r.cache.Key(string(assessment.Operation), req.Text)

	if cacheable {
		if cached, ok := r.cache.Get(ctx, cacheKey); ok {
			r.logger.Info(req.RequestID, "serving cached result", map[string]interface{}{
				"subset": subset.name,
				"key":    cacheKey,
			})
			outcome := &RouteOutcome{
				Success:            true,
				Mode:               plan.Mode,
				AgentsUsed:         cached.AgentsUsed,
				Cached:             true,
				QualityScore:       cached.QualityScore,
				ParallelEfficiency: 1.0,
				Payload:            cached.Payload,
			}
			r.finish(outcome, start)
			return outcome
		}
	}

	outcome := r.executeHybrid(ctx, req, subset)
	r.finish(outcome, start)
	outcome.QualityScore = r.scoreQuality(outcome, subset)

	if cacheable && outcome.Success {
		r.cache.Set(ctx, cacheKey, CachedResult{
			Payload:      outcome.Payload,
			AgentsUsed:   outcome.AgentsUsed,
			QualityScore: outcome.QualityScore,
		})
	}

	return outcome
}

func (r *FocusedRouter) subsetFor(op OperationType) agentSubset {
	if subset, ok := subsetForOperation[op]; ok {
		return subset
	}
	return researchSubset
}

// executeHybrid runs the subset in three phases: independent primaries fan
// out concurrently, dependent primaries follow in dependency order, and
// secondaries whose prerequisites completed fan out together at the end.
func (r *FocusedRouter) executeHybrid(ctx context.Context, req *OperationRequest, subset agentSubset) *RouteOutcome {
	state := newRunState(req)
	outcome := &RouteOutcome{
		Mode:               subset.strategy,
		ParallelEfficiency: 1.0,
	}

	var stateMu sync.Mutex
	completed := make(map[string]bool)

	record := func(result TaskResult, critical bool) bool {
		outcome.Results = append(outcome.Results, result)
		outcome.AgentsUsed = append(outcome.AgentsUsed, result.ExecutorID)
		outcome.Warnings = append(outcome.Warnings, result.Warnings...)
		if result.Success {
			completed[result.ExecutorID] = true
			return true
		}
		if critical {
			outcome.Error = result.Error
			return false
		}
		outcome.Warnings = append(outcome.Warnings,
			"secondary executor "+result.ExecutorID+" failed: "+result.Error)
		return true
	}

	// Phase 1: independent primaries.
	var independent, dependent []string
	for _, id := range subset.primary {
		if len(subset.deps[id]) == 0 {
			independent = append(independent, id)
		} else {
			dependent = append(dependent, id)
		}
	}

	if len(independent) > 1 {
		groupStart := time.Now()
		results := executeGroup(ctx, r.registry, independent, state, &stateMu, r.groupTO)
		outcome.ParallelEfficiency = parallelEfficiency(results, time.Since(groupStart).Milliseconds())
		for _, result := range results {
			if !record(result, true) {
				outcome.Success = false
				return outcome
			}
		}
	} else {
		for _, id := range independent {
			result := r.registry.Invoke(ctx, id, state)
			applyStateUpdates(state, &result)
			if !record(result, true) {
				outcome.Success = false
				return outcome
			}
		}
	}

	// Phase 2: dependent primaries, in dependency order.
	for _, id := range dependent {
		if !r.depsMet(subset.deps[id], completed) {
			outcome.Warnings = append(outcome.Warnings,
				"skipping "+id+": prerequisites incomplete")
			continue
		}
		result := r.registry.Invoke(ctx, id, state)
		applyStateUpdates(state, &result)
		if !record(result, true) {
			outcome.Success = false
			return outcome
		}
	}

	// Phase 3: dependency-satisfied secondaries refine concurrently.
	// Failures degrade to warnings.
	var refiners []string
	for _, id := range subset.secondary {
		if !r.depsMet(subset.deps[id], completed) {
			outcome.Warnings = append(outcome.Warnings,
				"skipping "+id+": prerequisites incomplete")
			continue
		}
		refiners = append(refiners, id)
	}
	switch {
	case len(refiners) > 1:
		groupStart := time.Now()
		results := executeGroup(ctx, r.registry, refiners, state, &stateMu, r.groupTO)
		if eff := parallelEfficiency(results, time.Since(groupStart).Milliseconds()); eff < outcome.ParallelEfficiency {
			outcome.ParallelEfficiency = eff
		}
		for _, result := range results {
			record(result, false)
		}
	case len(refiners) == 1:
		result := r.registry.Invoke(ctx, refiners[0], state)
		applyStateUpdates(state, &result)
		record(result, false)
	}

	outcome.Success = true
	if len(outcome.Results) > 0 {
		outcome.Payload = outcome.Results[len(outcome.Results)-1].Output
	}

	r.logger.Info(req.RequestID, "focused execution complete", map[string]interface{}{
		"subset": subset.name,
		"agents": outcome.AgentsUsed,
	})

	return outcome
}

func (r *FocusedRouter) depsMet(deps []string, completed map[string]bool) bool {
	for _, dep := range deps {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// scoreQuality rates the run from the executor outcomes, the subset's
// intrinsic quality tier, and target-window compliance.
func (r *FocusedRouter) scoreQuality(outcome *RouteOutcome, subset agentSubset) float64 {
	if !outcome.Success {
		return 0
	}

	succeeded := 0
	for _, result := range outcome.Results {
		if result.Success {
			succeeded++
		}
	}
	successRatio := 1.0
	if len(outcome.Results) > 0 {
		successRatio = float64(succeeded) / float64(len(outcome.Results))
	}

	score := 0.5*successRatio + 0.3*subset.qualityTier
	for _, result := range outcome.Results {
		if result.ExecutorID == ExecQualityReviewer && result.Success {
			score += 0.1
			break
		}
	}
	if outcome.TargetMet {
		score += 0.1
	}
	return capFloat(score, 1.0)
}

func (r *FocusedRouter) finish(outcome *RouteOutcome, start time.Time) {
	elapsed := time.Since(start)
	outcome.DurationMs = elapsed.Milliseconds()
	seconds := elapsed.Seconds()
	outcome.TargetMet = seconds <= r.window.MaxSeconds
	outcome.BelowFloor = seconds < r.window.MinSeconds
}

func planHasHint(plan *OrchestrationPlan, hint string) bool {
	for _, h := range plan.Hints {
		if h == hint {
			return true
		}
	}
	return false
}

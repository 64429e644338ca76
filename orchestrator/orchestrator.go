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
	"time"

	"github.com/google/uuid"

	"docflow/platform/shared/logger"
)

const maxRequestLength = 10000

// Orchestrator is the routing engine's front door: it assesses each request,
// builds a plan, dispatches to the tier router, applies the tier's fallback
// strategy on failure, and feeds every outcome to the performance monitor.
type Orchestrator struct {
	cfg      *Config
	analyzer *ComplexityAnalyzer
	planner  *PlanBuilder
	registry *ExecutorRegistry
	cache    *ResultCache

	lightweight *LightweightRouter
	focused     *FocusedRouter
	full        *FullOrchestrationRouter

	monitor *PerformanceMonitor
	logger  *logger.Logger
}

// New wires the engine together. A nil advisor disables the AI second
// opinion; classification stays rule-based.
func New(cfg *Config, advisor ComplexityAdvisor) *Orchestrator {
	registry := NewExecutorRegistry()
	RegisterSimulatedExecutors(registry)

	cache := NewResultCache(cfg.RedisURL, cfg.Cache)
	monitor := NewPerformanceMonitor(cfg)

	o := &Orchestrator{
		cfg:         cfg,
		analyzer:    NewComplexityAnalyzer(cfg, advisor),
		planner:     NewPlanBuilder(),
		registry:    registry,
		cache:       cache,
		lightweight: NewLightweightRouter(registry, cfg),
		focused:     NewFocusedRouter(registry, cache, cfg),
		full:        NewFullOrchestrationRouter(registry, cfg),
		monitor:     monitor,
		logger:      logger.New("orchestrator"),
	}

	monitor.RegisterCallback(RecommendCaching, func(rec OptimizationRecommendation) error {
		ttl := cache.TTL() * 2
		if ttl > time.Hour {
			ttl = time.Hour
		}
		cache.SetTTL(ttl)
		return nil
	})

	return o
}

// Registry exposes the executor registry so hosts can install real executors
// over the simulated defaults.
func (o *Orchestrator) Registry() *ExecutorRegistry { return o.registry }

// Monitor exposes the performance monitor for the HTTP surface.
func (o *Orchestrator) Monitor() *PerformanceMonitor { return o.monitor }

// Start launches background work (the monitor's analysis loop).
func (o *Orchestrator) Start() {
	o.monitor.Start()
}

// Shutdown stops background work and releases held connections.
func (o *Orchestrator) Shutdown() {
	o.monitor.Stop()
	if err := o.cache.Close(); err != nil {
		o.logger.Warn("", "cache close failed", map[string]interface{}{"error": err.Error()})
	}
}

// RouteOperation processes one document-operation request end to end. It
// never returns an error: every failure mode is folded into the structured
// result.
func (o *Orchestrator) RouteOperation(ctx context.Context, req *OperationRequest) *OperationResult {
	start := time.Now()

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	if err := o.validate(req); err != nil {
		return &OperationResult{
			RequestID: req.RequestID,
			Success:   false,
			Error:     err.Error(),
		}
	}

	assessment := o.analyzer.Analyze(ctx, req)
	plan := o.planner.Build(req, assessment)

	o.logger.Info(req.RequestID, "routing operation", map[string]interface{}{
		"tier":      string(assessment.Tier),
		"operation": string(assessment.Operation),
		"mode":      string(plan.Mode),
	})

	outcome := o.dispatch(ctx, req, plan, assessment)

	fallbackApplied := ""
	if !outcome.Success {
		if recovered, label := o.applyFallback(ctx, req, plan, assessment, outcome); recovered != nil {
			outcome = recovered
			fallbackApplied = label
		}
	}

	result := o.aggregate(req, assessment, outcome, fallbackApplied, start)
	o.monitor.RecordOperation(assessment, outcome)

	o.logger.InfoWithDuration(req.RequestID, "operation complete", float64(result.ExecutionTimeMs), map[string]interface{}{
		"success":  result.Success,
		"tier":     string(result.Tier),
		"fallback": fallbackApplied,
	})

	return result
}

func (o *Orchestrator) validate(req *OperationRequest) error {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return fmt.Errorf("%w: request text is empty", ErrValidation)
	}
	if len(req.Text) > maxRequestLength {
		return fmt.Errorf("%w: request text exceeds %d characters", ErrValidation, maxRequestLength)
	}
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, req *OperationRequest, plan *OrchestrationPlan, assessment *ComplexityAssessment) *RouteOutcome {
	switch assessment.Tier {
	case TierSimple:
		return o.lightweight.Route(ctx, req, plan)
	case TierModerate:
		return o.focused.Route(ctx, req, plan, assessment)
	default:
		return o.full.Route(ctx, req, assessment)
	}
}

// applyFallback runs the tier's recovery strategy after a failed route.
// Returns nil when no recovery produced a usable outcome.
func (o *Orchestrator) applyFallback(ctx context.Context, req *OperationRequest, plan *OrchestrationPlan, assessment *ComplexityAssessment, failed *RouteOutcome) (*RouteOutcome, string) {
	switch plan.RollbackStrategy {
	case RollbackRetryBasic:
		// Simple tier: executors are retry-safe, run the plan once more.
		retry := o.lightweight.Route(ctx, req, plan)
		if retry.Success {
			retry.Warnings = append(retry.Warnings, "recovered by retrying basic executors")
			return retry, RollbackRetryBasic
		}
		return nil, ""

	case RollbackSimplify:
		// Moderate tier: fall back to a minimal single-executor workflow.
		simplePlan := &OrchestrationPlan{
			OperationID:      plan.OperationID,
			Tier:             TierSimple,
			Mode:             ModeSequential,
			Executors:        []string{ExecDocumentBridge},
			Dependencies:     map[string][]string{},
			RollbackStrategy: RollbackRetryBasic,
		}
		simple := o.lightweight.Route(ctx, req, simplePlan)
		if simple.Success {
			simple.Warnings = append(simple.Warnings, "served by simplified workflow after focused routing failed")
			return simple, RollbackSimplify
		}
		return nil, ""

	case RollbackDegradeNotice:
		// Complex tier: degrade to the focused subset and tell the caller.
		degraded := o.focused.Route(ctx, req, plan, assessment)
		if degraded.Success {
			degraded.Warnings = append(degraded.Warnings, "degraded service: full orchestration failed, focused subset substituted")
			// Carry the original run's recovery bookkeeping forward.
			degraded.RollbacksPerformed += failed.RollbacksPerformed
			degraded.CheckpointsCreated += failed.CheckpointsCreated
			return degraded, RollbackDegradeNotice
		}
		return nil, ""
	}

	return nil, ""
}

// aggregate folds a route outcome into the structured result returned to the
// host. Raw internal errors never cross this boundary unwrapped.
func (o *Orchestrator) aggregate(req *OperationRequest, assessment *ComplexityAssessment, outcome *RouteOutcome, fallbackApplied string, start time.Time) *OperationResult {
	result := &OperationResult{
		RequestID:          req.RequestID,
		Success:            outcome.Success,
		Tier:               assessment.Tier,
		Mode:               outcome.Mode,
		AgentsUsed:         outcome.AgentsUsed,
		ExecutionTimeMs:    time.Since(start).Milliseconds(),
		ParallelEfficiency: outcome.ParallelEfficiency,
		QualityScore:       outcome.QualityScore,
		CheckpointsCreated: outcome.CheckpointsCreated,
		RollbacksPerformed: outcome.RollbacksPerformed,
		Confidence:         assessment.Confidence,
		TargetMet:          outcome.TargetMet,
		Cached:             outcome.Cached,
		FallbackApplied:    fallbackApplied,
		Result:             outcome.Payload,
		Warnings:           outcome.Warnings,
	}

	if !outcome.Success {
		if outcome.Error != "" {
			result.Error = outcome.Error
		} else {
			result.Error = "operation failed"
		}
	}

	return result
}

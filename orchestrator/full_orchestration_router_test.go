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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// concurrencyRegistry builds executors that hold for a fixed duration and
// track the highest number running at the same time.
func concurrencyRegistry(ids []string, hold time.Duration) (*ExecutorRegistry, func() int32) {
	registry := NewExecutorRegistry()
	var inFlight, maxSeen int32

	for _, id := range ids {
		executorID := id
		registry.Register(NewFuncExecutor(executorID, func(ctx context.Context, state TaskState) (*TaskResult, error) {
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				seen := atomic.LoadInt32(&maxSeen)
				if cur <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, cur) {
					break
				}
			}
			time.Sleep(hold)
			atomic.AddInt32(&inFlight, -1)
			return &TaskResult{
				ExecutorID: executorID,
				Success:    true,
				Output:     map[string]interface{}{"executor": executorID},
			}, nil
		}))
	}

	return registry, func() int32 { return atomic.LoadInt32(&maxSeen) }
}

func fullRouterWith(registry *ExecutorRegistry) *FullOrchestrationRouter {
	return NewFullOrchestrationRouter(registry, DefaultConfig())
}

// indexOf returns the position of id in order, or -1.
func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

func TestFullOrchestrationDependencyOrderAcrossModes(t *testing.T) {
	ops := []OperationType{
		OpReportGeneration,  // pipeline
		OpDataIntegration,   // parallel
		OpComplianceReview,  // sequential
		OpRestructuring,     // hierarchical
		OpDocumentAnalysis,  // adaptive
	}

	for _, op := range ops {
		t.Run(string(op), func(t *testing.T) {
			fp := fullPlanFor(op)
			// The recording doubles produce no gate-relevant state, so gated
			// tasks may legitimately be skipped; the order property only
			// applies to tasks that actually ran.
			registry, order := recordingRegistry(fp.executorIDs())
			router := fullRouterWith(registry)

			outcome := router.Route(context.Background(),
				&OperationRequest{RequestID: "r-" + string(op), Text: "exercise " + string(op)},
				&ComplexityAssessment{Tier: TierComplex, Operation: op},
			)

			require.True(t, outcome.Success, "error: %s warnings: %v", outcome.Error, outcome.Warnings)
			assert.Equal(t, fp.Mode, outcome.Mode)

			got := order()
			for task, deps := range fp.Dependencies {
				taskIdx := indexOf(got, task)
				if taskIdx == -1 {
					continue // skipped by a gate
				}
				for _, dep := range deps {
					depIdx := indexOf(got, dep)
					if depIdx == -1 {
						continue // dependency itself skipped by a gate
					}
					assert.Less(t, depIdx, taskIdx, "op %s: %s ran before its dependency %s", op, task, dep)
				}
			}
		})
	}
}

func TestFullOrchestrationCheckpointsCreated(t *testing.T) {
	router := fullRouterWith(simpleRegistry())

	outcome := router.Route(context.Background(),
		&OperationRequest{RequestID: "r1", Text: "generate a comprehensive financial report with real-time stock data and charts"},
		&ComplexityAssessment{Tier: TierComplex, Operation: OpReportGeneration},
	)

	require.True(t, outcome.Success, "error: %s", outcome.Error)
	assert.Greater(t, outcome.CheckpointsCreated, 0)
	assert.Zero(t, outcome.RollbacksPerformed)
	assert.Contains(t, outcome.AgentsUsed, ExecDataFetcher)
	assert.Contains(t, outcome.AgentsUsed, ExecContentGenerator)
}

func TestFullOrchestrationRollbackOnCriticalFailure(t *testing.T) {
	registry := simpleRegistry()
	registry.Register(NewFuncExecutor(ExecComplianceValidator, func(ctx context.Context, state TaskState) (*TaskResult, error) {
		return nil, errors.New("validator crashed")
	}))
	router := fullRouterWith(registry)

	outcome := router.Route(context.Background(),
		&OperationRequest{RequestID: "r2", Text: "audit the document for regulatory compliance issues"},
		&ComplexityAssessment{Tier: TierComplex, Operation: OpComplianceReview},
	)

	require.False(t, outcome.Success)
	assert.GreaterOrEqual(t, outcome.RollbacksPerformed, 1)
	assert.Contains(t, outcome.Error, "validator crashed")
}

func TestFullOrchestrationRollbackWithoutCheckpoint(t *testing.T) {
	registry := simpleRegistry()
	registry.Register(NewFuncExecutor(ExecDataFetcher, func(ctx context.Context, state TaskState) (*TaskResult, error) {
		return nil, errors.New("feed unavailable")
	}))
	router := fullRouterWith(registry)

	outcome := router.Route(context.Background(),
		&OperationRequest{RequestID: "r3", Text: "generate a comprehensive financial report with real-time stock data and charts"},
		&ComplexityAssessment{Tier: TierComplex, Operation: OpReportGeneration},
	)

	require.False(t, outcome.Success)
	assert.Equal(t, 1, outcome.RollbacksPerformed)
	assert.Contains(t, outcome.Error, "rollback failed")
}

func TestFullOrchestrationLowPriorityFailureDegrades(t *testing.T) {
	registry := simpleRegistry()
	registry.Register(NewFuncExecutor(ExecQualityReviewer, func(ctx context.Context, state TaskState) (*TaskResult, error) {
		return nil, errors.New("reviewer offline")
	}))
	router := fullRouterWith(registry)

	// In the restructuring plan the reviewer is low priority.
	outcome := router.Route(context.Background(),
		&OperationRequest{RequestID: "r4", Text: "restructure the whole document"},
		&ComplexityAssessment{Tier: TierComplex, Operation: OpRestructuring},
	)

	require.True(t, outcome.Success, "error: %s", outcome.Error)
	found := false
	for _, warning := range outcome.Warnings {
		if warning == "low priority task quality-reviewer failed: executor failure: reviewer offline" {
			found = true
		}
	}
	assert.True(t, found, "warnings: %v", outcome.Warnings)
}

func TestFullOrchestrationQualityGateSkips(t *testing.T) {
	registry := simpleRegistry()
	// A fetcher that succeeds but returns no usable payload fails the
	// data-accuracy gate, which must skip the generator rather than abort.
	registry.Register(NewFuncExecutor(ExecDataFetcher, func(ctx context.Context, state TaskState) (*TaskResult, error) {
		return &TaskResult{Success: true, Output: map[string]interface{}{}}, nil
	}))
	router := fullRouterWith(registry)

	outcome := router.Route(context.Background(),
		&OperationRequest{RequestID: "r5", Text: "generate a comprehensive financial report with real-time stock data and charts"},
		&ComplexityAssessment{Tier: TierComplex, Operation: OpReportGeneration},
	)

	require.True(t, outcome.Success, "error: %s", outcome.Error)
	assert.NotContains(t, outcome.AgentsUsed, ExecContentGenerator)
	gateWarning := false
	for _, warning := range outcome.Warnings {
		if strings.HasPrefix(warning, "quality gate") {
			gateWarning = true
		}
	}
	assert.True(t, gateWarning, "warnings: %v", outcome.Warnings)
}

func TestFullOrchestrationAdmissionControl(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resources.MaxConcurrentExecutors = 1
	router := NewFullOrchestrationRouter(simpleRegistry(), cfg)

	outcome := router.Route(context.Background(),
		&OperationRequest{RequestID: "r6", Text: "generate a comprehensive financial report with real-time stock data and charts"},
		&ComplexityAssessment{Tier: TierComplex, Operation: OpReportGeneration},
	)

	require.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "resource limit exceeded")
	assert.Empty(t, outcome.AgentsUsed)
}

func TestPipelineStagesOverlapIndependentTasks(t *testing.T) {
	fp := fullPlanFor(OpReportGeneration)
	registry, maxInFlight := concurrencyRegistry(fp.executorIDs(), 25*time.Millisecond)
	router := fullRouterWith(registry)

	outcome := router.Route(context.Background(),
		&OperationRequest{RequestID: "r8", Text: "generate a comprehensive financial report with real-time stock data and charts"},
		&ComplexityAssessment{Tier: TierComplex, Operation: OpReportGeneration},
	)

	require.True(t, outcome.Success, "error: %s", outcome.Error)
	// The fetcher and the research agent share the first stage and must
	// actually overlap rather than run back-to-back.
	assert.GreaterOrEqual(t, maxInFlight(), int32(2))
}

func TestAdmissionRejectsOverMemoryBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resources.MaxMemoryMB = 256
	router := NewFullOrchestrationRouter(simpleRegistry(), cfg)

	outcome := router.Route(context.Background(),
		&OperationRequest{RequestID: "r9", Text: "generate a comprehensive financial report with real-time stock data and charts"},
		&ComplexityAssessment{Tier: TierComplex, Operation: OpReportGeneration},
	)

	require.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "resource limit exceeded")
	assert.Contains(t, outcome.Error, "MB")
	assert.Empty(t, outcome.AgentsUsed)
}

func TestAdmissionRejectsOverCPUBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resources.MaxCPUPercent = 40
	router := NewFullOrchestrationRouter(simpleRegistry(), cfg)

	outcome := router.Route(context.Background(),
		&OperationRequest{RequestID: "r10", Text: "generate a comprehensive financial report with real-time stock data and charts"},
		&ComplexityAssessment{Tier: TierComplex, Operation: OpReportGeneration},
	)

	require.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "resource limit exceeded")
	assert.Contains(t, outcome.Error, "CPU")
}

func TestAdaptiveBoundsBatchesToConcurrencyCeiling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resources.MaxConcurrentExecutors = 1
	fp := fullPlanFor(OpDocumentAnalysis)
	registry, maxInFlight := concurrencyRegistry(fp.executorIDs(), 10*time.Millisecond)
	router := NewFullOrchestrationRouter(registry, cfg)

	outcome := router.Route(context.Background(),
		&OperationRequest{RequestID: "r11", Text: "analyze the document structure in depth"},
		&ComplexityAssessment{Tier: TierComplex, Operation: OpDocumentAnalysis},
	)

	require.True(t, outcome.Success, "error: %s", outcome.Error)
	// The widest ready set is two tasks; with a ceiling of one they must
	// execute in bounded batches, never side by side.
	assert.Equal(t, int32(1), maxInFlight())
}

func TestHierarchicalHonorsDependenciesAcrossPriorities(t *testing.T) {
	// The critical task depends on a normal-priority one; priority alone
	// would start it first.
	plan := fullPlan{
		Mode: ModeHierarchical,
		Tasks: []orchestrationTask{
			{ID: ExecContentGenerator, Priority: PriorityCritical},
			{ID: ExecDataFetcher, Priority: PriorityNormal},
		},
		Dependencies: map[string][]string{
			ExecContentGenerator: {ExecDataFetcher},
		},
	}
	registry, order := recordingRegistry([]string{ExecContentGenerator, ExecDataFetcher})
	router := fullRouterWith(registry)

	req := &OperationRequest{RequestID: "r12", Text: "reorganize the appendix"}
	run := &fullRun{
		req:         req,
		plan:        plan,
		state:       newRunState(req),
		checkpoints: NewCheckpointManager(),
		results:     make(map[string]*TaskResult),
		outcome:     &RouteOutcome{Mode: ModeHierarchical, ParallelEfficiency: 1.0},
	}

	require.NoError(t, router.runHierarchical(context.Background(), run))

	got := order()
	require.Len(t, got, 2)
	assert.Equal(t, ExecDataFetcher, got[0])
	assert.Equal(t, ExecContentGenerator, got[1])
}

func TestFullOrchestrationHierarchicalPriorityOrder(t *testing.T) {
	fp := fullPlanFor(OpRestructuring)
	registry, order := recordingRegistry(fp.executorIDs())
	router := fullRouterWith(registry)

	outcome := router.Route(context.Background(),
		&OperationRequest{RequestID: "r7", Text: "restructure the whole document"},
		&ComplexityAssessment{Tier: TierComplex, Operation: OpRestructuring},
	)

	require.True(t, outcome.Success)
	got := order()
	// Critical level first, low level last.
	assert.Equal(t, ExecStructureAnalyzer, got[0])
	if idx := indexOf(got, ExecQualityReviewer); idx != -1 {
		assert.Equal(t, len(got)-1, idx)
	}
}

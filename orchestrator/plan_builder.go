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
	"strings"

	"docflow/platform/shared/logger"
)

// PlanBuilder turns a complexity assessment into an orchestration plan via
// fixed per-tier routing tables.
type PlanBuilder struct {
	logger *logger.Logger
}

// NewPlanBuilder creates a plan builder.
func NewPlanBuilder() *PlanBuilder {
	return &PlanBuilder{
		logger: logger.New("plan-builder"),
	}
}

// Phrases that force human approval regardless of tier.
var destructiveKeywords = []string{
	"delete all", "remove all", "overwrite", "replace entire",
	"clear the document", "wipe", "discard",
}

// simpleExecutorTable maps operation types to the 1-2 executors a Simple
// plan runs.
var simpleExecutorTable = map[OperationType][]string{
	OpTextEdit:   {ExecDocumentBridge},
	OpFormatting: {ExecFormattingAgent, ExecDocumentBridge},
}

// moderateExecutorTable maps operation types to the focused-router subset
// executors (primaries first, secondaries after).
var moderateExecutorTable = map[OperationType][]string{
	OpContentGeneration: {ExecContentGenerator, ExecQualityReviewer, ExecFormattingAgent},
	OpFormatting:        {ExecFormattingAgent, ExecDocumentBridge, ExecQualityReviewer},
	OpDocumentAnalysis:  {ExecStructureAnalyzer, ExecComplianceValidator, ExecQualityReviewer},
	OpRestructuring:     {ExecStructureAnalyzer, ExecDocumentBridge, ExecQualityReviewer},
}

// moderateDependencyTable declares prerequisites within the moderate tables.
var moderateDependencyTable = map[OperationType]map[string][]string{
	OpContentGeneration: {
		ExecQualityReviewer: {ExecContentGenerator},
	},
	OpFormatting: {
		ExecDocumentBridge: {ExecFormattingAgent},
	},
	OpDocumentAnalysis: {
		ExecComplianceValidator: {ExecStructureAnalyzer},
	},
	OpRestructuring: {
		ExecDocumentBridge: {ExecStructureAnalyzer},
	},
}

// Build creates the plan for one assessed request.
func (b *PlanBuilder) Build(req *OperationRequest, assessment *ComplexityAssessment) *OrchestrationPlan {
	plan := &OrchestrationPlan{
		OperationID:      req.RequestID,
		Tier:             assessment.Tier,
		EstimatedSeconds: assessment.EstimatedSeconds,
		Dependencies:     map[string][]string{},
	}

	switch assessment.Tier {
	case TierSimple:
		executors, ok := simpleExecutorTable[assessment.Operation]
		if !ok {
			executors = []string{ExecDocumentBridge}
		}
		plan.Executors = executors
		plan.Mode = ModeSequential
		if len(executors) == 2 {
			plan.Dependencies[executors[1]] = []string{executors[0]}
		}
		plan.RollbackStrategy = RollbackRetryBasic

	case TierModerate:
		executors, ok := moderateExecutorTable[assessment.Operation]
		if !ok {
			executors = []string{ExecResearchAgent, ExecDataFetcher, ExecContentGenerator}
			plan.Dependencies[ExecContentGenerator] = []string{ExecResearchAgent, ExecDataFetcher}
		} else {
			for id, deps := range moderateDependencyTable[assessment.Operation] {
				plan.Dependencies[id] = append([]string(nil), deps...)
			}
		}
		plan.Executors = executors
		plan.Mode = ModeParallel
		plan.RollbackStrategy = RollbackSimplify
		if !assessment.Factors.NeedsExternalData {
			plan.Hints = append(plan.Hints, "cache-candidate")
		}

	default:
		fp := fullPlanFor(assessment.Operation)
		plan.Executors = fp.executorIDs()
		plan.Mode = fp.Mode
		for id, deps := range fp.Dependencies {
			plan.Dependencies[id] = append([]string(nil), deps...)
		}
		plan.RollbackStrategy = RollbackDegradeNotice
	}

	plan.ParallelGroups = layerTasks(plan.Executors, plan.Dependencies)
	if len(plan.ParallelGroups) > 1 || (len(plan.ParallelGroups) == 1 && len(plan.ParallelGroups[0]) > 1) {
		plan.Hints = append(plan.Hints, "parallelizable")
	}

	plan.ApprovalRequired = assessment.Tier == TierComplex || b.isDestructive(req.Text)

	b.logger.Debug(req.RequestID, "plan built", map[string]interface{}{
		"tier":      string(plan.Tier),
		"mode":      string(plan.Mode),
		"executors": plan.Executors,
		"approval":  plan.ApprovalRequired,
	})

	return plan
}

func (b *PlanBuilder) isDestructive(text string) bool {
	lower := strings.ToLower(text)
	for _, keyword := range destructiveKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// layerTasks partitions tasks into dependency layers: every task in layer N
// has all its prerequisites in layers < N. If unresolved tasks remain after
// layering (a dependency cycle), the residue is flattened into a single
// best-effort final batch instead of deadlocking.
func layerTasks(ids []string, deps map[string][]string) [][]string {
	inPlan := make(map[string]bool, len(ids))
	for _, id := range ids {
		inPlan[id] = true
	}

	done := make(map[string]bool, len(ids))
	var layers [][]string
	remaining := len(ids)

	for remaining > 0 {
		var layer []string
		for _, id := range ids {
			if done[id] {
				continue
			}
			ready := true
			for _, dep := range deps[id] {
				// Dependencies outside the plan are treated as satisfied.
				if inPlan[dep] && !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, id)
			}
		}

		if len(layer) == 0 {
			// Cycle: flatten whatever is left into one batch.
			var residue []string
			for _, id := range ids {
				if !done[id] {
					residue = append(residue, id)
				}
			}
			layers = append(layers, residue)
			break
		}

		for _, id := range layer {
			done[id] = true
		}
		remaining -= len(layer)
		layers = append(layers, layer)
	}

	return layers
}

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
	"sync"
	"time"

	"docflow/platform/shared/logger"
)

// orchestrationTask is one task inside a full-orchestration plan. Gate names
// a quality gate that must pass before the task runs; a failed gate skips the
// task with a warning.
type orchestrationTask struct {
	ID       string
	Priority TaskPriority
	Gate     string
}

// fullPlan is the complete workflow template for one Complex-tier operation
// type. MemoryMB and CPUPercent are the plan's estimated peak demand, checked
// against the configured limits at admission.
type fullPlan struct {
	Mode         OrchestrationMode
	Tasks        []orchestrationTask
	Dependencies map[string][]string
	MemoryMB     int
	CPUPercent   float64
}

func (fp fullPlan) executorIDs() []string {
	ids := make([]string, 0, len(fp.Tasks))
	for _, task := range fp.Tasks {
		ids = append(ids, task.ID)
	}
	return ids
}

func (fp fullPlan) task(id string) orchestrationTask {
	for _, task := range fp.Tasks {
		if task.ID == id {
			return task
		}
	}
	return orchestrationTask{ID: id, Priority: PriorityNormal}
}

// fullPlanFor returns the workflow template for a Complex-tier operation.
// Each operation type carries the orchestration mode that suits its shape:
// staged report builds run as a pipeline, fan-in integrations run parallel,
// audits run sequentially, restructures run hierarchically, and open-ended
// analysis adapts to its dependency graph at runtime.
func fullPlanFor(op OperationType) fullPlan {
	switch op {
	case OpReportGeneration:
		return fullPlan{
			Mode: ModePipeline,
			Tasks: []orchestrationTask{
				{ID: ExecDataFetcher, Priority: PriorityCritical},
				{ID: ExecResearchAgent, Priority: PriorityNormal},
				{ID: ExecContentGenerator, Priority: PriorityCritical, Gate: GateDataAccuracy},
				{ID: ExecFormattingAgent, Priority: PriorityNormal, Gate: GateContentQuality},
				{ID: ExecQualityReviewer, Priority: PriorityNormal},
				{ID: ExecDocumentBridge, Priority: PriorityHigh, Gate: GateVisualQuality},
			},
			Dependencies: map[string][]string{
				ExecContentGenerator: {ExecDataFetcher, ExecResearchAgent},
				ExecFormattingAgent:  {ExecContentGenerator},
				ExecQualityReviewer:  {ExecContentGenerator},
				ExecDocumentBridge:   {ExecFormattingAgent, ExecQualityReviewer},
			},
			MemoryMB:   512,
			CPUPercent: 60,
		}

	case OpDataIntegration:
		return fullPlan{
			Mode: ModeParallel,
			Tasks: []orchestrationTask{
				{ID: ExecDataFetcher, Priority: PriorityCritical},
				{ID: ExecResearchAgent, Priority: PriorityNormal},
				{ID: ExecComplianceValidator, Priority: PriorityNormal},
				{ID: ExecDocumentBridge, Priority: PriorityHigh, Gate: GateDataAccuracy},
			},
			Dependencies: map[string][]string{
				ExecDocumentBridge: {ExecDataFetcher},
			},
			MemoryMB:   384,
			CPUPercent: 50,
		}

	case OpComplianceReview:
		return fullPlan{
			Mode: ModeSequential,
			Tasks: []orchestrationTask{
				{ID: ExecStructureAnalyzer, Priority: PriorityHigh},
				{ID: ExecComplianceValidator, Priority: PriorityCritical},
				{ID: ExecQualityReviewer, Priority: PriorityNormal, Gate: GateRegulatoryCompliance},
				{ID: ExecDocumentBridge, Priority: PriorityNormal},
			},
			Dependencies: map[string][]string{
				ExecComplianceValidator: {ExecStructureAnalyzer},
				ExecQualityReviewer:     {ExecComplianceValidator},
				ExecDocumentBridge:      {ExecQualityReviewer},
			},
			MemoryMB:   256,
			CPUPercent: 40,
		}

	case OpRestructuring:
		return fullPlan{
			Mode: ModeHierarchical,
			Tasks: []orchestrationTask{
				{ID: ExecStructureAnalyzer, Priority: PriorityCritical},
				{ID: ExecDocumentBridge, Priority: PriorityHigh},
				{ID: ExecFormattingAgent, Priority: PriorityNormal, Gate: GateFormattingConsistency},
				{ID: ExecQualityReviewer, Priority: PriorityLow},
			},
			Dependencies: map[string][]string{
				ExecDocumentBridge:  {ExecStructureAnalyzer},
				ExecFormattingAgent: {ExecDocumentBridge},
				ExecQualityReviewer: {ExecFormattingAgent},
			},
			MemoryMB:   256,
			CPUPercent: 40,
		}

	case OpDocumentAnalysis:
		return fullPlan{
			Mode: ModeAdaptive,
			Tasks: []orchestrationTask{
				{ID: ExecStructureAnalyzer, Priority: PriorityCritical},
				{ID: ExecDataFetcher, Priority: PriorityNormal},
				{ID: ExecComplianceValidator, Priority: PriorityNormal},
				{ID: ExecContentGenerator, Priority: PriorityHigh},
				{ID: ExecQualityReviewer, Priority: PriorityNormal, Gate: GateContentQuality},
			},
			Dependencies: map[string][]string{
				ExecComplianceValidator: {ExecStructureAnalyzer},
				ExecContentGenerator:    {ExecStructureAnalyzer, ExecDataFetcher},
				ExecQualityReviewer:     {ExecContentGenerator},
			},
			MemoryMB:   384,
			CPUPercent: 50,
		}

	default:
		return fullPlan{
			Mode: ModeSequential,
			Tasks: []orchestrationTask{
				{ID: ExecResearchAgent, Priority: PriorityHigh},
				{ID: ExecContentGenerator, Priority: PriorityCritical},
				{ID: ExecQualityReviewer, Priority: PriorityNormal, Gate: GateContentQuality},
			},
			Dependencies: map[string][]string{
				ExecContentGenerator: {ExecResearchAgent},
				ExecQualityReviewer:  {ExecContentGenerator},
			},
			MemoryMB:   256,
			CPUPercent: 40,
		}
	}
}

// FullOrchestrationRouter executes Complex-tier plans: admission control,
// one of five orchestration modes, quality gates, checkpoints, and rollback
// on critical failure.
type FullOrchestrationRouter struct {
	registry *ExecutorRegistry
	gates    map[string]QualityGate
	limits   ResourceLimits
	window   TierTiming
	groupTO  time.Duration
	logger   *logger.Logger

	mu          sync.Mutex
	inFlight    int
	reservedMB  int
	reservedCPU float64
}

// NewFullOrchestrationRouter creates the Complex-tier router.
func NewFullOrchestrationRouter(registry *ExecutorRegistry, cfg *Config) *FullOrchestrationRouter {
	return &FullOrchestrationRouter{
		registry: registry,
		gates:    defaultQualityGates(),
		limits:   cfg.Resources,
		window:   cfg.TierWindow(TierComplex),
		groupTO:  groupTimeoutOrDefault(cfg.GroupTimeoutSeconds),
		logger:   logger.New("full-orchestration-router"),
	}
}

// fullRun is the mutable state of one Complex-tier execution.
type fullRun struct {
	req         *OperationRequest
	plan        fullPlan
	state       TaskState
	stateMu     sync.Mutex
	checkpoints *CheckpointManager
	results     map[string]*TaskResult
	completed   []string
	outcome     *RouteOutcome
}

type modeFunc func(ctx context.Context, run *fullRun) error

// Route executes the Complex-tier workflow for the assessed operation.
func (r *FullOrchestrationRouter) Route(ctx context.Context, req *OperationRequest, assessment *ComplexityAssessment) *RouteOutcome {
	start := time.Now()

	fp := fullPlanFor(assessment.Operation)

	if err := r.admit(fp); err != nil {
		outcome := &RouteOutcome{
			Success: false,
			Mode:    fp.Mode,
			Error:   err.Error(),
		}
		r.finish(outcome, start)
		return outcome
	}
	defer r.release(fp)

	run := &fullRun{
		req:         req,
		plan:        fp,
		state:       newRunState(req),
		checkpoints: NewCheckpointManager(),
		results:     make(map[string]*TaskResult),
		outcome: &RouteOutcome{
			Mode:               fp.Mode,
			ParallelEfficiency: 1.0,
		},
	}

	modes := map[OrchestrationMode]modeFunc{
		ModeSequential:   r.runSequential,
		ModeParallel:     r.runParallel,
		ModePipeline:     r.runPipeline,
		ModeAdaptive:     r.runAdaptive,
		ModeHierarchical: r.runHierarchical,
	}

	mode, ok := modes[fp.Mode]
	if !ok {
		mode = r.runSequential
	}

	err := mode(ctx, run)

	outcome := run.outcome
	outcome.CheckpointsCreated = run.checkpoints.Count()
	outcome.Success = err == nil
	if err != nil && outcome.Error == "" {
		outcome.Error = err.Error()
	}
	if len(outcome.Results) > 0 {
		outcome.Payload = outcome.Results[len(outcome.Results)-1].Output
	}
	outcome.QualityScore = r.scoreQuality(outcome)
	r.finish(outcome, start)

	r.logger.InfoWithDuration(req.RequestID, "full orchestration complete", float64(outcome.DurationMs), map[string]interface{}{
		"mode":        string(fp.Mode),
		"success":     outcome.Success,
		"checkpoints": outcome.CheckpointsCreated,
		"rollbacks":   outcome.RollbacksPerformed,
	})

	return outcome
}

// admit reserves capacity for the run: the widest layer of the plan counts
// against the concurrent-executor ceiling, and the plan's estimated memory
// and CPU demand count against the host limits.
func (r *FullOrchestrationRouter) admit(fp fullPlan) error {
	width := r.admissionWidth(fp)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight+width > r.limits.MaxConcurrentExecutors {
		return fmt.Errorf("%w: workflow needs %d executors, %d of %d already in flight",
			ErrResourceLimit, width, r.inFlight, r.limits.MaxConcurrentExecutors)
	}
	if r.limits.MaxMemoryMB > 0 && r.reservedMB+fp.MemoryMB > r.limits.MaxMemoryMB {
		return fmt.Errorf("%w: workflow needs %dMB memory, %dMB of %dMB already reserved",
			ErrResourceLimit, fp.MemoryMB, r.reservedMB, r.limits.MaxMemoryMB)
	}
	if r.limits.MaxCPUPercent > 0 && r.reservedCPU+fp.CPUPercent > r.limits.MaxCPUPercent {
		return fmt.Errorf("%w: workflow needs %.0f%% CPU, %.0f%% of %.0f%% already reserved",
			ErrResourceLimit, fp.CPUPercent, r.reservedCPU, r.limits.MaxCPUPercent)
	}

	r.inFlight += width
	r.reservedMB += fp.MemoryMB
	r.reservedCPU += fp.CPUPercent
	return nil
}

func (r *FullOrchestrationRouter) release(fp fullPlan) {
	width := r.admissionWidth(fp)
	r.mu.Lock()
	r.inFlight -= width
	r.reservedMB -= fp.MemoryMB
	r.reservedCPU -= fp.CPUPercent
	if r.inFlight < 0 {
		r.inFlight = 0
	}
	if r.reservedMB < 0 {
		r.reservedMB = 0
	}
	if r.reservedCPU < 0 {
		r.reservedCPU = 0
	}
	r.mu.Unlock()
}

// admissionWidth is how many executor slots a plan reserves. Adaptive plans
// bound their batches to the ceiling at execution time, so they never need
// more than the ceiling itself.
func (r *FullOrchestrationRouter) admissionWidth(fp fullPlan) int {
	width := maxLayerWidth(fp)
	if fp.Mode == ModeAdaptive && width > r.limits.MaxConcurrentExecutors {
		width = r.limits.MaxConcurrentExecutors
	}
	return width
}

func maxLayerWidth(fp fullPlan) int {
	width := 1
	for _, layer := range layerTasks(fp.executorIDs(), fp.Dependencies) {
		if len(layer) > width {
			width = len(layer)
		}
	}
	return width
}

// runSequential executes tasks in declared order with an agent-completion
// checkpoint after every critical or high priority task.
func (r *FullOrchestrationRouter) runSequential(ctx context.Context, run *fullRun) error {
	for _, task := range run.plan.Tasks {
		if err := r.executeTask(ctx, run, task); err != nil {
			return err
		}
	}
	run.checkpoints.Create(CheckpointPhaseCompletion, run.state, run.completed)
	return nil
}

// runParallel fans each dependency layer out concurrently with a
// phase-completion checkpoint between layers.
func (r *FullOrchestrationRouter) runParallel(ctx context.Context, run *fullRun) error {
	layers := layerTasks(run.plan.executorIDs(), run.plan.Dependencies)
	for _, layer := range layers {
		if err := r.executeLayer(ctx, run, layer); err != nil {
			return err
		}
		run.checkpoints.Create(CheckpointPhaseCompletion, run.state, run.completed)
	}
	return nil
}

// runPipeline derives stages from the dependency map: tasks whose
// dependencies are all satisfied share a stage and run concurrently, and
// each stage's state updates feed the next through a phase-completion
// checkpoint.
func (r *FullOrchestrationRouter) runPipeline(ctx context.Context, run *fullRun) error {
	stages := layerTasks(run.plan.executorIDs(), run.plan.Dependencies)
	for i, stage := range stages {
		if err := r.executeLayer(ctx, run, stage); err != nil {
			return err
		}
		run.stateMu.Lock()
		run.state["pipeline_stage"] = i + 1
		run.stateMu.Unlock()
		run.checkpoints.Create(CheckpointPhaseCompletion, run.state, run.completed)
	}
	return nil
}

// runAdaptive re-evaluates the ready set after every batch and executes a
// resource-bounded slice of it: at most the concurrency ceiling runs at
// once, and the residue rejoins the ready set for the next round.
func (r *FullOrchestrationRouter) runAdaptive(ctx context.Context, run *fullRun) error {
	for _, ready := range layerTasks(run.plan.executorIDs(), run.plan.Dependencies) {
		for len(ready) > 0 {
			batch := ready
			if limit := r.limits.MaxConcurrentExecutors; limit > 0 && len(batch) > limit {
				batch = ready[:limit]
			}
			ready = ready[len(batch):]

			if len(batch) == 1 {
				if err := r.executeTask(ctx, run, run.plan.task(batch[0])); err != nil {
					return err
				}
				continue
			}
			if err := r.executeLayer(ctx, run, batch); err != nil {
				return err
			}
		}
		run.checkpoints.Create(CheckpointPhaseCompletion, run.state, run.completed)
	}
	return nil
}

// runHierarchical drains tasks in priority order, but a task never starts
// before its in-plan dependencies finish: each round runs the
// highest-priority slice of the ready set as one level.
func (r *FullOrchestrationRouter) runHierarchical(ctx context.Context, run *fullRun) error {
	rank := map[TaskPriority]int{PriorityCritical: 0, PriorityHigh: 1, PriorityNormal: 2, PriorityLow: 3}

	inPlan := make(map[string]bool, len(run.plan.Tasks))
	for _, task := range run.plan.Tasks {
		inPlan[task.ID] = true
	}

	scheduled := make(map[string]bool, len(run.plan.Tasks))
	remaining := len(run.plan.Tasks)

	for remaining > 0 {
		best := -1
		var level []string
		for _, task := range run.plan.Tasks {
			if scheduled[task.ID] {
				continue
			}
			ready := true
			for _, dep := range run.plan.Dependencies[task.ID] {
				// Dependencies outside the plan are treated as satisfied.
				if inPlan[dep] && !scheduled[dep] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			if best == -1 || rank[task.Priority] < best {
				best = rank[task.Priority]
				level = []string{task.ID}
			} else if rank[task.Priority] == best {
				level = append(level, task.ID)
			}
		}

		if len(level) == 0 {
			// Cycle: flatten whatever is left into one level.
			for _, task := range run.plan.Tasks {
				if !scheduled[task.ID] {
					level = append(level, task.ID)
				}
			}
		}

		if err := r.executeLayer(ctx, run, level); err != nil {
			return err
		}
		for _, id := range level {
			scheduled[id] = true
		}
		remaining -= len(level)
		run.checkpoints.Create(CheckpointPhaseCompletion, run.state, run.completed)
	}
	return nil
}

// executeLayer runs a batch of tasks concurrently. Gated tasks whose gate
// fails are dropped from the batch before the fan-out.
func (r *FullOrchestrationRouter) executeLayer(ctx context.Context, run *fullRun, layer []string) error {
	var admitted []string
	for _, id := range layer {
		task := run.plan.task(id)
		if r.gateBlocks(run, task) {
			continue
		}
		admitted = append(admitted, id)
	}
	if len(admitted) == 0 {
		return nil
	}

	if len(admitted) == 1 {
		return r.invokeAndRecord(ctx, run, run.plan.task(admitted[0]))
	}

	groupStart := time.Now()
	results := executeGroup(ctx, r.registry, admitted, run.state, &run.stateMu, r.groupTO)
	eff := parallelEfficiency(results, time.Since(groupStart).Milliseconds())
	if eff < run.outcome.ParallelEfficiency {
		run.outcome.ParallelEfficiency = eff
	}

	var abortErr error
	for i := range results {
		task := run.plan.task(results[i].ExecutorID)
		if err := r.recordResult(run, task, results[i]); err != nil && abortErr == nil {
			abortErr = err
		}
	}
	if abortErr != nil {
		return r.recoverOrAbort(run, abortErr)
	}
	return nil
}

// executeTask runs one task inline, honoring its gate.
func (r *FullOrchestrationRouter) executeTask(ctx context.Context, run *fullRun, task orchestrationTask) error {
	if r.gateBlocks(run, task) {
		return nil
	}
	return r.invokeAndRecord(ctx, run, task)
}

func (r *FullOrchestrationRouter) invokeAndRecord(ctx context.Context, run *fullRun, task orchestrationTask) error {
	result := r.registry.Invoke(ctx, task.ID, run.state)
	run.stateMu.Lock()
	applyStateUpdates(run.state, &result)
	run.stateMu.Unlock()

	if err := r.recordResult(run, task, result); err != nil {
		return r.recoverOrAbort(run, err)
	}
	return nil
}

// gateBlocks evaluates the task's quality gate. A failed gate logs a warning
// and skips the task; it never aborts the workflow.
func (r *FullOrchestrationRouter) gateBlocks(run *fullRun, task orchestrationTask) bool {
	if task.Gate == "" {
		return false
	}
	gate, ok := r.gates[task.Gate]
	if !ok {
		return false
	}
	if err := gate(run.state, run.results); err != nil {
		warning := fmt.Sprintf("quality gate %s blocked %s: %s", task.Gate, task.ID, err.Error())
		run.outcome.Warnings = append(run.outcome.Warnings, warning)
		r.logger.Warn(run.req.RequestID, "quality gate failed, skipping task", map[string]interface{}{
			"gate": task.Gate,
			"task": task.ID,
		})
		return true
	}
	return false
}

// recordResult folds one task result into the run. A failure on a critical
// or high priority task returns an error; lower priorities degrade to
// warnings.
func (r *FullOrchestrationRouter) recordResult(run *fullRun, task orchestrationTask, result TaskResult) error {
	stored := result
	run.results[task.ID] = &stored
	run.outcome.Results = append(run.outcome.Results, result)
	run.outcome.AgentsUsed = append(run.outcome.AgentsUsed, task.ID)
	run.outcome.Warnings = append(run.outcome.Warnings, result.Warnings...)

	if result.Success {
		run.completed = append(run.completed, task.ID)
		if task.Priority == PriorityCritical || task.Priority == PriorityHigh {
			run.checkpoints.Create(CheckpointAgentCompletion, run.state, run.completed)
		}
		return nil
	}

	if task.Priority == PriorityCritical || task.Priority == PriorityHigh {
		return fmt.Errorf("%w: %s (%s priority): %s", errCriticalAbort, task.ID, task.Priority, result.Error)
	}

	run.outcome.Warnings = append(run.outcome.Warnings,
		fmt.Sprintf("%s priority task %s failed: %s", task.Priority, task.ID, result.Error))
	return nil
}

// recoverOrAbort rolls the run back to its latest checkpoint after a
// critical failure. The workflow still reports failure; rollback only
// guarantees the shared state is left at a known-good snapshot.
func (r *FullOrchestrationRouter) recoverOrAbort(run *fullRun, cause error) error {
	// Counts the attempt: even a failed restore is a rollback the caller
	// must know about.
	run.outcome.RollbacksPerformed++

	run.stateMu.Lock()
	cp, err := run.checkpoints.Rollback(run.state)
	run.stateMu.Unlock()

	if err != nil {
		run.outcome.Error = fmt.Sprintf("%v: %v (original failure: %v)", ErrRollbackFailed, err, cause)
		return cause
	}
	run.checkpoints.Create(CheckpointErrorRecovery, run.state, cp.CompletedExecutors)

	r.logger.Warn(run.req.RequestID, "rolled back to checkpoint after critical failure", map[string]interface{}{
		"checkpoint": cp.ID,
		"kind":       string(cp.Kind),
		"cause":      cause.Error(),
	})

	return cause
}

// scoreQuality rates a Complex-tier run from success ratio, rollback count,
// and gate interference.
func (r *FullOrchestrationRouter) scoreQuality(outcome *RouteOutcome) float64 {
	if !outcome.Success {
		return 0
	}
	succeeded := 0
	for _, result := range outcome.Results {
		if result.Success {
			succeeded++
		}
	}
	ratio := 1.0
	if len(outcome.Results) > 0 {
		ratio = float64(succeeded) / float64(len(outcome.Results))
	}
	score := 0.6*ratio + 0.2
	if outcome.RollbacksPerformed == 0 {
		score += 0.1
	}
	if len(outcome.Warnings) == 0 {
		score += 0.1
	}
	return capFloat(score, 1.0)
}

func (r *FullOrchestrationRouter) finish(outcome *RouteOutcome, start time.Time) {
	elapsed := time.Since(start)
	outcome.DurationMs = elapsed.Milliseconds()
	seconds := elapsed.Seconds()
	outcome.TargetMet = seconds <= r.window.MaxSeconds
	outcome.BelowFloor = seconds < r.window.MinSeconds
}

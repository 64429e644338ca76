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
	"time"
)

// ComplexityTier classifies a request and drives routing and latency targets.
type ComplexityTier string

const (
	TierSimple   ComplexityTier = "simple"
	TierModerate ComplexityTier = "moderate"
	TierComplex  ComplexityTier = "complex"
)

// OperationType tags the kind of document operation a request asks for.
type OperationType string

const (
	OpTextEdit          OperationType = "text-edit"
	OpFormatting        OperationType = "formatting"
	OpContentGeneration OperationType = "content-generation"
	OpRestructuring     OperationType = "restructuring"
	OpDocumentAnalysis  OperationType = "document-analysis"
	OpDataIntegration   OperationType = "data-integration"
	OpReportGeneration  OperationType = "report-generation"
	OpComplianceReview  OperationType = "compliance-review"
)

// OrchestrationMode selects the execution strategy for a plan.
type OrchestrationMode string

const (
	ModeDirect       OrchestrationMode = "direct"
	ModeSequential   OrchestrationMode = "sequential"
	ModeParallel     OrchestrationMode = "parallel"
	ModePipeline     OrchestrationMode = "pipeline"
	ModeAdaptive     OrchestrationMode = "adaptive"
	ModeHierarchical OrchestrationMode = "hierarchical"
)

// TaskPriority ranks a task inside a full-orchestration plan. Critical and
// high priority failures abort the workflow; normal and low degrade to
// warnings.
type TaskPriority string

const (
	PriorityCritical TaskPriority = "critical"
	PriorityHigh     TaskPriority = "high"
	PriorityNormal   TaskPriority = "normal"
	PriorityLow      TaskPriority = "low"
)

// DocumentContext is the read-only snapshot of the host document that
// accompanies a request.
type DocumentContext struct {
	Path           string `json:"path,omitempty"`
	Title          string `json:"title,omitempty"`
	DocType        string `json:"doc_type,omitempty"`
	CursorPosition int    `json:"cursor_position,omitempty"`
	SelectionText  string `json:"selection_text,omitempty"`
	ParagraphCount int    `json:"paragraph_count,omitempty"`
	SectionCount   int    `json:"section_count,omitempty"`
	TableCount     int    `json:"table_count,omitempty"`
	ChartCount     int    `json:"chart_count,omitempty"`
	CurrentStyle   string `json:"current_style,omitempty"`
	CurrentFont    string `json:"current_font,omitempty"`
}

// OperationRequest is one incoming document-operation request.
type OperationRequest struct {
	RequestID string           `json:"request_id"`
	Text      string           `json:"text"`
	Document  *DocumentContext `json:"document,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// ComplexityFactors are the features extracted from a request before scoring.
type ComplexityFactors struct {
	RequestLength        int     `json:"request_length"`
	KeywordCount         int     `json:"keyword_count"`
	TechnicalTerms       int     `json:"technical_terms"`
	ActionVerbs          int     `json:"action_verbs"`
	DocumentParagraphs   int     `json:"document_paragraphs"`
	StructuralElements   int     `json:"structural_elements"`
	NeedsExternalData    bool    `json:"needs_external_data"`
	MultiStep            bool    `json:"multi_step"`
	FormattingComplexity float64 `json:"formatting_complexity"`
	ValidationComplexity float64 `json:"validation_complexity"`
	UrgencyModifier      float64 `json:"urgency_modifier"`
	QualityModifier      float64 `json:"quality_modifier"`
}

// ComplexityAssessment is the analyzer's verdict for a request.
type ComplexityAssessment struct {
	Tier             ComplexityTier    `json:"tier"`
	Operation        OperationType     `json:"operation"`
	Confidence       float64           `json:"confidence"`
	EstimatedSeconds float64           `json:"estimated_seconds"`
	Reasoning        string            `json:"reasoning"`
	FallbackTier     *ComplexityTier   `json:"fallback_tier,omitempty"`
	Factors          ComplexityFactors `json:"factors"`
	RuleScore        float64           `json:"rule_score"`
	AdvisorUsed      bool              `json:"advisor_used"`
}

// OrchestrationPlan describes how a request will be executed.
type OrchestrationPlan struct {
	OperationID      string              `json:"operation_id"`
	Tier             ComplexityTier      `json:"tier"`
	Mode             OrchestrationMode   `json:"mode"`
	Executors        []string            `json:"executors"`
	ParallelGroups   [][]string          `json:"parallel_groups"`
	Dependencies     map[string][]string `json:"dependencies"`
	EstimatedSeconds float64             `json:"estimated_seconds"`
	Hints            []string            `json:"hints,omitempty"`
	ApprovalRequired bool                `json:"approval_required"`
	RollbackStrategy string              `json:"rollback_strategy"`
}

// Rollback strategy tags, one per tier.
const (
	RollbackRetryBasic    = "retry-basic-executors"
	RollbackSimplify      = "fallback-simpler-workflow"
	RollbackDegradeNotice = "graceful-degradation-with-notification"
)

// TaskState is the mutable shared state a workflow run threads through its
// executors. Keys are owned by the executors that write them.
type TaskState map[string]interface{}

// Clone returns a copy of the state with nested maps copied one level deep.
func (s TaskState) Clone() TaskState {
	out := make(TaskState, len(s))
	for k, v := range s {
		if m, ok := v.(map[string]interface{}); ok {
			inner := make(map[string]interface{}, len(m))
			for ik, iv := range m {
				inner[ik] = iv
			}
			out[k] = inner
			continue
		}
		out[k] = v
	}
	return out
}

// TaskResult is the uniform outcome every specialist executor reports.
type TaskResult struct {
	ExecutorID      string                 `json:"executor_id"`
	Success         bool                   `json:"success"`
	Output          map[string]interface{} `json:"output,omitempty"`
	Error           string                 `json:"error,omitempty"`
	ExecutionTimeMs int64                  `json:"execution_time_ms"`
	StateUpdates    map[string]interface{} `json:"state_updates,omitempty"`
	Warnings        []string               `json:"warnings,omitempty"`
}

// CheckpointKind tags why a checkpoint was taken.
type CheckpointKind string

const (
	CheckpointAgentCompletion CheckpointKind = "agent-completion"
	CheckpointPhaseCompletion CheckpointKind = "phase-completion"
	CheckpointErrorRecovery   CheckpointKind = "error-recovery"
	CheckpointApproval        CheckpointKind = "approval"
)

// ExecutionCheckpoint is a snapshot of workflow state used for rollback.
type ExecutionCheckpoint struct {
	ID                 string         `json:"id"`
	Kind               CheckpointKind `json:"kind"`
	Timestamp          time.Time      `json:"timestamp"`
	State              TaskState      `json:"state"`
	CompletedExecutors []string       `json:"completed_executors"`
}

// MetricKind classifies a performance metric sample.
type MetricKind string

const (
	MetricLatency       MetricKind = "latency"
	MetricSuccessRate   MetricKind = "success-rate"
	MetricResourceUsage MetricKind = "resource-usage"
	MetricQualityScore  MetricKind = "quality-score"
)

// PerformanceMetric is one sample ingested by the performance monitor.
type PerformanceMetric struct {
	Kind      MetricKind        `json:"kind"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// RequestPattern tracks a recurring class of requests, keyed by operation
// type plus a coarse lexical bucket of the request text.
type RequestPattern struct {
	ID                    string    `json:"id"`
	Type                  string    `json:"type"`
	Tier                  string    `json:"tier"`
	Frequency             int       `json:"frequency"`
	SuccessRate           float64   `json:"success_rate"`
	AvgLatencyMs          float64   `json:"avg_latency_ms"`
	OptimizationPotential float64   `json:"optimization_potential"`
	LastSeen              time.Time `json:"last_seen"`
}

// RecommendationCategory buckets an optimization recommendation.
type RecommendationCategory string

const (
	RecommendCaching  RecommendationCategory = "caching"
	RecommendRouting  RecommendationCategory = "routing"
	RecommendWorkflow RecommendationCategory = "workflow"
	RecommendResource RecommendationCategory = "resource"
)

// OptimizationRecommendation is a candidate tuning surfaced (or applied) by
// the performance monitor.
type OptimizationRecommendation struct {
	ID                  string                 `json:"id"`
	Priority            string                 `json:"priority"` // high, medium, low
	Category            RecommendationCategory `json:"category"`
	Description         string                 `json:"description"`
	ExpectedImprovement float64                `json:"expected_improvement"` // fraction, 0..1
	Effort              float64                `json:"effort"`               // 0..1
	Risk                float64                `json:"risk"`                 // 0..1
	Actions             []string               `json:"actions,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
}

// AlertSeverity ranks a system alert.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityError    AlertSeverity = "error"
	SeverityCritical AlertSeverity = "critical"
)

// SystemAlert reports persistent degradation to operators.
type SystemAlert struct {
	ID          string        `json:"id"`
	Severity    AlertSeverity `json:"severity"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Timestamp   time.Time     `json:"timestamp"`
	Components  []string      `json:"components,omitempty"`
}

// RouteOutcome is what each router returns to the orchestrator before
// aggregation into the final OperationResult.
type RouteOutcome struct {
	Success            bool                   `json:"success"`
	Mode               OrchestrationMode      `json:"mode"`
	AgentsUsed         []string               `json:"agents_used"`
	Results            []TaskResult           `json:"results"`
	Warnings           []string               `json:"warnings,omitempty"`
	Error              string                 `json:"error,omitempty"`
	CheckpointsCreated int                    `json:"checkpoints_created"`
	RollbacksPerformed int                    `json:"rollbacks_performed"`
	Cached             bool                   `json:"cached"`
	DirectPath         bool                   `json:"direct_path"`
	QualityScore       float64                `json:"quality_score"`
	ParallelEfficiency float64                `json:"parallel_efficiency"`
	DurationMs         int64                  `json:"duration_ms"`
	TargetMet          bool                   `json:"target_met"`
	BelowFloor         bool                   `json:"below_floor"`
	Payload            map[string]interface{} `json:"payload,omitempty"`
}

// OperationResult is the structured response returned to the host process
// for every routed operation. No raw errors cross this boundary.
type OperationResult struct {
	RequestID          string                 `json:"request_id"`
	Success            bool                   `json:"success"`
	Tier               ComplexityTier         `json:"tier"`
	Mode               OrchestrationMode      `json:"mode"`
	AgentsUsed         []string               `json:"agents_used"`
	ExecutionTimeMs    int64                  `json:"execution_time_ms"`
	ParallelEfficiency float64                `json:"parallel_efficiency"`
	QualityScore       float64                `json:"quality_score"`
	CheckpointsCreated int                    `json:"checkpoints_created"`
	RollbacksPerformed int                    `json:"rollbacks_performed"`
	Confidence         float64                `json:"confidence"`
	TargetMet          bool                   `json:"target_met"`
	Cached             bool                   `json:"cached"`
	FallbackApplied    string                 `json:"fallback_applied,omitempty"`
	Result             map[string]interface{} `json:"result,omitempty"`
	Warnings           []string               `json:"warnings,omitempty"`
	Error              string                 `json:"error,omitempty"`
}

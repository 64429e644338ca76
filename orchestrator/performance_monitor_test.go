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
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordN(m *PerformanceMonitor, n int, tier ComplexityTier, op OperationType, durationMs int64, success bool) {
	for i := 0; i < n; i++ {
		m.RecordOperation(
			&ComplexityAssessment{Tier: tier, Operation: op},
			&RouteOutcome{Success: success, DurationMs: durationMs, QualityScore: 0.8},
		)
	}
}

func TestOptimizationPotentialForSlowFrequentPattern(t *testing.T) {
	monitor := NewPerformanceMonitor(DefaultConfig())

	// Eleven moderate summaries averaging 4.5s against a 3.0s target.
	recordN(monitor, 11, TierModerate, OpContentGeneration, 4500, true)

	patterns := monitor.Patterns()
	require.Len(t, patterns, 1)
	pattern := patterns[0]

	assert.Equal(t, 11, pattern.Frequency)
	assert.InDelta(t, 4500, pattern.AvgLatencyMs, 0.5)
	assert.InDelta(t, 1.0, pattern.SuccessRate, 0.001)
	// freq 1.0*0.35 + latency 0.5*0.35 + failures 0 + recency 0.1
	assert.InDelta(t, 0.625, pattern.OptimizationPotential, 0.01)
}

func TestOptimizationPotentialGrowsWithFrequency(t *testing.T) {
	monitor := NewPerformanceMonitor(DefaultConfig())

	var last float64
	for i := 0; i < 8; i++ {
		recordN(monitor, 1, TierModerate, OpContentGeneration, 4500, true)
		patterns := monitor.Patterns()
		require.Len(t, patterns, 1)
		assert.GreaterOrEqual(t, patterns[0].OptimizationPotential, last)
		last = patterns[0].OptimizationPotential
	}
}

func TestRecommendationsForHighPotentialPatterns(t *testing.T) {
	monitor := NewPerformanceMonitor(DefaultConfig())
	recordN(monitor, 11, TierModerate, OpContentGeneration, 4500, true)

	monitor.Analyze()

	recs := monitor.Recommendations()
	require.NotEmpty(t, recs)
	assert.Equal(t, "high", recs[0].Priority)
	// A reliable repeated pattern is a caching candidate.
	assert.Equal(t, RecommendCaching, recs[0].Category)
	assert.NotEmpty(t, recs[0].Actions)
}

func TestPatternsKeyedByLexicalBucket(t *testing.T) {
	monitor := NewPerformanceMonitor(DefaultConfig())

	terse := &ComplexityAssessment{Tier: TierModerate, Operation: OpContentGeneration,
		Factors: ComplexityFactors{RequestLength: 4}}
	verbose := &ComplexityAssessment{Tier: TierModerate, Operation: OpContentGeneration,
		Factors: ComplexityFactors{RequestLength: 60}}
	outcome := &RouteOutcome{Success: true, DurationMs: 2000}

	monitor.RecordOperation(terse, outcome)
	monitor.RecordOperation(verbose, outcome)

	patterns := monitor.Patterns()
	require.Len(t, patterns, 2)
	ids := map[string]bool{}
	for _, pattern := range patterns {
		ids[pattern.ID] = true
		assert.Equal(t, string(OpContentGeneration), pattern.Type)
		assert.Equal(t, string(TierModerate), pattern.Tier)
	}
	assert.True(t, ids["content-generation:terse"], "patterns: %v", ids)
	assert.True(t, ids["content-generation:verbose"], "patterns: %v", ids)
}

func TestRecommendationCounterCountsOnlyNewRecommendations(t *testing.T) {
	monitor := NewPerformanceMonitor(DefaultConfig())
	recordN(monitor, 11, TierModerate, OpContentGeneration, 4500, true)

	before := testutil.ToFloat64(recommendationsTotal.WithLabelValues(string(RecommendCaching)))
	monitor.Analyze()
	monitor.Analyze()
	after := testutil.ToFloat64(recommendationsTotal.WithLabelValues(string(RecommendCaching)))

	// The pattern persists across both cycles but is one recommendation.
	assert.InDelta(t, 1.0, after-before, 0.001)
	assert.NotEmpty(t, monitor.Recommendations())
}

func TestNoRecommendationsForHealthyPatterns(t *testing.T) {
	monitor := NewPerformanceMonitor(DefaultConfig())
	// On-target latency, perfect success rate, low frequency.
	recordN(monitor, 2, TierModerate, OpContentGeneration, 2500, true)

	monitor.Analyze()

	assert.Empty(t, monitor.Recommendations())
}

func TestRecommendationRanking(t *testing.T) {
	cheap := OptimizationRecommendation{Priority: "high", ExpectedImprovement: 0.3, Effort: 0.2, Risk: 0.2}
	costly := OptimizationRecommendation{Priority: "high", ExpectedImprovement: 0.3, Effort: 0.6, Risk: 0.4}
	lowPri := OptimizationRecommendation{Priority: "low", ExpectedImprovement: 0.3, Effort: 0.2, Risk: 0.2}

	assert.Greater(t, recommendationRank(cheap), recommendationRank(costly))
	assert.Greater(t, recommendationRank(cheap), recommendationRank(lowPri))
}

func TestLatencyTrendAlert(t *testing.T) {
	monitor := NewPerformanceMonitor(DefaultConfig())

	recordN(monitor, 3, TierModerate, OpContentGeneration, 1000, true)
	recordN(monitor, 3, TierModerate, OpContentGeneration, 2500, true)

	monitor.Analyze()

	alerts := monitor.Alerts()
	found := false
	for _, alert := range alerts {
		if alert.Title == "latency trending up" {
			found = true
			assert.Equal(t, SeverityWarning, alert.Severity)
		}
	}
	assert.True(t, found, "alerts: %+v", alerts)
}

func TestSuccessRateAlerts(t *testing.T) {
	monitor := NewPerformanceMonitor(DefaultConfig())

	recordN(monitor, 4, TierModerate, OpContentGeneration, 1000, true)
	recordN(monitor, 4, TierModerate, OpContentGeneration, 1000, false)

	monitor.Analyze()

	titles := map[string]bool{}
	for _, alert := range monitor.Alerts() {
		titles[alert.Title] = true
	}
	assert.True(t, titles["success rate trending down"], "alerts: %v", titles)
	assert.True(t, titles["success rate below threshold"], "alerts: %v", titles)
}

func TestAlertsAreDeduplicated(t *testing.T) {
	monitor := NewPerformanceMonitor(DefaultConfig())
	recordN(monitor, 4, TierModerate, OpContentGeneration, 1000, false)

	monitor.Analyze()
	monitor.Analyze()

	count := 0
	for _, alert := range monitor.Alerts() {
		if alert.Title == "success rate below threshold" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestAutoApplyUnderAggressiveStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OptimizationStrategy = "aggressive"
	monitor := NewPerformanceMonitor(cfg)

	applied := make(chan OptimizationRecommendation, 4)
	monitor.RegisterCallback(RecommendCaching, func(rec OptimizationRecommendation) error {
		applied <- rec
		return nil
	})

	recordN(monitor, 11, TierModerate, OpContentGeneration, 4500, true)
	monitor.Analyze()

	select {
	case rec := <-applied:
		assert.Equal(t, RecommendCaching, rec.Category)
	default:
		t.Fatal("expected the caching recommendation to be auto-applied")
	}

	// Re-analysis must not re-apply the same recommendation.
	monitor.Analyze()
	select {
	case <-applied:
		t.Fatal("recommendation applied twice")
	default:
	}
}

func TestNoAutoApplyUnderBalancedStrategy(t *testing.T) {
	monitor := NewPerformanceMonitor(DefaultConfig()) // balanced

	called := false
	monitor.RegisterCallback(RecommendCaching, func(rec OptimizationRecommendation) error {
		called = true
		return nil
	})

	recordN(monitor, 11, TierModerate, OpContentGeneration, 4500, true)
	monitor.Analyze()

	assert.False(t, called)
	assert.NotEmpty(t, monitor.Recommendations())
}

func TestResourceUtilizationAlertAndRecommendation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resources.MaxConcurrentExecutors = 4
	monitor := NewPerformanceMonitor(cfg)

	agents := []string{ExecDataFetcher, ExecResearchAgent, ExecContentGenerator, ExecQualityReviewer}
	for i := 0; i < 3; i++ {
		monitor.RecordOperation(
			&ComplexityAssessment{Tier: TierComplex, Operation: OpReportGeneration},
			&RouteOutcome{Success: true, DurationMs: 4000, AgentsUsed: agents},
		)
	}

	monitor.Analyze()

	foundAlert := false
	for _, alert := range monitor.Alerts() {
		if alert.Title == "executor utilization above threshold" {
			foundAlert = true
		}
	}
	assert.True(t, foundAlert)

	foundRec := false
	for _, rec := range monitor.Recommendations() {
		if rec.Category == RecommendResource {
			foundRec = true
		}
	}
	assert.True(t, foundRec)
}

func TestRetentionPrunesOldMetrics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retention.MetricsMinutes = 0
	monitor := NewPerformanceMonitor(cfg)

	recordN(monitor, 3, TierModerate, OpContentGeneration, 1000, true)
	monitor.Analyze()

	// With a zero-minute window every retained metric is stale, so the
	// threshold scan has nothing to alert on.
	assert.Empty(t, monitor.Alerts())
}

func TestStartStopIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MonitorIntervalSeconds = 1
	monitor := NewPerformanceMonitor(cfg)

	monitor.Start()
	monitor.Start()
	time.Sleep(10 * time.Millisecond)
	monitor.Stop()
	monitor.Stop()
}

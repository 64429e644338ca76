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
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"docflow/platform/shared/logger"
)

const maxMetricBuffer = 5000

// OptimizationCallback applies one recommendation. Registered per category;
// the monitor invokes it when the active strategy allows auto-application.
type OptimizationCallback func(rec OptimizationRecommendation) error

// PerformanceMonitor ingests per-operation outcomes, tracks recurring
// request patterns, and periodically turns what it sees into ranked
// optimization recommendations and operator alerts. Under the aggressive and
// adaptive strategies it applies low-effort low-risk recommendations itself
// through registered callbacks.
type PerformanceMonitor struct {
	cfg    *Config
	logger *logger.Logger

	mu              sync.Mutex
	metrics         []PerformanceMetric
	patterns        map[string]*RequestPattern
	recommendations []OptimizationRecommendation
	alerts          []SystemAlert
	callbacks       map[RecommendationCategory]OptimizationCallback
	applied         map[string]bool
	surfaced        map[string]bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewPerformanceMonitor creates a monitor with empty state.
func NewPerformanceMonitor(cfg *Config) *PerformanceMonitor {
	return &PerformanceMonitor{
		cfg:       cfg,
		logger:    logger.New("performance-monitor"),
		patterns:  make(map[string]*RequestPattern),
		callbacks: make(map[RecommendationCategory]OptimizationCallback),
		applied:   make(map[string]bool),
		surfaced:  make(map[string]bool),
	}
}

// RegisterCallback installs the apply function for one recommendation
// category.
func (m *PerformanceMonitor) RegisterCallback(category RecommendationCategory, fn OptimizationCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[category] = fn
}

// RecordOperation ingests the outcome of one routed operation.
func (m *PerformanceMonitor) RecordOperation(assessment *ComplexityAssessment, outcome *RouteOutcome) {
	now := time.Now()
	tier := string(assessment.Tier)

	operationsTotal.WithLabelValues(tier, strconv.FormatBool(outcome.Success)).Inc()
	operationDuration.WithLabelValues(tier).Observe(float64(outcome.DurationMs) / 1000)
	if outcome.RollbacksPerformed > 0 {
		rollbacksTotal.Add(float64(outcome.RollbacksPerformed))
	}
	if outcome.Cached {
		cacheHitsTotal.Inc()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tags := map[string]string{"tier": tier, "operation": string(assessment.Operation)}
	m.appendMetric(PerformanceMetric{Kind: MetricLatency, Value: float64(outcome.DurationMs), Timestamp: now, Tags: tags})
	m.appendMetric(PerformanceMetric{Kind: MetricSuccessRate, Value: boolToFloat(outcome.Success), Timestamp: now, Tags: tags})
	if outcome.QualityScore > 0 {
		m.appendMetric(PerformanceMetric{Kind: MetricQualityScore, Value: outcome.QualityScore, Timestamp: now, Tags: tags})
	}
	if limit := m.cfg.Resources.MaxConcurrentExecutors; limit > 0 {
		usage := float64(len(outcome.AgentsUsed)) / float64(limit)
		m.appendMetric(PerformanceMetric{Kind: MetricResourceUsage, Value: capFloat(usage, 1.0), Timestamp: now, Tags: tags})
	}

	key := string(assessment.Operation) + ":" + lexicalBucket(assessment.Factors)
	pattern, ok := m.patterns[key]
	if !ok {
		pattern = &RequestPattern{ID: key, Type: string(assessment.Operation)}
		m.patterns[key] = pattern
	}
	pattern.Tier = tier

	// Running averages over the pattern's lifetime.
	n := float64(pattern.Frequency)
	pattern.AvgLatencyMs = (pattern.AvgLatencyMs*n + float64(outcome.DurationMs)) / (n + 1)
	pattern.SuccessRate = (pattern.SuccessRate*n + boolToFloat(outcome.Success)) / (n + 1)
	pattern.Frequency++
	pattern.LastSeen = now
	pattern.OptimizationPotential = m.optimizationPotential(pattern, m.targetLatencyMs(assessment.Tier), now)
}

func (m *PerformanceMonitor) appendMetric(metric PerformanceMetric) {
	m.metrics = append(m.metrics, metric)
	if len(m.metrics) > maxMetricBuffer {
		m.metrics = m.metrics[len(m.metrics)-maxMetricBuffer:]
	}
}

func (m *PerformanceMonitor) targetLatencyMs(tier ComplexityTier) float64 {
	return m.cfg.TierWindow(tier).TargetSeconds * 1000
}

// lexicalBucket coarsely classifies request length so a terse command and a
// long brief of the same operation type track as distinct patterns.
func lexicalBucket(factors ComplexityFactors) string {
	switch {
	case factors.RequestLength <= 8:
		return "terse"
	case factors.RequestLength <= 40:
		return "standard"
	default:
		return "verbose"
	}
}

// optimizationPotential scores how much a pattern would gain from tuning.
// More frequent, slower, and more failure-prone patterns score higher; a
// pattern seen recently scores higher than a stale one with identical stats.
func (m *PerformanceMonitor) optimizationPotential(p *RequestPattern, targetMs float64, now time.Time) float64 {
	freqScore := capFloat(float64(p.Frequency)/10, 1.0)

	latencyScore := 0.0
	if targetMs > 0 && p.AvgLatencyMs > targetMs {
		latencyScore = capFloat(p.AvgLatencyMs/targetMs-1, 1.0)
	}

	failureScore := capFloat(1-p.SuccessRate, 1.0)

	recencyScore := 0.0
	if age := now.Sub(p.LastSeen); age < 10*time.Minute {
		recencyScore = 1.0
	} else if age < time.Hour {
		recencyScore = 0.5
	}

	return freqScore*0.35 + latencyScore*0.35 + failureScore*0.2 + recencyScore*0.1
}

// Start launches the periodic analysis loop.
func (m *PerformanceMonitor) Start() {
	m.mu.Lock()
	if m.stopCh != nil {
		m.mu.Unlock()
		return
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	interval := time.Duration(m.cfg.MonitorIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				m.Analyze()
			}
		}
	}()
}

// Stop halts the analysis loop and waits for it to exit.
func (m *PerformanceMonitor) Stop() {
	m.mu.Lock()
	stopCh, doneCh := m.stopCh, m.doneCh
	m.stopCh = nil
	m.doneCh = nil
	m.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-doneCh
	}
}

// Analyze runs one analysis cycle: trend detection, recommendation
// generation, alerting, retention cleanup, and auto-application.
func (m *PerformanceMonitor) Analyze() {
	m.mu.Lock()

	now := time.Now()
	m.pruneLocked(now)
	m.detectTrendsLocked(now)
	m.generateRecommendationsLocked(now)
	m.raiseThresholdAlertsLocked(now)
	toApply := m.selectAutoApplyLocked()

	activeAlertsGauge.Set(float64(len(m.alerts)))
	m.mu.Unlock()

	// Callbacks run outside the lock; they may call back into components
	// that record metrics.
	for _, item := range toApply {
		if err := item.fn(item.rec); err != nil {
			m.logger.Warn("", "auto-apply failed", map[string]interface{}{
				"recommendation": item.rec.ID,
				"error":          err.Error(),
			})
			continue
		}
		m.logger.Info("", "recommendation auto-applied", map[string]interface{}{
			"recommendation": item.rec.ID,
			"category":       string(item.rec.Category),
		})
	}
}

// pruneLocked enforces the retention windows.
func (m *PerformanceMonitor) pruneLocked(now time.Time) {
	metricCutoff := now.Add(-time.Duration(m.cfg.Retention.MetricsMinutes) * time.Minute)
	kept := m.metrics[:0]
	for _, metric := range m.metrics {
		if metric.Timestamp.After(metricCutoff) {
			kept = append(kept, metric)
		}
	}
	m.metrics = kept

	patternCutoff := now.Add(-time.Duration(m.cfg.Retention.PatternsMinutes) * time.Minute)
	for key, pattern := range m.patterns {
		if pattern.LastSeen.Before(patternCutoff) {
			delete(m.patterns, key)
		}
	}

	alertCutoff := now.Add(-time.Duration(m.cfg.Retention.AlertsMinutes) * time.Minute)
	keptAlerts := m.alerts[:0]
	for _, alert := range m.alerts {
		if alert.Timestamp.After(alertCutoff) {
			keptAlerts = append(keptAlerts, alert)
		}
	}
	m.alerts = keptAlerts
}

// detectTrendsLocked compares the recent half of the metric window against
// the older half and alerts on sustained degradation.
func (m *PerformanceMonitor) detectTrendsLocked(now time.Time) {
	var latencies []PerformanceMetric
	var successes []PerformanceMetric
	for _, metric := range m.metrics {
		switch metric.Kind {
		case MetricLatency:
			latencies = append(latencies, metric)
		case MetricSuccessRate:
			successes = append(successes, metric)
		}
	}

	if older, recent, ok := splitHalves(latencies); ok {
		if older > 0 && recent > older*1.2 {
			m.addAlertLocked(SystemAlert{
				Severity:    SeverityWarning,
				Title:       "latency trending up",
				Description: fmt.Sprintf("average latency rose from %.0fms to %.0fms", older, recent),
				Components:  []string{"routing"},
			}, now)
		}
	}

	if older, recent, ok := splitHalves(successes); ok {
		if older > 0 && recent < older*0.9 {
			m.addAlertLocked(SystemAlert{
				Severity:    SeverityError,
				Title:       "success rate trending down",
				Description: fmt.Sprintf("success rate fell from %.2f to %.2f", older, recent),
				Components:  []string{"routing", "executors"},
			}, now)
		}
	}
}

// splitHalves averages the older and newer halves of a metric series. Needs
// at least four samples to say anything.
func splitHalves(series []PerformanceMetric) (older, recent float64, ok bool) {
	if len(series) < 4 {
		return 0, 0, false
	}
	mid := len(series) / 2
	var a, b float64
	for _, metric := range series[:mid] {
		a += metric.Value
	}
	for _, metric := range series[mid:] {
		b += metric.Value
	}
	return a / float64(mid), b / float64(len(series)-mid), true
}

// generateRecommendationsLocked turns high-potential patterns into ranked
// recommendations.
func (m *PerformanceMonitor) generateRecommendationsLocked(now time.Time) {
	m.recommendations = m.recommendations[:0]

	for _, pattern := range m.patterns {
		// Recency decays between recordings, so refresh before filtering.
		pattern.OptimizationPotential = m.optimizationPotential(pattern, m.targetLatencyMs(ComplexityTier(pattern.Tier)), now)
		if pattern.OptimizationPotential <= 0.5 {
			continue
		}

		priority := "medium"
		if pattern.OptimizationPotential > 0.6 {
			priority = "high"
		}

		category := RecommendRouting
		actions := []string{"review routing table for " + pattern.Type}
		if pattern.SuccessRate >= 0.9 {
			// Reliable repeated work is the best caching candidate.
			category = RecommendCaching
			actions = []string{"extend result cache TTL", "widen cache key coverage for " + pattern.Type}
		} else if pattern.SuccessRate < 0.7 {
			category = RecommendWorkflow
			actions = []string{"inspect failing executors for " + pattern.Type}
		}

		rec := OptimizationRecommendation{
			ID:                  "rec-" + pattern.ID,
			Priority:            priority,
			Category:            category,
			Description:         fmt.Sprintf("pattern %s: %d occurrences, avg %.0fms, success %.2f", pattern.ID, pattern.Frequency, pattern.AvgLatencyMs, pattern.SuccessRate),
			ExpectedImprovement: capFloat(pattern.OptimizationPotential*0.5, 1.0),
			Effort:              0.2,
			Risk:                0.2,
			Actions:             actions,
			CreatedAt:           now,
		}
		if category == RecommendWorkflow {
			rec.Effort = 0.6
			rec.Risk = 0.4
		}

		m.recommendations = append(m.recommendations, rec)
		m.countRecommendationLocked(rec)
	}

	sort.Slice(m.recommendations, func(i, j int) bool {
		return recommendationRank(m.recommendations[i]) > recommendationRank(m.recommendations[j])
	})
}

// recommendationRank orders recommendations by expected payoff per unit of
// effort and risk.
func recommendationRank(rec OptimizationRecommendation) float64 {
	weight := map[string]float64{"high": 3, "medium": 2, "low": 1}[rec.Priority]
	effort := rec.Effort
	if effort <= 0 {
		effort = 0.05
	}
	risk := rec.Risk
	if risk <= 0 {
		risk = 0.05
	}
	return weight * rec.ExpectedImprovement / (effort * risk)
}

// raiseThresholdAlertsLocked checks absolute thresholds over the retained
// metric window.
func (m *PerformanceMonitor) raiseThresholdAlertsLocked(now time.Time) {
	var latencySum, latencyCount, successSum, successCount, usageSum, usageCount float64
	for _, metric := range m.metrics {
		switch metric.Kind {
		case MetricLatency:
			latencySum += metric.Value
			latencyCount++
		case MetricSuccessRate:
			successSum += metric.Value
			successCount++
		case MetricResourceUsage:
			usageSum += metric.Value
			usageCount++
		}
	}

	if latencyCount > 0 {
		avg := latencySum / latencyCount
		if avg > m.cfg.Alerts.LatencyMs {
			m.addAlertLocked(SystemAlert{
				Severity:    SeverityCritical,
				Title:       "average latency above threshold",
				Description: fmt.Sprintf("average latency %.0fms exceeds %.0fms", avg, m.cfg.Alerts.LatencyMs),
				Components:  []string{"routing"},
			}, now)
		}
	}

	if successCount > 0 {
		rate := successSum / successCount
		if rate < m.cfg.Alerts.SuccessRate {
			m.addAlertLocked(SystemAlert{
				Severity:    SeverityError,
				Title:       "success rate below threshold",
				Description: fmt.Sprintf("success rate %.2f below %.2f", rate, m.cfg.Alerts.SuccessRate),
				Components:  []string{"executors"},
			}, now)
		}
	}

	if usageCount > 0 {
		usage := usageSum / usageCount
		if usage > m.cfg.Alerts.ResourceUsage {
			m.addAlertLocked(SystemAlert{
				Severity:    SeverityWarning,
				Title:       "executor utilization above threshold",
				Description: fmt.Sprintf("average utilization %.2f exceeds %.2f of the concurrency ceiling", usage, m.cfg.Alerts.ResourceUsage),
				Components:  []string{"executors", "admission-control"},
			}, now)
			m.addResourceRecommendationLocked(usage, now)
		}
	}
}

// addResourceRecommendationLocked surfaces a resource-tuning candidate when
// sustained utilization crowds the admission ceiling.
func (m *PerformanceMonitor) addResourceRecommendationLocked(usage float64, now time.Time) {
	id := "rec-resource-ceiling"
	for _, rec := range m.recommendations {
		if rec.ID == id {
			return
		}
	}
	rec := OptimizationRecommendation{
		ID:                  id,
		Priority:            "medium",
		Category:            RecommendResource,
		Description:         fmt.Sprintf("executor utilization averaging %.0f%% of the concurrency ceiling", usage*100),
		ExpectedImprovement: 0.2,
		Effort:              0.4,
		Risk:                0.3,
		Actions:             []string{"raise max_concurrent_executors", "review widest full-orchestration plans"},
		CreatedAt:           now,
	}
	m.recommendations = append(m.recommendations, rec)
	m.countRecommendationLocked(rec)
}

// countRecommendationLocked increments the recommendation counter once per
// recommendation lifetime. The list is rebuilt every cycle; a persisting
// pattern must not inflate the counter.
func (m *PerformanceMonitor) countRecommendationLocked(rec OptimizationRecommendation) {
	if m.surfaced[rec.ID] {
		return
	}
	m.surfaced[rec.ID] = true
	recommendationsTotal.WithLabelValues(string(rec.Category)).Inc()
}

// addAlertLocked appends an alert unless an identically-titled one is
// already active.
func (m *PerformanceMonitor) addAlertLocked(alert SystemAlert, now time.Time) {
	for _, existing := range m.alerts {
		if existing.Title == alert.Title {
			return
		}
	}
	alert.ID = uuid.NewString()
	alert.Timestamp = now
	m.alerts = append(m.alerts, alert)
}

type pendingApply struct {
	rec OptimizationRecommendation
	fn  OptimizationCallback
}

// selectAutoApplyLocked picks the recommendations the active strategy allows
// the monitor to apply on its own: aggressive and adaptive strategies apply
// low-effort low-risk items; balanced and conservative only surface them.
func (m *PerformanceMonitor) selectAutoApplyLocked() []pendingApply {
	switch m.cfg.OptimizationStrategy {
	case "aggressive", "adaptive":
	default:
		return nil
	}

	var out []pendingApply
	for _, rec := range m.recommendations {
		if m.applied[rec.ID] {
			continue
		}
		if rec.Effort > 0.3 || rec.Risk > 0.3 {
			continue
		}
		fn, ok := m.callbacks[rec.Category]
		if !ok {
			continue
		}
		m.applied[rec.ID] = true
		out = append(out, pendingApply{rec: rec, fn: fn})
	}
	return out
}

// Recommendations returns the current ranked recommendations.
func (m *PerformanceMonitor) Recommendations() []OptimizationRecommendation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OptimizationRecommendation(nil), m.recommendations...)
}

// Alerts returns the active alerts.
func (m *PerformanceMonitor) Alerts() []SystemAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SystemAlert(nil), m.alerts...)
}

// Patterns returns the tracked request patterns, most frequent first.
func (m *PerformanceMonitor) Patterns() []RequestPattern {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RequestPattern, 0, len(m.patterns))
	for _, pattern := range m.patterns {
		out = append(out, *pattern)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Frequency > out[j].Frequency })
	return out
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

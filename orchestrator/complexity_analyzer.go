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

	"docflow/platform/shared/logger"
)

// Tier score thresholds. A weighted factor score at or below simpleThreshold
// maps to Simple, at or below moderateThreshold to Moderate, above it to
// Complex.
const (
	simpleScoreThreshold   = 2.2
	moderateScoreThreshold = 4.0
)

// ComplexityAnalyzer assigns a complexity tier, operation type, confidence
// and duration estimate to incoming requests. Classification is rule-based
// with an optional AI second opinion; advisor failure never fails the call.
type ComplexityAnalyzer struct {
	advisor ComplexityAdvisor
	cfg     *Config
	logger  *logger.Logger
}

// NewComplexityAnalyzer creates an analyzer. A nil advisor disables the
// second opinion entirely.
func NewComplexityAnalyzer(cfg *Config, advisor ComplexityAdvisor) *ComplexityAnalyzer {
	if advisor == nil {
		advisor = NoopAdvisor{}
	}
	return &ComplexityAnalyzer{
		advisor: advisor,
		cfg:     cfg,
		logger:  logger.New("complexity-analyzer"),
	}
}

// Lexical cue tables. Matching is ordered: complex indicators are checked
// first unless a moderate-style cue is present with no complex-data cue.
var (
	moderateStyleCues = []string{"format", "style", "organize"}

	complexDataCues = []string{"real-time", "real time", "live data", "stock"}

	externalDataCues = []string{
		"real-time", "real time", "live data", "stock", "market",
		"external", "fetch", "web", "api",
	}

	domainKeywords = []string{
		"summary", "report", "section", "document", "chart", "table",
		"data", "reference", "citation", "heading", "style",
	}

	technicalTermList = []string{
		"financial", "stock", "regulatory", "compliance", "statistical",
		"quarterly", "metadata", "api", "schema", "benchmark",
	}

	actionVerbList = []string{
		"make", "write", "create", "generate", "format", "analyze",
		"insert", "delete", "move", "organize", "summarize", "review",
		"update", "convert", "restructure", "validate", "draft",
	}

	formattingTokens = []string{
		"bold", "italic", "underline", "font", "style", "heading",
		"spacing", "margin", "indent",
	}

	validationTokens = []string{
		"compliance", "regulatory", "validate", "verify", "accuracy",
		"audit", "citation",
	}

	urgencyCues = []string{"urgent", "asap", "immediately", "quickly", "right now"}

	qualityCues = []string{"thorough", "detailed", "high quality", "professional", "comprehensive"}
)

// Weight added to the factor score per operation type. Heavier operations
// push requests toward higher tiers even when the phrasing is terse.
var operationWeights = map[OperationType]float64{
	OpTextEdit:          0,
	OpFormatting:        0.5,
	OpContentGeneration: 1.5,
	OpRestructuring:     1.5,
	OpDocumentAnalysis:  1.8,
	OpComplianceReview:  2.5,
	OpReportGeneration:  2.5,
	OpDataIntegration:   3.0,
}

// Analyze produces the assessment for one request.
func (a *ComplexityAnalyzer) Analyze(ctx context.Context, req *OperationRequest) *ComplexityAssessment {
	text := strings.TrimSpace(req.Text)
	factors := a.extractFactors(text, req.Document)
	operation := a.classifyOperation(text)
	ruleScore := a.scoreFactors(factors, operation)
	ruleTier := tierFromScore(ruleScore)

	assessment := &ComplexityAssessment{
		Tier:      ruleTier,
		Operation: operation,
		Factors:   factors,
		RuleScore: ruleScore,
	}

	a.reconcileWithAdvisor(ctx, req, assessment)

	window := a.cfg.TierWindow(assessment.Tier)
	assessment.EstimatedSeconds = a.estimateDuration(assessment.Tier, factors, window)

	a.logger.Debug(req.RequestID, "complexity assessed", map[string]interface{}{
		"tier":       string(assessment.Tier),
		"operation":  string(assessment.Operation),
		"score":      ruleScore,
		"confidence": assessment.Confidence,
		"estimate_s": assessment.EstimatedSeconds,
	})

	return assessment
}

// classifyOperation tags the operation type via ordered pattern matching.
// Complex indicators win by default; when a moderate-style cue (format/
// style/organize) is present and no complex-data cue is, moderate patterns
// are checked first. This resolves phrasings like "format document
// professionally" without starving genuinely complex requests.
func (a *ComplexityAnalyzer) classifyOperation(text string) OperationType {
	lower := strings.ToLower(text)

	moderateFirst := containsAny(lower, moderateStyleCues) && !containsAny(lower, complexDataCues)

	if moderateFirst {
		if op, ok := matchModerateOperation(lower); ok {
			return op
		}
		if op, ok := matchComplexOperation(lower); ok {
			return op
		}
	} else {
		if op, ok := matchComplexOperation(lower); ok {
			return op
		}
		if op, ok := matchModerateOperation(lower); ok {
			return op
		}
	}

	if op, ok := matchSimpleOperation(lower); ok {
		return op
	}

	// Short imperative phrases default to direct edits; anything longer is
	// treated as a drafting request.
	if len(strings.Fields(lower)) <= 4 {
		return OpTextEdit
	}
	return OpContentGeneration
}

func matchComplexOperation(lower string) (OperationType, bool) {
	switch {
	case strings.Contains(lower, "report"):
		return OpReportGeneration, true
	case containsAny(lower, complexDataCues) || strings.Contains(lower, "import data") || strings.Contains(lower, "integrate"):
		return OpDataIntegration, true
	case containsAny(lower, []string{"compliance", "regulatory", "audit"}):
		return OpComplianceReview, true
	case containsAny(lower, []string{"analyze", "analysis", "assess the document"}):
		return OpDocumentAnalysis, true
	}
	return "", false
}

func matchModerateOperation(lower string) (OperationType, bool) {
	switch {
	case containsAny(lower, []string{"format", "style", "reformat"}):
		return OpFormatting, true
	case containsAny(lower, []string{"organize", "restructure", "reorganize", "outline", "table of contents"}):
		return OpRestructuring, true
	case containsAny(lower, []string{"write", "summarize", "summary", "draft", "compose", "rewrite"}):
		return OpContentGeneration, true
	}
	return "", false
}

func matchSimpleOperation(lower string) (OperationType, bool) {
	if containsAny(lower, []string{
		"bold", "italic", "underline", "cursor", "insert", "delete",
		"undo", "redo", "highlight", "font size",
	}) {
		return OpTextEdit, true
	}
	return "", false
}

// extractFactors pulls the scoring features out of the request text and the
// document snapshot.
func (a *ComplexityAnalyzer) extractFactors(text string, doc *DocumentContext) ComplexityFactors {
	lower := strings.ToLower(text)
	words := strings.Fields(lower)

	factors := ComplexityFactors{
		RequestLength:   len(words),
		KeywordCount:    countMatches(lower, domainKeywords),
		TechnicalTerms:  countMatches(lower, technicalTermList),
		ActionVerbs:     countWordMatches(words, actionVerbList),
		UrgencyModifier: 1.0,
		QualityModifier: 1.0,
	}

	if doc != nil {
		factors.DocumentParagraphs = doc.ParagraphCount
		factors.StructuralElements = doc.SectionCount + doc.TableCount + doc.ChartCount
	}

	factors.NeedsExternalData = containsAny(lower, externalDataCues)
	factors.MultiStep = factors.ActionVerbs >= 2 ||
		strings.Contains(lower, "step by step") ||
		strings.Contains(lower, "comprehensive") ||
		(strings.Contains(lower, " with ") && strings.Contains(lower, " and "))

	factors.FormattingComplexity = capFloat(0.2*float64(countMatches(lower, formattingTokens)), 1.0)
	factors.ValidationComplexity = capFloat(0.3*float64(countMatches(lower, validationTokens)), 1.0)

	if containsAny(lower, urgencyCues) {
		factors.UrgencyModifier = 0.85
	}
	if containsAny(lower, qualityCues) {
		factors.QualityModifier = 1.15
	}

	return factors
}

// scoreFactors computes the weighted rule-based score over the factors.
func (a *ComplexityAnalyzer) scoreFactors(factors ComplexityFactors, operation OperationType) float64 {
	score := 1.0
	score += capFloat(float64(factors.RequestLength)/40.0, 2.0)
	score += 0.4 * float64(factors.KeywordCount)
	score += 0.3 * float64(factors.TechnicalTerms)
	if factors.ActionVerbs > 1 {
		score += 0.2 * float64(factors.ActionVerbs-1)
	}
	if factors.NeedsExternalData {
		score += 1.5
	}
	if factors.MultiStep {
		score += 1.0
	}
	score += factors.FormattingComplexity
	score += factors.ValidationComplexity
	if factors.DocumentParagraphs > 30 {
		score += 0.5
	}
	if factors.StructuralElements > 10 {
		score += 0.5
	}
	score += operationWeights[operation]

	return score
}

func tierFromScore(score float64) ComplexityTier {
	switch {
	case score <= simpleScoreThreshold:
		return TierSimple
	case score <= moderateScoreThreshold:
		return TierModerate
	default:
		return TierComplex
	}
}

// reconcileWithAdvisor queries the AI second opinion and resolves
// disagreement by factor heuristics: technical-term-heavy requests favor the
// advisor, very short requests favor the rules, everything else averages the
// two scores and re-maps.
func (a *ComplexityAnalyzer) reconcileWithAdvisor(ctx context.Context, req *OperationRequest, assessment *ComplexityAssessment) {
	ruleTier := assessment.Tier

	opinion, err := a.advisor.Assess(ctx, req.Text, req.Document)
	if err != nil {
		assessment.Confidence = 0.75
		assessment.Reasoning = fmt.Sprintf("rule-based %s (score %.2f); advisor unavailable", ruleTier, assessment.RuleScore)
		return
	}

	assessment.AdvisorUsed = true

	if opinion.Tier == ruleTier {
		assessment.Confidence = 0.92
		assessment.Reasoning = fmt.Sprintf("rule-based and advisor agree on %s (score %.2f)", ruleTier, assessment.RuleScore)
		return
	}

	switch {
	case assessment.Factors.TechnicalTerms >= 3:
		// Dense technical vocabulary is where the rules undercount.
		assessment.Tier = opinion.Tier
		fallback := ruleTier
		assessment.FallbackTier = &fallback
		assessment.Confidence = 0.75
		assessment.Reasoning = fmt.Sprintf("advisor %s over rule-based %s: technical-term-heavy request", opinion.Tier, ruleTier)

	case assessment.Factors.RequestLength <= 4:
		// Very short requests give the advisor too little signal.
		fallback := opinion.Tier
		assessment.FallbackTier = &fallback
		assessment.Confidence = 0.75
		assessment.Reasoning = fmt.Sprintf("rule-based %s kept over advisor %s: request too short for model signal", ruleTier, opinion.Tier)

	default:
		merged := (assessment.RuleScore + opinion.Score) / 2
		mergedTier := tierFromScore(merged)
		assessment.Tier = mergedTier
		if mergedTier != ruleTier {
			fallback := ruleTier
			assessment.FallbackTier = &fallback
		}
		assessment.Confidence = 0.7
		assessment.Reasoning = fmt.Sprintf("rule-based %s and advisor %s averaged to %s (merged score %.2f)", ruleTier, opinion.Tier, mergedTier, merged)
	}
}

// estimateDuration computes the duration estimate: tier base plus additive
// modifiers, times the urgency/quality multipliers, clamped to the tier's
// configured window.
func (a *ComplexityAnalyzer) estimateDuration(tier ComplexityTier, factors ComplexityFactors, window TierTiming) float64 {
	var base float64
	switch tier {
	case TierSimple:
		base = 1.2
	case TierModerate:
		base = 2.4
	default:
		base = 3.4
	}

	if factors.NeedsExternalData {
		base += 0.6
	}
	if factors.MultiStep {
		base += 0.5
	}
	if factors.DocumentParagraphs > 30 {
		base += 0.3
	}
	base += 0.3 * factors.ValidationComplexity

	base *= factors.UrgencyModifier
	base *= factors.QualityModifier

	if base < window.MinSeconds {
		base = window.MinSeconds
	}
	if base > window.MaxSeconds {
		base = window.MaxSeconds
	}
	return base
}

func containsAny(text string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func countMatches(text string, patterns []string) int {
	count := 0
	for _, p := range patterns {
		if strings.Contains(text, p) {
			count++
		}
	}
	return count
}

func countWordMatches(words []string, vocab []string) int {
	set := make(map[string]bool, len(vocab))
	for _, v := range vocab {
		set[v] = true
	}
	count := 0
	for _, w := range words {
		if set[strings.Trim(w, ".,!?;:")] {
			count++
		}
	}
	return count
}

func capFloat(v, max float64) float64 {
	if v > max {
		return max
	}
	return v
}

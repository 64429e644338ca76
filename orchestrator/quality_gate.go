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
)

// Quality gate names used by the full-orchestration plans.
const (
	GateDataAccuracy          = "data-accuracy"
	GateContentQuality        = "content-quality"
	GateRegulatoryCompliance  = "regulatory-compliance"
	GateFormattingConsistency = "formatting-consistency"
	GateVisualQuality         = "visual-quality"
)

// QualityGate validates run state before a gated executor may start. A nil
// error means the gate passed; a failed gate skips the executor and logs a
// warning, it never aborts the workflow.
type QualityGate func(state TaskState, results map[string]*TaskResult) error

// defaultQualityGates returns the built-in gate table. Gates only enforce
// what earlier executors have actually produced; missing prerequisites fail
// the gate so the dependent executor is skipped rather than run blind.
func defaultQualityGates() map[string]QualityGate {
	return map[string]QualityGate{
		GateDataAccuracy: func(state TaskState, results map[string]*TaskResult) error {
			res, ok := results[ExecDataFetcher]
			if !ok || !res.Success {
				return fmt.Errorf("%w: %s: no successful data fetch to validate", ErrQualityGate, GateDataAccuracy)
			}
			if _, ok := res.Output["data"]; !ok {
				return fmt.Errorf("%w: %s: fetched payload is empty", ErrQualityGate, GateDataAccuracy)
			}
			return nil
		},

		GateContentQuality: func(state TaskState, results map[string]*TaskResult) error {
			content, ok := state["draft_content"].(string)
			if !ok || len(content) < 10 {
				return fmt.Errorf("%w: %s: draft content missing or too short", ErrQualityGate, GateContentQuality)
			}
			return nil
		},

		GateRegulatoryCompliance: func(state TaskState, results map[string]*TaskResult) error {
			res, ok := results[ExecComplianceValidator]
			if ok && !res.Success {
				return fmt.Errorf("%w: %s: compliance validation failed upstream", ErrQualityGate, GateRegulatoryCompliance)
			}
			return nil
		},

		GateFormattingConsistency: func(state TaskState, results map[string]*TaskResult) error {
			res, ok := results[ExecFormattingAgent]
			if !ok {
				// Nothing formatted yet; the gate has nothing to reject.
				return nil
			}
			if consistent, ok := res.Output["formatting_consistent"].(bool); ok && !consistent {
				return fmt.Errorf("%w: %s: inconsistent formatting reported", ErrQualityGate, GateFormattingConsistency)
			}
			return nil
		},

		GateVisualQuality: func(state TaskState, results map[string]*TaskResult) error {
			if res, ok := results[ExecQualityReviewer]; ok {
				if score, ok := res.Output["review_score"].(float64); ok && score < 0.5 {
					return fmt.Errorf("%w: %s: review score %.2f below floor", ErrQualityGate, GateVisualQuality, score)
				}
			}
			return nil
		},
	}
}

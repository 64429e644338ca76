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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ComplexityOpinion is a secondary assessment of a request's complexity.
type ComplexityOpinion struct {
	Tier      ComplexityTier `json:"tier"`
	Score     float64        `json:"score"`
	Reasoning string         `json:"reasoning"`
}

// ComplexityAdvisor produces an AI-assisted second opinion for the analyzer.
// Advisors are selected at construction time; environments without a live
// service inject NoopAdvisor, and the analyzer falls back to its rule-based
// tier whenever Assess errors.
type ComplexityAdvisor interface {
	Assess(ctx context.Context, text string, doc *DocumentContext) (*ComplexityOpinion, error)
}

// NoopAdvisor is the injected double for offline environments. Assess always
// reports unavailability so the analyzer stays on its rule-based path.
type NoopAdvisor struct{}

// Assess implements ComplexityAdvisor.
func (NoopAdvisor) Assess(ctx context.Context, text string, doc *DocumentContext) (*ComplexityOpinion, error) {
	return nil, ErrAdvisorUnavailable
}

// AnthropicAdvisorOptions configures the live advisor.
type AnthropicAdvisorOptions struct {
	Model     anthropic.Model
	MaxTokens int64
	APIKey    string
}

// AnthropicAdvisor asks the Anthropic Messages API for a complexity opinion.
type AnthropicAdvisor struct {
	client *anthropic.Client
	opts   AnthropicAdvisorOptions
}

// NewAnthropicAdvisor creates a live advisor using the official client.
func NewAnthropicAdvisor(optFns ...func(o *AnthropicAdvisorOptions)) *AnthropicAdvisor {
	opts := AnthropicAdvisorOptions{
		Model:     anthropic.ModelClaude3_5Haiku20241022,
		MaxTokens: 512,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &AnthropicAdvisor{
		client: &client,
		opts:   opts,
	}
}

// Assess implements ComplexityAdvisor.
func (a *AnthropicAdvisor) Assess(ctx context.Context, text string, doc *DocumentContext) (*ComplexityOpinion, error) {
	prompt := buildAdvisorPrompt(text, doc)

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.opts.Model,
		MaxTokens: a.opts.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("advisor request failed: %w", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return parseAdvisorResponse(content.String())
}

func buildAdvisorPrompt(text string, doc *DocumentContext) string {
	var docSummary string
	if doc != nil {
		docSummary = fmt.Sprintf("The target document has %d paragraphs, %d sections, %d tables and %d charts.",
			doc.ParagraphCount, doc.SectionCount, doc.TableCount, doc.ChartCount)
	} else {
		docSummary = "No document context is available."
	}

	return fmt.Sprintf(`You classify document-operation requests by processing complexity.

Request: "%s"

%s

Return a JSON object with this structure:
{
  "tier": "simple|moderate|complex",
  "score": <number 1.0-8.0, where <=2.2 is simple, <=4.0 moderate, above complex>,
  "reasoning": "Brief explanation"
}

Respond ONLY with valid JSON, no additional text.`, text, docSummary)
}

// parseAdvisorResponse extracts the JSON object from the model output; models
// sometimes wrap it in extra prose.
func parseAdvisorResponse(response string) (*ComplexityOpinion, error) {
	jsonStart := strings.Index(response, "{")
	jsonEnd := strings.LastIndex(response, "}")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd < jsonStart {
		return nil, fmt.Errorf("no JSON found in advisor response")
	}

	var opinion ComplexityOpinion
	if err := json.Unmarshal([]byte(response[jsonStart:jsonEnd+1]), &opinion); err != nil {
		return nil, fmt.Errorf("advisor JSON parsing failed: %w", err)
	}

	switch opinion.Tier {
	case TierSimple, TierModerate, TierComplex:
	default:
		return nil, fmt.Errorf("advisor returned unknown tier %q", opinion.Tier)
	}

	return &opinion, nil
}

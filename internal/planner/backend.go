package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// StepDraft is one proposed step before classification. Sequence
// numbers are assigned from slice position; DependsOn refers to the
// 1-based sequence of earlier drafts.
type StepDraft struct {
	ActionType    string         `json:"action_type"`
	Description   string         `json:"description"`
	Parameters    map[string]any `json:"parameters"`
	DependsOn     []int          `json:"depends_on"`
	EstimatedCost float64        `json:"estimated_cost"`
}

// Backend proposes a step decomposition for a user message.
type Backend interface {
	GenerateSteps(ctx context.Context, message string) ([]StepDraft, error)
}

const planPrompt = `You decompose a user's request into executable steps.

Available action types: research, purchase, email, payment, http_request.

Rules:
- research gathers information and has no side effects.
- purchase researches products or prices; it never places an order.
- email drafts or sends a message; put the recipient address in parameters.to.
- payment moves money; put the numeric amount in parameters.amount.
- A step that uses another step's output lists that step's 1-based
  position in depends_on.

Respond with a JSON array only, no prose. Each element:
{"action_type": "...", "description": "...", "parameters": {...}, "depends_on": [...], "estimated_cost": 0}`

// LLMBackend asks a chat model for the decomposition.
type LLMBackend struct {
	model   llms.Model
	timeout time.Duration
}

func NewLLMBackend(model llms.Model) *LLMBackend {
	return &LLMBackend{model: model, timeout: 30 * time.Second}
}

func (b *LLMBackend) GenerateSteps(ctx context.Context, message string) ([]StepDraft, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	messages := []llms.MessageContent{
		{Role: llms.ChatMessageTypeSystem, Parts: []llms.ContentPart{llms.TextPart(planPrompt)}},
		{Role: llms.ChatMessageTypeHuman, Parts: []llms.ContentPart{llms.TextPart(message)}},
	}

	resp, err := b.model.GenerateContent(ctx, messages, llms.WithTemperature(0.3))
	if err != nil {
		return nil, fmt.Errorf("planner: generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("planner: model returned no choices")
	}

	drafts, err := parseDrafts(resp.Choices[0].Content)
	if err != nil {
		return nil, fmt.Errorf("planner: parse model output: %w", err)
	}
	return drafts, nil
}

// parseDrafts extracts the JSON array from model output, tolerating
// markdown code fences around it.
func parseDrafts(raw string) ([]StepDraft, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		if i := strings.LastIndex(raw, "```"); i >= 0 {
			raw = raw[:i]
		}
		raw = strings.TrimSpace(raw)
	}

	var drafts []StepDraft
	if err := json.Unmarshal([]byte(raw), &drafts); err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, fmt.Errorf("empty step list")
	}
	return drafts, nil
}

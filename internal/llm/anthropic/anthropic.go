// Package anthropic backs the LLM Orchestrator with Anthropic's Claude
// models for summary and question generation.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/fyi-network/blog-pipeline/internal/llm"
)

// Backend implements llm.Client over the Anthropic Messages API.
type Backend struct {
	client anthropic.Client
}

// New constructs a Backend authenticated with apiKey.
func New(apiKey string) *Backend {
	return &Backend{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

// GenerateText issues a single-turn Messages call with the system prompt
// set separately from the user prompt, per the three-layer architecture.
func (b *Backend) GenerateText(ctx context.Context, params llm.GenerateParams) (*llm.GenerateResult, error) {
	resp, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(params.Model),
		MaxTokens: int64(params.MaxTokens),
		System: []anthropic.TextBlockParam{
			{Text: params.SystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(params.UserPrompt)),
		},
		Temperature: anthropic.Float(params.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic: generate text: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	reason := llm.FinishStop
	switch resp.StopReason {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence, anthropic.StopReasonMaxTokens:
		reason = llm.FinishStop
	case "refusal":
		reason = llm.FinishSafety
	default:
		if resp.StopReason != "" {
			reason = llm.FinishOther
		}
	}

	return &llm.GenerateResult{
		Text:         text,
		FinishReason: reason,
		BlockDetail:  string(resp.StopReason),
	}, nil
}

// GenerateEmbedding is not offered by Anthropic's API; embeddings are
// routed to a different provider by the registry.
func (b *Backend) GenerateEmbedding(ctx context.Context, model, text string) ([]float64, error) {
	return nil, fmt.Errorf("anthropic: embeddings are not supported by this provider")
}

var _ llm.Client = (*Backend)(nil)

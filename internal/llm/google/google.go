// Package google backs the LLM Orchestrator with Google's Gemini models,
// used for both text generation (with optional web-search grounding) and
// embeddings.
package google

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/fyi-network/blog-pipeline/internal/llm"
)

// Backend implements llm.Client over the Gemini API.
type Backend struct {
	client *genai.Client
}

// New constructs a Backend authenticated with apiKey.
func New(ctx context.Context, apiKey string) (*Backend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &Backend{client: client}, nil
}

// GenerateText issues a GenerateContent call. Grounding via Google Search
// is requested only when params.UseGrounding is set, per the contract
// that summary and embeddings never ground.
func (b *Backend) GenerateText(ctx context.Context, params llm.GenerateParams) (*llm.GenerateResult, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(params.SystemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(float32(params.Temperature)),
		MaxOutputTokens:   int32(params.MaxTokens),
	}
	if params.UseGrounding {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}

	result, err := b.client.Models.GenerateContent(ctx, params.Model,
		[]*genai.Content{genai.NewContentFromText(params.UserPrompt, genai.RoleUser)}, cfg)
	if err != nil {
		return nil, fmt.Errorf("google: generate content: %w", err)
	}
	if len(result.Candidates) == 0 {
		return nil, fmt.Errorf("google: no candidates returned")
	}

	candidate := result.Candidates[0]
	var text string
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			text += part.Text
		}
	}

	reason := mapFinishReason(candidate.FinishReason)
	return &llm.GenerateResult{
		Text:         text,
		FinishReason: reason,
		BlockDetail:  string(candidate.FinishReason),
	}, nil
}

func mapFinishReason(r genai.FinishReason) llm.FinishReason {
	switch r {
	case genai.FinishReasonStop, "":
		return llm.FinishStop
	case genai.FinishReasonSafety:
		return llm.FinishSafety
	case genai.FinishReasonRecitation:
		return llm.FinishRecitation
	default:
		return llm.FinishOther
	}
}

// GenerateEmbedding generates a single embedding using the given model.
func (b *Backend) GenerateEmbedding(ctx context.Context, model, text string) ([]float64, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	result, err := b.client.Models.EmbedContent(ctx, model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("google: embed content: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("google: no embeddings returned")
	}

	values := result.Embeddings[0].Values
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out, nil
}

var _ llm.Client = (*Backend)(nil)

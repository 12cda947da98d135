package llm

import (
	"context"
	"fmt"
)

// SummaryRequest parameterizes a summary call.
type SummaryRequest struct {
	Content           string
	Model             string
	Temperature       float64
	MaxTokens         int
	CustomInstruction string
}

// QuestionsRequest parameterizes a questions call.
type QuestionsRequest struct {
	Content           string
	Model             string
	Temperature       float64
	MaxTokens         int
	CustomInstruction string
	QuestionsPerBlog  int
	UseGrounding      bool
}

// Orchestrator drives summary/questions/embedding generation through a
// Client, applying the three-layer prompt architecture and finish-reason
// inspection uniformly across providers.
type Orchestrator struct {
	client Client
}

// NewOrchestrator wraps a Client (typically a *Registry).
func NewOrchestrator(client Client) *Orchestrator {
	return &Orchestrator{client: client}
}

// Summarize produces title/summary/key_points from the article content.
func (o *Orchestrator) Summarize(ctx context.Context, req SummaryRequest) (*SummaryResponse, error) {
	system, user := BuildSummaryPrompt(req.Content, req.CustomInstruction)

	result, err := o.client.GenerateText(ctx, GenerateParams{
		Model:        req.Model,
		SystemPrompt: system,
		UserPrompt:   user,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		UseGrounding: false, // summary never grounds
	})
	if err != nil {
		return nil, err
	}
	if err := CheckFinishReason(result.FinishReason, result.BlockDetail); err != nil {
		return nil, err
	}

	return ParseSummaryResponse(result.Text)
}

// GenerateQuestions produces filtered question/answer pairs. Grounding is
// only requested when UseGrounding is true.
func (o *Orchestrator) GenerateQuestions(ctx context.Context, req QuestionsRequest) ([]QuestionResponse, error) {
	system, user := BuildQuestionsPrompt(req.Content, req.CustomInstruction, req.QuestionsPerBlog)

	result, err := o.client.GenerateText(ctx, GenerateParams{
		Model:        req.Model,
		SystemPrompt: system,
		UserPrompt:   user,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		UseGrounding: req.UseGrounding,
	})
	if err != nil {
		return nil, err
	}
	if err := CheckFinishReason(result.FinishReason, result.BlockDetail); err != nil {
		return nil, err
	}

	return ParseQuestionsResponse(result.Text)
}

// Embed produces a single embedding vector, truncating overlong input.
func (o *Orchestrator) Embed(ctx context.Context, model, text string) ([]float64, error) {
	embedding, err := o.client.GenerateEmbedding(ctx, model, TruncateForEmbedding(text))
	if err != nil {
		return nil, fmt.Errorf("llm: generate embedding: %w", err)
	}
	return embedding, nil
}

// EmbedBatch embeds the summary text plus each retained question, one
// call per input, as the spec requires (no native batch endpoint
// assumed). Callers MAY issue these concurrently.
func (o *Orchestrator) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		embedding, err := o.Embed(ctx, model, text)
		if err != nil {
			return nil, fmt.Errorf("llm: embed batch item %d: %w", i, err)
		}
		out[i] = embedding
	}
	return out, nil
}

// Package llm implements the LLM Orchestrator (component F): a thin,
// provider-agnostic capability over text generation and embeddings, with
// a three-layer prompt architecture and typed finish-reason handling.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// FinishReason is the provider's tagged outcome for a generation call.
type FinishReason string

const (
	FinishStop       FinishReason = "STOP"
	FinishSafety     FinishReason = "SAFETY"
	FinishRecitation FinishReason = "RECITATION"
	FinishOther      FinishReason = "OTHER"
)

// BlockedError is raised when a provider's finish reason is anything but
// STOP. The blocked category is carried for last_error reporting.
type BlockedError struct {
	Reason FinishReason
	Detail string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("llm_error.blocked: reason=%s detail=%s", e.Reason, e.Detail)
}

// ErrNoQuestions is raised when zero valid questions survive filtering.
var ErrNoQuestions = errors.New("llm_error.no_questions")

// GenerateParams configures a single text-generation call.
type GenerateParams struct {
	Model          string
	SystemPrompt   string
	UserPrompt     string
	Temperature    float64
	MaxTokens      int
	UseGrounding   bool
}

// GenerateResult is a provider's raw text response plus its finish reason.
type GenerateResult struct {
	Text         string
	FinishReason FinishReason
	BlockDetail  string
}

// Client is the provider-agnostic capability the orchestrator drives.
type Client interface {
	GenerateText(ctx context.Context, params GenerateParams) (*GenerateResult, error)
	GenerateEmbedding(ctx context.Context, model, text string) ([]float64, error)
}

const maxEmbeddingInputChars = 8000

// TruncateForEmbedding truncates overlong input per the embeddings
// contract: inputs longer than 8000 characters are truncated.
func TruncateForEmbedding(text string) string {
	if len(text) <= maxEmbeddingInputChars {
		return text
	}
	return text[:maxEmbeddingInputChars]
}

// CheckFinishReason converts a non-STOP finish reason into a typed error.
func CheckFinishReason(reason FinishReason, detail string) error {
	if reason == FinishStop || reason == "" {
		return nil
	}
	return &BlockedError{Reason: reason, Detail: detail}
}

// Package bedrock backs the LLM Orchestrator with AWS Bedrock-hosted
// models, invoked through the runtime's InvokeModel API.
package bedrock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/fyi-network/blog-pipeline/internal/llm"
)

// Backend implements llm.Client over Bedrock's InvokeModel API using the
// Anthropic-on-Bedrock message wire format.
type Backend struct {
	client *bedrockruntime.Client
}

// New loads AWS credentials and region, following the teacher's config
// loading convention for AWS-backed clients.
func New(ctx context.Context, region, accessKey, secretKey string) (*Backend, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}

	return &Backend{client: bedrockruntime.NewFromConfig(cfg)}, nil
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Temperature      float64          `json:"temperature"`
	System           string           `json:"system"`
	Messages         []bedrockMessage `json:"messages"`
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// GenerateText invokes the configured Bedrock model with the Anthropic
// message wire format, the dominant Bedrock text-generation contract.
func (b *Backend) GenerateText(ctx context.Context, params llm.GenerateParams) (*llm.GenerateResult, error) {
	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        params.MaxTokens,
		Temperature:      params.Temperature,
		System:           params.SystemPrompt,
		Messages: []bedrockMessage{
			{Role: "user", Content: params.UserPrompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock: marshal request: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(params.Model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock: invoke model: %w", err)
	}

	var resp bedrockResponse
	if err := json.NewDecoder(bytes.NewReader(out.Body)).Decode(&resp); err != nil {
		return nil, fmt.Errorf("bedrock: decode response: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		text += block.Text
	}

	reason := llm.FinishStop
	if resp.StopReason != "" && resp.StopReason != "end_turn" && resp.StopReason != "max_tokens" {
		reason = llm.FinishOther
	}

	return &llm.GenerateResult{
		Text:         text,
		FinishReason: reason,
		BlockDetail:  resp.StopReason,
	}, nil
}

// GenerateEmbedding is not wired to a Bedrock embedding model in this
// deployment; embeddings route through the Google backend instead.
func (b *Backend) GenerateEmbedding(ctx context.Context, model, text string) ([]float64, error) {
	return nil, fmt.Errorf("bedrock: embeddings are not supported by this provider")
}

var _ llm.Client = (*Backend)(nil)

package llm

import (
	"context"
	"fmt"
	"strings"
)

// Registry dispatches GenerateText/GenerateEmbedding calls to the backend
// registered for a model string's "provider/model" prefix.
type Registry struct {
	backends map[string]Client
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Client)}
}

// Register associates a provider prefix (e.g. "anthropic", "bedrock",
// "google") with a backend Client.
func (r *Registry) Register(provider string, client Client) {
	r.backends[provider] = client
}

func (r *Registry) resolve(model string) (Client, string, error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 {
		return nil, "", fmt.Errorf("llm: model %q must be in provider/model form", model)
	}
	backend, ok := r.backends[parts[0]]
	if !ok {
		return nil, "", fmt.Errorf("llm: no backend registered for provider %q", parts[0])
	}
	return backend, parts[1], nil
}

// GenerateText dispatches to the provider named by params.Model's prefix.
func (r *Registry) GenerateText(ctx context.Context, params GenerateParams) (*GenerateResult, error) {
	backend, modelName, err := r.resolve(params.Model)
	if err != nil {
		return nil, err
	}
	params.Model = modelName
	return backend.GenerateText(ctx, params)
}

// GenerateEmbedding dispatches to the provider named by model's prefix.
func (r *Registry) GenerateEmbedding(ctx context.Context, model, text string) ([]float64, error) {
	backend, modelName, err := r.resolve(model)
	if err != nil {
		return nil, err
	}
	return backend.GenerateEmbedding(ctx, modelName, TruncateForEmbedding(text))
}

var _ Client = (*Registry)(nil)

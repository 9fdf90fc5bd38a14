package ollama

import (
	"context"
	"fmt"

	"github.com/ollama/ollama/api"

	"github.com/mnemo-agent/mnemod/index"
)

type Model string

const (
	ModelMXBAI   Model = "mxbai-embed-large"
	ModelNomic   Model = "nomic-embed-text"
	DefaultModel       = ModelNomic
)

type embedder struct {
	client *api.Client
	model  Model
}

// NewEmbedder talks to a local Ollama daemon, located via OLLAMA_HOST.
func NewEmbedder(model Model) (index.Embedder, error) {
	if model == "" {
		model = DefaultModel
	}
	cli, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, err
	}
	return &embedder{client: cli, model: model}, nil
}

func (e *embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: string(e.model),
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama returned no embedding")
	}
	return resp.Embeddings[0], nil
}

func (e *embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: string(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed batch: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

// Package ollama provides a local-model summarizer for conversation
// compression.
package ollama

import (
	"context"
	"fmt"
	"strings"

	"github.com/ollama/ollama/api"
)

const systemPrompt = `You are a conversation summarization assistant. Your task is to summarize conversation history while preserving both the information exchanged and the flow of the conversation.

Rules:
- Preserve all key decisions, facts, and important context
- Maintain user preferences
- Capture how topics evolved and in what order
- Use plain text only (no markdown, no bullet points, no numbered lists)
- Produce concise sentences or fragments that maintain the full context`

type Summarizer struct {
	client *api.Client
	model  string
}

// NewSummarizer talks to a local Ollama daemon, located via OLLAMA_HOST.
func NewSummarizer(model string) (*Summarizer, error) {
	if model == "" {
		model = "llama3.2:3b"
	}
	cli, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	return &Summarizer{client: cli, model: model}, nil
}

func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", nil
	}

	userPrompt := fmt.Sprintf(`Summarize this conversation history, preserving all important facts, decisions, and user preferences, so the conversation can continue naturally with full context:

%s`, text)

	var responseBuilder strings.Builder
	stream := false
	req := &api.GenerateRequest{
		Model:  s.model,
		Prompt: userPrompt,
		System: systemPrompt,
		Stream: &stream,
		Options: map[string]any{
			"temperature": 0.3,
		},
	}

	err := s.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		responseBuilder.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate summary: %w", err)
	}

	summary := strings.TrimSpace(responseBuilder.String())
	if summary == "" {
		return "", fmt.Errorf("received empty summary from model")
	}
	return summary, nil
}

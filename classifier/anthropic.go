package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const classifySystemPrompt = `You extract memorable information from a single message in a conversation with an AI agent.

Return a JSON array. Each element:
  {"type": "fact|preference|decision|event|learning", "content": "...", "importance": 0.0-1.0}

Rules:
- Extract only information worth remembering across sessions.
- Rephrase content as a standalone statement in third person.
- importance reflects how durable and reusable the information is.
- Return [] when the message contains nothing memorable.
- Return ONLY the JSON array, no prose.`

// Anthropic classifies messages with Claude. Extraction is best-effort:
// model refusals, malformed JSON, and unknown types yield fewer extractions,
// never an error surfaced to the message path.
type Anthropic struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
	logger    zerolog.Logger
}

// NewAnthropic creates a Claude-backed classifier.
func NewAnthropic(apiKey, model string, logger zerolog.Logger) (*Anthropic, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if model == "" {
		model = string(anthropic.ModelClaude3_5HaikuLatest)
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Anthropic{
		client:    &client,
		model:     anthropic.Model(model),
		maxTokens: 1024,
		logger:    logger.With().Str("component", "classifier").Logger(),
	}, nil
}

func (a *Anthropic) Classify(ctx context.Context, message string) ([]Extraction, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, nil
	}

	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: classifySystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(message)),
		},
	}

	var resp *anthropic.Message
	op := func() error {
		var err error
		resp, err = a.client.Messages.New(ctx, params)
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Second),
		backoff.WithMaxInterval(30*time.Second),
	), 3), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("classify message: %w", err)
	}

	var text strings.Builder
	for _, blockUnion := range resp.Content {
		if block, ok := blockUnion.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(block.Text)
		}
	}
	return a.parse(text.String()), nil
}

// parse tolerates anything the model sends back. Prose around the array is
// stripped, malformed JSON yields no extractions.
func (a *Anthropic) parse(raw string) []Extraction {
	raw = strings.TrimSpace(raw)
	if start := strings.Index(raw, "["); start >= 0 {
		if end := strings.LastIndex(raw, "]"); end > start {
			raw = raw[start : end+1]
		}
	}

	var parsed []Extraction
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		a.logger.Warn().Err(err).Msg("Classifier returned unparseable output, dropping")
		return nil
	}

	out := parsed[:0]
	for _, e := range parsed {
		e.Type = strings.ToLower(strings.TrimSpace(e.Type))
		e.Content = strings.TrimSpace(e.Content)
		if !validTypes[e.Type] || e.Content == "" {
			continue
		}
		if e.Importance < 0 {
			e.Importance = 0
		}
		if e.Importance > 1 {
			e.Importance = 1
		}
		e.SaveToLongTerm = shouldPersist(e.Type, e.Importance)
		out = append(out, e)
	}
	return out
}

package sleep

import (
	"context"
	"strings"
)

// Summarizer condenses a block of conversation text. Implementations may
// call out to a model; compression falls back to the extractive summarizer
// when they fail.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Extractive is the deterministic fallback summarizer: the first sentence of
// each paragraph, clipped to a character cap. No model, no network, never
// fails.
type Extractive struct {
	// MaxChars caps the summary length. Zero means 600.
	MaxChars int
}

func (e Extractive) Summarize(_ context.Context, text string) (string, error) {
	maxChars := e.MaxChars
	if maxChars <= 0 {
		maxChars = 600
	}

	var parts []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		parts = append(parts, firstSentence(para))
	}

	summary := strings.Join(parts, " ")
	if len(summary) > maxChars {
		cut := summary[:maxChars]
		if i := strings.LastIndex(cut, " "); i > maxChars/2 {
			cut = cut[:i]
		}
		summary = cut + "…"
	}
	return summary, nil
}

func firstSentence(text string) string {
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			return text[:i+1]
		}
		if r == '\n' {
			return text[:i]
		}
	}
	return text
}

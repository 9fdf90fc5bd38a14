package sleep

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mnemo-agent/mnemod/conversations"
)

// Compression strategies.
const (
	StrategySlidingWindow = "sliding-window"
	StrategyImportance    = "importance"
	StrategyProgressive   = "progressive"
	StrategyHybrid        = "hybrid"
)

// Compressor shrinks a conversation to fit a token budget.
type Compressor struct {
	summarizer Summarizer
	keepRecent int
	logger     zerolog.Logger
}

func NewCompressor(summarizer Summarizer, keepRecent int, logger zerolog.Logger) *Compressor {
	if summarizer == nil {
		summarizer = Extractive{}
	}
	if keepRecent <= 0 {
		keepRecent = 10
	}
	return &Compressor{
		summarizer: summarizer,
		keepRecent: keepRecent,
		logger:     logger.With().Str("component", "compressor").Logger(),
	}
}

// Compress applies the named strategy. A conversation already within budget
// is returned unchanged, which also makes every strategy idempotent on its
// own output.
func (c *Compressor) Compress(ctx context.Context, msgs []conversations.Message, budget int, strategy string) ([]conversations.Message, error) {
	if totalTokens(msgs) <= budget {
		return msgs, nil
	}

	switch strategy {
	case StrategySlidingWindow:
		return c.slidingWindow(ctx, msgs, budget), nil
	case StrategyImportance:
		return c.importanceBased(msgs, budget), nil
	case StrategyProgressive:
		return c.progressive(ctx, msgs, budget), nil
	case StrategyHybrid, "":
		out := c.slidingWindow(ctx, msgs, budget)
		if totalTokens(out) > budget {
			out = c.importanceBased(out, budget)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown compression strategy %q", strategy)
	}
}

// slidingWindow keeps the most recent keepRecent messages verbatim and
// folds everything older into one system-role summary message. If the
// recent window alone is over budget, it is truncated from the front.
func (c *Compressor) slidingWindow(ctx context.Context, msgs []conversations.Message, budget int) []conversations.Message {
	if len(msgs) <= c.keepRecent {
		return c.truncateFront(msgs, budget)
	}

	older := msgs[:len(msgs)-c.keepRecent]
	recent := msgs[len(msgs)-c.keepRecent:]

	summary := c.summarize(ctx, older, 0)
	out := append([]conversations.Message{summary}, recent...)
	if totalTokens(out) > budget {
		recent = c.truncateFront(recent, budget-summary.Tokens)
		out = append([]conversations.Message{summary}, recent...)
	}

	c.logger.Info().
		Int("summarized", len(older)).
		Int("kept", len(out)-1).
		Msg("Sliding-window compression")
	return out
}

// importanceBased keeps the highest-scoring messages that fit the budget,
// then restores chronological order.
func (c *Compressor) importanceBased(msgs []conversations.Message, budget int) []conversations.Message {
	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(msgs))
	for i, m := range msgs {
		ranked[i] = scored{idx: i, score: CalculateImportance(m, i, len(msgs))}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	kept := make(map[int]bool)
	used := 0
	for _, r := range ranked {
		t := msgs[r.idx].Tokens
		if used+t > budget {
			continue
		}
		kept[r.idx] = true
		used += t
	}

	out := make([]conversations.Message, 0, len(kept))
	for i, m := range msgs {
		if kept[i] {
			out = append(out, m)
		}
	}

	c.logger.Info().
		Int("kept", len(out)).
		Int("dropped", len(msgs)-len(out)).
		Msg("Importance-based compression")
	return out
}

// progressive partitions the older messages into roughly three chunks and
// summarizes each into its own share of the budget left after the recent
// window, then prepends the summaries.
func (c *Compressor) progressive(ctx context.Context, msgs []conversations.Message, budget int) []conversations.Message {
	if len(msgs) <= c.keepRecent {
		return c.truncateFront(msgs, budget)
	}

	older := msgs[:len(msgs)-c.keepRecent]
	recent := msgs[len(msgs)-c.keepRecent:]

	chunks := 3
	if len(older) < chunks {
		chunks = len(older)
	}
	size := (len(older) + chunks - 1) / chunks
	subBudget := (budget - totalTokens(recent)) / chunks

	summaries := make([]conversations.Message, 0, chunks)
	for start := 0; start < len(older); start += size {
		end := start + size
		if end > len(older) {
			end = len(older)
		}
		summaries = append(summaries, c.summarize(ctx, older[start:end], subBudget))
	}

	out := append(summaries, recent...)
	if totalTokens(out) > budget {
		out = c.truncateFront(out, budget)
	}

	c.logger.Info().
		Int("summaries", len(summaries)).
		Int("kept", len(recent)).
		Msg("Progressive compression")
	return out
}

// summarize folds a run of messages into one compressed system message.
// OriginalLength records how many messages it stands in for. A positive
// maxTokens caps the summary at that many tokens.
func (c *Compressor) summarize(ctx context.Context, msgs []conversations.Message, maxTokens int) conversations.Message {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}

	text, err := c.summarizer.Summarize(ctx, b.String())
	if err != nil {
		c.logger.Warn().Err(err).Msg("Summarizer failed, using extractive fallback")
		text, _ = Extractive{}.Summarize(ctx, b.String())
	}
	content := "[Earlier conversation, compressed] " + text
	if maxTokens > 0 {
		content = clampTokens(content, maxTokens)
	}

	return conversations.Message{
		Role:           "system",
		Content:        content,
		Tokens:         EstimateTokens(content),
		Compressed:     true,
		OriginalLength: len(msgs),
	}
}

// clampTokens trims content to roughly maxTokens, cutting at a word boundary.
func clampTokens(content string, maxTokens int) string {
	maxChars := maxTokens * 4
	if len(content) <= maxChars {
		return content
	}
	cut := content[:maxChars]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}

// truncateFront drops messages from the front until the rest fits.
func (c *Compressor) truncateFront(msgs []conversations.Message, budget int) []conversations.Message {
	total := totalTokens(msgs)
	i := 0
	for i < len(msgs) && total > budget {
		total -= msgs[i].Tokens
		i++
	}
	return msgs[i:]
}

func totalTokens(msgs []conversations.Message) int {
	total := 0
	for _, m := range msgs {
		total += m.Tokens
	}
	return total
}

package sleep

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/mnemo-agent/mnemod/classifier"
	"github.com/mnemo-agent/mnemod/conversations"
)

var sectionTitles = map[string]string{
	"fact":       "Facts",
	"preference": "Preferences",
	"decision":   "Decisions",
	"event":      "Events",
	"learning":   "Learnings",
}

// Consolidator routes what a conversation taught us into durable storage:
// long-term-worthy extractions become grouped sections in MEMORY.md, the
// rest land in today's daily log.
type Consolidator struct {
	classifier classifier.Classifier
	journal    *Journal
	logger     zerolog.Logger
}

func NewConsolidator(cls classifier.Classifier, journal *Journal, logger zerolog.Logger) *Consolidator {
	if cls == nil {
		cls = classifier.Keyword{}
	}
	return &Consolidator{
		classifier: cls,
		journal:    journal,
		logger:     logger.With().Str("component", "consolidator").Logger(),
	}
}

// Consolidate classifies the given messages and writes the results to the
// journals. Classifier failures cost individual messages their extractions,
// never the whole pass. The returned extractions let the caller feed the
// typed stores as well.
func (c *Consolidator) Consolidate(ctx context.Context, msgs []conversations.Message) ([]classifier.Extraction, error) {
	var all []classifier.Extraction
	for _, m := range msgs {
		if m.Compressed || m.Role == "system" {
			continue
		}
		found, err := c.classifier.Classify(ctx, m.Content)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Classification failed for message, skipping")
			continue
		}
		all = append(all, found...)
	}
	if len(all) == 0 {
		return nil, nil
	}

	longTerm := lo.Filter(all, func(e classifier.Extraction, _ int) bool { return e.SaveToLongTerm })
	daily := lo.Filter(all, func(e classifier.Extraction, _ int) bool { return !e.SaveToLongTerm })

	if len(longTerm) > 0 {
		if err := c.journal.AppendLongTerm(formatSections(longTerm)); err != nil {
			return all, fmt.Errorf("write long-term journal: %w", err)
		}
	}
	for _, e := range daily {
		if err := c.journal.AppendDaily(fmt.Sprintf("**%s**: %s", e.Type, e.Content)); err != nil {
			return all, fmt.Errorf("write daily journal: %w", err)
		}
	}

	c.logger.Info().
		Int("extracted", len(all)).
		Int("long_term", len(longTerm)).
		Int("daily", len(daily)).
		Msg("Consolidation complete")
	return all, nil
}

// formatSections groups extractions by type into titled Markdown sections.
func formatSections(items []classifier.Extraction) string {
	grouped := lo.GroupBy(items, func(e classifier.Extraction) string { return e.Type })

	kinds := lo.Keys(grouped)
	sort.Strings(kinds)

	var b strings.Builder
	for i, kind := range kinds {
		if i > 0 {
			b.WriteString("\n")
		}
		title, ok := sectionTitles[kind]
		if !ok {
			title = kind
		}
		b.WriteString("## " + title + "\n\n")
		for _, e := range grouped[kind] {
			b.WriteString("- " + e.Content + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

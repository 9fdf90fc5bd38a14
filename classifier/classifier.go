package classifier

import (
	"context"
	"strings"
)

// Extraction is one piece of durable information pulled out of a message.
type Extraction struct {
	Type           string  `json:"type"` // fact, preference, decision, event, learning
	Content        string  `json:"content"`
	Importance     float64 `json:"importance"` // 0..1
	SaveToLongTerm bool    `json:"save_to_long_term"`
}

// Valid extraction types. Anything else coming back from a model is dropped.
var validTypes = map[string]bool{
	"fact":       true,
	"preference": true,
	"decision":   true,
	"event":      true,
	"learning":   true,
}

// Classifier extracts memorable information from a single message.
// Implementations must be safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, message string) ([]Extraction, error)
}

// Keyword is the zero-dependency classifier: cue-phrase matching with fixed
// importance per cue. It never errors and serves as the fallback when no
// model-backed classifier is configured.
type Keyword struct{}

type cue struct {
	phrase     string
	kind       string
	importance float64
}

var cues = []cue{
	{"i prefer", "preference", 0.8},
	{"i like", "preference", 0.6},
	{"i don't like", "preference", 0.6},
	{"i hate", "preference", 0.7},
	{"always", "preference", 0.5},
	{"never", "preference", 0.5},
	{"remember that", "fact", 0.9},
	{"my name is", "fact", 0.9},
	{"i work", "fact", 0.7},
	{"i live", "fact", 0.7},
	{"we decided", "decision", 0.8},
	{"i decided", "decision", 0.8},
	{"let's go with", "decision", 0.7},
	{"it turns out", "learning", 0.7},
	{"i learned", "learning", 0.8},
	{"the fix was", "learning", 0.8},
	{"yesterday", "event", 0.4},
	{"today i", "event", 0.4},
}

func (Keyword) Classify(_ context.Context, message string) ([]Extraction, error) {
	lower := strings.ToLower(message)
	var out []Extraction
	seen := map[string]bool{}
	for _, c := range cues {
		if !strings.Contains(lower, c.phrase) {
			continue
		}
		// One extraction per type; keep the strongest cue.
		if seen[c.kind] {
			continue
		}
		seen[c.kind] = true
		out = append(out, Extraction{
			Type:           c.kind,
			Content:        strings.TrimSpace(message),
			Importance:     c.importance,
			SaveToLongTerm: shouldPersist(c.kind, c.importance),
		})
	}
	return out, nil
}

// shouldPersist decides whether an extraction graduates to the long-term
// journal. Only high-importance preferences, facts, and learnings qualify.
func shouldPersist(kind string, importance float64) bool {
	if importance <= 0.7 {
		return false
	}
	switch kind {
	case "preference", "fact", "learning":
		return true
	}
	return false
}

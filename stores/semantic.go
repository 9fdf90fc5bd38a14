package stores

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// SemanticFilter narrows a semantic query. Zero values match everything.
type SemanticFilter struct {
	Category      string
	MinConfidence float64
	Text          string // case-insensitive substring of the fact
}

// SemanticStore persists an agent's durable facts.
type SemanticStore struct {
	mu     sync.Mutex
	path   string
	items  []SemanticMemory
	logger zerolog.Logger
}

// NewSemanticStore loads the semantic memories for agentID.
func NewSemanticStore(dir, agentID string, logger zerolog.Logger) *SemanticStore {
	s := &SemanticStore{
		path:   storeFile(dir, agentID, KindSemantic),
		logger: logger.With().Str("component", "semantic_store").Str("agent_id", agentID).Logger(),
	}
	loadJSON(s.path, &s.items, s.logger)
	return s
}

// Add stores a new fact and returns its id. Confidence is clamped to [0,1].
func (s *SemanticStore) Add(fact, category string, confidence float64, source string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := nowMS()
	m := SemanticMemory{
		BaseMemory: BaseMemory{
			ID:        NewID(),
			Kind:      KindSemantic,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Fact:       fact,
		Category:   category,
		Confidence: clamp01(confidence),
		Source:     source,
	}
	s.items = append(s.items, m)
	saveJSON(s.path, s.items, s.logger)
	return m.ID
}

// GetAll returns a copy of every fact.
func (s *SemanticStore) GetAll() []SemanticMemory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SemanticMemory(nil), s.items...)
}

// Query returns facts matching the filter.
func (s *SemanticStore) Query(f SemanticFilter) []SemanticMemory {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := strings.ToLower(strings.TrimSpace(f.Text))
	return lo.Filter(s.items, func(m SemanticMemory, _ int) bool {
		if f.Category != "" && m.Category != f.Category {
			return false
		}
		if m.Confidence < f.MinConfidence {
			return false
		}
		if needle != "" && !strings.Contains(strings.ToLower(m.Fact), needle) {
			return false
		}
		return true
	})
}

// Delete removes the fact with the given id. Returns false if not found.
func (s *SemanticStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.items)
	s.items = lo.Filter(s.items, func(m SemanticMemory, _ int) bool { return m.ID != id })
	if len(s.items) == before {
		return false
	}
	saveJSON(s.path, s.items, s.logger)
	return true
}

// DeleteAllExcept drops every fact whose id is not in keep.
func (s *SemanticStore) DeleteAllExcept(keep map[string]bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.items)
	s.items = lo.Filter(s.items, func(m SemanticMemory, _ int) bool { return keep[m.ID] })
	removed := before - len(s.items)
	if removed > 0 {
		saveJSON(s.path, s.items, s.logger)
		s.logger.Info().Int("removed", removed).Int("kept", len(s.items)).Msg("Semantic memories forgotten")
	}
	return removed
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

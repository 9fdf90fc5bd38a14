package stores

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// EpisodicStore persists an agent's append-only event log.
type EpisodicStore struct {
	mu     sync.Mutex
	path   string
	items  []EpisodicMemory
	logger zerolog.Logger
}

// NewEpisodicStore loads the episodic memories for agentID.
func NewEpisodicStore(dir, agentID string, logger zerolog.Logger) *EpisodicStore {
	s := &EpisodicStore{
		path:   storeFile(dir, agentID, KindEpisodic),
		logger: logger.With().Str("component", "episodic_store").Str("agent_id", agentID).Logger(),
	}
	loadJSON(s.path, &s.items, s.logger)
	return s
}

// Add appends a new episode and returns its id.
func (s *EpisodicStore) Add(event string, timestamp int64, ec EpisodeContext, conversationID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := nowMS()
	m := EpisodicMemory{
		BaseMemory: BaseMemory{
			ID:        NewID(),
			Kind:      KindEpisodic,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Event:          event,
		Timestamp:      timestamp,
		Context:        ec,
		ConversationID: conversationID,
	}
	s.items = append(s.items, m)
	saveJSON(s.path, s.items, s.logger)
	return m.ID
}

// GetAll returns a copy of every episode.
func (s *EpisodicStore) GetAll() []EpisodicMemory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EpisodicMemory(nil), s.items...)
}

// GetByContext returns episodes whose event or context fields contain text,
// case-insensitive.
func (s *EpisodicStore) GetByContext(text string) []EpisodicMemory {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return nil
	}
	return lo.Filter(s.items, func(m EpisodicMemory, _ int) bool {
		return strings.Contains(strings.ToLower(m.Event), needle) ||
			strings.Contains(strings.ToLower(m.Context.What), needle) ||
			strings.Contains(strings.ToLower(m.Context.Why), needle)
	})
}

// Delete removes the episode with the given id. Returns false if not found.
func (s *EpisodicStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.items)
	s.items = lo.Filter(s.items, func(m EpisodicMemory, _ int) bool { return m.ID != id })
	if len(s.items) == before {
		return false
	}
	saveJSON(s.path, s.items, s.logger)
	return true
}

// DeleteAllExcept drops every episode whose id is not in keep. Used by the
// post-sleep forgetting step. Returns the number of episodes removed.
func (s *EpisodicStore) DeleteAllExcept(keep map[string]bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.items)
	s.items = lo.Filter(s.items, func(m EpisodicMemory, _ int) bool { return keep[m.ID] })
	removed := before - len(s.items)
	if removed > 0 {
		saveJSON(s.path, s.items, s.logger)
		s.logger.Info().Int("removed", removed).Int("kept", len(s.items)).Msg("Episodic memories forgotten")
	}
	return removed
}

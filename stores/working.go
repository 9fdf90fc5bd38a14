package stores

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultWorkingTTL is how long a working memory stays live unless the
// caller asks for a different TTL.
const DefaultWorkingTTL = time.Hour

// WorkingStore holds the single active working-memory buffer for one agent.
type WorkingStore struct {
	mu      sync.Mutex
	path    string
	current *WorkingMemory
	logger  zerolog.Logger
}

// NewWorkingStore loads (or starts empty) the working memory for agentID.
func NewWorkingStore(dir, agentID string, logger zerolog.Logger) *WorkingStore {
	s := &WorkingStore{
		path:   storeFile(dir, agentID, KindWorking),
		logger: logger.With().Str("component", "working_store").Str("agent_id", agentID).Logger(),
	}
	var m WorkingMemory
	loadJSON(s.path, &m, s.logger)
	if m.ID != "" {
		s.current = &m
	}
	return s
}

// Set overwrites the working buffer. ttl <= 0 uses DefaultWorkingTTL.
// Returns the id of the new buffer.
func (s *WorkingStore) Set(content string, context map[string]any, ttl time.Duration) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl <= 0 {
		ttl = DefaultWorkingTTL
	}
	now := nowMS()
	s.current = &WorkingMemory{
		BaseMemory: BaseMemory{
			ID:        NewID(),
			Kind:      KindWorking,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Content:   content,
		Context:   context,
		ExpiresAt: now + ttl.Milliseconds(),
	}
	saveJSON(s.path, s.current, s.logger)
	s.logger.Debug().Str("id", s.current.ID).Int64("expires_at", s.current.ExpiresAt).Msg("Working memory set")
	return s.current.ID
}

// Get returns the live working memory, or nil if none is set or it has
// expired. Expiry is lazy: it is checked here, not on a timer.
func (s *WorkingStore) Get() *WorkingMemory {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	if nowMS() > s.current.ExpiresAt {
		s.logger.Debug().Str("id", s.current.ID).Msg("Working memory expired")
		s.current = nil
		saveJSON(s.path, &WorkingMemory{}, s.logger)
		return nil
	}
	return s.current
}

// Clear drops the working buffer immediately.
func (s *WorkingStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	saveJSON(s.path, &WorkingMemory{}, s.logger)
}

package stores

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// EmotionalStore persists affective tags attached to other memories.
type EmotionalStore struct {
	mu     sync.Mutex
	path   string
	items  []EmotionalMemory
	logger zerolog.Logger
}

// NewEmotionalStore loads the emotional memories for agentID.
func NewEmotionalStore(dir, agentID string, logger zerolog.Logger) *EmotionalStore {
	s := &EmotionalStore{
		path:   storeFile(dir, agentID, KindEmotional),
		logger: logger.With().Str("component", "emotional_store").Str("agent_id", agentID).Logger(),
	}
	loadJSON(s.path, &s.items, s.logger)
	return s
}

// Add tags the memory identified by targetID/targetKind with an emotion.
// The target is not checked for existence; the reference is weak.
func (s *EmotionalStore) Add(targetID string, targetKind Kind, emotion string, intensity float64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := nowMS()
	m := EmotionalMemory{
		BaseMemory: BaseMemory{
			ID:        NewID(),
			Kind:      KindEmotional,
			CreatedAt: now,
			UpdatedAt: now,
		},
		TargetMemoryID:   targetID,
		TargetMemoryKind: targetKind,
		Tag: EmotionTag{
			Emotion:   emotion,
			Intensity: clamp01(intensity),
			Timestamp: now,
		},
	}
	s.items = append(s.items, m)
	saveJSON(s.path, s.items, s.logger)
	return m.ID
}

// GetAll returns a copy of every emotional tag.
func (s *EmotionalStore) GetAll() []EmotionalMemory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EmotionalMemory(nil), s.items...)
}

// GetByTarget returns the tags attached to a given memory id.
func (s *EmotionalStore) GetByTarget(targetID string) []EmotionalMemory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Filter(s.items, func(m EmotionalMemory, _ int) bool { return m.TargetMemoryID == targetID })
}

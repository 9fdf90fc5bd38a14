package stores

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// ProceduralStore persists an agent's learned trigger/action patterns.
type ProceduralStore struct {
	mu     sync.Mutex
	path   string
	items  []ProceduralMemory
	logger zerolog.Logger
}

// NewProceduralStore loads the procedural memories for agentID.
func NewProceduralStore(dir, agentID string, logger zerolog.Logger) *ProceduralStore {
	s := &ProceduralStore{
		path:   storeFile(dir, agentID, KindProcedural),
		logger: logger.With().Str("component", "procedural_store").Str("agent_id", agentID).Logger(),
	}
	loadJSON(s.path, &s.items, s.logger)
	return s
}

// Add stores a new pattern. New patterns start with a neutral success rate.
func (s *ProceduralStore) Add(pattern, trigger, action string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := nowMS()
	m := ProceduralMemory{
		BaseMemory: BaseMemory{
			ID:        NewID(),
			Kind:      KindProcedural,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Pattern:     pattern,
		Trigger:     trigger,
		Action:      action,
		SuccessRate: 0.5,
	}
	s.items = append(s.items, m)
	saveJSON(s.path, s.items, s.logger)
	return m.ID
}

// GetAll returns a copy of every pattern.
func (s *ProceduralStore) GetAll() []ProceduralMemory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ProceduralMemory(nil), s.items...)
}

// FindMatching returns patterns whose trigger matches the given trigger
// text, case-insensitive, in either direction.
func (s *ProceduralStore) FindMatching(trigger string) []ProceduralMemory {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := strings.ToLower(strings.TrimSpace(trigger))
	if needle == "" {
		return nil
	}
	return lo.Filter(s.items, func(m ProceduralMemory, _ int) bool {
		t := strings.ToLower(m.Trigger)
		return strings.Contains(t, needle) || strings.Contains(needle, t)
	})
}

// RecordUse folds one success/failure observation into the pattern's running
// average. The rate always stays within [0,1].
func (s *ProceduralStore) RecordUse(id string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID != id {
			continue
		}
		m := &s.items[i]
		outcome := 0.0
		if success {
			outcome = 1.0
		}
		m.SuccessRate = clamp01((m.SuccessRate*float64(m.UseCount) + outcome) / float64(m.UseCount+1))
		m.UseCount++
		m.UpdatedAt = nowMS()
		saveJSON(s.path, s.items, s.logger)
		s.logger.Debug().Str("id", id).Bool("success", success).Float64("success_rate", m.SuccessRate).Msg("Recorded pattern use")
		return nil
	}
	return fmt.Errorf("procedural memory %q not found", id)
}

// Delete removes the pattern with the given id. Returns false if not found.
func (s *ProceduralStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.items)
	s.items = lo.Filter(s.items, func(m ProceduralMemory, _ int) bool { return m.ID != id })
	if len(s.items) == before {
		return false
	}
	saveJSON(s.path, s.items, s.logger)
	return true
}

// DeleteAllExcept drops every pattern whose id is not in keep.
func (s *ProceduralStore) DeleteAllExcept(keep map[string]bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.items)
	s.items = lo.Filter(s.items, func(m ProceduralMemory, _ int) bool { return keep[m.ID] })
	removed := before - len(s.items)
	if removed > 0 {
		saveJSON(s.path, s.items, s.logger)
		s.logger.Info().Int("removed", removed).Int("kept", len(s.items)).Msg("Procedural memories forgotten")
	}
	return removed
}

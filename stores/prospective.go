package stores

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// ProspectiveStore persists an agent's deferred intentions.
type ProspectiveStore struct {
	mu     sync.Mutex
	path   string
	items  []ProspectiveMemory
	logger zerolog.Logger
}

// NewProspectiveStore loads the prospective memories for agentID.
func NewProspectiveStore(dir, agentID string, logger zerolog.Logger) *ProspectiveStore {
	s := &ProspectiveStore{
		path:   storeFile(dir, agentID, KindProspective),
		logger: logger.With().Str("component", "prospective_store").Str("agent_id", agentID).Logger(),
	}
	loadJSON(s.path, &s.items, s.logger)
	return s
}

// Add stores a pending intention. triggerTime of 0 means no time trigger.
func (s *ProspectiveStore) Add(intention string, priority float64, triggerTime int64, triggerContext string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := nowMS()
	m := ProspectiveMemory{
		BaseMemory: BaseMemory{
			ID:        NewID(),
			Kind:      KindProspective,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Intention:      intention,
		Status:         StatusPending,
		Priority:       clamp01(priority),
		TriggerTime:    triggerTime,
		TriggerContext: triggerContext,
	}
	s.items = append(s.items, m)
	saveJSON(s.path, s.items, s.logger)
	return m.ID
}

// GetAll returns a copy of every intention.
func (s *ProspectiveStore) GetAll() []ProspectiveMemory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ProspectiveMemory(nil), s.items...)
}

// GetDue returns pending intentions whose trigger time has passed as of
// nowMillis.
func (s *ProspectiveStore) GetDue(nowMillis int64) []ProspectiveMemory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Filter(s.items, func(m ProspectiveMemory, _ int) bool {
		return m.Status == StatusPending && m.TriggerTime > 0 && m.TriggerTime <= nowMillis
	})
}

// MarkTriggered transitions a pending intention to triggered.
func (s *ProspectiveStore) MarkTriggered(id string) error {
	return s.transition(id, StatusTriggered)
}

// Complete transitions a pending or triggered intention to completed.
func (s *ProspectiveStore) Complete(id string) error {
	return s.transition(id, StatusCompleted)
}

func (s *ProspectiveStore) transition(id string, to ProspectiveStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID != id {
			continue
		}
		m := &s.items[i]
		if !validTransition(m.Status, to) {
			return fmt.Errorf("invalid transition %s -> %s for %q", m.Status, to, id)
		}
		m.Status = to
		m.UpdatedAt = nowMS()
		saveJSON(s.path, s.items, s.logger)
		s.logger.Debug().Str("id", id).Str("status", string(to)).Msg("Prospective memory transitioned")
		return nil
	}
	return fmt.Errorf("prospective memory %q not found", id)
}

func validTransition(from, to ProspectiveStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusTriggered || to == StatusCompleted
	case StatusTriggered:
		return to == StatusCompleted
	default:
		return false
	}
}

// Delete removes the intention with the given id. Returns false if not found.
func (s *ProspectiveStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.items)
	s.items = lo.Filter(s.items, func(m ProspectiveMemory, _ int) bool { return m.ID != id })
	if len(s.items) == before {
		return false
	}
	saveJSON(s.path, s.items, s.logger)
	return true
}

// DeleteAllExcept drops every intention whose id is not in keep.
func (s *ProspectiveStore) DeleteAllExcept(keep map[string]bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.items)
	s.items = lo.Filter(s.items, func(m ProspectiveMemory, _ int) bool { return keep[m.ID] })
	removed := before - len(s.items)
	if removed > 0 {
		saveJSON(s.path, s.items, s.logger)
		s.logger.Info().Int("removed", removed).Int("kept", len(s.items)).Msg("Prospective memories forgotten")
	}
	return removed
}

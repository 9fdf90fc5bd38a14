package manager

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry hands out one Manager per (agent, workspace) pair. Repeated
// lookups return the same instance so the in-flight sync guard and the
// store mutexes actually cover all callers.
type Registry struct {
	mu       sync.Mutex
	managers map[registryKey]*Manager
	build    BuildFunc
	logger   zerolog.Logger
}

type registryKey struct {
	agentID   string
	workspace string
}

// BuildFunc constructs a manager for a pair the registry has not seen yet.
type BuildFunc func(agentID, workspace string) (*Manager, error)

func NewRegistry(build BuildFunc, logger zerolog.Logger) *Registry {
	return &Registry{
		managers: make(map[registryKey]*Manager),
		build:    build,
		logger:   logger.With().Str("component", "registry").Logger(),
	}
}

// Get returns the manager for the pair, building it on first use.
func (r *Registry) Get(agentID, workspace string) (*Manager, error) {
	key := registryKey{agentID: agentID, workspace: workspace}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.managers[key]; ok {
		return m, nil
	}

	m, err := r.build(agentID, workspace)
	if err != nil {
		return nil, err
	}
	r.managers[key] = m
	r.logger.Debug().Str("agent", agentID).Str("workspace", workspace).Msg("Built manager")
	return m, nil
}

// Evict closes and removes one manager. A missing pair is a no-op.
func (r *Registry) Evict(agentID, workspace string) error {
	key := registryKey{agentID: agentID, workspace: workspace}

	r.mu.Lock()
	m, ok := r.managers[key]
	delete(r.managers, key)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return m.Close()
}

// Close shuts down every manager. The first error wins but all managers are
// still closed.
func (r *Registry) Close() error {
	r.mu.Lock()
	managers := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		managers = append(managers, m)
	}
	r.managers = make(map[registryKey]*Manager)
	r.mu.Unlock()

	var firstErr error
	for _, m := range managers {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

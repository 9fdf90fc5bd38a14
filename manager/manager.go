// Package manager unifies the typed stores, the retrieval index, and the
// sleep engine behind one per-agent surface.
package manager

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/mnemo-agent/mnemod/classifier"
	"github.com/mnemo-agent/mnemod/config"
	"github.com/mnemo-agent/mnemod/conversations"
	"github.com/mnemo-agent/mnemod/index"
	"github.com/mnemo-agent/mnemod/sleep"
	"github.com/mnemo-agent/mnemod/stores"
)

// ErrSyncInFlight is returned when a sync is requested while another one for
// the same workspace is still running.
var ErrSyncInFlight = fmt.Errorf("a sync is already running for this workspace")

// Entry is the kind-agnostic view of a typed memory, what callers get back
// from GetRelevantMemories.
type Entry struct {
	ID        string      `json:"id"`
	Kind      stores.Kind `json:"kind"`
	Content   string      `json:"content"`
	CreatedAt int64       `json:"created_at"`
	UpdatedAt int64       `json:"updated_at"`
}

// Stores bundles the six typed stores of one agent.
type Stores struct {
	Working     *stores.WorkingStore
	Episodic    *stores.EpisodicStore
	Semantic    *stores.SemanticStore
	Procedural  *stores.ProceduralStore
	Prospective *stores.ProspectiveStore
	Emotional   *stores.EmotionalStore
}

// Manager owns the memory of a single agent in a single workspace.
type Manager struct {
	agentID    string
	cfg        config.Config
	stores     Stores
	index      *index.Index
	convs      *conversations.Store
	classifier classifier.Classifier
	compressor *sleep.Compressor
	journal    *sleep.Journal
	logger     zerolog.Logger

	syncing atomic.Bool
}

// New builds a manager. The index must already be initialized; cls may be
// nil, in which case the deterministic keyword classifier is used.
func New(agentID string, cfg config.Config, ix *index.Index, cls classifier.Classifier, summarizer sleep.Summarizer, logger zerolog.Logger) *Manager {
	if cls == nil {
		cls = classifier.Keyword{}
	}
	root := cfg.MemoryRoot
	log := logger.With().Str("component", "manager").Str("agent", agentID).Logger()

	m := &Manager{
		agentID: agentID,
		cfg:     cfg,
		stores: Stores{
			Working:     stores.NewWorkingStore(root, agentID, logger),
			Episodic:    stores.NewEpisodicStore(root, agentID, logger),
			Semantic:    stores.NewSemanticStore(root, agentID, logger),
			Procedural:  stores.NewProceduralStore(root, agentID, logger),
			Prospective: stores.NewProspectiveStore(root, agentID, logger),
			Emotional:   stores.NewEmotionalStore(root, agentID, logger),
		},
		index:      ix,
		classifier: cls,
		compressor: sleep.NewCompressor(summarizer, cfg.Sleep.KeepRecentMessages, logger),
		journal:    sleep.NewJournal(root, logger),
		logger:     log,
	}
	if ix != nil && ix.DB() != nil {
		m.convs = conversations.NewStore(ix.DB(), logger)
	}
	return m
}

// Stores exposes the typed stores for direct, kind-specific operations.
func (m *Manager) Stores() Stores { return m.stores }

// Index exposes the retrieval index for search and reads.
func (m *Manager) Index() *index.Index { return m.index }

// Conversations exposes the conversation log; nil when no index database is
// attached.
func (m *Manager) Conversations() *conversations.Store { return m.convs }

// GetRelevantMemories gathers from the requested typed stores, newest first.
// This is the structured-store retrieval path; file content goes through
// Index().Search instead. An empty kinds slice means all kinds.
func (m *Manager) GetRelevantMemories(query string, limit int, kinds []stores.Kind) []Entry {
	if limit <= 0 {
		limit = 20
	}
	wanted := func(k stores.Kind) bool {
		return len(kinds) == 0 || lo.Contains(kinds, k)
	}

	var out []Entry
	if wanted(stores.KindWorking) {
		if w := m.stores.Working.Get(); w != nil {
			out = append(out, entryOf(w.BaseMemory, w.Content))
		}
	}
	if wanted(stores.KindEpisodic) {
		episodes := m.stores.Episodic.GetAll()
		if query != "" {
			episodes = m.stores.Episodic.GetByContext(query)
		}
		for _, e := range episodes {
			out = append(out, entryOf(e.BaseMemory, e.Event))
		}
	}
	if wanted(stores.KindSemantic) {
		for _, s := range m.stores.Semantic.Query(stores.SemanticFilter{Text: query}) {
			out = append(out, entryOf(s.BaseMemory, s.Fact))
		}
	}
	if wanted(stores.KindProcedural) {
		procedures := m.stores.Procedural.GetAll()
		if query != "" {
			procedures = m.stores.Procedural.FindMatching(query)
		}
		for _, p := range procedures {
			out = append(out, entryOf(p.BaseMemory, p.Pattern+": "+p.Action))
		}
	}
	if wanted(stores.KindProspective) {
		for _, p := range m.stores.Prospective.GetAll() {
			out = append(out, entryOf(p.BaseMemory, p.Intention))
		}
	}
	if wanted(stores.KindEmotional) {
		for _, e := range m.stores.Emotional.GetAll() {
			out = append(out, entryOf(e.BaseMemory, e.Tag.Emotion))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func entryOf(b stores.BaseMemory, content string) Entry {
	return Entry{
		ID:        b.ID,
		Kind:      b.Kind,
		Content:   content,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

// OnNewMessage runs real-time extraction for one message. Fire-and-forget:
// the classification happens on a detached goroutine and its failures are
// logged, never surfaced. The caller's turn is never blocked.
func (m *Manager) OnNewMessage(text, conversationID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		found, err := m.classifier.Classify(ctx, text)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Real-time extraction failed, message not memorized")
			return
		}
		for _, e := range found {
			m.storeExtraction(e, conversationID)
		}
		if len(found) > 0 {
			m.logger.Debug().Int("extracted", len(found)).Msg("Real-time extraction stored memories")
		}
	}()
}

// storeExtraction routes one extraction into the matching typed store.
func (m *Manager) storeExtraction(e classifier.Extraction, conversationID string) {
	switch e.Type {
	case "fact", "preference":
		category := ""
		if e.Type == "preference" {
			category = "preference"
		}
		m.stores.Semantic.Add(e.Content, category, e.Importance, "extraction")
	case "event", "decision":
		m.stores.Episodic.Add(e.Content, time.Now().UnixMilli(), stores.EpisodeContext{
			What: e.Content,
			When: time.Now().UTC().Format(time.RFC3339),
		}, conversationID)
	case "learning":
		m.stores.Procedural.Add(e.Content, "", "")
	default:
		m.logger.Debug().Str("type", e.Type).Msg("Extraction type has no store, dropped")
	}
}

// OnSleepEnded is the irreversible forgetting step: every semantic,
// episodic, procedural, and prospective memory whose id is not in keepIDs is
// deleted. Working and emotional memory are untouched.
func (m *Manager) OnSleepEnded(keepIDs []string) int {
	keep := make(map[string]bool, len(keepIDs))
	for _, id := range keepIDs {
		keep[id] = true
	}

	removed := m.stores.Semantic.DeleteAllExcept(keep)
	removed += m.stores.Episodic.DeleteAllExcept(keep)
	removed += m.stores.Procedural.DeleteAllExcept(keep)
	removed += m.stores.Prospective.DeleteAllExcept(keep)

	m.logger.Info().
		Int("kept", len(keepIDs)).
		Int("removed", removed).
		Msg("Sleep ended, memories outside keep-set forgotten")
	return removed
}

// Sync reindexes the memory files. At most one sync per manager runs at a
// time; a second caller gets ErrSyncInFlight instead of queueing.
func (m *Manager) Sync(ctx context.Context, reason string, force bool) (index.SyncStats, error) {
	if m.index == nil {
		return index.SyncStats{}, fmt.Errorf("no index attached")
	}
	if !m.syncing.CompareAndSwap(false, true) {
		return index.SyncStats{}, ErrSyncInFlight
	}
	defer m.syncing.Store(false)

	return m.index.Sync(ctx, index.SyncOptions{Reason: reason, Force: force})
}

// MaybeSleep runs one check-then-act sleep cycle for a conversation: trigger
// check, compression, consolidation, forgetting bookkeeping. Callers invoke
// it at a quiet point in the turn, never concurrently with Append on the
// same conversation. Returns true when a sleep cycle actually ran.
func (m *Manager) MaybeSleep(ctx context.Context, conversationKey string) (bool, error) {
	if m.convs == nil {
		return false, fmt.Errorf("no conversation store attached")
	}

	state, err := m.convs.State(ctx, conversationKey)
	if err != nil {
		return false, err
	}
	msgs, err := m.convs.List(ctx, conversationKey)
	if err != nil {
		return false, err
	}
	if !sleep.ShouldSleep(state, len(msgs), m.cfg.ContextWindow, m.cfg.Sleep, time.Now()) {
		return false, nil
	}

	m.logger.Info().
		Str("conversation", conversationKey).
		Int("messages", len(msgs)).
		Int("tokens", state.TotalTokens).
		Msg("Sleep triggered")

	// Consolidate before compressing so original messages are classified,
	// not their summaries.
	consolidator := sleep.NewConsolidator(m.classifier, m.journal, m.logger)
	extracted, err := consolidator.Consolidate(ctx, msgs)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Consolidation failed, continuing with compression")
	}
	for _, e := range extracted {
		m.storeExtraction(e, conversationKey)
	}

	budget := sleep.Budget(m.cfg.ContextWindow, m.cfg.Sleep)
	compressed, err := m.compressor.Compress(ctx, msgs, budget, m.cfg.Sleep.CompressionStrategy)
	if err != nil {
		return false, fmt.Errorf("compress conversation: %w", err)
	}
	if err := m.convs.Replace(ctx, conversationKey, compressed); err != nil {
		return false, fmt.Errorf("replace conversation: %w", err)
	}
	if err := m.convs.RecordSleep(ctx, conversationKey); err != nil {
		return false, err
	}
	return true, nil
}

// Close flushes nothing (stores save synchronously) but releases the index
// database.
func (m *Manager) Close() error {
	if m.index != nil {
		return m.index.Close()
	}
	return nil
}

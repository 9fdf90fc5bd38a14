package manager

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mnemo-agent/mnemod/classifier"
	"github.com/mnemo-agent/mnemod/config"
	"github.com/mnemo-agent/mnemod/index"
	"github.com/mnemo-agent/mnemod/sleep"
	"github.com/mnemo-agent/mnemod/stores"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	root := t.TempDir()
	cfg := config.Defaults()
	cfg.MemoryRoot = root
	cfg.IndexPath = filepath.Join(root, "memory-index.db")
	cfg.ContextWindow = 1000

	ix := index.New(index.Options{
		Root:      root,
		IndexPath: cfg.IndexPath,
		MinScore:  cfg.Search.MinScore,
	}, nil, zerolog.Nop())
	if err := ix.Initialize(); err != nil {
		t.Fatalf("initialize index: %v", err)
	}

	m := New("test-agent", cfg, ix, classifier.Keyword{}, sleep.Extractive{}, zerolog.Nop())
	t.Cleanup(func() { m.Close() })
	return m
}

func TestGetRelevantMemoriesSortsAndTruncates(t *testing.T) {
	m := newTestManager(t)

	m.Stores().Semantic.Add("The staging host is db-2", "", 0.9, "")
	time.Sleep(2 * time.Millisecond)
	m.Stores().Episodic.Add("Deployed release 1.4", time.Now().UnixMilli(),
		stores.EpisodeContext{What: "deploy", When: "today"}, "")
	time.Sleep(2 * time.Millisecond)
	m.Stores().Prospective.Add("Review the backlog", 0.5, 0, "")

	got := m.GetRelevantMemories("", 10, nil)
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].UpdatedAt > got[i-1].UpdatedAt {
			t.Fatal("entries are not sorted newest first")
		}
	}
	if got[0].Kind != stores.KindProspective {
		t.Fatalf("newest entry kind = %s, want prospective", got[0].Kind)
	}

	if got := m.GetRelevantMemories("", 2, nil); len(got) != 2 {
		t.Fatalf("limit 2 returned %d entries", len(got))
	}

	onlyFacts := m.GetRelevantMemories("staging", 10, []stores.Kind{stores.KindSemantic})
	if len(onlyFacts) != 1 || onlyFacts[0].Kind != stores.KindSemantic {
		t.Fatalf("kind filter returned %+v", onlyFacts)
	}
}

func TestOnSleepEndedKeepSet(t *testing.T) {
	m := newTestManager(t)

	semID := m.Stores().Semantic.Add("keep me", "", 0.9, "")
	m.Stores().Semantic.Add("forget me", "", 0.9, "")
	m.Stores().Episodic.Add("forget this event", time.Now().UnixMilli(), stores.EpisodeContext{}, "")

	removed := m.OnSleepEnded([]string{semID})
	if removed != 2 {
		t.Fatalf("removed %d memories, want 2", removed)
	}

	remaining := m.GetRelevantMemories("", 10, nil)
	if len(remaining) != 1 || remaining[0].ID != semID {
		t.Fatalf("keep-set not honored, remaining %+v", remaining)
	}
}

func TestOnNewMessageIsFireAndForget(t *testing.T) {
	m := newTestManager(t)

	m.OnNewMessage("I prefer rebasing over merge commits", "conv-1")

	// Extraction is detached; poll for the write instead of synchronizing.
	deadline := time.After(2 * time.Second)
	for {
		facts := m.Stores().Semantic.Query(stores.SemanticFilter{Text: "rebasing"})
		if len(facts) == 1 {
			if facts[0].Category != "preference" {
				t.Fatalf("category = %q, want preference", facts[0].Category)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("extraction never reached the semantic store")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSyncGuardRejectsConcurrent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	m.syncing.Store(true)
	if _, err := m.Sync(ctx, "test", false); err != ErrSyncInFlight {
		t.Fatalf("err = %v, want ErrSyncInFlight", err)
	}
	m.syncing.Store(false)

	if _, err := m.Sync(ctx, "test", false); err != nil {
		t.Fatalf("sync after guard release: %v", err)
	}
}

func TestMaybeSleepCompressesAndRecords(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	key := "conv-1"

	// ContextWindow 1000 and threshold 0.75 put the gate at 750 tokens.
	filler := strings.Repeat("alpha beta gamma ", 20)
	for range 10 {
		if _, err := m.Conversations().Append(ctx, key, "user", filler, 85); err != nil {
			t.Fatal(err)
		}
	}

	slept, err := m.MaybeSleep(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if !slept {
		t.Fatal("gates pass, expected a sleep cycle")
	}

	st, err := m.Conversations().State(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if st.SleepCount != 1 || st.SleepAtMS == 0 {
		t.Fatalf("sleep not recorded: %+v", st)
	}
	if st.TotalTokens >= 850 {
		t.Fatalf("token total not reduced, still %d", st.TotalTokens)
	}

	// Cooldown keeps the very next check from sleeping again.
	slept, err = m.MaybeSleep(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if slept {
		t.Fatal("second sleep inside cooldown window")
	}
}

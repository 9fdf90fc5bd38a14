package index

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mnemo-agent/mnemod/memfiles"
)

// vocabEmbedder maps text onto fixed vocabulary axes so cosine scores are
// predictable in tests.
type vocabEmbedder struct {
	vocab      []string
	embedCalls atomic.Int64
	batchCalls atomic.Int64
	fail       bool
}

func newVocabEmbedder() *vocabEmbedder {
	return &vocabEmbedder{vocab: []string{"coffee", "preference", "dark", "roast", "deploy", "server", "staging"}}
}

func (e *vocabEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.embedCalls.Add(1)
	if e.fail {
		return nil, os.ErrDeadlineExceeded
	}
	vec := make([]float32, len(e.vocab))
	lower := strings.ToLower(text)
	for i, w := range e.vocab {
		if strings.Contains(lower, w) {
			vec[i] = 1
		}
	}
	return vec, nil
}

func (e *vocabEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.batchCalls.Add(1)
	if e.fail {
		return nil, os.ErrDeadlineExceeded
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func writeMemoryFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestIndex(t *testing.T, root string, embedder Embedder) *Index {
	t.Helper()
	ix := New(Options{
		Root:      root,
		IndexPath: filepath.Join(root, "memory-index.db"),
		Model:     "test-vocab",
		MinScore:  0.3,
	}, embedder, zerolog.Nop())
	if err := ix.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestSyncIsIncrementalAndDeterministic(t *testing.T) {
	root := t.TempDir()
	writeMemoryFile(t, root, "MEMORY.md", "# Agent memory\n\nThe user prefers dark roast coffee.\n")
	writeMemoryFile(t, root, "memory/ops.md", "# Ops\n\nDeploy to the staging server before production.\n")

	emb := newVocabEmbedder()
	ix := newTestIndex(t, root, emb)
	ctx := context.Background()

	first, err := ix.Sync(ctx, SyncOptions{Reason: "test"})
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if first.Scanned != 2 || first.Updated != 2 || first.Skipped != 0 {
		t.Fatalf("first sync stats = %+v, want 2 scanned, 2 updated", first)
	}
	if first.ChunksIndexed == 0 {
		t.Fatal("first sync indexed no chunks")
	}
	batchesAfterFirst := emb.batchCalls.Load()

	second, err := ix.Sync(ctx, SyncOptions{Reason: "test"})
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if second.Updated != 0 || second.Skipped != 2 || second.ChunksIndexed != 0 {
		t.Fatalf("second sync stats = %+v, want everything skipped", second)
	}
	if got := emb.batchCalls.Load(); got != batchesAfterFirst {
		t.Fatalf("unchanged files must not be re-embedded, batch calls %d -> %d", batchesAfterFirst, got)
	}

	writeMemoryFile(t, root, "memory/ops.md", "# Ops\n\nDeploy to the staging server before production.\n\nRotate credentials monthly.\n")
	third, err := ix.Sync(ctx, SyncOptions{Reason: "test"})
	if err != nil {
		t.Fatalf("third sync: %v", err)
	}
	if third.Updated != 1 || third.Skipped != 1 {
		t.Fatalf("third sync stats = %+v, want exactly the changed file updated", third)
	}
}

func TestSyncDropsDeletedFiles(t *testing.T) {
	root := t.TempDir()
	writeMemoryFile(t, root, "MEMORY.md", "# Memory\n\nAlpha.\n")
	writeMemoryFile(t, root, "memory/notes.md", "# Notes\n\nBeta.\n")

	ix := newTestIndex(t, root, newVocabEmbedder())
	ctx := context.Background()
	if _, err := ix.Sync(ctx, SyncOptions{}); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(root, "memory", "notes.md")); err != nil {
		t.Fatal(err)
	}
	stats, err := ix.Sync(ctx, SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Removed != 1 {
		t.Fatalf("Removed = %d, want 1", stats.Removed)
	}

	st, err := ix.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.Files != 1 {
		t.Fatalf("Status.Files = %d after deletion, want 1", st.Files)
	}
}

func TestSyncStopsAtFileBoundaryOnCancel(t *testing.T) {
	root := t.TempDir()
	writeMemoryFile(t, root, "MEMORY.md", "# Memory\n\nAlpha.\n")

	ix := newTestIndex(t, root, newVocabEmbedder())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := ix.Sync(ctx, SyncOptions{})
	if err == nil {
		t.Fatal("expected error from cancelled sync")
	}
	if stats.Updated != 0 {
		t.Fatalf("cancelled sync updated %d files, want 0", stats.Updated)
	}
}

func TestSyncSurvivesEmbeddingFailure(t *testing.T) {
	root := t.TempDir()
	writeMemoryFile(t, root, "MEMORY.md", "# Memory\n\nThe user prefers dark roast coffee.\n")

	emb := newVocabEmbedder()
	emb.fail = true
	ix := newTestIndex(t, root, emb)
	ctx := context.Background()

	stats, err := ix.Sync(ctx, SyncOptions{})
	if err != nil {
		t.Fatalf("sync must degrade on embedding failure, got %v", err)
	}
	if stats.Updated != 1 {
		t.Fatalf("Updated = %d, want 1", stats.Updated)
	}

	// Chunks exist but carry no embeddings, so the vector tier stays empty
	// even once the embedder recovers.
	emb.fail = false
	results := ix.searchByVector(ctx, "coffee", 0.3)
	if len(results) != 0 {
		t.Fatalf("vector tier returned %d results from unembedded chunks", len(results))
	}
}

func TestSearchFindsRelevantChunk(t *testing.T) {
	root := t.TempDir()
	writeMemoryFile(t, root, "MEMORY.md",
		"# Agent memory\n\n## Infrastructure\n\nDeploy to the staging server before production.\n\n## Preferences\n\nThe user prefers dark roast coffee in the morning.\n")

	emb := newVocabEmbedder()
	ix := newTestIndex(t, root, emb)
	ctx := context.Background()
	if _, err := ix.Sync(ctx, SyncOptions{}); err != nil {
		t.Fatal(err)
	}

	results, err := ix.Search(ctx, "coffee preference", SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results for query matching indexed content")
	}
	top := results[0]
	if !strings.Contains(top.Chunk.Text, "coffee") {
		t.Fatalf("top result %q does not mention coffee", top.Chunk.Text)
	}

	// The text tier has nothing to add here (the coffee chunk is the only
	// FTS hit, which normalizes to 0), so the final score must be the full
	// cosine similarity, not a down-weighted version of it.
	queryVec, err := emb.Embed(ctx, "coffee preference")
	if err != nil {
		t.Fatal(err)
	}
	chunkVec, err := emb.Embed(ctx, top.Chunk.Text)
	if err != nil {
		t.Fatal(err)
	}
	want := CosineSimilarity(queryVec, chunkVec)
	if math.Abs(top.Score-want) > 1e-6 {
		t.Fatalf("top score = %f, want cosine similarity %f", top.Score, want)
	}

	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Fatal("results are not sorted by descending score")
		}
	}
}

// pinnedEmbedder fixes the angle between the query and chunks that mention
// the marker word, so the expected cosine is known exactly.
type pinnedEmbedder struct{}

func (pinnedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	switch {
	case lower == "coffee":
		return []float32{1, 0}, nil
	case strings.Contains(lower, "coffee"):
		return []float32{0.9, float32(math.Sqrt(1 - 0.9*0.9))}, nil
	default:
		return []float32{0, 1}, nil
	}
}

func (e pinnedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func TestSearchStrongVectorMatchKeepsSimilarity(t *testing.T) {
	root := t.TempDir()
	writeMemoryFile(t, root, "MEMORY.md",
		"# Memory\n\n## Preferences\n\nThe user prefers dark roast coffee.\n\n## Infrastructure\n\nRotate credentials monthly.\n")

	ix := newTestIndex(t, root, pinnedEmbedder{})
	ctx := context.Background()
	if _, err := ix.Sync(ctx, SyncOptions{}); err != nil {
		t.Fatal(err)
	}

	results, err := ix.Search(ctx, "coffee", SearchOptions{MinScore: 0.3})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results for strong vector match")
	}
	top := results[0]
	if !strings.Contains(top.Chunk.Text, "coffee") {
		t.Fatalf("top result %q does not mention coffee", top.Chunk.Text)
	}
	if math.Abs(top.Score-0.9) > 1e-3 {
		t.Fatalf("top score = %f, want the raw cosine 0.9", top.Score)
	}
}

func TestSearchWordOverlapFallback(t *testing.T) {
	root := t.TempDir()
	writeMemoryFile(t, root, "MEMORY.md", "# Memory\n\nAlways run the migration script before restarting.\n")

	ix := newTestIndex(t, root, nil)
	ctx := context.Background()
	if _, err := ix.Sync(ctx, SyncOptions{}); err != nil {
		t.Fatal(err)
	}

	results, err := ix.searchByWordOverlap(ctx, "migration script", 0.3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("overlap tier returned %d results, want 1", len(results))
	}
	for _, r := range results {
		if r.Score != 1.0 {
			t.Fatalf("both query words present, score = %f, want 1.0", r.Score)
		}
	}

	none, err := ix.searchByWordOverlap(ctx, "kubernetes helm", 0.3)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("no query word present, got %d results", len(none))
	}
}

func TestSearchDisabled(t *testing.T) {
	ix := New(Options{Root: t.TempDir(), Disabled: true}, nil, zerolog.Nop())
	_, err := ix.Search(context.Background(), "anything", SearchOptions{})
	if err != ErrSearchDisabled {
		t.Fatalf("err = %v, want ErrSearchDisabled", err)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	root := t.TempDir()
	writeMemoryFile(t, root, "MEMORY.md", "# Memory\n\nAlpha.\n")
	ix := newTestIndex(t, root, nil)
	if _, err := ix.Sync(context.Background(), SyncOptions{}); err != nil {
		t.Fatal(err)
	}
	results, err := ix.Search(context.Background(), "   ", SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if results != nil {
		t.Fatalf("blank query returned %d results", len(results))
	}
}

func TestReadFileClampsRange(t *testing.T) {
	root := t.TempDir()
	writeMemoryFile(t, root, "MEMORY.md", "one\ntwo\nthree\n")
	ix := newTestIndex(t, root, nil)

	text, from, to, err := ix.ReadFile("MEMORY.md", -5, 100)
	if err != nil {
		t.Fatal(err)
	}
	if from != 1 || to != 3 {
		t.Fatalf("clamped range = %d..%d, want 1..3", from, to)
	}
	if text != "one\ntwo\nthree" {
		t.Fatalf("text = %q", text)
	}

	if _, _, _, err := ix.ReadFile("missing.md", 1, 10); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("identical vectors = %f, want 1", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("orthogonal vectors = %f, want 0", got)
	}
	if got := CosineSimilarity([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Fatalf("zero-norm vector = %f, want 0", got)
	}
	if got := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}); got != 0 {
		t.Fatalf("dimension mismatch = %f, want 0", got)
	}
}

func TestEmbeddingCodec(t *testing.T) {
	if EncodeEmbedding(nil) != "" {
		t.Fatal("nil vector must encode to empty string")
	}
	if DecodeEmbedding("") != nil {
		t.Fatal("empty string must decode to nil")
	}
	if DecodeEmbedding("not json") != nil {
		t.Fatal("malformed text must decode to nil")
	}
	vec := []float32{0.25, -1.5, 3}
	got := DecodeEmbedding(EncodeEmbedding(vec))
	if len(got) != len(vec) {
		t.Fatalf("roundtrip length %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Fatalf("roundtrip[%d] = %f, want %f", i, got[i], vec[i])
		}
	}
}

func TestSourceForPath(t *testing.T) {
	root := filepath.FromSlash("/agent/memory-root")
	cases := []struct {
		rel  string
		want string
	}{
		{"MEMORY.md", memfiles.SourceMemory},
		{"memory/notes.md", memfiles.SourceMemory},
		{"conversations/2026-08-30.md", memfiles.SourceConversations},
		{"memory/conversations/2026-08-30.md", memfiles.SourceConversations},
	}
	for _, tc := range cases {
		got := sourceForPath(root, absPath(root, tc.rel))
		if got != tc.want {
			t.Errorf("sourceForPath(%q) = %q, want %q", tc.rel, got, tc.want)
		}
	}
}

func TestFTSQueryQuoting(t *testing.T) {
	got := ftsQuery(`coffee "dark roast`)
	want := `"coffee" OR "dark" OR "roast"`
	if got != want {
		t.Fatalf("ftsQuery = %q, want %q", got, want)
	}
}

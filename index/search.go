package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/samber/lo"

	"github.com/mnemo-agent/mnemod/memfiles"
)

// SearchOptions control one query.
type SearchOptions struct {
	MaxResults int
	MinScore   float64
}

// SearchResult is one scored chunk.
type SearchResult struct {
	Chunk memfiles.Chunk
	Score float64
}

// ErrSearchDisabled signals that memory search is switched off in config.
// Callers surface this as an explicit "disabled" result, not a failure.
var ErrSearchDisabled = fmt.Errorf("memory search is disabled")

// Search runs hybrid retrieval over the chunk index.
//
// Tier 1: if an embedder is configured, cosine similarity of the query
// embedding against every stored chunk embedding, cut at MinScore.
// Tier 2: if FTS5 is available, a BM25-ranked match, rank-normalized to
// [0,1]. Chunks found by both tiers merge as
// vector*VectorWeight + fts*TextWeight, floored at the raw cosine so a
// weak or absent text tier never pulls a strong vector match down;
// FTS-only chunks score fts*TextWeight.
// Tier 3: with no embedder at all and no FTS hits, word-overlap scoring —
// the fraction of query words present in the chunk, case-insensitive.
func (ix *Index) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	if ix.opts.Disabled {
		return nil, ErrSearchDisabled
	}
	if !ix.initialized {
		return nil, fmt.Errorf("index is not initialized")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = ix.opts.MaxResults
	}
	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = ix.opts.MinScore
	}
	candidates := maxResults * ix.opts.CandidateMultiplier

	ix.logger.Debug().
		Str("query", query).
		Int("max_results", maxResults).
		Float64("min_score", minScore).
		Bool("embedder", ix.embedder != nil).
		Bool("fts", ix.ftsAvailable).
		Msg("Search: start")

	byVector := ix.searchByVector(ctx, query, minScore)
	byText, err := ix.searchByFTS(ctx, query, candidates)
	if err != nil {
		ix.logger.Warn().Err(err).Msg("Search: FTS tier failed, continuing without it")
		byText = nil
	}

	merged := make(map[string]SearchResult)
	for id, r := range byVector {
		combined := r.Score * ix.opts.VectorWeight
		if t, ok := byText[id]; ok {
			combined += t.Score * ix.opts.TextWeight
		}
		if r.Score > combined {
			combined = r.Score
		}
		r.Score = combined
		merged[id] = r
	}
	for id, r := range byText {
		if _, ok := merged[id]; ok {
			continue
		}
		r.Score *= ix.opts.TextWeight
		merged[id] = r
	}

	if len(merged) == 0 && ix.embedder == nil {
		overlap, err := ix.searchByWordOverlap(ctx, query, minScore)
		if err != nil {
			return nil, err
		}
		merged = overlap
	}

	results := lo.Values(merged)
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	ix.logger.Info().
		Int("vector", len(byVector)).
		Int("fts", len(byText)).
		Int("returning", len(results)).
		Msg("Search: merged results")
	return results, nil
}

// searchByVector embeds the query and scores every chunk that carries an
// embedding. Embedding failure degrades to an empty tier, never an error.
func (ix *Index) searchByVector(ctx context.Context, query string, minScore float64) map[string]SearchResult {
	if ix.embedder == nil {
		return nil
	}

	queryVec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		ix.logger.Warn().Err(err).Msg("Search: query embedding failed, skipping vector tier")
		return nil
	}

	chunks, err := ix.loadChunks(ctx, true)
	if err != nil {
		ix.logger.Error().Err(err).Msg("Search: failed to load chunks for vector tier")
		return nil
	}

	results := make(map[string]SearchResult)
	for _, c := range chunks {
		vec := DecodeEmbedding(c.embedding)
		if len(vec) == 0 {
			continue
		}
		score := CosineSimilarity(queryVec, vec)
		if score < minScore {
			continue
		}
		results[c.chunk.ID] = SearchResult{Chunk: c.chunk, Score: score}
	}
	return results
}

// searchByFTS runs a BM25-ranked FTS5 query. SQLite's rank is a negative
// BM25 value (more negative is better); it is normalized to [0,1] via
// 1 - |rank|/maxRank.
func (ix *Index) searchByFTS(ctx context.Context, query string, limit int) (map[string]SearchResult, error) {
	if !ix.ftsAvailable {
		return nil, nil
	}

	rows, err := ix.db.QueryContext(ctx, `
SELECT id, rank FROM chunks_fts
WHERE chunks_fts MATCH ?
ORDER BY rank
LIMIT ?
`, ftsQuery(query), limit)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	type ranked struct {
		id   string
		rank float64
	}
	var hits []ranked
	maxRank := 0.0
	for rows.Next() {
		var r ranked
		if err := rows.Scan(&r.id, &r.rank); err != nil {
			return nil, err
		}
		if math.Abs(r.rank) > maxRank {
			maxRank = math.Abs(r.rank)
		}
		hits = append(hits, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := lo.Map(hits, func(r ranked, _ int) string { return r.id })
	chunks, err := ix.loadChunksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make(map[string]SearchResult, len(hits))
	for _, r := range hits {
		c, ok := chunks[r.id]
		if !ok {
			continue
		}
		score := 1.0
		if maxRank > 0 {
			score = 1.0 - math.Abs(r.rank)/maxRank
		}
		results[r.id] = SearchResult{Chunk: c, Score: score}
	}
	return results, nil
}

// searchByWordOverlap is the last-resort tier when nothing better exists:
// fraction of query words present in the chunk text, case-insensitive.
func (ix *Index) searchByWordOverlap(ctx context.Context, query string, minScore float64) (map[string]SearchResult, error) {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return nil, nil
	}

	chunks, err := ix.loadChunks(ctx, false)
	if err != nil {
		return nil, err
	}

	results := make(map[string]SearchResult)
	for _, c := range chunks {
		text := strings.ToLower(c.chunk.Text)
		found := 0
		for _, w := range words {
			if strings.Contains(text, w) {
				found++
			}
		}
		if found == 0 {
			continue
		}
		score := float64(found) / float64(len(words))
		if score < minScore {
			continue
		}
		results[c.chunk.ID] = SearchResult{Chunk: c.chunk, Score: score}
	}
	return results, nil
}

type loadedChunk struct {
	chunk     memfiles.Chunk
	embedding string
}

// loadChunks reads chunks restricted to the configured sources.
// embeddedOnly skips chunks without a stored embedding.
func (ix *Index) loadChunks(ctx context.Context, embeddedOnly bool) ([]loadedChunk, error) {
	query := statementBuilder().
		Select(chunkColumns()...).
		From("chunks")
	if len(ix.opts.Sources) > 0 {
		query = query.Where(sq.Eq{"source": ix.opts.Sources})
	}
	if embeddedOnly {
		query = query.Where(sq.NotEq{"embedding": ""}).Where(sq.NotEq{"embedding": nil})
	}

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build chunk query: %w", err)
	}
	rows, err := ix.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("chunk query: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var out []loadedChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (ix *Index) loadChunksByIDs(ctx context.Context, ids []string) (map[string]memfiles.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := statementBuilder().
		Select(chunkColumns()...).
		From("chunks").
		Where(sq.Eq{"id": ids})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build chunk query: %w", err)
	}
	rows, err := ix.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("chunk query: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	out := make(map[string]memfiles.Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out[c.chunk.ID] = c.chunk
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(rows rowScanner) (loadedChunk, error) {
	var (
		c         memfiles.Chunk
		model     string
		embedding string
		updatedAt int64
	)
	if err := rows.Scan(&c.ID, &c.Path, &c.Source, &c.StartLine, &c.EndLine,
		&c.Hash, &model, &c.Text, &embedding, &updatedAt); err != nil {
		return loadedChunk{}, err
	}
	return loadedChunk{chunk: c, embedding: embedding}, nil
}

// ftsQuery quotes each query word so user text can never break FTS5 syntax,
// OR-joined for lenient matching.
func ftsQuery(query string) string {
	words := strings.Fields(query)
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ReplaceAll(w, `"`, "")
		if w == "" {
			continue
		}
		quoted = append(quoted, `"`+w+`"`)
	}
	return strings.Join(quoted, " OR ")
}

package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/mnemo-agent/mnemod/memfiles"
)

// SyncOptions controls one sync pass.
type SyncOptions struct {
	Reason string // logged for observability
	Force  bool   // reindex even when hash and mtime are unchanged
}

// SyncStats summarizes what a sync pass did.
type SyncStats struct {
	Scanned       int
	Updated       int
	Skipped       int
	Removed       int
	ChunksIndexed int
}

// Sync walks the memory files and incrementally reindexes the changed ones.
// A file is reindexed only when its hash or mtime differs from the stored
// record, or when Force is set. Embedding failures degrade that file to
// empty embeddings and the pass continues. Sync is cancellable between
// files, never mid-file, and is idempotent: a crash mid-pass leaves finished
// files indexed and the rest eligible on the next call.
//
// Sync is not safe to run concurrently with itself; callers hold the
// manager-level guard.
func (ix *Index) Sync(ctx context.Context, opts SyncOptions) (SyncStats, error) {
	var stats SyncStats
	if !ix.initialized {
		return stats, fmt.Errorf("index is not initialized")
	}
	if ix.opts.Disabled {
		ix.logger.Debug().Msg("Sync skipped: memory search disabled")
		return stats, nil
	}

	start := time.Now()
	files, err := memfiles.ListMemoryFiles(ix.opts.Root, ix.opts.ExtraPaths)
	if err != nil {
		return stats, fmt.Errorf("list memory files: %w", err)
	}

	ix.logger.Info().
		Str("reason", opts.Reason).
		Bool("force", opts.Force).
		Int("files", len(files)).
		Msg("Sync: start")

	present := make(map[string]bool, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Scanned++

		entry, err := memfiles.BuildFileEntry(ix.opts.Root, path, sourceForPath(ix.opts.Root, path))
		if err != nil {
			ix.logger.Warn().Err(err).Str("path", path).Msg("Sync: unreadable file skipped")
			continue
		}
		present[entry.Path] = true

		if !opts.Force && ix.fileUnchanged(ctx, entry) {
			stats.Skipped++
			continue
		}

		n, err := ix.reindexFile(ctx, entry)
		if err != nil {
			ix.logger.Error().Err(err).Str("path", entry.Path).Msg("Sync: failed to reindex file")
			continue
		}
		stats.Updated++
		stats.ChunksIndexed += n
	}

	removed, err := ix.dropMissingFiles(ctx, present)
	if err != nil {
		ix.logger.Error().Err(err).Msg("Sync: failed to drop records for deleted files")
	}
	stats.Removed = removed

	ix.synced = true
	ix.logger.Info().
		Int("scanned", stats.Scanned).
		Int("updated", stats.Updated).
		Int("skipped", stats.Skipped).
		Int("removed", stats.Removed).
		Int("chunks", stats.ChunksIndexed).
		Dur("elapsed", time.Since(start)).
		Msg("Sync: done")
	return stats, nil
}

// fileUnchanged reports whether the stored record matches the current hash
// and mtime.
func (ix *Index) fileUnchanged(ctx context.Context, entry memfiles.FileEntry) bool {
	query := statementBuilder().
		Select("hash", "mtime").
		From("files").
		Where(sq.Eq{"path": entry.Path})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return false
	}

	var hash string
	var mtime int64
	err = ix.db.QueryRowContext(ctx, queryStr, args...).Scan(&hash, &mtime)
	if err != nil {
		return false // includes sql.ErrNoRows: new file
	}
	return hash == entry.Hash && mtime == entry.MtimeMS
}

// reindexFile replaces every chunk for one file inside a transaction:
// delete-then-insert plus a file-record upsert. Returns the chunk count.
func (ix *Index) reindexFile(ctx context.Context, entry memfiles.FileEntry) (int, error) {
	data, err := os.ReadFile(absPath(ix.opts.Root, entry.Path)) //#nosec G304 -- discovered path
	if err != nil {
		return 0, fmt.Errorf("read file: %w", err)
	}

	chunks := memfiles.ChunkMarkdown(entry.Path, entry.Source, string(data), memfiles.ChunkOptions{
		TargetSize: ix.opts.ChunkTargetSize,
	})

	embeddings := ix.embedChunks(ctx, entry.Path, chunks)

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE path = ?`, entry.Path); err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	if ix.ftsAvailable {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks_fts WHERE path = ?`, entry.Path); err != nil {
			return 0, fmt.Errorf("delete fts rows: %w", err)
		}
	}

	now := time.Now().UnixMilli()
	for i, c := range chunks {
		insert := statementBuilder().
			Insert("chunks").
			Columns(chunkColumns()...).
			Values(c.ID, c.Path, c.Source, c.StartLine, c.EndLine, c.Hash,
				ix.opts.Model, c.Text, EncodeEmbedding(embeddings[i]), now)
		queryStr, args, err := insert.ToSql()
		if err != nil {
			return 0, fmt.Errorf("build chunk insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, queryStr, args...); err != nil {
			return 0, fmt.Errorf("insert chunk %q: %w", c.ID, err)
		}
		if ix.ftsAvailable {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO chunks_fts (id, path, source, start_line, end_line, model, text)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, c.ID, c.Path, c.Source, c.StartLine, c.EndLine, ix.opts.Model, c.Text); err != nil {
				return 0, fmt.Errorf("insert fts row %q: %w", c.ID, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO files (path, source, hash, mtime, size) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET source=excluded.source, hash=excluded.hash,
	mtime=excluded.mtime, size=excluded.size
`, entry.Path, entry.Source, entry.Hash, entry.MtimeMS, entry.Size); err != nil {
		return 0, fmt.Errorf("upsert file record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(chunks), nil
}

// embedChunks batch-requests embeddings for a file's chunks. Any failure
// degrades the whole file to empty embeddings so sync can continue.
func (ix *Index) embedChunks(ctx context.Context, path string, chunks []memfiles.Chunk) [][]float32 {
	embeddings := make([][]float32, len(chunks))
	if ix.embedder == nil || len(chunks) == 0 {
		return embeddings
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil || len(vecs) != len(chunks) {
		ix.logger.Warn().Err(err).Str("path", path).Int("chunks", len(chunks)).
			Msg("Sync: embedding failed, indexing file without embeddings")
		return embeddings
	}
	return vecs
}

// dropMissingFiles removes records for files that no longer exist on disk.
func (ix *Index) dropMissingFiles(ctx context.Context, present map[string]bool) (int, error) {
	rows, err := ix.db.QueryContext(ctx, `SELECT path FROM files`)
	if err != nil {
		return 0, err
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var stale []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return 0, err
		}
		if !present[path] {
			stale = append(stale, path)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, path := range stale {
		if err := ix.dropFile(ctx, path); err != nil {
			return 0, err
		}
		ix.logger.Info().Str("path", path).Msg("Sync: dropped records for deleted file")
	}
	return len(stale), nil
}

func (ix *Index) dropFile(ctx context.Context, path string) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE path = ?`, path); err != nil {
		return err
	}
	if ix.ftsAvailable {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks_fts WHERE path = ?`, path); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path); err != nil {
		return err
	}
	return tx.Commit()
}

// Conversation transcripts live either at the root or under the memory/
// directory picked up by discovery.
func sourceForPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return memfiles.SourceMemory
	}
	lower := strings.ToLower(filepath.ToSlash(rel))
	if strings.HasPrefix(lower, "conversations/") || strings.HasPrefix(lower, "memory/conversations/") {
		return memfiles.SourceConversations
	}
	return memfiles.SourceMemory
}

func absPath(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}

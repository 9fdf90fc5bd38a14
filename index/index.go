package index

import (
	"bufio"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"

	"github.com/mnemo-agent/mnemod/memfiles"
	"github.com/mnemo-agent/mnemod/migrations"
)

// Options configures an Index.
type Options struct {
	Root                string   // workspace holding MEMORY.md, memory/ etc.
	IndexPath           string   // SQLite file; defaults to {root}/memory-index.db
	ExtraPaths          []string // extra memory files or directories
	Sources             []string // sources eligible for search; default all
	Model               string   // embedding model id, recorded per chunk
	ChunkTargetSize     int
	VectorWeight        float64
	TextWeight          float64
	CandidateMultiplier int
	MinScore            float64
	MaxResults          int
	Disabled            bool // memory search disabled by config
}

// Index is the chunk store. It moves through three states: constructed,
// initialized (db open, schema ensured, FTS probed), and synced.
type Index struct {
	opts     Options
	db       *sql.DB
	embedder Embedder
	logger   zerolog.Logger

	ftsAvailable bool
	initialized  bool
	synced       bool
}

// New creates an Index. Call Initialize before anything else.
func New(opts Options, embedder Embedder, logger zerolog.Logger) *Index {
	if opts.IndexPath == "" {
		opts.IndexPath = filepath.Join(opts.Root, "memory-index.db")
	}
	if opts.ChunkTargetSize <= 0 {
		opts.ChunkTargetSize = memfiles.DefaultTargetSize
	}
	if opts.CandidateMultiplier <= 0 {
		opts.CandidateMultiplier = 3
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 8
	}
	if opts.VectorWeight == 0 && opts.TextWeight == 0 {
		opts.VectorWeight, opts.TextWeight = 0.7, 0.3
	}
	return &Index{
		opts:     opts,
		embedder: embedder,
		logger:   logger.With().Str("component", "memory_index").Logger(),
	}
}

// Initialize opens the backing database, applies migrations, and probes for
// FTS5 support. Missing FTS5 is not an error: search degrades to vector-only
// or word-overlap scoring.
func (ix *Index) Initialize() error {
	if ix.initialized {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(ix.opts.IndexPath), 0o750); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}
	db, err := sql.Open("sqlite3", ix.opts.IndexPath)
	if err != nil {
		return fmt.Errorf("open index db: %w", err)
	}
	if err := migrations.Run(db, ix.logger); err != nil {
		_ = db.Close() //nolint:errcheck // cleanup on error
		return fmt.Errorf("migrate index db: %w", err)
	}

	ix.db = db
	ix.ftsAvailable = ix.ensureFTS()
	ix.initialized = true
	ix.logger.Info().
		Str("path", ix.opts.IndexPath).
		Bool("fts", ix.ftsAvailable).
		Bool("embedder", ix.embedder != nil).
		Msg("Index initialized")
	return nil
}

// ensureFTS creates the FTS5 mirror table, reporting whether FTS is usable.
func (ix *Index) ensureFTS() bool {
	_, err := ix.db.Exec(`
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	id UNINDEXED, path UNINDEXED, source UNINDEXED,
	start_line UNINDEXED, end_line UNINDEXED, model UNINDEXED,
	text
)`)
	if err != nil {
		ix.logger.Warn().Err(err).Msg("FTS5 unavailable, falling back to vector/substring search")
		return false
	}
	return true
}

// DB exposes the shared database handle so collaborators (the conversation
// store) can live in the same file.
func (ix *Index) DB() *sql.DB { return ix.db }

// Close releases the database handle.
func (ix *Index) Close() error {
	if ix.db == nil {
		return nil
	}
	err := ix.db.Close()
	ix.db = nil
	ix.initialized = false
	return err
}

// Status reports index observability data.
type Status struct {
	Files        int      `json:"files"`
	Chunks       int      `json:"chunks"`
	Synced       bool     `json:"synced"`
	FTSAvailable bool     `json:"fts_available"`
	Disabled     bool     `json:"disabled"`
	Model        string   `json:"model,omitempty"`
	Sources      []string `json:"sources,omitempty"`
}

// Status returns file/chunk counts and index provenance.
func (ix *Index) Status() (Status, error) {
	st := Status{
		Synced:       ix.synced,
		FTSAvailable: ix.ftsAvailable,
		Disabled:     ix.opts.Disabled,
		Model:        ix.opts.Model,
		Sources:      ix.opts.Sources,
	}
	if !ix.initialized {
		return st, nil
	}
	if err := ix.db.QueryRow(`SELECT COUNT(*) FROM files`).Scan(&st.Files); err != nil {
		return st, fmt.Errorf("count files: %w", err)
	}
	if err := ix.db.QueryRow(`SELECT COUNT(*) FROM chunks`).Scan(&st.Chunks); err != nil {
		return st, fmt.Errorf("count chunks: %w", err)
	}
	return st, nil
}

// ReadFile returns the requested 1-indexed inclusive line range of an indexed
// file, clamped to the file's bounds. Used for deep reads after a search hit.
func (ix *Index) ReadFile(relPath string, fromLine, toLine int) (string, int, int, error) {
	abs := filepath.Join(ix.opts.Root, filepath.FromSlash(relPath))
	f, err := os.Open(abs) //#nosec G304 -- path is relative to the configured root
	if err != nil {
		return "", 0, 0, fmt.Errorf("open %q: %w", relPath, err)
	}
	defer f.Close() //nolint:errcheck // no remedy for close error on read

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", 0, 0, fmt.Errorf("read %q: %w", relPath, err)
	}
	if len(lines) == 0 {
		return "", 0, 0, nil
	}

	if fromLine < 1 {
		fromLine = 1
	}
	if toLine < fromLine || toLine > len(lines) {
		toLine = len(lines)
	}
	if fromLine > len(lines) {
		fromLine = len(lines)
	}
	return strings.Join(lines[fromLine-1:toLine], "\n"), fromLine, toLine, nil
}

func statementBuilder() sq.StatementBuilderType {
	return sq.StatementBuilder
}

func chunkColumns() []string {
	return []string{"id", "path", "source", "start_line", "end_line", "hash", "model", "text", "embedding", "updated_at"}
}

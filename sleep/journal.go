package sleep

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Journal writes the append-only Markdown audit trail: MEMORY.md for
// long-term knowledge and one file per day under memory/ for everything
// else. Entries are separated by a horizontal rule and stamped with an ISO
// timestamp, in a fixed format other tooling can parse.
type Journal struct {
	root   string
	logger zerolog.Logger
}

func NewJournal(root string, logger zerolog.Logger) *Journal {
	return &Journal{
		root:   root,
		logger: logger.With().Str("component", "journal").Logger(),
	}
}

// formatEntry renders one journal entry. The shape is load-bearing:
// downstream the chunker splits on the rule and the timestamp line.
func formatEntry(content string, ts time.Time) string {
	return fmt.Sprintf("---\n[%s]\n\n%s\n", ts.UTC().Format(time.RFC3339), content)
}

// AppendLongTerm appends an entry to MEMORY.md.
func (j *Journal) AppendLongTerm(content string) error {
	return j.appendEntry(filepath.Join(j.root, "MEMORY.md"), content)
}

// ReplaceLongTerm rewrites MEMORY.md wholesale with a single fresh entry.
func (j *Journal) ReplaceLongTerm(content string) error {
	path := filepath.Join(j.root, "MEMORY.md")
	entry := formatEntry(content, time.Now())
	if err := os.WriteFile(path, []byte(entry), 0o644); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	j.logger.Info().Str("path", path).Msg("Replaced long-term memory file")
	return nil
}

// AppendDaily appends an entry to today's log under memory/.
func (j *Journal) AppendDaily(content string) error {
	dir := filepath.Join(j.root, "memory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	name := time.Now().UTC().Format("2006-01-02") + ".md"
	return j.appendEntry(filepath.Join(dir, name), content)
}

func (j *Journal) appendEntry(path, content string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // write errors are what matter here

	if _, err := f.WriteString(formatEntry(content, time.Now())); err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	j.logger.Debug().Str("path", path).Msg("Journal entry written")
	return nil
}

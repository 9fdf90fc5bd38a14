package sleep

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mnemo-agent/mnemod/classifier"
	"github.com/mnemo-agent/mnemod/conversations"
)

var entryPattern = regexp.MustCompile(`(?m)^---\n\[\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z\]\n\n`)

func TestJournalEntryFormat(t *testing.T) {
	root := t.TempDir()
	j := NewJournal(root, zerolog.Nop())

	if err := j.AppendLongTerm("The user prefers dark roast coffee."); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(root, "MEMORY.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !entryPattern.Match(data) {
		t.Fatalf("entry does not match the rule+timestamp format:\n%s", data)
	}
	if !strings.HasSuffix(string(data), "The user prefers dark roast coffee.\n") {
		t.Fatalf("entry missing trailing newline:\n%q", data)
	}
}

func TestJournalDailyAppendsSameFile(t *testing.T) {
	root := t.TempDir()
	j := NewJournal(root, zerolog.Nop())

	if err := j.AppendDaily("first entry"); err != nil {
		t.Fatal(err)
	}
	if err := j.AppendDaily("second entry"); err != nil {
		t.Fatal(err)
	}

	name := time.Now().UTC().Format("2006-01-02") + ".md"
	data, err := os.ReadFile(filepath.Join(root, "memory", name))
	if err != nil {
		t.Fatal(err)
	}
	if got := len(entryPattern.FindAll(data, -1)); got != 2 {
		t.Fatalf("daily file holds %d entries, want 2:\n%s", got, data)
	}

	entries, err := os.ReadDir(filepath.Join(root, "memory"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("same-day appends created %d files, want 1", len(entries))
	}
}

func TestJournalReplaceLongTerm(t *testing.T) {
	root := t.TempDir()
	j := NewJournal(root, zerolog.Nop())

	if err := j.AppendLongTerm("old knowledge"); err != nil {
		t.Fatal(err)
	}
	if err := j.ReplaceLongTerm("fresh start"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(root, "MEMORY.md"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "old knowledge") {
		t.Fatal("replace mode kept the previous contents")
	}
	if got := len(entryPattern.FindAll(data, -1)); got != 1 {
		t.Fatalf("replaced file holds %d entries, want 1", got)
	}
}

func TestConsolidateRoutesByImportance(t *testing.T) {
	root := t.TempDir()
	j := NewJournal(root, zerolog.Nop())
	c := NewConsolidator(classifier.Keyword{}, j, zerolog.Nop())

	msgs := []conversations.Message{
		{Role: "user", Content: "Remember that the staging database lives on host db-2"},
		{Role: "user", Content: "I prefer short commit messages"},
		{Role: "user", Content: "Today I reviewed the backlog"},
		{Role: "system", Content: "Remember that system messages are skipped"},
		{Role: "assistant", Content: "Sounds good!"},
	}

	got, err := c.Consolidate(context.Background(), msgs)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d extractions, want 3", len(got))
	}

	longTerm, err := os.ReadFile(filepath.Join(root, "MEMORY.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(longTerm), "## Facts") || !strings.Contains(string(longTerm), "## Preferences") {
		t.Fatalf("long-term journal missing grouped sections:\n%s", longTerm)
	}
	if strings.Contains(string(longTerm), "reviewed the backlog") {
		t.Fatal("low-importance event leaked into long-term memory")
	}

	name := time.Now().UTC().Format("2006-01-02") + ".md"
	daily, err := os.ReadFile(filepath.Join(root, "memory", name))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(daily), "reviewed the backlog") {
		t.Fatalf("daily journal missing event entry:\n%s", daily)
	}
}

package memfiles

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestListMemoryFiles_ConventionalLocations(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "MEMORY.md"), "# long term")
	writeFile(t, filepath.Join(root, "memory", "2026-08-29.md"), "daily")
	writeFile(t, filepath.Join(root, "memory", "notes", "deep.md"), "nested")
	writeFile(t, filepath.Join(root, "memory", "skip.txt"), "not markdown")

	files, err := ListMemoryFiles(root, nil)
	if err != nil {
		t.Fatalf("ListMemoryFiles: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %d: %v", len(files), files)
	}
}

func TestListMemoryFiles_ExtraPathsAndDedup(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "MEMORY.md"), "# long term")
	extraDir := t.TempDir()
	writeFile(t, filepath.Join(extraDir, "project.md"), "project notes")

	files, err := ListMemoryFiles(root, []string{
		extraDir,
		filepath.Join(extraDir, "project.md"), // duplicate of the dir walk
		filepath.Join(root, "MEMORY.md"),      // duplicate of the conventional file
		filepath.Join(root, "does-not-exist.md"),
	})
	if err != nil {
		t.Fatalf("ListMemoryFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 de-duplicated files, got %d: %v", len(files), files)
	}
}

func TestListMemoryFiles_SkipsSymlinks(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "MEMORY.md")
	writeFile(t, target, "# long term")
	link := filepath.Join(root, "memory", "link.md")
	if err := os.MkdirAll(filepath.Dir(link), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	files, err := ListMemoryFiles(root, nil)
	if err != nil {
		t.Fatalf("ListMemoryFiles: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected symlink to be skipped, got %v", files)
	}
}

func TestBuildFileEntry(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "memory", "2026-08-30.md")
	writeFile(t, path, "coffee preference noted")

	entry, err := BuildFileEntry(root, path, SourceMemory)
	if err != nil {
		t.Fatalf("BuildFileEntry: %v", err)
	}
	if entry.Path != "memory/2026-08-30.md" {
		t.Errorf("expected forward-slash relative path, got %q", entry.Path)
	}
	if entry.Size != int64(len("coffee preference noted")) {
		t.Errorf("unexpected size %d", entry.Size)
	}
	if entry.Hash != HashText("coffee preference noted") {
		t.Errorf("hash mismatch")
	}
	if entry.MtimeMS == 0 {
		t.Errorf("expected mtime to be recorded")
	}
}

// Package memfiles discovers memory-bearing markdown files and splits them
// into line-addressed chunks for indexing.
package memfiles

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SourceMemory and SourceConversations label where indexed content came from.
const (
	SourceMemory        = "memory"
	SourceConversations = "conversations"
)

// FileEntry describes one discovered file for change detection.
type FileEntry struct {
	Path    string // relative to root, forward slashes
	Source  string
	Hash    string // sha256 of the whole file, hex
	MtimeMS int64
	Size    int64
}

// ListMemoryFiles returns the de-duplicated, sorted list of markdown files
// under the conventional locations: {root}/MEMORY.md, {root}/memory.md, the
// {root}/memory/ directory (recursive), plus any extra files or directories.
// Symbolic links are skipped to avoid cycles and double counting.
func ListMemoryFiles(root string, extraPaths []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string

	addFile := func(path string) {
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			resolved = filepath.Clean(path)
		}
		if seen[resolved] {
			return
		}
		seen[resolved] = true
		files = append(files, filepath.Clean(path))
	}

	addIfRegular := func(path string) {
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() {
			return
		}
		addFile(path)
	}

	addDir := func(dir string) error {
		info, err := os.Lstat(dir)
		if err != nil || info.Mode()&os.ModeSymlink != 0 || !info.IsDir() {
			return nil
		}
		return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable entries are skipped, not fatal
			}
			if d.Type()&os.ModeSymlink != 0 {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if strings.EqualFold(filepath.Ext(path), ".md") {
				addFile(path)
			}
			return nil
		})
	}

	addIfRegular(filepath.Join(root, "MEMORY.md"))
	addIfRegular(filepath.Join(root, "memory.md"))
	if err := addDir(filepath.Join(root, "memory")); err != nil {
		return nil, fmt.Errorf("walk memory dir: %w", err)
	}

	for _, extra := range extraPaths {
		info, err := os.Lstat(extra)
		if err != nil || info.Mode()&os.ModeSymlink != 0 {
			continue
		}
		if info.IsDir() {
			if err := addDir(extra); err != nil {
				return nil, fmt.Errorf("walk extra dir %q: %w", extra, err)
			}
			continue
		}
		if info.Mode().IsRegular() {
			addFile(extra)
		}
	}

	sort.Strings(files)
	return files, nil
}

// BuildFileEntry hashes a file and records its size and mtime for the
// incremental sync comparison.
func BuildFileEntry(root, path, source string) (FileEntry, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path comes from ListMemoryFiles
	if err != nil {
		return FileEntry{}, fmt.Errorf("read %q: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return FileEntry{}, fmt.Errorf("stat %q: %w", path, err)
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}

	return FileEntry{
		Path:    filepath.ToSlash(rel),
		Source:  source,
		Hash:    HashText(string(data)),
		MtimeMS: info.ModTime().UnixMilli(),
		Size:    info.Size(),
	}, nil
}

// HashText returns the hex sha256 of text. Used for both whole files and
// individual chunks so unchanged content always maps to the same hash.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

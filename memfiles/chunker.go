package memfiles

import (
	"strconv"
	"strings"
)

const (
	DefaultTargetSize = 400
	DefaultMaxSize    = 600
)

// ChunkOptions configures chunking behavior.
type ChunkOptions struct {
	TargetSize int
	MaxSize    int
}

// DefaultChunkOptions returns the default chunking options.
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{TargetSize: DefaultTargetSize, MaxSize: DefaultMaxSize}
}

// Chunk is one line-ranged slice of a source file. Lines are 1-indexed and
// inclusive. ID composes path and range, so an unchanged file re-chunks to
// identical ids.
type Chunk struct {
	ID        string
	Path      string
	Source    string
	StartLine int
	EndLine   int
	Hash      string
	Text      string
}

// ChunkID builds the canonical chunk id for a path and line range.
func ChunkID(path string, startLine, endLine int) string {
	return path + ":" + strconv.Itoa(startLine) + ":" + strconv.Itoa(endLine)
}

// ChunkMarkdown splits markdown content into chunks bounded on heading and
// blank-line block boundaries, merged up to roughly TargetSize characters and
// hard-split on line boundaries past MaxSize. The output is deterministic:
// the same content always yields the same ranges and hashes.
func ChunkMarkdown(path, source, content string, opts ChunkOptions) []Chunk {
	if opts.TargetSize <= 0 {
		opts = DefaultChunkOptions()
	}
	if opts.MaxSize < opts.TargetSize {
		opts.MaxSize = opts.TargetSize
	}

	lines := strings.Split(content, "\n")
	blocks := splitBlocks(lines)
	merged := mergeBlocks(lines, blocks, opts)

	chunks := make([]Chunk, 0, len(merged))
	for _, b := range merged {
		text := strings.Join(lines[b.start-1:b.end], "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			ID:        ChunkID(path, b.start, b.end),
			Path:      path,
			Source:    source,
			StartLine: b.start,
			EndLine:   b.end,
			Hash:      HashText(text),
			Text:      text,
		})
	}
	return chunks
}

// span is a 1-indexed inclusive line range.
type span struct {
	start, end int
}

func (s span) size(lines []string) int {
	n := 0
	for i := s.start - 1; i < s.end; i++ {
		n += len(lines[i]) + 1
	}
	return n
}

// splitBlocks cuts the line list on heading lines and blank-line runs.
func splitBlocks(lines []string) []span {
	var blocks []span
	start := 0 // 0 = no open block

	flush := func(end int) {
		if start > 0 && end >= start {
			blocks = append(blocks, trimSpan(lines, span{start, end}))
		}
		start = 0
	}

	for i, line := range lines {
		lineNum := i + 1
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			flush(lineNum - 1)
			continue
		}
		if strings.HasPrefix(trimmed, "#") && start > 0 {
			flush(lineNum - 1)
		}
		if start == 0 {
			start = lineNum
		}
	}
	flush(len(lines))

	// trimSpan can produce empty spans from all-blank blocks.
	out := blocks[:0]
	for _, b := range blocks {
		if b.start <= b.end {
			out = append(out, b)
		}
	}
	return out
}

// trimSpan narrows a span past leading and trailing blank lines.
func trimSpan(lines []string, s span) span {
	for s.start <= s.end && strings.TrimSpace(lines[s.start-1]) == "" {
		s.start++
	}
	for s.end >= s.start && strings.TrimSpace(lines[s.end-1]) == "" {
		s.end--
	}
	return s
}

// mergeBlocks combines small adjacent blocks up to TargetSize and hard-splits
// blocks past MaxSize.
func mergeBlocks(lines []string, blocks []span, opts ChunkOptions) []span {
	var out []span
	var accum span

	flush := func() {
		if accum.start == 0 {
			return
		}
		if accum.size(lines) > opts.MaxSize {
			out = append(out, hardSplit(lines, accum, opts)...)
		} else {
			out = append(out, accum)
		}
		accum = span{}
	}

	for _, b := range blocks {
		if accum.start == 0 {
			accum = b
			continue
		}
		combined := span{accum.start, b.end}
		if combined.size(lines) <= opts.TargetSize {
			accum = combined
		} else {
			flush()
			accum = b
		}
	}
	flush()
	return out
}

// hardSplit breaks an oversized span on line boundaries near TargetSize.
func hardSplit(lines []string, s span, opts ChunkOptions) []span {
	var out []span
	cur := span{start: s.start}
	size := 0

	for line := s.start; line <= s.end; line++ {
		lineLen := len(lines[line-1]) + 1
		if size+lineLen > opts.TargetSize && cur.start < line {
			cur.end = line - 1
			out = append(out, trimSpan(lines, cur))
			cur = span{start: line}
			size = 0
		}
		size += lineLen
	}
	cur.end = s.end
	out = append(out, trimSpan(lines, cur))

	kept := out[:0]
	for _, b := range out {
		if b.start <= b.end {
			kept = append(kept, b)
		}
	}
	return kept
}

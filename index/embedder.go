// Package index maintains the SQLite-backed chunk index and performs
// incremental sync and hybrid (vector + lexical) search over it.
package index

import (
	"context"
	"encoding/json"
	"math"
)

// Embedder is a pluggable interface for getting embeddings for text.
// Implementations may fail per call; the index degrades to empty embeddings
// rather than failing a sync.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EncodeEmbedding encodes a vector as JSON text for storage. A nil or empty
// vector encodes to the empty string.
func EncodeEmbedding(vec []float32) string {
	if len(vec) == 0 {
		return ""
	}
	b, err := json.Marshal(vec)
	if err != nil {
		return ""
	}
	return string(b)
}

// DecodeEmbedding decodes JSON text back into a vector. Empty or malformed
// text decodes to nil: a chunk without a usable embedding is simply not a
// vector-search candidate.
func DecodeEmbedding(s string) []float32 {
	if s == "" {
		return nil
	}
	var vec []float32
	if err := json.Unmarshal([]byte(s), &vec); err != nil {
		return nil
	}
	return vec
}

// CosineSimilarity between two equal-length vectors. Mismatched lengths,
// empty vectors, and zero-norm vectors all score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		fa, fb := float64(a[i]), float64(b[i])
		dot += fa * fb
		na += fa * fa
		nb += fb * fb
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

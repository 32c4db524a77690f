// Package embeddings defines the Provider interface for vector embedding backends.
//
// An embeddings provider maps text to dense float32 vectors (e.g., OpenAI
// text-embedding-3 or a local nomic-embed-text served by Ollama). Transcript
// chunks are embedded when a meeting is indexed, and chat questions are
// embedded to retrieve the most relevant chunks.
//
// Implementations must be safe for concurrent use.
package embeddings

import (
	"context"
	"fmt"
	"math"
)

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by one Provider share the same dimensionality.
// Vectors from different models must not be compared with each other.
type Provider interface {
	// Embed computes the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for texts in as few backend calls
	// as possible. The i-th result corresponds to texts[i]. On error the
	// whole result is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector produced.
	Dimensions() int

	// ModelID returns the backend model identifier (e.g., "text-embedding-3-small").
	// Stores record it next to each vector.
	ModelID() string
}

// EmbedAll embeds texts in batches of at most size, preserving order. A
// non-positive size sends everything in one batch.
func EmbedAll(ctx context.Context, p Provider, texts []string, size int) ([][]float32, error) {
	if size <= 0 || len(texts) <= size {
		return p.EmbedBatch(ctx, texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vecs, err := p.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embeddings: batch %d-%d: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embeddings: batch %d-%d: expected %d vectors, got %d", start, end, end-start, len(vecs))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Cosine returns the cosine similarity of a and b in [-1, 1]. Vectors of
// different length or with zero magnitude have similarity 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

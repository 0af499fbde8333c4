// Package embedding turns text into fixed-width vectors and compares them.
package embedding

import (
	"context"
	"math"
)

// Embedder produces embeddings. Dimensions reports the current vector width,
// or 0 before the first successful call when no width was configured.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Cosine returns the cosine similarity of a and b in [-1, 1]. Mismatched
// lengths, empty vectors and zero vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Rounding can push |sim| a hair past 1.
	return max(-1, min(1, sim))
}

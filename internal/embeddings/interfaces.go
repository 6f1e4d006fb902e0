// Package embeddings turns memory text into vectors for similarity recall
package embeddings

import (
	"context"
	"math"
)

// Embedder generates a vector for a piece of text
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension is the length of every vector this embedder returns
	Dimension() int

	// Model names the embedding model, used to key caches
	Model() string
}

// Cosine returns the cosine similarity of a and b, or 0 when either is empty,
// zero-length or of a different dimension.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

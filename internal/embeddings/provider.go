// Package embeddings maps text to unit-norm vectors of a fixed dimension and
// exposes the model identity used for drift detection. Drivers: OpenAI,
// Ollama, and a deterministic local hashing driver for dev and tests.
package embeddings

import (
	"context"
	"math"
)

// Provider produces deterministic unit-norm embeddings. The same text must
// produce the same vector for the lifetime of the configured model identity.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
	ModelRevision() string
	Dimensions() int
}

// normalize scales v to unit L2 norm in place and returns it. A zero vector
// is returned unchanged.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// CosineDistance returns 1 - cosine similarity of a and b. For unit vectors
// this matches the pgvector <=> operator.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

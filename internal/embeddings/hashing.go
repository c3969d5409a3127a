package embeddings

import (
	"context"
	"hash/fnv"
	"strings"
)

// HashingProvider is a deterministic, dependency-free embedding driver:
// lowercased tokens are hashed into D buckets with a signed trick, then the
// vector is L2-normalized. It is not semantically strong, but it is stable,
// fast, and adequate for dev setups and tests.
type HashingProvider struct {
	model      string
	revision   string
	dimensions int
}

// NewHashingProvider creates a hashing driver with the given identity.
func NewHashingProvider(model, revision string, dimensions int) *HashingProvider {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashingProvider{model: model, revision: revision, dimensions: dimensions}
}

func (p *HashingProvider) ModelID() string       { return p.model }
func (p *HashingProvider) ModelRevision() string { return p.revision }
func (p *HashingProvider) Dimensions() int       { return p.dimensions }

// Embed maps text to a unit vector. Same text, same vector.
func (p *HashingProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dimensions)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(p.dimensions))
		if sum&(1<<63) != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}
	return normalize(vec), nil
}

// EmbedBatch embeds each text independently.
func (p *HashingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

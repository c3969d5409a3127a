package embeddings

import (
	"context"
	"math"
	"testing"
)

func TestHashingProviderDeterministic(t *testing.T) {
	p := NewHashingProvider("test-model", "rev1", 64)
	a, err := p.Embed(context.Background(), "kubernetes pod eviction under memory pressure")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, _ := p.Embed(context.Background(), "kubernetes pod eviction under memory pressure")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same text produced different vectors at dim %d", i)
		}
	}
}

func TestHashingProviderUnitNorm(t *testing.T) {
	p := NewHashingProvider("test-model", "rev1", 128)
	v, err := p.Embed(context.Background(), "retry with exponential backoff")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if math.Abs(sum-1.0) > 1e-6 {
		t.Errorf("expected unit norm, got %f", math.Sqrt(sum))
	}
}

func TestCosineDistance(t *testing.T) {
	p := NewHashingProvider("test-model", "rev1", 128)
	ctx := context.Background()
	a, _ := p.Embed(ctx, "postgres connection pool exhausted")
	b, _ := p.Embed(ctx, "postgres connection pool exhausted")
	c, _ := p.Embed(ctx, "stripe webhook signature verification failed")

	if d := CosineDistance(a, b); d > 1e-6 {
		t.Errorf("identical vectors should have zero distance, got %f", d)
	}
	if d := CosineDistance(a, c); d < 0.1 {
		t.Errorf("unrelated texts unexpectedly close: %f", d)
	}
}

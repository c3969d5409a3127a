package embeddings

import (
	"testing"

	"github.com/hivemind/hivemind/internal/config"
)

func TestRegistryGetUnknownDriver(t *testing.T) {
	r := NewRegistry()
	r.Register("hashing", NewHashingProvider("test-model", "rev1", 64))

	if _, err := r.Get("hashing"); err != nil {
		t.Fatalf("registered provider not found: %v", err)
	}
	if _, err := r.Get("bedrock"); err == nil {
		t.Fatal("expected error for unregistered provider")
	}
}

func TestFromConfigSelectsDriver(t *testing.T) {
	cfg := config.EmbeddingConfig{
		Model:      "test-model",
		Revision:   "rev1",
		Dimensions: 64,
		BaseURL:    "http://localhost:11434",
		APIKey:     "sk-test",
	}

	for _, driver := range []string{"", "hashing", "ollama", "openai"} {
		cfg.Driver = driver
		p, err := FromConfig(cfg)
		if err != nil {
			t.Fatalf("driver %q: %v", driver, err)
		}
		if p == nil {
			t.Fatalf("driver %q: nil provider", driver)
		}
	}
}

func TestFromConfigRejectsUnreachableDriver(t *testing.T) {
	cfg := config.EmbeddingConfig{
		Driver:     "openai",
		Model:      "test-model",
		Revision:   "rev1",
		Dimensions: 64,
	}
	if _, err := FromConfig(cfg); err == nil {
		t.Fatal("openai driver without an API key should not resolve")
	}
}

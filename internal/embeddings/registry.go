package embeddings

import (
	"fmt"
	"sync"

	"github.com/hivemind/hivemind/internal/config"
	"github.com/rs/zerolog/log"
)

// Registry holds named embedding providers. Thread-safe.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Provider
}

// NewRegistry creates an empty embedding registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Provider)}
}

// Register adds a provider under the given name. Overwrites if exists.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	r.drivers[name] = p
	r.mu.Unlock()
	log.Info().Str("name", name).Str("model", p.ModelID()).Int("dims", p.Dimensions()).Msg("Embedding provider registered")
}

// Get returns the provider by name, or an error if not found.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("embedding provider not found: %s", name)
	}
	return p, nil
}

// FromConfig registers every provider the configuration can reach and
// returns the one selected by cfg.Driver. The hashing provider is always
// registered so a misconfigured remote backend has a local fallback.
func FromConfig(cfg config.EmbeddingConfig) (Provider, error) {
	r := NewRegistry()
	r.Register("hashing", NewHashingProvider(cfg.Model, cfg.Revision, cfg.Dimensions))
	if cfg.BaseURL != "" {
		r.Register("ollama", NewOllamaProvider(cfg.BaseURL, cfg.Model, cfg.Revision))
	}
	if cfg.APIKey != "" {
		r.Register("openai", NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.Revision))
	}

	driver := cfg.Driver
	if driver == "" {
		driver = "hashing"
	}
	return r.Get(driver)
}

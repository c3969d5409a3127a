// Package llm wraps the Anthropic messages API behind a small completion
// interface with a circuit breaker. Every caller in the pipeline treats LLM
// failure as a permissive signal, so an open breaker degrades gracefully
// instead of blocking ingestion.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ErrUnavailable is returned when no API key is configured or the circuit
// breaker is open.
var ErrUnavailable = errors.New("llm: unavailable")

// Client is the completion interface used by dedup confirmation, conflict
// resolution, and distillation summaries.
type Client interface {
	// Complete sends a single-user-turn prompt and returns the text of the
	// first content block.
	Complete(ctx context.Context, prompt string) (string, error)

	// Available reports whether calls can be attempted at all.
	Available() bool
}

// AnthropicClient is the production Client.
type AnthropicClient struct {
	client  anthropic.Client
	model   anthropic.Model
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// New creates an Anthropic-backed client. With an empty API key the client is
// permanently unavailable, which callers treat as "skip the LLM stage".
func New(apiKey, model string, timeout time.Duration) *AnthropicClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &AnthropicClient{
		model:   anthropic.Model(model),
		timeout: timeout,
	}
	if apiKey == "" {
		log.Warn().Msg("No LLM API key configured; LLM gates will be permissive")
		return c
	}
	c.client = anthropic.NewClient(option.WithAPIKey(apiKey))
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "anthropic",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("LLM circuit breaker state change")
		},
	})
	return c
}

// Available reports whether an API key is configured.
func (c *AnthropicClient) Available() bool { return c.breaker != nil }

// Complete runs one messages call bounded by the client timeout.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	if !c.Available() {
		return "", ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     c.model,
			MaxTokens: 1024,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return nil, err
		}
		for _, block := range msg.Content {
			if block.Type == "text" {
				return block.Text, nil
			}
		}
		return "", errors.New("llm: no text block in response")
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", ErrUnavailable
		}
		return "", err
	}
	return out.(string), nil
}

// DecodeJSON parses a JSON object from an LLM response, tolerating a
// markdown code fence around the payload.
func DecodeJSON(raw string, v any) error {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	return json.Unmarshal([]byte(s), v)
}

// Package insight produces LLM commentary on market analytics and keeps it searchable.
package insight

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable is returned when no LLM provider is configured
var ErrUnavailable = errors.New("llm provider unavailable")

// Provider is a chat and embedding backend
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, system, prompt string) (string, error)
	Embed(ctx context.Context, text string) ([]float64, error)
	Models(ctx context.Context) ([]string, error)
}

// ProviderConfig selects and configures a provider
type ProviderConfig struct {
	Provider     string
	OpenAIAPIKey string
	OpenAIModel  string
	GeminiAPIKey string
	GeminiModel  string
}

// NewProvider builds the configured provider. It returns nil, nil when the
// selected provider has no API key.
func NewProvider(ctx context.Context, cfg ProviderConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "none":
		return nil, nil
	case "", "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, nil
		}
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, nil
		}
		g, err := NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("creating gemini client: %w", err)
		}
		return g, nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

package insight

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

// OpenAI wraps the OpenAI API client
type OpenAI struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

// NewOpenAI creates an OpenAI provider; an empty model uses gpt-4o-mini
func NewOpenAI(apiKey, model string) *OpenAI {
	return NewOpenAIWithConfig(openai.DefaultConfig(apiKey), model)
}

// NewOpenAIWithConfig creates a provider from a client config, e.g. one pointing at a proxy
func NewOpenAIWithConfig(cfg openai.ClientConfig, model string) *OpenAI {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: log.With().Str("component", "openai_client").Logger(),
	}
}

func (c *OpenAI) Name() string  { return "openai" }
func (c *OpenAI) Model() string { return c.model }

// Complete sends a system and user prompt and returns the first choice
func (c *OpenAI) Complete(ctx context.Context, system, prompt string) (string, error) {
	c.logger.Debug().Int("prompt_len", len(prompt)).Msg("Sending prompt to OpenAI")

	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: 0.3,
		MaxTokens:   800,
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("OpenAI API error")
		return "", err
	}
	if len(resp.Choices) == 0 {
		c.logger.Warn().Msg("OpenAI returned empty choices")
		return "", errors.New("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns the text-embedding-3-small vector of text
func (c *OpenAI) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.SmallEmbedding3,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai returned no embedding")
	}
	out := make([]float64, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		out[i] = float64(v)
	}
	return out, nil
}

// Models lists the model ids visible to the API key
func (c *OpenAI) Models(ctx context.Context) ([]string, error) {
	list, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		out = append(out, m.ID)
	}
	sort.Strings(out)
	return out, nil
}

package insight

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const geminiEmbeddingModel = "text-embedding-004"

// Gemini wraps the Google Gen AI client
type Gemini struct {
	client *genai.Client
	model  string
	logger zerolog.Logger
}

// NewGemini creates a Gemini provider; an empty model uses gemini-2.0-flash
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Gemini{
		client: client,
		model:  model,
		logger: log.With().Str("component", "gemini_client").Logger(),
	}, nil
}

func (g *Gemini) Name() string  { return "gemini" }
func (g *Gemini) Model() string { return g.model }

// Complete generates content with system as the system instruction
func (g *Gemini) Complete(ctx context.Context, system, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		g.logger.Error().Err(err).Msg("Gemini API error")
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini returned no candidates")
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

// Embed returns the text-embedding-004 vector of text
func (g *Gemini) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := g.client.Models.EmbedContent(ctx, geminiEmbeddingModel, genai.Text(text), nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, errors.New("gemini returned no embedding")
	}
	vals := resp.Embeddings[0].Values
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = float64(v)
	}
	return out, nil
}

// Models lists the first page of available models
func (g *Gemini) Models(ctx context.Context) ([]string, error) {
	page, err := g.client.Models.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(page.Items))
	for _, m := range page.Items {
		out = append(out, strings.TrimPrefix(m.Name, "models/"))
	}
	return out, nil
}

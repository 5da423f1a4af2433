package llm

import (
	"context"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// Gemini generates completions with the Gemini API.
type Gemini struct {
	client *genai.Client
	config Config
	log    zerolog.Logger
}

// NewGemini creates a Gemini generator authenticated by API key.
func NewGemini(ctx context.Context, cfg Config, log zerolog.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, &GenerationError{Provider: ProviderGemini, Op: "NewGemini", Err: err}
	}
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	cfg.Provider = ProviderGemini

	return &Gemini{
		client: client,
		config: cfg,
		log:    log.With().Str("provider", ProviderGemini).Str("model", cfg.Model).Logger(),
	}, nil
}

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	model := g.model(req)

	g.log.Debug().
		Int("prompt_length", len(req.Prompt)).
		Msg("Sending generate content request")

	return generateWithAttempts(ctx, g.config, g.log, func(ctx context.Context) (string, error) {
		resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
		if err != nil {
			return "", err
		}
		return responseText(resp), nil
	})
}

// model configures a generative model that answers in JSON.
func (g *Gemini) model(req Request) *genai.GenerativeModel {
	model := g.client.GenerativeModel(g.config.Model)
	model.SetTemperature(g.config.Temperature)
	if g.config.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(int32(g.config.MaxOutputTokens))
	}
	model.ResponseMIMEType = "application/json"
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	return model
}

// Close releases the client connection.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String()
}

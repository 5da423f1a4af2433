package llm

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

// OpenAI generates completions with the Chat Completions API.
type OpenAI struct {
	client *openai.Client
	config Config
	log    zerolog.Logger
}

// jsonObjectFormat enables JSON mode; both prompts already ask for a JSON object.
var jsonObjectFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}

// NewOpenAI creates an OpenAI generator. cfg.BaseURL, when set, replaces the API base URL.
func NewOpenAI(cfg Config, log zerolog.Logger) *OpenAI {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	cfg.Provider = ProviderOpenAI

	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
		log:    log.With().Str("provider", ProviderOpenAI).Str("model", cfg.Model).Logger(),
	}
}

// Generate implements Generator.
func (o *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	o.log.Debug().
		Int("prompt_length", len(req.Prompt)).
		Float32("temperature", o.config.Temperature).
		Msg("Sending chat completion request")

	return generateWithAttempts(ctx, o.config, o.log, func(ctx context.Context) (string, error) {
		resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:          o.config.Model,
			Temperature:    o.config.Temperature,
			MaxTokens:      o.config.MaxOutputTokens,
			Messages:       messages,
			ResponseFormat: jsonObjectFormat,
		})
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", ErrEmptyResponse
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// Package llm talks to generative language models. Callers send an instruction that
// embeds the expected JSON schema and get back free-form text; ExtractObject then finds
// the JSON object inside it.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Supported providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Request is one model call.
type Request struct {
	// System is an optional instruction sent ahead of the prompt.
	System string

	// Prompt carries the task, the schema and the input data.
	Prompt string
}

// Generator returns the raw text of a model completion.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Config selects and tunes a provider.
type Config struct {
	Provider string
	APIKey   string
	Model    string

	// BaseURL overrides the OpenAI API base URL. Ignored for Gemini.
	BaseURL string

	Temperature     float32
	MaxOutputTokens int

	// Timeout bounds each attempt.
	Timeout time.Duration

	// MaxAttempts is the number of tries per call; values below 1 mean a single attempt.
	MaxAttempts int
}

// DefaultConfig returns the Gemini defaults.
func DefaultConfig() Config {
	return Config{
		Provider:        ProviderGemini,
		Model:           "gemini-2.0-flash",
		Temperature:     0.1,
		MaxOutputTokens: 8192,
		Timeout:         90 * time.Second,
		MaxAttempts:     1,
	}
}

// New builds the Generator for cfg.Provider.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (Generator, error) {
	if cfg.APIKey == "" {
		return nil, &GenerationError{Provider: cfg.Provider, Op: "New", Err: ErrMissingAPIKey}
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderGemini, "":
		return NewGemini(ctx, cfg, log)
	case ProviderOpenAI:
		return NewOpenAI(cfg, log), nil
	default:
		return nil, &GenerationError{Provider: cfg.Provider, Op: "New", Err: fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)}
	}
}

type attemptFunc func(ctx context.Context) (string, error)

// generateWithAttempts runs call up to cfg.MaxAttempts times, each under cfg.Timeout.
// Caller cancellation stops the loop immediately.
func generateWithAttempts(ctx context.Context, cfg Config, log zerolog.Logger, call attemptFunc) (string, error) {
	const op = "Generate"

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		text, err := callOnce(ctx, cfg.Timeout, call)
		if err == nil {
			if strings.TrimSpace(text) == "" {
				lastErr = ErrEmptyResponse
			} else {
				log.Debug().
					Int("attempt", attempt).
					Int("response_length", len(text)).
					Msg("Received model response")
				return text, nil
			}
		} else {
			lastErr = err
		}

		if ctx.Err() != nil {
			break
		}
		if attempt < attempts {
			log.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Int("max_attempts", attempts).
				Msg("Model request failed, retrying")
		}
	}

	return "", &GenerationError{Provider: cfg.Provider, Op: op, Err: lastErr}
}

func callOnce(ctx context.Context, timeout time.Duration, call attemptFunc) (string, error) {
	if timeout <= 0 {
		return call(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := call(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return "", fmt.Errorf("%w after %s: %v", ErrTimeout, timeout, err)
	}
	return text, err
}

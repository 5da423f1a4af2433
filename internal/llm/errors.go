package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingAPIKey is returned when no API key is configured for the provider.
	ErrMissingAPIKey = errors.New("missing model API key")

	// ErrUnknownProvider is returned for an unsupported LLM_PROVIDER.
	ErrUnknownProvider = errors.New("unknown model provider")

	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("empty model response")

	// ErrTimeout is returned when an attempt exceeds its deadline.
	ErrTimeout = errors.New("model request timed out")

	// ErrNoJSONObject is returned when a response contains no JSON object.
	ErrNoJSONObject = errors.New("no JSON object in model response")
)

// GenerationError wraps a failed model call.
type GenerationError struct {
	Provider string
	Op       string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("llm %s: %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

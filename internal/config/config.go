package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"invoicepipe/internal/llm"
	"invoicepipe/internal/logger"
	"invoicepipe/internal/ocr"
	"invoicepipe/internal/server"
	"invoicepipe/internal/sheets"
)

// OCR backends.
const (
	OCRBackendDocumentAI = "documentai"
	OCRBackendVision     = "vision"
)

// Document strategies select how OCR output becomes a raw invoice.
const (
	DocumentStrategyEntities = "entities"
	DocumentStrategyLLM      = "llm"
)

type Config struct {
	// Generative model
	LLMProvider    string
	GeminiAPIKey   string
	GeminiModel    string
	OpenAIAPIKey   string
	OpenAIModel    string
	OpenAIBaseURL  string
	LLMTimeout     time.Duration
	LLMMaxAttempts int

	// OCR
	OCRBackend                 string
	GoogleCloudProject         string
	GoogleCloudLocation        string
	DocumentAIProcessorID      string
	DocumentAIProcessorVersion string
	GoogleCredentials          string
	GoogleCredentialsFile      string
	OCRTimeout                 time.Duration

	// Pipeline
	DocumentStrategy string
	BatchWorkers     int
	MaxUploadMB      int

	// HTTP server
	HTTPAddr           string
	CORSAllowedOrigins []string

	// Google Sheets export
	GoogleSheetURL string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		LLMProvider:                strings.ToLower(getEnv("LLM_PROVIDER", llm.ProviderGemini)),
		GeminiAPIKey:               getEnv("GEMINI_API_KEY", ""),
		GeminiModel:                getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		OpenAIAPIKey:               getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:                getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:              getEnv("OPENAI_BASE_URL", ""),
		LLMTimeout:                 getDuration("LLM_TIMEOUT", 90*time.Second),
		LLMMaxAttempts:             getInt("LLM_MAX_ATTEMPTS", 1),
		OCRBackend:                 strings.ToLower(getEnv("OCR_BACKEND", OCRBackendDocumentAI)),
		GoogleCloudProject:         getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation:        getEnv("GOOGLE_CLOUD_LOCATION", "us"),
		DocumentAIProcessorID:      getEnv("DOCUMENT_AI_PROCESSOR_ID", ""),
		DocumentAIProcessorVersion: getEnv("DOCUMENT_AI_PROCESSOR_VERSION", ""),
		GoogleCredentials:          getEnv("GOOGLE_CREDENTIALS", ""),
		GoogleCredentialsFile:      getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		OCRTimeout:                 getDuration("OCR_TIMEOUT", 60*time.Second),
		DocumentStrategy:           strings.ToLower(getEnv("DOCUMENT_STRATEGY", DocumentStrategyEntities)),
		BatchWorkers:               getInt("BATCH_WORKERS", 4),
		MaxUploadMB:                getInt("MAX_UPLOAD_MB", 20),
		HTTPAddr:                   getEnv("HTTP_ADDR", ":8000"),
		CORSAllowedOrigins:         getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		GoogleSheetURL:             getEnv("GOOGLE_SHEET_URL", ""),
		LogLevel:                   getEnv("LOG_LEVEL", "info"),
		LogFormat:                  getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:              getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:                  getEnv("LOG_OUTPUT", "stderr"),
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	switch c.LLMProvider {
	case llm.ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required")
		}
	case llm.ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be %q or %q, got %q", llm.ProviderGemini, llm.ProviderOpenAI, c.LLMProvider)
	}

	switch c.OCRBackend {
	case OCRBackendDocumentAI:
		if c.GoogleCloudProject == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required")
		}
		if c.DocumentAIProcessorID == "" {
			return fmt.Errorf("DOCUMENT_AI_PROCESSOR_ID is required")
		}
	case OCRBackendVision:
	default:
		return fmt.Errorf("OCR_BACKEND must be %q or %q, got %q", OCRBackendDocumentAI, OCRBackendVision, c.OCRBackend)
	}

	if c.DocumentStrategy != DocumentStrategyEntities && c.DocumentStrategy != DocumentStrategyLLM {
		return fmt.Errorf("DOCUMENT_STRATEGY must be %q or %q, got %q", DocumentStrategyEntities, DocumentStrategyLLM, c.DocumentStrategy)
	}
	if c.BatchWorkers < 1 {
		return fmt.Errorf("BATCH_WORKERS must be positive")
	}
	if c.MaxUploadMB < 1 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

// LLM returns the settings for the configured model provider.
func (c *Config) LLM() llm.Config {
	cfg := llm.DefaultConfig()
	cfg.Provider = c.LLMProvider
	cfg.Timeout = c.LLMTimeout
	cfg.MaxAttempts = c.LLMMaxAttempts

	switch c.LLMProvider {
	case llm.ProviderOpenAI:
		cfg.APIKey = c.OpenAIAPIKey
		cfg.Model = c.OpenAIModel
		cfg.BaseURL = c.OpenAIBaseURL
	default:
		cfg.APIKey = c.GeminiAPIKey
		cfg.Model = c.GeminiModel
	}
	return cfg
}

// Credentials returns the Google credentials shared by OCR and Sheets clients.
func (c *Config) Credentials() ocr.Credentials {
	return ocr.Credentials{JSON: c.GoogleCredentials, File: c.GoogleCredentialsFile}
}

// DocumentAI returns the Document AI processor settings.
func (c *Config) DocumentAI() ocr.DocumentAIConfig {
	return ocr.DocumentAIConfig{
		ProjectID:        c.GoogleCloudProject,
		Location:         c.GoogleCloudLocation,
		ProcessorID:      c.DocumentAIProcessorID,
		ProcessorVersion: c.DocumentAIProcessorVersion,
		Timeout:          c.OCRTimeout,
		Credentials:      c.Credentials(),
	}
}

// MaxUploadBytes is the per-file upload limit.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Server returns the HTTP API settings.
func (c *Config) Server() server.Config {
	return server.Config{
		Addr:           c.HTTPAddr,
		AllowedOrigins: c.CORSAllowedOrigins,
		MaxUploadBytes: c.MaxUploadBytes(),
	}
}

// Sheets returns the Google Sheets export settings.
func (c *Config) Sheets() sheets.Config {
	return sheets.Config{
		SheetURL:        c.GoogleSheetURL,
		CredentialsFile: c.GoogleCredentialsFile,
		CredentialsJSON: c.GoogleCredentials,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getDuration accepts Go durations ("90s") or plain seconds ("90").
func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

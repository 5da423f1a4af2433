package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"invoicepipe/internal/config"
	"invoicepipe/internal/invoice"
	"invoicepipe/internal/llm"
	"invoicepipe/internal/ocr"
	"invoicepipe/internal/tabular"
	"invoicepipe/pkg/services"
)

// pipeline holds the extraction service and the clients it owns.
type pipeline struct {
	cfg     *config.Config
	service *services.ExtractionService
	closers []io.Closer
	log     zerolog.Logger
}

// newOCRService creates the backend selected by OCR_BACKEND.
func newOCRService(ctx context.Context, cfg *config.Config, log zerolog.Logger) (ocr.Service, io.Closer, error) {
	switch cfg.OCRBackend {
	case config.OCRBackendVision:
		svc, err := ocr.NewVisionService(ctx, cfg.Credentials(), cfg.OCRTimeout, log.With().Str("backend", "vision").Logger())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Vision OCR service: %w", err)
		}
		return svc, svc, nil
	default:
		svc, err := ocr.NewDocumentAIService(ctx, cfg.DocumentAI(), log.With().Str("backend", "documentai").Logger())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Document AI service: %w", err)
		}
		return svc, svc, nil
	}
}

// newPipeline wires OCR, the model client and both normalizers into an ExtractionService.
func newPipeline(ctx context.Context, log zerolog.Logger) (*pipeline, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	p := &pipeline{cfg: cfg, log: log}

	ocrService, ocrCloser, err := newOCRService(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, ocrCloser)

	generator, err := llm.New(ctx, cfg.LLM(), log.With().Str("provider", cfg.LLMProvider).Logger())
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}
	if c, ok := generator.(io.Closer); ok {
		p.closers = append(p.closers, c)
	}

	var document services.DocumentNormalizer
	switch cfg.DocumentStrategy {
	case config.DocumentStrategyLLM:
		document = invoice.NewModelNormalizer(generator, log)
	default:
		document = invoice.NewDocumentMapper(log)
	}

	p.service = services.NewExtractionService(
		ocrService,
		document,
		tabular.NewNormalizer(generator, log),
		cfg.BatchWorkers,
		log.With().Str("stage", "orchestrator").Logger(),
	)

	log.Debug().
		Str("ocr_backend", cfg.OCRBackend).
		Str("llm_provider", cfg.LLMProvider).
		Str("document_strategy", cfg.DocumentStrategy).
		Int("workers", cfg.BatchWorkers).
		Msg("Pipeline ready")

	return p, nil
}

// Close releases every client in reverse order of creation.
func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			p.log.Warn().Err(err).Msg("Failed to close client")
		}
	}
	p.closers = nil
}

// signalContext is canceled on SIGINT/SIGTERM and, when timeout is positive, after timeout.
func signalContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// describeError adds a hint for the failures a CLI user can act on.
func describeError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ocr.ErrTimeout), errors.Is(err, llm.ErrTimeout):
		return fmt.Errorf("processing timed out, try a larger --timeout: %w", err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("processing was canceled: %w", err)
	case errors.Is(err, ocr.ErrInvalidCredentials):
		return fmt.Errorf("Google Cloud rejected the credentials, check GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS: %w", err)
	case errors.Is(err, ocr.ErrDocumentTooLarge):
		return fmt.Errorf("document is too large for synchronous OCR (maximum 20MB): %w", err)
	case errors.Is(err, services.ErrMalformedUpload):
		return fmt.Errorf("upload could not be read: %w", err)
	default:
		return err
	}
}

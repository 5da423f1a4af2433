// Package services runs uploads through the extraction pipeline: path selection,
// raw extraction, reconciliation and projection onto the canonical schema.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"invoicepipe/internal/invoice"
	"invoicepipe/internal/logger"
	"invoicepipe/internal/ocr"
	"invoicepipe/internal/tabular"
	"invoicepipe/pkg/models"
)

// DefaultWorkers is the batch pool size when none is configured.
const DefaultWorkers = 4

// ErrMalformedUpload marks failures caused by the upload itself rather than a collaborator.
var ErrMalformedUpload = errors.New("malformed upload")

// Stage is a step of the per-file pipeline.
type Stage string

const (
	StageReceived     Stage = "received"
	StagePathSelected Stage = "path_selected"
	StageRawExtracted Stage = "raw_extracted"
	StageValidated    Stage = "validated"
	StageMapped       Stage = "mapped"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// Path is the extraction route chosen for a file.
type Path string

const (
	PathTabular  Path = "tabular"
	PathDocument Path = "document"
)

// StageError records the last stage a file completed before it failed.
type StageError struct {
	Stage    Stage
	Filename string
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Filename, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// File is one uploaded file.
type File struct {
	Filename    string
	ContentType string
	Content     []byte
}

// DocumentNormalizer turns OCR output into a raw invoice. Implemented by
// invoice.DocumentMapper and invoice.ModelNormalizer.
type DocumentNormalizer interface {
	Normalize(ctx context.Context, doc *ocr.Document) (models.RawInvoice, error)
}

// TableNormalizer groups decoded spreadsheet rows into raw invoices.
type TableNormalizer interface {
	Normalize(ctx context.Context, table *tabular.Table) ([]models.RawInvoice, error)
}

// ExtractionService is the request orchestrator shared by the HTTP API and the CLI.
type ExtractionService struct {
	ocr      ocr.Service
	document DocumentNormalizer
	tables   TableNormalizer
	workers  int
	log      zerolog.Logger
}

// NewExtractionService wires the collaborators. workers below 1 falls back to DefaultWorkers.
func NewExtractionService(ocrService ocr.Service, document DocumentNormalizer, tables TableNormalizer, workers int, log zerolog.Logger) *ExtractionService {
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &ExtractionService{
		ocr:      ocrService,
		document: document,
		tables:   tables,
		workers:  workers,
		log:      log,
	}
}

// Extract runs a single upload. Invoice is the first of Invoices, nil when the upload
// produced none. Any failure fails the whole request.
func (s *ExtractionService) Extract(ctx context.Context, f File) (models.ExtractResponse, error) {
	invoices, err := s.process(ctx, f)
	if err != nil {
		return models.ExtractResponse{}, err
	}

	resp := models.ExtractResponse{Invoices: invoices}
	if len(invoices) > 0 {
		resp.Invoice = &invoices[0]
	}
	return resp, nil
}

// workerJob is one file of a batch.
type workerJob struct {
	file  File
	index int
}

// ExtractBatch runs every file through its own pipeline on a bounded pool of workers.
// A failing file becomes a failed entry and never affects its siblings. Entries follow
// input order; a spreadsheet contributes one entry per invoice.
func (s *ExtractionService) ExtractBatch(ctx context.Context, files []File) models.BatchResponse {
	log := s.log.With().Int("files", len(files)).Logger()
	log.Info().Int("workers", s.workers).Msg("Starting batch extraction")
	start := time.Now()

	jobs := make(chan workerJob, len(files))
	perFile := make([][]models.BatchResult, len(files))

	var wg sync.WaitGroup
	for w := 0; w < min(s.workers, len(files)); w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for job := range jobs {
				log.Debug().
					Int("worker", workerID).
					Str("file", job.file.Filename).
					Int("index", job.index+1).
					Msg("Worker processing file")

				perFile[job.index] = s.batchEntries(ctx, job.file)
			}
		}(w)
	}

	for i, f := range files {
		jobs <- workerJob{file: f, index: i}
	}
	close(jobs)
	wg.Wait()

	results := make([]models.BatchResult, 0, len(files))
	failed := 0
	for _, entries := range perFile {
		for _, r := range entries {
			if r.Status == models.StatusFailed {
				failed++
			}
			results = append(results, r)
		}
	}

	log.Info().
		Int("results", len(results)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Batch extraction completed")

	return models.BatchResponse{Count: len(results), Results: results}
}

func (s *ExtractionService) batchEntries(ctx context.Context, f File) []models.BatchResult {
	invoices, err := s.process(ctx, f)
	if err != nil {
		return []models.BatchResult{{
			Filename: f.Filename,
			Error:    err.Error(),
			Status:   models.StatusFailed,
		}}
	}

	entries := make([]models.BatchResult, len(invoices))
	for i := range invoices {
		entries[i] = models.BatchResult{
			Filename: f.Filename,
			Invoice:  &invoices[i],
			Status:   models.StatusSuccess,
		}
	}
	return entries
}

// process is the per-file state machine. Every error it returns is a *StageError.
func (s *ExtractionService) process(ctx context.Context, f File) ([]models.CanonicalInvoice, error) {
	log := logger.WithFile(s.log, f.Filename, f.ContentType)
	stage := StageReceived

	advance := func(next Stage) {
		stage = next
		log.Trace().Str("stage", string(next)).Msg("Stage reached")
	}
	fail := func(err error) ([]models.CanonicalInvoice, error) {
		at := stage
		advance(StageFailed)
		log.Error().
			Err(err).
			Str("failed_after", string(at)).
			Msg("File extraction failed")
		return nil, &StageError{Stage: at, Filename: f.Filename, Err: err}
	}

	if len(f.Content) == 0 {
		return fail(fmt.Errorf("%w: empty file", ErrMalformedUpload))
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	path := PathDocument
	if tabular.IsSpreadsheet(f.Filename, f.ContentType) {
		path = PathTabular
	}
	advance(StagePathSelected)
	log.Debug().Str("path", string(path)).Int("bytes", len(f.Content)).Msg("Extraction path selected")

	var (
		raws []models.RawInvoice
		err  error
	)
	if path == PathTabular {
		raws, err = s.extractTable(ctx, f)
	} else {
		raws, err = s.extractDocument(ctx, f)
	}
	if err != nil {
		return fail(err)
	}
	advance(StageRawExtracted)

	validated := make([]models.ValidatedInvoice, len(raws))
	for i, raw := range raws {
		validated[i] = invoice.Validate(raw)
	}
	advance(StageValidated)

	out := make([]models.CanonicalInvoice, len(validated))
	inconsistent := 0
	for i, v := range validated {
		out[i] = invoice.ToCanonical(v)
		if !v.IsConsistent {
			inconsistent++
		}
	}
	advance(StageMapped)

	advance(StageDone)
	log.Info().
		Str("path", string(path)).
		Int("invoices", len(out)).
		Int("inconsistent", inconsistent).
		Msg("File extracted")

	return out, nil
}

func (s *ExtractionService) extractTable(ctx context.Context, f File) ([]models.RawInvoice, error) {
	table, err := tabular.Decode(f.Filename, f.ContentType, f.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedUpload, err)
	}
	return s.tables.Normalize(ctx, table)
}

func (s *ExtractionService) extractDocument(ctx context.Context, f File) ([]models.RawInvoice, error) {
	doc, err := s.ocr.Process(ctx, f.Content, f.ContentType)
	if err != nil {
		return nil, err
	}

	raw, err := s.document.Normalize(ctx, doc)
	if err != nil {
		return nil, err
	}
	return []models.RawInvoice{raw}, nil
}

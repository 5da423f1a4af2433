package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"invoicepipe/internal/logger"
	"invoicepipe/internal/report"
	"invoicepipe/internal/sheets"
	"invoicepipe/pkg/models"
	"invoicepipe/pkg/services"
)

var extractCmd = &cobra.Command{
	Use:   "extract [file...]",
	Short: "Extract canonical invoices from local files",
	Long: `Run the extraction pipeline on local files without starting the HTTP API.

PDFs and images are recognized with the configured OCR backend. Spreadsheets
(.xlsx, .xls) and CSV exports are grouped into invoices by the configured model.

With one file the output is {"invoice": ..., "invoices": [...]}. With several
files the output is {"count": N, "results": [...]}, one entry per invoice and
one failed entry per file that could not be processed. Files that are missing
or over the upload limit are listed as failed entries after the others.

Results can additionally be written to an Excel report (--xlsx) or appended to
the Google Sheet at GOOGLE_SHEET_URL (--sheet).`,
	Example: `  # Extract one invoice to stdout
  invoicepipe extract invoice.pdf

  # Batch several uploads and save the JSON
  invoicepipe extract a.pdf b.jpg sales.xlsx -o results.json

  # Also write an Excel report and append to a sheet tab
  invoicepipe extract *.pdf --xlsx report.xlsx --sheet Invoices`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	extractCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
	extractCmd.Flags().String("xlsx", "", "Write an Excel report to this path")
	extractCmd.Flags().String("sheet", "", "Append results to this tab of GOOGLE_SHEET_URL")
}

func runExtract(cmd *cobra.Command, args []string) error {
	outputPath, _ := cmd.Flags().GetString("output")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	xlsxPath, _ := cmd.Flags().GetString("xlsx")
	sheetName, _ := cmd.Flags().GetString("sheet")

	log := logger.WithFields(map[string]interface{}{
		"component": "extract",
		"files":     len(args),
	})

	log.Info().
		Str("output", outputPath).
		Int("timeout", timeoutSecs).
		Str("xlsx", xlsxPath).
		Str("sheet", sheetName).
		Msg("Starting extraction")

	ctx, cancel := signalContext(time.Duration(timeoutSecs) * time.Second)
	defer cancel()

	p, err := newPipeline(ctx, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build extraction pipeline")
		return err
	}
	defer p.Close()

	var (
		body    any
		results []models.BatchResult
	)
	if len(args) == 1 {
		f, err := readInput(args[0], p.cfg.MaxUploadBytes(), log)
		if err != nil {
			return err
		}
		resp, err := p.service.Extract(ctx, f)
		if err != nil {
			return describeError(err)
		}
		body, results = resp, report.FromExtract(f.Filename, resp)
	} else {
		files, unreadable := loadInputs(args, p.cfg.MaxUploadBytes(), log)
		resp := withUnreadable(p.service.ExtractBatch(ctx, files), unreadable)
		body, results = resp, resp.Results
	}

	if err := writeJSON(body, outputPath, log); err != nil {
		return err
	}

	if xlsxPath != "" {
		if err := writeReport(xlsxPath, results, log); err != nil {
			return err
		}
	}

	if sheetName != "" {
		svc, err := sheets.NewSheetsService(ctx, p.cfg.Sheets(), logger.WithComponent("sheets"))
		if err != nil {
			return fmt.Errorf("failed to create sheets service: %w", err)
		}
		if err := svc.WriteResults(ctx, results, sheetName); err != nil {
			return fmt.Errorf("failed to append results to sheet: %w", err)
		}
		log.Info().
			Str("sheet", sheetName).
			Int("rows", len(results)).
			Msg("Results appended to Google Sheet")
	}

	return nil
}

// readInput loads a local file as an upload. The MIME type is sniffed from the content.
func readInput(path string, maxBytes int64, log zerolog.Logger) (services.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Error().Str("file", path).Msg("Input file not found")
			return services.File{}, fmt.Errorf("file not found: %s", path)
		}
		return services.File{}, fmt.Errorf("error accessing file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return services.File{}, fmt.Errorf("path is not a regular file: %s", path)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		log.Error().
			Str("file", path).
			Int64("size", info.Size()).
			Int64("max_size", maxBytes).
			Msg("Input file exceeds the upload limit")
		return services.File{}, fmt.Errorf("file too large (%d bytes), maximum is %d bytes: %s", info.Size(), maxBytes, path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return services.File{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	f := services.File{
		Filename:    filepath.Base(path),
		ContentType: mimetype.Detect(content).String(),
		Content:     content,
	}
	log.Debug().
		Str("file", f.Filename).
		Str("content_type", f.ContentType).
		Int("bytes", len(content)).
		Msg("Input loaded")
	return f, nil
}

// loadInputs reads the files of a batch run. A file that cannot be loaded becomes a
// failed entry so the rest of the batch still runs.
func loadInputs(paths []string, maxBytes int64, log zerolog.Logger) ([]services.File, []models.BatchResult) {
	files := make([]services.File, 0, len(paths))
	var unreadable []models.BatchResult
	for _, path := range paths {
		f, err := readInput(path, maxBytes, log)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("Skipping unreadable input")
			unreadable = append(unreadable, models.BatchResult{
				Filename: filepath.Base(path),
				Error:    err.Error(),
				Status:   models.StatusFailed,
			})
			continue
		}
		files = append(files, f)
	}
	return files, unreadable
}

// withUnreadable appends the entries of inputs that never reached the pipeline.
func withUnreadable(resp models.BatchResponse, unreadable []models.BatchResult) models.BatchResponse {
	resp.Results = append(resp.Results, unreadable...)
	resp.Count = len(resp.Results)
	return resp
}

func writeJSON(v any, outputPath string, log zerolog.Logger) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to create JSON output: %w", err)
	}
	data = append(data, '\n')

	if outputPath == "" {
		if _, err := os.Stdout.Write(data); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	}

	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		log.Error().Err(err).Str("output_file", outputPath).Msg("Failed to write output file")
		return fmt.Errorf("failed to write output file: %w", err)
	}
	log.Info().
		Str("output_file", outputPath).
		Int("bytes", len(data)).
		Msg("Results written to file")
	return nil
}

func writeReport(path string, results []models.BatchResult, log zerolog.Logger) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close report: %w", closeErr)
		}
	}()

	if err := report.WriteXLSX(f, results); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	log.Info().
		Str("report", path).
		Int("rows", len(results)).
		Msg("Excel report written")
	return nil
}

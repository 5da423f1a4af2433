package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"invoicepipe/internal/config"
	"invoicepipe/internal/logger"
	"invoicepipe/internal/ocr"
)

var ocrCmd = &cobra.Command{
	Use:   "ocr [file]",
	Short: "Dump the raw OCR result for a document",
	Long: `Send one PDF or image to the configured OCR backend and print what it
recognized, before any invoice mapping happens. Useful when a field comes out
empty and you need to see which entities the processor actually returned.

The output is the recognized document as JSON (text, entities, page count), or
only the recognized text with --text.

Required environment variables:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string
  GOOGLE_CLOUD_PROJECT, DOCUMENT_AI_PROCESSOR_ID - when OCR_BACKEND=documentai`,
	Example: `  # Entities and text as JSON
  invoicepipe ocr invoice.pdf

  # Plain text into a file
  invoicepipe ocr scan.jpg --text -o scan.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runOCR,
}

func init() {
	rootCmd.AddCommand(ocrCmd)

	ocrCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	ocrCmd.Flags().Bool("text", false, "Print only the recognized text")
	ocrCmd.Flags().Int("timeout", 120, "Processing timeout in seconds")
}

func runOCR(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ocr")

	outputPath, _ := cmd.Flags().GetString("output")
	textOnly, _ := cmd.Flags().GetBool("text")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	f, err := readInput(args[0], cfg.MaxUploadBytes(), log)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(time.Duration(timeoutSecs) * time.Second)
	defer cancel()

	service, closer, err := newOCRService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closer.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close OCR client")
		}
	}()

	start := time.Now()
	doc, err := service.Process(ctx, f.Content, f.ContentType)
	if err != nil {
		log.Error().Err(err).Str("file", f.Filename).Msg("OCR processing failed")
		return describeError(err)
	}

	log.Info().
		Str("backend", cfg.OCRBackend).
		Int("page_count", doc.PageCount).
		Int("entities", len(doc.Entities)).
		Int("text_length", len(doc.Text)).
		Dur("duration", time.Since(start)).
		Msg("OCR processing completed")

	if !textOnly {
		return writeJSON(doc, outputPath, log)
	}
	return writeText(doc, outputPath)
}

func writeText(doc *ocr.Document, outputPath string) error {
	data := []byte(doc.Text + "\n")
	if outputPath == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"invoicepipe/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "invoicepipe",
	Short: "Invoice extraction, normalization and reconciliation",
	Long: `invoicepipe turns invoice uploads into canonical invoice JSON.

Scanned PDFs and images go through OCR (Google Document AI or Cloud Vision) and are
mapped to invoice fields. Spreadsheets and CSV exports are grouped into invoices by a
generative model. Every invoice is then reconciled: items are re-summed, the total is
compared against the stated figure and missing fields are flagged.

Run "invoicepipe serve" for the HTTP API or "invoicepipe extract" for local files.`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Debug().
			Str("version", version).
			Msg("invoicepipe executed without a subcommand")

		_ = cmd.Help()
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}

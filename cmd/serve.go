package cmd

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"invoicepipe/internal/logger"
	"invoicepipe/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the invoice extraction HTTP API",
	Long: `Start the HTTP API:

  GET  /health              liveness probe
  POST /api/extract         multipart field "file", one upload
  POST /api/extract-batch   multipart field "files", several uploads

The listen address, CORS origins and upload limit come from HTTP_ADDR,
CORS_ALLOWED_ORIGINS and MAX_UPLOAD_MB. The server shuts down gracefully on
SIGINT or SIGTERM.`,
	Example: `  # Listen on the configured address
  invoicepipe serve

  # Override the address
  invoicepipe serve --addr :9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default: HTTP_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	ctx, stop := signalContext(0)
	defer stop()

	p, err := newPipeline(ctx, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build extraction pipeline")
		return err
	}
	defer p.Close()

	cfg := p.cfg.Server()
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Addr = addr
	}

	if p.cfg.LogLevel != "debug" && p.cfg.LogLevel != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := server.New(cfg, p.service, logger.WithComponent("server"))
	return srv.Run(ctx)
}

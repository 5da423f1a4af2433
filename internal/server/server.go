// Package server exposes the extraction pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"invoicepipe/pkg/models"
	"invoicepipe/pkg/services"
)

const shutdownTimeout = 15 * time.Second

// Extractor is the part of services.ExtractionService the handlers use.
type Extractor interface {
	Extract(ctx context.Context, f services.File) (models.ExtractResponse, error)
	ExtractBatch(ctx context.Context, files []services.File) models.BatchResponse
}

// Config holds the HTTP settings.
type Config struct {
	Addr string

	// AllowedOrigins lists CORS origins; "*" allows any.
	AllowedOrigins []string

	// MaxUploadBytes limits each uploaded file.
	MaxUploadBytes int64
}

// Server is the HTTP API.
type Server struct {
	config    Config
	extractor Extractor
	engine    *gin.Engine
	log       zerolog.Logger
}

// New builds the router: recovery, request logging, CORS, then the routes.
func New(config Config, extractor Extractor, log zerolog.Logger) *Server {
	s := &Server{
		config:    config,
		extractor: extractor,
		log:       log,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(log))
	router.Use(CORS(config.AllowedOrigins))

	if config.MaxUploadBytes > 0 {
		router.MaxMultipartMemory = config.MaxUploadBytes
	}

	router.GET("/health", s.health)

	api := router.Group("/api")
	{
		api.POST("/extract", s.extract)
		api.POST("/extract-batch", s.extractBatch)
	}

	s.engine = router
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.config.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

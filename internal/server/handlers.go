package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"invoicepipe/internal/llm"
	"invoicepipe/internal/ocr"
	"invoicepipe/pkg/services"
)

var (
	errNoFile       = errors.New("no file uploaded")
	errFileTooLarge = errors.New("file exceeds the upload limit")
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// extract handles POST /api/extract with a multipart "file" field.
func (s *Server) extract(c *gin.Context) {
	log := requestLogger(c, s.log)

	fh, err := c.FormFile("file")
	if err != nil {
		s.fail(c, fmt.Errorf("%w: %v", errNoFile, err))
		return
	}

	file, err := s.readUpload(fh)
	if err != nil {
		s.fail(c, err)
		return
	}

	log.Debug().
		Str("file", file.Filename).
		Int("bytes", len(file.Content)).
		Msg("Extracting upload")

	resp, err := s.extractor.Extract(c.Request.Context(), file)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// extractBatch handles POST /api/extract-batch with one or more "files" fields.
func (s *Server) extractBatch(c *gin.Context) {
	log := requestLogger(c, s.log)

	form, err := c.MultipartForm()
	if err != nil {
		s.fail(c, fmt.Errorf("%w: %v", errNoFile, err))
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		s.fail(c, errNoFile)
		return
	}

	files := make([]services.File, 0, len(headers))
	for _, fh := range headers {
		file, err := s.readUpload(fh)
		if err != nil {
			s.fail(c, err)
			return
		}
		files = append(files, file)
	}

	log.Debug().Int("files", len(files)).Msg("Extracting batch")

	c.JSON(http.StatusOK, s.extractor.ExtractBatch(c.Request.Context(), files))
}

func (s *Server) readUpload(fh *multipart.FileHeader) (services.File, error) {
	if s.config.MaxUploadBytes > 0 && fh.Size > s.config.MaxUploadBytes {
		return services.File{}, fmt.Errorf("%w: %s is %d bytes, limit %d", errFileTooLarge, fh.Filename, fh.Size, s.config.MaxUploadBytes)
	}

	f, err := fh.Open()
	if err != nil {
		return services.File{}, fmt.Errorf("%w: open %s: %v", services.ErrMalformedUpload, fh.Filename, err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return services.File{}, fmt.Errorf("%w: read %s: %v", services.ErrMalformedUpload, fh.Filename, err)
	}

	return services.File{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Content:     content,
	}, nil
}

// fail writes {"error": ...} with the status for err.
func (s *Server) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
}

// statusFor maps pipeline errors to HTTP statuses. Upload problems are the client's;
// everything else is an upstream failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errNoFile), errors.Is(err, services.ErrMalformedUpload), errors.Is(err, ocr.ErrEmptyDocument):
		return http.StatusBadRequest
	case errors.Is(err, errFileTooLarge), errors.Is(err, ocr.ErrDocumentTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ocr.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ocr.ErrTimeout), errors.Is(err, llm.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

package ocr

import (
	"errors"
	"fmt"
)

// Common OCR errors
var (
	// ErrDocumentTooLarge is returned when the upload exceeds the synchronous processing limit.
	ErrDocumentTooLarge = errors.New("document exceeds the maximum size for synchronous processing (20MB)")

	// ErrEmptyDocument is returned for zero-length uploads.
	ErrEmptyDocument = errors.New("document is empty")

	// ErrUnsupportedFormat is returned when the backend cannot handle the MIME type.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrOCRFailed is returned when the backend rejects or fails the request.
	ErrOCRFailed = errors.New("OCR processing failed")

	// ErrInvalidCredentials is returned on permission errors from the backend.
	ErrInvalidCredentials = errors.New("invalid or insufficient Google Cloud credentials")

	// ErrInvalidConfiguration is returned when project, location or processor are missing.
	ErrInvalidConfiguration = errors.New("invalid OCR configuration")

	// ErrProcessorNotFound is returned when the Document AI processor does not exist.
	ErrProcessorNotFound = errors.New("Document AI processor not found")

	// ErrQuotaExceeded is returned when the backend reports an exhausted quota.
	ErrQuotaExceeded = errors.New("OCR API quota exceeded")

	// ErrTimeout is returned when the per-call deadline expires.
	ErrTimeout = errors.New("OCR request timed out")

	// ErrContextCanceled is returned when the caller cancels the request.
	ErrContextCanceled = errors.New("OCR processing was canceled")
)

// OCRError wraps errors with the failing operation and optional details.
type OCRError struct {
	// Op is the operation that failed (e.g., "Process", "NewDocumentAIService").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *OCRError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ocr: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("ocr: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *OCRError) Unwrap() error {
	return e.Err
}

// Is reports whether the underlying error matches target.
func (e *OCRError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapOCRError wraps err as an OCRError unless it already is one.
func WrapOCRError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var ocrErr *OCRError
	if errors.As(err, &ocrErr) {
		return err
	}

	return &OCRError{Op: op, Err: err, Details: details}
}

package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
)

// fileMIMETypes are sent through the files API; everything else is annotated as an image.
var fileMIMETypes = map[string]bool{
	"application/pdf": true,
	"image/tiff":      true,
	"image/gif":       true,
}

type annotatorClient interface {
	BatchAnnotateFiles(ctx context.Context, req *visionpb.BatchAnnotateFilesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateFilesResponse, error)
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
	Close() error
}

// VisionService implements Service with Cloud Vision document text detection.
// It returns text only; the entity mapper then relies on its text strategies.
type VisionService struct {
	client  annotatorClient
	timeout time.Duration
	log     zerolog.Logger
}

// NewVisionService creates a Vision client with the given credentials.
func NewVisionService(ctx context.Context, creds Credentials, timeout time.Duration, log zerolog.Logger) (*VisionService, error) {
	const op = "NewVisionService"

	client, err := vision.NewImageAnnotatorClient(ctx, creds.options()...)
	if err != nil {
		return nil, WrapOCRError(op, err, "failed to create Vision client")
	}
	return NewVisionServiceWithClient(client, timeout, log), nil
}

// NewVisionServiceWithClient wires an existing client, mainly for tests.
func NewVisionServiceWithClient(client annotatorClient, timeout time.Duration, log zerolog.Logger) *VisionService {
	if timeout <= 0 {
		timeout = DefaultDocumentAIConfig().Timeout
	}
	return &VisionService{
		client:  client,
		timeout: timeout,
		log:     log.With().Str("ocr_backend", "vision").Logger(),
	}
}

// Process runs DOCUMENT_TEXT_DETECTION over the upload.
func (s *VisionService) Process(ctx context.Context, content []byte, mimeType string) (*Document, error) {
	const op = "Process"

	if len(content) == 0 {
		return nil, WrapOCRError(op, ErrEmptyDocument, "")
	}
	if len(content) > MaxDocumentSizeBytes {
		return nil, WrapOCRError(op, ErrDocumentTooLarge, fmt.Sprintf("file size: %d bytes", len(content)))
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	features := []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}}

	var pages []*visionpb.AnnotateImageResponse
	if fileMIMETypes[mimeType] {
		resp, err := s.client.BatchAnnotateFiles(callCtx, &visionpb.BatchAnnotateFilesRequest{
			Requests: []*visionpb.AnnotateFileRequest{{
				InputConfig: &visionpb.InputConfig{Content: content, MimeType: mimeType},
				Features:    features,
			}},
		})
		if err != nil {
			return nil, s.wrapCallError(callCtx, op, err)
		}
		if len(resp.GetResponses()) == 0 {
			return nil, WrapOCRError(op, ErrOCRFailed, "no response from Vision API")
		}
		fileResp := resp.GetResponses()[0]
		if fileResp.GetError() != nil {
			return nil, WrapOCRError(op, ErrOCRFailed, fileResp.GetError().GetMessage())
		}
		pages = fileResp.GetResponses()
	} else {
		resp, err := s.client.BatchAnnotateImages(callCtx, &visionpb.BatchAnnotateImagesRequest{
			Requests: []*visionpb.AnnotateImageRequest{{
				Image:    &visionpb.Image{Content: content},
				Features: features,
			}},
		})
		if err != nil {
			return nil, s.wrapCallError(callCtx, op, err)
		}
		pages = resp.GetResponses()
	}

	doc, err := collectText(pages)
	if err != nil {
		return nil, WrapOCRError(op, err, "failed to read Vision API response")
	}

	s.log.Debug().
		Str("mime_type", mimeType).
		Int("pages", doc.PageCount).
		Int("text_length", len(doc.Text)).
		Msg("Vision text detection completed")

	return doc, nil
}

// Close closes the underlying Vision client.
func (s *VisionService) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *VisionService) wrapCallError(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return WrapOCRError(op, ErrTimeout, fmt.Sprintf("no response within %s", s.timeout))
	case errors.Is(ctx.Err(), context.Canceled):
		return WrapOCRError(op, ErrContextCanceled, "")
	default:
		return WrapOCRError(op, ErrOCRFailed, fmt.Sprintf("Vision API call failed: %v", err))
	}
}

// collectText joins page texts with newlines. A blank scan yields an empty document, not an error.
func collectText(pages []*visionpb.AnnotateImageResponse) (*Document, error) {
	var text strings.Builder
	for i, page := range pages {
		if page.GetError() != nil {
			return nil, fmt.Errorf("page %d: %s", i+1, page.GetError().GetMessage())
		}
		if page.GetFullTextAnnotation() == nil {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n")
		}
		text.WriteString(page.GetFullTextAnnotation().GetText())
	}

	return &Document{Text: text.String(), PageCount: len(pages), Entities: []Entity{}}, nil
}

package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MaxDocumentSizeBytes is the synchronous processing limit shared by both backends (20MB).
const MaxDocumentSizeBytes = 20 * 1024 * 1024

// Credentials selects how Google clients authenticate. Empty means Application Default Credentials.
type Credentials struct {
	JSON string
	File string
}

func (c Credentials) options() []option.ClientOption {
	switch {
	case c.JSON != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(c.JSON))}
	case c.File != "":
		return []option.ClientOption{option.WithCredentialsFile(c.File)}
	default:
		return nil
	}
}

// DocumentAIConfig holds configuration for Google Document AI processing.
type DocumentAIConfig struct {
	// ProjectID is the Google Cloud project ID where Document AI is enabled.
	ProjectID string

	// Location is the processor location ("us", "eu"). It also selects the regional endpoint.
	Location string

	// ProcessorID is the Document AI processor ID.
	ProcessorID string

	// ProcessorVersion pins a processor version. Empty uses the processor default.
	ProcessorVersion string

	// Timeout bounds a single ProcessDocument call.
	Timeout time.Duration

	Credentials Credentials
}

// DefaultDocumentAIConfig returns a DocumentAIConfig with sensible defaults.
func DefaultDocumentAIConfig() DocumentAIConfig {
	return DocumentAIConfig{
		Location: "us",
		Timeout:  60 * time.Second,
	}
}

// ProcessorName returns the full resource name used in ProcessRequest.
func (c DocumentAIConfig) ProcessorName() string {
	name := fmt.Sprintf("projects/%s/locations/%s/processors/%s", c.ProjectID, c.Location, c.ProcessorID)
	if c.ProcessorVersion != "" {
		name += "/processorVersions/" + c.ProcessorVersion
	}
	return name
}

// Endpoint returns the regional API endpoint for the configured location.
func (c DocumentAIConfig) Endpoint() string {
	return fmt.Sprintf("%s-documentai.googleapis.com:443", c.Location)
}

// processorClient is the subset of the Document AI client used here.
type processorClient interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, opts ...gax.CallOption) (*documentaipb.ProcessResponse, error)
	Close() error
}

// DocumentAIService implements Service using a Document AI processor.
type DocumentAIService struct {
	client processorClient
	config DocumentAIConfig
	log    zerolog.Logger
}

// NewDocumentAIService dials the regional Document AI endpoint.
func NewDocumentAIService(ctx context.Context, config DocumentAIConfig, log zerolog.Logger) (*DocumentAIService, error) {
	const op = "NewDocumentAIService"

	if config.ProjectID == "" || config.ProcessorID == "" {
		return nil, WrapOCRError(op, ErrInvalidConfiguration, "project ID and processor ID are required")
	}
	if config.Location == "" {
		config.Location = "us"
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultDocumentAIConfig().Timeout
	}

	opts := append([]option.ClientOption{option.WithEndpoint(config.Endpoint())}, config.Credentials.options()...)
	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, WrapOCRError(op, err, fmt.Sprintf("failed to create Document AI client for location %s", config.Location))
	}

	return NewDocumentAIServiceWithClient(config, client, log), nil
}

// NewDocumentAIServiceWithClient wires an existing client, mainly for tests.
func NewDocumentAIServiceWithClient(config DocumentAIConfig, client processorClient, log zerolog.Logger) *DocumentAIService {
	return &DocumentAIService{
		client: client,
		config: config,
		log:    log.With().Str("ocr_backend", "documentai").Logger(),
	}
}

// Process runs the processor over the raw document bytes.
func (s *DocumentAIService) Process(ctx context.Context, content []byte, mimeType string) (*Document, error) {
	const op = "Process"

	if len(content) == 0 {
		return nil, WrapOCRError(op, ErrEmptyDocument, "")
	}
	if len(content) > MaxDocumentSizeBytes {
		return nil, WrapOCRError(op, ErrDocumentTooLarge, fmt.Sprintf("file size: %d bytes", len(content)))
	}

	callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	req := &documentaipb.ProcessRequest{
		Name: s.config.ProcessorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  content,
				MimeType: mimeType,
			},
		},
	}

	start := time.Now()
	resp, err := s.client.ProcessDocument(callCtx, req)
	if err != nil {
		return nil, s.handleProcessingError(callCtx, op, err)
	}
	if resp.GetDocument() == nil {
		return nil, WrapOCRError(op, ErrOCRFailed, "no document in response")
	}

	doc := convertDocument(resp.GetDocument())

	s.log.Debug().
		Str("mime_type", mimeType).
		Int("bytes", len(content)).
		Int("entities", len(doc.Entities)).
		Int("text_length", len(doc.Text)).
		Dur("duration", time.Since(start)).
		Msg("Document AI processing completed")

	return doc, nil
}

// Close closes the underlying client.
func (s *DocumentAIService) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// handleProcessingError maps transport errors to package errors.
func (s *DocumentAIService) handleProcessingError(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return WrapOCRError(op, ErrTimeout, fmt.Sprintf("no response within %s", s.config.Timeout))
	case errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled):
		return WrapOCRError(op, ErrContextCanceled, "")
	}

	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated:
		return WrapOCRError(op, ErrInvalidCredentials, err.Error())
	case codes.ResourceExhausted:
		return WrapOCRError(op, ErrQuotaExceeded, err.Error())
	case codes.NotFound:
		return WrapOCRError(op, ErrProcessorNotFound, s.config.ProcessorName())
	case codes.InvalidArgument:
		return WrapOCRError(op, ErrUnsupportedFormat, err.Error())
	case codes.DeadlineExceeded:
		return WrapOCRError(op, ErrTimeout, err.Error())
	default:
		return WrapOCRError(op, ErrOCRFailed, err.Error())
	}
}

func convertDocument(doc *documentaipb.Document) *Document {
	out := &Document{
		Text:      doc.GetText(),
		PageCount: len(doc.GetPages()),
		Entities:  make([]Entity, 0, len(doc.GetEntities())),
	}
	for _, e := range doc.GetEntities() {
		out.Entities = append(out.Entities, convertEntity(e))
	}
	return out
}

func convertEntity(e *documentaipb.Document_Entity) Entity {
	entity := Entity{
		Type:        e.GetType(),
		MentionText: strings.TrimSpace(e.GetMentionText()),
		Confidence:  e.GetConfidence(),
		Normalized:  convertNormalizedValue(e.GetNormalizedValue()),
	}
	for _, p := range e.GetProperties() {
		entity.Properties = append(entity.Properties, convertEntity(p))
	}
	return entity
}

// convertNormalizedValue keeps the numeric forms the mapper can use; dates, addresses
// and booleans survive only through their text form.
func convertNormalizedValue(nv *documentaipb.Document_Entity_NormalizedValue) *NormalizedValue {
	if nv == nil {
		return nil
	}

	out := &NormalizedValue{Text: strings.TrimSpace(nv.GetText())}
	var n float64
	switch v := nv.GetStructuredValue().(type) {
	case *documentaipb.Document_Entity_NormalizedValue_FloatValue:
		n = float64(v.FloatValue)
		out.Number = &n
	case *documentaipb.Document_Entity_NormalizedValue_IntegerValue:
		n = float64(v.IntegerValue)
		out.Number = &n
	case *documentaipb.Document_Entity_NormalizedValue_MoneyValue:
		if m := v.MoneyValue; m != nil {
			n = float64(m.GetUnits()) + float64(m.GetNanos())/1e9
			out.Number = &n
		}
	}

	if out.Text == "" && out.Number == nil {
		return nil
	}
	return out
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"

	"invoicepipe/internal/llm"
	"invoicepipe/internal/ocr"
	"invoicepipe/pkg/models"
	"invoicepipe/pkg/services"
)

func TestServer(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Server Suite")
}

var _ = BeforeSuite(func() {
	gin.SetMode(gin.TestMode)
})

type fakeExtractor struct {
	err   error
	files []services.File
}

func (f *fakeExtractor) Extract(_ context.Context, file services.File) (models.ExtractResponse, error) {
	f.files = append(f.files, file)
	if f.err != nil {
		return models.ExtractResponse{}, f.err
	}
	id := file.Filename
	inv := models.CanonicalInvoice{InvoiceID: &id, MissingFields: []string{}, Items: []models.CanonicalItem{}}
	return models.ExtractResponse{Invoice: &inv, Invoices: []models.CanonicalInvoice{inv}}, nil
}

func (f *fakeExtractor) ExtractBatch(_ context.Context, files []services.File) models.BatchResponse {
	f.files = append(f.files, files...)
	resp := models.BatchResponse{Results: []models.BatchResult{}}
	for _, file := range files {
		resp.Results = append(resp.Results, models.BatchResult{Filename: file.Filename, Status: models.StatusSuccess})
	}
	resp.Count = len(resp.Results)
	return resp
}

type upload struct {
	field, name, contentType, body string
}

func multipartRequest(path string, uploads ...upload) *http.Request {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, u := range uploads {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, u.field, u.name))
		h.Set("Content-Type", u.contentType)
		part, err := w.CreatePart(h)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte(u.body))
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(w.Close()).To(Succeed())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

var _ = Describe("Server", func() {
	var (
		extractor *fakeExtractor
		srv       *Server
	)

	BeforeEach(func() {
		extractor = &fakeExtractor{}
		srv = New(Config{AllowedOrigins: []string{"*"}, MaxUploadBytes: 1024}, extractor, zerolog.Nop())
	})

	serve := func(req *http.Request) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	It("answers the health check", func() {
		rec := serve(httptest.NewRequest(http.MethodGet, "/health", nil))
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(MatchJSON(`{"status": "ok"}`))
	})

	Describe("request IDs", func() {
		It("generates one when the client sends none", func() {
			rec := serve(httptest.NewRequest(http.MethodGet, "/health", nil))
			Expect(rec.Header().Get("X-Request-ID")).To(MatchRegexp(`^[0-9a-f-]{36}$`))
		})

		It("echoes the client's ID", func() {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set("X-Request-ID", "req-42")
			Expect(serve(req).Header().Get("X-Request-ID")).To(Equal("req-42"))
		})
	})

	Describe("CORS", func() {
		It("allows any origin by default", func() {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set("Origin", "http://frontend.test")
			Expect(serve(req).Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("rejects origins outside a configured list", func() {
			srv = New(Config{AllowedOrigins: []string{"http://app.test"}}, extractor, zerolog.Nop())

			allowed := httptest.NewRequest(http.MethodGet, "/health", nil)
			allowed.Header.Set("Origin", "http://app.test")
			Expect(serve(allowed).Header().Get("Access-Control-Allow-Origin")).To(Equal("http://app.test"))

			denied := httptest.NewRequest(http.MethodGet, "/health", nil)
			denied.Header.Set("Origin", "http://evil.test")
			Expect(serve(denied).Code).To(Equal(http.StatusForbidden))
		})
	})

	Describe("POST /api/extract", func() {
		It("passes the upload to the pipeline and returns both shapes", func() {
			rec := serve(multipartRequest("/api/extract", upload{"file", "inv.pdf", "application/pdf", "%PDF-1.4"}))
			Expect(rec.Code).To(Equal(http.StatusOK))

			Expect(extractor.files).To(HaveLen(1))
			Expect(extractor.files[0].Filename).To(Equal("inv.pdf"))
			Expect(extractor.files[0].ContentType).To(Equal("application/pdf"))
			Expect(string(extractor.files[0].Content)).To(Equal("%PDF-1.4"))

			var body map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body).To(HaveKeyWithValue("invoice", HaveKeyWithValue("invoiceId", "inv.pdf")))
			Expect(body).To(HaveKeyWithValue("invoices", HaveLen(1)))
		})

		It("rejects a request without a file part", func() {
			rec := serve(multipartRequest("/api/extract", upload{"other", "inv.pdf", "application/pdf", "x"}))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(extractor.files).To(BeEmpty())
		})

		It("rejects a body that is not multipart", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/extract", bytes.NewBufferString("{}"))
			req.Header.Set("Content-Type", "application/json")
			Expect(serve(req).Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects files above the upload limit", func() {
			rec := serve(multipartRequest("/api/extract", upload{"file", "big.pdf", "application/pdf", string(make([]byte, 2048))}))
			Expect(rec.Code).To(Equal(http.StatusRequestEntityTooLarge))
			Expect(extractor.files).To(BeEmpty())
		})

		DescribeTable("maps pipeline failures to statuses",
			func(err error, status int) {
				extractor.err = &services.StageError{Stage: services.StagePathSelected, Filename: "inv.pdf", Err: err}
				rec := serve(multipartRequest("/api/extract", upload{"file", "inv.pdf", "application/pdf", "x"}))
				Expect(rec.Code).To(Equal(status))
				Expect(rec.Body.String()).To(ContainSubstring(`"error"`))
				Expect(rec.Body.String()).To(ContainSubstring("inv.pdf"))
			},
			Entry("malformed spreadsheet", fmt.Errorf("%w: bad zip", services.ErrMalformedUpload), http.StatusBadRequest),
			Entry("OCR failure", ocr.WrapOCRError("Process", ocr.ErrOCRFailed, ""), http.StatusBadGateway),
			Entry("OCR quota", ocr.WrapOCRError("Process", ocr.ErrQuotaExceeded, ""), http.StatusBadGateway),
			Entry("OCR deadline", ocr.WrapOCRError("Process", ocr.ErrTimeout, ""), http.StatusGatewayTimeout),
			Entry("model deadline", &llm.GenerationError{Provider: "gemini", Op: "Generate", Err: llm.ErrTimeout}, http.StatusGatewayTimeout),
			Entry("unsupported format", ocr.WrapOCRError("Process", ocr.ErrUnsupportedFormat, ""), http.StatusUnsupportedMediaType),
			Entry("document too large", ocr.WrapOCRError("Process", ocr.ErrDocumentTooLarge, ""), http.StatusRequestEntityTooLarge),
		)
	})

	Describe("POST /api/extract-batch", func() {
		It("hands every file to the batch pipeline in order", func() {
			rec := serve(multipartRequest("/api/extract-batch",
				upload{"files", "a.pdf", "application/pdf", "a"},
				upload{"files", "b.csv", "text/csv", "Serial Number\nS-1\n"},
				upload{"files", "c.png", "image/png", "c"},
			))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(extractor.files).To(HaveLen(3))
			Expect(extractor.files[1].ContentType).To(Equal("text/csv"))

			var resp models.BatchResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Count).To(Equal(3))
			Expect(resp.Results[0].Filename).To(Equal("a.pdf"))
			Expect(resp.Results[2].Filename).To(Equal("c.png"))
		})

		It("rejects a request without files", func() {
			rec := serve(multipartRequest("/api/extract-batch", upload{"file", "a.pdf", "application/pdf", "a"}))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})
})

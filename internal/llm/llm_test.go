package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/rs/zerolog"
)

func TestLLM(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "LLM Suite")
}

var _ = Describe("ExtractObject", func() {
	DescribeTable("locating the first top-level object",
		func(input, expected string) {
			obj, ok := ExtractObject(input)
			Expect(ok).To(BeTrue())
			Expect(obj).To(Equal(expected))
		},
		Entry("surrounded by commentary",
			"Here is the result:\n{\"invoices\": []}\nThanks!", `{"invoices": []}`),
		Entry("inside a markdown fence",
			"```json\n{\"a\": 1}\n```", `{"a": 1}`),
		Entry("with nested objects",
			`{"a": {"b": {}}, "c": 2} trailing {"d": 3}`, `{"a": {"b": {}}, "c": 2}`),
		Entry("with braces inside strings",
			`note {"name": "Widget {large}", "q": "say \"}\""} end`, `{"name": "Widget {large}", "q": "say \"}\""}`),
		Entry("with extra closing braces",
			`{"a": {"b": 1} }}`, `{"a": {"b": 1} }`),
	)

	It("reports text without an object", func() {
		_, ok := ExtractObject("no json here")
		Expect(ok).To(BeFalse())
	})

	It("falls back to the last closing brace", func() {
		obj, ok := ExtractObject(`{"a": "x" {`+"\n"+`"b": 1}`)
		Expect(ok).To(BeTrue())
		Expect(obj).To(HavePrefix(`{"a"`))
		Expect(obj).To(HaveSuffix(`1}`))
	})
})

var _ = Describe("DecodeObject", func() {
	It("decodes only the object and ignores the commentary", func() {
		var out struct {
			Invoices []map[string]any `json:"invoices"`
		}
		err := DecodeObject("Here is the result:\n{\"invoices\": [{\"invoice_id\": \"A1\"}]}\nThanks!", &out)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Invoices).To(HaveLen(1))
		Expect(out.Invoices[0]["invoice_id"]).To(Equal("A1"))
	})

	It("returns ErrNoJSONObject when nothing is found", func() {
		var out map[string]any
		Expect(DecodeObject("sorry, I cannot help", &out)).To(MatchError(ErrNoJSONObject))
	})

	It("returns the decode error for malformed objects", func() {
		var out map[string]any
		err := DecodeObject(`{"a": 1,}`, &out)
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, ErrNoJSONObject)).To(BeFalse())
	})
})

var _ = Describe("Schema", func() {
	schema := MustCompileSchema("test.schema.json", `{
		"type": "object",
		"required": ["invoices"],
		"properties": {"invoices": {"type": "array"}}
	}`)

	It("accepts conforming documents", func() {
		Expect(schema.Validate(`{"invoices": []}`)).To(Succeed())
	})

	It("rejects documents that break the contract", func() {
		Expect(schema.Validate(`{"invoices": {}}`)).To(MatchError(ContainSubstring("schema validation failed")))
	})

	It("rejects malformed JSON", func() {
		Expect(schema.Validate(`{`)).To(HaveOccurred())
	})
})

var _ = Describe("generateWithAttempts", func() {
	var (
		cfg   Config
		calls int
	)

	BeforeEach(func() {
		cfg = Config{Provider: "fake", MaxAttempts: 3, Timeout: time.Second}
		calls = 0
	})

	It("returns the first successful response", func() {
		text, err := generateWithAttempts(context.Background(), cfg, zerolog.Nop(), func(context.Context) (string, error) {
			calls++
			if calls < 2 {
				return "", errors.New("unavailable")
			}
			return "{}", nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("{}"))
		Expect(calls).To(Equal(2))
	})

	It("makes a single attempt by default", func() {
		cfg.MaxAttempts = 0
		_, err := generateWithAttempts(context.Background(), cfg, zerolog.Nop(), func(context.Context) (string, error) {
			calls++
			return "", errors.New("unavailable")
		})
		Expect(err).To(HaveOccurred())
		Expect(calls).To(Equal(1))
	})

	It("treats blank responses as failures", func() {
		cfg.MaxAttempts = 1
		_, err := generateWithAttempts(context.Background(), cfg, zerolog.Nop(), func(context.Context) (string, error) {
			return "   ", nil
		})
		Expect(errors.Is(err, ErrEmptyResponse)).To(BeTrue())

		var genErr *GenerationError
		Expect(errors.As(err, &genErr)).To(BeTrue())
		Expect(genErr.Provider).To(Equal("fake"))
	})

	It("reports a timeout when the attempt deadline expires", func() {
		cfg.MaxAttempts = 1
		cfg.Timeout = 10 * time.Millisecond
		_, err := generateWithAttempts(context.Background(), cfg, zerolog.Nop(), func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})
		Expect(errors.Is(err, ErrTimeout)).To(BeTrue())
	})

	It("stops retrying once the caller cancels", func() {
		ctx, cancel := context.WithCancel(context.Background())
		_, err := generateWithAttempts(ctx, cfg, zerolog.Nop(), func(context.Context) (string, error) {
			calls++
			cancel()
			return "", context.Canceled
		})
		Expect(err).To(HaveOccurred())
		Expect(calls).To(Equal(1))
	})
})

var _ = Describe("New", func() {
	It("requires an API key", func() {
		_, err := New(context.Background(), Config{Provider: ProviderOpenAI}, zerolog.Nop())
		Expect(errors.Is(err, ErrMissingAPIKey)).To(BeTrue())
	})

	It("rejects unknown providers", func() {
		_, err := New(context.Background(), Config{Provider: "llama", APIKey: "k"}, zerolog.Nop())
		Expect(errors.Is(err, ErrUnknownProvider)).To(BeTrue())
	})

	It("builds an OpenAI generator", func() {
		gen, err := New(context.Background(), Config{Provider: ProviderOpenAI, APIKey: "k"}, zerolog.Nop())
		Expect(err).NotTo(HaveOccurred())
		Expect(gen).To(BeAssignableToTypeOf(&OpenAI{}))
	})
})

var _ = Describe("OpenAI", func() {
	var (
		server *ghttp.Server
		gen    *OpenAI
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		gen = NewOpenAI(Config{
			APIKey:      "test-key",
			Model:       "gpt-4o-mini",
			BaseURL:     server.URL() + "/v1",
			MaxAttempts: 1,
			Timeout:     5 * time.Second,
		}, zerolog.Nop())
	})

	AfterEach(func() {
		server.Close()
	})

	When("the API answers", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/v1/chat/completions"),
				ghttp.VerifyHeaderKV("Authorization", "Bearer test-key"),
				func(w http.ResponseWriter, r *http.Request) {
					defer GinkgoRecover()
					var body struct {
						Model    string `json:"model"`
						Messages []struct {
							Role    string `json:"role"`
							Content string `json:"content"`
						} `json:"messages"`
						ResponseFormat struct {
							Type string `json:"type"`
						} `json:"response_format"`
					}
					Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
					Expect(body.Model).To(Equal("gpt-4o-mini"))
					Expect(body.ResponseFormat.Type).To(Equal("json_object"))
					Expect(body.Messages).To(HaveLen(2))
					Expect(body.Messages[0].Role).To(Equal("system"))
					Expect(body.Messages[1].Content).To(Equal("extract"))
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"id":     "chatcmpl-1",
					"object": "chat.completion",
					"model":  "gpt-4o-mini",
					"choices": []map[string]any{{
						"index":         0,
						"finish_reason": "stop",
						"message":       map[string]any{"role": "assistant", "content": `{"invoices": []}`},
					}},
				}),
			))
		})

		It("returns the first choice", func() {
			text, err := gen.Generate(context.Background(), Request{System: "be strict", Prompt: "extract"})
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal(`{"invoices": []}`))
			Expect(server.ReceivedRequests()).To(HaveLen(1))
		})
	})

	When("the API fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusInternalServerError, map[string]any{
				"error": map[string]any{"message": "overloaded", "type": "server_error"},
			}))
		})

		It("returns a GenerationError", func() {
			_, err := gen.Generate(context.Background(), Request{Prompt: "extract"})
			var genErr *GenerationError
			Expect(errors.As(err, &genErr)).To(BeTrue())
			Expect(genErr.Provider).To(Equal(ProviderOpenAI))
		})
	})
})

var _ = Describe("Gemini", func() {
	It("asks for JSON output with the configured sampling", func() {
		gen, err := NewGemini(context.Background(), Config{APIKey: "test-key", Temperature: 0.2, MaxOutputTokens: 512}, zerolog.Nop())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(gen.Close)

		model := gen.model(Request{System: "be strict", Prompt: "extract"})
		Expect(model.ResponseMIMEType).To(Equal("application/json"))
		Expect(*model.Temperature).To(BeNumerically("~", 0.2, 1e-6))
		Expect(*model.MaxOutputTokens).To(Equal(int32(512)))
		Expect(model.SystemInstruction.Parts).To(Equal([]genai.Part{genai.Text("be strict")}))
	})
})

var _ = Describe("responseText", func() {
	It("joins the text parts of the first candidate", func() {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"a":`), genai.Text(` 1}`)}},
			}},
		}
		Expect(responseText(resp)).To(Equal(`{"a": 1}`))
	})

	It("returns empty text without candidates", func() {
		Expect(responseText(&genai.GenerateContentResponse{})).To(BeEmpty())
		Expect(responseText(nil)).To(BeEmpty())
	})
})

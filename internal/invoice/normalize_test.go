package invoice

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"

	"invoicepipe/internal/llm"
	"invoicepipe/internal/ocr"
	"invoicepipe/pkg/models"
)

type stubGenerator struct {
	text string
	err  error
	last llm.Request
}

func (s *stubGenerator) Generate(_ context.Context, req llm.Request) (string, error) {
	s.last = req
	return s.text, s.err
}

var _ = Describe("ModelNormalizer", func() {
	var (
		gen        *stubGenerator
		normalizer *ModelNormalizer
		doc        *ocr.Document
	)

	BeforeEach(func() {
		gen = &stubGenerator{}
		normalizer = NewModelNormalizer(gen, zerolog.Nop())
		doc = &ocr.Document{
			Text:     "TAX INVOICE\nInvoice #: INV-77",
			Entities: []ocr.Entity{{Type: EntityInvoiceID, MentionText: "INV-77"}},
		}
	})

	It("sends the OCR text and entities to the model", func() {
		gen.text = `{"invoice_id": "INV-77", "items": []}`
		_, err := normalizer.Normalize(context.Background(), doc)
		Expect(err).NotTo(HaveOccurred())
		Expect(gen.last.System).NotTo(BeEmpty())
		Expect(gen.last.Prompt).To(ContainSubstring("Invoice #: INV-77"))
		Expect(gen.last.Prompt).To(ContainSubstring(EntityInvoiceID))
	})

	It("decodes a plain object wrapped in a markdown fence", func() {
		gen.text = "```json\n" + `{"invoice_id": "INV-77", "date": "12 Nov 2024", "customer": "Acme",` +
			` "amount_in_words": "Ten Only", "items": [{"name": "Widget", "qty": 2, "unit_price": 5}], "total": 10}` + "\n```"

		raw, err := normalizer.Normalize(context.Background(), doc)
		Expect(err).NotTo(HaveOccurred())
		Expect(raw.InvoiceID).To(Equal(models.Text("INV-77")))
		Expect(raw.Customer.Name).To(Equal(models.Text("Acme")))
		Expect(raw.TotalInWords).To(Equal(models.Text("Ten Only")))
		Expect(raw.Items).To(HaveLen(1))

		out := Validate(raw)
		Expect(out.Subtotal).To(Equal(10.0))
		Expect(out.IsConsistent).To(BeTrue())
	})

	It("unwraps the first element of an invoices array", func() {
		gen.text = `{"invoices": [{"invoice_id": "A"}, {"invoice_id": "B"}]}`
		raw, err := normalizer.Normalize(context.Background(), doc)
		Expect(err).NotTo(HaveOccurred())
		Expect(raw.InvoiceID).To(Equal(models.Text("A")))
	})

	DescribeTable("returns the sentinel record for unusable output",
		func(text string) {
			gen.text = text
			raw, err := normalizer.Normalize(context.Background(), doc)
			Expect(err).NotTo(HaveOccurred())
			Expect(raw.Error).To(Equal(ParseFailureMessage))

			out := Validate(raw)
			Expect(out.Error).To(Equal(ParseFailureMessage))
			Expect(out.Items).To(BeEmpty())
			Expect(out.Total).To(BeZero())
			Expect(out.MissingFields).To(Equal([]string{FieldInvoiceID, FieldDate, FieldCustomerName, FieldItems}))
		},
		Entry("no JSON at all", "I could not read this document."),
		Entry("broken JSON", `{"invoice_id": "INV-77",`),
		Entry("empty invoices array", `{"invoices": []}`),
	)

	It("propagates a failed model call", func() {
		gen.err = &llm.GenerationError{Provider: llm.ProviderGemini, Op: "Generate", Err: llm.ErrTimeout}
		_, err := normalizer.Normalize(context.Background(), doc)
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, llm.ErrTimeout)).To(BeTrue())
	})

	It("accepts a nil document", func() {
		gen.text = `{}`
		_, err := normalizer.Normalize(context.Background(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(gen.last.Prompt).To(ContainSubstring("ENTITIES:\n[]"))
	})
})

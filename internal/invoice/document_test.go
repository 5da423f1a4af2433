package invoice

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"

	"invoicepipe/internal/ocr"
	"invoicepipe/pkg/models"
)

func num(f float64) *ocr.NormalizedValue {
	return &ocr.NormalizedValue{Number: &f}
}

func prop(name, mention string) ocr.Entity {
	return ocr.Entity{Type: "line_item/" + name, MentionText: mention}
}

func lineItem(props ...ocr.Entity) ocr.Entity {
	return ocr.Entity{Type: EntityLineItem, Properties: props}
}

const taxInvoiceText = `TAX INVOICE
Invoice #: INV-77
Bank: State Bank of India
Account #: 1234567890
IFSC Code: SBIN0001234
Branch: MG Road
# Item Description Rate/Item Quantity Amount
Gold Ring 22K 45,000.00 1 45,000.00
Silver Chain 2,500.00 2 5,000.00
Making charges 500.00 1 500.00
Sub Total 50,500.00
CGST 1.5% 757.50
SGST 1.5% 757.50
Total 52,015.00
Total amount (in words): INR Fifty-Two Thousand Fifteen Only
Amount Due 52,015.00`

var _ = Describe("DocumentMapper", func() {
	var mapper *DocumentMapper

	BeforeEach(func() {
		mapper = NewDocumentMapper(zerolog.Nop())
	})

	Describe("header fields", func() {
		It("prefers normalized values over mention text", func() {
			raw := mapper.Map(&ocr.Document{Entities: []ocr.Entity{
				{Type: EntityInvoiceID, MentionText: "INV-77"},
				{Type: EntityInvoiceDate, MentionText: "12 Nov 2024", Normalized: &ocr.NormalizedValue{Text: "2024-11-12"}},
				{Type: EntityReceiverName, MentionText: "  Acme Traders "},
				{Type: EntityReceiverName, MentionText: "Second Receiver"},
				{Type: EntityReceiverPhone, MentionText: "98765 43210"},
			}})

			Expect(raw.InvoiceID).To(Equal(models.Text("INV-77")))
			Expect(raw.Date).To(Equal(models.Text("2024-11-12")))
			Expect(raw.Customer.Name).To(Equal(models.Text("Acme Traders")))
			Expect(raw.Customer.Phone).To(Equal(models.Text("98765 43210")))
		})

		It("leaves absent fields empty", func() {
			raw := mapper.Map(&ocr.Document{})
			Expect(raw.InvoiceID).To(BeEmpty())
			Expect(raw.Customer.Name).To(BeEmpty())
			Expect(raw.Items).To(BeEmpty())
		})

		It("tolerates a nil document", func() {
			raw := mapper.Map(nil)
			Expect(raw.Items).To(BeEmpty())
		})
	})

	Describe("structured line items", func() {
		It("reads properties, defaults numbers and drops charges", func() {
			raw := mapper.Map(&ocr.Document{Entities: []ocr.Entity{
				lineItem(prop("description", "Widget"), prop("quantity", "2"), prop("unit_price", "50.00"), prop("tax_amount", "9.00"), prop("amount", "100.00")),
				lineItem(prop("description", "Gadget"), prop("unit_price", "30")),
				lineItem(prop("description", "Shipping Charges"), prop("amount", "40")),
				lineItem(prop("description", "Round off"), prop("amount", "0.40")),
				lineItem(prop("description", "Free sample"), prop("amount", "0")),
			}})

			Expect(raw.Items).To(HaveLen(2))

			widget := raw.Items[0]
			Expect(widget.Name).To(Equal(models.Text("Widget")))
			Expect(ParseNumberOrDefault(widget.Quantity, 0)).To(Equal(2.0))
			Expect(ParseNumberOrDefault(widget.UnitPrice, 0)).To(Equal(50.0))
			Expect(ParseNumberOrDefault(widget.Tax, 0)).To(Equal(9.0))
			Expect(ParseNumberOrDefault(widget.Total, 0)).To(Equal(100.0))

			gadget := raw.Items[1]
			Expect(ParseNumberOrDefault(gadget.Quantity, 0)).To(Equal(1.0))
			Expect(ParseNumberOrDefault(gadget.Total, 0)).To(Equal(30.0))
		})

		It("accepts property types without the line_item prefix", func() {
			raw := mapper.Map(&ocr.Document{Entities: []ocr.Entity{
				{Type: EntityLineItem, Properties: []ocr.Entity{
					{Type: "description", MentionText: "Widget"},
					{Type: "amount", Normalized: num(12.5)},
				}},
			}})
			Expect(raw.Items).To(HaveLen(1))
			Expect(ParseNumberOrDefault(raw.Items[0].Total, 0)).To(Equal(12.5))
		})
	})

	Describe("text table fallback", func() {
		It("replaces fewer than two structured items with the printed table", func() {
			raw := mapper.Map(&ocr.Document{
				Text: taxInvoiceText,
				Entities: []ocr.Entity{
					lineItem(prop("description", "Gold Ring"), prop("amount", "45000")),
				},
			})

			Expect(raw.Items).To(HaveLen(3))
			Expect(raw.Items[0].Name).To(Equal(models.Text("Gold Ring 22K")))
			Expect(ParseNumberOrDefault(raw.Items[0].UnitPrice, 0)).To(Equal(45000.0))
			Expect(ParseNumberOrDefault(raw.Items[0].Quantity, 0)).To(Equal(1.0))
			Expect(raw.Items[1].Name).To(Equal(models.Text("Silver Chain")))
			Expect(ParseNumberOrDefault(raw.Items[1].Quantity, 0)).To(Equal(2.0))
			Expect(ParseNumberOrDefault(raw.Items[1].Total, 0)).To(Equal(5000.0))
		})

		It("keeps two or more structured items without reading the table", func() {
			raw := mapper.Map(&ocr.Document{
				Text: taxInvoiceText,
				Entities: []ocr.Entity{
					lineItem(prop("description", "A"), prop("amount", "10")),
					lineItem(prop("description", "B"), prop("amount", "20")),
				},
			})
			Expect(raw.Items).To(HaveLen(2))
			Expect(raw.Items[0].Name).To(Equal(models.Text("A")))
		})

		It("keeps the structured item when the table is not larger", func() {
			raw := mapper.Map(&ocr.Document{
				Text: "Description Quantity\nnot a row\nTotal Items 1",
				Entities: []ocr.Entity{
					lineItem(prop("description", "Only"), prop("amount", "10")),
				},
			})
			Expect(raw.Items).To(HaveLen(1))
			Expect(raw.Items[0].Name).To(Equal(models.Text("Only")))
		})

		It("finds nothing without a Description/Quantity header", func() {
			Expect(itemsFromText("Item Rate Amount\nWidget 10.00 1 10.00")).To(BeEmpty())

			raw := mapper.Map(&ocr.Document{Text: "Item Rate Amount\nWidget 10.00 1 10.00"})
			Expect(raw.Items).To(BeEmpty())
			Expect(Validate(raw).MissingFields).To(ContainElement(FieldItems))
		})

		It("reads to the end of the text without a terminating line", func() {
			items := itemsFromText("Description Quantity\nA 1.00 2 2.00\nB 3.00 1 3.00")
			Expect(items).To(HaveLen(2))
		})
	})

	Describe("totals", func() {
		It("takes the largest of the entity, net and text totals", func() {
			raw := mapper.Map(&ocr.Document{
				Text: taxInvoiceText,
				Entities: []ocr.Entity{
					{Type: EntityTotalAmount, Normalized: num(757.50)},
					{Type: EntityNetAmount, MentionText: "50,500.00"},
				},
			})
			Expect(ParseNumberOrDefault(raw.Total, 0)).To(Equal(52015.0))
		})

		It("prefers a structured total above the text total", func() {
			raw := mapper.Map(&ocr.Document{
				Text:     "Total 100.00",
				Entities: []ocr.Entity{{Type: EntityTotalAmount, Normalized: num(118)}},
			})
			Expect(ParseNumberOrDefault(raw.Total, 0)).To(Equal(118.0))
		})

		It("sums every CGST, SGST and IGST figure in the text", func() {
			raw := mapper.Map(&ocr.Document{
				Text:     taxInvoiceText,
				Entities: []ocr.Entity{lineItem(prop("description", "X"), prop("tax_amount", "999"), prop("amount", "1"))},
			})
			Expect(ParseNumberOrDefault(raw.TaxTotal, 0)).To(Equal(1515.0))
		})

		It("reports zero when nothing is found", func() {
			raw := mapper.Map(&ocr.Document{Text: "no figures here"})
			Expect(ParseNumberOrDefault(raw.Total, -1)).To(BeZero())
			Expect(ParseNumberOrDefault(raw.TaxTotal, -1)).To(BeZero())
		})
	})

	Describe("bank details and amount in words", func() {
		It("reads labeled lines", func() {
			raw := mapper.Map(&ocr.Document{Text: taxInvoiceText})
			Expect(raw.Bank).To(Equal(models.BankDetails{
				BankName:      "State Bank of India",
				AccountNumber: "1234567890",
				IFSC:          "SBIN0001234",
				Branch:        "MG Road",
			}))
			Expect(raw.TotalInWords).To(Equal(models.Text("INR Fifty-Two Thousand Fifteen Only")))
		})

		It("leaves unmatched labels empty", func() {
			raw := mapper.Map(&ocr.Document{Text: "Account #: n/a"})
			Expect(raw.Bank).To(Equal(models.BankDetails{}))
			Expect(raw.TotalInWords).To(BeEmpty())
		})
	})

	It("produces a record that reconciles end to end", func() {
		raw := mapper.Map(&ocr.Document{
			Text: taxInvoiceText,
			Entities: []ocr.Entity{
				{Type: EntityInvoiceID, MentionText: "INV-77"},
				{Type: EntityInvoiceDate, MentionText: "12 Nov 2024"},
				{Type: EntityReceiverName, MentionText: "Acme"},
			},
		})

		out := Validate(raw)
		Expect(out.Items).To(HaveLen(3))
		Expect(out.Subtotal).To(Equal(50500.0))
		Expect(out.TaxTotal).To(BeZero())
		Expect(out.Total).To(Equal(52015.0))
		Expect(out.Variance).To(Equal(1515.0))
		Expect(out.IsConsistent).To(BeFalse())
		Expect(out.MissingFields).To(BeEmpty())
	})
})

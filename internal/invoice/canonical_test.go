package invoice

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"invoicepipe/pkg/models"
)

var _ = Describe("ToCanonical", func() {
	var validated models.ValidatedInvoice

	BeforeEach(func() {
		validated = Validate(models.RawInvoice{
			InvoiceID: "INV-1",
			Date:      "12 Nov 2024",
			Customer:  models.Customer{Name: "Acme"},
			Bank:      models.BankDetails{BankName: "State Bank of India", IFSC: "SBIN0001234"},
			Items: []models.RawItem{
				{Name: "Widget", Quantity: models.NewValue(2.0), UnitPrice: models.NewValue(50.0), Tax: models.NewValue(10.0)},
				{Name: "Widget", Quantity: models.NewValue(2.0), UnitPrice: models.NewValue(50.0)},
			},
			Total: models.NewValue(210.0),
		})
	})

	It("copies the reconciled figures without recomputing them", func() {
		c := ToCanonical(validated)
		Expect(c.TotalAmount).To(Equal(validated.Total))
		Expect(c.TaxAmount).To(Equal(validated.TaxTotal))
		Expect(c.Variance).To(Equal(validated.Variance))
		Expect(c.IsConsistent).To(Equal(validated.IsConsistent))

		Expect(c.Items).To(HaveLen(2))
		Expect(c.Items[0].ItemName).To(Equal("Widget"))
		Expect(c.Items[0].Quantity).To(Equal(2.0))
		Expect(c.Items[0].UnitPrice).To(Equal(50.0))
		Expect(c.Items[0].TaxAmount).To(Equal(10.0))
		Expect(c.Items[0].Amount).To(Equal(100.0))
	})

	It("mirrors the invoice id into the serial number", func() {
		c := ToCanonical(validated)
		Expect(*c.InvoiceID).To(Equal("INV-1"))
		Expect(*c.SerialNumber).To(Equal("INV-1"))
	})

	It("renders empty text fields as null", func() {
		b, err := json.Marshal(ToCanonical(validated))
		Expect(err).NotTo(HaveOccurred())

		var doc map[string]any
		Expect(json.Unmarshal(b, &doc)).To(Succeed())
		Expect(doc).To(HaveKeyWithValue("customerName", "Acme"))
		Expect(doc).To(HaveKeyWithValue("customerPhone", BeNil()))
		Expect(doc).To(HaveKeyWithValue("totalInWords", BeNil()))
		Expect(doc["bankDetails"]).To(HaveKeyWithValue("bankName", "State Bank of India"))
		Expect(doc["bankDetails"]).To(HaveKeyWithValue("accountNumber", BeNil()))
		Expect(doc).To(HaveKeyWithValue("missingFields", BeEmpty()))
	})

	It("always emits a missingFields list", func() {
		c := ToCanonical(models.ValidatedInvoice{})
		Expect(c.MissingFields).NotTo(BeNil())
		Expect(c.Items).NotTo(BeNil())
		Expect(c.InvoiceID).To(BeNil())
		Expect(c.SerialNumber).To(BeNil())
	})

	Describe("product ids", func() {
		It("are stable across runs", func() {
			first := ToCanonical(validated)
			second := ToCanonical(Validate(validated.Raw()))
			Expect(first.Items[0].ProductID).To(Equal(second.Items[0].ProductID))
			Expect(first.Items[0].ProductID).To(MatchRegexp(`^[0-9a-f]{8}-[0-9a-f]{4}-5[0-9a-f]{3}-`))
		})

		It("differ for identical items at different positions", func() {
			c := ToCanonical(validated)
			Expect(c.Items[0].ProductID).NotTo(Equal(c.Items[1].ProductID))
		})

		It("change with the item content", func() {
			item := models.LineItem{Name: "Widget", Quantity: 1, UnitPrice: 5}
			other := item
			other.UnitPrice = 6
			Expect(ProductID(0, item)).NotTo(Equal(ProductID(0, other)))
		})
	})
})

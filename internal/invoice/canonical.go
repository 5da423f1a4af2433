package invoice

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"invoicepipe/pkg/models"
)

// productNamespace scopes generated item ids.
var productNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("invoicepipe/line-items"))

// ToCanonical projects a validated record onto the external schema. It performs no
// arithmetic; empty text fields become JSON null.
func ToCanonical(v models.ValidatedInvoice) models.CanonicalInvoice {
	items := make([]models.CanonicalItem, len(v.Items))
	for i, it := range v.Items {
		items[i] = models.CanonicalItem{
			ProductID: ProductID(i, it),
			ItemName:  it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			TaxAmount: it.Tax,
			Amount:    it.Amount,
		}
	}

	missing := v.MissingFields
	if missing == nil {
		missing = []string{}
	}

	return models.CanonicalInvoice{
		InvoiceID:     nullable(v.InvoiceID),
		SerialNumber:  nullable(v.InvoiceID),
		Date:          nullable(v.Date),
		IsConsistent:  v.IsConsistent,
		MissingFields: missing,
		Variance:      v.Variance,
		CustomerName:  nullable(string(v.Customer.Name)),
		CustomerPhone: nullable(string(v.Customer.Phone)),
		TotalAmount:   v.Total,
		TaxAmount:     v.TaxTotal,
		TotalInWords:  nullable(v.TotalInWords),
		BankDetails: models.CanonicalBankDetails{
			BankName:      nullable(string(v.Bank.BankName)),
			AccountNumber: nullable(string(v.Bank.AccountNumber)),
			IFSC:          nullable(string(v.Bank.IFSC)),
			Branch:        nullable(string(v.Bank.Branch)),
		},
		Items: items,
	}
}

// ProductID derives a display id from the item position and content. Identical input
// yields the same id on every run; equal items at different positions differ.
func ProductID(index int, item models.LineItem) string {
	key := strings.Join([]string{
		strconv.Itoa(index),
		item.Name,
		strconv.FormatFloat(item.Quantity, 'f', -1, 64),
		strconv.FormatFloat(item.UnitPrice, 'f', -1, 64),
	}, "|")
	return uuid.NewSHA1(productNamespace, []byte(key)).String()
}

func nullable(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

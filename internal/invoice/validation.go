package invoice

import (
	"strings"

	"github.com/shopspring/decimal"

	"invoicepipe/pkg/models"
)

// Tolerance is the largest declared-vs-computed total difference, in currency units,
// that still counts as consistent. The comparison is strict.
const Tolerance = 1.0

// Missing field tags, in reporting order.
const (
	FieldInvoiceID    = "invoiceId"
	FieldDate         = "date"
	FieldCustomerName = "customerName"
	FieldItems        = "items"
)

var sentinelTokens = map[string]struct{}{
	"":        {},
	"unknown": {},
	"null":    {},
	"none":    {},
	"n/a":     {},
}

var tolerance = decimal.NewFromFloat(Tolerance)

// IsMissing reports whether an extracted value is absent or one of the "unknown" sentinels.
func IsMissing(value string) bool {
	_, ok := sentinelTokens[strings.ToLower(strings.TrimSpace(value))]
	return ok
}

// Validate reconciles a raw record: it standardizes items, derives subtotal and tax
// from them, checks the declared total and lists missing fields. It has no side effects.
func Validate(raw models.RawInvoice) models.ValidatedInvoice {
	items := make([]models.LineItem, 0, len(raw.Items))
	subtotal := decimal.Zero
	taxTotal := decimal.Zero

	for _, it := range raw.Items {
		name := strings.TrimSpace(string(it.Name))
		if name == "" {
			continue
		}

		qty := itemQuantity(it)
		unitPrice := ParseNumberOrDefault(it.UnitPrice, 0)
		tax := ParseNumberOrDefault(it.Tax, 0)

		amount := qty * unitPrice
		if !finite(amount) {
			amount = 0
		}
		priceWithTax := amount + tax
		if !finite(priceWithTax) {
			priceWithTax = amount
		}

		items = append(items, models.LineItem{
			Name:         name,
			Quantity:     qty,
			UnitPrice:    unitPrice,
			Tax:          tax,
			Amount:       amount,
			PriceWithTax: priceWithTax,
		})

		subtotal = subtotal.Add(decimal.NewFromFloat(amount))
		taxTotal = taxTotal.Add(decimal.NewFromFloat(tax))
	}

	subtotal = subtotal.Round(2)
	taxTotal = taxTotal.Round(2)
	computed := subtotal.Add(taxTotal)

	out := models.ValidatedInvoice{
		InvoiceID:    string(raw.InvoiceID),
		Date:         string(raw.Date),
		Customer:     raw.Customer,
		Bank:         raw.Bank,
		TotalInWords: string(raw.TotalInWords),
		Items:        items,
		Subtotal:     subtotal.InexactFloat64(),
		TaxTotal:     taxTotal.InexactFloat64(),
		Error:        raw.Error,
	}

	variance := decimal.Zero
	if declared := ParseNumberOrDefault(raw.Total, 0); declared > 0 {
		out.Total = declared
		variance = decimal.NewFromFloat(declared).Sub(computed).Abs().Round(2)
	} else {
		out.Total = computed.InexactFloat64()
	}
	// Consistency is judged on the reported, rounded variance.
	out.Variance = variance.InexactFloat64()
	out.IsConsistent = variance.LessThan(tolerance)
	out.MissingFields = missingFields(raw, len(items))

	return out
}

// itemQuantity reads "quantity", then "qty". Zero, negative or unparsable quantities become 1.
func itemQuantity(it models.RawItem) float64 {
	qty := ParseNumberOrDefault(it.Quantity, 0)
	if qty == 0 {
		qty = ParseNumberOrDefault(it.Qty, 0)
	}
	if qty <= 0 {
		return 1.0
	}
	return qty
}

func missingFields(raw models.RawInvoice, itemCount int) []string {
	missing := []string{}
	if IsMissing(string(raw.InvoiceID)) {
		missing = append(missing, FieldInvoiceID)
	}
	if IsMissing(string(raw.Date)) {
		missing = append(missing, FieldDate)
	}
	if IsMissing(string(raw.Customer.Name)) {
		missing = append(missing, FieldCustomerName)
	}
	if itemCount == 0 {
		missing = append(missing, FieldItems)
	}
	return missing
}

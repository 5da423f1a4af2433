// Package models holds the invoice records passed between pipeline stages.
package models

import "encoding/json"

// Customer is the invoice receiver.
type Customer struct {
	Name  Text `json:"name"`
	Phone Text `json:"phone"`
}

// UnmarshalJSON accepts a bare string as the customer name.
func (c *Customer) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var name Text
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*c = Customer{Name: name}
		return nil
	}
	if len(data) == 0 || data[0] != '{' {
		*c = Customer{}
		return nil
	}

	type plain Customer
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = Customer(p)
	return nil
}

// BankDetails is the payee bank block printed on the invoice.
type BankDetails struct {
	BankName      Text `json:"bank_name"`
	AccountNumber Text `json:"account_number"`
	IFSC          Text `json:"ifsc"`
	Branch        Text `json:"branch"`
}

// UnmarshalJSON also accepts the short keys "name" and "account".
func (b *BankDetails) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || data[0] != '{' {
		*b = BankDetails{}
		return nil
	}

	type plain BankDetails
	var aux struct {
		plain
		Name    Text `json:"name"`
		Account Text `json:"account"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*b = BankDetails(aux.plain)
	if b.BankName == "" {
		b.BankName = aux.Name
	}
	if b.AccountNumber == "" {
		b.AccountNumber = aux.Account
	}
	return nil
}

// RawItem is a line item as declared by an extractor. Any field may be absent or inconsistent.
type RawItem struct {
	Name      Text  `json:"name"`
	Quantity  Value `json:"quantity,omitzero"`
	Qty       Value `json:"qty,omitzero"`
	UnitPrice Value `json:"unit_price,omitzero"`
	Tax       Value `json:"tax,omitzero"`
	Total     Value `json:"total,omitzero"`
	TaxRate   Value `json:"tax_rate,omitzero"`
	Discount  Value `json:"discount,omitzero"`
}

// RawInvoice is the untrusted intermediate record produced by the tabular normalizer,
// the document entity mapper or the model-backed document normalizer.
type RawInvoice struct {
	InvoiceID    Text        `json:"invoice_id"`
	Date         Text        `json:"date"`
	Customer     Customer    `json:"customer"`
	Bank         BankDetails `json:"bank"`
	TotalInWords Text        `json:"total_in_words"`
	Items        []RawItem   `json:"items"`
	Subtotal     Value       `json:"subtotal,omitzero"`
	TaxTotal     Value       `json:"tax_total,omitzero"`
	Total        Value       `json:"total,omitzero"`

	// Error is set on sentinel records produced when model output could not be parsed.
	Error string `json:"error,omitempty"`
}

// UnmarshalJSON also accepts "amount_in_words" for TotalInWords.
func (r *RawInvoice) UnmarshalJSON(data []byte) error {
	type plain RawInvoice
	var aux struct {
		plain
		AmountInWords Text `json:"amount_in_words"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*r = RawInvoice(aux.plain)
	if r.TotalInWords == "" {
		r.TotalInWords = aux.AmountInWords
	}
	return nil
}

// LineItem is a reconciled line item. Amount is always Quantity * UnitPrice.
type LineItem struct {
	Name         string  `json:"name"`
	Quantity     float64 `json:"quantity"`
	UnitPrice    float64 `json:"unit_price"`
	Tax          float64 `json:"tax"`
	Amount       float64 `json:"amount"`
	PriceWithTax float64 `json:"price_with_tax"`
}

// ValidatedInvoice is the output of the reconciliation engine.
type ValidatedInvoice struct {
	InvoiceID    string      `json:"invoice_id"`
	Date         string      `json:"date"`
	Customer     Customer    `json:"customer"`
	Bank         BankDetails `json:"bank"`
	TotalInWords string      `json:"total_in_words"`
	Items        []LineItem  `json:"items"`

	// Subtotal and TaxTotal are derived from Items, never taken from the producer.
	Subtotal float64 `json:"subtotal"`
	TaxTotal float64 `json:"tax_total"`

	// Total is the declared total when positive, otherwise Subtotal + TaxTotal.
	Total    float64 `json:"total"`
	Variance float64 `json:"variance"`

	IsConsistent  bool     `json:"is_consistent"`
	MissingFields []string `json:"missing_fields"`

	Error string `json:"error,omitempty"`
}

// Raw converts the record back into producer form so it can be validated again.
func (v ValidatedInvoice) Raw() RawInvoice {
	items := make([]RawItem, len(v.Items))
	for i, it := range v.Items {
		items[i] = RawItem{
			Name:      Text(it.Name),
			Quantity:  NewValue(it.Quantity),
			UnitPrice: NewValue(it.UnitPrice),
			Tax:       NewValue(it.Tax),
			Total:     NewValue(it.PriceWithTax),
		}
	}

	return RawInvoice{
		InvoiceID:    Text(v.InvoiceID),
		Date:         Text(v.Date),
		Customer:     v.Customer,
		Bank:         v.Bank,
		TotalInWords: Text(v.TotalInWords),
		Items:        items,
		Subtotal:     NewValue(v.Subtotal),
		TaxTotal:     NewValue(v.TaxTotal),
		Total:        NewValue(v.Total),
		Error:        v.Error,
	}
}

package models

// CanonicalInvoice is the external, camelCase invoice schema returned to clients.
type CanonicalInvoice struct {
	InvoiceID     *string              `json:"invoiceId"`
	SerialNumber  *string              `json:"serialNumber"`
	Date          *string              `json:"date"`
	IsConsistent  bool                 `json:"isConsistent"`
	MissingFields []string             `json:"missingFields"`
	Variance      float64              `json:"variance"`
	CustomerName  *string              `json:"customerName"`
	CustomerPhone *string              `json:"customerPhone"`
	TotalAmount   float64              `json:"totalAmount"`
	TaxAmount     float64              `json:"taxAmount"`
	TotalInWords  *string              `json:"totalInWords"`
	BankDetails   CanonicalBankDetails `json:"bankDetails"`
	Items         []CanonicalItem      `json:"items"`
}

// CanonicalBankDetails is the bank block of a CanonicalInvoice.
type CanonicalBankDetails struct {
	BankName      *string `json:"bankName"`
	AccountNumber *string `json:"accountNumber"`
	IFSC          *string `json:"ifsc"`
	Branch        *string `json:"branch"`
}

// CanonicalItem is one line item of a CanonicalInvoice.
type CanonicalItem struct {
	// ProductID is a display key, stable across runs for identical content. Not a durable key.
	ProductID string  `json:"productId"`
	ItemName  string  `json:"itemName"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
	TaxAmount float64 `json:"taxAmount"`
	Amount    float64 `json:"amount"`
}

// Result statuses for batch entries.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ExtractResponse is returned for a single upload. Invoice is the first of Invoices.
type ExtractResponse struct {
	Invoice  *CanonicalInvoice  `json:"invoice"`
	Invoices []CanonicalInvoice `json:"invoices"`
}

// BatchResult is one entry of a batch response.
type BatchResult struct {
	Filename string            `json:"filename"`
	Invoice  *CanonicalInvoice `json:"invoice,omitempty"`
	Error    string            `json:"error,omitempty"`
	Status   string            `json:"status"`
}

// BatchResponse is returned for a batch upload.
type BatchResponse struct {
	Count   int           `json:"count"`
	Results []BatchResult `json:"results"`
}
